package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/your-org/fanarchive/internal/api"
	"github.com/your-org/fanarchive/internal/config"
	"github.com/your-org/fanarchive/internal/identify"
	"github.com/your-org/fanarchive/internal/observability"
	"github.com/your-org/fanarchive/internal/progress"
	"github.com/your-org/fanarchive/internal/queue"
	"github.com/your-org/fanarchive/internal/storage"
	"github.com/your-org/fanarchive/internal/upload"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("starting fan-archive API service", "port", cfg.Server.Port)

	// Connect to Postgres
	db, err := storage.NewPostgresStore(cfg.Database)
	if err != nil {
		slog.Error("connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Connect to MinIO
	minioStore, err := storage.NewMinIOStore(cfg.MinIO)
	if err != nil {
		slog.Error("connect to minio", "error", err)
		os.Exit(1)
	}
	if err := minioStore.EnsureBucket(context.Background()); err != nil {
		slog.Warn("ensure minio bucket", "error", err)
	}

	// Connect to NATS
	producer, err := queue.NewProducer(cfg.NATS.URL)
	if err != nil {
		slog.Error("connect to nats", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	if err := producer.EnsureStream(context.Background()); err != nil {
		slog.Warn("ensure nats stream", "error", err)
	}

	// Identification gateway
	lens := identify.NewLensClient(cfg.Lens)
	chat := identify.NewChatClient(cfg.OpenAI)
	gateway := identify.NewService(lens, chat, minioStore, cfg.Upload.MaxFileSize)

	// Progress broadcaster + upload pipeline
	broadcaster := progress.NewBroadcasterWithTimeout(cfg.Upload.SubscriberTimeout)
	orchestrator := upload.NewOrchestrator(db, gateway, minioStore, broadcaster, producer, cfg.Upload.DuplicateThreshold)

	router := api.NewRouter(api.RouterConfig{
		JWTSecret:    []byte(cfg.Server.JWTSecret),
		TokenTTL:     cfg.Server.TokenTTL,
		DB:           db,
		MinIO:        minioStore,
		Producer:     producer,
		Orchestrator: orchestrator,
		Broadcaster:  broadcaster,
		Gateway:      gateway,
		Chat:         chat,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second, // uploads run identification inline
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("API server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down API server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("API server stopped")
}
