package api

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/fanarchive/internal/api/handlers"
	"github.com/your-org/fanarchive/internal/api/ws"
	"github.com/your-org/fanarchive/internal/auth"
	"github.com/your-org/fanarchive/internal/identify"
	"github.com/your-org/fanarchive/internal/progress"
	"github.com/your-org/fanarchive/internal/queue"
	"github.com/your-org/fanarchive/internal/storage"
	"github.com/your-org/fanarchive/internal/upload"
)

type RouterConfig struct {
	JWTSecret    []byte
	TokenTTL     time.Duration
	DB           *storage.PostgresStore
	MinIO        *storage.MinIOStore
	Producer     *queue.Producer
	Orchestrator *upload.Orchestrator
	Broadcaster  *progress.Broadcaster
	Gateway      identify.Gateway
	Chat         *identify.ChatClient
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware())
	r.Use(cors.Default())

	// System endpoints (no auth)
	systemH := handlers.NewSystemHandler(cfg.DB, cfg.MinIO, cfg.Producer)
	r.GET("/healthz", systemH.Healthz)
	r.GET("/readyz", systemH.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Auth endpoints (no auth required to obtain a token)
	authH := handlers.NewAuthHandler(cfg.DB, cfg.JWTSecret, cfg.TokenTTL)
	r.POST("/api/auth/register", authH.Register)
	r.POST("/api/auth/login", authH.Login)

	// Everything else requires a bearer token
	api := r.Group("/api")
	api.Use(auth.Middleware(cfg.JWTSecret, cfg.DB))

	api.GET("/auth/validate", authH.Validate)

	// Upload pipeline + progress stream
	uploadH := handlers.NewUploadHandler(cfg.Orchestrator)
	wsH := ws.NewHandler(cfg.Broadcaster)
	api.POST("/idols/upload", uploadH.Upload)
	api.GET("/idols/progress/:sessionID", wsH.HandleProgress)

	// Images & galleries
	imageH := handlers.NewImageHandler(cfg.DB, cfg.MinIO)
	api.GET("/idols/images", imageH.ListByIdol)
	api.GET("/idols/images/verified", imageH.ListVerified)
	api.DELETE("/idols/images/:id", imageH.Delete)
	api.GET("/gallery/mine", imageH.MyGallery)
	api.GET("/gallery/mine/idol", imageH.MyIdolGallery)
	api.GET("/gallery/group", imageH.GroupGallery)
	api.GET("/gallery/group/all", imageH.AllGroupGalleries)

	// Group identities
	groupH := handlers.NewGroupIdolHandler(cfg.DB)
	api.GET("/group-idols", groupH.List)
	api.GET("/group-idols/by-group", groupH.ListByGroup)
	api.GET("/group-idols/by-idol", groupH.ListByIdol)
	api.GET("/group-idols/specific", groupH.Specific)
	api.POST("/group-idols/find-or-create", groupH.FindOrCreate)

	// Direct identification access
	identifyH := handlers.NewIdentifyHandler(cfg.Gateway, cfg.Chat)
	api.POST("/images/identify", identifyH.IdentifyURL)
	api.POST("/images/upload-and-identify", identifyH.UploadAndIdentify)
	api.POST("/chat/ask", identifyH.Ask)

	return r
}
