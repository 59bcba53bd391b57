package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	UploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fa",
		Name:      "uploads_total",
		Help:      "Total number of upload pipelines run, by outcome",
	}, []string{"outcome"})

	PipelineStageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "fa",
		Name:      "pipeline_stage_duration_seconds",
		Help:      "Duration of upload pipeline stages",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
	}, []string{"stage"})

	IdentificationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "fa",
		Name:      "identification_duration_seconds",
		Help:      "Duration of a single identification gateway call",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
	})

	DuplicatesDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fa",
		Name:      "duplicates_detected_total",
		Help:      "Fingerprint collisions that aborted an upload batch",
	}, []string{"kind"})

	ImagesArchived = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "fa",
		Name:      "images_archived_total",
		Help:      "Images accepted into the shared group archive",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "fa",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "fa",
		Name:      "ws_connections",
		Help:      "Number of active progress WebSocket connections",
	})
)
