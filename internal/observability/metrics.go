package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "medialib",
		Name:      "jobs_processed_total",
		Help:      "Total number of queue jobs processed",
	}, []string{"kind", "outcome"})

	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "medialib",
		Name:      "job_duration_seconds",
		Help:      "Duration of queue job execution",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
	}, []string{"kind"})

	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "medialib",
		Name:      "queue_depth",
		Help:      "Number of pending jobs per kind",
	}, []string{"kind"})

	AssetsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "medialib",
		Name:      "assets_ingested_total",
		Help:      "Total number of assets created by the ingest stage",
	}, []string{"type"})

	StageErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "medialib",
		Name:      "stage_errors_total",
		Help:      "Total number of enrichment task failures recorded on assets",
	}, []string{"task"})

	UploadsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "medialib",
		Name:      "uploads_rejected_total",
		Help:      "Total number of uploads rejected by memory admission control",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "medialib",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})
)
