package api

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/medialib/internal/admission"
	"github.com/your-org/medialib/internal/api/handlers"
	"github.com/your-org/medialib/internal/auth"
	"github.com/your-org/medialib/internal/config"
	"github.com/your-org/medialib/internal/ml"
	"github.com/your-org/medialib/internal/queue"
	"github.com/your-org/medialib/internal/storage"
)

type RouterConfig struct {
	APIKey  string
	DB      *storage.PostgresStore
	MinIO   *storage.MinIOStore
	ML      *ml.Client
	Queue   *queue.Queue
	Monitor *admission.Monitor
	Upload  config.UploadConfig
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger())
	r.Use(cors.Default())

	// System endpoints (no auth)
	systemH := handlers.NewSystemHandler(cfg.DB, cfg.MinIO, cfg.ML, cfg.Monitor)
	r.GET("/healthz", systemH.Healthz)
	r.GET("/readyz", systemH.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1 (with auth)
	v1 := r.Group("/v1")
	v1.Use(auth.RequireAPIKey(cfg.APIKey))

	// Uploads
	uploadH := handlers.NewUploadHandler(cfg.Queue, cfg.Monitor, cfg.Upload)
	v1.POST("/uploads", uploadH.Upload)
	v1.POST("/uploads/batch", uploadH.UploadBatch)

	// Assets
	assetH := handlers.NewAssetHandler(cfg.DB, cfg.Queue)
	v1.GET("/assets/:id", assetH.Get)
	v1.GET("/assets/:id/status", assetH.Status)
	v1.POST("/assets/:id/retry", assetH.Retry)
	v1.DELETE("/assets/:id", assetH.Delete)

	// System
	v1.GET("/system/chunk-config", systemH.ChunkConfig)

	return r
}
