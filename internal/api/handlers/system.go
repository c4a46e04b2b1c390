package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/your-org/medialib/internal/admission"
	"github.com/your-org/medialib/internal/ml"
	"github.com/your-org/medialib/internal/storage"
	"github.com/your-org/medialib/pkg/dto"
)

type SystemHandler struct {
	db      *storage.PostgresStore
	minio   *storage.MinIOStore
	ml      *ml.Client
	monitor *admission.Monitor
}

func NewSystemHandler(db *storage.PostgresStore, minio *storage.MinIOStore, mlClient *ml.Client, monitor *admission.Monitor) *SystemHandler {
	return &SystemHandler{db: db, minio: minio, ml: mlClient, monitor: monitor}
}

func (h *SystemHandler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *SystemHandler) Readyz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	checks := map[string]string{}
	healthy := true

	if err := h.db.Ping(ctx); err != nil {
		checks["postgres"] = err.Error()
		healthy = false
	} else {
		checks["postgres"] = "ok"
	}

	if err := h.minio.Ping(ctx); err != nil {
		checks["minio"] = err.Error()
		healthy = false
	} else {
		checks["minio"] = "ok"
	}

	if h.ml != nil {
		if err := h.ml.Ping(); err != nil {
			checks["nats"] = err.Error()
			healthy = false
		} else {
			checks["nats"] = "ok"
		}
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, gin.H{
		"status": map[bool]string{true: "ready", false: "not ready"}[healthy],
		"checks": checks,
	})
}

// ChunkConfig tells clients how to shape their uploads given current memory
// pressure on the server.
func (h *SystemHandler) ChunkConfig(c *gin.Context) {
	cfg := h.monitor.GetOptimalChunkConfig()
	c.JSON(http.StatusOK, dto.ChunkConfigResponse{
		ChunkSizeBytes:       cfg.ChunkSize,
		MaxConcurrentUploads: cfg.MaxConcurrent,
		MemoryBufferBytes:    cfg.MemoryBuffer,
	})
}
