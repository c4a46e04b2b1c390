package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/medialib/internal/models"
	"github.com/your-org/medialib/internal/queue"
	"github.com/your-org/medialib/internal/storage"
	"github.com/your-org/medialib/pkg/dto"
)

type AssetHandler struct {
	db    *storage.PostgresStore
	queue *queue.Queue
}

func NewAssetHandler(db *storage.PostgresStore, q *queue.Queue) *AssetHandler {
	return &AssetHandler{db: db, queue: q}
}

func (h *AssetHandler) lookup(c *gin.Context) (*models.Asset, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid asset id"})
		return nil, false
	}

	asset, err := h.db.GetAsset(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrAssetNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "asset not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return nil, false
	}
	if asset.DeletedAt != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "asset not found"})
		return nil, false
	}
	return asset, true
}

func (h *AssetHandler) Get(c *gin.Context) {
	asset, ok := h.lookup(c)
	if !ok {
		return
	}

	thumbs, err := h.db.ListThumbnails(c.Request.Context(), asset.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := dto.AssetResponse{
		ID:               asset.ID,
		OwnerID:          asset.OwnerID,
		Type:             string(asset.Type),
		OriginalFilename: asset.OriginalFilename,
		MimeType:         asset.MimeType,
		SizeBytes:        asset.SizeBytes,
		Hash:             asset.Hash,
		Width:            asset.Width,
		Height:           asset.Height,
		DurationSeconds:  asset.DurationSeconds,
		UploadedAt:       asset.UploadedAt.Format(time.RFC3339),
		Metadata:         asset.Metadata,
		Status:           statusResponse(asset),
	}
	if asset.CapturedAt != nil {
		resp.CapturedAt = asset.CapturedAt.Format(time.RFC3339)
	}
	for _, t := range thumbs {
		resp.Thumbnails = append(resp.Thumbnails, dto.ThumbnailInfo{
			Size:   t.Size,
			Path:   t.Path,
			Width:  t.Width,
			Height: t.Height,
		})
	}

	c.JSON(http.StatusOK, resp)
}

func (h *AssetHandler) Status(c *gin.Context) {
	asset, ok := h.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, statusResponse(asset))
}

// Retry schedules re-processing of failed tasks. Accepted means a retry job
// is queued; repeated requests inside the same minute coalesce.
func (h *AssetHandler) Retry(c *gin.Context) {
	asset, ok := h.lookup(c)
	if !ok {
		return
	}

	var req dto.RetryRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	if !asset.Status.IsRetryable() {
		c.JSON(http.StatusConflict, gin.H{
			"error": "asset is not in a retryable state",
			"state": asset.Status.State,
		})
		return
	}

	handle, err := h.queue.Submit(c.Request.Context(), queue.AssetRetryPayload{
		AssetID:        asset.ID.String(),
		RetryTasks:     req.Tasks,
		ForceFullRetry: req.ForceFullRetry,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, dto.RetryAccepted{
		JobID:     handle.ID,
		Duplicate: handle.Duplicate,
	})
}

func (h *AssetHandler) Delete(c *gin.Context) {
	asset, ok := h.lookup(c)
	if !ok {
		return
	}

	if err := h.db.SoftDeleteAsset(c.Request.Context(), asset.ID); err != nil {
		if errors.Is(err, storage.ErrAssetNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "asset not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.Status(http.StatusNoContent)
}

func statusResponse(asset *models.Asset) dto.StatusResponse {
	resp := dto.StatusResponse{
		State:        string(asset.Status.State),
		Message:      asset.Status.Message,
		PendingTasks: asset.PendingTasks,
		UpdatedAt:    asset.Status.UpdatedAt.Format(time.RFC3339),
	}
	for _, e := range asset.Status.Errors {
		resp.Errors = append(resp.Errors, dto.StatusError{
			Task:  e.Task,
			Error: e.Error,
			Time:  e.Time.Format(time.RFC3339),
		})
	}
	return resp
}
