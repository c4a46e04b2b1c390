package handlers

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zeebo/blake3"

	"github.com/your-org/medialib/internal/admission"
	"github.com/your-org/medialib/internal/config"
	"github.com/your-org/medialib/internal/observability"
	"github.com/your-org/medialib/internal/queue"
	"github.com/your-org/medialib/internal/taskgroup"
	"github.com/your-org/medialib/pkg/dto"
)

type UploadHandler struct {
	queue   *queue.Queue
	monitor *admission.Monitor
	cfg     config.UploadConfig
}

func NewUploadHandler(q *queue.Queue, monitor *admission.Monitor, cfg config.UploadConfig) *UploadHandler {
	return &UploadHandler{queue: q, monitor: monitor, cfg: cfg}
}

// Upload accepts one multipart file, stages it to local disk and durably
// enqueues the ingest job. The 202 means the upload will be processed, not
// that it has been.
func (h *UploadHandler) Upload(c *gin.Context) {
	ownerID := c.PostForm("owner_id")
	if ownerID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "owner_id is required"})
		return
	}

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	defer file.Close()

	if reason, code := h.admit(header.Size); code != 0 {
		c.JSON(code, gin.H{"error": reason})
		return
	}

	accepted, err := h.stageAndEnqueue(c, ownerID, c.PostForm("client_hash"), file, header)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, accepted)
}

// UploadBatch accepts several files in one request. Each file is staged and
// enqueued independently; one broken file does not reject its siblings.
func (h *UploadHandler) UploadBatch(c *gin.Context) {
	ownerID := c.PostForm("owner_id")
	if ownerID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "owner_id is required"})
		return
	}

	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	files := form.File["files"]
	if len(files) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no files provided"})
		return
	}

	var total int64
	for _, header := range files {
		total += header.Size
	}
	if reason, code := h.admit(total); code != 0 {
		c.JSON(code, gin.H{"error": reason})
		return
	}

	var mu sync.Mutex
	accepted := make([]dto.UploadAccepted, 0, len(files))

	g := taskgroup.New()
	for _, header := range files {
		header := header
		g.Go(func() error {
			file, err := header.Open()
			if err != nil {
				return fmt.Errorf("%s: %w", header.Filename, err)
			}
			defer file.Close()

			result, err := h.stageAndEnqueue(c, ownerID, "", file, header)
			if err != nil {
				return fmt.Errorf("%s: %w", header.Filename, err)
			}
			mu.Lock()
			accepted = append(accepted, result)
			mu.Unlock()
			return nil
		})
	}

	var resp dto.BatchUploadResponse
	if failed := g.WaitWithResults(); len(failed) > 0 {
		resp.Failed = make([]dto.BatchUploadFailure, 0, len(failed))
		for i, err := range failed {
			resp.Failed = append(resp.Failed, dto.BatchUploadFailure{
				Index:    i,
				FileName: files[i].Filename,
				Error:    err.Error(),
			})
		}
		sort.Slice(resp.Failed, func(a, b int) bool { return resp.Failed[a].Index < resp.Failed[b].Index })
	}
	resp.Accepted = accepted

	status := http.StatusAccepted
	if len(resp.Accepted) == 0 {
		status = http.StatusInternalServerError
	}
	c.JSON(status, resp)
}

// admit applies the size cap and the memory admission check. A zero code
// means the upload may proceed.
func (h *UploadHandler) admit(size int64) (string, int) {
	if maxBytes := h.cfg.MaxFileSizeMB * 1024 * 1024; size > maxBytes {
		return fmt.Sprintf("file exceeds %d MB limit", h.cfg.MaxFileSizeMB), http.StatusRequestEntityTooLarge
	}
	if ok, reason := h.monitor.CanAcceptNewUpload(size); !ok {
		observability.UploadsRejected.Inc()
		return reason, http.StatusServiceUnavailable
	}
	return "", 0
}

func (h *UploadHandler) stageAndEnqueue(
	c *gin.Context,
	ownerID, clientHash string,
	file multipart.File,
	header *multipart.FileHeader,
) (dto.UploadAccepted, error) {
	staged, err := os.CreateTemp(h.cfg.StagingDir, "upload-*"+filepath.Ext(header.Filename))
	if err != nil {
		return dto.UploadAccepted{}, fmt.Errorf("create staging file: %w", err)
	}

	hasher := blake3.New()
	if _, err := io.Copy(io.MultiWriter(staged, hasher), file); err != nil {
		staged.Close()
		os.Remove(staged.Name())
		return dto.UploadAccepted{}, fmt.Errorf("stage upload: %w", err)
	}
	if err := staged.Close(); err != nil {
		os.Remove(staged.Name())
		return dto.UploadAccepted{}, fmt.Errorf("close staging file: %w", err)
	}

	// Without a declared hash the server-computed one stands in, which makes
	// the later validation a self-check of the staging copy.
	if clientHash == "" {
		clientHash = fmt.Sprintf("%x", hasher.Sum(nil))
	}

	contentType := header.Header.Get("Content-Type")
	handle, err := h.queue.Submit(c.Request.Context(), queue.IngestArgs{
		ClientHash:  clientHash,
		StagedPath:  staged.Name(),
		UserID:      ownerID,
		Timestamp:   time.Now().UTC(),
		ContentType: contentType,
		FileName:    header.Filename,
	})
	if err != nil {
		os.Remove(staged.Name())
		return dto.UploadAccepted{}, fmt.Errorf("enqueue ingest: %w", err)
	}
	if handle.Duplicate {
		// The live job already has its own staged copy.
		os.Remove(staged.Name())
	}

	return dto.UploadAccepted{
		JobID:     handle.ID,
		Duplicate: handle.Duplicate,
		FileName:  header.Filename,
	}, nil
}
