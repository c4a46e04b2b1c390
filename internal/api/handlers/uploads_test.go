package handlers

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/medialib/internal/admission"
	"github.com/your-org/medialib/internal/config"
	"github.com/your-org/medialib/internal/queue"
	"github.com/your-org/medialib/pkg/dto"
)

func uploadRouter(t *testing.T, stagingDir string) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	q := queue.New(queue.NewMemStore())
	monitor := admission.NewMonitor(admission.WithSampler(func() (admission.MemoryInfo, error) {
		return admission.MemoryInfo{Available: 8 << 30, Total: 16 << 30}, nil
	}))
	h := NewUploadHandler(q, monitor, config.UploadConfig{StagingDir: stagingDir, MaxFileSizeMB: 100})
	r := gin.New()
	r.POST("/v1/uploads/batch", h.UploadBatch)
	return r
}

type batchFile struct {
	name    string
	content string
}

func batchRequest(t *testing.T, files []batchFile) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("owner_id", "owner-1"))
	for _, f := range files {
		part, err := mw.CreateFormFile("files", f.name)
		require.NoError(t, err)
		_, err = part.Write([]byte(f.content))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, "/v1/uploads/batch", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestUploadBatchAcceptsEveryFile(t *testing.T) {
	r := uploadRouter(t, t.TempDir())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, batchRequest(t, []batchFile{
		{"a.jpg", "first payload"},
		{"b.jpg", "second payload"},
	}))

	assert.Equal(t, http.StatusAccepted, w.Code)
	var resp dto.BatchUploadResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Accepted, 2)
	assert.Empty(t, resp.Failed)
}

func TestUploadBatchReportsEachFailedFile(t *testing.T) {
	// A nonexistent staging dir sinks every file in the batch.
	r := uploadRouter(t, filepath.Join(t.TempDir(), "missing"))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, batchRequest(t, []batchFile{
		{"dup.jpg", "one"},
		{"dup.jpg", "two"},
		{"other.jpg", "three"},
	}))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	var resp dto.BatchUploadResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Empty(t, resp.Accepted)
	require.Len(t, resp.Failed, 3, "same-named files must stay distinct")
	assert.Equal(t, 0, resp.Failed[0].Index)
	assert.Equal(t, "dup.jpg", resp.Failed[0].FileName)
	assert.Equal(t, 1, resp.Failed[1].Index)
	assert.Equal(t, "dup.jpg", resp.Failed[1].FileName)
	assert.Equal(t, "other.jpg", resp.Failed[2].FileName)
}
