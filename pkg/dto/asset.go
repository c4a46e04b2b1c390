package dto

import (
	"encoding/json"

	"github.com/google/uuid"
)

type AssetResponse struct {
	ID               uuid.UUID       `json:"id"`
	OwnerID          string          `json:"owner_id"`
	Type             string          `json:"type"`
	OriginalFilename string          `json:"original_filename"`
	MimeType         string          `json:"mime_type"`
	SizeBytes        int64           `json:"size_bytes"`
	Hash             string          `json:"hash"`
	Width            *int32          `json:"width,omitempty"`
	Height           *int32          `json:"height,omitempty"`
	DurationSeconds  *float64        `json:"duration_seconds,omitempty"`
	UploadedAt       string          `json:"uploaded_at"`
	CapturedAt       string          `json:"captured_at,omitempty"`
	Metadata         json.RawMessage `json:"metadata,omitempty"`
	Status           StatusResponse  `json:"status"`
	Thumbnails       []ThumbnailInfo `json:"thumbnails,omitempty"`
}

type ThumbnailInfo struct {
	Size   string `json:"size"`
	Path   string `json:"path"`
	Width  int32  `json:"width"`
	Height int32  `json:"height"`
}

type StatusResponse struct {
	State        string        `json:"state"`
	Message      string        `json:"message"`
	Errors       []StatusError `json:"errors,omitempty"`
	PendingTasks []string      `json:"pending_tasks,omitempty"`
	UpdatedAt    string        `json:"updated_at"`
}

type StatusError struct {
	Task  string `json:"task"`
	Error string `json:"error"`
	Time  string `json:"time"`
}

// UploadAccepted is returned from POST /v1/uploads once the ingest job is
// durably queued.
type UploadAccepted struct {
	JobID     uuid.UUID `json:"job_id"`
	Duplicate bool      `json:"duplicate"`
	FileName  string    `json:"file_name"`
}

// BatchUploadFailure reports one rejected file out of a batch. Index is the
// file's position in the request, so entries stay distinct when a batch
// carries several files with the same name.
type BatchUploadFailure struct {
	Index    int    `json:"index"`
	FileName string `json:"file_name"`
	Error    string `json:"error"`
}

type BatchUploadResponse struct {
	Accepted []UploadAccepted     `json:"accepted"`
	Failed   []BatchUploadFailure `json:"failed,omitempty"`
}

type RetryRequest struct {
	Tasks          []string `json:"tasks,omitempty"`
	ForceFullRetry bool     `json:"force_full_retry,omitempty"`
}

type RetryAccepted struct {
	JobID     uuid.UUID `json:"job_id"`
	Duplicate bool      `json:"duplicate"`
}

type ChunkConfigResponse struct {
	ChunkSizeBytes       int64 `json:"chunk_size_bytes"`
	MaxConcurrentUploads int   `json:"max_concurrent_uploads"`
	MemoryBufferBytes    int64 `json:"memory_buffer_bytes"`
}
