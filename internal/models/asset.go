package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type AssetType string

const (
	AssetTypePhoto AssetType = "PHOTO"
	AssetTypeVideo AssetType = "VIDEO"
	AssetTypeAudio AssetType = "AUDIO"
)

// AssetTypeFromMime maps a declared mime type to an asset type.
// Returns false for content the pipeline does not manage.
func AssetTypeFromMime(mimeType string) (AssetType, bool) {
	switch {
	case len(mimeType) >= 6 && mimeType[:6] == "image/":
		return AssetTypePhoto, true
	case len(mimeType) >= 6 && mimeType[:6] == "video/":
		return AssetTypeVideo, true
	case len(mimeType) >= 6 && mimeType[:6] == "audio/":
		return AssetTypeAudio, true
	default:
		return "", false
	}
}

// Asset is the central entity of the library: one managed media file plus
// everything derived from it. Rows are soft-deleted only.
type Asset struct {
	ID               uuid.UUID       `json:"id" db:"id"`
	OwnerID          string          `json:"owner_id" db:"owner_id"`
	Type             AssetType       `json:"type" db:"type"`
	OriginalFilename string          `json:"original_filename" db:"original_filename"`
	StoragePath      string          `json:"storage_path" db:"storage_path"`
	MimeType         string          `json:"mime_type" db:"mime_type"`
	SizeBytes        int64           `json:"size_bytes" db:"size_bytes"`
	Hash             string          `json:"hash" db:"hash"`
	Width            *int32          `json:"width,omitempty" db:"width"`
	Height           *int32          `json:"height,omitempty" db:"height"`
	DurationSeconds  *float64        `json:"duration_seconds,omitempty" db:"duration_seconds"`
	UploadedAt       time.Time       `json:"uploaded_at" db:"uploaded_at"`
	CapturedAt       *time.Time      `json:"captured_at,omitempty" db:"captured_at"`
	Metadata         json.RawMessage `json:"metadata" db:"metadata"`
	Status           AssetStatus     `json:"status" db:"status"`
	PendingTasks     []string        `json:"pending_tasks,omitempty" db:"pending_tasks"`
	DeletedAt        *time.Time      `json:"deleted_at,omitempty" db:"deleted_at"`
}

type Thumbnail struct {
	ID        uuid.UUID `json:"id" db:"id"`
	AssetID   uuid.UUID `json:"asset_id" db:"asset_id"`
	Size      string    `json:"size" db:"size"`
	Path      string    `json:"path" db:"path"`
	Width     int32     `json:"width" db:"width"`
	Height    int32     `json:"height" db:"height"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
