package queue

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/medialib/internal/models"
)

// Kind identifies a job type. There is exactly one worker registration per
// kind, and for enrichment stages the kind doubles as the canonical task name
// recorded in the asset status ledger.
type Kind string

const (
	KindIngest    Kind = "ingest"
	KindMetadata  Kind = Kind(models.TaskMetadata)
	KindThumbnail Kind = Kind(models.TaskThumbnail)
	KindTranscode Kind = Kind(models.TaskTranscode)
	KindClip      Kind = Kind(models.TaskClip)
	KindOCR       Kind = Kind(models.TaskOCR)
	KindCaption   Kind = Kind(models.TaskCaption)
	KindFace      Kind = Kind(models.TaskFace)
	KindRetry     Kind = "retry"
)

// Args is a typed job payload. Implementations are owned by this package so
// that producers and workers share one definition per kind.
type Args interface {
	Kind() Kind
}

// StageArgs is implemented by the enrichment stage payloads, which all
// operate on one already-created asset. Workers that need to attribute a
// failure to an asset without re-decoding the payload use Asset.
type StageArgs interface {
	Args
	Asset() uuid.UUID
}

// IngestArgs is the intake boundary payload. ClientHash plus UserID form the
// idempotency key so re-uploading an identical file collapses into one job.
type IngestArgs struct {
	ClientHash   string    `json:"clientHash"`
	StagedPath   string    `json:"stagedPath"`
	UserID       string    `json:"userId"`
	Timestamp    time.Time `json:"timestamp"`
	ContentType  string    `json:"contentType,omitempty"`
	FileName     string    `json:"fileName,omitempty"`
	RepositoryID string    `json:"repositoryId,omitempty"`
}

func (IngestArgs) Kind() Kind { return KindIngest }

func (a IngestArgs) UniqueKey() string {
	return fmt.Sprintf("%s:%s", a.ClientHash, a.UserID)
}

// MetadataArgs triggers EXIF/probe metadata extraction for one asset.
type MetadataArgs struct {
	AssetID          uuid.UUID        `json:"assetId"`
	StoragePath      string           `json:"storagePath"`
	AssetType        models.AssetType `json:"assetType"`
	OriginalFilename string           `json:"originalFilename,omitempty"`
	FileSize         int64            `json:"fileSize,omitempty"`
	MimeType         string           `json:"mimeType,omitempty"`
}

func (MetadataArgs) Kind() Kind { return KindMetadata }

func (a MetadataArgs) Asset() uuid.UUID { return a.AssetID }

// ThumbnailArgs triggers thumbnail generation for one asset.
type ThumbnailArgs struct {
	AssetID     uuid.UUID        `json:"assetId"`
	StoragePath string           `json:"storagePath"`
	AssetType   models.AssetType `json:"assetType"`
}

func (ThumbnailArgs) Kind() Kind { return KindThumbnail }

func (a ThumbnailArgs) Asset() uuid.UUID { return a.AssetID }

// TranscodeArgs triggers creation of a web-friendly rendition.
type TranscodeArgs struct {
	AssetID     uuid.UUID        `json:"assetId"`
	StoragePath string           `json:"storagePath"`
	AssetType   models.AssetType `json:"assetType"`
}

func (TranscodeArgs) Kind() Kind { return KindTranscode }

func (a TranscodeArgs) Asset() uuid.UUID { return a.AssetID }

// ProcessClipArgs carries the image bytes that cross the boundary to the
// remote inference service for embedding.
type ProcessClipArgs struct {
	AssetID     uuid.UUID `json:"assetId"`
	StoragePath string    `json:"storagePath"`
	ImageData   []byte    `json:"imageData,omitempty"`
}

func (ProcessClipArgs) Kind() Kind { return KindClip }

func (a ProcessClipArgs) Asset() uuid.UUID { return a.AssetID }

type ProcessOcrArgs struct {
	AssetID     uuid.UUID `json:"assetId"`
	StoragePath string    `json:"storagePath"`
	ImageData   []byte    `json:"imageData,omitempty"`
}

func (ProcessOcrArgs) Kind() Kind { return KindOCR }

func (a ProcessOcrArgs) Asset() uuid.UUID { return a.AssetID }

type ProcessCaptionArgs struct {
	AssetID      uuid.UUID `json:"assetId"`
	StoragePath  string    `json:"storagePath"`
	ImageData    []byte    `json:"imageData,omitempty"`
	CustomPrompt string    `json:"customPrompt,omitempty"`
}

func (ProcessCaptionArgs) Kind() Kind { return KindCaption }

func (a ProcessCaptionArgs) Asset() uuid.UUID { return a.AssetID }

type ProcessFaceArgs struct {
	AssetID     uuid.UUID `json:"assetId"`
	StoragePath string    `json:"storagePath"`
	ImageData   []byte    `json:"imageData,omitempty"`
}

func (ProcessFaceArgs) Kind() Kind { return KindFace }

func (a ProcessFaceArgs) Asset() uuid.UUID { return a.AssetID }

// AssetRetryPayload re-enters the status state machine. Empty RetryTasks
// means every task currently recorded as failed; ForceFullRetry re-runs the
// whole stage plan for the asset type.
type AssetRetryPayload struct {
	AssetID        string   `json:"assetId"`
	RetryTasks     []string `json:"retryTasks,omitempty"`
	ForceFullRetry bool     `json:"forceFullRetry,omitempty"`
}

func (AssetRetryPayload) Kind() Kind { return KindRetry }

// UniqueKey buckets retry submissions per asset per minute so accidental
// retry storms coalesce into one job instead of being rejected.
func (a AssetRetryPayload) UniqueKey() string {
	return fmt.Sprintf("retry:%s:%d", a.AssetID, time.Now().Unix()/60)
}
