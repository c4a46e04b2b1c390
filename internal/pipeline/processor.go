// Package pipeline contains the per-asset orchestrator and the enrichment
// stage handlers. The ingest handler creates the asset and fans out one job
// per planned stage; each stage merges its result into the asset row and
// resolves its task in the status document. Handlers are idempotent because
// the queue delivers at least once.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"

	"github.com/your-org/medialib/internal/config"
	"github.com/your-org/medialib/internal/ml"
	"github.com/your-org/medialib/internal/models"
	"github.com/your-org/medialib/internal/observability"
	"github.com/your-org/medialib/internal/queue"
	"github.com/your-org/medialib/internal/storage"
)

// AssetStore is the persistence surface the pipeline needs.
type AssetStore interface {
	CreateAsset(ctx context.Context, a *models.Asset) error
	GetAsset(ctx context.Context, id uuid.UUID) (*models.Asset, error)
	FindByHashAndOwner(ctx context.Context, hash, ownerID string) (*models.Asset, error)
	ResolveTask(ctx context.Context, id uuid.UUID, task string) (models.AssetStatus, error)
	FailTask(ctx context.Context, id uuid.UUID, task, message string) (models.AssetStatus, error)
	SetPendingTasks(ctx context.Context, id uuid.UUID, tasks []string, message string) error
	UpdateDimensions(ctx context.Context, id uuid.UUID, width, height int32) error
	UpdateDuration(ctx context.Context, id uuid.UUID, seconds float64) error
	SetCapturedAt(ctx context.Context, id uuid.UUID, capturedAt time.Time) error
	MergeMetadata(ctx context.Context, id uuid.UUID, fields map[string]any) error
	SaveThumbnail(ctx context.Context, t *models.Thumbnail) error
	SaveEmbedding(ctx context.Context, assetID uuid.UUID, vector []float32) error
}

// BlobStore holds originals and derived artifacts.
type BlobStore interface {
	Put(ctx context.Context, path string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	Delete(ctx context.Context, path string) error
}

// Inference is the remote ML service.
type Inference interface {
	Embed(ctx context.Context, assetID string, image []byte) ([]float32, error)
	OCR(ctx context.Context, assetID string, image []byte) (string, error)
	Caption(ctx context.Context, assetID string, image []byte, prompt string) (string, error)
	DetectFaces(ctx context.Context, assetID string, image []byte) ([]ml.FaceBox, error)
}

// Submitter enqueues follow-up jobs.
type Submitter interface {
	Submit(ctx context.Context, args queue.Args, opts ...queue.SubmitOption) (*queue.JobHandle, error)
}

type Processor struct {
	assets AssetStore
	blobs  BlobStore
	infer  Inference
	jobs   Submitter
	mlCfg  config.MLConfig
}

func New(assets AssetStore, blobs BlobStore, infer Inference, jobs Submitter, mlCfg config.MLConfig) *Processor {
	return &Processor{
		assets: assets,
		blobs:  blobs,
		infer:  infer,
		jobs:   jobs,
		mlCfg:  mlCfg,
	}
}

// Register binds every pipeline handler to its queue kind.
func (p *Processor) Register(q *queue.Queue, cfg config.PipelineConfig) {
	q.RegisterWorker(queue.KindIngest, queue.WorkerOptions{
		Concurrency: cfg.IngestConcurrency,
		MaxAttempts: cfg.MaxAttempts,
	}, queue.Handler(p.HandleIngest))

	q.RegisterWorker(queue.KindMetadata, queue.WorkerOptions{
		Concurrency: cfg.MetadataConcurrency,
		MaxAttempts: cfg.MaxAttempts,
		Timeout:     cfg.MetadataTimeout,
	}, stageHandler(p, p.HandleMetadata))

	q.RegisterWorker(queue.KindThumbnail, queue.WorkerOptions{
		Concurrency: cfg.ThumbnailConcurrency,
		MaxAttempts: cfg.MaxAttempts,
		Timeout:     cfg.ThumbnailTimeout,
	}, stageHandler(p, p.HandleThumbnail))

	q.RegisterWorker(queue.KindTranscode, queue.WorkerOptions{
		Concurrency: cfg.TranscodeConcurrency,
		MaxAttempts: cfg.MaxAttempts,
		Timeout:     cfg.TranscodeTimeout,
	}, stageHandler(p, p.HandleTranscode))

	mlOpts := queue.WorkerOptions{
		Concurrency: cfg.MLConcurrency,
		MaxAttempts: cfg.MaxAttempts,
		Timeout:     cfg.MLTimeout,
	}
	q.RegisterWorker(queue.KindClip, mlOpts, stageHandler(p, p.HandleClip))
	q.RegisterWorker(queue.KindOCR, mlOpts, stageHandler(p, p.HandleOCR))
	q.RegisterWorker(queue.KindCaption, mlOpts, stageHandler(p, p.HandleCaption))
	q.RegisterWorker(queue.KindFace, mlOpts, stageHandler(p, p.HandleFace))

	q.RegisterWorker(queue.KindRetry, queue.WorkerOptions{
		Concurrency: cfg.RetryConcurrency,
		MaxAttempts: cfg.MaxAttempts,
	}, queue.Handler(p.HandleRetry))
}

// stageHandler adapts a typed stage handler, converting a panic into a
// classified stage failure. Without it a panicked stage skips the handler's
// own ledger write, so a job the queue then discards would leave the asset
// stuck in processing with nothing in its error ledger.
func stageHandler[T queue.StageArgs](p *Processor, fn func(ctx context.Context, job *queue.Job, args T) error) queue.HandlerFunc {
	return queue.Handler(func(ctx context.Context, job *queue.Job, args T) (err error) {
		defer func() {
			if r := recover(); r != nil {
				// The ledger write must land even when the panic raced the
				// stage timeout.
				err = p.stageFailure(context.WithoutCancel(ctx), job, args.Asset(),
					string(job.Kind), fmt.Errorf("handler panicked: %v", r))
			}
		}()
		return fn(ctx, job, args)
	})
}

// HandleIngest turns a staged upload into a tracked asset and enqueues its
// stage plan. Re-delivery after a partial run converges: the (hash, owner)
// lookup finds the existing asset and only re-submits its still-pending
// stages.
func (p *Processor) HandleIngest(ctx context.Context, job *queue.Job, args queue.IngestArgs) error {
	assetType, ok := models.AssetTypeFromMime(args.ContentType)
	if !ok {
		removeStaged(args.StagedPath)
		return queue.Permanent(fmt.Errorf("unsupported content type %q", args.ContentType))
	}

	existing, err := p.assets.FindByHashAndOwner(ctx, args.ClientHash, args.UserID)
	if err != nil {
		return err
	}
	if existing != nil {
		removeStaged(args.StagedPath)
		slog.Info("upload deduplicated onto existing asset",
			"asset_id", existing.ID, "owner_id", args.UserID)
		if existing.Status.State == models.StateProcessing && len(existing.PendingTasks) > 0 {
			var plan []queue.Args
			for _, task := range existing.PendingTasks {
				if stage, ok := stageArgsFor(existing, task); ok {
					plan = append(plan, stage)
				}
			}
			return p.enqueueStages(ctx, plan)
		}
		return nil
	}

	f, err := os.Open(args.StagedPath)
	if err != nil {
		if os.IsNotExist(err) {
			return queue.Permanent(fmt.Errorf("staged file gone: %w", err))
		}
		return fmt.Errorf("open staged file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat staged file: %w", err)
	}

	hasher := blake3.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return fmt.Errorf("hash staged file: %w", err)
	}
	serverHash := fmt.Sprintf("%x", hasher.Sum(nil))
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind staged file: %w", err)
	}

	asset := &models.Asset{
		ID:               uuid.New(),
		OwnerID:          args.UserID,
		Type:             assetType,
		OriginalFilename: args.FileName,
		MimeType:         args.ContentType,
		SizeBytes:        info.Size(),
		Hash:             args.ClientHash,
		UploadedAt:       args.Timestamp,
		Status:           models.NewProcessingStatus("ingest accepted"),
	}
	asset.StoragePath = fmt.Sprintf("originals/%s%s", asset.ID, filepath.Ext(args.FileName))

	// A hash mismatch means the bytes on disk are not what the client sent.
	// The asset is created anyway so the failure is visible and attributable.
	if serverHash != args.ClientHash {
		asset.Hash = serverHash
		asset.Status.RecordFailure(models.TaskInitialValidation,
			fmt.Sprintf("content hash mismatch: declared %s, stored %s", args.ClientHash, serverHash))
		removeStaged(args.StagedPath)
		if err := p.assets.CreateAsset(ctx, asset); err != nil {
			return fmt.Errorf("create asset: %w", err)
		}
		observability.StageErrors.WithLabelValues(models.TaskInitialValidation).Inc()
		slog.Warn("upload failed validation", "asset_id", asset.ID, "owner_id", args.UserID)
		return nil
	}

	if err := p.blobs.Put(ctx, asset.StoragePath, f, info.Size(), args.ContentType); err != nil {
		return fmt.Errorf("store original: %w", err)
	}

	plan := planStages(asset, p.mlCfg)
	asset.PendingTasks = tasksFor(plan)

	if err := p.assets.CreateAsset(ctx, asset); err != nil {
		p.blobs.Delete(ctx, asset.StoragePath)
		return fmt.Errorf("create asset: %w", err)
	}

	removeStaged(args.StagedPath)
	observability.AssetsIngested.WithLabelValues(string(assetType)).Inc()
	slog.Info("asset ingested",
		"asset_id", asset.ID, "type", assetType, "size_bytes", asset.SizeBytes,
		"stages", asset.PendingTasks)

	return p.enqueueStages(ctx, plan)
}

func (p *Processor) enqueueStages(ctx context.Context, plan []queue.Args) error {
	for _, stage := range plan {
		if _, err := p.jobs.Submit(ctx, stage); err != nil {
			return fmt.Errorf("enqueue %s stage: %w", stage.Kind(), err)
		}
	}
	return nil
}

func removeStaged(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		slog.Warn("remove staged file", "path", path, "error", err)
	}
}

// loadStageAsset fetches the asset a stage is about to work on. The second
// return is false when the stage should silently skip: the asset was soft
// deleted, or a fatal failure already short-circuited its siblings.
func (p *Processor) loadStageAsset(ctx context.Context, id uuid.UUID) (*models.Asset, bool, error) {
	a, err := p.assets.GetAsset(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrAssetNotFound) {
			return nil, false, queue.Permanent(err)
		}
		return nil, false, err
	}
	if a.DeletedAt != nil {
		slog.Debug("skipping stage for deleted asset", "asset_id", id)
		return nil, false, nil
	}
	if a.Status.State == models.StateFailed {
		slog.Debug("skipping stage for failed asset", "asset_id", id)
		return nil, false, nil
	}
	return a, true, nil
}

// recordFailure writes the task failure into the asset's error ledger.
func (p *Processor) recordFailure(ctx context.Context, id uuid.UUID, task string, err error) {
	observability.StageErrors.WithLabelValues(task).Inc()
	if _, ferr := p.assets.FailTask(ctx, id, task, err.Error()); ferr != nil {
		slog.Error("record task failure", "asset_id", id, "task", task, "error", ferr)
	}
}

// stageFailure classifies a stage error. Fatal tasks are recorded immediately
// and stop the job; transient failures are only written to the ledger once
// the last attempt is burned, so the status does not flap while the queue
// backs off.
func (p *Processor) stageFailure(ctx context.Context, job *queue.Job, id uuid.UUID, task string, err error) error {
	if models.IsFatalTask(task) {
		p.recordFailure(ctx, id, task, err)
		return queue.Permanent(err)
	}
	if job.FinalAttempt() {
		p.recordFailure(ctx, id, task, err)
	}
	return err
}

func (p *Processor) resolveStage(ctx context.Context, id uuid.UUID, task string) error {
	st, err := p.assets.ResolveTask(ctx, id, task)
	if err != nil {
		return fmt.Errorf("resolve task %s: %w", task, err)
	}
	if st.State != models.StateProcessing {
		slog.Info("asset finalized", "asset_id", id, "state", st.State)
	}
	return nil
}

// readOriginal loads the original object fully into memory. Only used for
// photos, which are bounded; video and audio stages stream to a temp file
// instead.
func (p *Processor) readOriginal(ctx context.Context, path string) ([]byte, error) {
	r, err := p.blobs.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", path, err)
	}
	return data, nil
}

// downloadOriginal copies the original to a local temp file for tools that
// need a path on disk. The cleanup func removes it.
func (p *Processor) downloadOriginal(ctx context.Context, path string) (string, func(), error) {
	r, err := p.blobs.Get(ctx, path)
	if err != nil {
		return "", nil, err
	}
	defer r.Close()

	tmp, err := os.CreateTemp("", "medialib-*"+filepath.Ext(path))
	if err != nil {
		return "", nil, fmt.Errorf("create temp file: %w", err)
	}
	cleanup := func() { os.Remove(tmp.Name()) }

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		cleanup()
		return "", nil, fmt.Errorf("download object %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("close temp file: %w", err)
	}
	return tmp.Name(), cleanup, nil
}

// failTaskFor picks the task name a stage error should be recorded under. A
// missing original is the fatal file_read condition regardless of which stage
// tripped over it.
func failTaskFor(err error, stageTask string) string {
	if errors.Is(err, storage.ErrObjectNotFound) {
		return models.TaskFileRead
	}
	return stageTask
}
