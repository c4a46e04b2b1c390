package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/your-org/medialib/internal/config"
	"github.com/your-org/medialib/internal/models"
)

var ErrAssetNotFound = errors.New("asset not found")

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(cfg config.DatabaseConfig) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// Pool exposes the connection pool so the job queue store can share it.
func (s *PostgresStore) Pool() *pgxpool.Pool { return s.pool }

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const assetColumns = `id, owner_id, type, original_filename, storage_path, mime_type,
	size_bytes, hash, width, height, duration_seconds, uploaded_at, captured_at,
	metadata, status, pending_tasks, deleted_at`

func scanAsset(row pgx.Row) (*models.Asset, error) {
	a := &models.Asset{}
	var statusJSON []byte
	err := row.Scan(&a.ID, &a.OwnerID, &a.Type, &a.OriginalFilename, &a.StoragePath,
		&a.MimeType, &a.SizeBytes, &a.Hash, &a.Width, &a.Height, &a.DurationSeconds,
		&a.UploadedAt, &a.CapturedAt, &a.Metadata, &statusJSON, &a.PendingTasks, &a.DeletedAt)
	if err != nil {
		return nil, err
	}
	a.Status, err = models.StatusFromJSONB(statusJSON)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (s *PostgresStore) CreateAsset(ctx context.Context, a *models.Asset) error {
	statusJSON, err := a.Status.MarshalJSONB()
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}
	if a.Metadata == nil {
		a.Metadata = json.RawMessage("{}")
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO assets (id, owner_id, type, original_filename, storage_path, mime_type,
			size_bytes, hash, uploaded_at, captured_at, metadata, status, pending_tasks)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		a.ID, a.OwnerID, a.Type, a.OriginalFilename, a.StoragePath, a.MimeType,
		a.SizeBytes, a.Hash, a.UploadedAt, a.CapturedAt, a.Metadata, statusJSON, a.PendingTasks)
	if err != nil {
		return fmt.Errorf("create asset: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetAsset(ctx context.Context, id uuid.UUID) (*models.Asset, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+assetColumns+` FROM assets WHERE id = $1`, id)
	a, err := scanAsset(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrAssetNotFound
		}
		return nil, fmt.Errorf("get asset: %w", err)
	}
	return a, nil
}

// FindByHashAndOwner returns nil when no live asset matches.
func (s *PostgresStore) FindByHashAndOwner(ctx context.Context, hash, ownerID string) (*models.Asset, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+assetColumns+` FROM assets WHERE hash = $1 AND owner_id = $2 AND deleted_at IS NULL`,
		hash, ownerID)
	a, err := scanAsset(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("find asset by hash: %w", err)
	}
	return a, nil
}

// mutateStatus applies fn to the status document and pending task set under
// a row lock, so two stage workers finishing concurrently cannot clobber each
// other's merges.
func (s *PostgresStore) mutateStatus(
	ctx context.Context,
	id uuid.UUID,
	fn func(st *models.AssetStatus, pending []string) []string,
) (models.AssetStatus, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return models.AssetStatus{}, fmt.Errorf("begin status update: %w", err)
	}
	defer tx.Rollback(ctx)

	var statusJSON []byte
	var pending []string
	err = tx.QueryRow(ctx,
		`SELECT status, pending_tasks FROM assets WHERE id = $1 FOR UPDATE`, id,
	).Scan(&statusJSON, &pending)
	if err != nil {
		if err == pgx.ErrNoRows {
			return models.AssetStatus{}, ErrAssetNotFound
		}
		return models.AssetStatus{}, fmt.Errorf("lock asset status: %w", err)
	}

	st, err := models.StatusFromJSONB(statusJSON)
	if err != nil {
		return models.AssetStatus{}, err
	}

	pending = fn(&st, pending)

	updated, err := st.MarshalJSONB()
	if err != nil {
		return models.AssetStatus{}, fmt.Errorf("marshal status: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE assets SET status = $2, pending_tasks = $3 WHERE id = $1`,
		id, updated, pending); err != nil {
		return models.AssetStatus{}, fmt.Errorf("update asset status: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return models.AssetStatus{}, fmt.Errorf("commit status update: %w", err)
	}
	return st, nil
}

// ResolveTask marks the task finished successfully, clears any prior error
// for it and finalizes the state when no work remains.
func (s *PostgresStore) ResolveTask(ctx context.Context, id uuid.UUID, task string) (models.AssetStatus, error) {
	return s.mutateStatus(ctx, id, func(st *models.AssetStatus, pending []string) []string {
		st.ResolveTask(task)
		pending = removeTask(pending, task)
		st.Finalize(len(pending))
		return pending
	})
}

// FailTask appends the error to the ledger. A fatal task clears the pending
// set so sibling stages are short-circuited.
func (s *PostgresStore) FailTask(ctx context.Context, id uuid.UUID, task, message string) (models.AssetStatus, error) {
	return s.mutateStatus(ctx, id, func(st *models.AssetStatus, pending []string) []string {
		st.RecordFailure(task, message)
		pending = removeTask(pending, task)
		if models.IsFatalTask(task) {
			pending = nil
		}
		st.Finalize(len(pending))
		return pending
	})
}

// SetPendingTasks resets the pending set and moves the asset back to
// processing. Used by the retry workflow before re-enqueueing stages.
func (s *PostgresStore) SetPendingTasks(ctx context.Context, id uuid.UUID, tasks []string, message string) error {
	_, err := s.mutateStatus(ctx, id, func(st *models.AssetStatus, _ []string) []string {
		st.State = models.StateProcessing
		st.Message = message
		st.UpdatedAt = time.Now().UTC()
		return tasks
	})
	return err
}

func removeTask(tasks []string, task string) []string {
	kept := tasks[:0]
	for _, t := range tasks {
		if t != task {
			kept = append(kept, t)
		}
	}
	return kept
}

func (s *PostgresStore) UpdateDimensions(ctx context.Context, id uuid.UUID, width, height int32) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE assets SET width = $2, height = $3 WHERE id = $1`, id, width, height)
	if err != nil {
		return fmt.Errorf("update dimensions: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateDuration(ctx context.Context, id uuid.UUID, seconds float64) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE assets SET duration_seconds = $2 WHERE id = $1`, id, seconds)
	if err != nil {
		return fmt.Errorf("update duration: %w", err)
	}
	return nil
}

func (s *PostgresStore) SetCapturedAt(ctx context.Context, id uuid.UUID, capturedAt time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE assets SET captured_at = $2 WHERE id = $1`, id, capturedAt)
	if err != nil {
		return fmt.Errorf("set captured at: %w", err)
	}
	return nil
}

// MergeMetadata applies a shallow jsonb merge, so independent stage workers
// can add fields concurrently without overwriting each other.
func (s *PostgresStore) MergeMetadata(ctx context.Context, id uuid.UUID, fields map[string]any) error {
	patch, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("marshal metadata patch: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`UPDATE assets SET metadata = COALESCE(metadata, '{}'::jsonb) || $2::jsonb WHERE id = $1`,
		id, patch)
	if err != nil {
		return fmt.Errorf("merge metadata: %w", err)
	}
	return nil
}

// SaveThumbnail upserts on (asset_id, size) so re-running the stage after a
// crash replaces rather than duplicates.
func (s *PostgresStore) SaveThumbnail(ctx context.Context, t *models.Thumbnail) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO thumbnails (id, asset_id, size, path, width, height)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (asset_id, size) DO UPDATE
		SET path = EXCLUDED.path, width = EXCLUDED.width, height = EXCLUDED.height`,
		t.ID, t.AssetID, t.Size, t.Path, t.Width, t.Height)
	if err != nil {
		return fmt.Errorf("save thumbnail: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListThumbnails(ctx context.Context, assetID uuid.UUID) ([]models.Thumbnail, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, asset_id, size, path, width, height, created_at
		 FROM thumbnails WHERE asset_id = $1 ORDER BY size`, assetID)
	if err != nil {
		return nil, fmt.Errorf("list thumbnails: %w", err)
	}
	defer rows.Close()

	var out []models.Thumbnail
	for rows.Next() {
		var t models.Thumbnail
		if err := rows.Scan(&t.ID, &t.AssetID, &t.Size, &t.Path, &t.Width, &t.Height, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan thumbnail: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// SaveEmbedding upserts the asset's single embedding vector.
func (s *PostgresStore) SaveEmbedding(ctx context.Context, assetID uuid.UUID, vector []float32) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO asset_embeddings (asset_id, embedding)
		VALUES ($1, $2)
		ON CONFLICT (asset_id) DO UPDATE SET embedding = EXCLUDED.embedding, updated_at = now()`,
		assetID, pgvector.NewVector(vector))
	if err != nil {
		return fmt.Errorf("save embedding: %w", err)
	}
	return nil
}

func (s *PostgresStore) SoftDeleteAsset(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE assets SET deleted_at = now() WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("soft delete asset: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAssetNotFound
	}
	return nil
}
