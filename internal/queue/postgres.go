package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists jobs in the jobs table. Leasing uses
// FOR UPDATE SKIP LOCKED so horizontally scaled workers never double-claim.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const jobColumns = `id, kind, payload, state, attempt, max_attempts,
	COALESCE(unique_key, ''), COALESCE(last_error, ''), scheduled_at, created_at, updated_at`

func scanJob(row pgx.Row) (*Job, error) {
	j := &Job{}
	err := row.Scan(&j.ID, &j.Kind, &j.Payload, &j.State, &j.Attempt, &j.MaxAttempts,
		&j.UniqueKey, &j.LastError, &j.ScheduledAt, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return j, nil
}

func (s *PostgresStore) Enqueue(ctx context.Context, job *Job) (*Job, bool, error) {
	if job.UniqueKey == "" {
		row := s.pool.QueryRow(ctx, `
			INSERT INTO jobs (id, kind, payload, state, attempt, max_attempts, scheduled_at)
			VALUES ($1, $2, $3, $4, 0, $5, $6)
			RETURNING `+jobColumns,
			job.ID, job.Kind, job.Payload, StateQueued, job.MaxAttempts, job.ScheduledAt)
		stored, err := scanJob(row)
		if err != nil {
			return nil, false, fmt.Errorf("insert job: %w", err)
		}
		return stored, true, nil
	}

	// The partial unique index jobs_unique_live covers kind+unique_key for
	// live states, so a colliding insert is a clean no-op.
	row := s.pool.QueryRow(ctx, `
		INSERT INTO jobs (id, kind, payload, state, attempt, max_attempts, unique_key, scheduled_at)
		VALUES ($1, $2, $3, $4, 0, $5, $6, $7)
		ON CONFLICT (kind, unique_key) WHERE state IN ('queued', 'scheduled', 'running')
		DO NOTHING
		RETURNING `+jobColumns,
		job.ID, job.Kind, job.Payload, StateQueued, job.MaxAttempts, job.UniqueKey, job.ScheduledAt)
	stored, err := scanJob(row)
	if err == nil {
		return stored, true, nil
	}
	if err != pgx.ErrNoRows {
		return nil, false, fmt.Errorf("insert job: %w", err)
	}

	row = s.pool.QueryRow(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE kind = $1 AND unique_key = $2 AND state IN ('queued', 'scheduled', 'running')
		ORDER BY created_at LIMIT 1`,
		job.Kind, job.UniqueKey)
	existing, err := scanJob(row)
	if err != nil {
		// The colliding job finished between the insert and the lookup;
		// try once more as a fresh insert path would.
		if err == pgx.ErrNoRows {
			return s.Enqueue(ctx, job)
		}
		return nil, false, fmt.Errorf("find duplicate job: %w", err)
	}
	return existing, false, nil
}

func (s *PostgresStore) Lease(ctx context.Context, kind Kind, limit int) ([]*Job, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE jobs SET state = 'running', attempt = attempt + 1, updated_at = now()
		WHERE id IN (
			SELECT id FROM jobs
			WHERE kind = $1 AND state IN ('queued', 'scheduled') AND scheduled_at <= now()
			ORDER BY scheduled_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+jobColumns,
		kind, limit)
	if err != nil {
		return nil, fmt.Errorf("lease jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan leased job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (s *PostgresStore) Complete(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET state = 'completed', updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Fail(ctx context.Context, id uuid.UUID, errMsg string, retryAt time.Time, discard bool) error {
	state := StateScheduled
	if discard {
		state = StateDiscarded
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET state = $2, last_error = $3, scheduled_at = $4, updated_at = now()
		WHERE id = $1`,
		id, state, errMsg, retryAt)
	if err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Depth(ctx context.Context, kind Kind) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM jobs WHERE kind = $1 AND state IN ('queued', 'scheduled')`,
		kind).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("queue depth: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) RequeueStale(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs SET state = 'queued', scheduled_at = now(), updated_at = now()
		WHERE state = 'running' AND updated_at < $1`,
		cutoff)
	if err != nil {
		return 0, fmt.Errorf("requeue stale jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}
