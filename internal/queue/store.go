package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store is the durable backend behind the queue. The production
// implementation lives in postgres.go; MemStore trades durability for
// zero setup.
type Store interface {
	// Enqueue persists the job. When the job carries a unique key and a
	// live job (queued, scheduled or running) with the same kind and key
	// exists, the existing job is returned with inserted=false.
	Enqueue(ctx context.Context, job *Job) (stored *Job, inserted bool, err error)

	// Lease atomically claims up to limit due jobs of the kind, moving them
	// to running and incrementing their attempt counter.
	Lease(ctx context.Context, kind Kind, limit int) ([]*Job, error)

	// Complete marks the job done.
	Complete(ctx context.Context, id uuid.UUID) error

	// Fail records the error. With discard the job is terminally discarded,
	// otherwise it is rescheduled for retryAt.
	Fail(ctx context.Context, id uuid.UUID, errMsg string, retryAt time.Time, discard bool) error

	// Depth counts jobs waiting to run for the kind.
	Depth(ctx context.Context, kind Kind) (int64, error)

	// RequeueStale returns running jobs whose lease is older than cutoff to
	// the queued state. Covers workers that died mid-execution; together
	// with idempotent handlers this is what makes delivery at-least-once.
	RequeueStale(ctx context.Context, cutoff time.Time) (int64, error)
}
