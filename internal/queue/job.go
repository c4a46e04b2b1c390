package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JobState is the queue-owned lifecycle of a job row.
type JobState string

const (
	StateQueued    JobState = "queued"
	StateScheduled JobState = "scheduled" // waiting out a retry backoff
	StateRunning   JobState = "running"
	StateCompleted JobState = "completed"
	StateDiscarded JobState = "discarded" // attempts exhausted
)

var (
	ErrNotFound = errors.New("job not found")
	ErrStopped  = errors.New("queue stopped")
)

// Job is one durable unit of work.
type Job struct {
	ID          uuid.UUID
	Kind        Kind
	Payload     []byte
	State       JobState
	Attempt     int
	MaxAttempts int
	UniqueKey   string
	LastError   string
	ScheduledAt time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// FinalAttempt reports whether a failure of the current attempt would
// discard the job. Stage handlers use it to surface exhausted retries in the
// asset status before the queue gives up.
func (j *Job) FinalAttempt() bool { return j.Attempt >= j.MaxAttempts }

// JobHandle is returned from Submit. Duplicate is set when an idempotency
// key collapsed the submission into an already-tracked job.
type JobHandle struct {
	ID        uuid.UUID
	Kind      Kind
	Duplicate bool
}

// HandlerFunc processes one leased job.
type HandlerFunc func(ctx context.Context, job *Job) error

// Handler adapts a typed handler to HandlerFunc, decoding the JSON payload
// for the kind. Decode failures are permanent: the payload will not become
// valid on retry, so the error is wrapped as non-retryable.
func Handler[T Args](fn func(ctx context.Context, job *Job, args T) error) HandlerFunc {
	return func(ctx context.Context, job *Job) error {
		var args T
		if err := json.Unmarshal(job.Payload, &args); err != nil {
			return Permanent(fmt.Errorf("decode %s payload: %w", job.Kind, err))
		}
		return fn(ctx, job, args)
	}
}

// permanentError marks a handler error that retrying cannot fix. The queue
// discards the job immediately instead of backing off.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so the queue discards the job without further retries.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func isPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}
