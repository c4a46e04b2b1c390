// Package queue implements the durable job queue behind the asset pipeline:
// typed payloads, idempotency-key deduplication, per-kind worker concurrency
// ceilings and bounded retries with exponential backoff. Delivery is
// at-least-once; handlers must be idempotent.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/medialib/internal/observability"
)

const (
	defaultMaxAttempts  = 5
	defaultPollInterval = 500 * time.Millisecond
	defaultStaleAfter   = 10 * time.Minute
	staleGrace          = time.Minute

	backoffBase = 2 * time.Second
	backoffCap  = 5 * time.Minute
)

// WorkerOptions configures the worker pool for one kind.
type WorkerOptions struct {
	// Concurrency is the hard ceiling on simultaneous executions of this
	// kind across the process.
	Concurrency int
	// MaxAttempts bounds retries for jobs submitted for this kind.
	MaxAttempts int
	// Timeout, when non-zero, caps each execution; exceeding it counts as a
	// handler failure.
	Timeout time.Duration
}

type worker struct {
	opts    WorkerOptions
	handler HandlerFunc
}

// Queue dispatches durable jobs to registered workers.
type Queue struct {
	store        Store
	pollInterval time.Duration
	staleAfter   time.Duration

	mu      sync.Mutex
	workers map[Kind]*worker
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

type Option func(*Queue)

func WithPollInterval(d time.Duration) Option {
	return func(q *Queue) { q.pollInterval = d }
}

func WithStaleAfter(d time.Duration) Option {
	return func(q *Queue) { q.staleAfter = d }
}

func New(store Store, opts ...Option) *Queue {
	q := &Queue{
		store:        store,
		pollInterval: defaultPollInterval,
		staleAfter:   defaultStaleAfter,
		workers:      make(map[Kind]*worker),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

type submitConfig struct {
	uniqueKey   string
	maxAttempts int
	scheduledAt time.Time
}

type SubmitOption func(*submitConfig)

// WithUniqueKey overrides the payload-derived idempotency key.
func WithUniqueKey(key string) SubmitOption {
	return func(c *submitConfig) { c.uniqueKey = key }
}

func WithMaxAttempts(n int) SubmitOption {
	return func(c *submitConfig) { c.maxAttempts = n }
}

// WithScheduledAt delays the first execution.
func WithScheduledAt(t time.Time) SubmitOption {
	return func(c *submitConfig) { c.scheduledAt = t }
}

// uniqueKeyer lets a payload carry its own idempotency key.
type uniqueKeyer interface {
	UniqueKey() string
}

// Submit durably enqueues args. Once Submit returns the job survives process
// restart. A submission whose kind and idempotency key match a live job is a
// no-op returning the existing handle with Duplicate set.
func (q *Queue) Submit(ctx context.Context, args Args, opts ...SubmitOption) (*JobHandle, error) {
	cfg := submitConfig{scheduledAt: time.Now().UTC()}
	if uk, ok := args.(uniqueKeyer); ok {
		cfg.uniqueKey = uk.UniqueKey()
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.maxAttempts == 0 {
		cfg.maxAttempts = q.maxAttemptsFor(args.Kind())
	}

	payload, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", args.Kind(), err)
	}

	job := &Job{
		ID:          uuid.New(),
		Kind:        args.Kind(),
		Payload:     payload,
		MaxAttempts: cfg.maxAttempts,
		UniqueKey:   cfg.uniqueKey,
		ScheduledAt: cfg.scheduledAt,
	}

	stored, inserted, err := q.store.Enqueue(ctx, job)
	if err != nil {
		return nil, fmt.Errorf("enqueue %s job: %w", args.Kind(), err)
	}
	if !inserted {
		slog.Debug("job submission deduplicated",
			"kind", stored.Kind, "job_id", stored.ID, "unique_key", stored.UniqueKey)
	}
	return &JobHandle{ID: stored.ID, Kind: stored.Kind, Duplicate: !inserted}, nil
}

func (q *Queue) maxAttemptsFor(kind Kind) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if w, ok := q.workers[kind]; ok && w.opts.MaxAttempts > 0 {
		return w.opts.MaxAttempts
	}
	return defaultMaxAttempts
}

// RegisterWorker binds a handler to a kind. Must be called before Start;
// registering the same kind twice is a programming error.
func (q *Queue) RegisterWorker(kind Kind, opts WorkerOptions, handler HandlerFunc) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		panic("queue: RegisterWorker after Start")
	}
	if _, dup := q.workers[kind]; dup {
		panic(fmt.Sprintf("queue: worker for kind %q already registered", kind))
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	q.workers[kind] = &worker{opts: opts, handler: handler}
}

// Start launches one poll loop per registered kind plus a maintenance loop.
func (q *Queue) Start(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return fmt.Errorf("queue already started")
	}
	if len(q.workers) == 0 {
		return fmt.Errorf("no workers registered")
	}
	q.started = true

	runCtx, cancel := context.WithCancel(ctx)
	q.cancel = cancel

	for kind, w := range q.workers {
		q.wg.Add(1)
		go q.runKind(runCtx, kind, w)
	}
	q.wg.Add(1)
	go q.runMaintenance(runCtx)

	slog.Info("queue started", "kinds", len(q.workers))
	return nil
}

// Stop cancels polling and waits for in-flight handlers, up to ctx deadline.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if !q.started {
		q.mu.Unlock()
		return nil
	}
	cancel := q.cancel
	q.mu.Unlock()

	cancel()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		slog.Info("queue stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("queue drain: %w", ctx.Err())
	}
}

func (q *Queue) runKind(ctx context.Context, kind Kind, w *worker) {
	defer q.wg.Done()

	sem := make(chan struct{}, w.opts.Concurrency)
	ticker := time.NewTicker(q.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		free := cap(sem) - len(sem)
		if free == 0 {
			continue
		}

		jobs, err := q.store.Lease(ctx, kind, free)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Warn("lease jobs", "kind", kind, "error", err)
			continue
		}

		for _, job := range jobs {
			sem <- struct{}{}
			q.wg.Add(1)
			go func(job *Job) {
				defer q.wg.Done()
				defer func() { <-sem }()
				q.runJob(ctx, w, job)
			}(job)
		}
	}
}

func (q *Queue) runJob(ctx context.Context, w *worker, job *Job) {
	start := time.Now()
	err := q.execute(ctx, w, job)
	observability.JobDuration.WithLabelValues(string(job.Kind)).Observe(time.Since(start).Seconds())

	// Bookkeeping must outlive a cancelled run context, otherwise a
	// shutdown mid-job loses the state transition.
	storeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err == nil {
		if cerr := q.store.Complete(storeCtx, job.ID); cerr != nil {
			slog.Error("mark job complete", "kind", job.Kind, "job_id", job.ID, "error", cerr)
		}
		observability.JobsProcessed.WithLabelValues(string(job.Kind), "completed").Inc()
		return
	}

	discard := isPermanent(err) || job.FinalAttempt()
	retryAt := time.Now().UTC().Add(backoffDelay(job.Attempt))
	if ferr := q.store.Fail(storeCtx, job.ID, err.Error(), retryAt, discard); ferr != nil {
		slog.Error("mark job failed", "kind", job.Kind, "job_id", job.ID, "error", ferr)
	}

	if discard {
		observability.JobsProcessed.WithLabelValues(string(job.Kind), "discarded").Inc()
		slog.Error("job discarded",
			"kind", job.Kind, "job_id", job.ID, "attempt", job.Attempt, "error", err)
		return
	}
	observability.JobsProcessed.WithLabelValues(string(job.Kind), "retried").Inc()
	slog.Warn("job rescheduled",
		"kind", job.Kind, "job_id", job.ID, "attempt", job.Attempt,
		"retry_at", retryAt, "error", err)
}

// execute runs the handler with the kind's timeout and converts panics into
// errors so a crashing handler follows the same retry path.
func (q *Queue) execute(ctx context.Context, w *worker, job *Job) (err error) {
	hctx := ctx
	if w.opts.Timeout > 0 {
		var cancel context.CancelFunc
		hctx, cancel = context.WithTimeout(ctx, w.opts.Timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s handler panicked: %v", job.Kind, r)
		}
	}()
	return w.handler(hctx, job)
}

// staleCutoff is the age past which a running job is presumed orphaned and
// returned to the queue. It must exceed every registered worker timeout,
// otherwise a legitimately long execution gets reclaimed while its first
// copy is still alive and runs twice.
func (q *Queue) staleCutoff() time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()
	cutoff := q.staleAfter
	for _, w := range q.workers {
		if w.opts.Timeout > 0 && w.opts.Timeout+staleGrace > cutoff {
			cutoff = w.opts.Timeout + staleGrace
		}
	}
	return cutoff
}

func (q *Queue) runMaintenance(ctx context.Context) {
	defer q.wg.Done()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if n, err := q.store.RequeueStale(ctx, time.Now().UTC().Add(-q.staleCutoff())); err != nil {
			if ctx.Err() == nil {
				slog.Warn("requeue stale jobs", "error", err)
			}
		} else if n > 0 {
			slog.Info("requeued stale jobs", "count", n)
		}

		q.mu.Lock()
		kinds := make([]Kind, 0, len(q.workers))
		for kind := range q.workers {
			kinds = append(kinds, kind)
		}
		q.mu.Unlock()
		for _, kind := range kinds {
			if depth, err := q.store.Depth(ctx, kind); err == nil {
				observability.QueueDepth.WithLabelValues(string(kind)).Set(float64(depth))
			}
		}
	}
}

// backoffDelay is exponential in the attempt number with up to 20% jitter.
func backoffDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := backoffBase << uint(attempt-1)
	if delay > backoffCap || delay <= 0 {
		delay = backoffCap
	}
	jitter := time.Duration(rand.Int63n(int64(delay) / 5))
	return delay + jitter
}
