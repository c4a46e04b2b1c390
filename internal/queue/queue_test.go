package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T, store Store) *Queue {
	t.Helper()
	return New(store, WithPollInterval(5*time.Millisecond))
}

func startQueue(t *testing.T, q *Queue) {
	t.Helper()
	require.NoError(t, q.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = q.Stop(ctx)
	})
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestSubmitDeduplicatesOnUniqueKey(t *testing.T) {
	store := newMemStore()
	q := newTestQueue(t, store)

	args := IngestArgs{ClientHash: "abc123", UserID: "user-1", StagedPath: "/tmp/x"}

	first, err := q.Submit(context.Background(), args)
	require.NoError(t, err)
	assert.False(t, first.Duplicate)

	second, err := q.Submit(context.Background(), args)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.ID, second.ID)

	depth, err := store.Depth(context.Background(), KindIngest)
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth)
}

func TestSubmitDifferentKeysAreIndependent(t *testing.T) {
	store := newMemStore()
	q := newTestQueue(t, store)

	a, err := q.Submit(context.Background(), IngestArgs{ClientHash: "h1", UserID: "u1"})
	require.NoError(t, err)
	b, err := q.Submit(context.Background(), IngestArgs{ClientHash: "h1", UserID: "u2"})
	require.NoError(t, err)

	assert.False(t, b.Duplicate)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestWorkerConcurrencyCeiling(t *testing.T) {
	store := newMemStore()
	q := newTestQueue(t, store)

	const limit = 3
	var inFlight, peak, done atomic.Int32

	q.RegisterWorker(KindThumbnail, WorkerOptions{Concurrency: limit}, func(ctx context.Context, job *Job) error {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		inFlight.Add(-1)
		done.Add(1)
		return nil
	})

	for i := 0; i < 12; i++ {
		_, err := q.Submit(context.Background(), ThumbnailArgs{StoragePath: "originals/x"})
		require.NoError(t, err)
	}
	startQueue(t, q)

	waitFor(t, 5*time.Second, func() bool { return done.Load() == 12 })
	assert.LessOrEqual(t, peak.Load(), int32(limit),
		"in-flight executions must never exceed the registered ceiling")
}

func TestFailedJobIsRetriedThenDiscarded(t *testing.T) {
	store := newMemStore()
	q := newTestQueue(t, store)

	var attempts atomic.Int32
	q.RegisterWorker(KindMetadata, WorkerOptions{Concurrency: 1, MaxAttempts: 3}, func(ctx context.Context, job *Job) error {
		attempts.Add(1)
		return errors.New("probe failed")
	})

	h, err := q.Submit(context.Background(), MetadataArgs{StoragePath: "originals/y"})
	require.NoError(t, err)
	startQueue(t, q)

	// Collapse backoff after each failure so the test doesn't sleep out
	// real delays.
	waitFor(t, 5*time.Second, func() bool {
		store.makeAllDue()
		return store.get(h.ID).State == StateDiscarded
	})

	assert.Equal(t, int32(3), attempts.Load())
	assert.Contains(t, store.get(h.ID).LastError, "probe failed")
}

func TestPanickingHandlerFollowsRetryPath(t *testing.T) {
	store := newMemStore()
	q := newTestQueue(t, store)

	q.RegisterWorker(KindMetadata, WorkerOptions{Concurrency: 1, MaxAttempts: 2}, func(ctx context.Context, job *Job) error {
		panic("boom")
	})

	h, err := q.Submit(context.Background(), MetadataArgs{})
	require.NoError(t, err)
	startQueue(t, q)

	waitFor(t, 5*time.Second, func() bool {
		store.makeAllDue()
		return store.get(h.ID).State == StateDiscarded
	})
	assert.Contains(t, store.get(h.ID).LastError, "panicked")
}

func TestPermanentErrorDiscardsImmediately(t *testing.T) {
	store := newMemStore()
	q := newTestQueue(t, store)

	var attempts atomic.Int32
	q.RegisterWorker(KindIngest, WorkerOptions{Concurrency: 1, MaxAttempts: 5}, func(ctx context.Context, job *Job) error {
		attempts.Add(1)
		return Permanent(errors.New("unsupported payload"))
	})

	h, err := q.Submit(context.Background(), IngestArgs{ClientHash: "h", UserID: "u"})
	require.NoError(t, err)
	startQueue(t, q)

	waitFor(t, 5*time.Second, func() bool {
		return store.get(h.ID).State == StateDiscarded
	})
	assert.Equal(t, int32(1), attempts.Load())
}

func TestHandlerTimeoutCountsAsFailure(t *testing.T) {
	store := newMemStore()
	q := newTestQueue(t, store)

	q.RegisterWorker(KindTranscode, WorkerOptions{Concurrency: 1, MaxAttempts: 1, Timeout: 20 * time.Millisecond},
		func(ctx context.Context, job *Job) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(5 * time.Second):
				return nil
			}
		})

	h, err := q.Submit(context.Background(), TranscodeArgs{})
	require.NoError(t, err)
	startQueue(t, q)

	waitFor(t, 5*time.Second, func() bool {
		return store.get(h.ID).State == StateDiscarded
	})
	assert.Contains(t, store.get(h.ID).LastError, "context deadline exceeded")
}

func TestTypedHandlerDecodesPayload(t *testing.T) {
	store := newMemStore()
	q := newTestQueue(t, store)

	var mu sync.Mutex
	var got []string
	q.RegisterWorker(KindIngest, WorkerOptions{Concurrency: 1},
		Handler(func(ctx context.Context, job *Job, args IngestArgs) error {
			mu.Lock()
			got = append(got, args.FileName)
			mu.Unlock()
			return nil
		}))

	_, err := q.Submit(context.Background(), IngestArgs{ClientHash: "h", UserID: "u", FileName: "cat.jpg"})
	require.NoError(t, err)
	startQueue(t, q)

	waitFor(t, 5*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	})
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"cat.jpg"}, got)
}

func TestStaleCutoffExceedsLongestWorkerTimeout(t *testing.T) {
	store := newMemStore()
	q := New(store)

	noop := func(ctx context.Context, job *Job) error { return nil }
	q.RegisterWorker(KindMetadata, WorkerOptions{Concurrency: 1, Timeout: time.Minute}, noop)
	q.RegisterWorker(KindTranscode, WorkerOptions{Concurrency: 1, Timeout: 15 * time.Minute}, noop)
	q.RegisterWorker(KindIngest, WorkerOptions{Concurrency: 1}, noop)

	cutoff := q.staleCutoff()
	assert.Greater(t, cutoff, 15*time.Minute,
		"a job still inside its own timeout must not be reclaimed")
}

func TestStaleCutoffDefaultsWithoutTimeouts(t *testing.T) {
	store := newMemStore()
	q := New(store, WithStaleAfter(3*time.Minute))
	q.RegisterWorker(KindIngest, WorkerOptions{Concurrency: 1},
		func(ctx context.Context, job *Job) error { return nil })

	assert.Equal(t, 3*time.Minute, q.staleCutoff())
}

func TestBackoffDelayGrowsAndCaps(t *testing.T) {
	prev := time.Duration(0)
	for attempt := 1; attempt <= 6; attempt++ {
		d := backoffDelay(attempt)
		assert.GreaterOrEqual(t, d, prev/2, "delay should grow with attempts")
		prev = d
	}
	assert.LessOrEqual(t, backoffDelay(60), backoffCap+backoffCap/5)
}
