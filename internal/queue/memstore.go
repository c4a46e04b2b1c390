package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemStore is an in-process Store. It honors the same leasing and
// idempotency contract as the Postgres store but keeps jobs in a map, which
// makes it the backend of choice for tests and throwaway setups. Nothing
// survives a restart.
type MemStore struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*Job
}

func NewMemStore() *MemStore {
	return &MemStore{jobs: make(map[uuid.UUID]*Job)}
}

func (s *MemStore) Enqueue(_ context.Context, job *Job) (*Job, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if job.UniqueKey != "" {
		for _, j := range s.jobs {
			if j.Kind == job.Kind && j.UniqueKey == job.UniqueKey && isLive(j.State) {
				cp := *j
				return &cp, false, nil
			}
		}
	}

	stored := *job
	stored.State = StateQueued
	stored.CreatedAt = time.Now()
	stored.UpdatedAt = stored.CreatedAt
	s.jobs[stored.ID] = &stored
	cp := stored
	return &cp, true, nil
}

func isLive(state JobState) bool {
	return state == StateQueued || state == StateScheduled || state == StateRunning
}

func (s *MemStore) Lease(_ context.Context, kind Kind, limit int) ([]*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var leased []*Job
	for _, j := range s.jobs {
		if len(leased) >= limit {
			break
		}
		if j.Kind != kind || (j.State != StateQueued && j.State != StateScheduled) {
			continue
		}
		if j.ScheduledAt.After(now) {
			continue
		}
		j.State = StateRunning
		j.Attempt++
		j.UpdatedAt = now
		cp := *j
		leased = append(leased, &cp)
	}
	return leased, nil
}

func (s *MemStore) Complete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	j.State = StateCompleted
	j.UpdatedAt = time.Now()
	return nil
}

func (s *MemStore) Fail(_ context.Context, id uuid.UUID, errMsg string, retryAt time.Time, discard bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	j.LastError = errMsg
	if discard {
		j.State = StateDiscarded
	} else {
		j.State = StateScheduled
		j.ScheduledAt = retryAt
	}
	j.UpdatedAt = time.Now()
	return nil
}

func (s *MemStore) Depth(_ context.Context, kind Kind) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, j := range s.jobs {
		if j.Kind == kind && (j.State == StateQueued || j.State == StateScheduled) {
			n++
		}
	}
	return n, nil
}

func (s *MemStore) RequeueStale(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, j := range s.jobs {
		if j.State == StateRunning && j.UpdatedAt.Before(cutoff) {
			j.State = StateQueued
			j.ScheduledAt = time.Now()
			n++
		}
	}
	return n, nil
}
