package queue

import (
	"time"

	"github.com/google/uuid"
)

func newMemStore() *MemStore { return NewMemStore() }

// makeAllDue collapses pending backoff so tests don't wait out real delays.
func (s *MemStore) makeAllDue() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if j.State == StateScheduled || j.State == StateQueued {
			j.ScheduledAt = time.Now().Add(-time.Second)
		}
	}
}

func (s *MemStore) get(id uuid.UUID) Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.jobs[id]
}

func (s *MemStore) countByState(kind Kind, state JobState) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, j := range s.jobs {
		if j.Kind == kind && j.State == state {
			n++
		}
	}
	return n
}
