package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps jobs in process memory. Each job has its own lock so
// writers on different jobs never contend; the index map has a separate one.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*memoryEntry
	now  func() time.Time
}

type memoryEntry struct {
	mu      sync.RWMutex
	job     Job
	results []Result
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs: make(map[string]*memoryEntry),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) Create(_ context.Context, params Params) (Job, error) {
	now := s.now()
	job := Job{
		ID:        uuid.New().String(),
		Status:    StatusPending,
		Target:    params.Count,
		Params:    params,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return Job{}, fmt.Errorf("job id collision: %s", job.ID)
	}
	s.jobs[job.ID] = &memoryEntry{job: job}
	return job, nil
}

func (s *MemoryStore) entry(id string) (*memoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return e, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (Job, error) {
	e, err := s.entry(id)
	if err != nil {
		return Job{}, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	job := e.job
	job.Count = len(e.results)
	return job, nil
}

func (s *MemoryStore) Results(_ context.Context, id string, from int) ([]Result, int, error) {
	e, err := s.entry(id)
	if err != nil {
		return nil, 0, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return sliceFrom(e.results, from), len(e.results), nil
}

// mutate runs fn under the job's write lock, rejecting terminal jobs.
func (s *MemoryStore) mutate(id string, fn func(e *memoryEntry) error) error {
	e, err := s.entry(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.job.Status.Terminal() {
		return fmt.Errorf("job %s is %s: %w", id, e.job.Status, ErrInvalidTransition)
	}
	if err := fn(e); err != nil {
		return err
	}
	e.job.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) AppendResults(_ context.Context, id string, records []Result) error {
	return s.mutate(id, func(e *memoryEntry) error {
		e.results = append(e.results, records...)
		return nil
	})
}

func (s *MemoryStore) SetProgress(_ context.Context, id string, current, target int) error {
	return s.mutate(id, func(e *memoryEntry) error {
		return computeProgress(&e.job, current, target)
	})
}

func (s *MemoryStore) MarkRunning(_ context.Context, id string) error {
	return s.mutate(id, func(e *memoryEntry) error {
		if e.job.Status != StatusPending {
			return fmt.Errorf("job %s is %s: %w", id, e.job.Status, ErrInvalidTransition)
		}
		e.job.Status = StatusRunning
		return nil
	})
}

func (s *MemoryStore) Complete(_ context.Context, id string, filename string) error {
	return s.mutate(id, func(e *memoryEntry) error {
		return completeJob(&e.job, filename)
	})
}

func (s *MemoryStore) Fail(_ context.Context, id string, message string) error {
	return s.mutate(id, func(e *memoryEntry) error {
		return failJob(&e.job, message)
	})
}

// Len returns the number of jobs currently held.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

func (s *MemoryStore) EvictBefore(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, e := range s.jobs {
		e.mu.RLock()
		expired := e.job.Status.Terminal() && e.job.UpdatedAt.Before(cutoff)
		e.mu.RUnlock()
		if expired {
			delete(s.jobs, id)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
