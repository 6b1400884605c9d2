package queue

import (
	"context"
	"sort"
	"sync"

	"github.com/trobanga/rythmiq/internal/models"
)

// Compile-time interface check.
var _ Store = (*MemoryStore)(nil)

type memoryEntry struct {
	job models.Job
	seq int64
}

// MemoryStore is an in-process Store for tests and single-run commands
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*memoryEntry
	seq  int64
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*memoryEntry)}
}

// Create inserts a new job
func (s *MemoryStore) Create(_ context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.JobID]; exists {
		return ErrJobAlreadyExists
	}
	s.seq++
	s.jobs[job.JobID] = &memoryEntry{job: *job, seq: s.seq}
	return nil
}

// Get returns a copy of the job
func (s *MemoryStore) Get(_ context.Context, jobID string) (*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.jobs[jobID]
	if !ok {
		return nil, ErrJobNotFound
	}
	return e.job.Clone(), nil
}

// List returns copies of the matching jobs, oldest first
func (s *MemoryStore) List(_ context.Context, state models.JobState) ([]*models.Job, error) {
	s.mu.RLock()
	entries := make([]memoryEntry, 0, len(s.jobs))
	for _, e := range s.jobs {
		if state == "" || e.job.State == state {
			entries = append(entries, *e)
		}
	}
	s.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.job.CreatedAt.Equal(b.job.CreatedAt) {
			return a.job.CreatedAt.Before(b.job.CreatedAt)
		}
		return a.seq < b.seq
	})

	jobs := make([]*models.Job, len(entries))
	for i := range entries {
		jobs[i] = entries[i].job.Clone()
	}
	return jobs, nil
}

// CompareAndSwap replaces the job if it is still in expected
func (s *MemoryStore) CompareAndSwap(_ context.Context, job *models.Job, expected models.JobState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.jobs[job.JobID]
	if !ok {
		return ErrJobNotFound
	}
	if e.job.State != expected {
		return ErrStateConflict
	}
	e.job = *job
	return nil
}
