// Package queue owns job records: enqueue, visibility-based dequeue and the
// guarded state transitions a job goes through.
package queue

import (
	"context"
	"errors"

	"github.com/trobanga/rythmiq/internal/models"
)

var (
	// ErrJobNotFound is returned when no job has the requested id
	ErrJobNotFound = errors.New("job not found")

	// ErrJobAlreadyExists is returned when enqueueing a job id twice
	ErrJobAlreadyExists = errors.New("job already exists")

	// ErrStateConflict is returned when a conditional write finds the job in a different state
	ErrStateConflict = errors.New("job state changed concurrently")

	// ErrAttemptsExhausted is returned by MarkRunning when the attempt ceiling is reached
	ErrAttemptsExhausted = errors.New("job attempts exhausted")
)

// Store persists job records. Implementations must return copies so callers
// never alias stored state.
type Store interface {
	// Create inserts a new job; ErrJobAlreadyExists if the id is taken
	Create(ctx context.Context, job *models.Job) error

	// Get returns the job with the given id; ErrJobNotFound if absent
	Get(ctx context.Context, jobID string) (*models.Job, error)

	// List returns jobs ordered by creation time, then insertion order.
	// An empty state returns every job.
	List(ctx context.Context, state models.JobState) ([]*models.Job, error)

	// CompareAndSwap replaces the stored job only if it is still in
	// expected; ErrStateConflict otherwise
	CompareAndSwap(ctx context.Context, job *models.Job, expected models.JobState) error
}
