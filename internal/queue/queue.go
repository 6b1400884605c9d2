package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/trobanga/rythmiq/internal/lib"
	"github.com/trobanga/rythmiq/internal/models"
)

// DefaultMaxAttempts is used when neither the queue nor the request sets a ceiling
const DefaultMaxAttempts = 3

// Queue is the only writer of job records. Every mutation loads the job,
// asserts the edge against the state graph, builds the next record and
// commits it with a conditional write; a failed assertion writes nothing.
type Queue struct {
	store       Store
	now         func() time.Time
	maxAttempts int
	logger      *lib.Logger
}

// Option configures the Queue
type Option func(*Queue)

// WithClock sets the time source used for timestamps
func WithClock(now func() time.Time) Option {
	return func(q *Queue) {
		q.now = now
	}
}

// WithMaxAttempts sets the default attempt ceiling for new jobs
func WithMaxAttempts(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.maxAttempts = n
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger *lib.Logger) Option {
	return func(q *Queue) {
		q.logger = logger
	}
}

// New creates a Queue over store
func New(store Store, opts ...Option) *Queue {
	q := &Queue{
		store:       store,
		now:         time.Now,
		maxAttempts: DefaultMaxAttempts,
		logger:      lib.NopLogger(),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// EnqueueRequest describes a job handed over by the ingestion boundary.
// The job id must already be unique; the queue does no deduplication beyond
// rejecting an id it has seen.
type EnqueueRequest struct {
	JobID         string
	BlobID        string
	UserID        string
	SchemaID      string
	SchemaVersion string
	MaxAttempts   int // 0 uses the queue default
}

// Enqueue creates the job in QUEUED with attempt 0, visible immediately
func (q *Queue) Enqueue(ctx context.Context, req EnqueueRequest) (*models.Job, error) {
	now := q.now()
	maxAttempts := req.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = q.maxAttempts
	}

	job := models.Job{
		JobID:         req.JobID,
		BlobID:        req.BlobID,
		UserID:        req.UserID,
		State:         models.JobStateCreated,
		MaxAttempts:   maxAttempts,
		CreatedAt:     now,
		UpdatedAt:     now,
		SchemaID:      req.SchemaID,
		SchemaVersion: req.SchemaVersion,
	}

	if err := models.AssertTransition(job.State, models.JobStateQueued); err != nil {
		return nil, err
	}
	job = models.QueueJob(job, now)

	if err := job.Validate(); err != nil {
		return nil, fmt.Errorf("invalid job: %w", err)
	}
	if err := q.store.Create(ctx, &job); err != nil {
		return nil, fmt.Errorf("enqueue %s: %w", job.JobID, err)
	}

	lib.LogJobCreated(q.logger, job.JobID, job.BlobID)
	return job.Clone(), nil
}

// GetNextQueued promotes every RETRYING job that is due back to QUEUED, then
// returns the oldest visible QUEUED job, or nil when there is none.
func (q *Queue) GetNextQueued(ctx context.Context, now time.Time) (*models.Job, error) {
	retrying, err := q.store.List(ctx, models.JobStateRetrying)
	if err != nil {
		return nil, fmt.Errorf("list retrying jobs: %w", err)
	}
	for _, job := range retrying {
		if !job.IsVisibleAt(now) {
			continue
		}
		_, err := q.transition(ctx, job.JobID, models.JobStateQueued, func(j models.Job) models.Job {
			return models.RequeueJob(j, q.now())
		})
		if err != nil && !IsLostRace(err) {
			return nil, err
		}
		if err == nil {
			q.logger.Debug("Promoted due retry", "job_id", job.JobID)
		}
	}

	queued, err := q.store.List(ctx, models.JobStateQueued)
	if err != nil {
		return nil, fmt.Errorf("list queued jobs: %w", err)
	}
	for _, job := range queued {
		if job.IsVisibleAt(now) {
			return job, nil
		}
	}
	return nil, nil
}

// MarkRunning moves a QUEUED job to RUNNING and counts the attempt.
// Fails with ErrAttemptsExhausted if the ceiling has been reached.
func (q *Queue) MarkRunning(ctx context.Context, jobID string) (*models.Job, error) {
	return q.transitionChecked(ctx, jobID, models.JobStateRunning, func(j *models.Job) error {
		if j.Attempt >= j.MaxAttempts {
			return fmt.Errorf("job %s: %w (%d/%d)", jobID, ErrAttemptsExhausted, j.Attempt, j.MaxAttempts)
		}
		return nil
	}, func(j models.Job) models.Job {
		return models.StartJob(j, q.now())
	})
}

// ClaimNext pairs GetNextQueued and MarkRunning, moving on to the next
// candidate when another processor claimed the job first.
func (q *Queue) ClaimNext(ctx context.Context, now time.Time) (*models.Job, error) {
	for {
		next, err := q.GetNextQueued(ctx, now)
		if err != nil || next == nil {
			return nil, err
		}
		job, err := q.MarkRunning(ctx, next.JobID)
		if err == nil {
			return job, nil
		}
		if !IsLostRace(err) {
			return nil, err
		}
		q.logger.Debug("Lost claim race", "job_id", next.JobID)
	}
}

// MarkSucceeded moves a RUNNING job to SUCCEEDED and records its outcome
func (q *Queue) MarkSucceeded(ctx context.Context, jobID, ocrArtifactID, schemaArtifactID string, qualityScore float64) (*models.Job, error) {
	return q.transition(ctx, jobID, models.JobStateSucceeded, func(j models.Job) models.Job {
		return models.SucceedJob(j, ocrArtifactID, schemaArtifactID, qualityScore, q.now())
	})
}

// MarkFailed moves a QUEUED or RUNNING job to FAILED
func (q *Queue) MarkFailed(ctx context.Context, jobID string, perr *models.ProcessingError) (*models.Job, error) {
	return q.transition(ctx, jobID, models.JobStateFailed, func(j models.Job) models.Job {
		return models.FailJob(j, perr, q.now())
	})
}

// ScheduleRetry moves a RUNNING job to RETRYING, hidden until nextVisibleAt
func (q *Queue) ScheduleRetry(ctx context.Context, jobID string, nextVisibleAt time.Time, perr *models.ProcessingError) (*models.Job, error) {
	return q.transition(ctx, jobID, models.JobStateRetrying, func(j models.Job) models.Job {
		return models.RetryJob(j, nextVisibleAt, perr, q.now())
	})
}

// Get returns a job for status polling
func (q *Queue) Get(ctx context.Context, jobID string) (*models.Job, error) {
	return q.store.Get(ctx, jobID)
}

// List returns jobs in creation order; an empty state lists every job
func (q *Queue) List(ctx context.Context, state models.JobState) ([]*models.Job, error) {
	return q.store.List(ctx, state)
}

func (q *Queue) transition(ctx context.Context, jobID string, to models.JobState, build func(models.Job) models.Job) (*models.Job, error) {
	return q.transitionChecked(ctx, jobID, to, nil, build)
}

func (q *Queue) transitionChecked(ctx context.Context, jobID string, to models.JobState, check func(*models.Job) error, build func(models.Job) models.Job) (*models.Job, error) {
	current, err := q.store.Get(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", jobID, err)
	}

	if err := models.AssertTransition(current.State, to); err != nil {
		return nil, fmt.Errorf("job %s: %w", jobID, err)
	}
	if check != nil {
		if err := check(current); err != nil {
			return nil, err
		}
	}

	next := build(*current)
	if err := q.store.CompareAndSwap(ctx, &next, current.State); err != nil {
		return nil, fmt.Errorf("job %s %s -> %s: %w", jobID, current.State, to, err)
	}

	q.logger.Debug("Job transition", "job_id", jobID, "from", current.State, "to", to)
	return next.Clone(), nil
}

// IsLostRace reports whether err means another writer moved the job first.
// Callers claiming jobs should move on to the next candidate.
func IsLostRace(err error) bool {
	return errors.Is(err, ErrStateConflict) || errors.Is(err, models.ErrInvalidTransition)
}
