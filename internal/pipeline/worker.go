// Package pipeline runs jobs from the queue through extraction, normalization
// and schema transformation.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/trobanga/rythmiq/internal/lib"
	"github.com/trobanga/rythmiq/internal/models"
	"github.com/trobanga/rythmiq/internal/queue"
	"github.com/trobanga/rythmiq/internal/schema"
	"github.com/trobanga/rythmiq/internal/services"
)

// JobQueue is the subset of queue operations the worker drives
type JobQueue interface {
	GetNextQueued(ctx context.Context, now time.Time) (*models.Job, error)
	MarkRunning(ctx context.Context, jobID string) (*models.Job, error)
	MarkSucceeded(ctx context.Context, jobID, ocrArtifactID, schemaArtifactID string, qualityScore float64) (*models.Job, error)
	MarkFailed(ctx context.Context, jobID string, perr *models.ProcessingError) (*models.Job, error)
	ScheduleRetry(ctx context.Context, jobID string, nextVisibleAt time.Time, perr *models.ProcessingError) (*models.Job, error)
}

// BlobFetcher returns source bytes; nil without error means the blob does not exist
type BlobFetcher interface {
	Fetch(ctx context.Context, blobID string) ([]byte, error)
}

// ArtifactWriter persists bytes and returns a fresh artifact id per call
type ArtifactWriter interface {
	Write(ctx context.Context, data []byte, ownerID string) (string, error)
}

// SchemaProvider resolves a schema document; errors wrapping
// schema.ErrSchemaNotFound mean the id or version is unknown
type SchemaProvider interface {
	GetSchema(ctx context.Context, schemaID, version string) (*models.SchemaDocument, error)
}

// Compile-time interface checks.
var (
	_ JobQueue       = (*queue.Queue)(nil)
	_ BlobFetcher    = (*services.BlobStore)(nil)
	_ ArtifactWriter = (*services.ArtifactStore)(nil)
	_ SchemaProvider = (*services.FileSchemaProvider)(nil)
)

// Dependencies are the collaborators a Worker needs. Telemetry is optional.
type Dependencies struct {
	Queue     JobQueue
	Blobs     BlobFetcher
	Artifacts ArtifactWriter
	Extractor services.Extractor
	Schemas   SchemaProvider
	Telemetry services.Telemetry
}

// Worker executes one job at a time to completion. It only reads job
// fields; every state change goes through the queue.
type Worker struct {
	deps      Dependencies
	policy    lib.RetryPolicy
	normalize models.NormalizeOptions
	registry  *schema.Registry
	now       func() time.Time
	logger    *lib.Logger
	observe   func(*models.Job)
}

// Option configures the Worker
type Option func(*Worker)

// WithClock sets the time source used to compute retry visibility
func WithClock(now func() time.Time) Option {
	return func(w *Worker) {
		w.now = now
	}
}

// WithRetryPolicy sets the policy deciding between retry and failure
func WithRetryPolicy(p lib.RetryPolicy) Option {
	return func(w *Worker) {
		w.policy = p
	}
}

// WithNormalizeOptions sets the text normalization steps
func WithNormalizeOptions(opts models.NormalizeOptions) Option {
	return func(w *Worker) {
		w.normalize = opts
	}
}

// WithRegistry sets the transform/validator registry used to parse schemas
func WithRegistry(reg *schema.Registry) Option {
	return func(w *Worker) {
		w.registry = reg
	}
}

// WithLogger sets the logger
func WithLogger(logger *lib.Logger) Option {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithObserver registers a callback that sees every job RunOnce finishes with
func WithObserver(fn func(*models.Job)) Option {
	return func(w *Worker) {
		w.observe = fn
	}
}

// NewWorker creates a Worker. Queue, Blobs, Artifacts, Extractor and Schemas are required.
func NewWorker(deps Dependencies, opts ...Option) (*Worker, error) {
	switch {
	case deps.Queue == nil:
		return nil, errors.New("worker: queue is required")
	case deps.Blobs == nil:
		return nil, errors.New("worker: blob fetcher is required")
	case deps.Artifacts == nil:
		return nil, errors.New("worker: artifact writer is required")
	case deps.Extractor == nil:
		return nil, errors.New("worker: extractor is required")
	case deps.Schemas == nil:
		return nil, errors.New("worker: schema provider is required")
	}
	if deps.Telemetry == nil {
		deps.Telemetry = services.MultiTelemetry(nil)
	}

	w := &Worker{
		deps:      deps,
		policy:    lib.NewRetryPolicyFromModel(models.DefaultConfig().Retry),
		normalize: models.DefaultNormalizeOptions(),
		registry:  schema.DefaultRegistry(),
		now:       time.Now,
		logger:    lib.NopLogger(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// RunOnce claims the oldest visible job and runs it to a SUCCEEDED, RETRYING
// or FAILED state. It returns nil when there is nothing to do. An error is
// only returned when the queue itself fails; job failures are recorded on
// the job.
func (w *Worker) RunOnce(ctx context.Context) (*models.Job, error) {
	job, err := w.runOnce(ctx)
	if job != nil && w.observe != nil {
		w.observe(job)
	}
	return job, err
}

func (w *Worker) runOnce(ctx context.Context) (*models.Job, error) {
	job, err := w.claim(ctx)
	if err != nil || job == nil {
		return job, err
	}
	if job.State != models.JobStateRunning {
		// Exhausted before it could start
		return job, nil
	}

	w.deps.Telemetry.JobStarted(ctx, job)
	start := time.Now()

	out, perr := w.execute(ctx, job)
	if perr != nil {
		return w.fail(ctx, job, perr)
	}

	done, err := w.deps.Queue.MarkSucceeded(ctx, job.JobID, out.ocrArtifactID, out.schemaArtifactID, out.qualityScore)
	if err != nil {
		return nil, fmt.Errorf("failed to mark job %s succeeded: %w", job.JobID, err)
	}
	lib.LogJobCompleted(w.logger, done.JobID, done.QualityScore, time.Since(start))
	w.deps.Telemetry.JobSucceeded(ctx, done)
	return done, nil
}

// RunBatch calls RunOnce until the queue has no visible job or maxJobs jobs
// were processed. maxJobs <= 0 means no cap. The context is checked between jobs.
func (w *Worker) RunBatch(ctx context.Context, maxJobs int) ([]*models.Job, error) {
	var processed []*models.Job
	for maxJobs <= 0 || len(processed) < maxJobs {
		if err := ctx.Err(); err != nil {
			return processed, err
		}
		job, err := w.RunOnce(ctx)
		if err != nil {
			return processed, err
		}
		if job == nil {
			break
		}
		processed = append(processed, job)
	}
	return processed, nil
}

// claim dequeues and starts the next job. A job whose attempts are used up is
// failed right away and returned in FAILED state.
func (w *Worker) claim(ctx context.Context) (*models.Job, error) {
	for {
		next, err := w.deps.Queue.GetNextQueued(ctx, w.now())
		if err != nil {
			return nil, fmt.Errorf("failed to dequeue: %w", err)
		}
		if next == nil {
			return nil, nil
		}

		job, err := w.deps.Queue.MarkRunning(ctx, next.JobID)
		switch {
		case err == nil:
			return job, nil
		case errors.Is(err, queue.ErrAttemptsExhausted):
			return w.failExhausted(ctx, next)
		case queue.IsLostRace(err):
			w.logger.Debug("Job claimed elsewhere", "job_id", next.JobID)
			continue
		default:
			return nil, fmt.Errorf("failed to start job %s: %w", next.JobID, err)
		}
	}
}

func (w *Worker) failExhausted(ctx context.Context, job *models.Job) (*models.Job, error) {
	code := job.ErrorCode
	if !models.IsValidErrorCode(code) {
		code = models.ErrCodeInternal
	}
	perr := models.NewProcessingError(code, models.StageOCR, "attempts exhausted")

	failed, err := w.deps.Queue.MarkFailed(ctx, job.JobID, perr)
	if err != nil {
		if queue.IsLostRace(err) {
			return w.claim(ctx)
		}
		return nil, fmt.Errorf("failed to fail exhausted job %s: %w", job.JobID, err)
	}
	w.logger.Warn("Job attempts exhausted", "job_id", job.JobID, "attempt", job.Attempt, "max_attempts", job.MaxAttempts)
	w.deps.Telemetry.JobFailed(ctx, failed)
	return failed, nil
}

// fail applies the retry policy to a stage error and commits the outcome
func (w *Worker) fail(ctx context.Context, job *models.Job, perr *models.ProcessingError) (*models.Job, error) {
	// The job's own ceiling wins over the configured default
	policy := w.policy
	if job.MaxAttempts > 0 {
		policy.MaxAttempts = job.MaxAttempts
	}
	decision := policy.Decide(job.Attempt, perr)
	lib.LogStageFailed(w.logger, string(perr.Stage), job.JobID, perr, decision.ShouldRetry)

	var (
		next *models.Job
		err  error
	)
	if decision.ShouldRetry {
		lib.LogRetry(w.logger, job.JobID, job.Attempt, job.MaxAttempts, decision.Delay, perr)
		next, err = w.deps.Queue.ScheduleRetry(ctx, job.JobID, w.now().Add(decision.Delay), perr)
	} else {
		next, err = w.deps.Queue.MarkFailed(ctx, job.JobID, perr)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to record failure of job %s: %w", job.JobID, err)
	}

	w.deps.Telemetry.JobFailed(ctx, next)
	return next, nil
}
