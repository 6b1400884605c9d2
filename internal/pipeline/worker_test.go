package pipeline_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trobanga/rythmiq/internal/lib"
	"github.com/trobanga/rythmiq/internal/models"
	"github.com/trobanga/rythmiq/internal/pipeline"
	"github.com/trobanga/rythmiq/internal/queue"
	"github.com/trobanga/rythmiq/internal/queue/queuetest"
	"github.com/trobanga/rythmiq/internal/schema"
)

const invoiceSchema = `{
  "name": "invoice",
  "fields": {
    "invoiceNumber": {"sourceFields": ["invoice_number"], "required": true},
    "date":          {"sourceFields": ["date"], "required": true},
    "total":         {"sourceFields": ["total"], "required": true}
  }
}`

const invoiceText = "invoice_number: INV-100\ndate: 2026-01-01\ntotal: 42.00"

// fakeBlobs serves blobs from memory
type fakeBlobs map[string][]byte

func (b fakeBlobs) Fetch(_ context.Context, blobID string) ([]byte, error) {
	return b[blobID], nil
}

// fakeArtifacts keeps every write under a fresh id
type fakeArtifacts struct {
	mu     sync.Mutex
	data   map[string][]byte
	owners map[string]string
}

func newFakeArtifacts() *fakeArtifacts {
	return &fakeArtifacts{data: make(map[string][]byte), owners: make(map[string]string)}
}

func (a *fakeArtifacts) Write(_ context.Context, data []byte, ownerID string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := fmt.Sprintf("artifact-%d", len(a.data)+1)
	a.data[id] = append([]byte(nil), data...)
	a.owners[id] = ownerID
	return id, nil
}

func (a *fakeArtifacts) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.data)
}

// extractStep is one scripted extractor response
type extractStep struct {
	text  string
	err   error
	panic bool
}

// scriptedExtractor replays steps in order and repeats the last one
type scriptedExtractor struct {
	steps []extractStep
	calls int
}

func (e *scriptedExtractor) Extract(_ context.Context, _ []byte) (*models.ExtractionResult, error) {
	i := e.calls
	if i >= len(e.steps) {
		i = len(e.steps) - 1
	}
	e.calls++

	step := e.steps[i]
	if step.panic {
		panic("engine crashed")
	}
	if step.err != nil {
		return nil, step.err
	}
	return &models.ExtractionResult{
		Pages:      []models.ExtractedPage{{Text: step.text, Confidence: 0.9}},
		TotalPages: 1,
		Engine:     "scripted",
	}, nil
}

// staticSchemas serves definitions keyed by "id@version"
type staticSchemas map[string]string

func (s staticSchemas) GetSchema(_ context.Context, id, version string) (*models.SchemaDocument, error) {
	def, ok := s[id+"@"+version]
	if !ok {
		return nil, fmt.Errorf("%s@%s: %w", id, version, schema.ErrSchemaNotFound)
	}
	return &models.SchemaDocument{ID: id, Version: version, Definition: []byte(def)}, nil
}

// recordingTelemetry remembers events as "type:job_id:state"
type recordingTelemetry struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingTelemetry) record(kind string, job *models.Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, fmt.Sprintf("%s:%s:%s", kind, job.JobID, job.State))
}

func (r *recordingTelemetry) JobStarted(_ context.Context, job *models.Job) {
	r.record("started", job)
}

func (r *recordingTelemetry) JobSucceeded(_ context.Context, job *models.Job) {
	r.record("succeeded", job)
}

func (r *recordingTelemetry) JobFailed(_ context.Context, job *models.Job) {
	r.record("failed", job)
}

type harness struct {
	clock     *queuetest.Clock
	queue     *queue.Queue
	blobs     fakeBlobs
	artifacts *fakeArtifacts
	extractor *scriptedExtractor
	telemetry *recordingTelemetry
	worker    *pipeline.Worker
}

func newHarness(t *testing.T, steps ...extractStep) *harness {
	t.Helper()

	clock := queuetest.NewClock()
	h := &harness{
		clock:     clock,
		queue:     queue.New(queue.NewMemoryStore(), queue.WithClock(clock.Now)),
		blobs:     fakeBlobs{"blob-1": []byte("scanned invoice")},
		artifacts: newFakeArtifacts(),
		extractor: &scriptedExtractor{steps: steps},
		telemetry: &recordingTelemetry{},
	}

	w, err := pipeline.NewWorker(pipeline.Dependencies{
		Queue:     h.queue,
		Blobs:     h.blobs,
		Artifacts: h.artifacts,
		Extractor: h.extractor,
		Schemas:   staticSchemas{"invoice@v1": invoiceSchema, "broken@1": `{"name": "broken"}`},
		Telemetry: h.telemetry,
	},
		pipeline.WithClock(clock.Now),
		pipeline.WithRetryPolicy(lib.RetryPolicy{MaxAttempts: 3, InitialBackoffMs: 100, MaxBackoffMs: 1000}),
		pipeline.WithLogger(lib.NopLogger()),
	)
	require.NoError(t, err)
	h.worker = w
	return h
}

func (h *harness) enqueue(t *testing.T, req queue.EnqueueRequest) *models.Job {
	t.Helper()
	if req.BlobID == "" {
		req.BlobID = "blob-1"
	}
	if req.UserID == "" {
		req.UserID = "user-1"
	}
	if req.MaxAttempts == 0 {
		req.MaxAttempts = 3
	}
	job, err := h.queue.Enqueue(context.Background(), req)
	require.NoError(t, err)
	return job
}

func (h *harness) invoiceJob(t *testing.T, jobID string) *models.Job {
	return h.enqueue(t, queue.EnqueueRequest{JobID: jobID, SchemaID: "invoice", SchemaVersion: "v1"})
}

func TestRunOnce_InvoiceSucceeds(t *testing.T) {
	// Setup
	h := newHarness(t, extractStep{text: invoiceText})
	h.invoiceJob(t, "job-1")
	ctx := context.Background()

	// Test
	job, err := h.worker.RunOnce(ctx)
	require.NoError(t, err)

	// Verify
	require.NotNil(t, job)
	assert.Equal(t, models.JobStateSucceeded, job.State)
	assert.Equal(t, 1.0, job.QualityScore)
	assert.Equal(t, 1, job.Attempt)
	assert.Empty(t, job.ErrorCode)
	assert.False(t, job.Retryable)
	require.Equal(t, 2, h.artifacts.count(), "One OCR artifact and one schema artifact")

	var ocr pipeline.OCRArtifact
	require.NoError(t, json.Unmarshal(h.artifacts.data[job.OCRArtifactID], &ocr))
	assert.Equal(t, 1, ocr.TotalPages)
	assert.Equal(t, invoiceText, ocr.Text)

	var result models.TransformResult
	require.NoError(t, json.Unmarshal(h.artifacts.data[job.SchemaArtifactID], &result))
	assert.Equal(t, models.OutcomeSuccess, result.Outcome)
	assert.Equal(t, map[string]any{
		"invoiceNumber": "INV-100",
		"date":          "2026-01-01",
		"total":         "42.00",
	}, result.Structured)
	assert.Equal(t, "user-1", h.artifacts.owners[job.SchemaArtifactID], "Artifacts belong to the job owner")

	assert.Equal(t, []string{"started:job-1:RUNNING", "succeeded:job-1:SUCCEEDED"}, h.telemetry.events)

	stored, err := h.queue.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, job, stored)
}

func TestRunOnce_MissingRequiredField(t *testing.T) {
	h := newHarness(t, extractStep{text: "invoice_number: INV-100\ndate: 2026-01-01"})
	h.invoiceJob(t, "job-1")

	job, err := h.worker.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, models.JobStateFailed, job.State)
	assert.Equal(t, models.ErrCodeMissingRequiredField, job.ErrorCode)
	assert.False(t, job.Retryable)
	assert.Empty(t, job.SchemaArtifactID)
	assert.Equal(t, 1, h.artifacts.count(), "Only the OCR artifact is written")
	assert.Equal(t, []string{"started:job-1:RUNNING", "failed:job-1:FAILED"}, h.telemetry.events)
}

func TestRunOnce_TimeoutIsRetried(t *testing.T) {
	// Setup: first extraction times out, the second succeeds
	h := newHarness(t,
		extractStep{err: &models.ExtractionError{Code: models.ErrCodeTimeout, Message: "engine timed out"}},
		extractStep{text: invoiceText},
	)
	h.invoiceJob(t, "job-1")
	ctx := context.Background()

	// Test: attempt 1
	job, err := h.worker.RunOnce(ctx)
	require.NoError(t, err)

	// Verify
	assert.Equal(t, models.JobStateRetrying, job.State)
	assert.Equal(t, models.ErrCodeTimeout, job.ErrorCode)
	assert.True(t, job.Retryable)
	assert.Equal(t, 1, job.Attempt)
	assert.Equal(t, queuetest.Epoch.Add(100*time.Millisecond), job.NextVisibleAt, "First backoff is the base delay")

	// Not visible yet
	job, err = h.worker.RunOnce(ctx)
	require.NoError(t, err)
	assert.Nil(t, job, "Retry must stay hidden until it is due")

	// Test: attempt 2 once due
	h.clock.Advance(100 * time.Millisecond)
	job, err = h.worker.RunOnce(ctx)
	require.NoError(t, err)

	assert.Equal(t, models.JobStateSucceeded, job.State)
	assert.Equal(t, 2, job.Attempt)
	assert.Empty(t, job.ErrorCode, "Success clears the error of the earlier attempt")
	assert.Equal(t, 1.0, job.QualityScore)
}

func TestRunOnce_AttemptCeiling(t *testing.T) {
	h := newHarness(t, extractStep{err: &models.ExtractionError{Code: models.ErrCodeTimeout, Message: "slow"}})
	h.invoiceJob(t, "job-1")
	ctx := context.Background()

	var job *models.Job
	for attempt := 1; attempt <= 3; attempt++ {
		var err error
		job, err = h.worker.RunOnce(ctx)
		require.NoError(t, err)
		require.NotNil(t, job, "attempt %d", attempt)
		assert.Equal(t, attempt, job.Attempt)
		h.clock.Advance(time.Second)
	}

	assert.Equal(t, models.JobStateFailed, job.State, "Third failure is terminal")
	assert.Equal(t, models.ErrCodeTimeout, job.ErrorCode)
	assert.True(t, job.Retryable, "Last attempt's classification is kept")
	assert.Equal(t, 3, h.extractor.calls)

	next, err := h.worker.RunOnce(ctx)
	require.NoError(t, err)
	assert.Nil(t, next)
}

func TestRunOnce_JobCeilingOverridesPolicy(t *testing.T) {
	h := newHarness(t, extractStep{err: &models.ExtractionError{Code: models.ErrCodeTimeout, Message: "slow"}})
	h.enqueue(t, queue.EnqueueRequest{JobID: "job-1", SchemaID: "invoice", SchemaVersion: "v1", MaxAttempts: 1})

	job, err := h.worker.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.JobStateFailed, job.State)
	assert.Equal(t, 1, job.Attempt)
}

func TestRunOnce_BlobNotFound(t *testing.T) {
	h := newHarness(t, extractStep{text: invoiceText})
	h.enqueue(t, queue.EnqueueRequest{JobID: "job-1", BlobID: "missing", SchemaID: "invoice", SchemaVersion: "v1"})

	job, err := h.worker.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, models.JobStateFailed, job.State)
	assert.Equal(t, models.ErrCodeBlobNotFound, job.ErrorCode)
	assert.False(t, job.Retryable)
	assert.Equal(t, 0, h.extractor.calls, "Extraction never runs without bytes")
	assert.Equal(t, 0, h.artifacts.count())
}

func TestRunOnce_ErrorClassification(t *testing.T) {
	tests := []struct {
		name     string
		step     extractStep
		schemaID string
		version  string
		want     models.ErrorCode
	}{
		{
			name:     "unsupported format",
			step:     extractStep{err: &models.ExtractionError{Code: models.ErrCodeUnsupportedFormat, Message: "zip"}},
			schemaID: "invoice", version: "v1",
			want: models.ErrCodeUnsupportedFormat,
		},
		{
			name:     "unknown engine code",
			step:     extractStep{err: &models.ExtractionError{Code: "ENGINE_ON_FIRE", Message: "?"}},
			schemaID: "invoice", version: "v1",
			want: models.ErrCodeOCRFailure,
		},
		{
			name:     "unclassified error",
			step:     extractStep{err: errors.New("boom")},
			schemaID: "invoice", version: "v1",
			want: models.ErrCodeInternal,
		},
		{
			name:     "panic",
			step:     extractStep{panic: true},
			schemaID: "invoice", version: "v1",
			want: models.ErrCodeInternal,
		},
		{
			name: "no schema id",
			step: extractStep{text: invoiceText},
			want: models.ErrCodeSchemaIDMissing,
		},
		{
			name:     "unknown schema",
			step:     extractStep{text: invoiceText},
			schemaID: "receipt", version: "v1",
			want: models.ErrCodeSchemaNotFound,
		},
		{
			name:     "unknown schema version",
			step:     extractStep{text: invoiceText},
			schemaID: "invoice", version: "v2",
			want: models.ErrCodeSchemaNotFound,
		},
		{
			name:     "invalid schema",
			step:     extractStep{text: invoiceText},
			schemaID: "broken", version: "1",
			want: models.ErrCodeSchemaInvalid,
		},
		{
			name:     "ambiguous field",
			step:     extractStep{text: invoiceText + "\ntotal: 43.00"},
			schemaID: "invoice", version: "v1",
			want: models.ErrCodeAmbiguousField,
		},
		{
			name:     "malformed text",
			step:     extractStep{text: "total: \xff"},
			schemaID: "invoice", version: "v1",
			want: models.ErrCodeNormalizeFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.step)
			h.enqueue(t, queue.EnqueueRequest{JobID: "job-1", SchemaID: tt.schemaID, SchemaVersion: tt.version})

			job, err := h.worker.RunOnce(context.Background())
			require.NoError(t, err, "Job failures are recorded, not returned")

			assert.Equal(t, models.JobStateFailed, job.State)
			assert.Equal(t, tt.want, job.ErrorCode)
			assert.False(t, job.Retryable)
		})
	}
}

func TestRunOnce_ExhaustedBeforeStart(t *testing.T) {
	// Setup: a job that already used its only attempt but was left RETRYING
	h := newHarness(t, extractStep{text: invoiceText})
	h.enqueue(t, queue.EnqueueRequest{JobID: "job-1", SchemaID: "invoice", SchemaVersion: "v1", MaxAttempts: 1})
	ctx := context.Background()

	_, err := h.queue.MarkRunning(ctx, "job-1")
	require.NoError(t, err)
	_, err = h.queue.ScheduleRetry(ctx, "job-1", h.clock.Now(),
		models.NewProcessingError(models.ErrCodeTimeout, models.StageOCR, "slow"))
	require.NoError(t, err)

	// Test
	job, err := h.worker.RunOnce(ctx)
	require.NoError(t, err)

	// Verify
	assert.Equal(t, models.JobStateFailed, job.State)
	assert.Equal(t, models.ErrCodeTimeout, job.ErrorCode, "Last recorded error is kept")
	assert.Equal(t, 1, job.Attempt, "No new attempt is started")
	assert.Equal(t, 0, h.extractor.calls)
	assert.Equal(t, []string{"failed:job-1:FAILED"}, h.telemetry.events)
}

func TestRunOnce_EmptyQueue(t *testing.T) {
	h := newHarness(t, extractStep{text: invoiceText})

	job, err := h.worker.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Nil(t, job)
	assert.Empty(t, h.telemetry.events)
}

func TestRunBatch(t *testing.T) {
	h := newHarness(t, extractStep{text: invoiceText})
	for _, id := range []string{"job-a", "job-b", "job-c"} {
		h.invoiceJob(t, id)
		h.clock.Advance(time.Millisecond)
	}
	ctx := context.Background()

	// Capped
	jobs, err := h.worker.RunBatch(ctx, 2)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "job-a", jobs[0].JobID, "Oldest job first")
	assert.Equal(t, "job-b", jobs[1].JobID)

	// Drain
	jobs, err = h.worker.RunBatch(ctx, 0)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "job-c", jobs[0].JobID)

	jobs, err = h.worker.RunBatch(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestRunBatch_StopsOnCancelledContext(t *testing.T) {
	h := newHarness(t, extractStep{text: invoiceText})
	h.invoiceJob(t, "job-1")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	jobs, err := h.worker.RunBatch(ctx, 0)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, jobs)

	job, err := h.queue.Get(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStateQueued, job.State, "Nothing was claimed")
}

func TestNewWorker_RequiresDependencies(t *testing.T) {
	_, err := pipeline.NewWorker(pipeline.Dependencies{})
	assert.Error(t, err)
}

func TestRunBatch_ObserverSeesEveryJob(t *testing.T) {
	var seen []string
	clock := queuetest.NewClock()
	q := queue.New(queue.NewMemoryStore(), queue.WithClock(clock.Now))
	w, err := pipeline.NewWorker(pipeline.Dependencies{
		Queue:     q,
		Blobs:     fakeBlobs{},
		Artifacts: newFakeArtifacts(),
		Extractor: &scriptedExtractor{steps: []extractStep{{text: invoiceText}}},
		Schemas:   staticSchemas{},
	},
		pipeline.WithClock(clock.Now),
		pipeline.WithObserver(func(job *models.Job) {
			seen = append(seen, job.JobID+":"+string(job.State))
		}),
	)
	require.NoError(t, err)

	ctx := context.Background()
	for _, id := range []string{"job-a", "job-b"} {
		_, err := q.Enqueue(ctx, queue.EnqueueRequest{JobID: id, BlobID: "gone", UserID: "user-1"})
		require.NoError(t, err)
		clock.Advance(time.Millisecond)
	}

	jobs, err := w.RunBatch(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, jobs, 2)
	assert.Equal(t, []string{"job-a:FAILED", "job-b:FAILED"}, seen)
}
