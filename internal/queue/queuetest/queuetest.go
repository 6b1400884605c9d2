// Package queuetest runs the same queue behaviour checks against any Store.
package queuetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trobanga/rythmiq/internal/models"
	"github.com/trobanga/rythmiq/internal/queue"
)

// Epoch is the start time of every Clock
var Epoch = time.Date(2026, 1, 2, 9, 0, 0, 0, time.UTC)

// Clock is a manually advanced time source
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a Clock set to Epoch
func NewClock() *Clock {
	return &Clock{now: Epoch}
}

// Now returns the current fake time
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward
func (c *Clock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

// Set moves the clock to t
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// Factory returns a fresh, empty store for one test
type Factory func(t *testing.T) queue.Store

// Run executes the queue checks against stores built by newStore
func Run(t *testing.T, newStore Factory) {
	t.Run("EnqueueStartsQueued", func(t *testing.T) { testEnqueueStartsQueued(t, newStore) })
	t.Run("DuplicateEnqueue", func(t *testing.T) { testDuplicateEnqueue(t, newStore) })
	t.Run("FIFOOrder", func(t *testing.T) { testFIFOOrder(t, newStore) })
	t.Run("InsertionOrderOnEqualTimestamps", func(t *testing.T) { testInsertionOrder(t, newStore) })
	t.Run("RetryVisibility", func(t *testing.T) { testRetryVisibility(t, newStore) })
	t.Run("AttemptCeiling", func(t *testing.T) { testAttemptCeiling(t, newStore) })
	t.Run("IllegalTransitionWritesNothing", func(t *testing.T) { testIllegalTransition(t, newStore) })
	t.Run("TerminalStatesAreFinal", func(t *testing.T) { testTerminalStates(t, newStore) })
	t.Run("UnknownJob", func(t *testing.T) { testUnknownJob(t, newStore) })
	t.Run("ClaimRace", func(t *testing.T) { testClaimRace(t, newStore) })
	t.Run("CompareAndSwapConflict", func(t *testing.T) { testCompareAndSwapConflict(t, newStore) })
	t.Run("ListFilter", func(t *testing.T) { testListFilter(t, newStore) })
}

func newQueue(t *testing.T, newStore Factory) (*queue.Queue, *Clock) {
	clock := NewClock()
	return queue.New(newStore(t), queue.WithClock(clock.Now)), clock
}

func enqueue(t *testing.T, q *queue.Queue, id string) *models.Job {
	job, err := q.Enqueue(context.Background(), queue.EnqueueRequest{
		JobID:    id,
		BlobID:   "blob-" + id,
		UserID:   "user-1",
		SchemaID: "invoice",
	})
	require.NoError(t, err, "Enqueue %s should succeed", id)
	return job
}

func testEnqueueStartsQueued(t *testing.T, newStore Factory) {
	q, clock := newQueue(t, newStore)
	ctx := context.Background()

	job := enqueue(t, q, "job-a")

	assert.Equal(t, models.JobStateQueued, job.State)
	assert.Equal(t, 0, job.Attempt)
	assert.Equal(t, queue.DefaultMaxAttempts, job.MaxAttempts)
	assert.True(t, job.NextVisibleAt.Equal(clock.Now()), "New job should be visible immediately")

	stored, err := q.Get(ctx, "job-a")
	require.NoError(t, err)
	assert.Equal(t, models.JobStateQueued, stored.State)
	assert.Equal(t, "blob-job-a", stored.BlobID)
	assert.Equal(t, "invoice", stored.SchemaID)
	assert.True(t, stored.CreatedAt.Equal(clock.Now()))
}

func testDuplicateEnqueue(t *testing.T, newStore Factory) {
	q, _ := newQueue(t, newStore)

	enqueue(t, q, "job-a")
	_, err := q.Enqueue(context.Background(), queue.EnqueueRequest{JobID: "job-a", BlobID: "b", UserID: "u"})

	assert.ErrorIs(t, err, queue.ErrJobAlreadyExists)
}

func testFIFOOrder(t *testing.T, newStore Factory) {
	q, clock := newQueue(t, newStore)
	ctx := context.Background()

	// Setup: A is enqueued before B
	enqueue(t, q, "job-a")
	clock.Advance(time.Millisecond)
	enqueue(t, q, "job-b")

	// Test: A comes out first
	next, err := q.GetNextQueued(ctx, clock.Now())
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, "job-a", next.JobID)

	// Verify: once A runs, B is next
	running, err := q.MarkRunning(ctx, "job-a")
	require.NoError(t, err)
	assert.Equal(t, models.JobStateRunning, running.State)
	assert.Equal(t, 1, running.Attempt)

	next, err = q.GetNextQueued(ctx, clock.Now())
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, "job-b", next.JobID)
}

func testInsertionOrder(t *testing.T, newStore Factory) {
	q, clock := newQueue(t, newStore)
	ctx := context.Background()

	// Same timestamp for every job
	for _, id := range []string{"job-c", "job-a", "job-b"} {
		enqueue(t, q, id)
	}

	jobs, err := q.List(ctx, models.JobStateQueued)
	require.NoError(t, err)
	require.Len(t, jobs, 3)
	assert.Equal(t, "job-c", jobs[0].JobID)
	assert.Equal(t, "job-a", jobs[1].JobID)
	assert.Equal(t, "job-b", jobs[2].JobID)

	next, err := q.GetNextQueued(ctx, clock.Now())
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, "job-c", next.JobID)
}

func testRetryVisibility(t *testing.T, newStore Factory) {
	q, clock := newQueue(t, newStore)
	ctx := context.Background()

	enqueue(t, q, "job-a")
	job, err := q.ClaimNext(ctx, clock.Now())
	require.NoError(t, err)
	require.NotNil(t, job)

	// Setup: retry due 100ms from now
	due := clock.Now().Add(100 * time.Millisecond)
	perr := models.NewProcessingError(models.ErrCodeTimeout, models.StageOCR, "engine timed out")
	retrying, err := q.ScheduleRetry(ctx, "job-a", due, perr)
	require.NoError(t, err)
	assert.Equal(t, models.JobStateRetrying, retrying.State)
	assert.Equal(t, models.ErrCodeTimeout, retrying.ErrorCode)
	assert.True(t, retrying.Retryable)

	// Test: invisible before it is due
	next, err := q.GetNextQueued(ctx, clock.Advance(99*time.Millisecond))
	require.NoError(t, err)
	assert.Nil(t, next, "Job must stay hidden before next_visible_at")

	stored, err := q.Get(ctx, "job-a")
	require.NoError(t, err)
	assert.Equal(t, models.JobStateRetrying, stored.State)

	// Verify: visible once due, and promoted back to QUEUED
	next, err = q.GetNextQueued(ctx, clock.Advance(time.Millisecond))
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, "job-a", next.JobID)
	assert.Equal(t, models.JobStateQueued, next.State)
	assert.True(t, next.NextVisibleAt.Equal(due))

	running, err := q.MarkRunning(ctx, "job-a")
	require.NoError(t, err)
	assert.Equal(t, 2, running.Attempt)
}

func testAttemptCeiling(t *testing.T, newStore Factory) {
	q, clock := newQueue(t, newStore)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, queue.EnqueueRequest{JobID: "job-a", BlobID: "b", UserID: "u", MaxAttempts: 1})
	require.NoError(t, err)

	_, err = q.MarkRunning(ctx, "job-a")
	require.NoError(t, err)
	perr := models.NewProcessingError(models.ErrCodeTimeout, models.StageOCR, "")
	_, err = q.ScheduleRetry(ctx, "job-a", clock.Now(), perr)
	require.NoError(t, err)

	next, err := q.GetNextQueued(ctx, clock.Now())
	require.NoError(t, err)
	require.NotNil(t, next)

	// Test: second start exceeds the ceiling
	_, err = q.MarkRunning(ctx, "job-a")
	assert.ErrorIs(t, err, queue.ErrAttemptsExhausted)

	stored, err := q.Get(ctx, "job-a")
	require.NoError(t, err)
	assert.Equal(t, models.JobStateQueued, stored.State, "Refused start must not write")
	assert.Equal(t, 1, stored.Attempt)

	// Verify: the job can still be failed from QUEUED
	failed, err := q.MarkFailed(ctx, "job-a", perr)
	require.NoError(t, err)
	assert.Equal(t, models.JobStateFailed, failed.State)
	assert.Equal(t, models.ErrCodeTimeout, failed.ErrorCode)
}

func testIllegalTransition(t *testing.T, newStore Factory) {
	q, clock := newQueue(t, newStore)
	ctx := context.Background()

	enqueue(t, q, "job-a")
	before, err := q.Get(ctx, "job-a")
	require.NoError(t, err)

	clock.Advance(time.Second)

	// QUEUED -> SUCCEEDED is not an edge
	_, err = q.MarkSucceeded(ctx, "job-a", "ocr", "schema", 0.9)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	// QUEUED -> RETRYING is not an edge
	_, err = q.ScheduleRetry(ctx, "job-a", clock.Now(), models.NewProcessingError(models.ErrCodeTimeout, models.StageOCR, ""))
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	after, err := q.Get(ctx, "job-a")
	require.NoError(t, err)
	assert.Equal(t, before.State, after.State)
	assert.True(t, before.UpdatedAt.Equal(after.UpdatedAt), "Rejected transition must not touch the record")
	assert.Empty(t, after.OCRArtifactID)
}

func testTerminalStates(t *testing.T, newStore Factory) {
	q, _ := newQueue(t, newStore)
	ctx := context.Background()

	enqueue(t, q, "job-a")
	_, err := q.MarkRunning(ctx, "job-a")
	require.NoError(t, err)

	done, err := q.MarkSucceeded(ctx, "job-a", "ocr-1", "schema-1", 0.83)
	require.NoError(t, err)
	assert.Equal(t, models.JobStateSucceeded, done.State)
	assert.Equal(t, "ocr-1", done.OCRArtifactID)
	assert.Equal(t, "schema-1", done.SchemaArtifactID)
	assert.InDelta(t, 0.83, done.QualityScore, 1e-9)

	perr := models.NewProcessingError(models.ErrCodeInternal, models.StageOCR, "")
	_, err = q.MarkFailed(ctx, "job-a", perr)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
	_, err = q.MarkRunning(ctx, "job-a")
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	stored, err := q.Get(ctx, "job-a")
	require.NoError(t, err)
	assert.Equal(t, models.JobStateSucceeded, stored.State)
	assert.Empty(t, stored.ErrorCode)
}

func testUnknownJob(t *testing.T, newStore Factory) {
	q, _ := newQueue(t, newStore)
	ctx := context.Background()

	_, err := q.Get(ctx, "missing")
	assert.ErrorIs(t, err, queue.ErrJobNotFound)

	_, err = q.MarkRunning(ctx, "missing")
	assert.ErrorIs(t, err, queue.ErrJobNotFound)
}

func testClaimRace(t *testing.T, newStore Factory) {
	clock := NewClock()
	store := newStore(t)
	first := queue.New(store, queue.WithClock(clock.Now))
	second := queue.New(store, queue.WithClock(clock.Now))
	ctx := context.Background()

	enqueue(t, first, "job-a")

	// Setup: both processors see the same head
	seen, err := first.GetNextQueued(ctx, clock.Now())
	require.NoError(t, err)
	require.NotNil(t, seen)

	claimed, err := second.ClaimNext(ctx, clock.Now())
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, "job-a", claimed.JobID)

	// Test: the slower processor loses
	_, err = first.MarkRunning(ctx, seen.JobID)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	next, err := first.ClaimNext(ctx, clock.Now())
	require.NoError(t, err)
	assert.Nil(t, next, "Nothing left to claim")

	stored, err := first.Get(ctx, "job-a")
	require.NoError(t, err)
	assert.Equal(t, 1, stored.Attempt, "Attempt counted once")
}

func testCompareAndSwapConflict(t *testing.T, newStore Factory) {
	store := newStore(t)
	q := queue.New(store, queue.WithClock(NewClock().Now))
	ctx := context.Background()

	job := enqueue(t, q, "job-a")

	stale := models.StartJob(*job, Epoch)
	err := store.CompareAndSwap(ctx, &stale, models.JobStateRunning)
	assert.ErrorIs(t, err, queue.ErrStateConflict)

	missing := stale
	missing.JobID = "missing"
	err = store.CompareAndSwap(ctx, &missing, models.JobStateQueued)
	assert.ErrorIs(t, err, queue.ErrJobNotFound)

	require.NoError(t, store.CompareAndSwap(ctx, &stale, models.JobStateQueued))
	stored, err := store.Get(ctx, "job-a")
	require.NoError(t, err)
	assert.Equal(t, models.JobStateRunning, stored.State)
}

func testListFilter(t *testing.T, newStore Factory) {
	q, clock := newQueue(t, newStore)
	ctx := context.Background()

	enqueue(t, q, "job-a")
	clock.Advance(time.Millisecond)
	enqueue(t, q, "job-b")
	_, err := q.MarkRunning(ctx, "job-b")
	require.NoError(t, err)

	all, err := q.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "job-a", all[0].JobID)
	assert.Equal(t, "job-b", all[1].JobID)

	running, err := q.List(ctx, models.JobStateRunning)
	require.NoError(t, err)
	require.Len(t, running, 1)
	assert.Equal(t, "job-b", running[0].JobID)

	none, err := q.List(ctx, models.JobStateFailed)
	require.NoError(t, err)
	assert.Empty(t, none)
}
