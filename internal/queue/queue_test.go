package queue_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trobanga/rythmiq/internal/models"
	"github.com/trobanga/rythmiq/internal/queue"
	"github.com/trobanga/rythmiq/internal/queue/queuetest"
)

func TestMemoryStore(t *testing.T) {
	queuetest.Run(t, func(t *testing.T) queue.Store {
		return queue.NewMemoryStore()
	})
}

func TestSQLStore_SQLite(t *testing.T) {
	queuetest.Run(t, func(t *testing.T) queue.Store {
		return openSQLite(t)
	})
}

func openSQLite(t *testing.T) *queue.SQLStore {
	t.Helper()
	store, err := queue.OpenSQLStore(context.Background(), queue.DialectSQLite, filepath.Join(t.TempDir(), "jobs.db"))
	require.NoError(t, err, "OpenSQLStore should succeed")
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

func TestSQLStore_SchemaIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.db")
	ctx := context.Background()

	first, err := queue.OpenSQLStore(ctx, queue.DialectSQLite, path)
	require.NoError(t, err)
	q := queue.New(first)
	_, err = q.Enqueue(ctx, queue.EnqueueRequest{JobID: "job-a", BlobID: "b", UserID: "u"})
	require.NoError(t, err)
	require.NoError(t, first.Close())

	// Reopening keeps existing rows
	second, err := queue.OpenSQLStore(ctx, queue.DialectSQLite, path)
	require.NoError(t, err)
	defer func() { _ = second.Close() }()

	job, err := second.Get(ctx, "job-a")
	require.NoError(t, err)
	assert.Equal(t, models.JobStateQueued, job.State)
}

func TestOpenSQLStore_UnknownDialect(t *testing.T) {
	_, err := queue.OpenSQLStore(context.Background(), queue.Dialect("oracle"), "x")
	assert.Error(t, err)
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	store := queue.NewMemoryStore()
	q := queue.New(store)
	ctx := context.Background()

	job, err := q.Enqueue(ctx, queue.EnqueueRequest{JobID: "job-a", BlobID: "b", UserID: "u"})
	require.NoError(t, err)
	job.State = models.JobStateFailed

	stored, err := store.Get(ctx, "job-a")
	require.NoError(t, err)
	stored.BlobID = "changed"

	again, err := store.Get(ctx, "job-a")
	require.NoError(t, err)
	assert.Equal(t, models.JobStateQueued, again.State)
	assert.Equal(t, "b", again.BlobID)
}

func TestEnqueue_RejectsInvalidJob(t *testing.T) {
	q := queue.New(queue.NewMemoryStore())

	_, err := q.Enqueue(context.Background(), queue.EnqueueRequest{JobID: "job-a", UserID: "u"})
	assert.Error(t, err, "blob_id is required")

	_, err = q.Get(context.Background(), "job-a")
	assert.ErrorIs(t, err, queue.ErrJobNotFound)
}

func TestWithMaxAttempts(t *testing.T) {
	q := queue.New(queue.NewMemoryStore(), queue.WithMaxAttempts(5))

	job, err := q.Enqueue(context.Background(), queue.EnqueueRequest{JobID: "job-a", BlobID: "b", UserID: "u"})
	require.NoError(t, err)
	assert.Equal(t, 5, job.MaxAttempts)

	job, err = q.Enqueue(context.Background(), queue.EnqueueRequest{JobID: "job-b", BlobID: "b", UserID: "u", MaxAttempts: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, job.MaxAttempts, "Request ceiling wins over the queue default")
}
