package services_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trobanga/rythmiq/internal/lib"
	"github.com/trobanga/rythmiq/internal/models"
	"github.com/trobanga/rythmiq/internal/queue"
	"github.com/trobanga/rythmiq/internal/queue/queuetest"
	"github.com/trobanga/rythmiq/internal/services"
)

func newFileStore(t *testing.T) *services.FileStore {
	t.Helper()
	store, err := services.NewFileStore(filepath.Join(t.TempDir(), "jobs"), lib.NopLogger())
	require.NoError(t, err, "NewFileStore should succeed")
	return store
}

func TestFileStore(t *testing.T) {
	queuetest.Run(t, func(t *testing.T) queue.Store {
		return newFileStore(t)
	})
}

// TestFileStore_StateFileLayout checks the on-disk record is readable JSON
func TestFileStore_StateFileLayout(t *testing.T) {
	// Setup
	store := newFileStore(t)
	q := queue.New(store, queue.WithClock(queuetest.NewClock().Now))
	ctx := context.Background()

	_, err := q.Enqueue(ctx, queue.EnqueueRequest{JobID: "job-a", BlobID: "blob-1", UserID: "user-1"})
	require.NoError(t, err)

	// Verify: state file exists with snake_case keys
	data, err := os.ReadFile(services.GetStateFilePath(store.Dir(), "job-a"))
	require.NoError(t, err, "State file should exist after enqueue")

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "job-a", raw["job_id"])
	assert.Equal(t, "QUEUED", raw["state"])
	assert.Equal(t, "blob-1", raw["blob_id"])
	assert.EqualValues(t, 1, raw["seq"])

	// Verify: no temp files left behind
	entries, err := os.ReadDir(services.GetJobDir(store.Dir(), "job-a"))
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp.", "Temp file should be renamed away")
	}
}

func TestFileStore_PersistsAcrossInstances(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "jobs")
	ctx := context.Background()

	first, err := services.NewFileStore(dir, nil)
	require.NoError(t, err)
	_, err = queue.New(first).Enqueue(ctx, queue.EnqueueRequest{JobID: "job-a", BlobID: "b", UserID: "u"})
	require.NoError(t, err)

	second, err := services.NewFileStore(dir, nil)
	require.NoError(t, err)
	job, err := second.Get(ctx, "job-a")
	require.NoError(t, err)
	assert.Equal(t, models.JobStateQueued, job.State)
}

func TestFileStore_CorruptStateFile(t *testing.T) {
	store := newFileStore(t)
	ctx := context.Background()

	jobDir := services.GetJobDir(store.Dir(), "job-a")
	require.NoError(t, os.MkdirAll(jobDir, 0755))
	require.NoError(t, os.WriteFile(services.GetStateFilePath(store.Dir(), "job-a"), []byte("{not json"), 0644))

	_, err := store.Get(ctx, "job-a")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse job state")
}

func TestFileStore_RejectsUnsafeIDs(t *testing.T) {
	store := newFileStore(t)
	ctx := context.Background()

	err := store.Create(ctx, &models.Job{JobID: "../escape", BlobID: "b", UserID: "u", State: models.JobStateQueued, MaxAttempts: 1})
	assert.Error(t, err)

	_, err = store.Get(ctx, "../escape")
	assert.ErrorIs(t, err, queue.ErrJobNotFound)
}

// TestFileStore_ConcurrentClaims runs several queues over one directory and
// checks every job is claimed exactly once
func TestFileStore_ConcurrentClaims(t *testing.T) {
	store := newFileStore(t)
	clock := queuetest.NewClock()
	ctx := context.Background()

	const jobs = 8
	producer := queue.New(store, queue.WithClock(clock.Now))
	for i := 0; i < jobs; i++ {
		_, err := producer.Enqueue(ctx, queue.EnqueueRequest{
			JobID:  "job-" + string(rune('a'+i)),
			BlobID: "b",
			UserID: "u",
		})
		require.NoError(t, err)
	}

	var (
		mu      sync.Mutex
		claimed = make(map[string]int)
		wg      sync.WaitGroup
	)
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q := queue.New(store, queue.WithClock(clock.Now))
			for {
				job, err := q.ClaimNext(ctx, clock.Now())
				if err != nil {
					t.Errorf("ClaimNext failed: %v", err)
					return
				}
				if job == nil {
					return
				}
				mu.Lock()
				claimed[job.JobID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, claimed, jobs)
	for id, n := range claimed {
		assert.Equal(t, 1, n, "job %s claimed more than once", id)
	}
}
