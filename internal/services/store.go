package services

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/trobanga/rythmiq/internal/lib"
	"github.com/trobanga/rythmiq/internal/models"
	"github.com/trobanga/rythmiq/internal/queue"
)

// OpenStore builds the job store selected by the queue config.
// The returned close function releases database handles; it is never nil.
func OpenStore(ctx context.Context, cfg *models.ProjectConfig, logger *lib.Logger) (queue.Store, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Queue.Driver {
	case models.QueueDriverMemory:
		return queue.NewMemoryStore(), noop, nil

	case models.QueueDriverFile, "":
		jobsDir := cfg.Queue.JobsDir
		if jobsDir == "" {
			jobsDir = filepath.Join(cfg.Storage.DataDir, "jobs")
		}
		store, err := NewFileStore(jobsDir, logger)
		if err != nil {
			return nil, nil, err
		}
		return store, noop, nil

	case models.QueueDriverSQLite:
		store, err := queue.OpenSQLStore(ctx, queue.DialectSQLite, cfg.Queue.DSN)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil

	case models.QueueDriverPostgres:
		store, err := queue.OpenSQLStore(ctx, queue.DialectPostgres, cfg.Queue.DSN)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil

	default:
		return nil, nil, fmt.Errorf("unrecognized queue driver: %s", cfg.Queue.Driver)
	}
}
