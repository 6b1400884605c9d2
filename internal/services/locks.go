package services

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/trobanga/rythmiq/internal/lib"
)

// ErrLocked is returned when a non-blocking lock is held by another process
var ErrLocked = errors.New("locked by another process")

const (
	lockFileName   = ".lock"
	workerLockName = ".worker.lock"
)

// FileLock is an advisory lock on a file.
// Cooperating processes must take the same lock before touching guarded state.
type FileLock struct {
	name     string
	lockFile *os.File
	lockPath string
	logger   *lib.Logger
}

// WithJobLock executes fn while holding the lock of one job directory.
// Blocks until the lock is free.
func WithJobLock(jobsDir string, jobID string, logger *lib.Logger, fn func() error) error {
	return withLock(filepath.Join(GetJobDir(jobsDir, jobID), lockFileName), jobID, logger, fn)
}

// WithDirLock executes fn while holding the lock of a whole directory.
// Blocks until the lock is free.
func WithDirLock(dir string, logger *lib.Logger, fn func() error) error {
	return withLock(filepath.Join(dir, lockFileName), dir, logger, fn)
}

func withLock(lockPath string, name string, logger *lib.Logger, fn func() error) error {
	if err := os.MkdirAll(filepath.Dir(lockPath), 0755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}
	lock, err := acquireLock(lockPath, name, true, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			logger.Error("Failed to release lock", "lock", name, "error", err)
		}
	}()

	return fn()
}

// AcquireWorkerLock takes the single-processor lock of a data directory
// without waiting. Returns ErrLocked if another worker holds it.
func AcquireWorkerLock(dataDir string, logger *lib.Logger) (*FileLock, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return acquireLock(filepath.Join(dataDir, workerLockName), "worker", false, logger)
}

// IsWorkerRunning checks if a worker currently holds the lock of a data directory
func IsWorkerRunning(dataDir string) bool {
	return isLocked(filepath.Join(dataDir, workerLockName))
}

// writeLockInfo writes debug information to the lock file
func (fl *FileLock) writeLockInfo() error {
	lockInfo := fmt.Sprintf("pid=%d\ntime=%s\n", os.Getpid(), time.Now().Format(time.RFC3339))
	_ = fl.lockFile.Truncate(0)
	_, _ = fl.lockFile.Seek(0, 0)
	_, _ = fl.lockFile.WriteString(lockInfo)
	return fl.lockFile.Sync()
}
