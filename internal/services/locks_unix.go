//go:build unix

package services

import (
	"fmt"
	"os"
	"syscall"

	"github.com/trobanga/rythmiq/internal/lib"
)

// acquireLock takes an exclusive flock on lockPath (Unix implementation).
// With wait false it fails with ErrLocked instead of blocking.
func acquireLock(lockPath string, name string, wait bool, logger *lib.Logger) (*FileLock, error) {
	lockFile, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file: %w", err)
	}

	how := syscall.LOCK_EX
	if !wait {
		how |= syscall.LOCK_NB
	}

	// flock() is advisory - cooperating processes must check the lock
	if err := syscall.Flock(int(lockFile.Fd()), how); err != nil {
		_ = lockFile.Close()
		if err == syscall.EWOULDBLOCK {
			return nil, fmt.Errorf("%s: %w", name, ErrLocked)
		}
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}

	lock := &FileLock{
		name:     name,
		lockFile: lockFile,
		lockPath: lockPath,
		logger:   logger,
	}

	if !wait {
		if err := lock.writeLockInfo(); err != nil {
			logger.Warn("Failed to write lock info", "lock", name, "error", err)
		}
	}

	logger.Debug("Acquired lock", "lock", name, "pid", os.Getpid())
	return lock, nil
}

// Release releases the lock (Unix implementation)
func (fl *FileLock) Release() error {
	if fl.lockFile == nil {
		return nil
	}

	if err := syscall.Flock(int(fl.lockFile.Fd()), syscall.LOCK_UN); err != nil {
		fl.logger.Warn("Failed to release flock", "lock", fl.name, "error", err)
	}

	if err := fl.lockFile.Close(); err != nil {
		fl.logger.Warn("Failed to close lock file", "lock", fl.name, "error", err)
		return err
	}

	fl.logger.Debug("Released lock", "lock", fl.name, "pid", os.Getpid())
	fl.lockFile = nil
	return nil
}

// isLocked probes lockPath without keeping the lock (Unix implementation)
func isLocked(lockPath string) bool {
	lockFile, err := os.Open(lockPath)
	if err != nil {
		return false
	}
	defer func() {
		_ = lockFile.Close()
	}()

	if err := syscall.Flock(int(lockFile.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		return err == syscall.EWOULDBLOCK
	}

	_ = syscall.Flock(int(lockFile.Fd()), syscall.LOCK_UN)
	return false
}
