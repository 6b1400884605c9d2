//go:build windows

package services

import (
	"fmt"
	"os"
	"syscall"
	"unsafe"

	"github.com/trobanga/rythmiq/internal/lib"
)

var (
	kernel32         = syscall.NewLazyDLL("kernel32.dll")
	procLockFileEx   = kernel32.NewProc("LockFileEx")
	procUnlockFileEx = kernel32.NewProc("UnlockFileEx")
)

const (
	LOCKFILE_FAIL_IMMEDIATELY = 0x00000001
	LOCKFILE_EXCLUSIVE_LOCK   = 0x00000002
	ERROR_LOCK_VIOLATION      = syscall.Errno(33) // File is locked by another process
)

func lockFileEx(f *os.File, flags uintptr) error {
	overlapped := syscall.Overlapped{}
	r1, _, err := procLockFileEx.Call(
		uintptr(syscall.Handle(f.Fd())),
		flags,
		0,
		uintptr(1),
		0,
		uintptr(unsafe.Pointer(&overlapped)),
	)
	if r1 == 0 {
		return err
	}
	return nil
}

func unlockFileEx(f *os.File) error {
	overlapped := syscall.Overlapped{}
	_, _, err := procUnlockFileEx.Call(
		uintptr(syscall.Handle(f.Fd())),
		0,
		uintptr(1),
		0,
		uintptr(unsafe.Pointer(&overlapped)),
	)
	if err != syscall.Errno(0) {
		return err
	}
	return nil
}

// acquireLock takes an exclusive lock on lockPath (Windows implementation).
// With wait false it fails with ErrLocked instead of blocking.
func acquireLock(lockPath string, name string, wait bool, logger *lib.Logger) (*FileLock, error) {
	lockFile, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file: %w", err)
	}

	flags := uintptr(LOCKFILE_EXCLUSIVE_LOCK)
	if !wait {
		flags |= LOCKFILE_FAIL_IMMEDIATELY
	}

	if err := lockFileEx(lockFile, flags); err != nil {
		_ = lockFile.Close()
		if err == ERROR_LOCK_VIOLATION {
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

// Release releases the lock (Windows implementation)
func (fl *FileLock) Release() error {
	if fl.lockFile == nil {
		return nil
	}

	if err := unlockFileEx(fl.lockFile); err != nil {
		fl.logger.Warn("Failed to release lock", "lock", fl.name, "error", err)
	}

	if err := fl.lockFile.Close(); err != nil {
		fl.logger.Warn("Failed to close lock file", "lock", fl.name, "error", err)
		return err
	}

	fl.logger.Debug("Released lock", "lock", fl.name, "pid", os.Getpid())
	fl.lockFile = nil
	return nil
}

// isLocked probes lockPath without keeping the lock (Windows implementation)
func isLocked(lockPath string) bool {
	lockFile, err := os.Open(lockPath)
	if err != nil {
		return false
	}
	defer func() {
		_ = lockFile.Close()
	}()

	if err := lockFileEx(lockFile, LOCKFILE_EXCLUSIVE_LOCK|LOCKFILE_FAIL_IMMEDIATELY); err != nil {
		return err == ERROR_LOCK_VIOLATION
	}

	_ = unlockFileEx(lockFile)
	return false
}
