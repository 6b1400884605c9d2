package models

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Validate checks if a Job has valid fields
func (j *Job) Validate() error {
	if j.JobID == "" {
		return errors.New("job_id is required")
	}
	if j.BlobID == "" {
		return errors.New("blob_id is required")
	}
	if j.UserID == "" {
		return errors.New("user_id is required")
	}

	if !IsValidJobState(j.State) {
		return fmt.Errorf("invalid state: %s", j.State)
	}

	if j.MaxAttempts < 1 {
		return errors.New("max_attempts must be at least 1")
	}
	if j.Attempt < 0 {
		return errors.New("attempt cannot be negative")
	}
	if j.Attempt > j.MaxAttempts {
		return fmt.Errorf("attempt %d exceeds max_attempts %d", j.Attempt, j.MaxAttempts)
	}

	if j.QualityScore < 0 || j.QualityScore > 1 {
		return fmt.Errorf("quality_score must be in [0,1], got %v", j.QualityScore)
	}

	// The persisted error code must come from the closed taxonomy
	if j.ErrorCode != "" && !IsValidErrorCode(j.ErrorCode) {
		return fmt.Errorf("invalid error_code: %s", j.ErrorCode)
	}

	return nil
}

// Validate checks if a ProjectConfig has valid fields
func (c *ProjectConfig) Validate() error {
	// Validate retry configuration
	if c.Retry.MaxAttempts < 1 || c.Retry.MaxAttempts > 10 {
		return errors.New("max_attempts must be between 1 and 10")
	}
	if c.Retry.InitialBackoffMs <= 0 {
		return errors.New("initial_backoff_ms must be positive")
	}
	if c.Retry.MaxBackoffMs <= 0 {
		return errors.New("max_backoff_ms must be positive")
	}
	if c.Retry.InitialBackoffMs > c.Retry.MaxBackoffMs {
		return errors.New("initial_backoff_ms must not exceed max_backoff_ms")
	}

	switch c.Queue.Driver {
	case QueueDriverMemory:
	case QueueDriverFile:
		if c.Queue.JobsDir == "" {
			return errors.New("queue.jobs_dir is required for the file driver")
		}
	case QueueDriverSQLite, QueueDriverPostgres:
		if c.Queue.DSN == "" {
			return fmt.Errorf("queue.dsn is required for the %s driver", c.Queue.Driver)
		}
	default:
		return fmt.Errorf("unrecognized queue driver: %s", c.Queue.Driver)
	}

	if c.Storage.DataDir == "" {
		return errors.New("storage.data_dir is required")
	}
	if c.Schemas.Dir == "" {
		return errors.New("schemas.dir is required")
	}

	switch c.Extraction.Engine {
	case EngineAuto, EngineText, EnginePDF, EngineTesseract:
	default:
		return fmt.Errorf("unrecognized extraction engine: %s", c.Extraction.Engine)
	}
	if c.Extraction.TimeoutSeconds <= 0 {
		return fmt.Errorf("extraction.timeout_seconds must be > 0, got %d", c.Extraction.TimeoutSeconds)
	}
	if c.Extraction.MaxBytes <= 0 {
		return fmt.Errorf("extraction.max_bytes must be > 0, got %d", c.Extraction.MaxBytes)
	}

	if c.Telemetry.RedisAddr != "" && c.Telemetry.Stream == "" {
		return errors.New("telemetry.stream is required when telemetry.redis_addr is set")
	}

	switch strings.ToLower(c.Logging.Format) {
	case "", "json", "console":
	default:
		return fmt.Errorf("unrecognized logging format: %s", c.Logging.Format)
	}

	if c.Worker.BatchSize < 1 {
		return errors.New("worker.batch_size must be at least 1")
	}

	return nil
}

// ValidateDataDir checks if a data directory exists and is writable
// Creates the directory automatically if it doesn't exist
func ValidateDataDir(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			if err := os.MkdirAll(path, 0755); err != nil {
				return fmt.Errorf("failed to create data directory: %w", err)
			}
			return nil
		}
		return fmt.Errorf("cannot access data directory: %w", err)
	}

	if !info.IsDir() {
		return fmt.Errorf("data directory is not a directory: %s", path)
	}

	// Check write permission by attempting to create a temp file
	testFile := filepath.Join(path, ".write_test_"+uuid.New().String())
	f, err := os.Create(testFile)
	if err != nil {
		return fmt.Errorf("data directory is not writable: %w", err)
	}
	_ = f.Close()
	_ = os.Remove(testFile)

	return nil
}

// IsSafeID reports whether an identifier can be used as a single path element
func IsSafeID(id string) bool {
	if id == "" || id == "." || id == ".." {
		return false
	}
	return !strings.ContainsAny(id, `/\`) && !strings.ContainsRune(id, 0)
}
