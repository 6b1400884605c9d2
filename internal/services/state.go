package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/trobanga/rythmiq/internal/lib"
	"github.com/trobanga/rythmiq/internal/models"
	"github.com/trobanga/rythmiq/internal/queue"
)

const (
	StateFileName = "state.json"
	seqFileName   = ".seq"
)

// Compile-time interface check.
var _ queue.Store = (*FileStore)(nil)

// GetJobDir returns the directory path for a specific job
func GetJobDir(jobsBaseDir string, jobID string) string {
	return filepath.Join(jobsBaseDir, jobID)
}

// GetStateFilePath returns the full path to a job's state file
func GetStateFilePath(jobsBaseDir string, jobID string) string {
	return filepath.Join(GetJobDir(jobsBaseDir, jobID), StateFileName)
}

// jobRecord is the on-disk form of a job. Seq breaks ties between jobs
// created in the same instant.
type jobRecord struct {
	models.Job
	Seq int64 `json:"seq"`
}

// FileStore keeps one state.json per job under jobsDir.
// Writes to a job are serialized by its directory lock, so the
// compare-and-swap holds across processes sharing the directory.
type FileStore struct {
	jobsDir string
	logger  *lib.Logger
}

// NewFileStore creates the jobs directory if needed
func NewFileStore(jobsDir string, logger *lib.Logger) (*FileStore, error) {
	if logger == nil {
		logger = lib.NopLogger()
	}
	if err := os.MkdirAll(jobsDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create jobs directory: %w", err)
	}
	return &FileStore{jobsDir: jobsDir, logger: logger}, nil
}

// Dir returns the jobs directory
func (s *FileStore) Dir() string {
	return s.jobsDir
}

// Create writes a new job
func (s *FileStore) Create(ctx context.Context, job *models.Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !models.IsSafeID(job.JobID) {
		return fmt.Errorf("unsafe job id %q", job.JobID)
	}

	return WithDirLock(s.jobsDir, s.logger, func() error {
		if _, err := os.Stat(GetStateFilePath(s.jobsDir, job.JobID)); err == nil {
			return queue.ErrJobAlreadyExists
		}
		seq, err := s.nextSeq()
		if err != nil {
			return err
		}
		return saveRecord(s.jobsDir, &jobRecord{Job: *job, Seq: seq})
	})
}

// Get loads a job
func (s *FileStore) Get(ctx context.Context, jobID string) (*models.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !models.IsSafeID(jobID) {
		return nil, queue.ErrJobNotFound
	}
	rec, err := loadRecord(s.jobsDir, jobID)
	if err != nil {
		return nil, err
	}
	return &rec.Job, nil
}

// List loads every job, oldest first
func (s *FileStore) List(ctx context.Context, state models.JobState) ([]*models.Job, error) {
	ids, err := ListAllJobs(s.jobsDir)
	if err != nil {
		return nil, err
	}

	records := make([]*jobRecord, 0, len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, err := loadRecord(s.jobsDir, id)
		if err != nil {
			if errors.Is(err, queue.ErrJobNotFound) {
				continue
			}
			return nil, err
		}
		if state != "" && rec.State != state {
			continue
		}
		records = append(records, rec)
	}

	sort.Slice(records, func(i, k int) bool {
		if !records[i].CreatedAt.Equal(records[k].CreatedAt) {
			return records[i].CreatedAt.Before(records[k].CreatedAt)
		}
		return records[i].Seq < records[k].Seq
	})

	jobs := make([]*models.Job, len(records))
	for i, rec := range records {
		jobs[i] = &rec.Job
	}
	return jobs, nil
}

// CompareAndSwap replaces the job while holding its lock, if it is still in expected
func (s *FileStore) CompareAndSwap(ctx context.Context, job *models.Job, expected models.JobState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !models.IsSafeID(job.JobID) {
		return queue.ErrJobNotFound
	}
	if _, err := os.Stat(GetJobDir(s.jobsDir, job.JobID)); os.IsNotExist(err) {
		return queue.ErrJobNotFound
	}

	return WithJobLock(s.jobsDir, job.JobID, s.logger, func() error {
		current, err := loadRecord(s.jobsDir, job.JobID)
		if err != nil {
			return err
		}
		if current.State != expected {
			return queue.ErrStateConflict
		}
		return saveRecord(s.jobsDir, &jobRecord{Job: *job, Seq: current.Seq})
	})
}

// nextSeq bumps the creation counter. Caller holds the directory lock.
func (s *FileStore) nextSeq() (int64, error) {
	path := filepath.Join(s.jobsDir, seqFileName)

	var seq int64
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		seq, err = strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("corrupt sequence file: %w", err)
		}
	case !os.IsNotExist(err):
		return 0, fmt.Errorf("failed to read sequence file: %w", err)
	}

	seq++
	if err := writeFileAtomic(s.jobsDir, seqFileName, []byte(strconv.FormatInt(seq, 10))); err != nil {
		return 0, err
	}
	return seq, nil
}

// loadRecord reads a job's state from disk
func loadRecord(jobsBaseDir string, jobID string) (*jobRecord, error) {
	data, err := os.ReadFile(GetStateFilePath(jobsBaseDir, jobID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, queue.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to read job state: %w", err)
	}

	var rec jobRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to parse job state: %w", err)
	}

	if err := rec.Validate(); err != nil {
		return nil, fmt.Errorf("invalid job state loaded from disk: %w", err)
	}

	return &rec, nil
}

// saveRecord writes a job's state to disk with atomic write
func saveRecord(jobsBaseDir string, rec *jobRecord) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("cannot save invalid job: %w", err)
	}

	jobDir := GetJobDir(jobsBaseDir, rec.JobID)
	if err := os.MkdirAll(jobDir, 0755); err != nil {
		return fmt.Errorf("failed to create job directory: %w", err)
	}

	// Indented for human readability
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal job state: %w", err)
	}

	return writeFileAtomic(jobDir, StateFileName, data)
}

// writeFileAtomic writes through a temp file and rename so readers never
// see a partial file
func writeFileAtomic(dir, name string, data []byte) error {
	tempFile := filepath.Join(dir, fmt.Sprintf(".%s.tmp.%s", name, uuid.New().String()))
	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := os.Rename(tempFile, filepath.Join(dir, name)); err != nil {
		_ = os.Remove(tempFile)
		return fmt.Errorf("failed to replace %s: %w", name, err)
	}
	return nil
}

// ListAllJobs scans the jobs directory and returns all job IDs
func ListAllJobs(jobsBaseDir string) ([]string, error) {
	entries, err := os.ReadDir(jobsBaseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to read jobs directory: %w", err)
	}

	var jobIDs []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		jobID := entry.Name()

		// Only directories holding a state file are jobs
		if _, err := os.Stat(GetStateFilePath(jobsBaseDir, jobID)); err == nil {
			jobIDs = append(jobIDs, jobID)
		}
	}

	return jobIDs, nil
}
