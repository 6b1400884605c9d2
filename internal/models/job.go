package models

import "time"

// Job is the unit of work tracked by the queue: one source document mapped
// onto one output schema.
type Job struct {
	JobID  string `json:"job_id"`
	BlobID string `json:"blob_id"` // Reference to the source bytes
	UserID string `json:"user_id"` // Owner; artifacts are written under this id

	State         JobState  `json:"state"`
	Attempt       int       `json:"attempt"` // Number of execution starts
	MaxAttempts   int       `json:"max_attempts"`
	NextVisibleAt time.Time `json:"next_visible_at"` // Only meaningful while QUEUED or RETRYING
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`

	SchemaID      string `json:"schema_id,omitempty"`
	SchemaVersion string `json:"schema_version,omitempty"`

	OCRArtifactID    string    `json:"ocr_artifact_id,omitempty"`
	SchemaArtifactID string    `json:"schema_artifact_id,omitempty"`
	QualityScore     float64   `json:"quality_score"`
	ErrorCode        ErrorCode `json:"error_code,omitempty"`
	Retryable        bool      `json:"retryable"`
}

// JobState defines the lifecycle state of a job
type JobState string

const (
	JobStateCreated   JobState = "CREATED"
	JobStateQueued    JobState = "QUEUED"
	JobStateRunning   JobState = "RUNNING"
	JobStateRetrying  JobState = "RETRYING"
	JobStateSucceeded JobState = "SUCCEEDED"
	JobStateFailed    JobState = "FAILED"
)

// AllJobStates lists every state in lifecycle order
var AllJobStates = []JobState{
	JobStateCreated,
	JobStateQueued,
	JobStateRunning,
	JobStateRetrying,
	JobStateSucceeded,
	JobStateFailed,
}

// IsValidJobState checks if the job state is recognized
func IsValidJobState(s JobState) bool {
	switch s {
	case JobStateCreated, JobStateQueued, JobStateRunning, JobStateRetrying, JobStateSucceeded, JobStateFailed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further writes are permitted in this state
func (s JobState) IsTerminal() bool {
	return s == JobStateSucceeded || s == JobStateFailed
}

// IsVisibleAt reports whether the job may be handed out at the given time
func (j *Job) IsVisibleAt(now time.Time) bool {
	return !j.NextVisibleAt.After(now)
}

// Clone returns a copy of the job that can be mutated independently
func (j *Job) Clone() *Job {
	cp := *j
	return &cp
}
