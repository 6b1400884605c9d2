package models

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidTransition is wrapped by every TransitionError
var ErrInvalidTransition = errors.New("invalid state transition")

// TransitionError reports an illegal edge in the job state graph
type TransitionError struct {
	From JobState
	To   JobState
}

// Error implements the error interface
func (e *TransitionError) Error() string {
	if e.From.IsTerminal() {
		return fmt.Sprintf("%s: %s is terminal, cannot move to %s", ErrInvalidTransition, e.From, e.To)
	}
	return fmt.Sprintf("%s: %s -> %s", ErrInvalidTransition, e.From, e.To)
}

// Unwrap returns ErrInvalidTransition for errors.Is compatibility
func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// legalTransitions is the complete edge table of the job state graph:
//
//	CREATED  -> QUEUED
//	QUEUED   -> RUNNING | FAILED
//	RUNNING  -> SUCCEEDED | FAILED | RETRYING
//	RETRYING -> QUEUED
var legalTransitions = map[JobState][]JobState{
	JobStateCreated:  {JobStateQueued},
	JobStateQueued:   {JobStateRunning, JobStateFailed},
	JobStateRunning:  {JobStateSucceeded, JobStateFailed, JobStateRetrying},
	JobStateRetrying: {JobStateQueued},
}

// CanTransition checks if the edge from -> to is in the state graph.
// Pure function - no side effects
func CanTransition(from, to JobState) bool {
	if from.IsTerminal() {
		return false
	}
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// AssertTransition returns a *TransitionError unless from -> to is legal.
// Every job write must pass this guard before anything is persisted.
func AssertTransition(from, to JobState) error {
	if !CanTransition(from, to) {
		return &TransitionError{From: from, To: to}
	}
	return nil
}

// CanTransitionTo checks if state transition is valid
func (s JobState) CanTransitionTo(next JobState) bool {
	return CanTransition(s, next)
}

// The helpers below build the next version of a job record. They never
// check the transition themselves; callers assert first, then persist.

// QueueJob creates a new Job with QUEUED state, visible from now
// Pure function - returns new instance
func QueueJob(job Job, now time.Time) Job {
	job.State = JobStateQueued
	job.NextVisibleAt = now
	job.UpdatedAt = now
	return job
}

// StartJob creates a new Job with RUNNING state and the attempt counter incremented
// Pure function - returns new instance
func StartJob(job Job, now time.Time) Job {
	job.State = JobStateRunning
	job.Attempt++
	job.UpdatedAt = now
	return job
}

// SucceedJob creates a new Job with SUCCEEDED state and its outcome references
// Pure function - returns new instance
func SucceedJob(job Job, ocrArtifactID, schemaArtifactID string, qualityScore float64, now time.Time) Job {
	job.State = JobStateSucceeded
	job.OCRArtifactID = ocrArtifactID
	job.SchemaArtifactID = schemaArtifactID
	job.QualityScore = qualityScore
	job.ErrorCode = ""
	job.Retryable = false
	job.UpdatedAt = now
	return job
}

// FailJob creates a new Job with FAILED state and the error classification
// Pure function - returns new instance
func FailJob(job Job, perr *ProcessingError, now time.Time) Job {
	job.State = JobStateFailed
	job.ErrorCode = perr.Code
	job.Retryable = perr.Retryable
	job.UpdatedAt = now
	return job
}

// RetryJob creates a new Job with RETRYING state, hidden until nextVisibleAt
// Pure function - returns new instance
func RetryJob(job Job, nextVisibleAt time.Time, perr *ProcessingError, now time.Time) Job {
	job.State = JobStateRetrying
	job.NextVisibleAt = nextVisibleAt
	job.ErrorCode = perr.Code
	job.Retryable = perr.Retryable
	job.UpdatedAt = now
	return job
}

// RequeueJob creates a new Job moved from RETRYING back to QUEUED.
// The visibility timestamp is kept so ordering still reflects when the retry fell due.
// Pure function - returns new instance
func RequeueJob(job Job, now time.Time) Job {
	job.State = JobStateQueued
	job.UpdatedAt = now
	return job
}
