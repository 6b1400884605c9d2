package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/trobanga/rythmiq/internal/models"
)

// BatchSummary tallies the end states of the jobs a worker run processed
type BatchSummary struct {
	start  time.Time
	counts map[models.JobState]int
	total  int
}

// NewBatchSummary starts a summary at the given time
func NewBatchSummary(start time.Time) *BatchSummary {
	return &BatchSummary{
		start:  start,
		counts: make(map[models.JobState]int),
	}
}

// Record counts one processed job
func (s *BatchSummary) Record(job *models.Job) {
	s.counts[job.State]++
	s.total++
}

// Total returns the number of recorded jobs
func (s *BatchSummary) Total() int {
	return s.total
}

// Count returns how many recorded jobs ended in state
func (s *BatchSummary) Count(state models.JobState) int {
	return s.counts[state]
}

// JobsPerSecond is the average rate between start and now
func (s *BatchSummary) JobsPerSecond(now time.Time) float64 {
	elapsed := now.Sub(s.start).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(s.total) / elapsed
}

// Format renders e.g. "3 jobs in 1.2s | 2 succeeded, 1 retrying | 2.50 jobs/sec"
func (s *BatchSummary) Format(now time.Time) string {
	var parts []string
	for _, state := range []models.JobState{models.JobStateSucceeded, models.JobStateRetrying, models.JobStateFailed} {
		if n := s.counts[state]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, strings.ToLower(string(state))))
		}
	}
	if len(parts) == 0 {
		parts = append(parts, "nothing to do")
	}

	return fmt.Sprintf("%d jobs in %s | %s | %s",
		s.total,
		FormatDuration(now.Sub(s.start)),
		strings.Join(parts, ", "),
		FormatJobsPerSecond(s.JobsPerSecond(now)),
	)
}

// FormatJobsPerSecond formats a rate like "2.30 jobs/sec"
func FormatJobsPerSecond(rate float64) string {
	if rate < 0.01 {
		return "< 0.01 jobs/sec"
	}
	return fmt.Sprintf("%.2f jobs/sec", rate)
}

// FormatDuration formats a duration as a human-readable string
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	if d < time.Minute {
		return d.Round(100 * time.Millisecond).String()
	}
	return d.Round(time.Second).String()
}
