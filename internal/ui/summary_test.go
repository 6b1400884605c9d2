package ui_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/trobanga/rythmiq/internal/models"
	"github.com/trobanga/rythmiq/internal/ui"
)

func TestBatchSummary(t *testing.T) {
	start := time.Date(2026, 1, 2, 9, 0, 0, 0, time.UTC)
	s := ui.NewBatchSummary(start)

	s.Record(&models.Job{State: models.JobStateSucceeded})
	s.Record(&models.Job{State: models.JobStateSucceeded})
	s.Record(&models.Job{State: models.JobStateRetrying})
	s.Record(&models.Job{State: models.JobStateFailed})

	now := start.Add(2 * time.Second)
	assert.Equal(t, 4, s.Total())
	assert.Equal(t, 2, s.Count(models.JobStateSucceeded))
	assert.Equal(t, 2.0, s.JobsPerSecond(now))
	assert.Equal(t, "4 jobs in 2s | 2 succeeded, 1 retrying, 1 failed | 2.00 jobs/sec", s.Format(now))
}

func TestBatchSummary_Empty(t *testing.T) {
	start := time.Date(2026, 1, 2, 9, 0, 0, 0, time.UTC)
	s := ui.NewBatchSummary(start)

	assert.Equal(t, 0.0, s.JobsPerSecond(start), "No elapsed time means no rate")
	assert.Equal(t, "0 jobs in 0s | nothing to do | < 0.01 jobs/sec", s.Format(start))
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{1500 * time.Microsecond, "2ms"},
		{1234 * time.Millisecond, "1.2s"},
		{90*time.Second + 400*time.Millisecond, "1m30s"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ui.FormatDuration(tt.in))
	}
}
