package lib

import (
	"math"
	"time"

	"github.com/trobanga/rythmiq/internal/models"
)

// CalculateBackoff computes exponential backoff duration for a 1-based attempt
// Formula: min(initialBackoff * 2^(attempt-1), maxBackoff)
func CalculateBackoff(attempt int, initialBackoffMs int64, maxBackoffMs int64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	backoffMs := float64(initialBackoffMs) * math.Pow(2, float64(attempt-1))

	// Cap at maxBackoff
	if maxBackoffMs > 0 && backoffMs > float64(maxBackoffMs) {
		backoffMs = float64(maxBackoffMs)
	}

	return time.Duration(backoffMs) * time.Millisecond
}

// RetryDecision is the outcome of RetryPolicy.Decide
type RetryDecision struct {
	ShouldRetry bool
	Delay       time.Duration
}

// RetryPolicy decides whether a failed attempt is retried and after what delay.
// It is stateless and never touches a job.
type RetryPolicy struct {
	MaxAttempts      int
	InitialBackoffMs int64
	MaxBackoffMs     int64
}

// NewRetryPolicyFromModel creates a RetryPolicy from models.RetryConfig
func NewRetryPolicyFromModel(config models.RetryConfig) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:      config.MaxAttempts,
		InitialBackoffMs: config.InitialBackoffMs,
		MaxBackoffMs:     config.MaxBackoffMs,
	}
}

// Decide returns whether attempt (the number of starts so far) should be followed by another.
// Non-retryable errors never retry; retryable ones retry while attempt < MaxAttempts.
func (p RetryPolicy) Decide(attempt int, perr *models.ProcessingError) RetryDecision {
	if perr == nil || !perr.Retryable {
		return RetryDecision{}
	}
	if attempt >= p.MaxAttempts {
		return RetryDecision{}
	}
	return RetryDecision{
		ShouldRetry: true,
		Delay:       CalculateBackoff(attempt, p.InitialBackoffMs, p.MaxBackoffMs),
	}
}
