package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/trobanga/rythmiq/internal/lib"
	"github.com/trobanga/rythmiq/internal/models"
)

// Telemetry receives job lifecycle events. Implementations must not block.
type Telemetry interface {
	JobStarted(ctx context.Context, job *models.Job)
	JobSucceeded(ctx context.Context, job *models.Job)
	JobFailed(ctx context.Context, job *models.Job)
}

// Compile-time interface checks.
var (
	_ Telemetry = (*LogTelemetry)(nil)
	_ Telemetry = (*RedisTelemetry)(nil)
	_ Telemetry = MultiTelemetry(nil)
)

// EventType names a job lifecycle event
type EventType string

const (
	EventJobStarted   EventType = "job_started"
	EventJobSucceeded EventType = "job_succeeded"
	EventJobFailed    EventType = "job_failed"
)

// Event is one telemetry record. It never carries document content.
type Event struct {
	Type      EventType
	JobID     string
	State     models.JobState
	Attempt   int
	ErrorCode models.ErrorCode
	At        time.Time
}

func newEvent(t EventType, job *models.Job) Event {
	return Event{
		Type:      t,
		JobID:     job.JobID,
		State:     job.State,
		Attempt:   job.Attempt,
		ErrorCode: job.ErrorCode,
		At:        time.Now().UTC(),
	}
}

// LogTelemetry reports job events through the logger
type LogTelemetry struct {
	logger *lib.Logger
}

// NewLogTelemetry creates a logger-backed sink
func NewLogTelemetry(logger *lib.Logger) *LogTelemetry {
	return &LogTelemetry{logger: logger}
}

func (t *LogTelemetry) JobStarted(_ context.Context, job *models.Job) {
	t.logger.Info("Job started", "job_id", job.JobID, "attempt", job.Attempt)
}

func (t *LogTelemetry) JobSucceeded(_ context.Context, job *models.Job) {
	t.logger.Info("Job succeeded", "job_id", job.JobID, "quality_score", job.QualityScore)
}

func (t *LogTelemetry) JobFailed(_ context.Context, job *models.Job) {
	t.logger.Warn("Job failed", "job_id", job.JobID, "state", job.State,
		"error_code", job.ErrorCode, "retryable", job.Retryable)
}

// RedisTelemetry appends job events to a Redis stream. Publishing happens on
// a background goroutine; when its buffer is full new events are dropped, so
// callers never wait on Redis.
type RedisTelemetry struct {
	client *redis.Client
	stream string
	logger *lib.Logger

	events chan Event
	xadd   func(ctx context.Context, e Event) error

	closeOnce sync.Once
	done      chan struct{}
	mu        sync.RWMutex
	closed    bool
	dropped   int64
}

// DefaultTelemetryBuffer is the number of events held while Redis is slow
const DefaultTelemetryBuffer = 256

// NewRedisTelemetry connects to addr, checks it with PING and starts the publisher
func NewRedisTelemetry(ctx context.Context, addr, stream string, logger *lib.Logger) (*RedisTelemetry, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	t := newRedisTelemetry(stream, logger, DefaultTelemetryBuffer, nil)
	t.client = client
	t.xadd = t.publish
	go t.run()
	return t, nil
}

func newRedisTelemetry(stream string, logger *lib.Logger, buffer int, xadd func(context.Context, Event) error) *RedisTelemetry {
	if logger == nil {
		logger = lib.NopLogger()
	}
	return &RedisTelemetry{
		stream: stream,
		logger: logger,
		events: make(chan Event, buffer),
		xadd:   xadd,
		done:   make(chan struct{}),
	}
}

func (t *RedisTelemetry) JobStarted(_ context.Context, job *models.Job) {
	t.emit(newEvent(EventJobStarted, job))
}

func (t *RedisTelemetry) JobSucceeded(_ context.Context, job *models.Job) {
	t.emit(newEvent(EventJobSucceeded, job))
}

func (t *RedisTelemetry) JobFailed(_ context.Context, job *models.Job) {
	t.emit(newEvent(EventJobFailed, job))
}

// Dropped returns the number of events discarded because the buffer was full
func (t *RedisTelemetry) Dropped() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.dropped
}

func (t *RedisTelemetry) emit(e Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	select {
	case t.events <- e:
	default:
		t.dropped++
		t.logger.Warn("Telemetry buffer full, dropping event", "job_id", e.JobID, "event", string(e.Type))
	}
}

func (t *RedisTelemetry) run() {
	defer close(t.done)
	for e := range t.events {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := t.xadd(ctx, e); err != nil {
			t.logger.Warn("Failed to publish telemetry", "job_id", e.JobID, "event", string(e.Type), "error", err)
		}
		cancel()
	}
}

func (t *RedisTelemetry) publish(ctx context.Context, e Event) error {
	return t.client.XAdd(ctx, &redis.XAddArgs{
		Stream: t.stream,
		Values: map[string]interface{}{
			"event":      string(e.Type),
			"job_id":     e.JobID,
			"state":      string(e.State),
			"attempt":    e.Attempt,
			"error_code": string(e.ErrorCode),
			"at":         e.At.Format(time.RFC3339Nano),
		},
	}).Err()
}

// Close flushes buffered events and closes the connection
func (t *RedisTelemetry) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.mu.Lock()
		t.closed = true
		close(t.events)
		t.mu.Unlock()

		<-t.done
		if t.client != nil {
			err = t.client.Close()
		}
	})
	return err
}

// MultiTelemetry fans events out to several sinks
type MultiTelemetry []Telemetry

func (m MultiTelemetry) JobStarted(ctx context.Context, job *models.Job) {
	for _, t := range m {
		t.JobStarted(ctx, job)
	}
}

func (m MultiTelemetry) JobSucceeded(ctx context.Context, job *models.Job) {
	for _, t := range m {
		t.JobSucceeded(ctx, job)
	}
}

func (m MultiTelemetry) JobFailed(ctx context.Context, job *models.Job) {
	for _, t := range m {
		t.JobFailed(ctx, job)
	}
}
