package lib

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// LogLevel defines the severity of log messages
type LogLevel int

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
)

func (l LogLevel) zerolog() zerolog.Level {
	switch l {
	case LogLevelDebug:
		return zerolog.DebugLevel
	case LogLevelWarn:
		return zerolog.WarnLevel
	case LogLevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// LogFormat selects the zerolog output encoding
type LogFormat string

const (
	LogFormatJSON    LogFormat = "json"
	LogFormatConsole LogFormat = "console"
)

// Logger provides structured logging for the application
type Logger struct {
	level LogLevel
	zl    zerolog.Logger
}

// NewLogger creates a console logger on stderr
func NewLogger(level LogLevel) *Logger {
	return NewLoggerWithOutput(level, LogFormatConsole, os.Stderr)
}

// NewLoggerWithOutput creates a logger writing to out in the given format
func NewLoggerWithOutput(level LogLevel, format LogFormat, out io.Writer) *Logger {
	if out == nil {
		out = os.Stderr
	}

	var zl zerolog.Logger
	if format == LogFormatConsole {
		zl = zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339})
	} else {
		zl = zerolog.New(out)
	}

	return &Logger{
		level: level,
		zl:    zl.With().Timestamp().Logger().Level(level.zerolog()),
	}
}

// NopLogger discards everything; used by tests and quiet commands
func NopLogger() *Logger {
	return &Logger{level: LogLevelError, zl: zerolog.Nop()}
}

// With returns a child logger carrying the given key/value pairs on every entry
func (l *Logger) With(fields ...interface{}) *Logger {
	return &Logger{level: l.level, zl: l.zl.With().Fields(fields).Logger()}
}

// Debug logs a debug message
func (l *Logger) Debug(message string, fields ...interface{}) {
	l.zl.Debug().Fields(fields).Msg(message)
}

// Info logs an informational message
func (l *Logger) Info(message string, fields ...interface{}) {
	l.zl.Info().Fields(fields).Msg(message)
}

// Warn logs a warning message
func (l *Logger) Warn(message string, fields ...interface{}) {
	l.zl.Warn().Fields(fields).Msg(message)
}

// Error logs an error message
func (l *Logger) Error(message string, fields ...interface{}) {
	l.zl.Error().Fields(fields).Msg(message)
}

// SetLevel changes the log level
func (l *Logger) SetLevel(level LogLevel) {
	l.level = level
	l.zl = l.zl.Level(level.zerolog())
}

// Level returns the current log level
func (l *Logger) Level() LogLevel {
	return l.level
}

// ParseLogLevel converts a string to LogLevel
func ParseLogLevel(levelStr string) LogLevel {
	switch strings.ToLower(levelStr) {
	case "debug":
		return LogLevelDebug
	case "info":
		return LogLevelInfo
	case "warn", "warning":
		return LogLevelWarn
	case "error":
		return LogLevelError
	default:
		return LogLevelInfo
	}
}

// sanitize removes line breaks from caller-supplied names to prevent log spoofing
func sanitize(s string) string {
	s = strings.ReplaceAll(s, "\n", "")
	return strings.ReplaceAll(s, "\r", "")
}

// LogOperation logs the start and completion of an operation
func LogOperation(logger *Logger, operation string, fn func() error) error {
	operation = sanitize(operation)
	logger.Debug(fmt.Sprintf("Starting: %s", operation))
	start := time.Now()

	err := fn()

	duration := time.Since(start)
	if err != nil {
		logger.Error(fmt.Sprintf("Failed: %s", operation), "duration", duration, "error", err)
		return err
	}

	logger.Debug(fmt.Sprintf("Completed: %s", operation), "duration", duration)
	return nil
}

// LogRetry logs a scheduled retry
func LogRetry(logger *Logger, jobID string, attempt int, maxAttempts int, delay time.Duration, err error) {
	logger.Warn(
		fmt.Sprintf("Retry scheduled after attempt %d/%d", attempt, maxAttempts),
		"job_id", sanitize(jobID),
		"delay", delay,
		"error", err,
	)
}

// LogStageStart logs the start of a pipeline stage
func LogStageStart(logger *Logger, stage string, jobID string) {
	logger.Debug(
		"Stage started",
		"stage", stage,
		"job_id", sanitize(jobID),
	)
}

// LogStageFailed logs a failed pipeline stage
func LogStageFailed(logger *Logger, stage string, jobID string, err error, retryable bool) {
	logger.Error(
		"Stage failed",
		"stage", stage,
		"job_id", sanitize(jobID),
		"error", err,
		"retryable", retryable,
	)
}

// LogJobCreated logs job creation
func LogJobCreated(logger *Logger, jobID string, blobID string) {
	logger.Info(
		"Job created",
		"job_id", sanitize(jobID),
		"blob_id", sanitize(blobID),
	)
}

// LogJobCompleted logs job completion
func LogJobCompleted(logger *Logger, jobID string, qualityScore float64, duration time.Duration) {
	logger.Info(
		"Job completed",
		"job_id", sanitize(jobID),
		"quality_score", qualityScore,
		"duration", duration,
	)
}
