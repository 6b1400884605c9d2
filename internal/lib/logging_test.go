package lib_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trobanga/rythmiq/internal/lib"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var entries []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		entries = append(entries, entry)
	}
	return entries
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := lib.NewLoggerWithOutput(lib.LogLevelWarn, lib.LogFormatJSON, &buf)

	logger.Debug("hidden")
	logger.Info("hidden")
	logger.Warn("shown", "job_id", "j1")
	logger.Error("also shown")

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 2)
	assert.Equal(t, "warn", entries[0]["level"])
	assert.Equal(t, "shown", entries[0]["message"])
	assert.Equal(t, "j1", entries[0]["job_id"])
	assert.Equal(t, "error", entries[1]["level"])
}

func TestLogger_SetLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := lib.NewLoggerWithOutput(lib.LogLevelError, lib.LogFormatJSON, &buf)
	logger.Info("hidden")

	logger.SetLevel(lib.LogLevelDebug)
	logger.Debug("visible")

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "visible", entries[0]["message"])
	assert.Equal(t, lib.LogLevelDebug, logger.Level())
}

func TestLogger_With(t *testing.T) {
	var buf bytes.Buffer
	logger := lib.NewLoggerWithOutput(lib.LogLevelInfo, lib.LogFormatJSON, &buf).With("worker", "w1")
	logger.Info("hello")

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "w1", entries[0]["worker"])
}

func TestLogStageFailed_StripsLineBreaks(t *testing.T) {
	var buf bytes.Buffer
	logger := lib.NewLoggerWithOutput(lib.LogLevelDebug, lib.LogFormatJSON, &buf)

	lib.LogStageFailed(logger, "OCR", "job\n-1\r", errors.New("boom"), false)

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "job-1", entries[0]["job_id"])
	assert.Equal(t, "OCR", entries[0]["stage"])
	assert.Equal(t, false, entries[0]["retryable"])
}

func TestLogOperation(t *testing.T) {
	var buf bytes.Buffer
	logger := lib.NewLoggerWithOutput(lib.LogLevelDebug, lib.LogFormatJSON, &buf)

	err := lib.LogOperation(logger, "fails", func() error { return errors.New("nope") })
	assert.Error(t, err)

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 2)
	assert.Equal(t, "Failed: fails", entries[1]["message"])
	assert.Equal(t, "nope", entries[1]["error"])
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, lib.LogLevelDebug, lib.ParseLogLevel("debug"))
	assert.Equal(t, lib.LogLevelWarn, lib.ParseLogLevel("WARN"))
	assert.Equal(t, lib.LogLevelError, lib.ParseLogLevel("error"))
	assert.Equal(t, lib.LogLevelInfo, lib.ParseLogLevel("nonsense"))
}
