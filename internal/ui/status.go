package ui

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/trobanga/rythmiq/internal/models"
)

var (
	green  = color.New(color.FgGreen)
	red    = color.New(color.FgRed)
	yellow = color.New(color.FgYellow)
	cyan   = color.New(color.FgCyan)
)

// StateSymbol returns a colored marker for a job state
func StateSymbol(state models.JobState) string {
	switch state {
	case models.JobStateSucceeded:
		return green.Sprint("✓")
	case models.JobStateFailed:
		return red.Sprint("✗")
	case models.JobStateRetrying:
		return yellow.Sprint("↻")
	case models.JobStateRunning:
		return cyan.Sprint("→")
	case models.JobStateQueued, models.JobStateCreated:
		return "○"
	default:
		return " "
	}
}

// Success prints a green check line
func Success(w io.Writer, format string, args ...interface{}) {
	_, _ = green.Fprintf(w, "✓ %s\n", fmt.Sprintf(format, args...))
}

// Failure prints a red cross line
func Failure(w io.Writer, format string, args ...interface{}) {
	_, _ = red.Fprintf(w, "✗ %s\n", fmt.Sprintf(format, args...))
}

// Warning prints a yellow warning line
func Warning(w io.Writer, format string, args ...interface{}) {
	_, _ = yellow.Fprintf(w, "⚠ %s\n", fmt.Sprintf(format, args...))
}
