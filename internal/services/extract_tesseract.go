package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/trobanga/rythmiq/internal/models"
)

// Runner executes an external command with stdin and returns its stdout
type Runner interface {
	Run(ctx context.Context, name string, args []string, stdin []byte) ([]byte, error)
}

// ExecRunner runs commands with os/exec
type ExecRunner struct{}

// Run implements Runner
func (ExecRunner) Run(ctx context.Context, name string, args []string, stdin []byte) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = bytes.NewReader(stdin)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%w: %s", err, msg)
		}
		return nil, err
	}
	return stdout.Bytes(), nil
}

// TesseractExtractor OCRs a single image through the tesseract CLI in TSV mode.
// A run longer than Timeout fails with TIMEOUT.
type TesseractExtractor struct {
	Path     string
	Language string
	Timeout  time.Duration
	MaxBytes int64
	Runner   Runner
}

// NewTesseractExtractor creates an extractor from the extraction config
func NewTesseractExtractor(cfg models.ExtractionConfig) *TesseractExtractor {
	return &TesseractExtractor{
		Path:     cfg.TesseractPath,
		Language: cfg.Language,
		Timeout:  time.Duration(cfg.TimeoutSeconds) * time.Second,
		MaxBytes: cfg.MaxBytes,
		Runner:   ExecRunner{},
	}
}

// Extract implements Extractor
func (e *TesseractExtractor) Extract(ctx context.Context, data []byte) (*models.ExtractionResult, error) {
	if err := checkInput(data, e.MaxBytes); err != nil {
		return nil, err
	}
	format := DetectFormat(data)
	if format == FormatPDF {
		return nil, extractionError(models.ErrCodeUnsupportedFormat, "PDF input is not supported by OCR")
	}
	if !format.IsImage() {
		return nil, extractionError(models.ErrCodeUnsupportedFormat, "unrecognized image format")
	}

	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	args := []string{"stdin", "stdout"}
	if e.Language != "" {
		args = append(args, "-l", e.Language)
	}
	args = append(args, "tsv")

	out, err := e.Runner.Run(ctx, e.Path, args, data)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, extractionError(models.ErrCodeTimeout, "tesseract exceeded %s", e.Timeout)
		}
		return nil, extractionError(models.ErrCodeOCRFailure, "tesseract failed: %v", err)
	}

	text, confidence := parseTSV(out)
	if strings.TrimSpace(text) == "" {
		return nil, extractionError(models.ErrCodeOCRFailure, "no text extracted")
	}

	return &models.ExtractionResult{
		Pages:      []models.ExtractedPage{{Text: text, Confidence: confidence}},
		TotalPages: 1,
		Engine:     "tesseract",
	}, nil
}

// parseTSV rebuilds line-broken text from tesseract TSV output and returns
// the mean word confidence scaled to [0,1]. Words with confidence -1 carry no text.
func parseTSV(out []byte) (string, float64) {
	const (
		colBlock = 2
		colPar   = 3
		colLine  = 4
		colConf  = 10
		colText  = 11
	)

	var (
		lines    []string
		current  []string
		lastKey  string
		confSum  float64
		confSeen int
	)

	rows := strings.Split(strings.ReplaceAll(string(out), "\r\n", "\n"), "\n")
	for i, row := range rows {
		// First row is the column header
		if i == 0 || row == "" {
			continue
		}
		cols := strings.Split(row, "\t")
		if len(cols) <= colText {
			continue
		}
		conf, err := strconv.ParseFloat(cols[colConf], 64)
		if err != nil || conf < 0 {
			continue
		}
		word := strings.TrimSpace(cols[colText])
		if word == "" {
			continue
		}

		key := cols[colBlock] + "." + cols[colPar] + "." + cols[colLine]
		if key != lastKey && len(current) > 0 {
			lines = append(lines, strings.Join(current, " "))
			current = nil
		}
		lastKey = key
		current = append(current, word)
		confSum += conf
		confSeen++
	}
	if len(current) > 0 {
		lines = append(lines, strings.Join(current, " "))
	}

	if confSeen == 0 {
		return strings.Join(lines, "\n"), 0
	}
	confidence := confSum / float64(confSeen) / 100
	if confidence > 1 {
		confidence = 1
	}
	return strings.Join(lines, "\n"), confidence
}
