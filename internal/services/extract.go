package services

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/trobanga/rythmiq/internal/lib"
	"github.com/trobanga/rythmiq/internal/models"
)

// Extractor turns document bytes into page texts.
// Failures are returned as *models.ExtractionError.
type Extractor interface {
	Extract(ctx context.Context, data []byte) (*models.ExtractionResult, error)
}

// Format is a sniffed document type
type Format string

const (
	FormatUnknown Format = ""
	FormatText    Format = "text/plain"
	FormatPDF     Format = "application/pdf"
	FormatPNG     Format = "image/png"
	FormatJPEG    Format = "image/jpeg"
	FormatTIFF    Format = "image/tiff"
)

// IsImage reports whether the format goes through OCR
func (f Format) IsImage() bool {
	return f == FormatPNG || f == FormatJPEG || f == FormatTIFF
}

// DetectFormat identifies data by its magic bytes. Anything that is valid
// UTF-8 without NUL bytes counts as text.
func DetectFormat(data []byte) Format {
	switch {
	case bytes.HasPrefix(data, []byte("%PDF")):
		return FormatPDF
	case bytes.HasPrefix(data, []byte("\x89PNG")):
		return FormatPNG
	case bytes.HasPrefix(data, []byte("\xff\xd8\xff")):
		return FormatJPEG
	case bytes.HasPrefix(data, []byte("II*\x00")), bytes.HasPrefix(data, []byte("MM\x00*")):
		return FormatTIFF
	case len(data) > 0 && utf8.Valid(data) && bytes.IndexByte(data, 0) < 0:
		return FormatText
	default:
		return FormatUnknown
	}
}

func extractionError(code models.ErrorCode, format string, args ...interface{}) *models.ExtractionError {
	return &models.ExtractionError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// checkInput rejects empty and oversized inputs before any engine runs
func checkInput(data []byte, maxBytes int64) error {
	if len(data) == 0 {
		return extractionError(models.ErrCodeCorruptData, "empty input")
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return extractionError(models.ErrCodeSizeExceeded, "input is %d bytes, limit is %d", len(data), maxBytes)
	}
	return nil
}

// TextExtractor reads UTF-8 text. Form feeds separate pages.
type TextExtractor struct {
	MaxBytes int64
}

// Extract implements Extractor
func (e *TextExtractor) Extract(ctx context.Context, data []byte) (*models.ExtractionResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := checkInput(data, e.MaxBytes); err != nil {
		return nil, err
	}
	if !utf8.Valid(data) {
		return nil, extractionError(models.ErrCodeUnsupportedFormat, "input is not UTF-8 text")
	}

	parts := strings.Split(string(data), "\f")
	pages := make([]models.ExtractedPage, len(parts))
	for i, p := range parts {
		pages[i] = models.ExtractedPage{Text: p, Confidence: 1}
	}
	return &models.ExtractionResult{Pages: pages, TotalPages: len(pages), Engine: "text"}, nil
}

// AutoExtractor routes by sniffed format: PDF to the PDF engine, images to
// OCR and plain text to the text reader.
type AutoExtractor struct {
	Text     Extractor
	PDF      Extractor
	OCR      Extractor
	MaxBytes int64
	Logger   *lib.Logger
}

// Extract implements Extractor
func (e *AutoExtractor) Extract(ctx context.Context, data []byte) (*models.ExtractionResult, error) {
	if err := checkInput(data, e.MaxBytes); err != nil {
		return nil, err
	}

	format := DetectFormat(data)
	var engine Extractor
	switch {
	case format == FormatPDF:
		engine = e.PDF
	case format.IsImage():
		engine = e.OCR
	case format == FormatText:
		engine = e.Text
	default:
		return nil, extractionError(models.ErrCodeUnsupportedFormat, "unrecognized format")
	}
	if engine == nil {
		return nil, extractionError(models.ErrCodeUnsupportedFormat, "no engine configured for %s", format)
	}

	if e.Logger != nil {
		e.Logger.Debug("Routing extraction", "format", string(format), "size", len(data))
	}
	return engine.Extract(ctx, data)
}

// NewExtractor builds the engine selected by cfg
func NewExtractor(cfg models.ExtractionConfig, logger *lib.Logger) (Extractor, error) {
	text := &TextExtractor{MaxBytes: cfg.MaxBytes}
	pdf := &PDFExtractor{MaxBytes: cfg.MaxBytes}
	ocr := NewTesseractExtractor(cfg)

	switch cfg.Engine {
	case models.EngineText:
		return text, nil
	case models.EnginePDF:
		return pdf, nil
	case models.EngineTesseract:
		return ocr, nil
	case models.EngineAuto, "":
		return &AutoExtractor{Text: text, PDF: pdf, OCR: ocr, MaxBytes: cfg.MaxBytes, Logger: logger}, nil
	default:
		return nil, fmt.Errorf("unrecognized extraction engine: %s", cfg.Engine)
	}
}
