package services

import (
	"context"

	"github.com/gen2brain/go-fitz"
	"github.com/trobanga/rythmiq/internal/models"
)

// PDFExtractor reads the embedded text layer of a PDF with go-fitz.
// Scanned PDFs without a text layer yield OCR_FAILURE.
type PDFExtractor struct {
	MaxBytes int64
}

// Extract implements Extractor
func (e *PDFExtractor) Extract(ctx context.Context, data []byte) (*models.ExtractionResult, error) {
	if err := checkInput(data, e.MaxBytes); err != nil {
		return nil, err
	}
	if DetectFormat(data) != FormatPDF {
		return nil, extractionError(models.ErrCodeUnsupportedFormat, "input is not a PDF")
	}

	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, extractionError(models.ErrCodeCorruptData, "failed to open PDF: %v", err)
	}
	defer func() {
		_ = doc.Close()
	}()

	pageCount := doc.NumPage()
	if pageCount == 0 {
		return nil, extractionError(models.ErrCodeCorruptData, "PDF has no pages")
	}

	pages := make([]models.ExtractedPage, 0, pageCount)
	hasText := false
	for pageNum := 0; pageNum < pageCount; pageNum++ {
		select {
		case <-ctx.Done():
			return nil, extractionError(models.ErrCodeTimeout, "extraction cancelled at page %d", pageNum+1)
		default:
		}

		text, err := doc.Text(pageNum)
		if err != nil {
			return nil, extractionError(models.ErrCodeOCRFailure, "failed to read page %d: %v", pageNum+1, err)
		}
		if text != "" {
			hasText = true
		}
		pages = append(pages, models.ExtractedPage{Text: text, Confidence: 1})
	}

	if !hasText {
		return nil, extractionError(models.ErrCodeOCRFailure, "PDF has no text layer")
	}
	return &models.ExtractionResult{Pages: pages, TotalPages: pageCount, Engine: "pdf"}, nil
}
