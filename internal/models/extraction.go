package models

import (
	"fmt"
	"strings"
)

// ExtractedPage is the text of a single page with the engine's confidence in it
type ExtractedPage struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// ExtractionResult is a successful text extraction
type ExtractionResult struct {
	Pages      []ExtractedPage `json:"pages"`
	TotalPages int             `json:"total_pages"`
	Engine     string          `json:"engine"`
}

// Text joins the page texts with line breaks
func (r ExtractionResult) Text() string {
	texts := make([]string, len(r.Pages))
	for i, p := range r.Pages {
		texts[i] = p.Text
	}
	return strings.Join(texts, "\n")
}

// ExtractionError is an engine-reported failure
type ExtractionError struct {
	Code    ErrorCode
	Message string
}

// Error implements the error interface
func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction failed (%s): %s", e.Code, e.Message)
}
