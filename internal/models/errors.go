package models

import "fmt"

// Stage identifies the pipeline stage an error was raised in
type Stage string

const (
	StageOCR       Stage = "OCR"
	StageNormalize Stage = "NORMALIZE"
	StageTransform Stage = "TRANSFORM"
)

// ErrorCode is the closed set of codes a job can terminate with
type ErrorCode string

const (
	// Fetch (reported under the OCR stage)
	ErrCodeBlobNotFound ErrorCode = "BLOB_NOT_FOUND"

	// Extraction
	ErrCodeUnsupportedFormat ErrorCode = "UNSUPPORTED_FORMAT"
	ErrCodeCorruptData       ErrorCode = "CORRUPT_DATA"
	ErrCodeOCRFailure        ErrorCode = "OCR_FAILURE"
	ErrCodeSizeExceeded      ErrorCode = "SIZE_EXCEEDED"
	ErrCodeTimeout           ErrorCode = "TIMEOUT"

	// Normalize
	ErrCodeNormalizeFailed ErrorCode = "NORMALIZE_FAILED"

	// Transform
	ErrCodeSchemaIDMissing      ErrorCode = "SCHEMA_ID_MISSING"
	ErrCodeSchemaNotFound       ErrorCode = "SCHEMA_NOT_FOUND"
	ErrCodeSchemaInvalid        ErrorCode = "SCHEMA_INVALID"
	ErrCodeMissingRequiredField ErrorCode = "MISSING_REQUIRED_FIELD"
	ErrCodeAmbiguousField       ErrorCode = "AMBIGUOUS_FIELD"
	ErrCodeTransformError       ErrorCode = "TRANSFORM_ERROR"

	// Catch-all
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

// retryableCodes are the transient failures; everything else is terminal
var retryableCodes = map[ErrorCode]bool{
	ErrCodeTimeout: true,
}

// IsValidErrorCode checks if the code belongs to the closed taxonomy
func IsValidErrorCode(c ErrorCode) bool {
	switch c {
	case ErrCodeBlobNotFound,
		ErrCodeUnsupportedFormat, ErrCodeCorruptData, ErrCodeOCRFailure, ErrCodeSizeExceeded, ErrCodeTimeout,
		ErrCodeNormalizeFailed,
		ErrCodeSchemaIDMissing, ErrCodeSchemaNotFound, ErrCodeSchemaInvalid,
		ErrCodeMissingRequiredField, ErrCodeAmbiguousField, ErrCodeTransformError,
		ErrCodeInternal:
		return true
	default:
		return false
	}
}

// IsRetryableCode reports whether a code is transient by convention
func IsRetryableCode(c ErrorCode) bool {
	return retryableCodes[c]
}

// ProcessingError is raised by any pipeline stage and carried up to the worker.
// Only Code, Stage and Retryable are ever persisted; Message and Cause stay in logs.
type ProcessingError struct {
	Code      ErrorCode
	Stage     Stage
	Retryable bool
	Message   string
	Cause     error
}

// Error implements the error interface
func (e *ProcessingError) Error() string {
	msg := fmt.Sprintf("%s at %s", e.Code, e.Stage)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Cause != nil {
		msg += fmt.Sprintf(": %v", e.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause for errors.Is/As compatibility
func (e *ProcessingError) Unwrap() error {
	return e.Cause
}

// NewProcessingError creates a ProcessingError whose retryability follows the code table
func NewProcessingError(code ErrorCode, stage Stage, message string) *ProcessingError {
	return &ProcessingError{
		Code:      code,
		Stage:     stage,
		Retryable: IsRetryableCode(code),
		Message:   message,
	}
}
