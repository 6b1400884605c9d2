package lib

import (
	"context"
	"errors"
	"fmt"

	"github.com/trobanga/rythmiq/internal/models"
)

// Fetch errors

// ErrBlobNotFound creates the error for a missing source blob
func ErrBlobNotFound(blobID string) *models.ProcessingError {
	return models.NewProcessingError(models.ErrCodeBlobNotFound, models.StageOCR,
		fmt.Sprintf("blob %q not found", blobID))
}

// Extraction errors

// ErrExtraction converts an engine-reported failure into a processing error.
// Codes outside the extraction vocabulary are reported as OCR_FAILURE.
func ErrExtraction(e *models.ExtractionError) *models.ProcessingError {
	code := e.Code
	switch code {
	case models.ErrCodeUnsupportedFormat, models.ErrCodeCorruptData, models.ErrCodeOCRFailure,
		models.ErrCodeSizeExceeded, models.ErrCodeTimeout:
	default:
		code = models.ErrCodeOCRFailure
	}
	perr := models.NewProcessingError(code, models.StageOCR, e.Message)
	perr.Cause = e
	return perr
}

// Normalize errors

// ErrNormalizeFailed creates the error for input that cannot be normalized
func ErrNormalizeFailed(reason string) *models.ProcessingError {
	return models.NewProcessingError(models.ErrCodeNormalizeFailed, models.StageNormalize, reason)
}

// Transform errors

// ErrSchemaIDMissing creates the error for a job without a schema binding
func ErrSchemaIDMissing() *models.ProcessingError {
	return models.NewProcessingError(models.ErrCodeSchemaIDMissing, models.StageTransform, "job has no schema id")
}

// ErrSchemaNotFound creates the error for an unknown schema id/version
func ErrSchemaNotFound(schemaID, version string, cause error) *models.ProcessingError {
	perr := models.NewProcessingError(models.ErrCodeSchemaNotFound, models.StageTransform,
		fmt.Sprintf("schema %s@%s not found", schemaID, version))
	perr.Cause = cause
	return perr
}

// ErrSchemaInvalid creates the error for a schema definition that does not parse
func ErrSchemaInvalid(schemaID string, cause error) *models.ProcessingError {
	perr := models.NewProcessingError(models.ErrCodeSchemaInvalid, models.StageTransform,
		fmt.Sprintf("schema %s is invalid", schemaID))
	perr.Cause = cause
	return perr
}

// ErrTransformOutcome maps a non-success transform outcome to the error code of the same name
func ErrTransformOutcome(outcome models.TransformOutcome) *models.ProcessingError {
	var code models.ErrorCode
	switch outcome {
	case models.OutcomeSuccess:
		return nil
	case models.OutcomeMissingRequiredField:
		code = models.ErrCodeMissingRequiredField
	case models.OutcomeAmbiguousField:
		code = models.ErrCodeAmbiguousField
	case models.OutcomeTransformError:
		code = models.ErrCodeTransformError
	default:
		code = models.ErrCodeInternal
	}
	return models.NewProcessingError(code, models.StageTransform, fmt.Sprintf("transform outcome %s", outcome))
}

// Catch-all

// ErrInternal wraps an unexpected error
func ErrInternal(stage models.Stage, cause error) *models.ProcessingError {
	perr := models.NewProcessingError(models.ErrCodeInternal, stage, "internal error")
	perr.Cause = cause
	return perr
}

// ClassifyError normalizes any error to a ProcessingError.
// Processing errors pass through, extraction errors are converted, a context
// deadline becomes a retryable TIMEOUT and everything else is INTERNAL_ERROR.
func ClassifyError(err error, fallbackStage models.Stage) *models.ProcessingError {
	if err == nil {
		return nil
	}

	var perr *models.ProcessingError
	if errors.As(err, &perr) {
		if !models.IsValidErrorCode(perr.Code) {
			return ErrInternal(fallbackStage, err)
		}
		return perr
	}

	var extErr *models.ExtractionError
	if errors.As(err, &extErr) {
		return ErrExtraction(extErr)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		perr := models.NewProcessingError(models.ErrCodeTimeout, fallbackStage, "deadline exceeded")
		perr.Cause = err
		return perr
	}

	return ErrInternal(fallbackStage, err)
}
