package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/trobanga/rythmiq/internal/lib"
	"github.com/trobanga/rythmiq/internal/models"
	"github.com/trobanga/rythmiq/internal/normalize"
	"github.com/trobanga/rythmiq/internal/schema"
)

// stageOutput carries what a successful run hands to MarkSucceeded
type stageOutput struct {
	ocrArtifactID    string
	schemaArtifactID string
	qualityScore     float64
	result           models.TransformResult
}

// OCRArtifact is the persisted form of an extraction result
type OCRArtifact struct {
	Pages      []models.ExtractedPage `json:"pages"`
	TotalPages int                    `json:"totalPages"`
	Text       string                 `json:"text"`
}

// execute runs every stage for a RUNNING job. Any error, including a panic,
// comes back as a classified ProcessingError.
func (w *Worker) execute(ctx context.Context, job *models.Job) (out stageOutput, perr *models.ProcessingError) {
	stage := models.StageOCR
	defer func() {
		if r := recover(); r != nil {
			perr = lib.ErrInternal(stage, fmt.Errorf("panic: %v", r))
		}
	}()

	// Extract
	lib.LogStageStart(w.logger, string(models.StageOCR), job.JobID)
	extraction, err := w.extract(ctx, job)
	if err != nil {
		return out, lib.ClassifyError(err, stage)
	}

	ocrJSON, err := json.Marshal(OCRArtifact{
		Pages:      extraction.Pages,
		TotalPages: extraction.TotalPages,
		Text:       extraction.Text(),
	})
	if err != nil {
		return out, lib.ErrInternal(stage, err)
	}
	out.ocrArtifactID, err = w.deps.Artifacts.Write(ctx, ocrJSON, job.UserID)
	if err != nil {
		return out, lib.ErrInternal(stage, fmt.Errorf("write OCR artifact: %w", err))
	}

	// Normalize
	stage = models.StageNormalize
	lib.LogStageStart(w.logger, string(stage), job.JobID)
	normalized, err := normalize.New(w.normalize).Normalize(extraction.Text())
	if err != nil {
		return out, lib.ClassifyError(err, stage)
	}
	fields := FlattenLines(normalized)

	// Transform
	stage = models.StageTransform
	lib.LogStageStart(w.logger, string(stage), job.JobID)
	def, err := w.resolveSchema(ctx, job)
	if err != nil {
		return out, lib.ClassifyError(err, stage)
	}

	out.result = schema.NewTransformer(def).Transform(fields)
	if rejected := lib.ErrTransformOutcome(out.result.Outcome); rejected != nil {
		w.logger.Debug("Transform rejected", "job_id", job.JobID, "outcome", out.result.Outcome,
			"missing", out.result.Missing, "errors", len(out.result.Errors))
		return out, rejected
	}

	resultJSON, err := json.Marshal(out.result)
	if err != nil {
		return out, lib.ErrInternal(stage, err)
	}
	out.schemaArtifactID, err = w.deps.Artifacts.Write(ctx, resultJSON, job.UserID)
	if err != nil {
		return out, lib.ErrInternal(stage, fmt.Errorf("write schema artifact: %w", err))
	}

	out.qualityScore = schema.QualityScore(out.result)
	return out, nil
}

// extract fetches the job's source bytes and runs the extraction engine
func (w *Worker) extract(ctx context.Context, job *models.Job) (*models.ExtractionResult, error) {
	data, err := w.deps.Blobs.Fetch(ctx, job.BlobID)
	if err != nil {
		return nil, fmt.Errorf("fetch blob %s: %w", job.BlobID, err)
	}
	if data == nil {
		return nil, lib.ErrBlobNotFound(job.BlobID)
	}

	start := time.Now()
	result, err := w.deps.Extractor.Extract(ctx, data)
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, lib.ErrInternal(models.StageOCR, errors.New("extractor returned no result"))
	}
	w.logger.Debug("Extraction finished", "job_id", job.JobID, "engine", result.Engine,
		"pages", result.TotalPages, "duration", time.Since(start))
	return result, nil
}

// resolveSchema loads and parses the schema the job is bound to
func (w *Worker) resolveSchema(ctx context.Context, job *models.Job) (models.SchemaDefinition, error) {
	if job.SchemaID == "" {
		return models.SchemaDefinition{}, lib.ErrSchemaIDMissing()
	}

	doc, err := w.deps.Schemas.GetSchema(ctx, job.SchemaID, job.SchemaVersion)
	if err != nil {
		if errors.Is(err, schema.ErrSchemaNotFound) {
			return models.SchemaDefinition{}, lib.ErrSchemaNotFound(job.SchemaID, job.SchemaVersion, err)
		}
		return models.SchemaDefinition{}, err
	}

	def, err := schema.ParseDefinition(doc.Definition, w.registry)
	if err != nil {
		return models.SchemaDefinition{}, lib.ErrSchemaInvalid(job.SchemaID, err)
	}
	return def, nil
}
