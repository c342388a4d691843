// Package router dispatches ingestion jobs to the pipeline for their modality.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/raphaelgruber/mmrag/internal/models"
	"github.com/raphaelgruber/mmrag/internal/pipeline"
)

// Router maps modalities to pipelines. It is read-only after Initialize.
type Router struct {
	pipelines map[models.Modality]pipeline.Pipeline
	logger    *slog.Logger
}

// New creates a router over the given pipelines. A later pipeline for the
// same modality replaces an earlier one.
func New(logger *slog.Logger, pipelines ...pipeline.Pipeline) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Router{
		pipelines: make(map[models.Modality]pipeline.Pipeline, len(pipelines)),
		logger:    logger.With("component", "router"),
	}
	for _, p := range pipelines {
		r.pipelines[p.Modality()] = p
	}
	return r
}

// Initialize initializes every registered pipeline and stops at the first failure.
func (r *Router) Initialize(ctx context.Context) error {
	for _, m := range r.SupportedTypes() {
		if err := r.pipelines[m].Initialize(ctx); err != nil {
			return fmt.Errorf("initialize %s pipeline: %w", m, err)
		}
	}
	r.logger.Info("content router ready", "types", r.SupportedTypes())
	return nil
}

// SupportedTypes returns the registered modalities, sorted.
func (r *Router) SupportedTypes() []models.Modality {
	types := make([]models.Modality, 0, len(r.pipelines))
	for m := range r.pipelines {
		types = append(types, m)
	}
	slices.Sort(types)
	return types
}

// Steps returns the step names for a file type, or nil when unsupported.
func (r *Router) Steps(ft models.FileType) []string {
	if p, ok := r.lookup(ft); ok {
		return p.Steps()
	}
	return nil
}

// Process runs exactly one pipeline for job. When the declared file type
// has no pipeline, the type is detected from the MIME type and file name.
func (r *Router) Process(ctx context.Context, job *models.IngestionJob, progress pipeline.ProgressFunc) models.ProcessingResult {
	p, ok := r.lookup(job.FileType)
	if !ok {
		detected := models.DetectFileType(job.Metadata.MimeType, job.Metadata.FileName)
		p, ok = r.lookup(detected)
		if !ok {
			r.logger.Warn("no pipeline for job", "job_id", job.JobID, "file_type", job.FileType)
			return models.ProcessingResult{Error: fmt.Sprintf("No pipeline available for file type: %s", job.FileType)}
		}
		r.logger.Info("detected file type", "job_id", job.JobID, "declared", job.FileType, "detected", detected)
	}
	return p.Process(ctx, job, progress)
}

func (r *Router) lookup(ft models.FileType) (pipeline.Pipeline, bool) {
	m, ok := ft.Modality()
	if !ok {
		return nil, false
	}
	p, ok := r.pipelines[m]
	return p, ok
}
