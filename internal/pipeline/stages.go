package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/raphaelgruber/mmrag/internal/metrics"
	"github.com/raphaelgruber/mmrag/internal/models"
)

// Step names shared by several pipelines.
const (
	StepGenerateEmbeddings = "Generate Embeddings"
	StepCreateSummary      = "Create Summary"
	StepStoreResults       = "Store Results"
)

// embedBatchSize caps how many chunk texts go to the embedder per call.
const embedBatchSize = 64

// Deps are the capabilities pipelines are built from. A nil optional
// capability skips the stage that needs it; a nil required one fails it.
type Deps struct {
	Transcriber Transcriber
	OCR         OCREngine
	Vision      VisionDescriber
	Embedder    Embedder
	Media       MediaProcessor
	Diarizer    Diarizer
	Parser      DocumentParser
	Summarizer  SummaryGenerator
	Store       ResultStore

	// TempDir holds per-job working directories.
	TempDir string
	Logger  *slog.Logger
	Metrics *metrics.Collector
}

func (d Deps) logger(m models.Modality) *slog.Logger {
	l := d.Logger
	if l == nil {
		l = slog.Default()
	}
	return l.With("component", "pipeline", "pipeline", string(m))
}

// step is a stage name with the progress reported when it starts.
type step struct {
	name    string
	percent int
}

func stepNames(steps []step) []string {
	names := make([]string, len(steps))
	for i, s := range steps {
		names[i] = s.name
	}
	return names
}

// run tracks one job through its stages. Once a required stage fails every
// later stage is skipped and result reports the failure.
type run struct {
	modality models.Modality
	job      *models.IngestionJob
	progress ProgressFunc
	log      *slog.Logger
	metrics  *metrics.Collector

	last int
	err  error
}

func newRun(d Deps, m models.Modality, job *models.IngestionJob, progress ProgressFunc) *run {
	if progress == nil {
		progress = func(string, int) {}
	}
	return &run{
		modality: m,
		job:      job,
		progress: progress,
		log:      d.logger(m).With("job_id", job.JobID),
		metrics:  d.Metrics,
	}
}

func (r *run) start(ctx context.Context, s step) bool {
	if r.err != nil {
		return false
	}
	if err := ctx.Err(); err != nil {
		r.err = fmt.Errorf("%s: %w", s.name, err)
		return false
	}
	r.last = s.percent
	r.progress(s.name, s.percent)
	r.log.Info("stage started", "step", s.name, "progress", s.percent)
	return true
}

// required runs fn; an error fails the job.
func (r *run) required(ctx context.Context, s step, fn func(context.Context) error) {
	if !r.start(ctx, s) {
		return
	}
	if err := r.timed(ctx, s, fn); err != nil {
		r.log.Error("stage failed", "step", s.name, "error", err)
		r.err = fmt.Errorf("%s: %w", s.name, err)
	}
}

// optional runs fn; an error is logged and processing continues.
func (r *run) optional(ctx context.Context, s step, fn func(context.Context) error) {
	if !r.start(ctx, s) {
		return
	}
	if err := r.timed(ctx, s, fn); err != nil {
		r.log.Warn("optional stage failed", "step", s.name, "error", err)
	}
}

func (r *run) timed(ctx context.Context, s step, fn func(context.Context) error) error {
	op := metrics.StageOp(string(r.modality), s.name)
	start := time.Now()
	err := fn(ctx)
	if err != nil {
		r.metrics.RecordError(op)
		return err
	}
	r.metrics.Since(op, start)
	return nil
}

func (r *run) result(chunks int) models.ProcessingResult {
	if r.err != nil {
		return models.ProcessingResult{Progress: r.last, Error: r.err.Error()}
	}
	r.log.Info("pipeline finished", "chunks", chunks)
	return models.ProcessingResult{Success: true, Progress: 100, Chunks: chunks}
}

// newChunk builds a chunk that inherits the job's filterable metadata.
func newChunk(job *models.IngestionJob, m models.Modality, id, text string) models.CanonicalChunk {
	ingested := job.CreatedAt
	if ingested.IsZero() {
		ingested = time.Now()
	}
	return models.CanonicalChunk{
		ChunkID:    id,
		Text:       text,
		Modality:   m,
		Source:     models.ChunkSource{FileID: job.JobID},
		CourseID:   job.Metadata.CourseID,
		UserID:     job.Metadata.UserID,
		Tags:       slices.Clone(job.Metadata.Tags),
		IngestedAt: ingested.Unix(),
	}
}

// Summarize builds a summary of already stored chunks, as the summary stage
// does during ingestion. It is used to regenerate summaries.
func (d Deps) Summarize(ctx context.Context, job *models.IngestionJob, m models.Modality, chunks []models.CanonicalChunk) *models.Summary {
	return d.createSummary(ctx, d.logger(m).With("job_id", job.JobID), job, m, chunks)
}

func jobTitle(job *models.IngestionJob) string {
	if job.Metadata.Title != "" {
		return job.Metadata.Title
	}
	return job.Metadata.FileName
}

// workDir creates the job's scratch directory under TempDir.
func (d Deps) workDir(job *models.IngestionJob) (string, func(), error) {
	base := d.TempDir
	if base == "" {
		base = os.TempDir()
	}
	dir := filepath.Join(base, job.JobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", nil, fmt.Errorf("create work dir: %w", err)
	}
	return dir, func() { _ = os.RemoveAll(dir) }, nil
}

// generateEmbeddings fills in the Embedding of every chunk.
func (d Deps) generateEmbeddings(ctx context.Context, chunks []models.CanonicalChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	if d.Embedder == nil {
		return errors.New("no embedder configured")
	}

	for start := 0; start < len(chunks); start += embedBatchSize {
		end := min(start+embedBatchSize, len(chunks))
		texts := make([]string, 0, end-start)
		for _, c := range chunks[start:end] {
			texts = append(texts, c.Text)
		}

		vectors, err := d.Embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return fmt.Errorf("embed chunks %d-%d: %w", start, end-1, err)
		}
		if len(vectors) != len(texts) {
			return fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(texts))
		}
		for i, v := range vectors {
			chunks[start+i].Embedding = v
		}
	}
	return nil
}

// createSummary asks the summarizer for a summary and falls back to an
// extractive one when it fails or is not configured. Jobs without chunks get
// no summary.
func (d Deps) createSummary(ctx context.Context, log *slog.Logger, job *models.IngestionJob, m models.Modality, chunks []models.CanonicalChunk) *models.Summary {
	if len(chunks) == 0 {
		return nil
	}

	opts := models.SummaryOptions{Style: models.StyleDetailed, IncludeTimeline: m == models.ModalityVideo || m == models.ModalityAudio}
	if job.SummaryOpts != nil {
		opts = *job.SummaryOpts
	}
	in := SummaryInput{JobID: job.JobID, Modality: m, Title: jobTitle(job), Chunks: chunks, Options: opts}

	var summary *models.Summary
	if d.Summarizer != nil {
		s, err := d.Summarizer.Summarize(ctx, in)
		if err != nil {
			log.Warn("summary generation failed, using extractive summary", "error", err)
		} else {
			summary = s
		}
	}
	if summary == nil {
		summary = FrequencySummary(in)
	}

	summary.JobID = job.JobID
	summary.Status = models.StatusCompleted
	if summary.Title == "" {
		summary.Title = in.Title
	}
	if opts.IncludeTimeline && len(summary.Timeline) == 0 {
		summary.Timeline = BuildTimeline(chunks, maxTimelineEntries)
	}
	if summary.Metadata == nil {
		summary.Metadata = map[string]any{}
	}
	summary.Metadata["modality"] = string(m)
	summary.Metadata["chunkCount"] = len(chunks)
	if job.Metadata.FileName != "" {
		summary.Metadata["fileName"] = job.Metadata.FileName
	}
	if summary.GeneratedAt.IsZero() {
		summary.GeneratedAt = time.Now().UTC()
	}
	return summary
}

// storeResults persists chunks and the summary.
func (d Deps) storeResults(ctx context.Context, chunks []models.CanonicalChunk, summary *models.Summary) error {
	if d.Store == nil {
		return errors.New("no result store configured")
	}
	if len(chunks) > 0 {
		if err := d.Store.StoreChunks(ctx, chunks); err != nil {
			return fmt.Errorf("store chunks: %w", err)
		}
	}
	if summary != nil {
		if err := d.Store.SaveSummary(ctx, summary); err != nil {
			return fmt.Errorf("save summary: %w", err)
		}
	}
	return nil
}
