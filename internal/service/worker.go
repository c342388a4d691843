package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/raphaelgruber/mmrag/internal/capability"
	"github.com/raphaelgruber/mmrag/internal/models"
	"github.com/raphaelgruber/mmrag/internal/pipeline"
)

// Processor runs the pipeline for a job. *router.Router satisfies it.
type Processor interface {
	Process(ctx context.Context, job *models.IngestionJob, progress pipeline.ProgressFunc) models.ProcessingResult
	Steps(ft models.FileType) []string
}

// Fetcher downloads URL sources. *capability.Fetcher satisfies it.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL, dir string) (*capability.Download, error)
}

// WorkerDeps are the collaborators of a Worker.
type WorkerDeps struct {
	Router    Processor
	Jobs      *JobManager
	Retrieval *RetrievalService
	Fetcher   Fetcher
	// Summaries regenerates summaries; only Summarizer, Logger and Metrics are used.
	Summaries pipeline.Deps
	// UploadDir holds uploaded and downloaded sources, removed once the job
	// has run.
	UploadDir string
	Logger    *slog.Logger
}

// Worker handles jobs taken off the queue. It implements queue.Handler.
type Worker struct {
	d      WorkerDeps
	logger *slog.Logger
}

// NewWorker creates a worker.
func NewWorker(d WorkerDeps) *Worker {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{d: d, logger: logger.With("component", "worker")}
}

// Handle processes one job: regeneration jobs resummarize stored chunks,
// URL jobs are downloaded first, everything else is routed to a pipeline.
func (w *Worker) Handle(ctx context.Context, job *models.IngestionJob) models.ProcessingResult {
	if job.RegenerateFor != "" {
		return w.regenerate(ctx, job)
	}

	if job.Source.URL != "" && job.Source.FilePath == "" {
		downloaded, res, ok := w.download(ctx, job)
		if !ok {
			return res
		}
		job = downloaded
	}

	progress := func(step string, percent int) {
		w.d.Jobs.StepStarted(ctx, job.JobID, step, percent)
	}
	res := w.d.Router.Process(ctx, job, progress)
	if res.Success {
		w.d.Jobs.Log(ctx, job.JobID, models.LogInfo, "", fmt.Sprintf("Stored %d chunks", res.Chunks))
	}
	// Failed jobs are terminal; nothing reads the source again.
	w.removeSource(job)
	return res
}

func (w *Worker) download(ctx context.Context, job *models.IngestionJob) (*models.IngestionJob, models.ProcessingResult, bool) {
	if w.d.Fetcher == nil {
		return nil, models.ProcessingResult{Error: "Download: no fetcher configured"}, false
	}
	w.d.Jobs.StepStarted(ctx, job.JobID, "Download", 5)

	dir := filepath.Join(w.uploadDir(), job.JobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, models.ProcessingResult{Progress: 5, Error: "Download: " + err.Error()}, false
	}
	d, err := w.d.Fetcher.Fetch(ctx, job.Source.URL, dir)
	if err != nil {
		_ = os.Remove(dir)
		return nil, models.ProcessingResult{Progress: 5, Error: "Download: " + err.Error()}, false
	}

	w.d.Jobs.StepStarted(ctx, job.JobID, "Detect Type", 10)
	j := *job
	j.Source.FilePath = d.Path
	if j.Metadata.FileName == "" {
		j.Metadata.FileName = d.FileName
	}
	if d.MimeType != "" && d.MimeType != "application/octet-stream" {
		j.Metadata.MimeType = d.MimeType
	} else if j.Metadata.MimeType == "" {
		j.Metadata.MimeType = models.MimeTypeFor(d.FileName)
	}
	j.Metadata.Size = d.Size
	j.FileType = models.DetectFileType(j.Metadata.MimeType, d.FileName)

	if err := w.d.Jobs.SaveJob(ctx, &j); err != nil {
		w.logger.Warn("failed to save downloaded job", "job_id", j.JobID, "error", err)
	}
	if steps := w.d.Router.Steps(j.FileType); len(steps) > 0 {
		// The generic URL plan is replaced by the detected pipeline's stages.
		w.d.Jobs.SetSteps(ctx, j.JobID, append(slices.Clone(URLSteps[:2]), steps...))
	}
	w.d.Jobs.Log(ctx, j.JobID, models.LogInfo, "Detect Type", fmt.Sprintf("Downloaded %s (%d bytes) as %s", d.FileName, d.Size, j.FileType))
	return &j, models.ProcessingResult{}, true
}

func (w *Worker) regenerate(ctx context.Context, job *models.IngestionJob) models.ProcessingResult {
	w.d.Jobs.StepStarted(ctx, job.JobID, RegenerateSteps[0], 20)
	chunks, err := w.d.Retrieval.ChunksForJob(ctx, job.RegenerateFor)
	if err != nil {
		return models.ProcessingResult{Progress: 20, Error: RegenerateSteps[0] + ": " + err.Error()}
	}
	if len(chunks) == 0 {
		return models.ProcessingResult{Progress: 20, Error: fmt.Sprintf("%s: no chunks stored for job %s", RegenerateSteps[0], job.RegenerateFor)}
	}

	w.d.Jobs.StepStarted(ctx, job.JobID, RegenerateSteps[1], 50)
	m, ok := job.FileType.Modality()
	if !ok {
		m = chunks[0].Modality
	}
	summary := w.d.Summaries.Summarize(ctx, job, m, chunks)
	summary.Metadata["regeneratedFrom"] = job.RegenerateFor

	w.d.Jobs.StepStarted(ctx, job.JobID, RegenerateSteps[2], 90)
	if err := w.d.Jobs.SaveSummary(ctx, summary); err != nil {
		return models.ProcessingResult{Progress: 90, Error: RegenerateSteps[2] + ": " + err.Error()}
	}
	return models.ProcessingResult{Success: true, Progress: 100}
}

func (w *Worker) uploadDir() string {
	if w.d.UploadDir != "" {
		return w.d.UploadDir
	}
	return filepath.Join(os.TempDir(), "mmrag-uploads")
}

// removeSource deletes a processed source file when it lives in the upload
// directory. Files ingested from elsewhere are left alone.
func (w *Worker) removeSource(job *models.IngestionJob) {
	path := job.Source.FilePath
	if path == "" {
		return
	}
	rel, err := filepath.Rel(w.uploadDir(), path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		w.logger.Warn("failed to remove source", "job_id", job.JobID, "path", path, "error", err)
	}
	if dir := filepath.Dir(path); dir != w.uploadDir() {
		_ = os.Remove(dir)
	}
}

// ResultStore persists pipeline output: chunks into the vector store and
// summaries into the job store.
type ResultStore struct {
	Retrieval *RetrievalService
	Jobs      *JobManager
}

func (r ResultStore) StoreChunks(ctx context.Context, chunks []models.CanonicalChunk) error {
	return r.Retrieval.StoreChunks(ctx, chunks)
}

func (r ResultStore) SaveSummary(ctx context.Context, s *models.Summary) error {
	return r.Jobs.SaveSummary(ctx, s)
}
