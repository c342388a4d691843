package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/raphaelgruber/mmrag/internal/config"
	"github.com/raphaelgruber/mmrag/internal/metrics"
	"github.com/raphaelgruber/mmrag/internal/models"
)

var (
	// ErrJobNotCompleted is returned when a summary is requested before the job finished.
	ErrJobNotCompleted = errors.New("job not completed")

	// ErrInvalidRequest marks caller errors such as an empty question or URL.
	ErrInvalidRequest = errors.New("invalid request")
)

// Step lists for jobs that do not go straight to a pipeline.
var (
	URLSteps        = []string{"Download", "Detect Type", "Process", "Embed", "Summarize"}
	RegenerateSteps = []string{"Load Chunks", "Create Summary", "Store Summary"}
)

// Publisher enqueues jobs. queue.Queue implementations satisfy it.
type Publisher interface {
	Publish(ctx context.Context, queue string, job *models.IngestionJob) error
}

// StepSource reports the stage names of each pipeline. *router.Router satisfies it.
type StepSource interface {
	Steps(ft models.FileType) []string
	SupportedTypes() []models.Modality
}

// RagDeps are the collaborators of a RagService.
type RagDeps struct {
	Jobs      *JobManager
	Retrieval *RetrievalService
	Queue     Publisher
	Router    StepSource
	Model     TextGenerator
	Prompts   QueryPrompts
	// QueueFor names the queue for a file type. config.Config.QueueFor fits.
	QueueFor func(models.FileType) string
	Logger   *slog.Logger
	Metrics  *metrics.Collector
}

// RagService is the entry point for ingestion and queries.
type RagService struct {
	jobs      *JobManager
	retrieval *RetrievalService
	queue     Publisher
	router    StepSource
	model     TextGenerator
	prompts   QueryPrompts
	queueFor  func(models.FileType) string
	logger    *slog.Logger
	metrics   *metrics.Collector
}

// NewRagService wires a RagService.
func NewRagService(d RagDeps) *RagService {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	queueFor := d.QueueFor
	if queueFor == nil {
		queueFor = func(models.FileType) string { return config.DefaultQueueName }
	}
	return &RagService{
		jobs:      d.Jobs,
		retrieval: d.Retrieval,
		queue:     d.Queue,
		router:    d.Router,
		model:     d.Model,
		prompts:   d.Prompts,
		queueFor:  queueFor,
		logger:    logger.With("component", "rag"),
		metrics:   d.Metrics,
	}
}

// Upload is a file already written to local storage.
type Upload struct {
	Path     string
	Metadata models.JobMetadata
	Priority int
}

// IngestResponse acknowledges a queued job.
type IngestResponse struct {
	JobID         string        `json:"jobId"`
	Status        models.Status `json:"status"`
	EstimatedTime string        `json:"estimatedTime"`
}

// Initialize prepares the vector index.
func (s *RagService) Initialize(ctx context.Context) error {
	return s.retrieval.EnsureCollection(ctx)
}

// SupportedTypes lists the modalities the router can process.
func (s *RagService) SupportedTypes() []models.Modality {
	return s.router.SupportedTypes()
}

// QueueForIngestion queues an uploaded file. It returns once the job is
// stored and published.
func (s *RagService) QueueForIngestion(ctx context.Context, up Upload) (*IngestResponse, error) {
	meta := up.Metadata
	if meta.MimeType == "" {
		meta.MimeType = models.MimeTypeFor(meta.FileName)
	}
	ft := models.DetectFileType(meta.MimeType, meta.FileName)

	job := s.newJob(ft, models.JobSource{FilePath: up.Path}, meta, up.Priority)
	steps := s.router.Steps(ft)
	if steps == nil {
		steps = []string{}
	}
	estimate := EstimateProcessingTime(ft, meta.Size)
	if err := s.enqueue(ctx, job, steps, estimate); err != nil {
		return nil, err
	}
	return &IngestResponse{JobID: job.JobID, Status: models.StatusQueued, EstimatedTime: estimate}, nil
}

// QueueURLForIngestion queues a remote file. The worker downloads it and
// detects its type.
func (s *RagService) QueueURLForIngestion(ctx context.Context, rawURL string, meta models.JobMetadata) (*IngestResponse, error) {
	if models.IsBlank(rawURL) {
		return nil, fmt.Errorf("%w: url is required", ErrInvalidRequest)
	}
	job := s.newJob(models.FileTypeUnknown, models.JobSource{URL: rawURL}, meta, 0)
	estimate := "2-5 minutes"
	if err := s.enqueue(ctx, job, URLSteps, estimate); err != nil {
		return nil, err
	}
	return &IngestResponse{JobID: job.JobID, Status: models.StatusQueued, EstimatedTime: estimate}, nil
}

func (s *RagService) newJob(ft models.FileType, src models.JobSource, meta models.JobMetadata, priority int) *models.IngestionJob {
	return &models.IngestionJob{
		JobID:     uuid.New().String(),
		FileType:  ft,
		Source:    src,
		Metadata:  meta,
		CreatedAt: time.Now().UTC(),
		Priority:  priority,
	}
}

func (s *RagService) enqueue(ctx context.Context, job *models.IngestionJob, steps []string, estimate string) error {
	meta := map[string]any{"fileType": string(job.FileType), "estimatedTime": estimate}
	if job.Metadata.FileName != "" {
		meta["fileName"] = job.Metadata.FileName
	}
	if job.Source.URL != "" {
		meta["url"] = job.Source.URL
	}
	if _, err := s.jobs.Create(ctx, job, steps, meta); err != nil {
		return err
	}

	queue := s.queueFor(job.FileType)
	if err := s.queue.Publish(ctx, queue, job); err != nil {
		_ = s.jobs.UpdateJobStatus(context.WithoutCancel(ctx), job.JobID, models.StatusFailed, 0, "enqueue failed: "+err.Error())
		return fmt.Errorf("publish job: %w", err)
	}
	s.logger.Info("job queued", "job_id", job.JobID, "queue", queue, "file_type", job.FileType)
	return nil
}

// EstimateProcessingTime gives a human-readable processing estimate from
// the file type and size in bytes.
func EstimateProcessingTime(ft models.FileType, size int64) string {
	mb := float64(size) / (1024 * 1024)
	ceil := func(v float64) int { return int(math.Ceil(v)) }
	switch ft {
	case models.FileTypeVideo:
		return fmt.Sprintf("%d-%d minutes", max(2, ceil(mb/10)), max(5, ceil(mb/5)))
	case models.FileTypeAudio:
		return fmt.Sprintf("%d-%d minutes", max(1, ceil(mb/20)), max(2, ceil(mb/10)))
	case models.FileTypeDocument:
		return "30 seconds - 2 minutes"
	case models.FileTypeImage:
		return "10-30 seconds"
	default:
		return "1-5 minutes"
	}
}

// GetJobStatus returns the job's status or models.ErrNotFound.
func (s *RagService) GetJobStatus(ctx context.Context, jobID string) (*models.JobStatus, error) {
	return s.jobs.Get(ctx, jobID)
}

// GetJobLogs returns a page of the job's log and the total entry count.
func (s *RagService) GetJobLogs(ctx context.Context, jobID string, limit, offset int) ([]models.JobLog, int, error) {
	return s.jobs.Logs(ctx, jobID, limit, offset)
}

// ListJobs returns recent jobs, newest first.
func (s *RagService) ListJobs(ctx context.Context, limit int) ([]*models.JobStatus, error) {
	return s.jobs.List(ctx, limit)
}

// WatchJob streams status updates of a job until it finishes.
func (s *RagService) WatchJob(ctx context.Context, jobID string) (<-chan *models.JobStatus, func(), error) {
	return s.jobs.Watch(ctx, jobID)
}

// GetSummary returns the job's summary. Jobs that have not completed
// return ErrJobNotCompleted.
func (s *RagService) GetSummary(ctx context.Context, jobID string) (*models.Summary, error) {
	st, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if st.Status != models.StatusCompleted {
		return nil, fmt.Errorf("%w: status is %s", ErrJobNotCompleted, st.Status)
	}
	return s.jobs.Summary(ctx, jobID)
}

// RegenerateSummary queues a job that summarizes the stored chunks of
// jobID again. The new summary is stored under the returned job id.
func (s *RagService) RegenerateSummary(ctx context.Context, jobID string, opts *models.SummaryOptions) (string, error) {
	st, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return "", err
	}
	if st.Status != models.StatusCompleted {
		return "", fmt.Errorf("%w: status is %s", ErrJobNotCompleted, st.Status)
	}
	orig, err := s.jobs.Job(ctx, jobID)
	if err != nil {
		return "", fmt.Errorf("load job %s: %w", jobID, err)
	}
	if opts != nil && !opts.Style.Valid() {
		return "", fmt.Errorf("%w: unknown summary style %q", ErrInvalidRequest, opts.Style)
	}

	job := s.newJob(orig.FileType, models.JobSource{}, orig.Metadata, 0)
	job.RegenerateFor = jobID
	job.SummaryOpts = opts

	meta := map[string]any{"regenerateFor": jobID}
	if _, err := s.jobs.Create(ctx, job, RegenerateSteps, meta); err != nil {
		return "", err
	}
	queue := s.queueFor(models.FileTypeUnknown)
	if err := s.queue.Publish(ctx, queue, job); err != nil {
		_ = s.jobs.UpdateJobStatus(context.WithoutCancel(ctx), job.JobID, models.StatusFailed, 0, "enqueue failed: "+err.Error())
		return "", fmt.Errorf("publish job: %w", err)
	}
	s.logger.Info("summary regeneration queued", "job_id", job.JobID, "source_job", jobID)
	return job.JobID, nil
}

// DeleteJob removes a job's chunks, status, log and summary.
func (s *RagService) DeleteJob(ctx context.Context, jobID string) error {
	if _, err := s.jobs.Get(ctx, jobID); err != nil {
		return err
	}
	if _, err := s.retrieval.DeleteByJobID(ctx, jobID); err != nil {
		return err
	}
	if err := s.jobs.Delete(ctx, jobID); err != nil {
		return fmt.Errorf("delete job %s: %w", jobID, err)
	}
	s.logger.Info("job deleted", "job_id", jobID)
	return nil
}
