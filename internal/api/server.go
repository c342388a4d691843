// Package api exposes ingestion, job tracking and queries over HTTP.
package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/raphaelgruber/mmrag/internal/metrics"
	"github.com/raphaelgruber/mmrag/internal/models"
	"github.com/raphaelgruber/mmrag/internal/service"
)

// DefaultMaxUploadBytes caps multipart uploads.
const DefaultMaxUploadBytes = 500 << 20

// Service is the part of *service.RagService the handlers use.
type Service interface {
	SupportedTypes() []models.Modality
	QueueForIngestion(ctx context.Context, up service.Upload) (*service.IngestResponse, error)
	QueueURLForIngestion(ctx context.Context, rawURL string, meta models.JobMetadata) (*service.IngestResponse, error)
	GetJobStatus(ctx context.Context, jobID string) (*models.JobStatus, error)
	GetJobLogs(ctx context.Context, jobID string, limit, offset int) ([]models.JobLog, int, error)
	ListJobs(ctx context.Context, limit int) ([]*models.JobStatus, error)
	WatchJob(ctx context.Context, jobID string) (<-chan *models.JobStatus, func(), error)
	GetSummary(ctx context.Context, jobID string) (*models.Summary, error)
	RegenerateSummary(ctx context.Context, jobID string, opts *models.SummaryOptions) (string, error)
	DeleteJob(ctx context.Context, jobID string) error
	Query(ctx context.Context, req models.QueryRequest) (*models.QueryResult, error)
	QueryStream(ctx context.Context, req models.QueryRequest, emit func(models.StreamEvent) error) error
	SuggestedQuestions(ctx context.Context, jobID string) []string
}

// Options configure a Server.
type Options struct {
	// UploadDir receives uploaded files before they are queued.
	UploadDir      string
	MaxUploadBytes int64
	Version        string
}

// Server routes HTTP requests to the RAG service.
type Server struct {
	svc     Service
	opts    Options
	logger  *slog.Logger
	metrics *metrics.Collector
}

// New creates a Server.
func New(svc Service, opts Options, logger *slog.Logger, mc *metrics.Collector) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}
	return &Server{
		svc:     svc,
		opts:    opts,
		logger:  logger.With("component", "api"),
		metrics: mc,
	}
}

// Handler returns the routed handler wrapped in logging and recovery.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /ingest", s.handleIngest)
	mux.HandleFunc("POST /ingest/url", s.handleIngestURL)

	mux.HandleFunc("GET /status/{jobId}", s.handleStatus)
	mux.HandleFunc("GET /status/{jobId}/logs", s.handleLogs)
	mux.HandleFunc("GET /status/{jobId}/watch", s.handleWatch)
	mux.HandleFunc("GET /jobs", s.handleListJobs)
	mux.HandleFunc("DELETE /jobs/{jobId}", s.handleDeleteJob)

	mux.HandleFunc("GET /summary/{jobId}", s.handleSummary)
	mux.HandleFunc("POST /summary/{jobId}/regenerate", s.handleRegenerate)

	mux.HandleFunc("POST /query", s.handleQuery)
	mux.HandleFunc("POST /query/stream", s.handleQueryStream)
	mux.HandleFunc("GET /query/suggestions", s.handleSuggestions)

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /types", s.handleTypes)
	mux.HandleFunc("GET /metrics", s.handleMetrics)

	return recoverer(s.logger, logRequests(s.logger, mux))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "version": s.opts.Version})
}

func (s *Server) handleTypes(w http.ResponseWriter, _ *http.Request) {
	types := s.svc.SupportedTypes()
	exts := make(map[models.Modality][]string, len(types))
	for _, m := range types {
		exts[m] = models.SupportedExtensions[m]
	}
	writeJSON(w, http.StatusOK, map[string]any{"types": types, "extensions": exts})
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	if s.metrics == nil {
		writeJSON(w, http.StatusOK, metrics.Snapshot{})
		return
	}
	writeJSON(w, http.StatusOK, s.metrics.Snapshot())
}
