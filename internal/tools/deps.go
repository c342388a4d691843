// Package tools provides MCP tool handlers and registration.
package tools

import (
	"context"
	"log/slog"

	"github.com/raphaelgruber/mmrag/internal/models"
	"github.com/raphaelgruber/mmrag/internal/service"
)

// Service is the part of *service.RagService the tools call.
type Service interface {
	SupportedTypes() []models.Modality
	QueueForIngestion(ctx context.Context, up service.Upload) (*service.IngestResponse, error)
	QueueURLForIngestion(ctx context.Context, rawURL string, meta models.JobMetadata) (*service.IngestResponse, error)
	GetJobStatus(ctx context.Context, jobID string) (*models.JobStatus, error)
	GetJobLogs(ctx context.Context, jobID string, limit, offset int) ([]models.JobLog, int, error)
	ListJobs(ctx context.Context, limit int) ([]*models.JobStatus, error)
	GetSummary(ctx context.Context, jobID string) (*models.Summary, error)
	DeleteJob(ctx context.Context, jobID string) error
	Query(ctx context.Context, req models.QueryRequest) (*models.QueryResult, error)
	SuggestedQuestions(ctx context.Context, jobID string) []string
}

// Retriever runs a raw similarity search. *service.RetrievalService fits.
type Retriever interface {
	Search(ctx context.Context, query string, opts service.SearchOptions) []models.RetrievedChunk
}

// Dependencies holds shared services for tool handlers.
// Passed to handler factories via closure capture.
type Dependencies struct {
	Service   Service
	Retrieval Retriever
	Logger    *slog.Logger
}
