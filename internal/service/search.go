package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/raphaelgruber/mmrag/internal/metrics"
	"github.com/raphaelgruber/mmrag/internal/models"
	"github.com/raphaelgruber/mmrag/internal/vectorstore"
)

// Embedder turns text into vectors. *llm.Embedder satisfies it.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// SearchOptions narrow a retrieval.
type SearchOptions struct {
	MaxResults int
	Filters    *models.QueryFilters
	JobIDs     []string
}

// RetrievalService stores and retrieves chunk embeddings.
type RetrievalService struct {
	store    vectorstore.Store
	embedder Embedder
	logger   *slog.Logger
	metrics  *metrics.Collector
}

// NewRetrievalService creates a retrieval service.
func NewRetrievalService(store vectorstore.Store, embedder Embedder, logger *slog.Logger, mc *metrics.Collector) *RetrievalService {
	if logger == nil {
		logger = slog.Default()
	}
	return &RetrievalService{store: store, embedder: embedder, logger: logger.With("component", "retrieval"), metrics: mc}
}

// EnsureCollection creates the vector index when missing.
func (s *RetrievalService) EnsureCollection(ctx context.Context) error {
	if err := s.store.EnsureCollection(ctx); err != nil {
		return fmt.Errorf("ensure collection: %w", err)
	}
	return nil
}

// Search returns the chunks most similar to query, best first. Failures
// are logged and yield an empty result.
func (s *RetrievalService) Search(ctx context.Context, query string, opts SearchOptions) []models.RetrievedChunk {
	start := time.Now()
	limit := opts.MaxResults
	if limit <= 0 {
		limit = vectorstore.DefaultSearchK
	}

	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		s.metrics.RecordError(metrics.OpVectorSearch)
		s.logger.Error("embed query failed", "error", err)
		return []models.RetrievedChunk{}
	}

	results, err := s.store.Search(ctx, vec, vectorstore.FilterFrom(opts.Filters, opts.JobIDs), limit)
	if err != nil {
		s.metrics.RecordError(metrics.OpVectorSearch)
		s.logger.Error("vector search failed", "error", err)
		return []models.RetrievedChunk{}
	}
	s.metrics.Since(metrics.OpVectorSearch, start)
	if results == nil {
		results = []models.RetrievedChunk{}
	}
	s.logger.Debug("search", "results", len(results), "limit", limit, "duration_ms", time.Since(start).Milliseconds())
	return results
}

// StoreChunks embeds chunks that have no vector yet and upserts all of them.
func (s *RetrievalService) StoreChunks(ctx context.Context, chunks []models.CanonicalChunk) error {
	if len(chunks) == 0 {
		return nil
	}

	var missing []int
	for i, c := range chunks {
		if len(c.Embedding) == 0 {
			missing = append(missing, i)
		}
	}
	if len(missing) > 0 {
		texts := make([]string, len(missing))
		for i, idx := range missing {
			texts[i] = chunks[idx].Text
		}
		vecs, err := s.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return fmt.Errorf("embed chunks: %w", err)
		}
		if len(vecs) != len(missing) {
			return fmt.Errorf("embed chunks: got %d vectors for %d chunks", len(vecs), len(missing))
		}
		for i, idx := range missing {
			chunks[idx].Embedding = vecs[i]
		}
	}

	if err := s.EnsureCollection(ctx); err != nil {
		return err
	}
	start := time.Now()
	if err := s.store.Upsert(ctx, chunks); err != nil {
		s.metrics.RecordError(metrics.OpVectorUpsert)
		return fmt.Errorf("upsert chunks: %w", err)
	}
	s.metrics.Since(metrics.OpVectorUpsert, start)
	s.logger.Debug("stored chunks", "count", len(chunks), "embedded", len(missing))
	return nil
}

// ChunksForJob returns every stored chunk of a job.
func (s *RetrievalService) ChunksForJob(ctx context.Context, jobID string) ([]models.CanonicalChunk, error) {
	return s.store.ListByJobID(ctx, jobID)
}

// DeleteByJobID removes every chunk of a job.
func (s *RetrievalService) DeleteByJobID(ctx context.Context, jobID string) (int, error) {
	n, err := s.store.DeleteByJobID(ctx, jobID)
	if err != nil {
		return 0, fmt.Errorf("delete chunks of %s: %w", jobID, err)
	}
	s.logger.Info("deleted chunks", "job_id", jobID, "count", n)
	return n, nil
}
