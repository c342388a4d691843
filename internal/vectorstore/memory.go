package vectorstore

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/raphaelgruber/mmrag/internal/models"
)

// Memory is a brute-force cosine store kept in process memory.
// Used for tests and single-process deployments without a vector database.
type Memory struct {
	mu        sync.RWMutex
	dimension int
	created   bool
	records   map[string]models.CanonicalChunk
}

// NewMemory creates an in-memory store for vectors of the given dimension.
func NewMemory(dimension int) *Memory {
	return &Memory{
		dimension: dimension,
		records:   make(map[string]models.CanonicalChunk),
	}
}

// EnsureCollection marks the collection as created.
func (m *Memory) EnsureCollection(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.created = true
	return nil
}

// Upsert stores chunks, replacing any with the same ChunkID.
func (m *Memory) Upsert(ctx context.Context, chunks []models.CanonicalChunk) error {
	for _, c := range chunks {
		if len(c.Embedding) == 0 {
			return fmt.Errorf("%w: %s", ErrMissingEmbedding, c.ChunkID)
		}
		if m.dimension > 0 && len(c.Embedding) != m.dimension {
			return fmt.Errorf("%w: %s has %d, want %d", ErrDimensionMismatch, c.ChunkID, len(c.Embedding), m.dimension)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range chunks {
		c.Tags = slices.Clone(c.Tags)
		c.Embedding = slices.Clone(c.Embedding)
		m.records[c.ChunkID] = c
	}
	return nil
}

// Search scores every record matching filter.
func (m *Memory) Search(ctx context.Context, vector []float32, filter Filter, limit int) ([]models.RetrievedChunk, error) {
	if m.dimension > 0 && len(vector) != m.dimension {
		return nil, fmt.Errorf("%w: query has %d, want %d", ErrDimensionMismatch, len(vector), m.dimension)
	}
	if limit <= 0 {
		limit = DefaultSearchK
	}

	m.mu.RLock()
	results := make([]models.RetrievedChunk, 0, len(m.records))
	for _, c := range m.records {
		if !filter.Match(c) {
			continue
		}
		out := c
		out.Embedding = nil
		results = append(results, models.RetrievedChunk{CanonicalChunk: out, Score: Cosine(vector, c.Embedding)})
	}
	m.mu.RUnlock()

	slices.SortFunc(results, func(a, b models.RetrievedChunk) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return strings.Compare(a.ChunkID, b.ChunkID)
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// ListByJobID returns a job's chunks sorted by ChunkID.
func (m *Memory) ListByJobID(ctx context.Context, jobID string) ([]models.CanonicalChunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.CanonicalChunk
	for _, c := range m.records {
		if c.JobID() == jobID {
			out = append(out, c)
		}
	}
	slices.SortFunc(out, func(a, b models.CanonicalChunk) int {
		return strings.Compare(a.ChunkID, b.ChunkID)
	})
	return out, nil
}

// DeleteByJobID removes all of a job's records.
func (m *Memory) DeleteByJobID(ctx context.Context, jobID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for id, c := range m.records {
		if c.JobID() == jobID {
			delete(m.records, id)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored records.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}
