// Package vectorstore defines the vector index contract used by retrieval and
// provides in-memory and Qdrant implementations.
package vectorstore

import (
	"context"
	"errors"
	"math"
	"slices"

	"github.com/raphaelgruber/mmrag/internal/models"
)

// DefaultSearchK is the result count used when a search passes no limit.
const DefaultSearchK = 5

var (
	// ErrDimensionMismatch is returned when a vector does not match the collection.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrMissingEmbedding is returned when a chunk reaches Upsert without a vector.
	ErrMissingEmbedding = errors.New("chunk has no embedding")
)

// Store persists chunk embeddings and answers similarity queries.
// Implementations are safe for concurrent use.
type Store interface {
	// EnsureCollection creates the index if it does not exist. Calling it
	// again is a no-op.
	EnsureCollection(ctx context.Context) error

	// Upsert writes one record per chunk keyed by ChunkID. Every chunk must
	// carry an Embedding.
	Upsert(ctx context.Context, chunks []models.CanonicalChunk) error

	// Search returns up to limit chunks matching filter, best score first.
	Search(ctx context.Context, vector []float32, filter Filter, limit int) ([]models.RetrievedChunk, error)

	// ListByJobID returns every stored chunk of a job ordered by ChunkID.
	ListByJobID(ctx context.Context, jobID string) ([]models.CanonicalChunk, error)

	// DeleteByJobID removes every record of a job and reports how many were removed
	// when the backend can tell (-1 otherwise).
	DeleteByJobID(ctx context.Context, jobID string) (int, error)
}

// Filter is a conjunction of payload conditions. Zero fields are ignored;
// list fields match when any element matches.
type Filter struct {
	Modality models.Modality
	JobIDs   []string
	CourseID string
	UserID   string
	Tags     []string

	// Unix seconds, inclusive. Zero means unbounded.
	IngestedFrom int64
	IngestedTo   int64
}

// FilterFrom converts query filters and a job scope into a store filter.
func FilterFrom(f *models.QueryFilters, jobIDs []string) Filter {
	out := Filter{JobIDs: jobIDs}
	if f == nil {
		return out
	}
	out.Modality = f.Modality
	out.CourseID = f.CourseID
	out.UserID = f.UserID
	out.Tags = f.Tags
	if f.DateRange != nil {
		if !f.DateRange.Start.IsZero() {
			out.IngestedFrom = f.DateRange.Start.Unix()
		}
		if !f.DateRange.End.IsZero() {
			out.IngestedTo = f.DateRange.End.Unix()
		}
	}
	return out
}

// IsEmpty reports whether the filter matches everything.
func (f Filter) IsEmpty() bool {
	return f.Modality == "" && len(f.JobIDs) == 0 && f.CourseID == "" &&
		f.UserID == "" && len(f.Tags) == 0 && f.IngestedFrom == 0 && f.IngestedTo == 0
}

// Match evaluates the filter against a chunk.
func (f Filter) Match(c models.CanonicalChunk) bool {
	if f.Modality != "" && c.Modality != f.Modality {
		return false
	}
	if len(f.JobIDs) > 0 && !slices.Contains(f.JobIDs, c.JobID()) {
		return false
	}
	if f.CourseID != "" && c.CourseID != f.CourseID {
		return false
	}
	if f.UserID != "" && c.UserID != f.UserID {
		return false
	}
	if len(f.Tags) > 0 && !slices.ContainsFunc(f.Tags, func(t string) bool {
		return slices.Contains(c.Tags, t)
	}) {
		return false
	}
	if f.IngestedFrom != 0 && c.IngestedAt < f.IngestedFrom {
		return false
	}
	if f.IngestedTo != 0 && c.IngestedAt > f.IngestedTo {
		return false
	}
	return true
}

// Cosine returns the cosine similarity of a and b, or 0 when either is a zero
// vector or their lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
