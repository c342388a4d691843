package vectorstore

import (
	"context"
	"testing"
	"time"

	"github.com/raphaelgruber/mmrag/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chunk(jobID, kind string, i int, vec []float32) models.CanonicalChunk {
	return models.CanonicalChunk{
		ChunkID:    models.ChunkID(jobID, kind, i),
		Text:       "text " + kind,
		Modality:   models.ModalityDocument,
		Source:     models.ChunkSource{FileID: jobID},
		Confidence: 0.9,
		Embedding:  vec,
	}
}

func TestMemory_SearchRanksByCosine(t *testing.T) {
	ctx := context.Background()
	store := NewMemory(3)
	require.NoError(t, store.EnsureCollection(ctx))
	require.NoError(t, store.EnsureCollection(ctx), "second call is a no-op")

	require.NoError(t, store.Upsert(ctx, []models.CanonicalChunk{
		chunk("job1", "section", 0, []float32{1, 0, 0}),
		chunk("job1", "section", 1, []float32{0, 1, 0}),
		chunk("job2", "section", 0, []float32{0.9, 0.1, 0}),
	}))

	results, err := store.Search(ctx, []float32{1, 0, 0}, Filter{}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "job1-section-0", results[0].ChunkID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-9)
	assert.Equal(t, "job2-section-0", results[1].ChunkID)
	assert.Nil(t, results[0].Embedding, "vectors are not returned")
}

func TestMemory_UpsertReplacesByID(t *testing.T) {
	ctx := context.Background()
	store := NewMemory(2)

	c := chunk("job1", "ocr", 0, []float32{1, 0})
	require.NoError(t, store.Upsert(ctx, []models.CanonicalChunk{c}))
	c.Text = "replaced"
	require.NoError(t, store.Upsert(ctx, []models.CanonicalChunk{c}))

	assert.Equal(t, 1, store.Len())
	chunks, err := store.ListByJobID(ctx, "job1")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "replaced", chunks[0].Text)
}

func TestMemory_UpsertValidates(t *testing.T) {
	ctx := context.Background()
	store := NewMemory(2)

	err := store.Upsert(ctx, []models.CanonicalChunk{chunk("j", "x", 0, nil)})
	assert.ErrorIs(t, err, ErrMissingEmbedding)

	err = store.Upsert(ctx, []models.CanonicalChunk{chunk("j", "x", 0, []float32{1, 2, 3})})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
	assert.Equal(t, 0, store.Len(), "nothing written on validation failure")
}

func TestMemory_DeleteByJobID(t *testing.T) {
	ctx := context.Background()
	store := NewMemory(2)
	require.NoError(t, store.Upsert(ctx, []models.CanonicalChunk{
		chunk("a", "x", 0, []float32{1, 0}),
		chunk("a", "x", 1, []float32{1, 1}),
		chunk("b", "x", 0, []float32{0, 1}),
	}))

	n, err := store.DeleteByJobID(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	results, err := store.Search(ctx, []float32{1, 0}, Filter{JobIDs: []string{"a"}}, 5)
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Equal(t, 1, store.Len())
}

func TestFilter_Match(t *testing.T) {
	base := models.CanonicalChunk{
		Modality:   models.ModalityVideo,
		Source:     models.ChunkSource{FileID: "job1"},
		CourseID:   "cs101",
		UserID:     "u1",
		Tags:       []string{"graphs", "bfs"},
		IngestedAt: 1000,
	}

	tests := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"empty filter", Filter{}, true},
		{"modality match", Filter{Modality: models.ModalityVideo}, true},
		{"modality mismatch", Filter{Modality: models.ModalityAudio}, false},
		{"job any-of", Filter{JobIDs: []string{"x", "job1"}}, true},
		{"job miss", Filter{JobIDs: []string{"x"}}, false},
		{"course", Filter{CourseID: "cs101"}, true},
		{"course miss", Filter{CourseID: "cs102"}, false},
		{"user miss", Filter{UserID: "u2"}, false},
		{"tags any-of", Filter{Tags: []string{"dfs", "bfs"}}, true},
		{"tags miss", Filter{Tags: []string{"dfs"}}, false},
		{"date inside", Filter{IngestedFrom: 900, IngestedTo: 1000}, true},
		{"date before", Filter{IngestedFrom: 1001}, false},
		{"date after", Filter{IngestedTo: 999}, false},
		{"conjunction fails on one", Filter{CourseID: "cs101", UserID: "u2"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.Match(base))
		})
	}
}

func TestFilterFrom(t *testing.T) {
	from := time.Unix(100, 0)
	to := time.Unix(200, 0)
	f := FilterFrom(&models.QueryFilters{
		Modality:  models.ModalityImage,
		CourseID:  "c",
		UserID:    "u1",
		Tags:      []string{"t"},
		DateRange: &models.DateRange{Start: from, End: to},
	}, []string{"j"})

	assert.Equal(t, Filter{
		Modality:     models.ModalityImage,
		JobIDs:       []string{"j"},
		CourseID:     "c",
		UserID:       "u1",
		Tags:         []string{"t"},
		IngestedFrom: 100,
		IngestedTo:   200,
	}, f)

	open := FilterFrom(&models.QueryFilters{DateRange: &models.DateRange{Start: from}}, nil)
	assert.Zero(t, open.IngestedTo, "zero end is unbounded")

	assert.True(t, FilterFrom(nil, nil).IsEmpty())
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine([]float32{1, 2}, []float32{2, 4}), 1e-9)
	assert.InDelta(t, 0.0, Cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.Zero(t, Cosine([]float32{0, 0}, []float32{1, 1}))
	assert.Zero(t, Cosine([]float32{1}, []float32{1, 1}))
}
