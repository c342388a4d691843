package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/raphaelgruber/mmrag/internal/config"
	"github.com/raphaelgruber/mmrag/internal/models"
	"github.com/raphaelgruber/mmrag/internal/vectorstore"
	"github.com/surrealdb/surrealdb.go"
)

// upsertBatch bounds the number of chunks sent in one query.
const upsertBatch = 100

// chunkRow is the stored form of a CanonicalChunk.
type chunkRow struct {
	ChunkID       string    `json:"chunk_id"`
	JobID         string    `json:"job_id"`
	Text          string    `json:"text"`
	Modality      string    `json:"modality"`
	Page          int       `json:"page"`
	Timestamp     string    `json:"timestamp"`
	VisualContext string    `json:"visual_context"`
	Confidence    float64   `json:"confidence"`
	CourseID      string    `json:"course_id"`
	UserID        string    `json:"user_id"`
	Tags          []string  `json:"tags"`
	IngestedAt    int64     `json:"ingested_at"`
	Embedding     []float32 `json:"embedding,omitempty"`
	Score         float64   `json:"score,omitempty"`
}

func toChunkRow(c models.CanonicalChunk) chunkRow {
	tags := c.Tags
	if tags == nil {
		tags = []string{}
	}
	return chunkRow{
		ChunkID:       c.ChunkID,
		JobID:         c.JobID(),
		Text:          c.Text,
		Modality:      string(c.Modality),
		Page:          c.Source.Page,
		Timestamp:     c.Source.Timestamp,
		VisualContext: c.VisualContext,
		Confidence:    c.Confidence,
		CourseID:      c.CourseID,
		UserID:        c.UserID,
		Tags:          tags,
		IngestedAt:    c.IngestedAt,
		Embedding:     c.Embedding,
	}
}

func (r chunkRow) chunk() models.CanonicalChunk {
	return models.CanonicalChunk{
		ChunkID:  r.ChunkID,
		Text:     r.Text,
		Modality: models.Modality(r.Modality),
		Source: models.ChunkSource{
			FileID:    r.JobID,
			Page:      r.Page,
			Timestamp: r.Timestamp,
		},
		VisualContext: r.VisualContext,
		Confidence:    r.Confidence,
		CourseID:      r.CourseID,
		UserID:        r.UserID,
		Tags:          r.Tags,
		IngestedAt:    r.IngestedAt,
	}
}

// chunkFields is the projection used when reading chunks back.
const chunkFields = `chunk_id, job_id, text, modality, page, timestamp, visual_context,
		confidence, course_id, user_id, tags, ingested_at`

// EnsureCollection defines the schema (idempotent) using the dimension of the
// last InitSchema call or the default embedding dimension.
func (c *Client) EnsureCollection(ctx context.Context) error {
	dim := c.dimension
	if dim == 0 {
		dim = config.EmbeddingDimension
	}
	return c.InitSchema(ctx, dim)
}

// Upsert writes chunks keyed by chunk ID.
func (c *Client) Upsert(ctx context.Context, chunks []models.CanonicalChunk) error {
	for start := 0; start < len(chunks); start += upsertBatch {
		end := min(start+upsertBatch, len(chunks))
		rows := make([]chunkRow, 0, end-start)
		for _, ch := range chunks[start:end] {
			if len(ch.Embedding) == 0 {
				return fmt.Errorf("%w: %s", vectorstore.ErrMissingEmbedding, ch.ChunkID)
			}
			if c.dimension > 0 && len(ch.Embedding) != c.dimension {
				return fmt.Errorf("%w: %s has %d, want %d", vectorstore.ErrDimensionMismatch, ch.ChunkID, len(ch.Embedding), c.dimension)
			}
			rows = append(rows, toChunkRow(ch))
		}

		_, err := surrealdb.Query[any](ctx, c.db, `
			FOR $row IN $rows {
				UPSERT type::record("chunk", $row.chunk_id) CONTENT $row;
			};
		`, map[string]any{"rows": rows})
		if err != nil {
			return fmt.Errorf("upsert chunks: %w", wrapQueryError(err))
		}
	}
	return nil
}

// Search runs an HNSW KNN query. Filters are applied to the KNN candidates,
// so the candidate pool is widened when a filter is present.
func (c *Client) Search(ctx context.Context, vector []float32, filter vectorstore.Filter, limit int) ([]models.RetrievedChunk, error) {
	if limit <= 0 {
		limit = vectorstore.DefaultSearchK
	}
	k := limit
	if !filter.IsEmpty() {
		k = limit * 4
	}

	clause, vars := surrealFilter(filter)
	vars["emb"] = vector
	vars["limit"] = limit

	sql := fmt.Sprintf(`
		SELECT %s, vector::similarity::cosine(embedding, $emb) AS score
		FROM chunk
		WHERE embedding <|%d,40|> $emb %s
		ORDER BY score DESC
		LIMIT $limit
	`, chunkFields, k, clause)

	results, err := surrealdb.Query[[]chunkRow](ctx, c.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("search chunks: %w", wrapQueryError(err))
	}

	rows := lastResult(results)
	out := make([]models.RetrievedChunk, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.RetrievedChunk{CanonicalChunk: r.chunk(), Score: r.Score})
	}
	return out, nil
}

// ListByJobID returns the job's chunks ordered by chunk ID.
func (c *Client) ListByJobID(ctx context.Context, jobID string) ([]models.CanonicalChunk, error) {
	results, err := surrealdb.Query[[]chunkRow](ctx, c.db, `
		SELECT `+chunkFields+` FROM chunk WHERE job_id = $job_id ORDER BY chunk_id ASC
	`, map[string]any{"job_id": jobID})
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", wrapQueryError(err))
	}

	rows := lastResult(results)
	out := make([]models.CanonicalChunk, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.chunk())
	}
	return out, nil
}

// DeleteByJobID deletes every chunk of the job and returns the count.
func (c *Client) DeleteByJobID(ctx context.Context, jobID string) (int, error) {
	results, err := surrealdb.Query[[]chunkRow](ctx, c.db, `
		DELETE chunk WHERE job_id = $job_id RETURN BEFORE
	`, map[string]any{"job_id": jobID})
	if err != nil {
		return 0, fmt.Errorf("delete chunks: %w", wrapQueryError(err))
	}
	return len(lastResult(results)), nil
}

// surrealFilter renders a Filter as "AND ..." conditions plus variables.
func surrealFilter(f vectorstore.Filter) (string, map[string]any) {
	var conds []string
	vars := map[string]any{}

	if f.Modality != "" {
		conds = append(conds, "modality = $modality")
		vars["modality"] = string(f.Modality)
	}
	if len(f.JobIDs) > 0 {
		conds = append(conds, "job_id IN $job_ids")
		vars["job_ids"] = f.JobIDs
	}
	if f.CourseID != "" {
		conds = append(conds, "course_id = $course_id")
		vars["course_id"] = f.CourseID
	}
	if f.UserID != "" {
		conds = append(conds, "user_id = $user_id")
		vars["user_id"] = f.UserID
	}
	if len(f.Tags) > 0 {
		conds = append(conds, "tags CONTAINSANY $tags")
		vars["tags"] = f.Tags
	}
	if f.IngestedFrom != 0 {
		conds = append(conds, "ingested_at >= $ingested_from")
		vars["ingested_from"] = f.IngestedFrom
	}
	if f.IngestedTo != 0 {
		conds = append(conds, "ingested_at <= $ingested_to")
		vars["ingested_to"] = f.IngestedTo
	}

	if len(conds) == 0 {
		return "", vars
	}
	return "AND " + strings.Join(conds, " AND "), vars
}

// lastResult returns the result of the final statement, or the zero value.
func lastResult[T any](results *[]surrealdb.QueryResult[T]) T {
	var zero T
	if results == nil || len(*results) == 0 {
		return zero
	}
	return (*results)[len(*results)-1].Result
}
