package vectorstore

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"github.com/raphaelgruber/mmrag/internal/models"
)

// pointNamespace scopes the UUIDv5 point IDs derived from chunk IDs.
var pointNamespace = uuid.MustParse("6f1c2a4e-3b7d-5e9a-8c0f-2d4b6a8e1c3f")

// scrollPage is the page size used when listing a job's points.
const scrollPage = 256

// Payload keys.
const (
	keyChunkID       = "chunkId"
	keyJobID         = "jobId"
	keyText          = "text"
	keyModality      = "modality"
	keyPage          = "page"
	keyTimestamp     = "timestamp"
	keyVisualContext = "visualContext"
	keyConfidence    = "confidence"
	keyCourseID      = "courseId"
	keyUserID        = "userId"
	keyTags          = "tags"
	keyIngestedAt    = "ingestedAt"
)

// QdrantConfig configures the Qdrant gRPC client.
type QdrantConfig struct {
	Host       string
	Port       int // gRPC port, 6334 when zero
	APIKey     string
	UseTLS     bool
	Collection string
	Dimension  int
}

// qdrantAPI is the subset of *qdrant.Client the store uses.
type qdrantAPI interface {
	CollectionExists(ctx context.Context, collectionName string) (bool, error)
	CreateCollection(ctx context.Context, request *qdrant.CreateCollection) error
	Upsert(ctx context.Context, request *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
	Query(ctx context.Context, request *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
	ScrollAndOffset(ctx context.Context, request *qdrant.ScrollPoints) ([]*qdrant.RetrievedPoint, *qdrant.PointId, error)
	Count(ctx context.Context, request *qdrant.CountPoints) (uint64, error)
	Delete(ctx context.Context, request *qdrant.DeletePoints) (*qdrant.UpdateResult, error)
	Close() error
}

// Qdrant stores chunks in a single Qdrant collection using cosine distance.
type Qdrant struct {
	api        qdrantAPI
	collection string
	dimension  int
	logger     *slog.Logger
}

// NewQdrant creates a client. The connection is established lazily, so no
// request is made until EnsureCollection.
func NewQdrant(cfg QdrantConfig, logger *slog.Logger) (*Qdrant, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:                   cfg.Host,
		Port:                   cfg.Port,
		APIKey:                 cfg.APIKey,
		UseTLS:                 cfg.UseTLS,
		SkipCompatibilityCheck: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create qdrant client: %w", err)
	}
	return newQdrant(client, cfg, logger), nil
}

func newQdrant(api qdrantAPI, cfg QdrantConfig, logger *slog.Logger) *Qdrant {
	if logger == nil {
		logger = slog.Default()
	}
	return &Qdrant{
		api:        api,
		collection: cfg.Collection,
		dimension:  cfg.Dimension,
		logger:     logger.With("component", "qdrant"),
	}
}

// Close releases the gRPC connections.
func (q *Qdrant) Close() error {
	return q.api.Close()
}

// PointID derives the Qdrant point ID for a chunk. Qdrant only accepts
// unsigned integers or UUIDs as IDs.
func PointID(chunkID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(chunkID)).String()
}

func toPayload(c models.CanonicalChunk) (map[string]*qdrant.Value, error) {
	p := map[string]any{
		keyChunkID:    c.ChunkID,
		keyJobID:      c.JobID(),
		keyText:       c.Text,
		keyModality:   string(c.Modality),
		keyConfidence: c.Confidence,
	}
	set := func(key, v string) {
		if v != "" {
			p[key] = v
		}
	}
	set(keyTimestamp, c.Source.Timestamp)
	set(keyVisualContext, c.VisualContext)
	set(keyCourseID, c.CourseID)
	set(keyUserID, c.UserID)
	if c.Source.Page > 0 {
		p[keyPage] = c.Source.Page
	}
	if c.IngestedAt > 0 {
		p[keyIngestedAt] = c.IngestedAt
	}
	if len(c.Tags) > 0 {
		tags := make([]any, len(c.Tags))
		for i, t := range c.Tags {
			tags[i] = t
		}
		p[keyTags] = tags
	}
	return qdrant.TryValueMap(p)
}

func fromPayload(p map[string]*qdrant.Value) models.CanonicalChunk {
	var tags []string
	for _, v := range p[keyTags].GetListValue().GetValues() {
		tags = append(tags, v.GetStringValue())
	}
	return models.CanonicalChunk{
		ChunkID:  p[keyChunkID].GetStringValue(),
		Text:     p[keyText].GetStringValue(),
		Modality: models.Modality(p[keyModality].GetStringValue()),
		Source: models.ChunkSource{
			FileID:    p[keyJobID].GetStringValue(),
			Page:      int(p[keyPage].GetIntegerValue()),
			Timestamp: p[keyTimestamp].GetStringValue(),
		},
		VisualContext: p[keyVisualContext].GetStringValue(),
		Confidence:    numberValue(p[keyConfidence]),
		CourseID:      p[keyCourseID].GetStringValue(),
		UserID:        p[keyUserID].GetStringValue(),
		Tags:          tags,
		IngestedAt:    p[keyIngestedAt].GetIntegerValue(),
	}
}

// numberValue reads a payload number stored either as double or integer.
func numberValue(v *qdrant.Value) float64 {
	if _, ok := v.GetKind().(*qdrant.Value_IntegerValue); ok {
		return float64(v.GetIntegerValue())
	}
	return v.GetDoubleValue()
}

// EnsureCollection creates the collection unless it already exists.
func (q *Qdrant) EnsureCollection(ctx context.Context) error {
	exists, err := q.api.CollectionExists(ctx, q.collection)
	if err != nil {
		return fmt.Errorf("check collection: %w", err)
	}
	if exists {
		return nil
	}

	err = q.api.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(q.dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("create collection: %w", err)
	}
	q.logger.Info("created collection", "collection", q.collection, "dimension", q.dimension)
	return nil
}

// Upsert writes points and waits until they are searchable.
func (q *Qdrant) Upsert(ctx context.Context, chunks []models.CanonicalChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	points := make([]*qdrant.PointStruct, len(chunks))
	for i, c := range chunks {
		if len(c.Embedding) == 0 {
			return fmt.Errorf("%w: %s", ErrMissingEmbedding, c.ChunkID)
		}
		if q.dimension > 0 && len(c.Embedding) != q.dimension {
			return fmt.Errorf("%w: %s has %d, want %d", ErrDimensionMismatch, c.ChunkID, len(c.Embedding), q.dimension)
		}
		payload, err := toPayload(c)
		if err != nil {
			return fmt.Errorf("payload for %s: %w", c.ChunkID, err)
		}
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewID(PointID(c.ChunkID)),
			Vectors: qdrant.NewVectorsDense(c.Embedding),
			Payload: payload,
		}
	}
	_, err := q.api.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("upsert points: %w", err)
	}
	return nil
}

// Search runs a filtered nearest-neighbour query.
func (q *Qdrant) Search(ctx context.Context, vector []float32, filter Filter, limit int) ([]models.RetrievedChunk, error) {
	if q.dimension > 0 && len(vector) != q.dimension {
		return nil, fmt.Errorf("%w: query has %d, want %d", ErrDimensionMismatch, len(vector), q.dimension)
	}
	if limit <= 0 {
		limit = DefaultSearchK
	}
	points, err := q.api.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQueryDense(vector),
		Filter:         qdrantFilter(filter),
		Limit:          qdrant.PtrOf(uint64(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("search points: %w", err)
	}

	results := make([]models.RetrievedChunk, 0, len(points))
	for _, p := range points {
		results = append(results, models.RetrievedChunk{CanonicalChunk: fromPayload(p.GetPayload()), Score: float64(p.GetScore())})
	}
	return results, nil
}

// ListByJobID scrolls through every point of the job.
func (q *Qdrant) ListByJobID(ctx context.Context, jobID string) ([]models.CanonicalChunk, error) {
	var out []models.CanonicalChunk
	var offset *qdrant.PointId

	for {
		points, next, err := q.api.ScrollAndOffset(ctx, &qdrant.ScrollPoints{
			CollectionName: q.collection,
			Filter:         qdrantFilter(Filter{JobIDs: []string{jobID}}),
			Offset:         offset,
			Limit:          qdrant.PtrOf(uint32(scrollPage)),
			WithPayload:    qdrant.NewWithPayload(true),
		})
		if err != nil {
			return nil, fmt.Errorf("scroll points: %w", err)
		}
		for _, p := range points {
			out = append(out, fromPayload(p.GetPayload()))
		}
		if next == nil || len(points) == 0 {
			break
		}
		offset = next
	}

	slices.SortFunc(out, func(a, b models.CanonicalChunk) int {
		return strings.Compare(a.ChunkID, b.ChunkID)
	})
	return out, nil
}

// DeleteByJobID counts the job's points, then deletes them by payload filter.
func (q *Qdrant) DeleteByJobID(ctx context.Context, jobID string) (int, error) {
	filter := qdrantFilter(Filter{JobIDs: []string{jobID}})
	n, err := q.api.Count(ctx, &qdrant.CountPoints{
		CollectionName: q.collection,
		Filter:         filter,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("count points: %w", err)
	}
	if n == 0 {
		return 0, nil
	}
	_, err = q.api.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         qdrant.NewPointsSelectorFilter(filter),
	})
	if err != nil {
		return 0, fmt.Errorf("delete points: %w", err)
	}
	return int(n), nil
}

// qdrantFilter translates a Filter into Qdrant "must" conditions.
func qdrantFilter(f Filter) *qdrant.Filter {
	if f.IsEmpty() {
		return nil
	}
	var must []*qdrant.Condition

	if f.Modality != "" {
		must = append(must, qdrant.NewMatch(keyModality, string(f.Modality)))
	}
	switch len(f.JobIDs) {
	case 0:
	case 1:
		must = append(must, qdrant.NewMatch(keyJobID, f.JobIDs[0]))
	default:
		must = append(must, qdrant.NewMatchKeywords(keyJobID, f.JobIDs...))
	}
	if f.CourseID != "" {
		must = append(must, qdrant.NewMatch(keyCourseID, f.CourseID))
	}
	if f.UserID != "" {
		must = append(must, qdrant.NewMatch(keyUserID, f.UserID))
	}
	if len(f.Tags) > 0 {
		must = append(must, qdrant.NewMatchKeywords(keyTags, f.Tags...))
	}
	if f.IngestedFrom != 0 || f.IngestedTo != 0 {
		rng := &qdrant.Range{}
		if f.IngestedFrom != 0 {
			rng.Gte = qdrant.PtrOf(float64(f.IngestedFrom))
		}
		if f.IngestedTo != 0 {
			rng.Lte = qdrant.PtrOf(float64(f.IngestedTo))
		}
		must = append(must, qdrant.NewRange(keyIngestedAt, rng))
	}
	return &qdrant.Filter{Must: must}
}
