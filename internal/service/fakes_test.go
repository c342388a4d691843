package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/raphaelgruber/mmrag/internal/capability"
	"github.com/raphaelgruber/mmrag/internal/llm"
	"github.com/raphaelgruber/mmrag/internal/models"
	"github.com/raphaelgruber/mmrag/internal/pipeline"
	"github.com/raphaelgruber/mmrag/internal/prompts"
	"github.com/raphaelgruber/mmrag/internal/vectorstore"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

// keywordEmbedder maps texts onto three axes so similarity is predictable.
type keywordEmbedder struct {
	err error
}

func (e *keywordEmbedder) vector(text string) []float32 {
	t := strings.ToLower(text)
	switch {
	case strings.Contains(t, "graph"):
		return []float32{1, 0, 0.1}
	case strings.Contains(t, "cat"):
		return []float32{0, 1, 0.1}
	default:
		return []float32{0, 0, 1}
	}
}

func (e *keywordEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	return e.vector(text), nil
}

func (e *keywordEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.vector(t)
	}
	return out, nil
}

type fakeModel struct {
	mu      sync.Mutex
	answer  string
	tokens  []string
	err     error
	prompts []string
}

func (m *fakeModel) Generate(_ context.Context, prompt string, _ llm.Options) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prompts = append(m.prompts, prompt)
	return m.answer, m.err
}

func (m *fakeModel) GenerateStream(_ context.Context, prompt string, _ llm.Options, onToken func(string) error) error {
	m.mu.Lock()
	m.prompts = append(m.prompts, prompt)
	m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	for _, t := range m.tokens {
		if err := onToken(t); err != nil {
			return err
		}
	}
	return nil
}

type stubSteps struct{}

func (stubSteps) Steps(ft models.FileType) []string {
	if ft == models.FileTypeUnknown {
		return nil
	}
	return []string{"Parse Document", "Store Results"}
}

func (stubSteps) SupportedTypes() []models.Modality { return models.AllModalities }

type recordingQueue struct {
	mu        sync.Mutex
	published map[string][]*models.IngestionJob
	err       error
}

func (q *recordingQueue) Publish(_ context.Context, name string, job *models.IngestionJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	if q.published == nil {
		q.published = map[string][]*models.IngestionJob{}
	}
	q.published[name] = append(q.published[name], job)
	return nil
}

type fakeFetcher struct {
	download *capability.Download
	err      error
}

func (f *fakeFetcher) Fetch(_ context.Context, _, _ string) (*capability.Download, error) {
	return f.download, f.err
}

type fixture struct {
	store     *MemoryStore
	jobs      *JobManager
	vectors   *vectorstore.Memory
	embedder  *keywordEmbedder
	retrieval *RetrievalService
	model     *fakeModel
	queue     *recordingQueue
	rag       *RagService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	p, err := prompts.New()
	require.NoError(t, err)
	f := &fixture{
		store:    NewMemoryStore(),
		vectors:  vectorstore.NewMemory(3),
		embedder: &keywordEmbedder{},
		model:    &fakeModel{answer: "Graphs have nodes."},
		queue:    &recordingQueue{},
	}
	f.jobs = NewJobManager(f.store, nil)
	f.retrieval = NewRetrievalService(f.vectors, f.embedder, nil, nil)
	f.rag = NewRagService(RagDeps{
		Jobs:      f.jobs,
		Retrieval: f.retrieval,
		Queue:     f.queue,
		Router:    stubSteps{},
		Model:     f.model,
		Prompts:   p,
		QueueFor: func(ft models.FileType) string {
			if ft == models.FileTypeUnknown {
				return "ingest-jobs"
			}
			return string(ft) + "-jobs"
		},
	})
	return f
}

func chunk(jobID string, i int, text string, m models.Modality, course string) models.CanonicalChunk {
	return models.CanonicalChunk{
		ChunkID:    models.ChunkID(jobID, "section", i),
		Text:       text,
		Modality:   m,
		Source:     models.ChunkSource{FileID: jobID},
		Confidence: 0.9,
		CourseID:   course,
		IngestedAt: 1_700_000_000,
	}
}

// completeJob stores a finished job with the given chunks.
func (f *fixture) completeJob(ctx context.Context, jobID string, chunks ...models.CanonicalChunk) error {
	job := &models.IngestionJob{JobID: jobID, FileType: models.FileTypeDocument, Metadata: models.JobMetadata{FileName: jobID + ".pdf"}}
	if _, err := f.jobs.Create(ctx, job, []string{"Parse Document"}, nil); err != nil {
		return err
	}
	if err := f.retrieval.StoreChunks(ctx, chunks); err != nil {
		return err
	}
	return f.jobs.UpdateJobStatus(ctx, jobID, models.StatusCompleted, 100, "")
}

var _ pipeline.ResultStore = ResultStore{}
