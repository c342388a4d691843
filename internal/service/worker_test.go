package service

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/raphaelgruber/mmrag/internal/capability"
	"github.com/raphaelgruber/mmrag/internal/models"
	"github.com/raphaelgruber/mmrag/internal/pipeline"
	"github.com/raphaelgruber/mmrag/internal/queue"
	"github.com/raphaelgruber/mmrag/internal/router"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const lectureNotes = `# Graphs

A graph is a set of nodes connected by edges. Graphs model networks.

# Traversal

Breadth first search visits nodes level by level using a queue.
`

func newWorker(t *testing.T, f *fixture, uploadDir string, fetcher Fetcher) (*Worker, *router.Router) {
	t.Helper()
	deps := pipeline.Deps{
		Parser:   capability.NewDocumentParser(),
		Embedder: f.embedder,
		Store:    ResultStore{Retrieval: f.retrieval, Jobs: f.jobs},
		TempDir:  t.TempDir(),
	}
	r := router.New(nil, pipeline.NewDocument(deps))
	require.NoError(t, r.Initialize(context.Background()))

	w := NewWorker(WorkerDeps{
		Router:    r,
		Jobs:      f.jobs,
		Retrieval: f.retrieval,
		Fetcher:   fetcher,
		UploadDir: uploadDir,
	})
	return w, r
}

func TestIngestEndToEnd(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	uploads := t.TempDir()
	w, r := newWorker(t, f, uploads, nil)

	q := queue.NewMemory(10, nil)
	f.rag = NewRagService(RagDeps{
		Jobs: f.jobs, Retrieval: f.retrieval, Queue: q, Router: r,
		Model: f.model, Prompts: f.rag.prompts,
		QueueFor: func(models.FileType) string { return "document-jobs" },
	})

	path := filepath.Join(uploads, "notes.md")
	require.NoError(t, os.WriteFile(path, []byte(lectureNotes), 0o644))

	resp, err := f.rag.QueueForIngestion(ctx, Upload{
		Path:     path,
		Metadata: models.JobMetadata{FileName: "notes.md", Size: int64(len(lectureNotes)), CourseID: "cs101"},
	})
	require.NoError(t, err)

	c := queue.NewConsumer(q, w, f.jobs, queue.ConsumerConfig{
		Queues:       []string{"document-jobs"},
		EmptyBackoff: 10 * time.Millisecond,
	}, nil, nil)
	c.Start(ctx)
	t.Cleanup(func() { _ = c.Stop(context.Background()) })

	require.Eventually(t, func() bool {
		st, err := f.rag.GetJobStatus(ctx, resp.JobID)
		return err == nil && st.IsDone()
	}, 5*time.Second, 10*time.Millisecond)

	st, err := f.rag.GetJobStatus(ctx, resp.JobID)
	require.NoError(t, err)
	require.Equal(t, models.StatusCompleted, st.Status, st.Error)
	assert.Equal(t, 100, st.Progress)

	chunks, err := f.retrieval.ChunksForJob(ctx, resp.JobID)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	for _, c := range chunks {
		assert.Equal(t, "cs101", c.CourseID)
		assert.True(t, strings.HasPrefix(c.ChunkID, resp.JobID+"-section-"))
	}

	summary, err := f.rag.GetSummary(ctx, resp.JobID)
	require.NoError(t, err)
	assert.Equal(t, resp.JobID, summary.JobID)

	res, err := f.rag.Query(ctx, models.QueryRequest{Question: "What is a graph?", Filters: &models.QueryFilters{CourseID: "cs101"}})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Sources)

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "processed uploads are removed")

	logs, _, err := f.rag.GetJobLogs(ctx, resp.JobID, 100, 0)
	require.NoError(t, err)
	var steps []string
	for _, l := range logs {
		if l.Step != "" {
			steps = append(steps, l.Step)
		}
	}
	assert.Contains(t, steps, "Parse Document")
	assert.Contains(t, steps, "Store Results")
}

func TestWorkerURLJob(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	uploads := t.TempDir()

	dl := filepath.Join(uploads, "fetched", "slides.md")
	require.NoError(t, os.MkdirAll(filepath.Dir(dl), 0o755))
	require.NoError(t, os.WriteFile(dl, []byte(lectureNotes), 0o644))

	fetcher := &fakeFetcher{download: &capability.Download{Path: dl, FileName: "slides.md", MimeType: "text/markdown", Size: 10}}
	w, r := newWorker(t, f, uploads, fetcher)

	job := &models.IngestionJob{JobID: "u1", FileType: models.FileTypeUnknown, Source: models.JobSource{URL: "https://example.com/slides"}}
	_, err := f.jobs.Create(ctx, job, URLSteps, nil)
	require.NoError(t, err)
	require.NoError(t, f.jobs.UpdateJobStatus(ctx, "u1", models.StatusProcessing, 0, ""))

	res := w.Handle(ctx, job)
	require.True(t, res.Success, res.Error)

	stored, err := f.jobs.Job(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, models.FileTypeDocument, stored.FileType)
	assert.Equal(t, "slides.md", stored.Metadata.FileName)
	assert.Equal(t, dl, stored.Source.FilePath)
	assert.NoFileExists(t, dl)

	st, err := f.jobs.Get(ctx, "u1")
	require.NoError(t, err)
	want := append([]string{"Download", "Detect Type"}, r.Steps(models.FileTypeDocument)...)
	assert.Equal(t, want, st.Steps, "URL plan is replaced by the document stages")

	fetcher.err = errBoom
	res = w.Handle(ctx, &models.IngestionJob{JobID: "u2", Source: models.JobSource{URL: "https://example.com/x"}})
	assert.False(t, res.Success)
	assert.Equal(t, 5, res.Progress)
	assert.Equal(t, "Download: boom", res.Error)
	assert.NoDirExists(t, filepath.Join(uploads, "u2"))
}

func TestWorkerRemovesSourceOnFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	uploads := t.TempDir()
	w, _ := newWorker(t, f, uploads, nil)

	upload := filepath.Join(uploads, "f1", "photo.png")
	require.NoError(t, os.MkdirAll(filepath.Dir(upload), 0o755))
	require.NoError(t, os.WriteFile(upload, []byte("png"), 0o644))

	// Only the document pipeline is registered, so image jobs fail.
	res := w.Handle(ctx, &models.IngestionJob{JobID: "f1", FileType: models.FileTypeImage, Source: models.JobSource{FilePath: upload}})
	require.False(t, res.Success)
	assert.NoFileExists(t, upload)
	assert.NoDirExists(t, filepath.Dir(upload))

	outside := filepath.Join(t.TempDir(), "photo.png")
	require.NoError(t, os.WriteFile(outside, []byte("png"), 0o644))
	res = w.Handle(ctx, &models.IngestionJob{JobID: "f2", FileType: models.FileTypeImage, Source: models.JobSource{FilePath: outside}})
	require.False(t, res.Success)
	assert.FileExists(t, outside, "files outside the upload dir are kept")
}

func TestWorkerRegenerateSummary(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	w, _ := newWorker(t, f, t.TempDir(), nil)

	require.NoError(t, f.completeJob(ctx, "orig",
		chunk("orig", 0, "Graphs connect nodes with edges. Edges may carry weights.", models.ModalityDocument, ""),
		chunk("orig", 1, "Traversal visits every node once.", models.ModalityDocument, ""),
	))

	regenID, err := f.rag.RegenerateSummary(ctx, "orig", &models.SummaryOptions{Style: models.StyleConcise})
	require.NoError(t, err)
	assert.NotEqual(t, "orig", regenID)
	require.Len(t, f.queue.published["ingest-jobs"], 1)
	job := f.queue.published["ingest-jobs"][0]
	assert.Equal(t, "orig", job.RegenerateFor)

	require.NoError(t, f.jobs.UpdateJobStatus(ctx, regenID, models.StatusProcessing, 0, ""))
	res := w.Handle(ctx, job)
	require.True(t, res.Success, res.Error)
	require.NoError(t, f.jobs.UpdateJobStatus(ctx, regenID, models.StatusCompleted, 100, ""))

	s, err := f.rag.GetSummary(ctx, regenID)
	require.NoError(t, err)
	assert.Equal(t, regenID, s.JobID)
	assert.Equal(t, "orig", s.Metadata["regeneratedFrom"])
	assert.NotEmpty(t, s.ExecutiveSummary)

	empty := &models.IngestionJob{JobID: "r2", RegenerateFor: "nothing-stored"}
	res = w.Handle(ctx, empty)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "no chunks stored")
}
