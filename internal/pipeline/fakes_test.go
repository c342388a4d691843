package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/raphaelgruber/mmrag/internal/models"
	"github.com/raphaelgruber/mmrag/internal/parser"
	"github.com/stretchr/testify/require"
)

type fakeTranscriber struct {
	transcript *Transcript
	err        error
	gotPath    string
}

func (f *fakeTranscriber) Transcribe(_ context.Context, path string) (*Transcript, error) {
	f.gotPath = path
	return f.transcript, f.err
}

// fakeOCR returns text keyed by the base name of the image path.
type fakeOCR struct {
	texts map[string]string
	errs  map[string]error
}

func (f *fakeOCR) ExtractText(_ context.Context, path string) (string, error) {
	name := filepath.Base(path)
	if err := f.errs[name]; err != nil {
		return "", err
	}
	return f.texts[name], nil
}

type fakeVision struct {
	analysis *ImageAnalysis
	err      error
}

func (f *fakeVision) Analyze(context.Context, string) (*ImageAnalysis, error) {
	return f.analysis, f.err
}

type fakeEmbedder struct {
	err   error
	calls int
}

func (f *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 1, 0, 0}
	}
	return out, nil
}

type fakeMedia struct {
	scenes     []Scene
	sceneErr   error
	audioErr   error
	frameErr   error
	audioCalls int
}

func (f *fakeMedia) ExtractAudio(_ context.Context, _ string, outDir string) (string, error) {
	f.audioCalls++
	if f.audioErr != nil {
		return "", f.audioErr
	}
	return filepath.Join(outDir, "audio.wav"), nil
}

func (f *fakeMedia) DetectScenes(context.Context, string) ([]Scene, error) {
	return f.scenes, f.sceneErr
}

func (f *fakeMedia) ExtractKeyframes(_ context.Context, _ string, scenes []Scene, outDir string) ([]Scene, error) {
	if f.frameErr != nil {
		return nil, f.frameErr
	}
	out := make([]Scene, len(scenes))
	for i, s := range scenes {
		s.KeyframePath = filepath.Join(outDir, fmt.Sprintf("frame_%d.jpg", s.Index))
		out[i] = s
	}
	return out, nil
}

type fakeDiarizer struct {
	speakers []string
	err      error
}

func (f *fakeDiarizer) Diarize(_ context.Context, _ string, segments []Segment) ([]Segment, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([]Segment, len(segments))
	for i, s := range segments {
		s.Speaker = f.speakers[i%len(f.speakers)]
		out[i] = s
	}
	return out, nil
}

type fakeParser struct {
	pages []parser.Page
	err   error
}

func (f *fakeParser) Parse(context.Context, string, string) ([]parser.Page, error) {
	return f.pages, f.err
}

type fakeSummarizer struct {
	err error
}

func (f *fakeSummarizer) Summarize(_ context.Context, in SummaryInput) (*models.Summary, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &models.Summary{
		Title:            "LLM title",
		ExecutiveSummary: fmt.Sprintf("%d chunks", len(in.Chunks)),
		Metadata:         map[string]any{"generator": "llm"},
	}, nil
}

type fakeStore struct {
	mu        sync.Mutex
	chunks    []models.CanonicalChunk
	summaries []*models.Summary
	err       error
}

func (f *fakeStore) StoreChunks(_ context.Context, chunks []models.CanonicalChunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.chunks = append(f.chunks, chunks...)
	return nil
}

func (f *fakeStore) SaveSummary(_ context.Context, s *models.Summary) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.summaries = append(f.summaries, s)
	return nil
}

// progressLog records every progress callback.
type progressLog struct {
	steps    []string
	percents []int
}

func (p *progressLog) report(step string, percent int) {
	p.steps = append(p.steps, step)
	p.percents = append(p.percents, percent)
}

var errBoom = errors.New("boom")

// sourceFile writes a non-empty file for pipelines that stat their input.
func sourceFile(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte("bytes"), 0o644))
	return path
}

func testJob(id, path, fileName string) *models.IngestionJob {
	return &models.IngestionJob{
		JobID:     id,
		Source:    models.JobSource{FilePath: path},
		Metadata:  models.JobMetadata{FileName: fileName, CourseID: "cs101", Tags: []string{"week1"}},
		CreatedAt: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func chunkIDs(chunks []models.CanonicalChunk) []string {
	ids := make([]string, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ChunkID
	}
	return ids
}
