package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/raphaelgruber/mmrag/internal/models"
)

var videoSteps = []step{
	{"Extract Audio", 10},
	{"Detect Scenes", 25},
	{"Extract Keyframes", 35},
	{"Transcribe Audio", 60},
	{"OCR Keyframes", 75},
	{StepGenerateEmbeddings, 85},
	{StepCreateSummary, 95},
	{StepStoreResults, 100},
}

const (
	transcriptConfidence = 0.9
	frameOCRConfidence   = 0.85
)

// Video extracts the soundtrack and keyframes of a video, transcribes the
// speech and reads on-screen text.
type Video struct {
	deps Deps
}

// NewVideo creates the video pipeline.
func NewVideo(deps Deps) *Video {
	return &Video{deps: deps}
}

func (p *Video) Modality() models.Modality { return models.ModalityVideo }

func (p *Video) Steps() []string { return stepNames(videoSteps) }

// Initialize checks that the required capabilities are present.
func (p *Video) Initialize(ctx context.Context) error {
	if p.deps.Media == nil {
		return errors.New("video pipeline: media processor required")
	}
	if p.deps.Transcriber == nil {
		return errors.New("video pipeline: transcriber required")
	}
	p.deps.logger(models.ModalityVideo).Info("pipeline ready", "ocr", p.deps.OCR != nil)
	return nil
}

func (p *Video) Process(ctx context.Context, job *models.IngestionJob, progress ProgressFunc) models.ProcessingResult {
	r := newRun(p.deps, models.ModalityVideo, job, progress)

	dir, cleanup, err := p.deps.workDir(job)
	if err != nil {
		return models.ProcessingResult{Error: err.Error()}
	}
	defer cleanup()

	var (
		audioPath  string
		scenes     []Scene
		transcript *Transcript
		chunks     []models.CanonicalChunk
		summary    *models.Summary
	)

	r.required(ctx, videoSteps[0], func(ctx context.Context) (err error) {
		audioPath, err = p.deps.Media.ExtractAudio(ctx, job.Source.FilePath, dir)
		return err
	})
	r.optional(ctx, videoSteps[1], func(ctx context.Context) error {
		detected, err := p.deps.Media.DetectScenes(ctx, job.Source.FilePath)
		if err != nil {
			return err
		}
		scenes = detected
		return nil
	})
	r.optional(ctx, videoSteps[2], func(ctx context.Context) error {
		if len(scenes) == 0 {
			return nil
		}
		withFrames, err := p.deps.Media.ExtractKeyframes(ctx, job.Source.FilePath, scenes, dir)
		if err != nil {
			scenes = nil
			return err
		}
		scenes = withFrames
		return nil
	})
	r.required(ctx, videoSteps[3], func(ctx context.Context) (err error) {
		transcript, err = p.deps.Transcriber.Transcribe(ctx, audioPath)
		if err != nil {
			return err
		}
		chunks = append(chunks, transcriptChunks(job, transcript)...)
		return nil
	})
	r.optional(ctx, videoSteps[4], func(ctx context.Context) error {
		ocr, err := p.frameChunks(ctx, r, job, scenes)
		if err != nil {
			return err
		}
		chunks = append(chunks, ocr...)
		return nil
	})
	r.required(ctx, videoSteps[5], func(ctx context.Context) error {
		return p.deps.generateEmbeddings(ctx, chunks)
	})
	r.optional(ctx, videoSteps[6], func(ctx context.Context) error {
		summary = p.deps.createSummary(ctx, r.log, job, models.ModalityVideo, chunks)
		return nil
	})
	r.required(ctx, videoSteps[7], func(ctx context.Context) error {
		return p.deps.storeResults(ctx, chunks, summary)
	})

	return r.result(len(chunks))
}

// transcriptChunks emits one chunk per non-blank segment.
func transcriptChunks(job *models.IngestionJob, t *Transcript) []models.CanonicalChunk {
	if t == nil {
		return nil
	}
	var chunks []models.CanonicalChunk
	for i, seg := range t.Segments {
		if models.IsBlank(seg.Text) {
			continue
		}
		c := newChunk(job, models.ModalityVideo, models.ChunkID(job.JobID, "transcript", i), seg.Text)
		c.Source.Timestamp = models.FormatTimestamp(seg.Start)
		c.Confidence = transcriptConfidence
		chunks = append(chunks, c)
	}
	return chunks
}

// frameChunks OCRs each keyframe. A frame that fails is skipped; the stage
// fails only when OCR is unavailable for frames that exist.
func (p *Video) frameChunks(ctx context.Context, r *run, job *models.IngestionJob, scenes []Scene) ([]models.CanonicalChunk, error) {
	if len(scenes) == 0 {
		return nil, nil
	}
	if p.deps.OCR == nil {
		return nil, errors.New("no OCR engine configured")
	}

	var chunks []models.CanonicalChunk
	var failed int
	for _, s := range scenes {
		if s.KeyframePath == "" {
			continue
		}
		text, err := p.deps.OCR.ExtractText(ctx, s.KeyframePath)
		if err != nil {
			failed++
			r.log.Warn("frame OCR failed", "scene", s.Index, "error", err)
			continue
		}
		if models.IsBlank(text) {
			continue
		}
		ts := models.FormatTimestamp(s.Start)
		c := newChunk(job, models.ModalityVideo, models.ChunkID(job.JobID, "ocr", s.Index), text)
		c.Source.Timestamp = ts
		c.VisualContext = "Frame captured at " + ts
		c.Confidence = frameOCRConfidence
		chunks = append(chunks, c)
	}
	if failed > 0 && failed == len(scenes) {
		return chunks, fmt.Errorf("OCR failed for all %d frames", failed)
	}
	return chunks, nil
}
