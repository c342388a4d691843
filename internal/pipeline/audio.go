package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/raphaelgruber/mmrag/internal/models"
)

var audioSteps = []step{
	{"Prepare Audio", 10},
	{"Transcribe", 40},
	{"Detect Speakers", 60},
	{"Segment Topics", 70},
	{StepGenerateEmbeddings, 85},
	{StepCreateSummary, 95},
	{StepStoreResults, 100},
}

// topicGap is the silence, in seconds, that starts a new topic segment.
const topicGap = 3.0

// Audio transcribes recordings into one chunk per speech segment.
type Audio struct {
	deps Deps
}

// NewAudio creates the audio pipeline.
func NewAudio(deps Deps) *Audio {
	return &Audio{deps: deps}
}

func (p *Audio) Modality() models.Modality { return models.ModalityAudio }

func (p *Audio) Steps() []string { return stepNames(audioSteps) }

func (p *Audio) Initialize(ctx context.Context) error {
	if p.deps.Transcriber == nil {
		return errors.New("audio pipeline: transcriber required")
	}
	p.deps.logger(models.ModalityAudio).Info("pipeline ready", "diarization", p.deps.Diarizer != nil)
	return nil
}

func (p *Audio) Process(ctx context.Context, job *models.IngestionJob, progress ProgressFunc) models.ProcessingResult {
	r := newRun(p.deps, models.ModalityAudio, job, progress)

	dir, cleanup, err := p.deps.workDir(job)
	if err != nil {
		return models.ProcessingResult{Error: err.Error()}
	}
	defer cleanup()

	var (
		audioPath string
		segments  []Segment
		topics    [][]Segment
		chunks    []models.CanonicalChunk
		summary   *models.Summary
	)

	r.required(ctx, audioSteps[0], func(ctx context.Context) error {
		info, err := os.Stat(job.Source.FilePath)
		if err != nil {
			return fmt.Errorf("open audio: %w", err)
		}
		if info.Size() == 0 {
			return errors.New("audio file is empty")
		}
		audioPath = job.Source.FilePath
		if p.deps.Media == nil {
			return nil
		}
		// Normalization is best effort; Whisper accepts the common formats as is.
		if wav, err := p.deps.Media.ExtractAudio(ctx, job.Source.FilePath, dir); err == nil {
			audioPath = wav
		} else {
			r.log.Warn("audio normalization failed, using original file", "error", err)
		}
		return nil
	})
	r.required(ctx, audioSteps[1], func(ctx context.Context) error {
		t, err := p.deps.Transcriber.Transcribe(ctx, audioPath)
		if err != nil {
			return err
		}
		if t != nil {
			segments = t.Segments
		}
		return nil
	})
	r.optional(ctx, audioSteps[2], func(ctx context.Context) error {
		if p.deps.Diarizer == nil || len(segments) == 0 {
			return nil
		}
		labeled, err := p.deps.Diarizer.Diarize(ctx, audioPath, segments)
		if err != nil {
			return err
		}
		if len(labeled) != len(segments) {
			return fmt.Errorf("diarizer returned %d segments for %d", len(labeled), len(segments))
		}
		segments = labeled
		return nil
	})
	r.required(ctx, audioSteps[3], func(ctx context.Context) error {
		topics = SegmentTopics(segments, topicGap)
		chunks = audioChunks(job, segments)
		r.log.Debug("segmented topics", "topics", len(topics), "segments", len(segments))
		return nil
	})
	r.required(ctx, audioSteps[4], func(ctx context.Context) error {
		return p.deps.generateEmbeddings(ctx, chunks)
	})
	r.optional(ctx, audioSteps[5], func(ctx context.Context) error {
		summary = p.deps.createSummary(ctx, r.log, job, models.ModalityAudio, chunks)
		if summary != nil && len(topics) > 1 {
			summary.Timeline = topicTimeline(topics)
		}
		return nil
	})
	r.required(ctx, audioSteps[6], func(ctx context.Context) error {
		return p.deps.storeResults(ctx, chunks, summary)
	})

	return r.result(len(chunks))
}

func audioChunks(job *models.IngestionJob, segments []Segment) []models.CanonicalChunk {
	var chunks []models.CanonicalChunk
	for i, seg := range segments {
		if models.IsBlank(seg.Text) {
			continue
		}
		text := seg.Text
		if seg.Speaker != "" {
			text = fmt.Sprintf("[%s]: %s", seg.Speaker, seg.Text)
		}
		c := newChunk(job, models.ModalityAudio, models.ChunkID(job.JobID, "audio", i), text)
		c.Source.Timestamp = models.FormatTimestamp(seg.Start)
		c.Confidence = transcriptConfidence
		chunks = append(chunks, c)
	}
	return chunks
}

// SegmentTopics groups consecutive segments, starting a new group at a
// pause of at least gap seconds or a change of speaker.
func SegmentTopics(segments []Segment, gap float64) [][]Segment {
	var groups [][]Segment
	for i, seg := range segments {
		if i == 0 {
			groups = append(groups, []Segment{seg})
			continue
		}
		prev := segments[i-1]
		if seg.Start-prev.End >= gap || (seg.Speaker != "" && seg.Speaker != prev.Speaker) {
			groups = append(groups, []Segment{seg})
			continue
		}
		groups[len(groups)-1] = append(groups[len(groups)-1], seg)
	}
	return groups
}

func topicTimeline(topics [][]Segment) []models.TimelineEntry {
	entries := make([]models.TimelineEntry, 0, min(len(topics), maxTimelineEntries))
	for _, group := range topics {
		if len(entries) == maxTimelineEntries {
			break
		}
		parts := make([]string, len(group))
		for i, s := range group {
			parts[i] = strings.TrimSpace(s.Text)
		}
		text := truncate(strings.Join(parts, " "), 200)
		entries = append(entries, models.TimelineEntry{
			Timestamp:   models.FormatTimestamp(group[0].Start),
			Title:       firstWords(text, 6),
			Description: text,
		})
	}
	return entries
}
