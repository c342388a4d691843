package capability

import (
	"context"
	"fmt"
	"strings"

	"github.com/raphaelgruber/mmrag/internal/llm"
	"github.com/raphaelgruber/mmrag/internal/models"
	"github.com/raphaelgruber/mmrag/internal/pipeline"
)

const (
	defaultMaxSpeakers = 4
	diarizeWindow      = 150
)

// SpeakerPrompts builds the speaker labelling prompt. *prompts.Service satisfies it.
type SpeakerPrompts interface {
	SpeakerLabelsPrompt(segments string, maxSpeakers int) (string, error)
}

// LLMDiarizer labels transcript segments with speakers by asking a text
// model to attribute each line. It works from the transcript alone; the
// audio path is ignored.
type LLMDiarizer struct {
	model       TextModel
	prompts     SpeakerPrompts
	maxSpeakers int
}

// NewLLMDiarizer creates a diarizer. maxSpeakers <= 0 selects 4.
func NewLLMDiarizer(model TextModel, prompts SpeakerPrompts, maxSpeakers int) *LLMDiarizer {
	if maxSpeakers <= 0 {
		maxSpeakers = defaultMaxSpeakers
	}
	return &LLMDiarizer{model: model, prompts: prompts, maxSpeakers: maxSpeakers}
}

// Diarize returns a copy of segments with Speaker set to "Speaker N".
// Long transcripts are labelled in windows of diarizeWindow segments.
func (d *LLMDiarizer) Diarize(ctx context.Context, _ string, segments []pipeline.Segment) ([]pipeline.Segment, error) {
	out := make([]pipeline.Segment, len(segments))
	copy(out, segments)

	for start := 0; start < len(out); start += diarizeWindow {
		end := min(start+diarizeWindow, len(out))
		labels, err := d.label(ctx, out[start:end])
		if err != nil {
			return nil, err
		}
		for i, n := range labels {
			out[start+i].Speaker = fmt.Sprintf("Speaker %d", n)
		}
	}
	return out, nil
}

func (d *LLMDiarizer) label(ctx context.Context, segments []pipeline.Segment) ([]int, error) {
	var b strings.Builder
	for i, s := range segments {
		fmt.Fprintf(&b, "%d. [%s] %s\n", i+1, models.FormatTimestamp(s.Start), strings.TrimSpace(s.Text))
	}
	prompt, err := d.prompts.SpeakerLabelsPrompt(b.String(), d.maxSpeakers)
	if err != nil {
		return nil, err
	}

	temp := 0.0
	resp, err := d.model.Generate(ctx, prompt, llm.Options{Temperature: &temp, JSON: true})
	if err != nil {
		return nil, fmt.Errorf("label speakers: %w", err)
	}
	var r struct {
		Speakers []int `json:"speakers"`
	}
	if err := decodeJSONObject(resp, &r); err != nil {
		return nil, err
	}
	if len(r.Speakers) == 0 {
		return nil, fmt.Errorf("label speakers: no labels in response")
	}
	return normalizeLabels(r.Speakers, len(segments), d.maxSpeakers), nil
}

// normalizeLabels fits the model's labels to n segments: out-of-range
// numbers are clamped and missing trailing labels repeat the last one.
func normalizeLabels(labels []int, n, maxSpeakers int) []int {
	out := make([]int, n)
	last := 1
	for i := range out {
		if i < len(labels) {
			last = max(1, min(maxSpeakers, labels[i]))
		}
		out[i] = last
	}
	return out
}
