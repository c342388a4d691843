package capability

import (
	"context"
	"fmt"
	"strings"

	"github.com/raphaelgruber/mmrag/internal/llm"
	"github.com/raphaelgruber/mmrag/internal/models"
	"github.com/raphaelgruber/mmrag/internal/pipeline"
)

// maxSummaryInput bounds the content sent to the model, in characters.
const maxSummaryInput = 24000

// SummaryPrompts builds the summarization prompts. *prompts.Service satisfies it.
type SummaryPrompts interface {
	SummaryPrompt(content string, opts models.SummaryOptions) (string, error)
	VideoSummaryPrompt(transcript, visualContext string, includeTimestamps bool) (string, error)
	DocumentSummaryPrompt(content, title string) (string, error)
}

// LLMSummarizer implements pipeline.SummaryGenerator with a text model.
type LLMSummarizer struct {
	model   TextModel
	prompts SummaryPrompts
}

// NewLLMSummarizer creates a summarizer backed by model.
func NewLLMSummarizer(model TextModel, prompts SummaryPrompts) *LLMSummarizer {
	return &LLMSummarizer{model: model, prompts: prompts}
}

type summaryResponse struct {
	Title            string   `json:"title"`
	ExecutiveSummary string   `json:"executiveSummary"`
	DetailedSummary  string   `json:"detailedSummary"`
	KeyPoints        []string `json:"keyPoints"`
	Topics           []string `json:"topics"`
}

// Summarize picks the prompt for the input's modality and decodes the
// model's JSON answer. Requests that customize style or focus use the
// generic prompt.
func (s *LLMSummarizer) Summarize(ctx context.Context, in pipeline.SummaryInput) (*models.Summary, error) {
	prompt, err := s.prompt(in)
	if err != nil {
		return nil, err
	}

	temp := 0.3
	resp, err := s.model.Generate(ctx, prompt, llm.Options{Temperature: &temp, JSON: true})
	if err != nil {
		return nil, fmt.Errorf("generate summary: %w", err)
	}

	var r summaryResponse
	if err := decodeJSONObject(resp, &r); err != nil {
		return nil, err
	}
	if strings.TrimSpace(r.ExecutiveSummary) == "" && strings.TrimSpace(r.DetailedSummary) == "" {
		return nil, fmt.Errorf("generate summary: empty summary")
	}

	detailed := r.DetailedSummary
	if in.Options.MaxLength > 0 && len(detailed) > in.Options.MaxLength {
		detailed = strings.TrimSpace(detailed[:in.Options.MaxLength]) + "..."
	}
	return &models.Summary{
		Title:            strings.TrimSpace(r.Title),
		ExecutiveSummary: strings.TrimSpace(r.ExecutiveSummary),
		DetailedSummary:  detailed,
		KeyPoints:        nonEmpty(r.KeyPoints),
		Topics:           nonEmpty(r.Topics),
		Metadata:         map[string]any{"generator": "llm"},
	}, nil
}

func (s *LLMSummarizer) prompt(in pipeline.SummaryInput) (string, error) {
	generic := in.Options.Style != "" && in.Options.Style != models.StyleDetailed ||
		len(in.Options.FocusAreas) > 0 || in.Options.Language != ""

	switch {
	case !generic && in.Modality == models.ModalityVideo:
		transcript, visual := splitVisual(in.Chunks)
		return s.prompts.VideoSummaryPrompt(transcript, visual, in.Options.IncludeTimeline)
	case !generic && in.Modality == models.ModalityDocument:
		return s.prompts.DocumentSummaryPrompt(joinChunks(in.Chunks, false), in.Title)
	default:
		return s.prompts.SummaryPrompt(joinChunks(in.Chunks, true), in.Options)
	}
}

// splitVisual separates spoken content from on-screen text, prefixing each
// line with its timestamp when known.
func splitVisual(chunks []models.CanonicalChunk) (string, string) {
	var spoken, visual []models.CanonicalChunk
	for _, c := range chunks {
		if c.VisualContext != "" {
			visual = append(visual, c)
		} else {
			spoken = append(spoken, c)
		}
	}
	return joinChunks(spoken, true), joinChunks(visual, true)
}

func joinChunks(chunks []models.CanonicalChunk, timestamps bool) string {
	var b strings.Builder
	for _, c := range chunks {
		if b.Len() >= maxSummaryInput {
			break
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		if timestamps && c.Source.Timestamp != "" {
			b.WriteString("[" + c.Source.Timestamp + "] ")
		}
		b.WriteString(strings.TrimSpace(c.Text))
	}
	out := b.String()
	if len(out) > maxSummaryInput {
		out = out[:maxSummaryInput]
	}
	return out
}

func nonEmpty(items []string) []string {
	out := make([]string, 0, len(items))
	for _, s := range items {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
