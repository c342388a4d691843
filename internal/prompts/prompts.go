// Package prompts renders the versioned prompt templates used for answering,
// summarizing and describing content.
package prompts

import (
	_ "embed"
	"fmt"
	"slices"
	"strings"

	"github.com/raphaelgruber/mmrag/internal/models"
	"github.com/tmc/langchaingo/prompts"
	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var catalogYAML []byte

type templateSpec struct {
	Description string   `yaml:"description"`
	Inputs      []string `yaml:"inputs"`
	Template    string   `yaml:"template"`
}

type versionedSpec struct {
	Default  string                  `yaml:"default"`
	Inputs   []string                `yaml:"inputs"`
	Versions map[string]templateSpec `yaml:"versions"`
}

type catalog struct {
	QA                 versionedSpec     `yaml:"qa"`
	Summary            templateSpec      `yaml:"summary"`
	VideoSummary       templateSpec      `yaml:"video_summary"`
	DocumentSummary    templateSpec      `yaml:"document_summary"`
	SuggestedQuestions templateSpec      `yaml:"suggested_questions"`
	VisualDescription  templateSpec      `yaml:"visual_description"`
	ImageAnalysis      templateSpec      `yaml:"image_analysis"`
	SpeakerLabels      templateSpec      `yaml:"speaker_labels"`
	OCR                templateSpec      `yaml:"ocr"`
	Styles             map[string]string `yaml:"styles"`
}

// Service renders prompts from the embedded catalog.
type Service struct {
	qa        map[string]prompts.PromptTemplate
	qaDefault string
	summary   prompts.PromptTemplate
	video     prompts.PromptTemplate
	document  prompts.PromptTemplate
	questions prompts.PromptTemplate
	speakers  prompts.PromptTemplate
	visual    string
	imageJSON string
	ocr       string
	styles    map[string]string
}

// New parses the embedded catalog.
func New() (*Service, error) {
	return Parse(catalogYAML)
}

// Parse builds a Service from catalog YAML.
func Parse(data []byte) (*Service, error) {
	var c catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse prompt catalog: %w", err)
	}
	if len(c.QA.Versions) == 0 {
		return nil, fmt.Errorf("prompt catalog has no qa versions")
	}
	if _, ok := c.QA.Versions[c.QA.Default]; !ok {
		return nil, fmt.Errorf("default qa version %q not defined", c.QA.Default)
	}

	s := &Service{
		qa:        make(map[string]prompts.PromptTemplate, len(c.QA.Versions)),
		qaDefault: c.QA.Default,
		summary:   prompts.NewPromptTemplate(c.Summary.Template, c.Summary.Inputs),
		video:     prompts.NewPromptTemplate(c.VideoSummary.Template, c.VideoSummary.Inputs),
		document:  prompts.NewPromptTemplate(c.DocumentSummary.Template, c.DocumentSummary.Inputs),
		questions: prompts.NewPromptTemplate(c.SuggestedQuestions.Template, c.SuggestedQuestions.Inputs),
		speakers:  prompts.NewPromptTemplate(c.SpeakerLabels.Template, c.SpeakerLabels.Inputs),
		visual:    strings.TrimSpace(c.VisualDescription.Template),
		imageJSON: strings.TrimSpace(c.ImageAnalysis.Template),
		ocr:       strings.TrimSpace(c.OCR.Template),
		styles:    c.Styles,
	}
	for version, spec := range c.QA.Versions {
		inputs := spec.Inputs
		if len(inputs) == 0 {
			inputs = c.QA.Inputs
		}
		s.qa[version] = prompts.NewPromptTemplate(spec.Template, inputs)
	}
	return s, nil
}

// QAVersions lists the available Q&A prompt versions.
func (s *Service) QAVersions() []string {
	versions := make([]string, 0, len(s.qa))
	for v := range s.qa {
		versions = append(versions, v)
	}
	slices.Sort(versions)
	return versions
}

// QueryPrompt builds the grounded Q&A prompt. An empty version selects the default.
func (s *Service) QueryPrompt(version, question, context string) (string, error) {
	if version == "" {
		version = s.qaDefault
	}
	tmpl, ok := s.qa[version]
	if !ok {
		return "", fmt.Errorf("unknown qa prompt version %q", version)
	}
	return render(tmpl, map[string]any{
		"context":  context,
		"question": question,
	})
}

// SummaryPrompt builds the generic summarization prompt.
func (s *Service) SummaryPrompt(content string, opts models.SummaryOptions) (string, error) {
	return render(s.summary, map[string]any{
		"content":     content,
		"style":       s.StyleInstructions(opts.Style),
		"focus_areas": strings.Join(opts.FocusAreas, ", "),
		"max_length":  opts.MaxLength,
		"language":    opts.Language,
	})
}

// VideoSummaryPrompt builds the multimodal video summarization prompt.
func (s *Service) VideoSummaryPrompt(transcript, visualContext string, includeTimestamps bool) (string, error) {
	return render(s.video, map[string]any{
		"transcript":         transcript,
		"visual_context":     visualContext,
		"include_timestamps": includeTimestamps,
	})
}

// DocumentSummaryPrompt builds the document summarization prompt.
func (s *Service) DocumentSummaryPrompt(content, title string) (string, error) {
	return render(s.document, map[string]any{
		"content": content,
		"title":   title,
	})
}

// SuggestedQuestionsPrompt asks for count follow-up questions about summary.
func (s *Service) SuggestedQuestionsPrompt(summary string, count int) (string, error) {
	return render(s.questions, map[string]any{
		"summary": summary,
		"count":   count,
	})
}

// SpeakerLabelsPrompt asks for one speaker number per numbered segment line.
func (s *Service) SpeakerLabelsPrompt(segments string, maxSpeakers int) (string, error) {
	return render(s.speakers, map[string]any{
		"segments":     segments,
		"max_speakers": maxSpeakers,
	})
}

// VisualDescriptionPrompt is the instruction sent with images and keyframes.
func (s *Service) VisualDescriptionPrompt() string { return s.visual }

// ImageAnalysisPrompt asks a vision model for a JSON classification.
func (s *Service) ImageAnalysisPrompt() string { return s.imageJSON }

// OCRPrompt asks a vision model to transcribe legible text.
func (s *Service) OCRPrompt() string { return s.ocr }

// StyleInstructions maps a summary style to its instruction text.
func (s *Service) StyleInstructions(style models.SummaryStyle) string {
	if style == "" {
		style = models.StyleDetailed
	}
	if text, ok := s.styles[string(style)]; ok {
		return text
	}
	return s.styles["default"]
}

func render(tmpl prompts.PromptTemplate, values map[string]any) (string, error) {
	out, err := tmpl.Format(values)
	if err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}
	return strings.TrimSpace(out), nil
}
