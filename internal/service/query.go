package service

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/raphaelgruber/mmrag/internal/llm"
	"github.com/raphaelgruber/mmrag/internal/metrics"
	"github.com/raphaelgruber/mmrag/internal/models"
)

// Confidence is the mean source score times ConfidenceScale, capped at
// MaxConfidence.
var (
	ConfidenceScale = 100.0
	MaxConfidence   = 95.0
)

const suggestionCount = 5

// DefaultSuggestedQuestions are returned when no model suggestions are available.
var DefaultSuggestedQuestions = []string{
	"What are the main topics covered?",
	"Can you summarize the key points?",
	"What are the most important concepts to understand?",
	"Which examples illustrate the main ideas?",
	"What should I review to understand this material better?",
}

// TextGenerator produces answers. *llm.Model satisfies it.
type TextGenerator interface {
	Generate(ctx context.Context, prompt string, opts llm.Options) (string, error)
	GenerateStream(ctx context.Context, prompt string, opts llm.Options, onToken func(string) error) error
}

// QueryPrompts builds the query-time prompts. *prompts.Service satisfies it.
type QueryPrompts interface {
	QueryPrompt(version, question, context string) (string, error)
	SuggestedQuestionsPrompt(summary string, count int) (string, error)
}

// Query answers a question from the retrieved chunks. Generation errors
// are returned to the caller.
func (s *RagService) Query(ctx context.Context, req models.QueryRequest) (*models.QueryResult, error) {
	start := time.Now()
	prompt, sources, searchContext, opts, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	answer, err := s.model.Generate(ctx, prompt, llm.Options{Temperature: opts.Temperature})
	if err != nil {
		s.metrics.RecordError(metrics.OpQuery)
		return nil, fmt.Errorf("generate answer: %w", err)
	}
	s.metrics.Since(metrics.OpQuery, start)

	res := &models.QueryResult{
		Answer:         strings.TrimSpace(answer),
		Sources:        sources,
		Confidence:     Confidence(sources),
		ProcessingTime: time.Since(start).Milliseconds(),
	}
	if opts.IncludeContext {
		res.Context = searchContext
	}
	s.logger.Info("query answered", "sources", len(sources), "confidence", res.Confidence, "duration_ms", res.ProcessingTime)
	return res, nil
}

// QueryStream answers like Query but reports progress through emit:
// status, sources (JSON array of chunk ids), status, answer deltas, done.
// A generation failure emits an error event and is returned.
func (s *RagService) QueryStream(ctx context.Context, req models.QueryRequest, emit func(models.StreamEvent) error) error {
	if err := req.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if err := emit(models.StreamEvent{Type: models.EventStatus, Content: "Searching knowledge base..."}); err != nil {
		return err
	}

	prompt, sources, _, opts, err := s.prepare(ctx, req)
	if err != nil {
		return err
	}

	ids := make([]string, len(sources))
	for i, c := range sources {
		ids[i] = c.ChunkID
	}
	payload, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("encode sources: %w", err)
	}
	if err := emit(models.StreamEvent{Type: models.EventSources, Content: string(payload)}); err != nil {
		return err
	}
	if err := emit(models.StreamEvent{Type: models.EventStatus, Content: "Generating answer..."}); err != nil {
		return err
	}

	start := time.Now()
	err = s.model.GenerateStream(ctx, prompt, llm.Options{Temperature: opts.Temperature}, func(token string) error {
		return emit(models.StreamEvent{Type: models.EventAnswer, Content: token})
	})
	if err != nil {
		s.metrics.RecordError(metrics.OpQuery)
		_ = emit(models.StreamEvent{Type: models.EventError, Content: err.Error()})
		return fmt.Errorf("generate answer: %w", err)
	}
	s.metrics.Since(metrics.OpQuery, start)
	return emit(models.StreamEvent{Type: models.EventDone})
}

func (s *RagService) prepare(ctx context.Context, req models.QueryRequest) (string, []models.RetrievedChunk, string, models.QueryOptions, error) {
	var opts models.QueryOptions
	if req.Options != nil {
		opts = *req.Options
	}
	if err := req.Validate(); err != nil {
		return "", nil, "", opts, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	sources := s.retrieval.Search(ctx, req.Question, SearchOptions{
		MaxResults: opts.MaxResults,
		Filters:    req.Filters,
		JobIDs:     req.JobIDs,
	})

	texts := make([]string, len(sources))
	for i, c := range sources {
		texts[i] = c.Text
	}
	searchContext := strings.Join(texts, "\n\n")

	prompt, err := s.prompts.QueryPrompt(opts.PromptVersion, req.Question, searchContext)
	if err != nil {
		return "", nil, "", opts, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return prompt, sources, searchContext, opts, nil
}

// Confidence scores an answer from its sources, in [0, MaxConfidence].
func Confidence(sources []models.RetrievedChunk) float64 {
	if len(sources) == 0 {
		return 0
	}
	var sum float64
	for _, c := range sources {
		sum += c.Score
	}
	return max(0, min(sum/float64(len(sources))*ConfidenceScale, MaxConfidence))
}

var listMarker = regexp.MustCompile(`^\s*(?:\d+[.)]|[-*•])\s*`)

// SuggestedQuestions proposes follow-up questions for a job's summary, or
// the defaults when the job has no summary or the model fails.
func (s *RagService) SuggestedQuestions(ctx context.Context, jobID string) []string {
	if jobID == "" {
		return DefaultSuggestedQuestions
	}
	summary, err := s.jobs.Summary(ctx, jobID)
	if err != nil {
		return DefaultSuggestedQuestions
	}

	text := summary.ExecutiveSummary
	if len(summary.KeyPoints) > 0 {
		text += "\n\nKey points:\n- " + strings.Join(summary.KeyPoints, "\n- ")
	}
	prompt, err := s.prompts.SuggestedQuestionsPrompt(text, suggestionCount)
	if err != nil {
		s.logger.Warn("suggested questions prompt failed", "job_id", jobID, "error", err)
		return DefaultSuggestedQuestions
	}
	resp, err := s.model.Generate(ctx, prompt, llm.Options{})
	if err != nil {
		s.logger.Warn("suggested questions failed", "job_id", jobID, "error", err)
		return DefaultSuggestedQuestions
	}

	questions := parseQuestions(resp, suggestionCount)
	if len(questions) == 0 {
		return DefaultSuggestedQuestions
	}
	return questions
}

func parseQuestions(resp string, limit int) []string {
	var out []string
	for _, line := range strings.Split(resp, "\n") {
		q := strings.TrimSpace(listMarker.ReplaceAllString(line, ""))
		if !strings.HasSuffix(q, "?") {
			continue
		}
		out = append(out, q)
		if len(out) == limit {
			break
		}
	}
	return out
}
