package capability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/raphaelgruber/mmrag/internal/metrics"
	"github.com/raphaelgruber/mmrag/internal/pipeline"
)

// WhisperConfig configures a Whisper-compatible transcription endpoint.
type WhisperConfig struct {
	// BaseURL overrides the OpenAI API base, e.g. for a self-hosted server.
	BaseURL string
	APIKey  string
	Model   string
	// Language is an optional ISO-639-1 hint.
	Language   string
	MaxRetries int
}

// Whisper transcribes audio through the OpenAI audio transcription API.
type Whisper struct {
	client   openai.Client
	model    string
	language string
	metrics  *metrics.Collector
	logger   *slog.Logger
}

// NewWhisper creates a transcriber.
func NewWhisper(cfg WhisperConfig, logger *slog.Logger, mc *metrics.Collector) (*Whisper, error) {
	if cfg.APIKey == "" && cfg.BaseURL == "" {
		return nil, errors.New("whisper: API key or base URL required")
	}
	if cfg.Model == "" {
		cfg.Model = string(openai.AudioModelWhisper1)
	}
	if logger == nil {
		logger = slog.Default()
	}

	opts := []option.RequestOption{option.WithMaxRetries(cfg.MaxRetries)}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &Whisper{
		client:   openai.NewClient(opts...),
		model:    cfg.Model,
		language: cfg.Language,
		metrics:  mc,
		logger:   logger.With("component", "whisper"),
	}, nil
}

// verboseTranscription is the verbose_json response body. The SDK type only
// models the text, so segments are read from the raw JSON.
type verboseTranscription struct {
	Text     string `json:"text"`
	Language string `json:"language"`
	Segments []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segments"`
}

// Transcribe uploads the audio file and returns its timed segments.
func (w *Whisper) Transcribe(ctx context.Context, audioPath string) (*pipeline.Transcript, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return nil, fmt.Errorf("open audio: %w", err)
	}
	defer f.Close()

	params := openai.AudioTranscriptionNewParams{
		File:           f,
		Model:          openai.AudioModel(w.model),
		ResponseFormat: openai.AudioResponseFormatVerboseJSON,
	}
	if w.language != "" {
		params.Language = openai.String(w.language)
	}

	start := time.Now()
	resp, err := w.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		w.metrics.RecordError(metrics.OpTranscribe)
		return nil, fmt.Errorf("transcribe: %w", err)
	}
	w.metrics.Since(metrics.OpTranscribe, start)

	t, err := parseVerboseTranscription(resp.RawJSON(), resp.Text)
	if err != nil {
		return nil, err
	}
	w.logger.Debug("transcribed audio", "segments", len(t.Segments), "language", t.Language, "duration_ms", time.Since(start).Milliseconds())
	return t, nil
}

// parseVerboseTranscription converts a verbose_json body. A response without
// segments but with text becomes a single segment at 0s.
func parseVerboseTranscription(raw, fallbackText string) (*pipeline.Transcript, error) {
	var v verboseTranscription
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("decode transcription: %w", err)
		}
	}
	if v.Text == "" {
		v.Text = fallbackText
	}

	t := &pipeline.Transcript{Text: strings.TrimSpace(v.Text), Language: v.Language}
	for _, s := range v.Segments {
		text := strings.TrimSpace(s.Text)
		if text == "" {
			continue
		}
		t.Segments = append(t.Segments, pipeline.Segment{Start: s.Start, End: s.End, Text: text})
	}
	if len(t.Segments) == 0 && t.Text != "" {
		t.Segments = []pipeline.Segment{{Start: 0, Text: t.Text}}
	}
	return t, nil
}
