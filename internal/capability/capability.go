// Package capability implements the pipeline capability seams on top of
// external tools and models: Whisper for speech, a vision LLM for OCR and
// image analysis, ffmpeg for media, and native parsers for documents.
package capability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/raphaelgruber/mmrag/internal/llm"
)

// TextModel generates text. *llm.Model satisfies it.
type TextModel interface {
	Generate(ctx context.Context, prompt string, opts llm.Options) (string, error)
}

// ImageModel answers a prompt about an image. *llm.Model satisfies it.
type ImageModel interface {
	DescribeImage(ctx context.Context, prompt, mimeType string, image []byte) (string, error)
}

var errNoJSON = errors.New("no JSON object in model response")

// decodeJSONObject unmarshals the first JSON object in a model response,
// tolerating code fences and surrounding prose.
func decodeJSONObject(response string, v any) error {
	s := strings.TrimSpace(response)
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return errNoJSON
	}
	if err := json.Unmarshal([]byte(s[start:end+1]), v); err != nil {
		return fmt.Errorf("decode model response: %w", err)
	}
	return nil
}
