package capability

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/raphaelgruber/mmrag/internal/models"
	"github.com/raphaelgruber/mmrag/internal/pipeline"
)

// PromptSource supplies the vision instructions. *prompts.Service satisfies it.
type PromptSource interface {
	OCRPrompt() string
	ImageAnalysisPrompt() string
}

// Vision performs OCR and image analysis with a multimodal model.
type Vision struct {
	model   ImageModel
	prompts PromptSource
}

// NewVision creates a vision capability backed by model.
func NewVision(model ImageModel, prompts PromptSource) *Vision {
	return &Vision{model: model, prompts: prompts}
}

// ExtractText transcribes the legible text in the image.
func (v *Vision) ExtractText(ctx context.Context, imagePath string) (string, error) {
	data, mime, err := readImage(imagePath)
	if err != nil {
		return "", err
	}
	text, err := v.model.DescribeImage(ctx, v.prompts.OCRPrompt(), mime, data)
	if err != nil {
		return "", fmt.Errorf("ocr: %w", err)
	}
	return strings.TrimSpace(text), nil
}

// Analyze classifies and describes the image. A response that is not the
// requested JSON is kept as a plain description.
func (v *Vision) Analyze(ctx context.Context, imagePath string) (*pipeline.ImageAnalysis, error) {
	data, mime, err := readImage(imagePath)
	if err != nil {
		return nil, err
	}
	resp, err := v.model.DescribeImage(ctx, v.prompts.ImageAnalysisPrompt(), mime, data)
	if err != nil {
		return nil, fmt.Errorf("analyze image: %w", err)
	}

	var a pipeline.ImageAnalysis
	if err := decodeJSONObject(resp, &a); err != nil {
		return &pipeline.ImageAnalysis{Type: "unknown", Confidence: 0.5, Description: strings.TrimSpace(resp)}, nil
	}
	if a.Type == "" {
		a.Type = "unknown"
	}
	a.Confidence = max(0, min(1, a.Confidence))
	return &a, nil
}

func readImage(path string) ([]byte, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("read image: %w", err)
	}
	if len(data) == 0 {
		return nil, "", fmt.Errorf("read image: %s is empty", path)
	}
	return data, models.MimeTypeFor(path), nil
}
