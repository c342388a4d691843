package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/raphaelgruber/mmrag/internal/models"
)

var imageSteps = []step{
	{"Analyze Image", 20},
	{"OCR Text", 45},
	{"Vision Analysis", 70},
	{StepGenerateEmbeddings, 85},
	{StepStoreResults, 100},
}

const (
	imageOCRConfidence      = 0.85
	fallbackImageConfidence = 0.5
)

// Image reads the text in an image and describes what it shows.
type Image struct {
	deps Deps
}

// NewImage creates the image pipeline.
func NewImage(deps Deps) *Image {
	return &Image{deps: deps}
}

func (p *Image) Modality() models.Modality { return models.ModalityImage }

func (p *Image) Steps() []string { return stepNames(imageSteps) }

func (p *Image) Initialize(ctx context.Context) error {
	p.deps.logger(models.ModalityImage).Info("pipeline ready", "ocr", p.deps.OCR != nil, "vision", p.deps.Vision != nil)
	return nil
}

func (p *Image) Process(ctx context.Context, job *models.IngestionJob, progress ProgressFunc) models.ProcessingResult {
	r := newRun(p.deps, models.ModalityImage, job, progress)

	var (
		ocrText  string
		analysis *ImageAnalysis
		chunks   []models.CanonicalChunk
	)

	r.required(ctx, imageSteps[0], func(ctx context.Context) error {
		info, err := os.Stat(job.Source.FilePath)
		if err != nil {
			return fmt.Errorf("open image: %w", err)
		}
		if info.Size() == 0 {
			return errors.New("image file is empty")
		}
		return nil
	})
	r.optional(ctx, imageSteps[1], func(ctx context.Context) error {
		if p.deps.OCR == nil {
			return nil
		}
		text, err := p.deps.OCR.ExtractText(ctx, job.Source.FilePath)
		if err != nil {
			return err
		}
		ocrText = text
		return nil
	})
	r.optional(ctx, imageSteps[2], func(ctx context.Context) error {
		var err error
		if p.deps.Vision == nil {
			err = errors.New("no vision model configured")
		} else {
			analysis, err = p.deps.Vision.Analyze(ctx, job.Source.FilePath)
		}
		if err != nil || analysis == nil || models.IsBlank(analysis.Description) {
			analysis = fallbackAnalysis(job)
		}
		chunks = imageChunks(job, ocrText, analysis)
		return err
	})
	r.required(ctx, imageSteps[3], func(ctx context.Context) error {
		return p.deps.generateEmbeddings(ctx, chunks)
	})
	r.required(ctx, imageSteps[4], func(ctx context.Context) error {
		return p.deps.storeResults(ctx, chunks, nil)
	})

	return r.result(len(chunks))
}

func fallbackAnalysis(job *models.IngestionJob) *ImageAnalysis {
	name := job.Metadata.FileName
	if name == "" {
		name = filepath.Base(job.Source.FilePath)
	}
	return &ImageAnalysis{Type: "unknown", Confidence: fallbackImageConfidence, Description: name}
}

// imageChunks always emits the vision chunk; the OCR chunk only when text
// was found.
func imageChunks(job *models.IngestionJob, ocrText string, a *ImageAnalysis) []models.CanonicalChunk {
	var chunks []models.CanonicalChunk

	if !models.IsBlank(ocrText) {
		c := newChunk(job, models.ModalityImage, models.NamedChunkID(job.JobID, "ocr", "main"), strings.TrimSpace(ocrText))
		c.VisualContext = a.Description
		c.Confidence = imageOCRConfidence
		chunks = append(chunks, c)
	}

	elements := "none"
	if len(a.Elements) > 0 {
		elements = strings.Join(a.Elements, ", ")
	}
	typ := a.Type
	if typ == "" {
		typ = "unknown"
	}
	text := fmt.Sprintf("Image Description: %s\n\nElements detected: %s", a.Description, elements)
	c := newChunk(job, models.ModalityImage, models.NamedChunkID(job.JobID, "vision", "main"), text)
	c.VisualContext = "Image type: " + typ
	c.Confidence = clamp01(a.Confidence)
	chunks = append(chunks, c)

	return chunks
}

func clamp01(v float64) float64 {
	return max(0, min(1, v))
}
