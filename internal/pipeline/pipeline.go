// Package pipeline turns an ingestion job into canonical chunks. There is one
// pipeline per modality; each runs an ordered list of stages whose names make
// up the job's step list.
package pipeline

import (
	"context"

	"github.com/raphaelgruber/mmrag/internal/models"
	"github.com/raphaelgruber/mmrag/internal/parser"
)

// ProgressFunc is called when a stage starts.
type ProgressFunc func(step string, percent int)

// Pipeline processes jobs of one modality.
type Pipeline interface {
	Modality() models.Modality
	// Steps lists the stage names in execution order.
	Steps() []string
	Initialize(ctx context.Context) error
	// Process never returns an error; failures are reported in the result.
	Process(ctx context.Context, job *models.IngestionJob, progress ProgressFunc) models.ProcessingResult
}

// Segment is a timed span of transcribed speech. Times are in seconds.
type Segment struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Text    string  `json:"text"`
	Speaker string  `json:"speaker,omitempty"`
}

// Transcript is the output of speech recognition.
type Transcript struct {
	Text     string    `json:"text"`
	Segments []Segment `json:"segments"`
	Language string    `json:"language,omitempty"`
}

// Scene is a detected shot in a video. KeyframePath is set once a frame has
// been extracted for it.
type Scene struct {
	Index        int
	Start        float64
	End          float64
	KeyframePath string
}

// ImageAnalysis is a vision model's classification of an image.
type ImageAnalysis struct {
	Type        string   `json:"type"`
	Confidence  float64  `json:"confidence"`
	Description string   `json:"description"`
	Elements    []string `json:"elements"`
}

// Transcriber converts speech to timed text.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (*Transcript, error)
}

// OCREngine reads the text visible in an image.
type OCREngine interface {
	ExtractText(ctx context.Context, imagePath string) (string, error)
}

// VisionDescriber classifies and describes an image.
type VisionDescriber interface {
	Analyze(ctx context.Context, imagePath string) (*ImageAnalysis, error)
}

// Embedder turns texts into vectors, one per input, in order.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// MediaProcessor performs the video and audio file operations.
type MediaProcessor interface {
	// ExtractAudio writes a 16kHz mono WAV of the input into outDir.
	ExtractAudio(ctx context.Context, inputPath, outDir string) (string, error)
	DetectScenes(ctx context.Context, videoPath string) ([]Scene, error)
	// ExtractKeyframes returns scenes with KeyframePath set. Scenes whose
	// frame could not be written are dropped.
	ExtractKeyframes(ctx context.Context, videoPath string, scenes []Scene, outDir string) ([]Scene, error)
}

// Diarizer attributes transcript segments to speakers.
type Diarizer interface {
	Diarize(ctx context.Context, audioPath string, segments []Segment) ([]Segment, error)
}

// DocumentParser extracts per-page text from a document file.
type DocumentParser interface {
	Parse(ctx context.Context, path, mimeType string) ([]parser.Page, error)
}

// SummaryInput is what a SummaryGenerator works from.
type SummaryInput struct {
	JobID    string
	Modality models.Modality
	Title    string
	Chunks   []models.CanonicalChunk
	Options  models.SummaryOptions
}

// SummaryGenerator produces a summary of a job's chunks.
type SummaryGenerator interface {
	Summarize(ctx context.Context, in SummaryInput) (*models.Summary, error)
}

// ResultStore persists a job's output.
type ResultStore interface {
	StoreChunks(ctx context.Context, chunks []models.CanonicalChunk) error
	SaveSummary(ctx context.Context, summary *models.Summary) error
}
