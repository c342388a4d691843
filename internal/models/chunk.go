package models

import (
	"fmt"
	"strings"
)

// Modality is the source content category a chunk was derived from.
type Modality string

const (
	ModalityVideo    Modality = "video"
	ModalityAudio    Modality = "audio"
	ModalityDocument Modality = "document"
	ModalityImage    Modality = "image"
)

// AllModalities lists every modality in a stable order.
var AllModalities = []Modality{ModalityVideo, ModalityAudio, ModalityDocument, ModalityImage}

// Valid reports whether m is one of the known modalities.
func (m Modality) Valid() bool {
	switch m {
	case ModalityVideo, ModalityAudio, ModalityDocument, ModalityImage:
		return true
	}
	return false
}

// ChunkSource points back at the content a chunk came from.
type ChunkSource struct {
	FileID    string `json:"fileId"`              // ID of the ingestion job
	Page      int    `json:"page,omitempty"`      // 1-based, documents only
	Timestamp string `json:"timestamp,omitempty"` // MM:SS, video/audio only
}

// CanonicalChunk is the unit of retrievable content every pipeline produces.
//
// Text is always non-empty natural language. ChunkID has the form
// "{jobId}-{kind}-{index}" so that re-running a pipeline over the same input
// yields the same IDs.
type CanonicalChunk struct {
	ChunkID       string      `json:"chunkId"`
	Text          string      `json:"text"`
	Modality      Modality    `json:"modality"`
	Source        ChunkSource `json:"source"`
	VisualContext string      `json:"visualContext,omitempty"`
	Confidence    float64     `json:"confidence"`

	// Inherited from the job metadata so retrieval can filter on them.
	CourseID string   `json:"courseId,omitempty"`
	UserID   string   `json:"userId,omitempty"`
	Tags     []string `json:"tags,omitempty"`

	// Unix seconds of ingestion, used for date range filters.
	IngestedAt int64 `json:"ingestedAt,omitempty"`

	// Set by the embedding stage; never serialized to API clients.
	Embedding []float32 `json:"-"`
}

// JobID returns the ingestion job the chunk belongs to.
func (c CanonicalChunk) JobID() string {
	return c.Source.FileID
}

// RetrievedChunk is a chunk returned from similarity search.
type RetrievedChunk struct {
	CanonicalChunk
	Score float64 `json:"score"`
}

// ChunkID builds the deterministic chunk identifier "{jobId}-{kind}-{index}".
func ChunkID(jobID, kind string, index int) string {
	return fmt.Sprintf("%s-%s-%d", jobID, kind, index)
}

// NamedChunkID is ChunkID for singleton chunks like "{jobId}-vision-main".
func NamedChunkID(jobID, kind, name string) string {
	return jobID + "-" + kind + "-" + name
}

// FormatTimestamp renders seconds as MM:SS. Minutes are not wrapped at 60,
// so a 75 minute offset renders as "75:00".
func FormatTimestamp(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	total := int(seconds)
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}

// IsBlank reports whether s has no visible characters.
func IsBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}
