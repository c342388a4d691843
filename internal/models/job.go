// Package models defines the data contracts shared by the ingestion and query paths.
package models

import (
	"slices"
	"time"
)

// FileType is the declared or detected type of an ingested file.
// It is a Modality plus "unknown".
type FileType string

const (
	FileTypeVideo    FileType = "video"
	FileTypeAudio    FileType = "audio"
	FileTypeDocument FileType = "document"
	FileTypeImage    FileType = "image"
	FileTypeUnknown  FileType = "unknown"
)

// Modality converts the file type; ok is false for unknown.
func (f FileType) Modality() (Modality, bool) {
	m := Modality(f)
	return m, m.Valid()
}

// JobSource is where the bytes for a job live. Exactly one field is set.
type JobSource struct {
	FilePath string `json:"filePath,omitempty"`
	URL      string `json:"url,omitempty"`
}

// JobMetadata is caller-supplied information about the ingested content.
type JobMetadata struct {
	FileName    string   `json:"fileName"`
	MimeType    string   `json:"mimeType,omitempty"`
	Size        int64    `json:"size"`
	Title       string   `json:"title,omitempty"`
	Description string   `json:"description,omitempty"`
	UserID      string   `json:"userId,omitempty"`
	CourseID    string   `json:"courseId,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// IngestionJob is one unit of ingestion work. It is immutable once queued.
type IngestionJob struct {
	JobID     string      `json:"jobId"`
	FileType  FileType    `json:"fileType"`
	Source    JobSource   `json:"source"`
	Metadata  JobMetadata `json:"metadata"`
	CreatedAt time.Time   `json:"createdAt"`
	Priority  int         `json:"priority,omitempty"`

	// RegenerateFor is set on summary regeneration jobs and names the job
	// whose stored chunks are summarized.
	RegenerateFor string          `json:"regenerateFor,omitempty"`
	SummaryOpts   *SummaryOptions `json:"summaryOptions,omitempty"`
}

// Status is the lifecycle state of a job.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// IsTerminal reports whether no further transitions are allowed.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// JobStatus is the observable state of a job.
type JobStatus struct {
	JobID       string         `json:"jobId"`
	Status      Status         `json:"status"`
	Progress    int            `json:"progress"`
	CurrentStep string         `json:"currentStep"`
	Steps       []string       `json:"steps"`
	StartedAt   time.Time      `json:"startedAt"`
	CompletedAt *time.Time     `json:"completedAt,omitempty"`
	Error       string         `json:"error,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// IsDone reports whether the job reached a terminal state.
func (s *JobStatus) IsDone() bool {
	return s.Status.IsTerminal()
}

// Clone returns a deep copy safe to hand to callers.
func (s *JobStatus) Clone() *JobStatus {
	c := *s
	c.Steps = slices.Clone(s.Steps)
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		c.CompletedAt = &t
	}
	if s.Metadata != nil {
		c.Metadata = make(map[string]any, len(s.Metadata))
		for k, v := range s.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// LogLevel of a job log entry.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// JobLog is one entry in a job's processing log.
type JobLog struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     LogLevel       `json:"level"`
	Message   string         `json:"message"`
	Step      string         `json:"step,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// ProcessingResult is what a pipeline reports back for one job.
type ProcessingResult struct {
	Success  bool   `json:"success"`
	Progress int    `json:"progress"`
	Chunks   int    `json:"chunks,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Supported file extensions per modality, without the leading dot.
var SupportedExtensions = map[Modality][]string{
	ModalityVideo:    {"mp4", "mov", "avi", "mkv", "webm", "flv", "wmv"},
	ModalityAudio:    {"mp3", "wav", "m4a", "flac", "ogg", "aac", "wma"},
	ModalityDocument: {"pdf", "doc", "docx", "ppt", "pptx", "txt", "md", "rtf"},
	ModalityImage:    {"png", "jpg", "jpeg", "gif", "webp", "bmp", "tiff"},
}

// ChunkSizes is the target chunk length in characters per modality.
var ChunkSizes = map[Modality]int{
	ModalityVideo:    500,
	ModalityAudio:    500,
	ModalityDocument: 800,
	ModalityImage:    300,
}

// DefaultTimeouts is the maximum processing time per modality.
var DefaultTimeouts = map[Modality]time.Duration{
	ModalityVideo:    30 * time.Minute,
	ModalityAudio:    15 * time.Minute,
	ModalityDocument: 5 * time.Minute,
	ModalityImage:    time.Minute,
}
