package models

import (
	"errors"
	"fmt"
	"time"
	"unicode/utf8"
)

// Query input limits.
const (
	MaxQuestionLength = 1000 // characters
	MaxQueryResults   = 20
)

// DateRange bounds ingestion time, inclusive. Zero values are open ends.
type DateRange struct {
	Start time.Time `json:"start,omitempty"`
	End   time.Time `json:"end,omitempty"`
}

// QueryFilters narrow retrieval. All set fields must match.
type QueryFilters struct {
	Modality  Modality   `json:"modality,omitempty"`
	DateRange *DateRange `json:"dateRange,omitempty"`
	Tags      []string   `json:"tags,omitempty"`
	CourseID  string     `json:"courseId,omitempty"`
	UserID    string     `json:"userId,omitempty"`
}

// QueryOptions tune a single query.
type QueryOptions struct {
	MaxResults     int      `json:"maxResults,omitempty"`
	IncludeContext bool     `json:"includeContext,omitempty"`
	Temperature    *float64 `json:"temperature,omitempty"`
	PromptVersion  string   `json:"promptVersion,omitempty"`
}

// QueryRequest is a natural-language question over ingested content.
type QueryRequest struct {
	Question string        `json:"question"`
	JobIDs   []string      `json:"jobIds,omitempty"`
	Filters  *QueryFilters `json:"filters,omitempty"`
	Options  *QueryOptions `json:"options,omitempty"`
}

// Validate checks the question and result limits. A zero MaxResults means
// the server default.
func (r QueryRequest) Validate() error {
	if IsBlank(r.Question) {
		return errors.New("question is required")
	}
	if n := utf8.RuneCountInString(r.Question); n > MaxQuestionLength {
		return fmt.Errorf("question must be at most %d characters, got %d", MaxQuestionLength, n)
	}
	if r.Options != nil && (r.Options.MaxResults < 0 || r.Options.MaxResults > MaxQueryResults) {
		return fmt.Errorf("maxResults must be between 1 and %d", MaxQueryResults)
	}
	return nil
}

// QueryResult is the answer to a QueryRequest.
type QueryResult struct {
	Answer         string           `json:"answer"`
	Sources        []RetrievedChunk `json:"sources"`
	Confidence     float64          `json:"confidence"`
	ProcessingTime int64            `json:"processingTime"` // milliseconds
	Context        string           `json:"context,omitempty"`
}

// StreamEventType tags events emitted by a streaming query.
type StreamEventType string

const (
	EventStatus  StreamEventType = "status"
	EventSources StreamEventType = "sources"
	EventAnswer  StreamEventType = "answer"
	EventDone    StreamEventType = "done"
	EventError   StreamEventType = "error"
)

// StreamEvent is one ordered event of a streaming query.
type StreamEvent struct {
	Type    StreamEventType `json:"type"`
	Content string          `json:"content"`
}
