package models

import "time"

// SummaryStyle controls the tone of a generated summary.
type SummaryStyle string

const (
	StyleConcise  SummaryStyle = "concise"
	StyleDetailed SummaryStyle = "detailed"
	StyleAcademic SummaryStyle = "academic"
	StyleCasual   SummaryStyle = "casual"
)

// Valid reports whether s is a known style. The empty style is valid and
// means "detailed".
func (s SummaryStyle) Valid() bool {
	switch s {
	case "", StyleConcise, StyleDetailed, StyleAcademic, StyleCasual:
		return true
	}
	return false
}

// SummaryOptions parameterize summary generation.
type SummaryOptions struct {
	Style           SummaryStyle `json:"style,omitempty"`
	MaxLength       int          `json:"maxLength,omitempty"`
	FocusAreas      []string     `json:"focusAreas,omitempty"`
	Language        string       `json:"language,omitempty"`
	IncludeTimeline bool         `json:"includeTimeline,omitempty"`
}

// TimelineEntry marks a notable point in time-based content.
type TimelineEntry struct {
	Timestamp   string `json:"timestamp"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Summary is the generated overview of one ingested item.
type Summary struct {
	JobID            string          `json:"jobId"`
	Status           Status          `json:"status"`
	Title            string          `json:"title"`
	ExecutiveSummary string          `json:"executiveSummary"`
	DetailedSummary  string          `json:"detailedSummary"`
	KeyPoints        []string        `json:"keyPoints"`
	Topics           []string        `json:"topics"`
	Timeline         []TimelineEntry `json:"timeline,omitempty"`
	Metadata         map[string]any  `json:"metadata,omitempty"`
	GeneratedAt      time.Time       `json:"generatedAt"`
	Error            string          `json:"error,omitempty"`
}
