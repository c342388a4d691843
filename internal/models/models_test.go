package models

import (
	"strings"
	"testing"
	"time"
)

func TestDetectFileType(t *testing.T) {
	tests := []struct {
		name     string
		mime     string
		fileName string
		want     FileType
	}{
		{"video mime", "video/mp4", "clip.bin", FileTypeVideo},
		{"audio mime", "audio/mpeg", "", FileTypeAudio},
		{"image mime", "image/png", "x", FileTypeImage},
		{"pdf mime", "application/pdf", "", FileTypeDocument},
		{"word mime", "application/vnd.openxmlformats-officedocument.wordprocessingml.document", "", FileTypeDocument},
		{"mime wins over extension", "audio/wav", "lecture.mp4", FileTypeAudio},
		{"extension fallback", "application/octet-stream", "Lecture.MKV", FileTypeVideo},
		{"markdown extension", "", "notes.md", FileTypeDocument},
		{"tiff extension", "", "scan.tiff", FileTypeImage},
		{"unknown extension", "", "archive.zip", FileTypeUnknown},
		{"no extension", "", "README", FileTypeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DetectFileType(tt.mime, tt.fileName)
			if got != tt.want {
				t.Errorf("DetectFileType(%q, %q) = %q, want %q", tt.mime, tt.fileName, got, tt.want)
			}
		})
	}
}

func TestFormatTimestamp(t *testing.T) {
	tests := []struct {
		seconds float64
		want    string
	}{
		{0, "00:00"},
		{9.9, "00:09"},
		{10, "00:10"},
		{61, "01:01"},
		{3599, "59:59"},
		{4500, "75:00"},
		{-3, "00:00"},
	}

	for _, tt := range tests {
		if got := FormatTimestamp(tt.seconds); got != tt.want {
			t.Errorf("FormatTimestamp(%v) = %q, want %q", tt.seconds, got, tt.want)
		}
	}
}

func TestChunkID(t *testing.T) {
	if got := ChunkID("job1", "transcript", 2); got != "job1-transcript-2" {
		t.Errorf("ChunkID = %q", got)
	}
	if got := NamedChunkID("job1", "vision", "main"); got != "job1-vision-main" {
		t.Errorf("NamedChunkID = %q", got)
	}
}

func TestJobStatusClone(t *testing.T) {
	done := time.Now()
	orig := &JobStatus{
		JobID:       "j",
		Status:      StatusCompleted,
		Steps:       []string{"a", "b"},
		CompletedAt: &done,
		Metadata:    map[string]any{"k": "v"},
	}

	c := orig.Clone()
	c.Steps[0] = "changed"
	c.Metadata["k"] = "changed"
	*c.CompletedAt = done.Add(time.Hour)

	if orig.Steps[0] != "a" {
		t.Errorf("Expected steps to be copied, original mutated to %q", orig.Steps[0])
	}
	if orig.Metadata["k"] != "v" {
		t.Errorf("Expected metadata to be copied")
	}
	if !orig.CompletedAt.Equal(done) {
		t.Errorf("Expected completedAt to be copied")
	}
	if !c.IsDone() {
		t.Errorf("Expected completed status to be done")
	}
}

func TestFileTypeModality(t *testing.T) {
	if m, ok := FileTypeImage.Modality(); !ok || m != ModalityImage {
		t.Errorf("Expected image modality, got %q %v", m, ok)
	}
	if _, ok := FileTypeUnknown.Modality(); ok {
		t.Errorf("Expected unknown to have no modality")
	}
}

func TestQueryRequestValidate(t *testing.T) {
	opts := func(n int) *QueryOptions { return &QueryOptions{MaxResults: n} }
	tests := []struct {
		name    string
		req     QueryRequest
		wantErr bool
	}{
		{"blank question", QueryRequest{Question: " \n"}, true},
		{"max length", QueryRequest{Question: strings.Repeat("a", MaxQuestionLength)}, false},
		{"too long", QueryRequest{Question: strings.Repeat("a", MaxQuestionLength+1)}, true},
		{"length counts characters", QueryRequest{Question: strings.Repeat("é", MaxQuestionLength)}, false},
		{"default results", QueryRequest{Question: "q", Options: opts(0)}, false},
		{"max results", QueryRequest{Question: "q", Options: opts(MaxQueryResults)}, false},
		{"too many results", QueryRequest{Question: "q", Options: opts(MaxQueryResults + 1)}, true},
		{"negative results", QueryRequest{Question: "q", Options: opts(-1)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
