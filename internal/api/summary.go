package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/raphaelgruber/mmrag/internal/models"
)

// ExecutiveSummary is the short summary format.
type ExecutiveSummary struct {
	JobID            string   `json:"jobId"`
	Title            string   `json:"title"`
	ExecutiveSummary string   `json:"executiveSummary"`
	KeyPoints        []string `json:"keyPoints"`
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format != "" && format != "full" && format != "executive" {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "format must be full or executive")
		return
	}

	sum, err := s.svc.GetSummary(r.Context(), r.PathValue("jobId"))
	if err != nil {
		s.fail(w, r, err, CodeSummaryNotFound)
		return
	}
	if format == "executive" {
		writeJSON(w, http.StatusOK, ExecutiveSummary{
			JobID:            sum.JobID,
			Title:            sum.Title,
			ExecutiveSummary: sum.ExecutiveSummary,
			KeyPoints:        sum.KeyPoints,
		})
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleRegenerate(w http.ResponseWriter, r *http.Request) {
	var opts *models.SummaryOptions
	var body models.SummaryOptions
	switch err := decodeBody(r, &body); {
	case err == nil:
		opts = &body
	case errors.Is(err, io.EOF):
	default:
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "Invalid JSON body")
		return
	}

	jobID := r.PathValue("jobId")
	newID, err := s.svc.RegenerateSummary(r.Context(), jobID, opts)
	if err != nil {
		s.fail(w, r, err, CodeJobNotFound)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"success":           true,
		"regenerationJobId": newID,
		"originalJobId":     jobID,
		"statusUrl":         "/status/" + newID,
	})
}
