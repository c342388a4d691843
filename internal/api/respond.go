package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/raphaelgruber/mmrag/internal/models"
	"github.com/raphaelgruber/mmrag/internal/service"
)

// Error codes returned in the "code" field of error bodies.
const (
	CodeJobNotFound     = "JOB_NOT_FOUND"
	CodeSummaryNotFound = "SUMMARY_NOT_FOUND"
	CodeJobNotCompleted = "JOB_NOT_COMPLETED"
	CodeInvalidRequest  = "INVALID_REQUEST"
	CodeFileTooLarge    = "FILE_TOO_LARGE"
	CodeInternal        = "INTERNAL_ERROR"
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, ErrorBody{Error: msg, Code: code})
}

// fail maps a service error onto a response. notFound is the code used for
// models.ErrNotFound on this route. Unclassified errors are logged and
// answered with a generic 500.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error, notFound string) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		msg := "Job not found"
		if notFound == CodeSummaryNotFound {
			msg = "Summary not found"
		}
		writeError(w, http.StatusNotFound, notFound, msg)
	case errors.Is(err, service.ErrJobNotCompleted):
		writeError(w, http.StatusBadRequest, CodeJobNotCompleted, "Job has not completed yet")
	case errors.Is(err, service.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, err.Error())
	default:
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, CodeInternal, "Internal server error")
	}
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		return err
	}
	return nil
}

// intParam reads a non-negative integer query parameter.
func intParam(r *http.Request, name string, def int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func logWriteErr(logger *slog.Logger, err error) {
	if err != nil {
		logger.Debug("write response", "error", err)
	}
}
