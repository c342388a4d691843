package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/raphaelgruber/mmrag/internal/models"
	"github.com/raphaelgruber/mmrag/internal/service"
)

func (s *Server) decodeQuery(w http.ResponseWriter, r *http.Request) (models.QueryRequest, bool) {
	var req models.QueryRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "Invalid JSON body")
		return req, false
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, err.Error())
		return req, false
	}
	return req, true
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeQuery(w, r)
	if !ok {
		return
	}
	res, err := s.svc.Query(r.Context(), req)
	if err != nil {
		s.fail(w, r, err, CodeJobNotFound)
		return
	}
	if res.Sources == nil {
		res.Sources = []models.RetrievedChunk{}
	}
	writeJSON(w, http.StatusOK, res)
}

// handleQueryStream answers as server-sent events, one JSON StreamEvent per
// "data:" line, terminated by "data: [DONE]".
func (s *Server) handleQueryStream(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeQuery(w, r)
	if !ok {
		return
	}

	rc := http.NewResponseController(w)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	sawError := false
	emit := func(ev models.StreamEvent) error {
		if ev.Type == models.EventError {
			sawError = true
		}
		data, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return err
		}
		return rc.Flush()
	}

	if err := s.svc.QueryStream(r.Context(), req, emit); err != nil {
		s.logger.Warn("query stream failed", "error", err)
		if !sawError {
			msg := "Query failed"
			if errors.Is(err, service.ErrInvalidRequest) {
				msg = err.Error()
			}
			logWriteErr(s.logger, emit(models.StreamEvent{Type: models.EventError, Content: msg}))
		}
	}
	_, err := fmt.Fprint(w, "data: [DONE]\n\n")
	logWriteErr(s.logger, err)
	logWriteErr(s.logger, rc.Flush())
}

func (s *Server) handleSuggestions(w http.ResponseWriter, r *http.Request) {
	questions := s.svc.SuggestedQuestions(r.Context(), r.URL.Query().Get("jobId"))
	writeJSON(w, http.StatusOK, map[string]any{"questions": questions})
}
