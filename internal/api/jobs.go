package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/raphaelgruber/mmrag/internal/models"
	"github.com/raphaelgruber/mmrag/internal/service"
)

const (
	defaultJobsLimit = 50
	watchWriteWait   = 10 * time.Second
	watchPingPeriod  = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// StatusResponse is a job status plus links for finished jobs.
type StatusResponse struct {
	*models.JobStatus
	SummaryURL string `json:"summaryUrl,omitempty"`
}

// LogsResponse is one page of a job's log.
type LogsResponse struct {
	JobID  string          `json:"jobId"`
	Logs   []models.JobLog `json:"logs"`
	Total  int             `json:"total"`
	Limit  int             `json:"limit"`
	Offset int             `json:"offset"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.svc.GetJobStatus(r.Context(), r.PathValue("jobId"))
	if err != nil {
		s.fail(w, r, err, CodeJobNotFound)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse(st))
}

func statusResponse(st *models.JobStatus) StatusResponse {
	resp := StatusResponse{JobStatus: st}
	if st.Status == models.StatusCompleted {
		resp.SummaryURL = "/summary/" + st.JobID
	}
	return resp
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	limit, ok := intParam(r, "limit", service.DefaultLogLimit)
	if !ok {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "limit must be a non-negative integer")
		return
	}
	offset, ok := intParam(r, "offset", 0)
	if !ok {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "offset must be a non-negative integer")
		return
	}
	limit = min(limit, service.MaxLogLimit)

	jobID := r.PathValue("jobId")
	logs, total, err := s.svc.GetJobLogs(r.Context(), jobID, limit, offset)
	if err != nil {
		s.fail(w, r, err, CodeJobNotFound)
		return
	}
	if logs == nil {
		logs = []models.JobLog{}
	}
	writeJSON(w, http.StatusOK, LogsResponse{JobID: jobID, Logs: logs, Total: total, Limit: limit, Offset: offset})
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit, ok := intParam(r, "limit", defaultJobsLimit)
	if !ok {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "limit must be a non-negative integer")
		return
	}
	jobs, err := s.svc.ListJobs(r.Context(), limit)
	if err != nil {
		s.fail(w, r, err, CodeJobNotFound)
		return
	}
	out := make([]StatusResponse, len(jobs))
	for i, st := range jobs {
		out[i] = statusResponse(st)
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": out, "total": len(out)})
}

func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("jobId")
	if err := s.svc.DeleteJob(r.Context(), jobID); err != nil {
		s.fail(w, r, err, CodeJobNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Job " + jobID + " deleted"})
}

// handleWatch streams status updates over a websocket until the job
// finishes or the client goes away.
func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("jobId")
	// Resolve before upgrading so unknown jobs get a plain 404.
	if _, err := s.svc.GetJobStatus(r.Context(), jobID); err != nil {
		s.fail(w, r, err, CodeJobNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "job_id", jobID, "error", err)
		return
	}
	defer conn.Close()

	ctx := r.Context()
	updates, cancel, err := s.svc.WatchJob(ctx, jobID)
	if err != nil {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "watch failed"))
		return
	}
	defer cancel()

	// The reader only notices the client closing.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(watchPingPeriod)
	defer ping.Stop()

	for {
		select {
		case st, ok := <-updates:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"),
					time.Now().Add(watchWriteWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(watchWriteWait))
			if err := conn.WriteJSON(statusResponse(st)); err != nil {
				logWriteErr(s.logger, err)
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(watchWriteWait)); err != nil {
				return
			}
		case <-gone:
			return
		case <-ctx.Done():
			return
		}
	}
}
