package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/raphaelgruber/mmrag/internal/api"
	"github.com/raphaelgruber/mmrag/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(srv.URL)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestNewEndpoint(t *testing.T) {
	t.Setenv("MMRAG_SERVER_URL", "")
	assert.Equal(t, DefaultEndpoint, New("").Endpoint())

	t.Setenv("MMRAG_SERVER_URL", "http://rag.internal:9000/")
	assert.Equal(t, "http://rag.internal:9000", New("").Endpoint())

	assert.Equal(t, "http://explicit", New("http://explicit").Endpoint())
}

func TestNewTimeout(t *testing.T) {
	t.Setenv("MMRAG_CLIENT_TIMEOUT", "42s")
	assert.Equal(t, 42*time.Second, New("http://x").httpClient.Timeout)

	t.Setenv("MMRAG_CLIENT_TIMEOUT", "nonsense")
	assert.Equal(t, 5*time.Minute, New("http://x").httpClient.Timeout)
}

func TestIngest(t *testing.T) {
	var gotName, gotBody, gotPriority string
	var gotMeta models.JobMetadata
	mux := http.NewServeMux()
	mux.HandleFunc("POST /ingest", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		data, _ := io.ReadAll(f)
		gotName = hdr.Filename
		gotBody = string(data)
		gotPriority = r.FormValue("priority")
		require.NoError(t, json.Unmarshal([]byte(r.FormValue("metadata")), &gotMeta))
		assert.NotEmpty(t, r.Header.Get("X-Request-ID"))
		writeJSON(w, http.StatusAccepted, api.IngestAccepted{
			Success: true, JobID: "job-1", Status: models.StatusQueued, StatusURL: "/status/job-1",
		})
	})
	c := newTestClient(t, mux)

	path := filepath.Join(t.TempDir(), "notes.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4 body"), 0o644))

	resp, err := c.Ingest(context.Background(), path, IngestOptions{
		Metadata: models.JobMetadata{Title: "Notes", Tags: []string{"a"}},
		Priority: 3,
	})
	require.NoError(t, err)
	assert.Equal(t, "job-1", resp.JobID)
	assert.Equal(t, "notes.pdf", gotName)
	assert.Equal(t, "%PDF-1.4 body", gotBody)
	assert.Equal(t, "3", gotPriority)
	assert.Equal(t, "notes.pdf", gotMeta.FileName)
	assert.Equal(t, "Notes", gotMeta.Title)
}

func TestIngestMissingFile(t *testing.T) {
	c := New("http://127.0.0.1:1")
	_, err := c.Ingest(context.Background(), filepath.Join(t.TempDir(), "nope.mp4"), IngestOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open file")
}

func TestAPIError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /status/{jobId}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, api.ErrorBody{Error: "Job not found", Code: api.CodeJobNotFound})
	})
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	})
	c := newTestClient(t, mux)

	_, err := c.Status(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, api.CodeJobNotFound, apiErr.Code)
	assert.Equal(t, "Job not found (JOB_NOT_FOUND)", err.Error())

	_, err = c.Health(context.Background())
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Contains(t, apiErr.Message, "upstream down")
	assert.False(t, IsNotFound(err))
}

func TestJobEndpoints(t *testing.T) {
	var deleted string
	var logsQuery string
	mux := http.NewServeMux()
	mux.HandleFunc("GET /status/{jobId}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, api.StatusResponse{
			JobStatus:  &models.JobStatus{JobID: r.PathValue("jobId"), Status: models.StatusCompleted, Progress: 100},
			SummaryURL: "/summary/" + r.PathValue("jobId"),
		})
	})
	mux.HandleFunc("GET /status/{jobId}/logs", func(w http.ResponseWriter, r *http.Request) {
		logsQuery = r.URL.RawQuery
		writeJSON(w, http.StatusOK, api.LogsResponse{
			JobID: r.PathValue("jobId"),
			Logs:  []models.JobLog{{Level: models.LogInfo, Message: "started", Step: "queued"}},
			Total: 7, Limit: 1, Offset: 2,
		})
	})
	mux.HandleFunc("GET /jobs", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		writeJSON(w, http.StatusOK, map[string]any{
			"jobs": []api.StatusResponse{
				{JobStatus: &models.JobStatus{JobID: "a", Status: models.StatusQueued}},
				{JobStatus: &models.JobStatus{JobID: "b", Status: models.StatusFailed, Error: "boom"}},
			},
			"total": 2,
		})
	})
	mux.HandleFunc("DELETE /jobs/{jobId}", func(w http.ResponseWriter, r *http.Request) {
		deleted = r.PathValue("jobId")
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	})
	c := newTestClient(t, mux)
	ctx := context.Background()

	st, err := c.Status(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, st.Status)
	assert.Equal(t, "/summary/j1", st.SummaryURL)

	logs, err := c.Logs(ctx, "j1", 1, 2)
	require.NoError(t, err)
	assert.Equal(t, "limit=1&offset=2", logsQuery)
	assert.Equal(t, 7, logs.Total)
	require.Len(t, logs.Logs, 1)
	assert.Equal(t, "started", logs.Logs[0].Message)

	_, err = c.Logs(ctx, "j1", 0, 0)
	require.NoError(t, err)
	assert.Empty(t, logsQuery)

	jobs, err := c.Jobs(ctx, 5)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "boom", jobs[1].Error)

	require.NoError(t, c.DeleteJob(ctx, "j9"))
	assert.Equal(t, "j9", deleted)
}

func TestSummaryEndpoints(t *testing.T) {
	var regenBody []byte
	mux := http.NewServeMux()
	mux.HandleFunc("GET /summary/{jobId}", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("format") == "executive" {
			writeJSON(w, http.StatusOK, api.ExecutiveSummary{JobID: "j1", Title: "T", ExecutiveSummary: "short"})
			return
		}
		writeJSON(w, http.StatusOK, models.Summary{JobID: "j1", Title: "T", DetailedSummary: "long", Topics: []string{"go"}})
	})
	mux.HandleFunc("POST /summary/{jobId}/regenerate", func(w http.ResponseWriter, r *http.Request) {
		regenBody, _ = io.ReadAll(r.Body)
		writeJSON(w, http.StatusAccepted, map[string]any{"success": true, "regenerationJobId": "r1", "originalJobId": "j1"})
	})
	c := newTestClient(t, mux)
	ctx := context.Background()

	sum, err := c.Summary(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, "long", sum.DetailedSummary)

	exec, err := c.ExecutiveSummary(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, "short", exec.ExecutiveSummary)

	id, err := c.Regenerate(ctx, "j1", nil)
	require.NoError(t, err)
	assert.Equal(t, "r1", id)
	assert.Empty(t, regenBody)

	_, err = c.Regenerate(ctx, "j1", &models.SummaryOptions{Style: models.StyleConcise})
	require.NoError(t, err)
	assert.JSONEq(t, `{"style":"concise"}`, string(regenBody))
}

func TestQuery(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /query", func(w http.ResponseWriter, r *http.Request) {
		var req models.QueryRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		writeJSON(w, http.StatusOK, models.QueryResult{Answer: "echo: " + req.Question, Confidence: 0.8})
	})
	mux.HandleFunc("GET /query/suggestions", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"questions": []string{"q for " + r.URL.Query().Get("jobId")}})
	})
	c := newTestClient(t, mux)

	res, err := c.Query(context.Background(), models.QueryRequest{Question: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "echo: hi", res.Answer)

	qs, err := c.Suggestions(context.Background(), "j1")
	require.NoError(t, err)
	assert.Equal(t, []string{"q for j1"}, qs)
}

func sseHandler(events ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, ev := range events {
			fmt.Fprintf(w, "data: %s\n\n", ev)
		}
	}
}

func TestQueryStream(t *testing.T) {
	tests := []struct {
		name    string
		events  []string
		want    []models.StreamEventType
		wantErr string
	}{
		{
			name: "complete",
			events: []string{
				`{"type":"status","content":"Searching"}`,
				`{"type":"sources","content":"[]"}`,
				`{"type":"answer","content":"Hel"}`,
				`{"type":"answer","content":"lo"}`,
				`{"type":"done","content":""}`,
				`[DONE]`,
			},
			want: []models.StreamEventType{models.EventStatus, models.EventSources, models.EventAnswer, models.EventAnswer, models.EventDone},
		},
		{
			name:    "error event",
			events:  []string{`{"type":"error","content":"Query failed"}`, `[DONE]`},
			want:    []models.StreamEventType{models.EventError},
			wantErr: "stream error: Query failed",
		},
		{
			name:    "truncated",
			events:  []string{`{"type":"status","content":"Searching"}`},
			want:    []models.StreamEventType{models.EventStatus},
			wantErr: "stream ended without completion",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := http.NewServeMux()
			mux.HandleFunc("POST /query/stream", sseHandler(tt.events...))
			c := newTestClient(t, mux)

			var got []models.StreamEventType
			err := c.QueryStream(context.Background(), models.QueryRequest{Question: "q"}, func(ev models.StreamEvent) error {
				got = append(got, ev.Type)
				return nil
			})
			if tt.wantErr != "" {
				require.EqualError(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestQueryStreamRejected(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /query/stream", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, api.ErrorBody{Error: "question is required", Code: api.CodeInvalidRequest})
	})
	c := newTestClient(t, mux)

	err := c.QueryStream(context.Background(), models.QueryRequest{}, func(models.StreamEvent) error { return nil })
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
}

func TestTypesHealthMetrics(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /types", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"types":      []models.Modality{models.ModalityAudio},
			"extensions": map[string][]string{"audio": {"mp3"}},
		})
	})
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "version": "1.2.3"})
	})
	mux.HandleFunc("GET /metrics", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"uptimeSeconds": 12.5})
	})
	c := newTestClient(t, mux)
	ctx := context.Background()

	types, err := c.Types(ctx)
	require.NoError(t, err)
	assert.Equal(t, []models.Modality{models.ModalityAudio}, types.Types)
	assert.Equal(t, []string{"mp3"}, types.Extensions[models.ModalityAudio])

	v, err := c.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1.2.3", v)

	snap, err := c.Metrics(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 12.5, snap.UptimeSeconds, 0.001)
}

func watchHandler(t *testing.T, updates []models.Status) http.HandlerFunc {
	upgrader := websocket.Upgrader{}
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for i, s := range updates {
			st := api.StatusResponse{JobStatus: &models.JobStatus{JobID: r.PathValue("jobId"), Status: s, Progress: i * 50}}
			if err := conn.WriteJSON(st); err != nil {
				return
			}
		}
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"),
			time.Now().Add(time.Second))
	}
}

func TestWatch(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /status/{jobId}/watch", watchHandler(t,
		[]models.Status{models.StatusQueued, models.StatusProcessing, models.StatusCompleted}))
	c := newTestClient(t, mux)

	var seen []models.Status
	err := c.Watch(context.Background(), "j1", func(st *api.StatusResponse) error {
		assert.Equal(t, "j1", st.JobID)
		seen = append(seen, st.Status)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []models.Status{models.StatusQueued, models.StatusProcessing, models.StatusCompleted}, seen)
}

func TestWatchClosedEarly(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /status/{jobId}/watch", watchHandler(t, []models.Status{models.StatusProcessing}))
	c := newTestClient(t, mux)

	err := c.Watch(context.Background(), "j1", func(*api.StatusResponse) error { return nil })
	require.EqualError(t, err, "watch closed before the job finished")
}

func TestWatchNotFound(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /status/{jobId}/watch", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, api.ErrorBody{Error: "Job not found", Code: api.CodeJobNotFound})
	})
	c := newTestClient(t, mux)

	err := c.Watch(context.Background(), "missing", func(*api.StatusResponse) error { return nil })
	assert.True(t, IsNotFound(err))
}
