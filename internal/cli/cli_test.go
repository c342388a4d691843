package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/raphaelgruber/mmrag/internal/api"
	"github.com/raphaelgruber/mmrag/internal/client"
	"github.com/raphaelgruber/mmrag/internal/models"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

// run executes the CLI against srv and returns combined output.
func run(t *testing.T, srv *httptest.Server, stdin string, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(append([]string{"--server", srv.URL}, args...))
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type fakeServer struct {
	*httptest.Server
	uploads []models.JobMetadata
	urls    []string
	deleted []string
	queries []models.QueryRequest
	regen   *models.SummaryOptions
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	fs := &fakeServer{}
	started := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	completed := started.Add(95 * time.Second)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /ingest", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			writeJSON(w, http.StatusBadRequest, api.ErrorBody{Error: "bad form", Code: api.CodeInvalidRequest})
			return
		}
		var meta models.JobMetadata
		_ = json.Unmarshal([]byte(r.FormValue("metadata")), &meta)
		fs.uploads = append(fs.uploads, meta)
		writeJSON(w, http.StatusAccepted, api.IngestAccepted{
			Success: true, JobID: fmt.Sprintf("up-%d", len(fs.uploads)), Status: models.StatusQueued, EstimatedTime: "1 minute",
		})
	})
	mux.HandleFunc("POST /ingest/url", func(w http.ResponseWriter, r *http.Request) {
		var req api.URLRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		fs.urls = append(fs.urls, req.URL)
		writeJSON(w, http.StatusAccepted, api.IngestAccepted{Success: true, JobID: "url-1", Status: models.StatusQueued})
	})
	mux.HandleFunc("GET /status/{jobId}", func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("jobId")
		if id == "missing" {
			writeJSON(w, http.StatusNotFound, api.ErrorBody{Error: "Job not found", Code: api.CodeJobNotFound})
			return
		}
		writeJSON(w, http.StatusOK, api.StatusResponse{
			JobStatus: &models.JobStatus{
				JobID: id, Status: models.StatusCompleted, Progress: 100, CurrentStep: "completed",
				Steps: []string{"transcribing", "embedding"}, StartedAt: started, CompletedAt: &completed,
			},
			SummaryURL: "/summary/" + id,
		})
	})
	mux.HandleFunc("GET /status/{jobId}/logs", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, api.LogsResponse{
			JobID: r.PathValue("jobId"),
			Logs: []models.JobLog{
				{Timestamp: started, Level: models.LogInfo, Message: "Job queued", Step: "queued"},
				{Timestamp: started, Level: models.LogWarn, Message: "No speech detected", Step: "transcribing"},
			},
			Total: 5, Limit: 2, Offset: 0,
		})
	})
	mux.HandleFunc("GET /status/{jobId}/watch", func(w http.ResponseWriter, r *http.Request) {
		up := websocket.Upgrader{}
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, st := range []struct {
			status models.Status
			pct    int
			step   string
		}{
			{models.StatusProcessing, 10, "parsing"},
			{models.StatusProcessing, 10, "parsing"},
			{models.StatusProcessing, 60, "embedding"},
			{models.StatusCompleted, 100, "completed"},
		} {
			_ = conn.WriteJSON(api.StatusResponse{JobStatus: &models.JobStatus{
				JobID: r.PathValue("jobId"), Status: st.status, Progress: st.pct, CurrentStep: st.step,
			}})
		}
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"), time.Now().Add(time.Second))
	})
	mux.HandleFunc("GET /jobs", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"jobs": []api.StatusResponse{
			{JobStatus: &models.JobStatus{JobID: "job-a", Status: models.StatusProcessing, Progress: 40, CurrentStep: "ocr", StartedAt: started}},
			{JobStatus: &models.JobStatus{JobID: "job-b", Status: models.StatusFailed, StartedAt: started}},
		}})
	})
	mux.HandleFunc("DELETE /jobs/{jobId}", func(w http.ResponseWriter, r *http.Request) {
		fs.deleted = append(fs.deleted, r.PathValue("jobId"))
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	})
	mux.HandleFunc("GET /summary/{jobId}", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("format") == "executive" {
			writeJSON(w, http.StatusOK, api.ExecutiveSummary{
				JobID: "j1", Title: "Lecture 3", ExecutiveSummary: "Short version.", KeyPoints: []string{"point one"},
			})
			return
		}
		writeJSON(w, http.StatusOK, models.Summary{
			JobID: "j1", Title: "Lecture 3", ExecutiveSummary: "Short version.", DetailedSummary: "Long version.",
			KeyPoints: []string{"point one"}, Topics: []string{"recursion", "stacks"},
			Timeline: []models.TimelineEntry{{Timestamp: "02:10", Title: "Base case"}},
		})
	})
	mux.HandleFunc("POST /summary/{jobId}/regenerate", func(w http.ResponseWriter, r *http.Request) {
		var opts models.SummaryOptions
		if err := json.NewDecoder(r.Body).Decode(&opts); err == nil {
			fs.regen = &opts
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"success": true, "regenerationJobId": "regen-1"})
	})
	sources := []models.RetrievedChunk{
		{CanonicalChunk: models.CanonicalChunk{ChunkID: "v-1", Text: "x", Modality: models.ModalityVideo,
			Source: models.ChunkSource{FileID: "vid", Timestamp: "01:05"}}, Score: 0.91},
		{CanonicalChunk: models.CanonicalChunk{ChunkID: "d-1", Text: "y", Modality: models.ModalityDocument,
			Source: models.ChunkSource{FileID: "doc", Page: 4}}, Score: 0.72},
	}
	mux.HandleFunc("POST /query", func(w http.ResponseWriter, r *http.Request) {
		var req models.QueryRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		fs.queries = append(fs.queries, req)
		writeJSON(w, http.StatusOK, models.QueryResult{Answer: "Recursion needs a base case.", Sources: sources, Confidence: 0.8})
	})
	mux.HandleFunc("POST /query/stream", func(w http.ResponseWriter, r *http.Request) {
		var req models.QueryRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		fs.queries = append(fs.queries, req)
		src, _ := json.Marshal([]string{"v-1", "d-1"})
		w.Header().Set("Content-Type", "text/event-stream")
		for _, ev := range []models.StreamEvent{
			{Type: models.EventStatus, Content: "Searching knowledge base..."},
			{Type: models.EventSources, Content: string(src)},
			{Type: models.EventAnswer, Content: "Recursion "},
			{Type: models.EventAnswer, Content: "needs a base case."},
			{Type: models.EventDone},
		} {
			data, _ := json.Marshal(ev)
			fmt.Fprintf(w, "data: %s\n\n", data)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	})
	mux.HandleFunc("GET /query/suggestions", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"questions": []string{"What is a base case?"}})
	})
	mux.HandleFunc("GET /types", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"types":      []models.Modality{models.ModalityVideo, models.ModalityImage},
			"extensions": map[models.Modality][]string{models.ModalityVideo: {"mp4", "mov"}},
		})
	})
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "version": "9.9.9"})
	})
	mux.HandleFunc("GET /metrics", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"uptimeSeconds": 3661,
			"jobs":          map[string]any{"video": map[string]any{"completed": 2, "failed": 1, "chunks": 40}},
			"operations":    map[string]any{"query": map[string]any{"count": 3, "avgTimeMs": 120.5, "maxTimeMs": 300}},
		})
	})

	fs.Server = httptest.NewServer(mux)
	t.Cleanup(fs.Close)
	return fs
}

func TestIngestCommand(t *testing.T) {
	srv := newFakeServer(t)
	dir := t.TempDir()
	pdf := filepath.Join(dir, "slides.pdf")
	require.NoError(t, os.WriteFile(pdf, []byte("%PDF"), 0o644))

	out, err := run(t, srv.Server, "", "ingest", pdf, "https://example.com/talk.mp3",
		"--title", "Week 3", "--course", "cs101", "--tags", "exam,week3")
	require.NoError(t, err)
	assert.Contains(t, out, "Queued "+pdf+" as job up-1 (estimated 1 minute)")
	assert.Contains(t, out, "as job url-1")

	require.Len(t, srv.uploads, 1)
	assert.Equal(t, "slides.pdf", srv.uploads[0].FileName)
	assert.Equal(t, "Week 3", srv.uploads[0].Title)
	assert.Equal(t, "cs101", srv.uploads[0].CourseID)
	assert.Equal(t, []string{"exam", "week3"}, srv.uploads[0].Tags)
	assert.Equal(t, []string{"https://example.com/talk.mp3"}, srv.urls)
}

func TestIngestCommandRejectsLocally(t *testing.T) {
	srv := newFakeServer(t)
	dir := t.TempDir()
	exe := filepath.Join(dir, "tool.exe")
	require.NoError(t, os.WriteFile(exe, []byte("MZ"), 0o644))

	out, err := run(t, srv.Server, "", "ingest", exe, dir, filepath.Join(dir, "missing.mp4"))
	require.EqualError(t, err, "3 of 3 items could not be queued")
	assert.Contains(t, out, `unsupported file type ".exe"`)
	assert.Contains(t, out, "is a directory")
	assert.Empty(t, srv.uploads)
}

func TestJobsCommand(t *testing.T) {
	srv := newFakeServer(t)

	out, err := run(t, srv.Server, "", "jobs")
	require.NoError(t, err)
	assert.Contains(t, out, "job-a")
	assert.Contains(t, out, "40%")
	assert.Contains(t, out, "failed")

	out, err = run(t, srv.Server, "", "jobs", "j1")
	require.NoError(t, err)
	assert.Contains(t, out, "Job: j1")
	assert.Contains(t, out, "Steps: transcribing → embedding")
	assert.Contains(t, out, "Duration: 1m35s")
	assert.Contains(t, out, "Summary: mmrag summary j1")

	_, err = run(t, srv.Server, "", "jobs", "missing")
	require.Error(t, err)
	assert.True(t, client.IsNotFound(err))
}

func TestLogsCommand(t *testing.T) {
	srv := newFakeServer(t)

	out, err := run(t, srv.Server, "", "logs", "j1", "--limit", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "INFO  [queued] Job queued")
	assert.Contains(t, out, "WARN  [transcribing] No speech detected")
	assert.Contains(t, out, "3 more entries (use --offset 2)")
}

func TestDeleteCommand(t *testing.T) {
	srv := newFakeServer(t)

	out, err := run(t, srv.Server, "n\n", "delete", "j1")
	require.NoError(t, err)
	assert.Contains(t, out, "Cancelled")
	assert.Empty(t, srv.deleted)

	out, err = run(t, srv.Server, "yes\n", "delete", "j1")
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted job j1")

	_, err = run(t, srv.Server, "", "delete", "j2", "--force")
	require.NoError(t, err)
	assert.Equal(t, []string{"j1", "j2"}, srv.deleted)
}

func TestSummaryCommand(t *testing.T) {
	srv := newFakeServer(t)

	out, err := run(t, srv.Server, "", "summary", "j1")
	require.NoError(t, err)
	assert.Contains(t, out, "# Lecture 3")
	assert.Contains(t, out, "Long version.")
	assert.Contains(t, out, "Topics: recursion, stacks")
	assert.Contains(t, out, "02:10  Base case")

	out, err = run(t, srv.Server, "", "summary", "j1", "--executive")
	require.NoError(t, err)
	assert.Contains(t, out, "Short version.")
	assert.NotContains(t, out, "Long version.")

	out, err = run(t, srv.Server, "", "summary", "j1", "--regenerate")
	require.NoError(t, err)
	assert.Contains(t, out, "job regen-1")
	assert.Nil(t, srv.regen)

	_, err = run(t, srv.Server, "", "summary", "j1", "--regenerate", "--style", "concise", "--focus", "exams")
	require.NoError(t, err)
	require.NotNil(t, srv.regen)
	assert.Equal(t, models.StyleConcise, srv.regen.Style)
	assert.Equal(t, []string{"exams"}, srv.regen.FocusAreas)

	_, err = run(t, srv.Server, "", "summary", "j1", "--regenerate", "--style", "poetic")
	require.EqualError(t, err, `unknown style "poetic"`)
}

func TestAskCommand(t *testing.T) {
	srv := newFakeServer(t)

	out, err := run(t, srv.Server, "", "ask", "What is recursion?", "--modality", "video", "--job", "vid")
	require.NoError(t, err)
	assert.Contains(t, out, "Recursion needs a base case.\n")
	assert.Contains(t, out, "Sources: v-1, d-1")
	require.Len(t, srv.queries, 1)
	assert.Equal(t, []string{"vid"}, srv.queries[0].JobIDs)
	require.NotNil(t, srv.queries[0].Filters)
	assert.Equal(t, models.ModalityVideo, srv.queries[0].Filters.Modality)

	out, err = run(t, srv.Server, "", "ask", "What is recursion?", "--stream=false", "--limit", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "Recursion needs a base case.")
	assert.Contains(t, out, "[1] vid (video at 01:05, score 0.91)")
	assert.Contains(t, out, "[2] doc (document page 4, score 0.72)")
	require.Len(t, srv.queries, 2)
	assert.Nil(t, srv.queries[1].Filters)
	require.NotNil(t, srv.queries[1].Options)
	assert.Equal(t, 3, srv.queries[1].Options.MaxResults)

	file := filepath.Join(t.TempDir(), "answer.md")
	out, err = run(t, srv.Server, "", "ask", "What is recursion?", "-o", file)
	require.NoError(t, err)
	assert.Contains(t, out, "Answer written to")
	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Sources:")
}

func TestAskCommandValidation(t *testing.T) {
	srv := newFakeServer(t)

	_, err := run(t, srv.Server, "", "ask", "   ")
	require.EqualError(t, err, "question must not be empty")

	_, err = run(t, srv.Server, "", "ask", "q", "--modality", "hologram")
	require.EqualError(t, err, `unknown modality "hologram"`)
}

func TestSuggestTypesUsage(t *testing.T) {
	srv := newFakeServer(t)

	out, err := run(t, srv.Server, "", "suggest")
	require.NoError(t, err)
	assert.Contains(t, out, "• What is a base case?")

	out, err = run(t, srv.Server, "", "types")
	require.NoError(t, err)
	assert.Contains(t, out, "video     mp4, mov")
	assert.Contains(t, out, "image     "+strings.Join(models.SupportedExtensions[models.ModalityImage], ", "))

	out, err = run(t, srv.Server, "", "usage", "--detailed")
	require.NoError(t, err)
	assert.Contains(t, out, "version 9.9.9")
	assert.Contains(t, out, "up 1h1m1s")
	assert.Contains(t, out, "video               2          1         40")
	assert.Contains(t, out, "query")
	assert.Contains(t, out, "121ms")
}

func TestWatchPlain(t *testing.T) {
	srv := newFakeServer(t)
	var out bytes.Buffer

	err := watchPlain(context.Background(), &out, client.New(srv.URL), "j1")
	require.NoError(t, err)
	assert.Equal(t,
		"[processing]  10% parsing\n"+
			"[processing]  60% embedding\n"+
			"[completed] 100% completed\n"+
			"Summary: mmrag summary j1\n",
		out.String())
}

func TestProgressModel(t *testing.T) {
	m := newProgressModel("j1", nil, nil)
	assert.Contains(t, m.renderContent(), "Waiting for job status")

	next, _ := m.Update(statusMsg{job: &api.StatusResponse{JobStatus: &models.JobStatus{
		JobID: "j1", Status: models.StatusProcessing, Progress: 30, CurrentStep: "ocr",
	}}})
	pm := next.(progressModel)
	assert.False(t, pm.done)
	assert.Contains(t, pm.renderContent(), "ocr")

	next, _ = pm.Update(statusMsg{job: &api.StatusResponse{JobStatus: &models.JobStatus{
		JobID: "j1", Status: models.StatusFailed, Error: "ffmpeg exploded",
	}}})
	pm = next.(progressModel)
	assert.True(t, pm.done)
	require.EqualError(t, pm.err, "ffmpeg exploded")
	assert.Contains(t, pm.renderContent(), "ffmpeg exploded")

	next, _ = m.Update(watchEndedMsg{})
	pm = next.(progressModel)
	require.EqualError(t, pm.err, "watch ended before the job finished")
}
