// Package client provides an HTTP client for the mmrag server.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/raphaelgruber/mmrag/internal/api"
	"github.com/raphaelgruber/mmrag/internal/metrics"
	"github.com/raphaelgruber/mmrag/internal/models"
)

// DefaultEndpoint is used when neither an endpoint nor MMRAG_SERVER_URL is set.
const DefaultEndpoint = "http://localhost:8484"

// Client talks to the mmrag REST API.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

// New creates a new client.
// If endpoint is empty, uses MMRAG_SERVER_URL env var or defaults to localhost:8484.
// Timeout can be configured via MMRAG_CLIENT_TIMEOUT env var (default 5m; uploads can be large).
func New(endpoint string) *Client {
	if endpoint == "" {
		endpoint = os.Getenv("MMRAG_SERVER_URL")
	}
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}

	timeout := 5 * time.Minute
	if t := os.Getenv("MMRAG_CLIENT_TIMEOUT"); t != "" {
		if d, err := time.ParseDuration(t); err == nil {
			timeout = d
		}
	}

	return &Client{
		endpoint:   strings.TrimRight(endpoint, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Endpoint returns the server base URL.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%s)", e.Message, e.Code)
	}
	return fmt.Sprintf("server error: %d %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("X-Request-ID", uuid.NewString())
	return req, nil
}

// do sends req and decodes a JSON response into result when it is non-nil.
func (c *Client) do(req *http.Request, result any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return readError(resp)
	}
	if result == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

func readError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	apiErr := &APIError{StatusCode: resp.StatusCode}
	var eb api.ErrorBody
	if json.Unmarshal(body, &eb) == nil && eb.Error != "" {
		apiErr.Code = eb.Code
		apiErr.Message = eb.Error
	} else {
		apiErr.Message = strings.TrimSpace(string(body))
	}
	return apiErr
}

func (c *Client) getJSON(ctx context.Context, path string, result any) error {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	return c.do(req, result)
}

func (c *Client) sendJSON(ctx context.Context, method, path string, body, result any) error {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		r = bytes.NewReader(data)
	}
	req, err := c.newRequest(ctx, method, path, r)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, result)
}

// =============================================================================
// Ingestion
// =============================================================================

// IngestOptions are sent alongside an uploaded file.
type IngestOptions struct {
	Metadata models.JobMetadata
	Priority int
}

// Ingest uploads the file at path and queues it for processing.
func (c *Client) Ingest(ctx context.Context, path string, opts IngestOptions) (*api.IngestAccepted, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	meta := opts.Metadata
	if meta.FileName == "" {
		meta.FileName = filepath.Base(path)
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}

	// Stream the file instead of buffering it; uploads can be hundreds of MB.
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		err := writeUpload(mw, f, meta.FileName, metaJSON, opts.Priority)
		if err == nil {
			err = mw.Close()
		}
		_ = pw.CloseWithError(err)
	}()

	req, err := c.newRequest(ctx, http.MethodPost, "/ingest", pr)
	if err != nil {
		_ = pr.Close()
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var out api.IngestAccepted
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func writeUpload(mw *multipart.Writer, r io.Reader, name string, metaJSON []byte, priority int) error {
	if err := mw.WriteField("metadata", string(metaJSON)); err != nil {
		return err
	}
	if priority != 0 {
		if err := mw.WriteField("priority", strconv.Itoa(priority)); err != nil {
			return err
		}
	}
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return err
	}
	_, err = io.Copy(part, r)
	return err
}

// IngestURL queues a remote file for download and processing.
func (c *Client) IngestURL(ctx context.Context, rawURL string, meta models.JobMetadata) (*api.IngestAccepted, error) {
	var out api.IngestAccepted
	body := api.URLRequest{URL: rawURL, Metadata: meta}
	if err := c.sendJSON(ctx, http.MethodPost, "/ingest/url", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// =============================================================================
// Jobs
// =============================================================================

// Status returns the current status of a job.
func (c *Client) Status(ctx context.Context, jobID string) (*api.StatusResponse, error) {
	var out api.StatusResponse
	if err := c.getJSON(ctx, "/status/"+url.PathEscape(jobID), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Logs returns one page of a job's log. A zero limit uses the server default.
func (c *Client) Logs(ctx context.Context, jobID string, limit, offset int) (*api.LogsResponse, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}
	path := "/status/" + url.PathEscape(jobID) + "/logs"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out api.LogsResponse
	if err := c.getJSON(ctx, path, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Jobs lists recent jobs, newest first.
func (c *Client) Jobs(ctx context.Context, limit int) ([]api.StatusResponse, error) {
	path := "/jobs"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out struct {
		Jobs []api.StatusResponse `json:"jobs"`
	}
	if err := c.getJSON(ctx, path, &out); err != nil {
		return nil, err
	}
	return out.Jobs, nil
}

// DeleteJob removes a job and everything derived from it.
func (c *Client) DeleteJob(ctx context.Context, jobID string) error {
	return c.sendJSON(ctx, http.MethodDelete, "/jobs/"+url.PathEscape(jobID), nil, nil)
}

// =============================================================================
// Summaries
// =============================================================================

// Summary returns the full summary of a completed job.
func (c *Client) Summary(ctx context.Context, jobID string) (*models.Summary, error) {
	var out models.Summary
	if err := c.getJSON(ctx, "/summary/"+url.PathEscape(jobID), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ExecutiveSummary returns the short form of a job's summary.
func (c *Client) ExecutiveSummary(ctx context.Context, jobID string) (*api.ExecutiveSummary, error) {
	var out api.ExecutiveSummary
	if err := c.getJSON(ctx, "/summary/"+url.PathEscape(jobID)+"?format=executive", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Regenerate queues a new summary for a completed job and returns the
// regeneration job ID. opts may be nil.
func (c *Client) Regenerate(ctx context.Context, jobID string, opts *models.SummaryOptions) (string, error) {
	var body any
	if opts != nil {
		body = opts
	}
	var out struct {
		RegenerationJobID string `json:"regenerationJobId"`
	}
	if err := c.sendJSON(ctx, http.MethodPost, "/summary/"+url.PathEscape(jobID)+"/regenerate", body, &out); err != nil {
		return "", err
	}
	return out.RegenerationJobID, nil
}

// =============================================================================
// Queries
// =============================================================================

// Query asks a question and waits for the complete answer.
func (c *Client) Query(ctx context.Context, req models.QueryRequest) (*models.QueryResult, error) {
	var out models.QueryResult
	if err := c.sendJSON(ctx, http.MethodPost, "/query", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// QueryStream asks a question and invokes onEvent for every server-sent
// event until the stream ends. An error event is returned as an error after
// it has been delivered. Return an error from onEvent to abort.
func (c *Client) QueryStream(ctx context.Context, qr models.QueryRequest, onEvent func(models.StreamEvent) error) error {
	data, err := json.Marshal(qr)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/query/stream", bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	// Streams can outlive the request timeout; ctx bounds them instead.
	hc := *c.httpClient
	hc.Timeout = 0
	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return readError(resp)
	}

	var streamErr error
	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 64<<10), 4<<20)
	for sc.Scan() {
		payload, ok := strings.CutPrefix(sc.Text(), "data:")
		if !ok {
			continue
		}
		payload = strings.TrimSpace(payload)
		if payload == "[DONE]" {
			return streamErr
		}
		var ev models.StreamEvent
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			return fmt.Errorf("unmarshal event: %w", err)
		}
		if ev.Type == models.EventError {
			streamErr = fmt.Errorf("stream error: %s", ev.Content)
		}
		if err := onEvent(ev); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("read stream: %w", err)
	}
	if streamErr != nil {
		return streamErr
	}
	return errors.New("stream ended without completion")
}

// Suggestions returns suggested questions, scoped to a job when jobID is set.
func (c *Client) Suggestions(ctx context.Context, jobID string) ([]string, error) {
	path := "/query/suggestions"
	if jobID != "" {
		path += "?jobId=" + url.QueryEscape(jobID)
	}
	var out struct {
		Questions []string `json:"questions"`
	}
	if err := c.getJSON(ctx, path, &out); err != nil {
		return nil, err
	}
	return out.Questions, nil
}

// =============================================================================
// Server info
// =============================================================================

// TypesResponse lists the accepted modalities and their extensions.
type TypesResponse struct {
	Types      []models.Modality            `json:"types"`
	Extensions map[models.Modality][]string `json:"extensions"`
}

// Types returns the supported content types.
func (c *Client) Types(ctx context.Context) (*TypesResponse, error) {
	var out TypesResponse
	if err := c.getJSON(ctx, "/types", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Health returns the server version when it is up.
func (c *Client) Health(ctx context.Context) (string, error) {
	var out struct {
		Status  string `json:"status"`
		Version string `json:"version"`
	}
	if err := c.getJSON(ctx, "/health", &out); err != nil {
		return "", err
	}
	if out.Status != "ok" {
		return out.Version, fmt.Errorf("server unhealthy: %s", out.Status)
	}
	return out.Version, nil
}

// Metrics returns the server's operation timings and job counters.
func (c *Client) Metrics(ctx context.Context) (*metrics.Snapshot, error) {
	var out metrics.Snapshot
	if err := c.getJSON(ctx, "/metrics", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// =============================================================================
// Watching
// =============================================================================

// Watch follows a job over a websocket and invokes onUpdate for each status
// change. It returns nil once the job reaches a terminal state and the
// server closes the stream. Return an error from onUpdate to stop early.
func (c *Client) Watch(ctx context.Context, jobID string, onUpdate func(*api.StatusResponse) error) error {
	wsEndpoint := c.endpoint
	wsEndpoint = strings.Replace(wsEndpoint, "http://", "ws://", 1)
	wsEndpoint = strings.Replace(wsEndpoint, "https://", "wss://", 1)

	u, err := url.Parse(wsEndpoint + "/status/" + url.PathEscape(jobID) + "/watch")
	if err != nil {
		return fmt.Errorf("parse endpoint: %w", err)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil && resp.StatusCode >= 300 {
			defer resp.Body.Close()
			return readError(resp)
		}
		return fmt.Errorf("websocket connect: %w", err)
	}

	var mu sync.Mutex
	closed := false
	closeConn := func() {
		mu.Lock()
		defer mu.Unlock()
		if !closed {
			closed = true
			conn.Close()
		}
	}
	defer closeConn()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			closeConn()
		case <-done:
		}
	}()

	var last *api.StatusResponse
	for {
		var st api.StatusResponse
		if err := conn.ReadJSON(&st); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				if last == nil || !last.Status.IsTerminal() {
					return errors.New("watch closed before the job finished")
				}
				return nil
			}
			return fmt.Errorf("read message: %w", err)
		}
		last = &st
		if err := onUpdate(&st); err != nil {
			return err
		}
	}
}
