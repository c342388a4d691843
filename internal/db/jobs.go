package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/raphaelgruber/mmrag/internal/models"
	"github.com/surrealdb/surrealdb.go"
)

// jobRow is the stored form of a JobStatus plus the serialized job.
type jobRow struct {
	JobID       string     `json:"job_id"`
	Status      string     `json:"status"`
	Progress    int        `json:"progress"`
	CurrentStep string     `json:"current_step"`
	Steps       []string   `json:"steps"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error"`
	Metadata    string     `json:"metadata"`
	Job         string     `json:"job"`
}

func (r jobRow) status() (*models.JobStatus, error) {
	s := &models.JobStatus{
		JobID:       r.JobID,
		Status:      models.Status(r.Status),
		Progress:    r.Progress,
		CurrentStep: r.CurrentStep,
		Steps:       r.Steps,
		StartedAt:   r.StartedAt,
		CompletedAt: r.CompletedAt,
		Error:       r.Error,
	}
	if r.Metadata != "" {
		if err := json.Unmarshal([]byte(r.Metadata), &s.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata of %s: %w", r.JobID, err)
		}
	}
	return s, nil
}

type logRow struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Step      string    `json:"step"`
	Data      string    `json:"data"`
}

type countRow struct {
	Total int `json:"total"`
}

type bodyRow struct {
	Body string `json:"body"`
}

// SaveJobStatus upserts the status record of a job. The serialized job stored
// by SaveJob is left untouched.
func (c *Client) SaveJobStatus(ctx context.Context, s *models.JobStatus) error {
	steps := s.Steps
	if steps == nil {
		steps = []string{}
	}
	data := map[string]any{
		"status":       string(s.Status),
		"progress":     s.Progress,
		"current_step": s.CurrentStep,
		"steps":        steps,
		"started_at":   s.StartedAt,
		"error":        s.Error,
	}
	if s.CompletedAt != nil {
		data["completed_at"] = *s.CompletedAt
	}
	if len(s.Metadata) > 0 {
		meta, err := json.Marshal(s.Metadata)
		if err != nil {
			return fmt.Errorf("encode metadata: %w", err)
		}
		data["metadata"] = string(meta)
	}

	_, err := surrealdb.Query[any](ctx, c.db, `
		UPSERT type::record("ingest_job", $id) MERGE $data
	`, map[string]any{"id": s.JobID, "data": data})
	if err != nil {
		return fmt.Errorf("save job status: %w", wrapQueryError(err))
	}
	return nil
}

// GetJobStatus returns models.ErrNotFound when the job does not exist.
func (c *Client) GetJobStatus(ctx context.Context, jobID string) (*models.JobStatus, error) {
	results, err := surrealdb.Query[[]jobRow](ctx, c.db, `
		SELECT *, record::id(id) AS job_id FROM type::record("ingest_job", $id)
	`, map[string]any{"id": jobID})
	if err != nil {
		return nil, fmt.Errorf("get job status: %w", wrapQueryError(err))
	}
	rows := lastResult(results)
	if len(rows) == 0 {
		return nil, models.ErrNotFound
	}
	return rows[0].status()
}

// ListJobStatuses returns up to limit jobs, most recently started first.
func (c *Client) ListJobStatuses(ctx context.Context, limit int) ([]*models.JobStatus, error) {
	if limit <= 0 {
		limit = 100
	}
	results, err := surrealdb.Query[[]jobRow](ctx, c.db, `
		SELECT *, record::id(id) AS job_id FROM ingest_job ORDER BY started_at DESC LIMIT $limit
	`, map[string]any{"limit": limit})
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", wrapQueryError(err))
	}

	rows := lastResult(results)
	out := make([]*models.JobStatus, 0, len(rows))
	for _, r := range rows {
		s, err := r.status()
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// SaveJob stores the serialized ingestion job alongside its status.
func (c *Client) SaveJob(ctx context.Context, job *models.IngestionJob) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	_, err = surrealdb.Query[any](ctx, c.db, `
		UPSERT type::record("ingest_job", $id) MERGE { job: $job }
	`, map[string]any{"id": job.JobID, "job": string(body)})
	if err != nil {
		return fmt.Errorf("save job: %w", wrapQueryError(err))
	}
	return nil
}

// GetJob returns the stored ingestion job or models.ErrNotFound.
func (c *Client) GetJob(ctx context.Context, jobID string) (*models.IngestionJob, error) {
	results, err := surrealdb.Query[[]jobRow](ctx, c.db, `
		SELECT job FROM type::record("ingest_job", $id)
	`, map[string]any{"id": jobID})
	if err != nil {
		return nil, fmt.Errorf("get job: %w", wrapQueryError(err))
	}
	rows := lastResult(results)
	if len(rows) == 0 || rows[0].Job == "" {
		return nil, models.ErrNotFound
	}
	var job models.IngestionJob
	if err := json.Unmarshal([]byte(rows[0].Job), &job); err != nil {
		return nil, fmt.Errorf("decode job: %w", err)
	}
	return &job, nil
}

// DeleteJob removes the job status, its logs and its summary.
func (c *Client) DeleteJob(ctx context.Context, jobID string) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		DELETE type::record("ingest_job", $id);
		DELETE job_log WHERE job_id = $id;
		DELETE type::record("summary", $id);
	`, map[string]any{"id": jobID})
	if err != nil {
		return fmt.Errorf("delete job: %w", wrapQueryError(err))
	}
	return nil
}

// AppendJobLog adds a log entry to a job.
func (c *Client) AppendJobLog(ctx context.Context, jobID string, entry models.JobLog) error {
	row := map[string]any{
		"job_id":    jobID,
		"timestamp": entry.Timestamp,
		"level":     string(entry.Level),
		"message":   entry.Message,
		"step":      entry.Step,
	}
	if len(entry.Data) > 0 {
		data, err := json.Marshal(entry.Data)
		if err != nil {
			return fmt.Errorf("encode log data: %w", err)
		}
		row["data"] = string(data)
	}

	_, err := surrealdb.Query[any](ctx, c.db, `CREATE job_log CONTENT $row`, map[string]any{"row": row})
	if err != nil {
		return fmt.Errorf("append job log: %w", wrapQueryError(err))
	}
	return nil
}

// GetJobLogs returns a page of a job's logs in chronological order plus the
// total number of entries.
func (c *Client) GetJobLogs(ctx context.Context, jobID string, limit, offset int) ([]models.JobLog, int, error) {
	vars := map[string]any{"job_id": jobID, "limit": limit, "offset": offset}

	counts, err := surrealdb.Query[[]countRow](ctx, c.db, `
		SELECT count() AS total FROM job_log WHERE job_id = $job_id GROUP ALL
	`, vars)
	if err != nil {
		return nil, 0, fmt.Errorf("count job logs: %w", wrapQueryError(err))
	}
	total := 0
	if rows := lastResult(counts); len(rows) > 0 {
		total = rows[0].Total
	}

	results, err := surrealdb.Query[[]logRow](ctx, c.db, `
		SELECT timestamp, level, message, step, data FROM job_log
		WHERE job_id = $job_id
		ORDER BY timestamp ASC
		LIMIT $limit START $offset
	`, vars)
	if err != nil {
		return nil, 0, fmt.Errorf("get job logs: %w", wrapQueryError(err))
	}

	rows := lastResult(results)
	logs := make([]models.JobLog, 0, len(rows))
	for _, r := range rows {
		entry := models.JobLog{
			Timestamp: r.Timestamp,
			Level:     models.LogLevel(r.Level),
			Message:   r.Message,
			Step:      r.Step,
		}
		if r.Data != "" {
			if err := json.Unmarshal([]byte(r.Data), &entry.Data); err != nil {
				return nil, 0, fmt.Errorf("decode log data: %w", err)
			}
		}
		logs = append(logs, entry)
	}
	return logs, total, nil
}

// SaveSummary upserts the summary of a job.
func (c *Client) SaveSummary(ctx context.Context, summary *models.Summary) error {
	body, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	_, err = surrealdb.Query[any](ctx, c.db, `
		UPSERT type::record("summary", $id) CONTENT { body: $body, generated_at: $at }
	`, map[string]any{"id": summary.JobID, "body": string(body), "at": summary.GeneratedAt})
	if err != nil {
		return fmt.Errorf("save summary: %w", wrapQueryError(err))
	}
	return nil
}

// GetSummary returns models.ErrNotFound when no summary was stored.
func (c *Client) GetSummary(ctx context.Context, jobID string) (*models.Summary, error) {
	results, err := surrealdb.Query[[]bodyRow](ctx, c.db, `
		SELECT body FROM type::record("summary", $id)
	`, map[string]any{"id": jobID})
	if err != nil {
		return nil, fmt.Errorf("get summary: %w", wrapQueryError(err))
	}
	rows := lastResult(results)
	if len(rows) == 0 {
		return nil, models.ErrNotFound
	}
	var summary models.Summary
	if err := json.Unmarshal([]byte(rows[0].Body), &summary); err != nil {
		return nil, fmt.Errorf("decode summary: %w", err)
	}
	return &summary, nil
}
