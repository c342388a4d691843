// Package sqlstore is a single-file SQLite job store and durable ingestion
// queue for deployments without SurrealDB.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/raphaelgruber/mmrag/internal/models"
	_ "modernc.org/sqlite"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS jobs (
		job_id       TEXT PRIMARY KEY,
		status       TEXT NOT NULL DEFAULT 'queued',
		progress     INTEGER NOT NULL DEFAULT 0,
		current_step TEXT NOT NULL DEFAULT '',
		steps        TEXT NOT NULL DEFAULT '[]',
		started_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		completed_at DATETIME,
		error        TEXT NOT NULL DEFAULT '',
		metadata     TEXT NOT NULL DEFAULT '',
		job          TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_started ON jobs(started_at)`,
	`CREATE TABLE IF NOT EXISTS job_logs (
		id        INTEGER PRIMARY KEY AUTOINCREMENT,
		job_id    TEXT NOT NULL,
		timestamp DATETIME NOT NULL,
		level     TEXT NOT NULL,
		message   TEXT NOT NULL,
		step      TEXT NOT NULL DEFAULT '',
		data      TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_job_logs_job ON job_logs(job_id, id)`,
	`CREATE TABLE IF NOT EXISTS summaries (
		job_id       TEXT PRIMARY KEY,
		body         TEXT NOT NULL,
		generated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS ingest_queue (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		queue      TEXT NOT NULL,
		job_id     TEXT NOT NULL,
		priority   INTEGER NOT NULL DEFAULT 0,
		body       TEXT NOT NULL,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_ingest_queue_next ON ingest_queue(queue, priority DESC, id)`,
}

// Store implements the job store and queue on SQLite.
type Store struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// Open opens (creating if needed) the database at path and applies the schema.
// Use ":memory:" for a throwaway database.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sqlx.Connect("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection serializes writers and keeps :memory: databases shared.
	db.SetMaxOpenConns(1)

	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply schema: %w", err)
		}
	}

	logger.Info("sqlite store ready", "component", "sqlstore", "path", path)
	return &Store{db: db, logger: logger.With("component", "sqlstore")}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

type jobRow struct {
	JobID       string       `db:"job_id"`
	Status      string       `db:"status"`
	Progress    int          `db:"progress"`
	CurrentStep string       `db:"current_step"`
	Steps       string       `db:"steps"`
	StartedAt   time.Time    `db:"started_at"`
	CompletedAt sql.NullTime `db:"completed_at"`
	Error       string       `db:"error"`
	Metadata    string       `db:"metadata"`
	Job         string       `db:"job"`
}

func (r jobRow) status() (*models.JobStatus, error) {
	s := &models.JobStatus{
		JobID:       r.JobID,
		Status:      models.Status(r.Status),
		Progress:    r.Progress,
		CurrentStep: r.CurrentStep,
		StartedAt:   r.StartedAt,
		Error:       r.Error,
	}
	if r.CompletedAt.Valid {
		t := r.CompletedAt.Time
		s.CompletedAt = &t
	}
	if err := json.Unmarshal([]byte(r.Steps), &s.Steps); err != nil {
		return nil, fmt.Errorf("decode steps of %s: %w", r.JobID, err)
	}
	if r.Metadata != "" {
		if err := json.Unmarshal([]byte(r.Metadata), &s.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata of %s: %w", r.JobID, err)
		}
	}
	return s, nil
}

const jobColumns = `job_id, status, progress, current_step, steps, started_at, completed_at, error, metadata, job`

// SaveJobStatus inserts or updates a job's status. The stored job body is kept.
func (s *Store) SaveJobStatus(ctx context.Context, st *models.JobStatus) error {
	steps := st.Steps
	if steps == nil {
		steps = []string{}
	}
	stepsJSON, err := json.Marshal(steps)
	if err != nil {
		return fmt.Errorf("encode steps: %w", err)
	}
	meta := ""
	if len(st.Metadata) > 0 {
		b, err := json.Marshal(st.Metadata)
		if err != nil {
			return fmt.Errorf("encode metadata: %w", err)
		}
		meta = string(b)
	}
	var completed sql.NullTime
	if st.CompletedAt != nil {
		completed = sql.NullTime{Time: *st.CompletedAt, Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO jobs (job_id, status, progress, current_step, steps, started_at, completed_at, error, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(job_id) DO UPDATE SET
			status = excluded.status,
			progress = excluded.progress,
			current_step = excluded.current_step,
			steps = excluded.steps,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at,
			error = excluded.error,
			metadata = CASE WHEN excluded.metadata = '' THEN jobs.metadata ELSE excluded.metadata END
	`, st.JobID, string(st.Status), st.Progress, st.CurrentStep, string(stepsJSON),
		st.StartedAt.UTC(), completed, st.Error, meta)
	if err != nil {
		return fmt.Errorf("save job status: %w", err)
	}
	return nil
}

// GetJobStatus returns models.ErrNotFound for unknown jobs.
func (s *Store) GetJobStatus(ctx context.Context, jobID string) (*models.JobStatus, error) {
	var row jobRow
	err := s.db.GetContext(ctx, &row, `SELECT `+jobColumns+` FROM jobs WHERE job_id = ?`, jobID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job status: %w", err)
	}
	return row.status()
}

// ListJobStatuses returns up to limit jobs, most recently started first.
func (s *Store) ListJobStatuses(ctx context.Context, limit int) ([]*models.JobStatus, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []jobRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT `+jobColumns+` FROM jobs ORDER BY started_at DESC LIMIT ?`, limit); err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	out := make([]*models.JobStatus, 0, len(rows))
	for _, r := range rows {
		st, err := r.status()
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

// SaveJob stores the serialized job, creating the row if needed.
func (s *Store) SaveJob(ctx context.Context, job *models.IngestionJob) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO jobs (job_id, job) VALUES (?, ?)
		ON CONFLICT(job_id) DO UPDATE SET job = excluded.job
	`, job.JobID, string(body))
	if err != nil {
		return fmt.Errorf("save job: %w", err)
	}
	return nil
}

// GetJob returns the stored job or models.ErrNotFound.
func (s *Store) GetJob(ctx context.Context, jobID string) (*models.IngestionJob, error) {
	var body string
	err := s.db.GetContext(ctx, &body, `SELECT job FROM jobs WHERE job_id = ?`, jobID)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && body == "") {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	var job models.IngestionJob
	if err := json.Unmarshal([]byte(body), &job); err != nil {
		return nil, fmt.Errorf("decode job: %w", err)
	}
	return &job, nil
}

// DeleteJob removes the job, its logs and its summary in one transaction.
func (s *Store) DeleteJob(ctx context.Context, jobID string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`DELETE FROM jobs WHERE job_id = ?`,
		`DELETE FROM job_logs WHERE job_id = ?`,
		`DELETE FROM summaries WHERE job_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, jobID); err != nil {
			return fmt.Errorf("delete job: %w", err)
		}
	}
	return tx.Commit()
}

type logRow struct {
	Timestamp time.Time `db:"timestamp"`
	Level     string    `db:"level"`
	Message   string    `db:"message"`
	Step      string    `db:"step"`
	Data      string    `db:"data"`
}

// AppendJobLog adds an entry to a job's log.
func (s *Store) AppendJobLog(ctx context.Context, jobID string, entry models.JobLog) error {
	data := ""
	if len(entry.Data) > 0 {
		b, err := json.Marshal(entry.Data)
		if err != nil {
			return fmt.Errorf("encode log data: %w", err)
		}
		data = string(b)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO job_logs (job_id, timestamp, level, message, step, data) VALUES (?, ?, ?, ?, ?, ?)
	`, jobID, entry.Timestamp.UTC(), string(entry.Level), entry.Message, entry.Step, data)
	if err != nil {
		return fmt.Errorf("append job log: %w", err)
	}
	return nil
}

// GetJobLogs returns a page of logs in insertion order and the total count.
func (s *Store) GetJobLogs(ctx context.Context, jobID string, limit, offset int) ([]models.JobLog, int, error) {
	var total int
	if err := s.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM job_logs WHERE job_id = ?`, jobID); err != nil {
		return nil, 0, fmt.Errorf("count job logs: %w", err)
	}

	var rows []logRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT timestamp, level, message, step, data FROM job_logs
		WHERE job_id = ? ORDER BY id ASC LIMIT ? OFFSET ?
	`, jobID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("get job logs: %w", err)
	}

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

// SaveSummary upserts a job's summary.
func (s *Store) SaveSummary(ctx context.Context, summary *models.Summary) error {
	body, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO summaries (job_id, body, generated_at) VALUES (?, ?, ?)
		ON CONFLICT(job_id) DO UPDATE SET body = excluded.body, generated_at = excluded.generated_at
	`, summary.JobID, string(body), summary.GeneratedAt.UTC())
	if err != nil {
		return fmt.Errorf("save summary: %w", err)
	}
	return nil
}

// GetSummary returns models.ErrNotFound when no summary exists.
func (s *Store) GetSummary(ctx context.Context, jobID string) (*models.Summary, error) {
	var body string
	err := s.db.GetContext(ctx, &body, `SELECT body FROM summaries WHERE job_id = ?`, jobID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get summary: %w", err)
	}
	var summary models.Summary
	if err := json.Unmarshal([]byte(body), &summary); err != nil {
		return nil, fmt.Errorf("decode summary: %w", err)
	}
	return &summary, nil
}

// Publish appends a job to the named queue.
func (s *Store) Publish(ctx context.Context, queue string, job *models.IngestionJob) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO ingest_queue (queue, job_id, priority, body) VALUES (?, ?, ?, ?)
	`, queue, job.JobID, job.Priority, string(body))
	if err != nil {
		return fmt.Errorf("publish to %s: %w", queue, err)
	}
	return nil
}

// Receive atomically claims the next job, highest priority first and FIFO
// within a priority. Returns nil when the queue is empty.
func (s *Store) Receive(ctx context.Context, queue string) (*models.IngestionJob, error) {
	var body string
	err := s.db.GetContext(ctx, &body, `
		DELETE FROM ingest_queue
		WHERE id = (
			SELECT id FROM ingest_queue WHERE queue = ?
			ORDER BY priority DESC, id ASC LIMIT 1
		)
		RETURNING body
	`, queue)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("receive from %s: %w", queue, err)
	}
	var job models.IngestionJob
	if err := json.Unmarshal([]byte(body), &job); err != nil {
		return nil, fmt.Errorf("decode queued job: %w", err)
	}
	return &job, nil
}

// QueueDepth returns the number of waiting jobs in a queue.
func (s *Store) QueueDepth(ctx context.Context, queue string) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM ingest_queue WHERE queue = ?`, queue); err != nil {
		return 0, fmt.Errorf("queue depth: %w", err)
	}
	return n, nil
}
