package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/raphaelgruber/mmrag/internal/models"
	"github.com/surrealdb/surrealdb.go"
)

// Publish appends a job to the named durable queue.
func (c *Client) Publish(ctx context.Context, queue string, job *models.IngestionJob) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	_, err = surrealdb.Query[any](ctx, c.db, `
		CREATE ingest_queue CONTENT {
			queue: $queue,
			job_id: $job_id,
			priority: $priority,
			body: $body
		}
	`, map[string]any{
		"queue":    queue,
		"job_id":   job.JobID,
		"priority": job.Priority,
		"body":     string(body),
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", queue, wrapQueryError(err))
	}
	return nil
}

// Receive claims the next job of the named queue, highest priority first and
// FIFO within a priority. The claim deletes the record, so when two workers
// race for the same entry only one gets it back. Returns nil when the queue is
// empty.
func (c *Client) Receive(ctx context.Context, queue string) (*models.IngestionJob, error) {
	results, err := surrealdb.Query[[]bodyRow](ctx, c.db, `
		LET $next = (SELECT id, priority, created_at FROM ingest_queue
			WHERE queue = $queue
			ORDER BY priority DESC, created_at ASC
			LIMIT 1);
		DELETE $next.id RETURN BEFORE;
	`, map[string]any{"queue": queue})
	if err != nil {
		return nil, fmt.Errorf("receive from %s: %w", queue, wrapQueryError(err))
	}

	rows := lastResult(results)
	if len(rows) == 0 || rows[0].Body == "" {
		return nil, nil
	}
	var job models.IngestionJob
	if err := json.Unmarshal([]byte(rows[0].Body), &job); err != nil {
		return nil, fmt.Errorf("decode queued job: %w", err)
	}
	return &job, nil
}
