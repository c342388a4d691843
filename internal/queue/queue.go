// Package queue defines the ingestion queue contract, an in-memory queue and
// the bounded consumer that drives jobs through processing.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/raphaelgruber/mmrag/internal/models"
)

// Queue is a set of named FIFO queues of ingestion jobs.
type Queue interface {
	// Publish enqueues job on the named queue.
	Publish(ctx context.Context, name string, job *models.IngestionJob) error
	// Receive claims the next job of the named queue without blocking.
	// It returns (nil, nil) when the queue is empty.
	Receive(ctx context.Context, name string) (*models.IngestionJob, error)
}

// ErrClosed is returned by Publish after Close.
var ErrClosed = errors.New("queue closed")

// publishTimeout bounds how long Publish waits on a full queue.
const publishTimeout = 10 * time.Second

// Memory is a channel-backed Queue for single-process deployments.
// Priority is not honoured; jobs are delivered in publish order.
type Memory struct {
	mu         sync.RWMutex
	queues     map[string]chan *models.IngestionJob
	bufferSize int
	closed     bool
	done       chan struct{} // closed by Close
	logger     *slog.Logger
}

// NewMemory creates a memory queue whose named queues hold bufferSize jobs each.
func NewMemory(bufferSize int, logger *slog.Logger) *Memory {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Memory{
		queues:     make(map[string]chan *models.IngestionJob),
		bufferSize: bufferSize,
		done:       make(chan struct{}),
		logger:     logger.With("component", "queue"),
	}
}

func (m *Memory) channel(name string) chan *models.IngestionJob {
	m.mu.RLock()
	ch, ok := m.queues[name]
	m.mu.RUnlock()
	if ok {
		return ch
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if ch, ok = m.queues[name]; !ok {
		ch = make(chan *models.IngestionJob, m.bufferSize)
		m.queues[name] = ch
	}
	return ch
}

// Publish blocks up to 10 seconds (or until ctx is done or the queue is
// closed) when the queue is full.
func (m *Memory) Publish(ctx context.Context, name string, job *models.IngestionJob) error {
	ch := m.channel(name)

	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	select {
	case ch <- job:
		return nil
	default:
	}

	m.logger.Warn("queue full, waiting", "queue", name, "job_id", job.JobID)
	timer := time.NewTimer(publishTimeout)
	defer timer.Stop()
	select {
	case ch <- job:
		return nil
	case <-timer.C:
		return fmt.Errorf("publish to %s: queue full for %s", name, publishTimeout)
	case <-m.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive returns the next job or nil when the queue is empty.
func (m *Memory) Receive(ctx context.Context, name string) (*models.IngestionJob, error) {
	select {
	case job := <-m.channel(name):
		return job, nil
	default:
		return nil, nil
	}
}

// Len returns the number of waiting jobs in the named queue.
func (m *Memory) Len(name string) int {
	return len(m.channel(name))
}

// Close rejects further publishes. Waiting jobs can still be received.
func (m *Memory) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.done)
	}
}
