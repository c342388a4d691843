// Package service implements the ingestion and query orchestration on top of
// the queue, the router, the vector store and the job store.
package service

import (
	"context"
	"slices"
	"sync"

	"github.com/raphaelgruber/mmrag/internal/models"
)

// JobStore persists job state, logs and summaries. *db.Client and
// *sqlstore.Store satisfy it, as does MemoryStore.
type JobStore interface {
	SaveJobStatus(ctx context.Context, s *models.JobStatus) error
	// GetJobStatus returns models.ErrNotFound for unknown jobs.
	GetJobStatus(ctx context.Context, jobID string) (*models.JobStatus, error)
	ListJobStatuses(ctx context.Context, limit int) ([]*models.JobStatus, error)

	SaveJob(ctx context.Context, job *models.IngestionJob) error
	GetJob(ctx context.Context, jobID string) (*models.IngestionJob, error)
	// DeleteJob removes the job with its logs and summary.
	DeleteJob(ctx context.Context, jobID string) error

	AppendJobLog(ctx context.Context, jobID string, entry models.JobLog) error
	GetJobLogs(ctx context.Context, jobID string, limit, offset int) ([]models.JobLog, int, error)

	SaveSummary(ctx context.Context, summary *models.Summary) error
	// GetSummary returns models.ErrNotFound when no summary was stored.
	GetSummary(ctx context.Context, jobID string) (*models.Summary, error)
}

// MemoryStore is a JobStore held in process memory.
type MemoryStore struct {
	mu        sync.RWMutex
	statuses  map[string]*models.JobStatus
	jobs      map[string]*models.IngestionJob
	logs      map[string][]models.JobLog
	summaries map[string]*models.Summary
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		statuses:  make(map[string]*models.JobStatus),
		jobs:      make(map[string]*models.IngestionJob),
		logs:      make(map[string][]models.JobLog),
		summaries: make(map[string]*models.Summary),
	}
}

func (m *MemoryStore) SaveJobStatus(_ context.Context, s *models.JobStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[s.JobID] = s.Clone()
	return nil
}

func (m *MemoryStore) GetJobStatus(_ context.Context, jobID string) (*models.JobStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.statuses[jobID]
	if !ok {
		return nil, models.ErrNotFound
	}
	return s.Clone(), nil
}

// ListJobStatuses returns up to limit jobs, most recently started first.
// limit <= 0 returns all of them.
func (m *MemoryStore) ListJobStatuses(_ context.Context, limit int) ([]*models.JobStatus, error) {
	m.mu.RLock()
	out := make([]*models.JobStatus, 0, len(m.statuses))
	for _, s := range m.statuses {
		out = append(out, s.Clone())
	}
	m.mu.RUnlock()

	slices.SortFunc(out, func(a, b *models.JobStatus) int {
		return b.StartedAt.Compare(a.StartedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) SaveJob(_ context.Context, job *models.IngestionJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j := *job
	m.jobs[job.JobID] = &j
	return nil
}

func (m *MemoryStore) GetJob(_ context.Context, jobID string) (*models.IngestionJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.jobs[jobID]
	if !ok {
		return nil, models.ErrNotFound
	}
	c := *j
	return &c, nil
}

func (m *MemoryStore) DeleteJob(_ context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.statuses, jobID)
	delete(m.jobs, jobID)
	delete(m.logs, jobID)
	delete(m.summaries, jobID)
	return nil
}

func (m *MemoryStore) AppendJobLog(_ context.Context, jobID string, entry models.JobLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs[jobID] = append(m.logs[jobID], entry)
	return nil
}

// GetJobLogs returns a page of logs in insertion order and the total count.
// limit <= 0 returns everything after offset.
func (m *MemoryStore) GetJobLogs(_ context.Context, jobID string, limit, offset int) ([]models.JobLog, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := m.logs[jobID]
	total := len(all)
	offset = max(0, min(offset, total))
	end := total
	if limit > 0 {
		end = min(offset+limit, total)
	}
	return slices.Clone(all[offset:end]), total, nil
}

func (m *MemoryStore) SaveSummary(_ context.Context, summary *models.Summary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := *summary
	m.summaries[summary.JobID] = &s
	return nil
}

func (m *MemoryStore) GetSummary(_ context.Context, jobID string) (*models.Summary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.summaries[jobID]
	if !ok {
		return nil, models.ErrNotFound
	}
	c := *s
	return &c, nil
}
