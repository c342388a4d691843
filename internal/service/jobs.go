package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/raphaelgruber/mmrag/internal/models"
)

// Log page bounds for JobManager.Logs.
const (
	DefaultLogLimit = 100
	MaxLogLimit     = 1000
)

// JobManager owns job status transitions and the per-job log. It implements
// queue.StatusUpdater and feeds status watchers.
type JobManager struct {
	store  JobStore
	logger *slog.Logger

	mu       sync.Mutex
	watchers map[string]map[chan *models.JobStatus]struct{}
}

// NewJobManager creates a job manager over store.
func NewJobManager(store JobStore, logger *slog.Logger) *JobManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &JobManager{
		store:    store,
		logger:   logger.With("component", "jobs"),
		watchers: make(map[string]map[chan *models.JobStatus]struct{}),
	}
}

// Create stores job and its initial queued status.
func (m *JobManager) Create(ctx context.Context, job *models.IngestionJob, steps []string, metadata map[string]any) (*models.JobStatus, error) {
	if err := m.store.SaveJob(ctx, job); err != nil {
		return nil, fmt.Errorf("save job: %w", err)
	}
	st := &models.JobStatus{
		JobID:       job.JobID,
		Status:      models.StatusQueued,
		CurrentStep: "Waiting in queue",
		Steps:       steps,
		StartedAt:   job.CreatedAt,
		Metadata:    metadata,
	}
	if err := m.store.SaveJobStatus(ctx, st); err != nil {
		return nil, fmt.Errorf("save job status: %w", err)
	}
	m.log(ctx, job.JobID, models.LogInfo, "", "Job queued", map[string]any{
		"fileType": string(job.FileType), "fileName": job.Metadata.FileName,
	})
	m.logger.Info("job created", "job_id", job.JobID, "file_type", job.FileType, "file", job.Metadata.FileName)
	m.notify(st)
	return st, nil
}

// UpdateJobStatus records a lifecycle transition. A negative progress keeps
// the previous value. Updates to finished jobs return models.ErrJobFinished.
func (m *JobManager) UpdateJobStatus(ctx context.Context, jobID string, status models.Status, progress int, errMsg string) error {
	st, err := m.transition(ctx, jobID, func(st *models.JobStatus) {
		st.Status = status
		if progress >= 0 {
			st.Progress = progress
		}
		st.Error = errMsg
		switch status {
		case models.StatusProcessing:
			if st.CurrentStep == "Waiting in queue" {
				st.CurrentStep = "Starting"
			}
		case models.StatusCompleted:
			st.CurrentStep = "Completed"
		case models.StatusFailed:
			st.CurrentStep = "Failed"
		}
		if status.IsTerminal() {
			now := time.Now().UTC()
			st.CompletedAt = &now
		}
	})
	if err != nil {
		return err
	}

	switch status {
	case models.StatusProcessing:
		m.log(ctx, jobID, models.LogInfo, "", "Processing started", nil)
	case models.StatusCompleted:
		m.log(ctx, jobID, models.LogInfo, "", "Job completed", nil)
		m.logger.Info("job completed", "job_id", jobID)
	case models.StatusFailed:
		m.log(ctx, jobID, models.LogError, st.CurrentStep, "Job failed: "+errMsg, map[string]any{"progress": st.Progress})
		m.logger.Error("job failed", "job_id", jobID, "progress", st.Progress, "error", errMsg)
	}
	return nil
}

// StepStarted records that a pipeline stage began.
func (m *JobManager) StepStarted(ctx context.Context, jobID, step string, percent int) {
	_, err := m.transition(ctx, jobID, func(st *models.JobStatus) {
		st.CurrentStep = step
		st.Progress = percent
	})
	if err != nil {
		if !errors.Is(err, models.ErrJobFinished) {
			m.logger.Warn("failed to record step", "job_id", jobID, "step", step, "error", err)
		}
		return
	}
	m.log(ctx, jobID, models.LogInfo, step, step, map[string]any{"progress": percent})
}

// SetSteps replaces the job's planned stage names, e.g. once a URL source's
// type is known.
func (m *JobManager) SetSteps(ctx context.Context, jobID string, steps []string) {
	_, err := m.transition(ctx, jobID, func(st *models.JobStatus) {
		st.Steps = slices.Clone(steps)
	})
	if err != nil && !errors.Is(err, models.ErrJobFinished) {
		m.logger.Warn("failed to record steps", "job_id", jobID, "error", err)
	}
}

// Log appends an entry to the job's log.
func (m *JobManager) Log(ctx context.Context, jobID string, level models.LogLevel, step, message string) {
	m.log(ctx, jobID, level, step, message, nil)
}

func (m *JobManager) transition(ctx context.Context, jobID string, apply func(*models.JobStatus)) (*models.JobStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, err := m.store.GetJobStatus(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if st.IsDone() {
		return nil, models.ErrJobFinished
	}
	apply(st)
	if err := m.store.SaveJobStatus(ctx, st); err != nil {
		return nil, fmt.Errorf("save job status: %w", err)
	}
	m.notifyLocked(st)
	return st, nil
}

func (m *JobManager) log(ctx context.Context, jobID string, level models.LogLevel, step, message string, data map[string]any) {
	entry := models.JobLog{Timestamp: time.Now().UTC(), Level: level, Message: message, Step: step, Data: data}
	if err := m.store.AppendJobLog(ctx, jobID, entry); err != nil {
		m.logger.Warn("failed to append job log", "job_id", jobID, "error", err)
	}
}

// Get returns the job's status or models.ErrNotFound.
func (m *JobManager) Get(ctx context.Context, jobID string) (*models.JobStatus, error) {
	return m.store.GetJobStatus(ctx, jobID)
}

// SaveJob replaces the stored ingestion job, e.g. after a download
// resolved its file type.
func (m *JobManager) SaveJob(ctx context.Context, job *models.IngestionJob) error {
	return m.store.SaveJob(ctx, job)
}

// Job returns the stored ingestion job.
func (m *JobManager) Job(ctx context.Context, jobID string) (*models.IngestionJob, error) {
	return m.store.GetJob(ctx, jobID)
}

// List returns up to limit jobs, most recent first.
func (m *JobManager) List(ctx context.Context, limit int) ([]*models.JobStatus, error) {
	if limit <= 0 {
		limit = DefaultLogLimit
	}
	return m.store.ListJobStatuses(ctx, limit)
}

// Logs returns a page of the job's log and the total number of entries.
// Unknown jobs return models.ErrNotFound.
func (m *JobManager) Logs(ctx context.Context, jobID string, limit, offset int) ([]models.JobLog, int, error) {
	if _, err := m.store.GetJobStatus(ctx, jobID); err != nil {
		return nil, 0, err
	}
	if limit <= 0 {
		limit = DefaultLogLimit
	}
	limit = min(limit, MaxLogLimit)
	offset = max(0, offset)
	return m.store.GetJobLogs(ctx, jobID, limit, offset)
}

// Delete removes the job record, its log and its summary.
func (m *JobManager) Delete(ctx context.Context, jobID string) error {
	if err := m.store.DeleteJob(ctx, jobID); err != nil {
		return err
	}
	m.mu.Lock()
	for ch := range m.watchers[jobID] {
		close(ch)
	}
	delete(m.watchers, jobID)
	m.mu.Unlock()
	return nil
}

// SaveSummary stores a job summary.
func (m *JobManager) SaveSummary(ctx context.Context, s *models.Summary) error {
	return m.store.SaveSummary(ctx, s)
}

// Summary returns the stored summary or models.ErrNotFound.
func (m *JobManager) Summary(ctx context.Context, jobID string) (*models.Summary, error) {
	return m.store.GetSummary(ctx, jobID)
}

// Watch subscribes to status changes of a job. The channel receives the
// current status first and is closed after a terminal status, on cancel or
// when the job is deleted. Slow readers miss intermediate updates.
func (m *JobManager) Watch(ctx context.Context, jobID string) (<-chan *models.JobStatus, func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, err := m.store.GetJobStatus(ctx, jobID)
	if err != nil {
		return nil, nil, err
	}

	ch := make(chan *models.JobStatus, 8)
	ch <- st
	if st.IsDone() {
		close(ch)
		return ch, func() {}, nil
	}

	if m.watchers[jobID] == nil {
		m.watchers[jobID] = make(map[chan *models.JobStatus]struct{})
	}
	m.watchers[jobID][ch] = struct{}{}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if _, ok := m.watchers[jobID][ch]; ok {
				delete(m.watchers[jobID], ch)
				close(ch)
			}
		})
	}
	return ch, cancel, nil
}

func (m *JobManager) notify(st *models.JobStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifyLocked(st)
}

func (m *JobManager) notifyLocked(st *models.JobStatus) {
	subs := m.watchers[st.JobID]
	for ch := range subs {
		deliver(ch, st.Clone())
		if st.IsDone() {
			close(ch)
			delete(subs, ch)
		}
	}
	if len(subs) == 0 {
		delete(m.watchers, st.JobID)
	}
}

// deliver sends st without blocking. A full buffer drops its oldest update,
// so the latest status, terminal ones included, always gets through. Callers
// hold m.mu, which makes this the only sender.
func deliver(ch chan *models.JobStatus, st *models.JobStatus) {
	for {
		select {
		case ch <- st:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

// Requeue republishes jobs left in processing by a previous run, which
// happens when the process stops mid-job. It returns the number requeued.
func (m *JobManager) Requeue(ctx context.Context, publish func(ctx context.Context, job *models.IngestionJob) error) (int, error) {
	statuses, err := m.store.ListJobStatuses(ctx, MaxLogLimit)
	if err != nil {
		return 0, fmt.Errorf("list jobs: %w", err)
	}

	n := 0
	for _, st := range statuses {
		if st.Status != models.StatusProcessing {
			continue
		}
		job, err := m.store.GetJob(ctx, st.JobID)
		if err != nil {
			m.logger.Warn("cannot requeue job without stored body", "job_id", st.JobID, "error", err)
			continue
		}
		st.Status = models.StatusQueued
		st.Progress = 0
		st.CurrentStep = "Waiting in queue"
		if err := m.store.SaveJobStatus(ctx, st); err != nil {
			return n, fmt.Errorf("reset job %s: %w", st.JobID, err)
		}
		if err := publish(ctx, job); err != nil {
			return n, fmt.Errorf("requeue job %s: %w", st.JobID, err)
		}
		m.log(ctx, st.JobID, models.LogWarn, "", "Job requeued after restart", nil)
		m.logger.Info("requeued interrupted job", "job_id", st.JobID)
		n++
	}
	return n, nil
}
