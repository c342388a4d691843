package queue

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/raphaelgruber/mmrag/internal/metrics"
	"github.com/raphaelgruber/mmrag/internal/models"
)

// Handler processes one job to completion and reports the outcome. It must
// not panic across the boundary; the consumer recovers if it does.
type Handler interface {
	Handle(ctx context.Context, job *models.IngestionJob) models.ProcessingResult
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, job *models.IngestionJob) models.ProcessingResult

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, job *models.IngestionJob) models.ProcessingResult {
	return f(ctx, job)
}

// StatusUpdater records job lifecycle transitions. A negative progress keeps
// the last recorded value.
type StatusUpdater interface {
	UpdateJobStatus(ctx context.Context, jobID string, status models.Status, progress int, errMsg string) error
}

// Defaults for ConsumerConfig.
const (
	DefaultMaxConcurrent = 3
	DefaultEmptyBackoff  = time.Second
	DefaultErrorBackoff  = 5 * time.Second
	// DefaultTimeout applies to jobs whose file type has no configured timeout.
	DefaultTimeout = 30 * time.Minute
)

// ConsumerConfig configures a Consumer.
type ConsumerConfig struct {
	Queues        []string
	MaxConcurrent int
	Timeouts      map[models.Modality]time.Duration
	EmptyBackoff  time.Duration
	ErrorBackoff  time.Duration
}

// Consumer pulls jobs from a Queue and processes up to MaxConcurrent of them
// at once, each in its own goroutine.
type Consumer struct {
	queue   Queue
	handler Handler
	status  StatusUpdater
	cfg     ConsumerConfig
	logger  *slog.Logger
	metrics *metrics.Collector

	slots chan struct{}
	next  int

	mu       sync.Mutex
	inFlight map[string]*models.IngestionJob
	wg       sync.WaitGroup

	cancel context.CancelFunc
	done   chan struct{}
}

// NewConsumer creates a consumer. Zero config values take the defaults.
func NewConsumer(q Queue, h Handler, s StatusUpdater, cfg ConsumerConfig, logger *slog.Logger, mc *metrics.Collector) *Consumer {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	if cfg.EmptyBackoff <= 0 {
		cfg.EmptyBackoff = DefaultEmptyBackoff
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = DefaultErrorBackoff
	}
	if cfg.Timeouts == nil {
		cfg.Timeouts = models.DefaultTimeouts
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		queue:    q,
		handler:  h,
		status:   s,
		cfg:      cfg,
		logger:   logger.With("component", "consumer"),
		metrics:  mc,
		slots:    make(chan struct{}, cfg.MaxConcurrent),
		inFlight: make(map[string]*models.IngestionJob),
	}
}

// Start runs the consume loop in a background goroutine until ctx is done or
// Stop is called.
func (c *Consumer) Start(ctx context.Context) {
	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})

	c.logger.Info("consumer started", "queues", c.cfg.Queues, "max_concurrent", c.cfg.MaxConcurrent)
	go func() {
		defer close(c.done)
		c.loop(loopCtx)
	}()
}

// Stop stops dequeuing and waits for in-flight jobs, bounded by ctx.
func (c *Consumer) Stop(ctx context.Context) error {
	if c.cancel == nil {
		return nil
	}
	c.cancel()
	<-c.done

	waited := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(waited)
	}()

	select {
	case <-waited:
		c.logger.Info("consumer stopped")
		return nil
	case <-ctx.Done():
		c.logger.Warn("consumer stop timed out", "in_flight", c.InFlight())
		return ctx.Err()
	}
}

// InFlight returns the number of jobs being processed.
func (c *Consumer) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.inFlight)
}

func (c *Consumer) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case c.slots <- struct{}{}:
		}

		job, err := c.receiveNext(ctx)
		if err != nil {
			<-c.slots
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("receive failed", "error", err)
			sleep(ctx, c.cfg.ErrorBackoff)
			continue
		}
		if job == nil {
			<-c.slots
			sleep(ctx, c.cfg.EmptyBackoff)
			continue
		}

		c.dispatch(ctx, job)
	}
}

// receiveNext polls each queue once, starting after the queue that produced
// the previous job.
func (c *Consumer) receiveNext(ctx context.Context) (*models.IngestionJob, error) {
	n := len(c.cfg.Queues)
	for i := range n {
		name := c.cfg.Queues[(c.next+i)%n]
		job, err := c.queue.Receive(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("receive from %s: %w", name, err)
		}
		if job != nil {
			c.next = (c.next + i + 1) % n
			return job, nil
		}
	}
	return nil, nil
}

func (c *Consumer) dispatch(ctx context.Context, job *models.IngestionJob) {
	// Job work outlives Stop: in-flight jobs finish on a detached context.
	jobCtx := context.WithoutCancel(ctx)

	if err := c.status.UpdateJobStatus(jobCtx, job.JobID, models.StatusProcessing, 0, ""); err != nil {
		c.logger.Warn("failed to mark job processing", "job_id", job.JobID, "error", err)
	}

	c.mu.Lock()
	c.inFlight[job.JobID] = job
	c.mu.Unlock()

	c.wg.Add(1)
	go c.run(jobCtx, job)
}

func (c *Consumer) run(ctx context.Context, job *models.IngestionJob) {
	defer c.wg.Done()
	defer func() { <-c.slots }()
	defer func() {
		c.mu.Lock()
		delete(c.inFlight, job.JobID)
		c.mu.Unlock()
	}()

	timeout := c.timeoutFor(job.FileType)
	jobCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	log := c.logger.With("job_id", job.JobID, "file_type", job.FileType)
	log.Info("processing job", "timeout", timeout)
	start := time.Now()

	results := make(chan models.ProcessingResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error("job panicked", "panic", r, "stack", string(debug.Stack()))
				results <- models.ProcessingResult{Error: fmt.Sprintf("internal panic: %v", r)}
			}
		}()
		results <- c.handler.Handle(jobCtx, job)
	}()

	var result models.ProcessingResult
	select {
	case result = <-results:
	case <-jobCtx.Done():
		// The handler may still be running; the job is failed regardless and
		// later status writes from it are rejected.
		result = models.ProcessingResult{
			Progress: -1,
			Error:    fmt.Sprintf("processing timed out after %s", timeout),
		}
	}

	c.finish(ctx, log, job, result, time.Since(start))
}

func (c *Consumer) finish(ctx context.Context, log *slog.Logger, job *models.IngestionJob, result models.ProcessingResult, elapsed time.Duration) {
	var err error
	if result.Success {
		err = c.status.UpdateJobStatus(ctx, job.JobID, models.StatusCompleted, 100, "")
		log.Info("job completed", "chunks", result.Chunks, "duration_ms", elapsed.Milliseconds())
	} else {
		msg := result.Error
		if msg == "" {
			msg = "processing failed"
		}
		err = c.status.UpdateJobStatus(ctx, job.JobID, models.StatusFailed, result.Progress, msg)
		log.Error("job failed", "error", msg, "progress", result.Progress, "duration_ms", elapsed.Milliseconds())
	}
	if err != nil {
		log.Warn("failed to record job outcome", "error", err)
	}

	if m, ok := job.FileType.Modality(); ok {
		c.metrics.RecordJob(string(m), result.Success, result.Chunks)
	}
}

func (c *Consumer) timeoutFor(ft models.FileType) time.Duration {
	if m, ok := ft.Modality(); ok {
		if d, ok := c.cfg.Timeouts[m]; ok && d > 0 {
			return d
		}
	}
	return DefaultTimeout
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
