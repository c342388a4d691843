// Package app wires the ingestion and query stack from configuration.
// It serves as dependency injection for the server and MCP binaries.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/raphaelgruber/mmrag/internal/capability"
	"github.com/raphaelgruber/mmrag/internal/config"
	"github.com/raphaelgruber/mmrag/internal/db"
	"github.com/raphaelgruber/mmrag/internal/llm"
	"github.com/raphaelgruber/mmrag/internal/metrics"
	"github.com/raphaelgruber/mmrag/internal/models"
	"github.com/raphaelgruber/mmrag/internal/pipeline"
	"github.com/raphaelgruber/mmrag/internal/prompts"
	"github.com/raphaelgruber/mmrag/internal/queue"
	"github.com/raphaelgruber/mmrag/internal/router"
	"github.com/raphaelgruber/mmrag/internal/service"
	"github.com/raphaelgruber/mmrag/internal/sqlstore"
	"github.com/raphaelgruber/mmrag/internal/vectorstore"
)

const (
	memoryQueueSize = 256
	downloadTimeout = 10 * time.Minute
)

// App holds the wired services.
type App struct {
	Config    config.Config
	Rag       *service.RagService
	Jobs      *service.JobManager
	Retrieval *service.RetrievalService
	Router    *router.Router
	Consumer  *queue.Consumer
	Queue     queue.Queue
	Metrics   *metrics.Collector
	// UploadDir receives API uploads; the worker removes processed files from it.
	UploadDir string

	logger  *slog.Logger
	closers []func(context.Context) error
}

// Backends are the storage components selected by configuration.
type Backends struct {
	Vectors vectorstore.Store
	Jobs    service.JobStore
	Queue   queue.Queue
	closers []func(context.Context) error
}

// Close releases backend connections.
func (b *Backends) Close(ctx context.Context) error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		errs = append(errs, b.closers[i](ctx))
	}
	return errors.Join(errs...)
}

// OpenBackends connects the vector store, job store and queue named in cfg.
// SurrealDB and SQLite connections are shared between the roles they serve.
func OpenBackends(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Backends, error) {
	b := &Backends{}

	var surreal *db.Client
	if cfg.UsesSurreal() {
		c, err := db.NewClient(ctx, db.ConfigFrom(cfg), logger)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, c.Close)
		if err := c.InitSchema(ctx, cfg.EmbedDimension); err != nil {
			_ = b.Close(ctx)
			return nil, err
		}
		surreal = c
	}

	var sqlite *sqlstore.Store
	if cfg.StoreBackend == config.BackendSQLite || cfg.QueueBackend == config.BackendSQLite {
		s, err := sqlstore.Open(cfg.SQLitePath, logger)
		if err != nil {
			_ = b.Close(ctx)
			return nil, err
		}
		b.closers = append(b.closers, func(context.Context) error { return s.Close() })
		sqlite = s
	}

	switch cfg.VectorBackend {
	case config.BackendSurreal:
		b.Vectors = surreal
	case config.BackendQdrant:
		q, err := vectorstore.NewQdrant(vectorstore.QdrantConfig{
			Host:       cfg.QdrantHost,
			Port:       cfg.QdrantPort,
			UseTLS:     cfg.QdrantUseTLS,
			APIKey:     cfg.QdrantAPIKey,
			Collection: cfg.QdrantCollection,
			Dimension:  cfg.EmbedDimension,
		}, logger)
		if err != nil {
			_ = b.Close(ctx)
			return nil, err
		}
		b.closers = append(b.closers, func(context.Context) error { return q.Close() })
		b.Vectors = q
	default:
		b.Vectors = vectorstore.NewMemory(cfg.EmbedDimension)
	}

	switch cfg.StoreBackend {
	case config.BackendSurreal:
		b.Jobs = surreal
	case config.BackendSQLite:
		b.Jobs = sqlite
	default:
		b.Jobs = service.NewMemoryStore()
	}

	switch cfg.QueueBackend {
	case config.BackendSurreal:
		b.Queue = surreal
	case config.BackendSQLite:
		b.Queue = sqlite
	default:
		q := queue.NewMemory(memoryQueueSize, logger)
		b.closers = append(b.closers, func(context.Context) error { q.Close(); return nil })
		b.Queue = q
	}

	logger.Info("backends ready",
		"vectors", cfg.VectorBackend, "jobs", cfg.StoreBackend, "queue", cfg.QueueBackend)
	return b, nil
}

// New wires the full stack from cfg. Call Start to begin consuming jobs.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	mc := metrics.NewCollector()

	backends, err := OpenBackends(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	fail := func(err error) (*App, error) {
		_ = backends.Close(ctx)
		return nil, err
	}

	model, err := llm.NewModel(ctx, cfg, mc)
	if err != nil {
		return fail(err)
	}
	embedder, err := llm.NewEmbedder(cfg, mc)
	if err != nil {
		return fail(err)
	}
	catalog, err := prompts.New()
	if err != nil {
		return fail(err)
	}
	whisper, err := capability.NewWhisper(capability.WhisperConfig{
		BaseURL:    cfg.WhisperURL,
		APIKey:     cfg.WhisperAPIKey,
		Model:      cfg.WhisperModel,
		MaxRetries: 2,
	}, logger, mc)
	if err != nil {
		return fail(err)
	}

	jobs := service.NewJobManager(backends.Jobs, logger)
	retrieval := service.NewRetrievalService(backends.Vectors, embedder, logger, mc)
	vision := capability.NewVision(model, catalog)

	deps := pipeline.Deps{
		Transcriber: whisper,
		OCR:         vision,
		Vision:      vision,
		Embedder:    embedder,
		Media:       capability.NewFFmpeg(cfg.FFmpegPath, cfg.SceneThreshold, logger),
		Diarizer:    capability.NewLLMDiarizer(model, catalog, 0),
		Parser:      capability.NewDocumentParser(),
		Summarizer:  capability.NewLLMSummarizer(model, catalog),
		Store:       service.ResultStore{Retrieval: retrieval, Jobs: jobs},
		TempDir:     filepath.Join(cfg.TempDir, "work"),
		Logger:      logger,
		Metrics:     mc,
	}
	rt := router.New(logger,
		pipeline.NewVideo(deps),
		pipeline.NewAudio(deps),
		pipeline.NewDocument(deps),
		pipeline.NewImage(deps),
	)

	uploadDir := filepath.Join(cfg.TempDir, "uploads")
	worker := service.NewWorker(service.WorkerDeps{
		Router:    rt,
		Jobs:      jobs,
		Retrieval: retrieval,
		Fetcher:   capability.NewFetcher(&http.Client{Timeout: downloadTimeout}, cfg.MaxUploadBytes, logger),
		Summaries: deps,
		UploadDir: uploadDir,
		Logger:    logger,
	})

	consumer := queue.NewConsumer(backends.Queue, worker, jobs, queue.ConsumerConfig{
		Queues:        cfg.AllQueues(),
		MaxConcurrent: cfg.MaxConcurrent,
		Timeouts:      cfg.Timeouts,
	}, logger, mc)

	rag := service.NewRagService(service.RagDeps{
		Jobs:      jobs,
		Retrieval: retrieval,
		Queue:     backends.Queue,
		Router:    rt,
		Model:     model,
		Prompts:   catalog,
		QueueFor:  cfg.QueueFor,
		Logger:    logger,
		Metrics:   mc,
	})

	return &App{
		Config:    cfg,
		Rag:       rag,
		Jobs:      jobs,
		Retrieval: retrieval,
		Router:    rt,
		Consumer:  consumer,
		Queue:     backends.Queue,
		Metrics:   mc,
		UploadDir: uploadDir,
		logger:    logger.With("component", "app"),
		closers:   []func(context.Context) error{backends.Close},
	}, nil
}

// Start initializes the pipelines and vector index, requeues jobs that
// were processing when the last process stopped, and starts the consumer.
func (a *App) Start(ctx context.Context) error {
	if err := a.Router.Initialize(ctx); err != nil {
		return err
	}
	if err := a.Rag.Initialize(ctx); err != nil {
		return err
	}

	n, err := a.Jobs.Requeue(ctx, func(ctx context.Context, job *models.IngestionJob) error {
		q := a.Config.QueueFor(job.FileType)
		if job.RegenerateFor != "" || job.Source.URL != "" {
			q = config.DefaultQueueName
		}
		return a.Queue.Publish(ctx, q, job)
	})
	if err != nil {
		// Not fatal: the jobs stay in processing and can be deleted.
		a.logger.Warn("failed to requeue interrupted jobs", "error", err)
	} else if n > 0 {
		a.logger.Info("requeued interrupted jobs", "count", n)
	}

	a.Consumer.Start(ctx)
	return nil
}

// Close stops the consumer, waiting for in-flight jobs until ctx expires,
// then releases backend connections.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Consumer != nil {
		errs = append(errs, a.Consumer.Stop(ctx))
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i](ctx))
	}
	return errors.Join(errs...)
}
