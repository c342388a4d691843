// Package main provides the HTTP server for mmrag.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/raphaelgruber/mmrag/internal/api"
	"github.com/raphaelgruber/mmrag/internal/app"
	"github.com/raphaelgruber/mmrag/internal/config"
)

const version = "0.1.0"

func main() {
	envFile := flag.String("env", ".env", "dotenv file to load before reading the environment")
	flag.Parse()

	if err := config.LoadDotEnv(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	cfg := config.Load()

	logger, cleanup := config.SetupLogger(cfg.LogFile, cfg.LogLevel)
	defer func() { _ = cleanup() }()
	slog.SetDefault(logger)

	logger.Info("starting mmrag-server",
		"version", version,
		"port", cfg.ServerPort,
		"vectors", cfg.VectorBackend,
		"jobs", cfg.StoreBackend,
		"queue", cfg.QueueBackend,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	initCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	a, err := app.New(initCtx, cfg, logger)
	cancel()
	if err != nil {
		logger.Error("failed to wire services", "error", err)
		os.Exit(1)
	}
	if err := a.Start(ctx); err != nil {
		logger.Error("failed to start services", "error", err)
		_ = a.Close(context.Background())
		os.Exit(1)
	}

	handler := api.New(a.Rag, api.Options{
		UploadDir:      a.UploadDir,
		MaxUploadBytes: cfg.MaxUploadBytes,
		Version:        version,
	}, logger, a.Metrics).Handler()

	httpServer := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Minute, // large uploads
		// No write deadline: streamed answers and job watches are long-lived.
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("API available", "url", fmt.Sprintf("http://localhost:%s/", cfg.ServerPort))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			logger.Error("server error", "error", err)
		}
	}

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	if err := a.Close(shutdownCtx); err != nil {
		logger.Error("failed to stop services", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
