// Package main provides the entry point for the mmrag MCP server.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/raphaelgruber/mmrag/internal/app"
	"github.com/raphaelgruber/mmrag/internal/config"
	"github.com/raphaelgruber/mmrag/internal/server"
	"github.com/raphaelgruber/mmrag/internal/tools"
)

const version = "0.1.0"

func main() {
	_ = config.LoadDotEnv()
	cfg := config.Load()

	// Setup logger (dual output: stderr text + file JSON); stdout carries the protocol.
	logger, cleanup := config.SetupLogger(cfg.LogFile, cfg.LogLevel)
	defer func() { _ = cleanup() }()

	logger.Info("mmrag-mcp starting",
		"version", version,
		"vectors", cfg.VectorBackend,
		"embedding_model", cfg.EmbedModel,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to wire services", "error", err)
		os.Exit(1)
	}
	defer func() {
		logger.Info("stopping services")
		stopCtx, stop := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer stop()
		if err := a.Close(stopCtx); err != nil {
			logger.Error("failed to stop services", "error", err)
		}
	}()

	if err := a.Start(ctx); err != nil {
		logger.Error("failed to start services", "error", err)
		return
	}

	srv := server.New(version, &tools.Dependencies{
		Service:   a.Rag,
		Retrieval: a.Retrieval,
		Logger:    logger,
	}, logger)

	logger.Info("server ready, awaiting connections")

	// Run server (blocks until disconnect or context cancelled)
	if err := srv.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error("server error", "error", err)
		return
	}

	logger.Info("shutdown complete")
}
