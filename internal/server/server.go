// Package server provides the MCP server wrapper with lifecycle management.
package server

import (
	"context"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/raphaelgruber/mmrag/internal/tools"
)

// Name is the implementation name reported to MCP clients.
const Name = "mmrag"

// Server wraps the MCP server with dependencies and lifecycle management.
type Server struct {
	mcp    *mcp.Server
	logger *slog.Logger
}

// New creates an MCP server exposing the ingestion and query tools.
// A nil deps creates a server without tools.
func New(version string, deps *tools.Dependencies, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	impl := &mcp.Implementation{
		Name:    Name,
		Version: version,
	}

	mcpServer := mcp.NewServer(impl, &mcp.ServerOptions{
		Instructions: "Ingest videos, audio, documents and images, then ask questions about them. " +
			"Ingestion is asynchronous: poll job_status until the job completes before querying.",
	})
	if deps != nil {
		if deps.Logger == nil {
			deps.Logger = logger
		}
		tools.RegisterAll(mcpServer, deps)
	}

	s := &Server{
		mcp:    mcpServer,
		logger: logger.With("component", "mcp"),
	}
	s.mcp.AddReceivingMiddleware(LoggingMiddleware(s.logger))
	return s
}

// Run starts the server on stdio transport and blocks until disconnect or context cancellation.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting MCP server", "transport", "stdio")
	return s.mcp.Run(ctx, &mcp.StdioTransport{})
}

// MCPServer returns the underlying MCP server.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}
