package tools

import (
	"encoding/json"
	"errors"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/raphaelgruber/mmrag/internal/models"
	"github.com/raphaelgruber/mmrag/internal/service"
)

// ErrorResult creates a tool error result with optional recovery hint.
// If hint is non-empty, formats as "{msg}. {hint}".
// Returns IsError=true so LLM can see the error and self-correct.
func ErrorResult(msg, hint string) *mcp.CallToolResult {
	text := msg
	if hint != "" {
		text = msg + ". " + hint
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
		IsError: true,
	}
}

// TextResult creates a success result with text content.
func TextResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
	}
}

// JSONResult renders v as indented JSON text.
func JSONResult(v any) *mcp.CallToolResult {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return ErrorResult("Failed to encode result", "")
	}
	return TextResult(string(b))
}

// serviceError turns a service failure into a tool error the model can act on.
func serviceError(deps *Dependencies, op string, err error) *mcp.CallToolResult {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return ErrorResult("Job not found", "Use list_jobs to see known job ids")
	case errors.Is(err, service.ErrJobNotCompleted):
		return ErrorResult("Job has not completed yet", "Check progress with job_status and retry later")
	case errors.Is(err, service.ErrInvalidRequest):
		return ErrorResult(err.Error(), "")
	}
	deps.Logger.Error(op+" failed", "error", err)
	return ErrorResult(op+" failed", "The service may be unavailable")
}
