package tools

import (
	"context"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/raphaelgruber/mmrag/internal/models"
)

// PingInput defines the input schema for the ping tool.
type PingInput struct {
	Echo string `json:"echo,omitempty" jsonschema:"Text to echo back"`
}

// NewPingHandler creates a ping tool handler with injected dependencies.
// It responds with "pong" or echoes input.
func NewPingHandler(deps *Dependencies) mcp.ToolHandlerFor[PingInput, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input PingInput) (*mcp.CallToolResult, any, error) {
		if deps != nil && deps.Logger != nil {
			deps.Logger.Debug("ping tool called", "echo", input.Echo)
		}
		if input.Echo != "" {
			return TextResult(input.Echo), nil, nil
		}
		return TextResult("pong"), nil, nil
	}
}

// TypesInput is empty; supported_types takes no arguments.
type TypesInput struct{}

// NewSupportedTypesHandler lists the ingestible modalities and their extensions.
func NewSupportedTypesHandler(deps *Dependencies) mcp.ToolHandlerFor[TypesInput, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, _ TypesInput) (*mcp.CallToolResult, any, error) {
		var lines []string
		for _, m := range deps.Service.SupportedTypes() {
			lines = append(lines, string(m)+": "+strings.Join(models.SupportedExtensions[m], ", "))
		}
		return TextResult(strings.Join(lines, "\n")), nil, nil
	}
}
