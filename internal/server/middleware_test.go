package server

import (
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
)

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"short", 10, "short"},
		{"exactly-10", 10, "exactly-10"},
		{"this is too long", 10, "this is..."},
		{"abc", 2, "ab"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, truncate(tt.in, tt.max))
	}
}

func TestIsToolError(t *testing.T) {
	assert.True(t, isToolError(&mcp.CallToolResult{IsError: true}))
	assert.False(t, isToolError(&mcp.CallToolResult{}))
	assert.False(t, isToolError(&mcp.ListToolsResult{}))
	assert.False(t, isToolError(nil))
}
