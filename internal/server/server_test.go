package server_test

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/raphaelgruber/mmrag/internal/server"
	"github.com/raphaelgruber/mmrag/internal/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testLogger creates a logger that writes to stderr for test visibility.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func connect(t *testing.T, srv *server.Server) (context.Context, *mcp.ClientSession) {
	t.Helper()
	serverTransport, clientTransport := mcp.NewInMemoryTransports()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	go func() {
		_ = srv.MCPServer().Run(ctx, serverTransport)
	}()

	client := mcp.NewClient(&mcp.Implementation{
		Name:    "test-client",
		Version: "1.0.0",
	}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err, "client should connect successfully")
	t.Cleanup(func() { _ = session.Close() })
	return ctx, session
}

func TestServerCreation(t *testing.T) {
	srv := server.New("test-version", nil, testLogger())
	require.NotNil(t, srv)
	require.NotNil(t, srv.MCPServer())
}

func TestServerWithInMemoryTransport(t *testing.T) {
	srv := server.New("0.1.0-test", nil, testLogger())
	ctx, session := connect(t, srv)

	initResult := session.InitializeResult()
	require.NotNil(t, initResult, "initialize result should not be nil")
	assert.Equal(t, "mmrag", initResult.ServerInfo.Name)
	assert.Equal(t, "0.1.0-test", initResult.ServerInfo.Version)
	assert.Contains(t, initResult.Instructions, "job_status")

	toolsResult, err := session.ListTools(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, toolsResult.Tools, "should have no tools without dependencies")
}

func TestServerRegistersTools(t *testing.T) {
	srv := server.New("0.1.0-test", &tools.Dependencies{}, testLogger())
	ctx, session := connect(t, srv)

	for i := 0; i < 3; i++ {
		res, err := session.ListTools(ctx, nil)
		require.NoError(t, err, "request %d should succeed", i)
		assert.NotEmpty(t, res.Tools)
	}

	res, err := session.CallTool(ctx, &mcp.CallToolParams{Name: "ping", Arguments: map[string]any{"echo": "hi"}})
	require.NoError(t, err)
	assert.Equal(t, "hi", res.Content[0].(*mcp.TextContent).Text)
}
