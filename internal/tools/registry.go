package tools

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// RegisterAll registers all tools with the MCP server.
// This is called from main after server creation but before Run().
func RegisterAll(server *mcp.Server, deps *Dependencies) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "ping",
		Description: "Test tool - responds with pong or echoes input",
	}, NewPingHandler(deps))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "supported_types",
		Description: "List the content types and file extensions that can be ingested",
	}, NewSupportedTypesHandler(deps))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "ingest_file",
		Description: "Queue a local video, audio, document or image file for ingestion",
	}, NewIngestFileHandler(deps))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "ingest_url",
		Description: "Queue a remote file for download and ingestion",
	}, NewIngestURLHandler(deps))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "job_status",
		Description: "Get the status, progress and current step of an ingestion job",
	}, NewJobStatusHandler(deps))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "job_logs",
		Description: "Read the processing log of an ingestion job",
	}, NewJobLogsHandler(deps))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_jobs",
		Description: "List recent ingestion jobs, newest first",
	}, NewListJobsHandler(deps))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "delete_job",
		Description: "Delete a job together with its indexed chunks and summary",
	}, NewDeleteJobHandler(deps))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "search",
		Description: "Search ingested content and return the most similar chunks",
	}, NewSearchHandler(deps))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "query",
		Description: "Answer a question from ingested content with cited sources",
	}, NewQueryHandler(deps))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "summary",
		Description: "Get the generated summary of a completed job",
	}, NewSummaryHandler(deps))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "suggest_questions",
		Description: "Suggest questions to ask about ingested content",
	}, NewSuggestHandler(deps))
}
