package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/raphaelgruber/mmrag/internal/models"
	"github.com/raphaelgruber/mmrag/internal/service"
)

// IngestFileInput queues a local file.
type IngestFileInput struct {
	Path     string   `json:"path" jsonschema:"required,Absolute path of a local file"`
	Title    string   `json:"title,omitempty" jsonschema:"Title of the content"`
	CourseID string   `json:"courseId,omitempty" jsonschema:"Course the content belongs to"`
	Tags     []string `json:"tags,omitempty" jsonschema:"Tags used as search filters"`
}

// IngestURLInput queues a remote file.
type IngestURLInput struct {
	URL      string   `json:"url" jsonschema:"required,http or https URL of the file"`
	Title    string   `json:"title,omitempty" jsonschema:"Title of the content"`
	CourseID string   `json:"courseId,omitempty" jsonschema:"Course the content belongs to"`
	Tags     []string `json:"tags,omitempty" jsonschema:"Tags used as search filters"`
}

func queuedText(resp *service.IngestResponse) string {
	return fmt.Sprintf("Queued job %s (estimated %s). Track it with job_status.", resp.JobID, resp.EstimatedTime)
}

// NewIngestFileHandler queues a file from the local filesystem. The file
// is processed in place and never removed.
func NewIngestFileHandler(deps *Dependencies) mcp.ToolHandlerFor[IngestFileInput, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input IngestFileInput) (*mcp.CallToolResult, any, error) {
		if input.Path == "" || !filepath.IsAbs(input.Path) {
			return ErrorResult("path must be absolute", "Provide the full path to the file"), nil, nil
		}
		info, err := os.Stat(input.Path)
		if err != nil || info.IsDir() {
			return ErrorResult("File not found: "+input.Path, "Check the path"), nil, nil
		}

		meta := models.JobMetadata{Title: input.Title, CourseID: input.CourseID, Tags: input.Tags}
		meta.FileName = filepath.Base(input.Path)
		meta.Size = info.Size()
		if models.DetectFileType(models.MimeTypeFor(meta.FileName), meta.FileName) == models.FileTypeUnknown {
			return ErrorResult("Unsupported file type: "+meta.FileName, "Use supported_types to see accepted extensions"), nil, nil
		}

		resp, err := deps.Service.QueueForIngestion(ctx, service.Upload{Path: input.Path, Metadata: meta})
		if err != nil {
			return serviceError(deps, "Ingest", err), nil, nil
		}
		deps.Logger.Info("file queued", "job_id", resp.JobID, "file", meta.FileName)
		return TextResult(queuedText(resp)), nil, nil
	}
}

// NewIngestURLHandler queues a file that the worker downloads first.
func NewIngestURLHandler(deps *Dependencies) mcp.ToolHandlerFor[IngestURLInput, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input IngestURLInput) (*mcp.CallToolResult, any, error) {
		if !strings.HasPrefix(input.URL, "http://") && !strings.HasPrefix(input.URL, "https://") {
			return ErrorResult("url must start with http:// or https://", ""), nil, nil
		}
		resp, err := deps.Service.QueueURLForIngestion(ctx, input.URL,
			models.JobMetadata{Title: input.Title, CourseID: input.CourseID, Tags: input.Tags})
		if err != nil {
			return serviceError(deps, "Ingest", err), nil, nil
		}
		deps.Logger.Info("url queued", "job_id", resp.JobID, "url", input.URL)
		return TextResult(queuedText(resp)), nil, nil
	}
}
