package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/raphaelgruber/mmrag/internal/service"
)

// JobInput identifies one job.
type JobInput struct {
	JobID string `json:"jobId" jsonschema:"required,The job id returned by an ingest tool"`
}

// JobLogsInput pages through a job log.
type JobLogsInput struct {
	JobID  string `json:"jobId" jsonschema:"required,The job id"`
	Limit  int    `json:"limit,omitempty" jsonschema:"Entries to return, default 100, max 1000"`
	Offset int    `json:"offset,omitempty" jsonschema:"Entries to skip"`
}

// ListJobsInput limits the job listing.
type ListJobsInput struct {
	Limit int `json:"limit,omitempty" jsonschema:"Max jobs, default 20"`
}

// NewJobStatusHandler reports progress and the current step of a job.
func NewJobStatusHandler(deps *Dependencies) mcp.ToolHandlerFor[JobInput, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input JobInput) (*mcp.CallToolResult, any, error) {
		if input.JobID == "" {
			return ErrorResult("jobId is required", ""), nil, nil
		}
		st, err := deps.Service.GetJobStatus(ctx, input.JobID)
		if err != nil {
			return serviceError(deps, "Job status", err), nil, nil
		}
		return JSONResult(st), nil, nil
	}
}

// NewJobLogsHandler returns a page of a job's processing log.
func NewJobLogsHandler(deps *Dependencies) mcp.ToolHandlerFor[JobLogsInput, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input JobLogsInput) (*mcp.CallToolResult, any, error) {
		if input.JobID == "" {
			return ErrorResult("jobId is required", ""), nil, nil
		}
		if input.Limit < 0 || input.Offset < 0 {
			return ErrorResult("limit and offset must not be negative", ""), nil, nil
		}
		limit := input.Limit
		if limit == 0 {
			limit = service.DefaultLogLimit
		}
		logs, total, err := deps.Service.GetJobLogs(ctx, input.JobID, min(limit, service.MaxLogLimit), input.Offset)
		if err != nil {
			return serviceError(deps, "Job logs", err), nil, nil
		}

		lines := make([]string, 0, len(logs)+1)
		lines = append(lines, fmt.Sprintf("%d of %d entries", len(logs), total))
		for _, l := range logs {
			line := fmt.Sprintf("%s [%s]", l.Timestamp.Format("15:04:05"), strings.ToUpper(string(l.Level)))
			if l.Step != "" {
				line += " " + l.Step + ":"
			}
			lines = append(lines, line+" "+l.Message)
		}
		return TextResult(strings.Join(lines, "\n")), nil, nil
	}
}

// NewListJobsHandler lists recent jobs, newest first.
func NewListJobsHandler(deps *Dependencies) mcp.ToolHandlerFor[ListJobsInput, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input ListJobsInput) (*mcp.CallToolResult, any, error) {
		limit := input.Limit
		if limit <= 0 {
			limit = 20
		}
		jobs, err := deps.Service.ListJobs(ctx, limit)
		if err != nil {
			return serviceError(deps, "List jobs", err), nil, nil
		}
		if len(jobs) == 0 {
			return TextResult("No jobs"), nil, nil
		}
		lines := make([]string, len(jobs))
		for i, st := range jobs {
			name, _ := st.Metadata["fileName"].(string)
			if name == "" {
				name, _ = st.Metadata["url"].(string)
			}
			lines[i] = fmt.Sprintf("%s  %-10s %3d%%  %s", st.JobID, st.Status, st.Progress, name)
		}
		return TextResult(strings.Join(lines, "\n")), nil, nil
	}
}

// NewDeleteJobHandler removes a job with its chunks and summary.
func NewDeleteJobHandler(deps *Dependencies) mcp.ToolHandlerFor[JobInput, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input JobInput) (*mcp.CallToolResult, any, error) {
		if input.JobID == "" {
			return ErrorResult("jobId is required", ""), nil, nil
		}
		if err := deps.Service.DeleteJob(ctx, input.JobID); err != nil {
			return serviceError(deps, "Delete job", err), nil, nil
		}
		deps.Logger.Info("job deleted", "job_id", input.JobID)
		return TextResult("Deleted job " + input.JobID), nil, nil
	}
}
