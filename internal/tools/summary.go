package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// SummaryInput selects a summary and its format.
type SummaryInput struct {
	JobID  string `json:"jobId" jsonschema:"required,The job id"`
	Format string `json:"format,omitempty" jsonschema:"full (default) or executive"`
}

// SuggestInput optionally scopes suggestions to a job.
type SuggestInput struct {
	JobID string `json:"jobId,omitempty" jsonschema:"Job whose summary inspires the questions"`
}

// NewSummaryHandler returns the generated summary of a completed job.
func NewSummaryHandler(deps *Dependencies) mcp.ToolHandlerFor[SummaryInput, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input SummaryInput) (*mcp.CallToolResult, any, error) {
		if input.JobID == "" {
			return ErrorResult("jobId is required", ""), nil, nil
		}
		if input.Format != "" && input.Format != "full" && input.Format != "executive" {
			return ErrorResult("format must be full or executive", ""), nil, nil
		}
		sum, err := deps.Service.GetSummary(ctx, input.JobID)
		if err != nil {
			return serviceError(deps, "Summary", err), nil, nil
		}

		var b strings.Builder
		if sum.Title != "" {
			b.WriteString("# " + sum.Title + "\n\n")
		}
		b.WriteString(sum.ExecutiveSummary)
		if len(sum.KeyPoints) > 0 {
			b.WriteString("\n\nKey points:")
			for _, p := range sum.KeyPoints {
				b.WriteString("\n- " + p)
			}
		}
		if input.Format != "executive" {
			if sum.DetailedSummary != "" {
				b.WriteString("\n\n" + sum.DetailedSummary)
			}
			if len(sum.Topics) > 0 {
				b.WriteString("\n\nTopics: " + strings.Join(sum.Topics, ", "))
			}
			for i, e := range sum.Timeline {
				if i == 0 {
					b.WriteString("\n\nTimeline:")
				}
				fmt.Fprintf(&b, "\n- %s %s", e.Timestamp, e.Title)
			}
		}
		return TextResult(b.String()), nil, nil
	}
}

// NewSuggestHandler proposes questions to ask about ingested content.
func NewSuggestHandler(deps *Dependencies) mcp.ToolHandlerFor[SuggestInput, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input SuggestInput) (*mcp.CallToolResult, any, error) {
		questions := deps.Service.SuggestedQuestions(ctx, input.JobID)
		return TextResult(strings.Join(questions, "\n")), nil, nil
	}
}
