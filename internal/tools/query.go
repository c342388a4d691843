package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/raphaelgruber/mmrag/internal/models"
)

// QueryInput defines the input schema for the query tool.
type QueryInput struct {
	Question      string   `json:"question" jsonschema:"required,The question to answer from ingested content"`
	JobIDs        []string `json:"jobIds,omitempty" jsonschema:"Restrict retrieval to these jobs"`
	Modality      string   `json:"modality,omitempty" jsonschema:"One of video, audio, document, image"`
	CourseID      string   `json:"courseId,omitempty" jsonschema:"Course filter"`
	Tags          []string `json:"tags,omitempty" jsonschema:"Chunks must carry all tags"`
	MaxResults    int      `json:"maxResults,omitempty" jsonschema:"Chunks to retrieve 1-20, default 5"`
	PromptVersion string   `json:"promptVersion,omitempty" jsonschema:"QA prompt version: v1 general, v2 educational, v3 technical"`
}

// NewQueryHandler answers a question with retrieval-augmented generation.
func NewQueryHandler(deps *Dependencies) mcp.ToolHandlerFor[QueryInput, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input QueryInput) (
		*mcp.CallToolResult, any, error,
	) {
		if models.IsBlank(input.Question) {
			return ErrorResult("Question cannot be empty", "Provide a question"), nil, nil
		}
		f, errResult := filters(input.Modality, input.CourseID, input.Tags)
		if errResult != nil {
			return errResult, nil, nil
		}

		q := models.QueryRequest{
			Question: input.Question,
			JobIDs:   input.JobIDs,
			Filters:  f,
			Options: &models.QueryOptions{
				MaxResults:    input.MaxResults,
				PromptVersion: input.PromptVersion,
			},
		}
		if err := q.Validate(); err != nil {
			return ErrorResult(err.Error(), "Shorten the question or reduce maxResults"), nil, nil
		}

		res, err := deps.Service.Query(ctx, q)
		if err != nil {
			return serviceError(deps, "Query", err), nil, nil
		}

		deps.Logger.Info("query completed", "sources", len(res.Sources), "confidence", res.Confidence)
		return TextResult(formatAnswer(res)), nil, nil
	}
}

// formatAnswer renders the answer followed by its sources.
func formatAnswer(res *models.QueryResult) string {
	var b strings.Builder
	b.WriteString(res.Answer)
	fmt.Fprintf(&b, "\n\nConfidence: %.0f%%", res.Confidence)
	if len(res.Sources) == 0 {
		return b.String()
	}
	b.WriteString("\nSources:")
	for _, s := range res.Sources {
		fmt.Fprintf(&b, "\n- %s (%s, score %.2f)", s.ChunkID, s.Modality, s.Score)
		if s.Source.Timestamp != "" {
			b.WriteString(" at " + s.Source.Timestamp)
		}
		if s.Source.Page > 0 {
			fmt.Fprintf(&b, " page %d", s.Source.Page)
		}
	}
	return b.String()
}
