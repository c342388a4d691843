package tools

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/raphaelgruber/mmrag/internal/models"
	"github.com/raphaelgruber/mmrag/internal/service"
)

// maxToolResults caps search and query result counts.
const maxToolResults = models.MaxQueryResults

// SearchInput defines the input schema for the search tool.
type SearchInput struct {
	Query    string   `json:"query" jsonschema:"required,The search query text"`
	JobIDs   []string `json:"jobIds,omitempty" jsonschema:"Restrict to chunks of these jobs"`
	Modality string   `json:"modality,omitempty" jsonschema:"One of video, audio, document, image"`
	CourseID string   `json:"courseId,omitempty" jsonschema:"Course filter"`
	Tags     []string `json:"tags,omitempty" jsonschema:"Chunks must carry all tags"`
	Limit    int      `json:"limit,omitempty" jsonschema:"Max results 1-20, default 5"`
}

// SearchResult is the search tool response.
type SearchResult struct {
	Chunks []models.RetrievedChunk `json:"chunks"`
	Count  int                     `json:"count"`
}

// filters builds query filters from the optional tool arguments.
func filters(modality, courseID string, tags []string) (*models.QueryFilters, *mcp.CallToolResult) {
	if modality == "" && courseID == "" && len(tags) == 0 {
		return nil, nil
	}
	m := models.Modality(modality)
	if modality != "" && !m.Valid() {
		return nil, ErrorResult("Unknown modality "+modality, "Use video, audio, document or image")
	}
	return &models.QueryFilters{Modality: m, CourseID: courseID, Tags: tags}, nil
}

// NewSearchHandler creates the search tool handler.
// Returns the stored chunks most similar to the query without generating an answer.
func NewSearchHandler(deps *Dependencies) mcp.ToolHandlerFor[SearchInput, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input SearchInput) (
		*mcp.CallToolResult, any, error,
	) {
		if models.IsBlank(input.Query) {
			return ErrorResult("Query cannot be empty", "Provide a search query"), nil, nil
		}
		if input.Limit < 0 || input.Limit > maxToolResults {
			return ErrorResult("Limit must be 1-20", "Reduce limit value"), nil, nil
		}
		f, errResult := filters(input.Modality, input.CourseID, input.Tags)
		if errResult != nil {
			return errResult, nil, nil
		}

		chunks := deps.Retrieval.Search(ctx, input.Query, service.SearchOptions{
			MaxResults: input.Limit,
			Filters:    f,
			JobIDs:     input.JobIDs,
		})

		queryLog := input.Query
		if len(queryLog) > 30 {
			queryLog = queryLog[:30] + "..."
		}
		deps.Logger.Info("search completed", "query", queryLog, "results", len(chunks))

		return JSONResult(SearchResult{Chunks: chunks, Count: len(chunks)}), nil, nil
	}
}
