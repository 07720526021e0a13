package tools

import (
	"context"
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// SearchInput defines the input schema for search_transcripts.
type SearchInput struct {
	Query string `json:"query" jsonschema:"required,The search query text"`
	Limit int    `json:"limit,omitempty" jsonschema:"Max results 1-100, default 10"`
}

// searchHit is the serialized search result entry.
type searchHit struct {
	MessageID      string `json:"message_id"`
	ConversationID string `json:"conversation_id"`
	Role           string `json:"role"`
	Content        string `json:"content"`
}

// NewSearchTranscriptsHandler creates the search_transcripts tool handler,
// backed by the BM25 full-text index over message content.
func NewSearchTranscriptsHandler(deps *Dependencies) mcp.ToolHandlerFor[SearchInput, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input SearchInput) (
		*mcp.CallToolResult, any, error,
	) {
		if input.Query == "" {
			return ErrorResult("Query cannot be empty", "Provide a search query"), nil, nil
		}
		limit := input.Limit
		if limit <= 0 {
			limit = 10
		}
		if limit > 100 {
			return ErrorResult("Limit must be 1-100", "Reduce limit value"), nil, nil
		}

		msgs, err := deps.Store.SearchMessages(ctx, input.Query, limit)
		if err != nil {
			deps.Logger.Error("search failed", "error", err)
			return ErrorResult("Search failed", "Database may be unavailable"), nil, nil
		}

		hits := make([]searchHit, 0, len(msgs))
		for _, m := range msgs {
			hits = append(hits, searchHit{
				MessageID:      m.ID,
				ConversationID: m.ConversationID,
				Role:           m.Role,
				Content:        m.Content,
			})
		}
		jsonBytes, _ := json.MarshalIndent(hits, "", "  ")

		queryLog := input.Query
		if len(queryLog) > 30 {
			queryLog = queryLog[:30] + "..."
		}
		deps.Logger.Info("search completed", "query", queryLog, "results", len(hits))

		return TextResult(string(jsonBytes)), nil, nil
	}
}
