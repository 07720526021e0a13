package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/parley-dev/parley/internal/models"
)

// ListConversationsInput defines the input schema for list_conversations.
type ListConversationsInput struct {
	Limit int `json:"limit,omitempty" jsonschema:"Max conversations to return, default all"`
}

// conversationSummary is the serialized list entry.
type conversationSummary struct {
	ID              string `json:"id"`
	WorkspacePath   string `json:"workspace_path"`
	Title           string `json:"title,omitempty"`
	CompactionCount int    `json:"compaction_count"`
	Updated         string `json:"updated"`
}

// NewListConversationsHandler creates the list_conversations tool handler.
func NewListConversationsHandler(deps *Dependencies) mcp.ToolHandlerFor[ListConversationsInput, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input ListConversationsInput) (
		*mcp.CallToolResult, any, error,
	) {
		convs, err := deps.Store.ListConversations(ctx)
		if err != nil {
			deps.Logger.Error("list conversations failed", "error", err)
			return ErrorResult("Failed to list conversations", "Database may be unavailable"), nil, nil
		}
		if input.Limit > 0 && len(convs) > input.Limit {
			convs = convs[:input.Limit]
		}

		out := make([]conversationSummary, 0, len(convs))
		for _, c := range convs {
			out = append(out, conversationSummary{
				ID:              c.ID,
				WorkspacePath:   c.WorkspacePath,
				Title:           c.Title,
				CompactionCount: c.CompactionCount,
				Updated:         c.UpdatedAt.Format("2006-01-02 15:04:05"),
			})
		}
		jsonBytes, _ := json.MarshalIndent(out, "", "  ")

		deps.Logger.Info("conversations listed", "count", len(out))
		return TextResult(string(jsonBytes)), nil, nil
	}
}

// GetTranscriptInput defines the input schema for get_transcript.
type GetTranscriptInput struct {
	ConversationID string `json:"conversation_id" jsonschema:"required,The conversation id"`
	IncludeMeta    bool   `json:"include_meta,omitempty" jsonschema:"Include per-message metadata markers"`
}

// NewGetTranscriptHandler creates the get_transcript tool handler.
func NewGetTranscriptHandler(deps *Dependencies) mcp.ToolHandlerFor[GetTranscriptInput, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input GetTranscriptInput) (
		*mcp.CallToolResult, any, error,
	) {
		if input.ConversationID == "" {
			return ErrorResult("conversation_id cannot be empty", "Use list_conversations to find ids"), nil, nil
		}

		conv, err := deps.Store.GetConversation(ctx, input.ConversationID)
		if err != nil {
			deps.Logger.Error("get conversation failed", "id", input.ConversationID, "error", err)
			return ErrorResult("Conversation not found", "Use list_conversations to find ids"), nil, nil
		}

		msgs, err := deps.Store.LoadMessages(ctx, conv.ID)
		if err != nil {
			deps.Logger.Error("load messages failed", "id", conv.ID, "error", err)
			return ErrorResult("Failed to load messages", "Database may be unavailable"), nil, nil
		}

		header := fmt.Sprintf("Conversation %s (%s), %d messages\n\n", conv.ID, conv.WorkspacePath, len(msgs))
		if input.IncludeMeta {
			return TextResult(header + annotatedTranscript(msgs)), nil, nil
		}
		return TextResult(header + models.TranscriptText(msgs)), nil, nil
	}
}

// annotatedTranscript renders the transcript with metadata markers for
// summaries, errors and cancellations.
func annotatedTranscript(msgs []models.Message) string {
	out := ""
	for i, m := range msgs {
		if i > 0 {
			out += "\n\n"
		}
		marker := ""
		switch {
		case m.IsCompactionArtifact():
			marker = " [summary]"
		case m.Metadata[models.MetaError] != nil:
			marker = " [error]"
		case m.Metadata[models.MetaCancelled] == true:
			marker = " [cancelled]"
		case m.Important():
			marker = " [important]"
		}
		out += fmt.Sprintf("%s%s: %s", m.Role, marker, m.Content)
	}
	return out
}
