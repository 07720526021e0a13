package tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/parley-dev/parley/internal/compact"
)

// CompactInput defines the input schema for compact_conversation.
type CompactInput struct {
	ConversationID string `json:"conversation_id" jsonschema:"required,The conversation to compact"`
}

// NewCompactConversationHandler creates the compact_conversation tool
// handler. It loads the stored timeline and runs the summarize-and-replace
// saga against it.
func NewCompactConversationHandler(deps *Dependencies) mcp.ToolHandlerFor[CompactInput, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input CompactInput) (
		*mcp.CallToolResult, any, error,
	) {
		if input.ConversationID == "" {
			return ErrorResult("conversation_id cannot be empty", "Use list_conversations to find ids"), nil, nil
		}
		if deps.Compactor == nil {
			return ErrorResult("Compaction is not configured", "Set up a summarization provider"), nil, nil
		}

		msgs, err := deps.Store.LoadMessages(ctx, input.ConversationID)
		if err != nil {
			deps.Logger.Error("load messages failed", "id", input.ConversationID, "error", err)
			return ErrorResult("Failed to load conversation", "Database may be unavailable"), nil, nil
		}

		res, err := deps.Compactor.Run(ctx, input.ConversationID, msgs)
		if err != nil {
			if errors.Is(err, compact.ErrTooFewMessages) {
				return ErrorResult("Conversation too short to compact", err.Error()), nil, nil
			}
			deps.Logger.Error("compaction failed", "id", input.ConversationID, "error", err)
			return ErrorResult("Compaction failed", "The stored timeline was left unchanged"), nil, nil
		}

		deps.Logger.Info("compaction complete",
			"id", input.ConversationID, "kept", len(res.Kept), "deleted", len(res.DeletedIDs))
		return TextResult(fmt.Sprintf(
			"Compacted %d messages to %d (%.1f%% token savings). Summary id: %s",
			len(msgs), len(res.Kept), res.SavingsPercent, res.Summary.ID,
		)), nil, nil
	}
}
