// Package tools provides MCP tool handlers and registration.
package tools

import (
	"context"
	"log/slog"

	"github.com/parley-dev/parley/internal/compact"
	"github.com/parley-dev/parley/internal/models"
)

// ConversationStore is the read/compact surface the tools need from
// persistence.
type ConversationStore interface {
	ListConversations(ctx context.Context) ([]models.Conversation, error)
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)
	LoadMessages(ctx context.Context, conversationID string) ([]models.Message, error)
	SearchMessages(ctx context.Context, term string, limit int) ([]models.Message, error)
}

// Compactor runs the compaction saga over a loaded timeline.
type Compactor interface {
	Run(ctx context.Context, conversationID string, msgs []models.Message) (*compact.Result, error)
}

// Dependencies holds shared services for tool handlers.
// Passed to handler factories via closure capture.
type Dependencies struct {
	Store     ConversationStore
	Compactor Compactor
	Logger    *slog.Logger
}
