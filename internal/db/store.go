package db

import (
	"context"
	"log/slog"
	"time"

	"github.com/parley-dev/parley/internal/blocks"
	"github.com/parley-dev/parley/internal/metrics"
	"github.com/parley-dev/parley/internal/models"
)

// Store adapts the SurrealDB client to the session engine's persistence
// contract: it derives content blocks on save and keeps the conversation's
// updated marker current. It also serves the read-side queries the MCP
// surface and CLI use.
type Store struct {
	client  *Client
	logger  *slog.Logger
	metrics *metrics.Collector
}

// NewStore wraps a connected client.
func NewStore(client *Client, logger *slog.Logger, collector *metrics.Collector) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{client: client, logger: logger, metrics: collector}
}

// EnsureConversation returns the workspace's conversation, creating it on
// first mount.
func (s *Store) EnsureConversation(ctx context.Context, workspacePath string) (models.Conversation, error) {
	return s.client.QueryEnsureConversation(ctx, workspacePath)
}

// LoadMessages returns a conversation's timeline in order.
func (s *Store) LoadMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	start := time.Now()
	msgs, err := s.client.QueryLoadMessages(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.RecordTiming(metrics.OpDBLoad, time.Since(start))
	}
	return msgs, nil
}

// SaveMessage derives the message's content blocks, writes it and returns
// the blocks so the caller can patch its in-memory copy. Saving a compaction
// artifact bumps the conversation's compaction counter.
func (s *Store) SaveMessage(ctx context.Context, msg models.Message) ([]models.ContentBlock, error) {
	start := time.Now()
	derived := blocks.Split(msg.Content)

	if err := s.client.QueryUpsertMessage(ctx, msg, derived); err != nil {
		return nil, err
	}
	if err := s.client.QueryTouchConversation(ctx, msg.ConversationID, msg.IsCompactionArtifact()); err != nil {
		s.logger.Warn("conversation touch failed", "conversation_id", msg.ConversationID, "error", err)
	}
	if s.metrics != nil {
		s.metrics.RecordTiming(metrics.OpDBSave, time.Since(start))
	}
	return derived, nil
}

// DeleteMessages removes message ids from a conversation.
func (s *Store) DeleteMessages(ctx context.Context, conversationID string, ids []string) error {
	return s.client.QueryDeleteMessages(ctx, conversationID, ids)
}

// ListConversations returns all conversations, most recently updated first.
func (s *Store) ListConversations(ctx context.Context) ([]models.Conversation, error) {
	return s.client.QueryListConversations(ctx)
}

// GetConversation retrieves a conversation by id.
func (s *Store) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	return s.client.QueryGetConversation(ctx, id)
}

// SetConversationTitle updates a conversation's title.
func (s *Store) SetConversationTitle(ctx context.Context, id, title string) error {
	return s.client.QuerySetConversationTitle(ctx, id, title)
}

// SearchMessages runs a full-text search over message content.
func (s *Store) SearchMessages(ctx context.Context, term string, limit int) ([]models.Message, error) {
	start := time.Now()
	msgs, err := s.client.QuerySearchMessages(ctx, term, limit)
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.RecordTiming(metrics.OpDBSearch, time.Since(start))
	}
	return msgs, nil
}
