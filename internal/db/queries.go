package db

import (
	"context"
	"fmt"
	"time"

	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/parley-dev/parley/internal/models"
)

// conversationRow is the stored shape of a conversation.
type conversationRow struct {
	ID              surrealmodels.RecordID `json:"id"`
	WorkspacePath   string                 `json:"workspace_path"`
	Title           *string                `json:"title,omitempty"`
	CompactionCount int                    `json:"compaction_count"`
	Created         time.Time              `json:"created"`
	Updated         time.Time              `json:"updated"`
}

// messageRow is the stored shape of a message.
type messageRow struct {
	ID           surrealmodels.RecordID `json:"id"`
	Conversation surrealmodels.RecordID `json:"conversation"`
	Role         string                 `json:"role"`
	Content      string                 `json:"content"`
	Blocks       []models.ContentBlock  `json:"blocks"`
	Metadata     map[string]any         `json:"metadata,omitempty"`
	Timestamp    time.Time              `json:"timestamp"`
}

func recordIDString(rid surrealmodels.RecordID) string {
	return fmt.Sprintf("%v", rid.ID)
}

func (r conversationRow) toModel() models.Conversation {
	out := models.Conversation{
		ID:              recordIDString(r.ID),
		WorkspacePath:   r.WorkspacePath,
		CompactionCount: r.CompactionCount,
		CreatedAt:       r.Created,
		UpdatedAt:       r.Updated,
	}
	if r.Title != nil {
		out.Title = *r.Title
	}
	return out
}

func (r messageRow) toModel() models.Message {
	return models.Message{
		ID:             recordIDString(r.ID),
		ConversationID: recordIDString(r.Conversation),
		Role:           r.Role,
		Content:        r.Content,
		Blocks:         r.Blocks,
		Metadata:       r.Metadata,
		Timestamp:      r.Timestamp,
	}
}

// first unwraps the leading result set of a query response.
func first[T any](results *[]surrealdb.QueryResult[[]T]) []T {
	if results == nil || len(*results) == 0 {
		return nil
	}
	return (*results)[0].Result
}

// QueryEnsureConversation returns the workspace's conversation, creating it
// on first mount. A concurrent create racing on the unique workspace index
// resolves by re-selecting.
func (c *Client) QueryEnsureConversation(ctx context.Context, workspacePath string) (models.Conversation, error) {
	conv, err := c.QueryConversationByWorkspace(ctx, workspacePath)
	if err != nil {
		return models.Conversation{}, err
	}
	if conv != nil {
		return *conv, nil
	}

	results, err := surrealdb.Query[[]conversationRow](ctx, c.db, `
		CREATE conversation SET workspace_path = $path RETURN AFTER
	`, map[string]any{"path": workspacePath})
	if err != nil {
		// Lost a create race on the unique workspace index.
		conv, selErr := c.QueryConversationByWorkspace(ctx, workspacePath)
		if selErr == nil && conv != nil {
			return *conv, nil
		}
		return models.Conversation{}, fmt.Errorf("create conversation: %w", wrapQueryError(err))
	}

	rows := first(results)
	if len(rows) == 0 {
		return models.Conversation{}, fmt.Errorf("create conversation: empty result")
	}
	return rows[0].toModel(), nil
}

// QueryConversationByWorkspace finds a conversation by workspace path.
// Returns nil when none exists.
func (c *Client) QueryConversationByWorkspace(ctx context.Context, workspacePath string) (*models.Conversation, error) {
	results, err := surrealdb.Query[[]conversationRow](ctx, c.db, `
		SELECT * FROM conversation WHERE workspace_path = $path LIMIT 1
	`, map[string]any{"path": workspacePath})
	if err != nil {
		return nil, fmt.Errorf("conversation by workspace: %w", wrapQueryError(err))
	}

	rows := first(results)
	if len(rows) == 0 {
		return nil, nil
	}
	conv := rows[0].toModel()
	return &conv, nil
}

// QueryGetConversation retrieves a conversation by id.
func (c *Client) QueryGetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	results, err := surrealdb.Query[[]conversationRow](ctx, c.db, `
		SELECT * FROM type::record("conversation", $id)
	`, map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", wrapQueryError(err))
	}

	rows := first(results)
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: conversation %s", ErrNotFound, id)
	}
	conv := rows[0].toModel()
	return &conv, nil
}

// QueryListConversations returns all conversations, most recently updated
// first.
func (c *Client) QueryListConversations(ctx context.Context) ([]models.Conversation, error) {
	results, err := surrealdb.Query[[]conversationRow](ctx, c.db, `
		SELECT * FROM conversation ORDER BY updated DESC
	`, nil)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", wrapQueryError(err))
	}

	rows := first(results)
	out := make([]models.Conversation, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

// QuerySetConversationTitle updates a conversation's title.
func (c *Client) QuerySetConversationTitle(ctx context.Context, id, title string) error {
	_, err := surrealdb.Query[any](ctx, c.db, `
		UPDATE type::record("conversation", $id) SET title = $title, updated = time::now()
	`, map[string]any{"id": id, "title": title})
	if err != nil {
		return fmt.Errorf("set conversation title: %w", wrapQueryError(err))
	}
	return nil
}

// QueryTouchConversation bumps a conversation's updated marker, and its
// compaction counter when a compaction artifact was written.
func (c *Client) QueryTouchConversation(ctx context.Context, id string, bumpCompaction bool) error {
	sql := `UPDATE type::record("conversation", $id) SET updated = time::now()`
	if bumpCompaction {
		sql += `, compaction_count += 1`
	}
	if _, err := surrealdb.Query[any](ctx, c.db, sql, map[string]any{"id": id}); err != nil {
		return fmt.Errorf("touch conversation: %w", wrapQueryError(err))
	}
	return nil
}

// QueryUpsertMessage writes a message. Upsert because the append-then-patch
// lifecycle saves the same id more than once (optimistic save, then the
// finalized form).
func (c *Client) QueryUpsertMessage(ctx context.Context, msg models.Message, blocks []models.ContentBlock) error {
	if blocks == nil {
		blocks = []models.ContentBlock{}
	}
	ts := msg.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	_, err := surrealdb.Query[any](ctx, c.db, `
		UPSERT type::record("message", $id) SET
			conversation = type::record("conversation", $conversation),
			role = $role,
			content = $content,
			blocks = $blocks,
			metadata = $metadata,
			timestamp = $timestamp
	`, map[string]any{
		"id":           msg.ID,
		"conversation": msg.ConversationID,
		"role":         msg.Role,
		"content":      msg.Content,
		"blocks":       blocks,
		"metadata":     msg.Metadata,
		"timestamp":    ts,
	})
	if err != nil {
		return fmt.Errorf("upsert message: %w", wrapQueryError(err))
	}
	return nil
}

// QueryLoadMessages returns a conversation's messages in timeline order.
func (c *Client) QueryLoadMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	results, err := surrealdb.Query[[]messageRow](ctx, c.db, `
		SELECT * FROM message
		WHERE conversation = type::record("conversation", $conversation)
		ORDER BY timestamp ASC
	`, map[string]any{"conversation": conversationID})
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", wrapQueryError(err))
	}

	rows := first(results)
	out := make([]models.Message, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

// QueryDeleteMessages removes the given message ids from a conversation.
func (c *Client) QueryDeleteMessages(ctx context.Context, conversationID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := surrealdb.Query[any](ctx, c.db, `
		DELETE message
		WHERE conversation = type::record("conversation", $conversation)
		AND record::id(id) IN $ids
	`, map[string]any{"conversation": conversationID, "ids": ids})
	if err != nil {
		return fmt.Errorf("delete messages: %w", wrapQueryError(err))
	}
	return nil
}

// QuerySearchMessages runs a BM25 full-text search over message content
// across all conversations.
func (c *Client) QuerySearchMessages(ctx context.Context, term string, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = 20
	}
	results, err := surrealdb.Query[[]messageRow](ctx, c.db, `
		SELECT * FROM message WHERE content @0@ $q LIMIT $limit
	`, map[string]any{"q": term, "limit": limit})
	if err != nil {
		return nil, fmt.Errorf("search messages: %w", wrapQueryError(err))
	}

	rows := first(results)
	out := make([]models.Message, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}
