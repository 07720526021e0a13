// Package models defines data structures for conversations and messages.
package models

import "time"

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Metadata keys attached to messages. Values beyond these are opaque to the
// session engine and carried through persistence untouched.
const (
	// MetaSteps holds the frozen []ReasoningStep of a finalized exchange.
	MetaSteps = "steps"
	// MetaDurationMS holds the exchange wall-clock duration in milliseconds.
	MetaDurationMS = "duration_ms"
	// MetaImportant marks a message as exempt from compaction eviction.
	MetaImportant = "important"
	// MetaCompaction marks a synthetic summary message and holds its stats.
	MetaCompaction = "compaction"
	// MetaCancelled marks an assistant message produced by a cancelled exchange.
	MetaCancelled = "cancelled"
	// MetaError marks a synthetic assistant message carrying an agent error.
	MetaError = "error"
	// MetaAttachments holds attachment descriptors of an outbound user message.
	MetaAttachments = "attachments"
)

// ContentBlock kinds produced by the persistence layer's block derivation.
const (
	BlockParagraph = "paragraph"
	BlockCode      = "code"
	BlockHeading   = "heading"
	BlockTable     = "table"
)

// ContentBlock is a renderable segment of a message. The session engine
// treats blocks as opaque; only the renderer interprets them.
type ContentBlock struct {
	Kind     string `json:"kind"`
	Text     string `json:"text"`
	Language string `json:"language,omitempty"`
}

// Message is a single entry in a conversation timeline. Streamed assistant
// messages follow an append-then-patch lifecycle: created on the first chunk,
// mutated in place until the exchange finalizes.
type Message struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id"`
	Role           string         `json:"role"`
	Content        string         `json:"content"`
	Blocks         []ContentBlock `json:"blocks,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
}

// ReasoningStep is one unit of in-flight assistant progress. Steps are
// buffered per exchange and frozen onto the assistant message at finalize;
// after freezing they are immutable history.
type ReasoningStep struct {
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// CompactionStats records what a synthetic summary message replaced.
type CompactionStats struct {
	OriginalCount   int `json:"original_count"`
	SummarizedCount int `json:"summarized_count"`
	TokensBefore    int `json:"tokens_before"`
	TokensAfter     int `json:"tokens_after"`
}

// Clone returns a deep-enough copy: the blocks slice and metadata map are
// copied so callers cannot mutate store-owned state through a snapshot.
// Metadata values are treated as immutable once set.
func (m Message) Clone() Message {
	out := m
	if m.Blocks != nil {
		out.Blocks = make([]ContentBlock, len(m.Blocks))
		copy(out.Blocks, m.Blocks)
	}
	if m.Metadata != nil {
		out.Metadata = make(map[string]any, len(m.Metadata))
		for k, v := range m.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

// Important reports whether the message is flagged important by upstream
// metadata and must survive compaction.
func (m Message) Important() bool {
	v, ok := m.Metadata[MetaImportant].(bool)
	return ok && v
}

// IsCompactionArtifact reports whether the message is a synthesized summary.
func (m Message) IsCompactionArtifact() bool {
	_, ok := m.Metadata[MetaCompaction]
	return ok
}

// SetMeta sets a metadata key, allocating the map on first use.
func (m *Message) SetMeta(key string, value any) {
	if m.Metadata == nil {
		m.Metadata = make(map[string]any)
	}
	m.Metadata[key] = value
}
