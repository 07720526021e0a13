// Package timeline provides the in-memory message store and the render
// window estimator for a single conversation.
package timeline

import (
	"errors"
	"fmt"

	"github.com/parley-dev/parley/internal/models"
)

// Sentinel errors for store operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrDuplicateID indicates an append with an id already present.
	ErrDuplicateID = errors.New("duplicate message id")

	// ErrNotFound indicates the requested message does not exist.
	ErrNotFound = errors.New("message not found")
)

// Update is a partial message update applied by Patch. Nil/zero fields are
// left untouched; Meta entries are merged key by key.
type Update struct {
	Content       *string
	AppendContent string
	Blocks        []models.ContentBlock
	Meta          map[string]any
}

// Store is the ordered message collection for one conversation and the
// single source of truth for rendering. It is owned by the session engine's
// event loop; single-owner access makes internal locking unnecessary.
type Store struct {
	msgs  []models.Message
	index map[string]int
}

// New creates an empty store.
func New() *Store {
	return &Store{index: make(map[string]int)}
}

// Len returns the number of messages.
func (s *Store) Len() int {
	return len(s.msgs)
}

// Append adds a message at the end of the timeline.
func (s *Store) Append(msg models.Message) error {
	if _, ok := s.index[msg.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateID, msg.ID)
	}
	s.index[msg.ID] = len(s.msgs)
	s.msgs = append(s.msgs, msg)
	return nil
}

// Patch merges a partial update into an existing message. Used to attach
// parsed content blocks and to finalize streamed content after asynchronous
// post-processing.
func (s *Store) Patch(id string, upd Update) error {
	i, ok := s.index[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	m := &s.msgs[i]
	if upd.Content != nil {
		m.Content = *upd.Content
	}
	if upd.AppendContent != "" {
		m.Content += upd.AppendContent
	}
	if upd.Blocks != nil {
		m.Blocks = upd.Blocks
	}
	for k, v := range upd.Meta {
		m.SetMeta(k, v)
	}
	return nil
}

// Remove bulk-deletes messages by id, preserving the order of the rest.
// Unknown ids are ignored. Returns the number actually removed. Used only
// by compaction.
func (s *Store) Remove(ids []string) int {
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		if _, ok := s.index[id]; ok {
			drop[id] = true
		}
	}
	if len(drop) == 0 {
		return 0
	}

	kept := s.msgs[:0]
	for _, m := range s.msgs {
		if !drop[m.ID] {
			kept = append(kept, m)
		}
	}
	s.msgs = kept
	s.reindex()
	return len(drop)
}

// Replace swaps the entire timeline, validating id uniqueness. Used when
// loading a conversation and when compaction installs the kept set.
func (s *Store) Replace(msgs []models.Message) error {
	index := make(map[string]int, len(msgs))
	for i, m := range msgs {
		if _, ok := index[m.ID]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateID, m.ID)
		}
		index[m.ID] = i
	}
	s.msgs = append([]models.Message(nil), msgs...)
	s.index = index
	return nil
}

// Get returns a copy of the message with the given id.
func (s *Store) Get(id string) (models.Message, bool) {
	i, ok := s.index[id]
	if !ok {
		return models.Message{}, false
	}
	return s.msgs[i].Clone(), true
}

// Snapshot returns a defensive copy of the ordered timeline so renderers
// cannot corrupt store state.
func (s *Store) Snapshot() []models.Message {
	out := make([]models.Message, len(s.msgs))
	for i, m := range s.msgs {
		out[i] = m.Clone()
	}
	return out
}

func (s *Store) reindex() {
	s.index = make(map[string]int, len(s.msgs))
	for i, m := range s.msgs {
		s.index[m.ID] = i
	}
}
