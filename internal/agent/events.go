// Package agent provides the websocket client for the external AI execution
// process and the typed event stream it produces.
package agent

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/parley-dev/parley/internal/models"
)

// EventType identifies an inbound event from the agent process.
type EventType string

// Inbound event kinds. Events for one session are delivered in the order
// produced; no ordering is guaranteed across sessions.
const (
	EventChunk      EventType = "chunk"
	EventStep       EventType = "step"
	EventFileEdited EventType = "file_edited"
	EventFinalize   EventType = "finalize"
	EventError      EventType = "error"
	EventCancelled  EventType = "cancelled"
)

// Event is one decoded frame from the agent's event channel. Every event is
// tagged with the session id that produced it; consumers must discard events
// whose session id no longer matches the active session.
type Event struct {
	Type      EventType
	SessionID string

	// Text carries streamed content for chunk events.
	Text string

	// Step carries in-flight progress for step events.
	Step models.ReasoningStep

	// Path carries the edited file path for file_edited events.
	Path string

	// Err carries the failure description for error events.
	Err string

	// ContextUsed is the agent-reported context-usage ratio (0..1) on
	// finalize events; drives automatic compaction.
	ContextUsed float64

	// Metadata carries additional finalize payload, opaque to the engine.
	Metadata map[string]any
}

// Wire protocol frame types.
const (
	frameHello      = "hello"
	frameReady      = "ready"
	framePrompt     = "prompt"
	frameCancel     = "cancel"
	frameChunk      = "chunk"
	frameStep       = "step"
	frameFileEdited = "file_edited"
	frameFinalize   = "finalize"
	frameError      = "error"
	frameCancelled  = "cancelled"
)

// frame is the JSON envelope exchanged over the websocket.
type frame struct {
	Type      string          `json:"type"`
	SessionID string          `json:"session_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type promptPayload struct {
	Text        string   `json:"text"`
	Attachments []string `json:"attachments,omitempty"`
}

type chunkPayload struct {
	Text string `json:"text"`
}

type stepPayload struct {
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

type filePayload struct {
	Path string `json:"path"`
}

type finalizePayload struct {
	ContextUsed float64        `json:"context_used"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

type errorPayload struct {
	Message string `json:"message"`
}

func marshalPayload(v any) (json.RawMessage, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return b, nil
}

// decodeEvent converts a wire frame into a typed Event.
func decodeEvent(f frame) (Event, error) {
	ev := Event{SessionID: f.SessionID}

	switch f.Type {
	case frameChunk:
		var p chunkPayload
		if err := json.Unmarshal(f.Payload, &p); err != nil {
			return ev, fmt.Errorf("decode chunk: %w", err)
		}
		ev.Type = EventChunk
		ev.Text = p.Text

	case frameStep:
		var p stepPayload
		if err := json.Unmarshal(f.Payload, &p); err != nil {
			return ev, fmt.Errorf("decode step: %w", err)
		}
		ev.Type = EventStep
		ev.Step = models.ReasoningStep{Kind: p.Kind, Message: p.Message, Timestamp: p.Timestamp}

	case frameFileEdited:
		var p filePayload
		if err := json.Unmarshal(f.Payload, &p); err != nil {
			return ev, fmt.Errorf("decode file_edited: %w", err)
		}
		ev.Type = EventFileEdited
		ev.Path = p.Path

	case frameFinalize:
		var p finalizePayload
		if len(f.Payload) > 0 {
			if err := json.Unmarshal(f.Payload, &p); err != nil {
				return ev, fmt.Errorf("decode finalize: %w", err)
			}
		}
		ev.Type = EventFinalize
		ev.ContextUsed = p.ContextUsed
		ev.Metadata = p.Metadata

	case frameError:
		var p errorPayload
		if err := json.Unmarshal(f.Payload, &p); err != nil {
			return ev, fmt.Errorf("decode error: %w", err)
		}
		ev.Type = EventError
		ev.Err = p.Message

	case frameCancelled:
		ev.Type = EventCancelled

	default:
		return ev, fmt.Errorf("unknown frame type %q", f.Type)
	}

	return ev, nil
}
