package session

import (
	"time"

	"github.com/parley-dev/parley/internal/models"
)

// ExchangeState tracks the append-then-patch lifecycle of one exchange.
type ExchangeState int

// Exchange lifecycle: Pending until the first chunk arrives, Streaming while
// content accumulates, then exactly one terminal state.
const (
	StatePending ExchangeState = iota
	StateStreaming
	StateFinalized
	StateCancelled
	StateErrored
)

// Terminal reports whether the state admits no further transitions.
func (s ExchangeState) Terminal() bool {
	return s == StateFinalized || s == StateCancelled || s == StateErrored
}

// Exchange links one outbound user message to its in-progress assistant
// reply. It exists only between send and finalize/cancel/error and is
// destroyed on any terminal event. Modeling the lifecycle as an explicit
// state machine makes the idempotence and staleness properties checkable.
type Exchange struct {
	UserMessageID      string
	AssistantMessageID string

	state     ExchangeState
	steps     []models.ReasoningStep
	startedAt time.Time
}

// NewExchange creates a pending exchange with a pre-generated assistant
// message id.
func NewExchange(userMessageID, assistantMessageID string, now time.Time) *Exchange {
	return &Exchange{
		UserMessageID:      userMessageID,
		AssistantMessageID: assistantMessageID,
		state:              StatePending,
		startedAt:          now,
	}
}

// State returns the current lifecycle state.
func (e *Exchange) State() ExchangeState {
	return e.state
}

// StartStreaming transitions Pending → Streaming on the first chunk.
// A no-op when already streaming.
func (e *Exchange) StartStreaming() bool {
	if e.state != StatePending {
		return e.state == StateStreaming
	}
	e.state = StateStreaming
	return true
}

// AddStep buffers an in-flight reasoning step. Steps arriving after a
// terminal transition are dropped; the frozen history is immutable.
func (e *Exchange) AddStep(step models.ReasoningStep) bool {
	if e.state.Terminal() {
		return false
	}
	e.steps = append(e.steps, step)
	return true
}

// Steps returns a copy of the buffered steps for live display.
func (e *Exchange) Steps() []models.ReasoningStep {
	out := make([]models.ReasoningStep, len(e.steps))
	copy(out, e.steps)
	return out
}

// Finalize freezes the step buffer and reports the exchange duration.
// Returns ok=false when the exchange already reached a terminal state, so a
// redelivered finalize is a no-op rather than an error.
func (e *Exchange) Finalize(now time.Time) (steps []models.ReasoningStep, duration time.Duration, ok bool) {
	if e.state.Terminal() {
		return nil, 0, false
	}
	e.state = StateFinalized
	return e.Steps(), now.Sub(e.startedAt), true
}

// MarkCancelled transitions to Cancelled. Returns false if already terminal.
func (e *Exchange) MarkCancelled() bool {
	if e.state.Terminal() {
		return false
	}
	e.state = StateCancelled
	return true
}

// MarkErrored transitions to Errored. Returns false if already terminal.
func (e *Exchange) MarkErrored() bool {
	if e.state.Terminal() {
		return false
	}
	e.state = StateErrored
	return true
}
