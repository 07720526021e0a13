package session

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/parley-dev/parley/internal/agent"
	"github.com/parley-dev/parley/internal/compact"
	"github.com/parley-dev/parley/internal/metrics"
	"github.com/parley-dev/parley/internal/models"
	"github.com/parley-dev/parley/internal/timeline"
)

// ErrNotMounted is returned for operations that need an active workspace.
var ErrNotMounted = errors.New("no active workspace session")

// ErrExchangeInFlight is returned when a send is attempted while a previous
// exchange has not yet reached a terminal state.
var ErrExchangeInFlight = errors.New("an exchange is already in flight")

// ErrCompactionInFlight is returned when a send or a second compaction is
// attempted while the compaction saga is still running. The saga works on a
// snapshot; messages appended behind it would be lost in the swap.
var ErrCompactionInFlight = errors.New("compaction is in progress")

// Persistence is the durable store the engine writes through. Saving a
// message returns the derived content blocks so the in-memory copy can be
// patched with them.
type Persistence interface {
	EnsureConversation(ctx context.Context, workspacePath string) (models.Conversation, error)
	LoadMessages(ctx context.Context, conversationID string) ([]models.Message, error)
	SaveMessage(ctx context.Context, msg models.Message) ([]models.ContentBlock, error)
	DeleteMessages(ctx context.Context, conversationID string, ids []string) error
}

// Transport sends prompts and cancellations to the agent process and exposes
// its event stream. Send and Cancel are fire-and-forget; outcomes arrive as
// events.
type Transport interface {
	Send(sessionID, text string, attachments []string) error
	Cancel(sessionID string) error
	Events() <-chan agent.Event
}

// FileNotifier receives file-edited notifications so the surrounding shell
// can refresh open editors.
type FileNotifier interface {
	FileEdited(path string)
}

type noopNotifier struct{}

func (noopNotifier) FileEdited(string) {}

// Config wires the engine's collaborators.
type Config struct {
	Persistence Persistence
	Transport   Transport
	Compactor   *compact.Compactor // nil disables compaction
	Files       FileNotifier       // nil for no-op
	Logger      *slog.Logger
	Metrics     *metrics.Collector

	// OnChange is invoked on the engine loop after every visible mutation;
	// the UI uses it to schedule a redraw. May be nil.
	OnChange func()
}

// Engine owns the in-memory timeline and the correlation registry for one
// process. All mutation happens on a single goroutine running Run; public
// methods enqueue operations onto that goroutine, and asynchronous
// completions (persistence, compaction, agent events) re-enter it the same
// way. Mutexes guard nothing here because nothing is shared.
type Engine struct {
	store    *timeline.Store
	registry *Registry

	persist   Persistence
	transport Transport
	compactor *compact.Compactor
	files     FileNotifier
	logger    *slog.Logger
	metrics   *metrics.Collector
	onChange  func()

	ops  chan func()
	done chan struct{}
	ctx  context.Context

	// liveSteps mirrors the pending exchange's step buffer per assistant
	// message id for render-time access.
	liveSteps map[string][]models.ReasoningStep
}

// NewEngine creates an engine. Run must be called before any operation.
func NewEngine(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	files := cfg.Files
	if files == nil {
		files = noopNotifier{}
	}
	return &Engine{
		store:     timeline.New(),
		registry:  &Registry{},
		persist:   cfg.Persistence,
		transport: cfg.Transport,
		compactor: cfg.Compactor,
		files:     files,
		logger:    logger,
		metrics:   cfg.Metrics,
		onChange:  cfg.OnChange,
		ops:       make(chan func(), 64),
		done:      make(chan struct{}),
		liveSteps: make(map[string][]models.ReasoningStep),
	}
}

// Run executes the engine loop until ctx is cancelled. It also pumps the
// transport's event stream into the loop so events and operations interleave
// in a single total order.
func (e *Engine) Run(ctx context.Context) error {
	e.ctx = ctx
	defer close(e.done)

	if e.transport != nil {
		go func() {
			for ev := range e.transport.Events() {
				e.ProcessEvent(ev)
			}
		}()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case op := <-e.ops:
			op()
		}
	}
}

// enqueue schedules fn on the engine loop. Drops the operation if the engine
// has shut down.
func (e *Engine) enqueue(fn func()) {
	select {
	case e.ops <- fn:
	case <-e.done:
	}
}

// call runs fn on the engine loop and waits for it to complete.
func (e *Engine) call(fn func()) {
	ready := make(chan struct{})
	e.enqueue(func() {
		fn()
		close(ready)
	})
	select {
	case <-ready:
	case <-e.done:
	}
}

func (e *Engine) notifyChanged() {
	if e.onChange != nil {
		e.onChange()
	}
}

// Notify replaces the change callback. The UI layer is usually constructed
// after the engine, so it binds its redraw hook here once it exists. A nil fn
// unbinds.
func (e *Engine) Notify(fn func()) {
	e.call(func() { e.onChange = fn })
}

// Snapshot returns a defensive copy of the visible timeline.
func (e *Engine) Snapshot() []models.Message {
	var msgs []models.Message
	e.call(func() { msgs = e.store.Snapshot() })
	return msgs
}

// State is a UI-facing view of the registry cells.
type State struct {
	Mounted            bool
	WorkspacePath      string
	ConversationID     string
	Sending            bool
	Cancelling         bool
	Compacting         bool
	PendingAssistantID string
}

// CurrentState returns the registry cells for rendering.
func (e *Engine) CurrentState() State {
	var s State
	e.call(func() {
		s = State{
			Mounted:            e.registry.Mounted,
			WorkspacePath:      e.registry.WorkspacePath,
			ConversationID:     e.registry.ConversationID,
			Sending:            e.registry.Sending,
			Cancelling:         e.registry.Cancelling,
			Compacting:         e.registry.Compacting,
			PendingAssistantID: e.registry.PendingAssistantID(),
		}
	})
	return s
}

// LiveSteps returns the in-flight reasoning steps for an assistant message,
// or nil once the exchange has completed and the steps are frozen into
// message metadata.
func (e *Engine) LiveSteps(messageID string) []models.ReasoningStep {
	var steps []models.ReasoningStep
	e.call(func() {
		steps = append(steps, e.liveSteps[messageID]...)
	})
	return steps
}

// ActivateWorkspace mounts a workspace: allocates a fresh session id,
// resolves the workspace's conversation and loads its timeline. The registry
// is updated immediately so events from any previous session start failing
// the identity gate before the load completes.
func (e *Engine) ActivateWorkspace(workspacePath string) {
	e.enqueue(func() {
		sessionID := uuid.New().String()
		e.registry.Activate(sessionID, "", workspacePath)
		e.store.Replace(nil)
		e.liveSteps = make(map[string][]models.ReasoningStep)
		e.notifyChanged()

		go func() {
			start := time.Now()
			conv, err := e.persist.EnsureConversation(e.ctx, workspacePath)
			var msgs []models.Message
			if err == nil {
				msgs, err = e.persist.LoadMessages(e.ctx, conv.ID)
			}
			e.enqueue(func() {
				// A later activation supersedes this load.
				if e.registry.SessionID != sessionID {
					e.logger.Debug("dropping superseded workspace load", "workspace", workspacePath)
					return
				}
				if err != nil {
					e.logger.Error("workspace load failed", "workspace", workspacePath, "error", err)
					return
				}
				if e.metrics != nil {
					e.metrics.RecordTiming(metrics.OpDBLoad, time.Since(start))
				}
				e.registry.ConversationID = conv.ID
				if err := e.store.Replace(msgs); err != nil {
					e.logger.Error("loaded timeline rejected", "error", err)
					return
				}
				e.logger.Info("workspace mounted",
					"workspace", workspacePath, "conversation_id", conv.ID, "messages", len(msgs))
				e.notifyChanged()
			})
		}()
	})
}

// CloseWorkspace unmounts the active workspace.
func (e *Engine) CloseWorkspace() {
	e.enqueue(func() {
		e.registry.Deactivate()
		e.store.Replace(nil)
		e.liveSteps = make(map[string][]models.ReasoningStep)
		e.notifyChanged()
	})
}

// SendMessage appends the user message optimistically, opens a pending
// exchange with a pre-generated assistant message id, persists in the
// background and hands the prompt to the agent. The result arrives later as
// events.
func (e *Engine) SendMessage(text string, attachments []string) {
	e.enqueue(func() {
		if err := e.sendLocked(text, attachments); err != nil {
			e.logger.Warn("send rejected", "error", err)
		}
	})
}

func (e *Engine) sendLocked(text string, attachments []string) error {
	if !e.registry.Mounted || e.registry.ConversationID == "" {
		return ErrNotMounted
	}
	if e.registry.Sending {
		return ErrExchangeInFlight
	}
	// The compaction saga holds a snapshot; a message appended now would be
	// wiped by the swap when the saga completes.
	if e.registry.Compacting {
		return ErrCompactionInFlight
	}

	now := time.Now().UTC()
	userMsg := models.Message{
		ID:             uuid.New().String(),
		ConversationID: e.registry.ConversationID,
		Role:           models.RoleUser,
		Content:        text,
		Timestamp:      now,
	}
	if len(attachments) > 0 {
		userMsg.SetMeta(models.MetaAttachments, attachments)
	}
	if err := e.store.Append(userMsg); err != nil {
		return err
	}

	e.registry.Pending = NewExchange(userMsg.ID, uuid.New().String(), now)
	e.registry.Sending = true
	e.registry.Cancelling = false

	e.persistAsync(userMsg)

	if err := e.transport.Send(e.registry.SessionID, text, attachments); err != nil {
		e.failExchange("agent unreachable: "+err.Error(), false)
		return nil
	}
	e.notifyChanged()
	return nil
}

// CancelExchange requests cancellation of the in-flight exchange. The
// timeline is not touched until the agent confirms with a cancelled event.
func (e *Engine) CancelExchange() {
	e.enqueue(func() {
		if e.registry.Pending == nil || e.registry.Cancelling {
			return
		}
		e.registry.Cancelling = true
		if err := e.transport.Cancel(e.registry.SessionID); err != nil {
			e.logger.Warn("cancel request failed", "error", err)
		}
		e.notifyChanged()
	})
}

// ProcessEvent enqueues one agent event for handling on the engine loop.
// Run's pump calls this for every event the transport delivers.
func (e *Engine) ProcessEvent(ev agent.Event) {
	e.enqueue(func() { e.handleEvent(ev) })
}

// handleEvent is the streaming ingestion controller. Every event passes the
// session identity gate first; anything stale is dropped without mutation.
func (e *Engine) handleEvent(ev agent.Event) {
	if !e.registry.Matches(ev.SessionID) {
		if e.metrics != nil {
			e.metrics.IncStaleDropped()
		}
		e.logger.Debug("dropping stale event", "type", ev.Type, "session_id", ev.SessionID)
		return
	}

	switch ev.Type {
	case agent.EventChunk:
		e.applyChunk(ev)
	case agent.EventStep:
		e.applyStep(ev)
	case agent.EventFileEdited:
		e.files.FileEdited(ev.Path)
	case agent.EventFinalize:
		e.finalizeExchange(ev)
	case agent.EventError:
		e.failExchange(ev.Err, false)
	case agent.EventCancelled:
		e.failExchange("", true)
	default:
		e.logger.Debug("ignoring event", "type", ev.Type)
	}
}

func (e *Engine) applyChunk(ev agent.Event) {
	ex := e.registry.Pending
	if ex == nil || ex.State().Terminal() {
		e.logger.Debug("chunk with no open exchange, dropping")
		return
	}

	if ex.State() == StatePending {
		ex.StartStreaming()
		msg := models.Message{
			ID:             ex.AssistantMessageID,
			ConversationID: e.registry.ConversationID,
			Role:           models.RoleAssistant,
			Content:        ev.Text,
			Timestamp:      time.Now().UTC(),
		}
		if err := e.store.Append(msg); err != nil {
			e.logger.Error("assistant message append failed", "error", err)
			return
		}
	} else {
		if err := e.store.Patch(ex.AssistantMessageID, timeline.Update{AppendContent: ev.Text}); err != nil {
			e.logger.Error("chunk patch failed", "error", err)
			return
		}
	}
	e.notifyChanged()
}

func (e *Engine) applyStep(ev agent.Event) {
	ex := e.registry.Pending
	if ex == nil {
		return
	}
	if !ex.AddStep(ev.Step) {
		return
	}
	e.liveSteps[ex.AssistantMessageID] = ex.Steps()
	e.notifyChanged()
}

// finalizeExchange freezes the exchange onto the assistant message and
// closes it out. Redelivered finalizes are no-ops: once the exchange is
// cleared the identity gate plus the nil check make this idempotent.
func (e *Engine) finalizeExchange(ev agent.Event) {
	ex := e.registry.Pending
	if ex == nil {
		e.logger.Debug("finalize with no open exchange, dropping")
		return
	}
	steps, duration, ok := ex.Finalize(time.Now())
	if !ok {
		return
	}

	// An agent that finalizes without streaming any chunk still yields an
	// assistant message, just an empty one.
	if _, ok := e.store.Get(ex.AssistantMessageID); !ok {
		msg := models.Message{
			ID:             ex.AssistantMessageID,
			ConversationID: e.registry.ConversationID,
			Role:           models.RoleAssistant,
			Timestamp:      time.Now().UTC(),
		}
		if err := e.store.Append(msg); err != nil {
			e.logger.Error("assistant message append failed", "error", err)
		}
	}

	meta := map[string]any{
		models.MetaDurationMS: duration.Milliseconds(),
	}
	if len(steps) > 0 {
		meta[models.MetaSteps] = steps
	}
	for k, v := range ev.Metadata {
		meta[k] = v
	}
	if err := e.store.Patch(ex.AssistantMessageID, timeline.Update{Meta: meta}); err != nil {
		e.logger.Error("finalize patch failed", "error", err)
	}

	delete(e.liveSteps, ex.AssistantMessageID)
	e.registry.ClearPending()

	if e.metrics != nil {
		e.metrics.RecordTiming(metrics.OpExchange, duration)
	}

	if msg, ok := e.store.Get(ex.AssistantMessageID); ok {
		e.persistAsync(msg)
	}

	e.logger.Info("exchange finalized",
		"assistant_id", ex.AssistantMessageID,
		"duration", duration,
		"steps", len(steps),
		"context_used", ev.ContextUsed)
	e.notifyChanged()

	e.maybeAutoCompact(ev.ContextUsed)
}

// failExchange closes the exchange on an error or a confirmed cancellation.
// A partially streamed assistant message is kept and tagged; when nothing
// was streamed a synthetic assistant message carries the outcome instead.
func (e *Engine) failExchange(errText string, cancelled bool) {
	ex := e.registry.Pending
	if ex == nil {
		return
	}
	if cancelled {
		if !ex.MarkCancelled() {
			return
		}
	} else if !ex.MarkErrored() {
		return
	}

	metaKey := models.MetaError
	var metaVal any = errText
	content := errText
	if cancelled {
		metaKey = models.MetaCancelled
		metaVal = true
		content = "Request cancelled."
	}

	if _, ok := e.store.Get(ex.AssistantMessageID); ok {
		if patchErr := e.store.Patch(ex.AssistantMessageID, timeline.Update{
			Meta: map[string]any{metaKey: metaVal},
		}); patchErr != nil {
			e.logger.Error("failure patch failed", "error", patchErr)
		}
	} else {
		msg := models.Message{
			ID:             ex.AssistantMessageID,
			ConversationID: e.registry.ConversationID,
			Role:           models.RoleAssistant,
			Content:        content,
			Timestamp:      time.Now().UTC(),
			Metadata:       map[string]any{metaKey: metaVal},
		}
		if appendErr := e.store.Append(msg); appendErr != nil {
			e.logger.Error("failure append failed", "error", appendErr)
		}
	}

	delete(e.liveSteps, ex.AssistantMessageID)
	e.registry.ClearPending()

	if msg, ok := e.store.Get(ex.AssistantMessageID); ok {
		e.persistAsync(msg)
	}

	if cancelled {
		e.logger.Info("exchange cancelled", "assistant_id", ex.AssistantMessageID)
	} else {
		e.logger.Warn("exchange failed", "assistant_id", ex.AssistantMessageID, "error", errText)
	}
	e.notifyChanged()
}

// persistAsync writes a message in the background and patches the derived
// content blocks back in, provided the conversation is still the active one
// and the message still exists when the write completes.
func (e *Engine) persistAsync(msg models.Message) {
	convID := msg.ConversationID
	go func() {
		start := time.Now()
		blocks, err := e.persist.SaveMessage(e.ctx, msg)
		e.enqueue(func() {
			if err != nil {
				e.logger.Warn("message persistence failed", "message_id", msg.ID, "error", err)
				return
			}
			if e.metrics != nil {
				e.metrics.RecordTiming(metrics.OpDBSave, time.Since(start))
			}
			if e.registry.ConversationID != convID {
				return
			}
			if len(blocks) == 0 {
				return
			}
			// The message may have been compacted away in the meantime.
			if err := e.store.Patch(msg.ID, timeline.Update{Blocks: blocks}); err != nil {
				e.logger.Debug("block patch skipped", "message_id", msg.ID, "error", err)
				return
			}
			e.notifyChanged()
		})
	}()
}

// Compact runs manual compaction of the active conversation. onDone (may be
// nil) is called on the engine loop with the outcome.
func (e *Engine) Compact(onDone func(*compact.Result, error)) {
	e.enqueue(func() { e.startCompaction(onDone) })
}

func (e *Engine) maybeAutoCompact(contextUsed float64) {
	if e.compactor == nil || !e.compactor.ShouldAuto(contextUsed, time.Now()) {
		return
	}
	e.logger.Info("context usage above threshold, compacting", "context_used", contextUsed)
	e.startCompaction(nil)
}

// startCompaction snapshots the timeline and runs the compaction saga off
// the loop. Sends are rejected until the saga completes so nothing is
// appended behind the snapshot. The swap on completion re-validates that the
// conversation has not changed; a stale result is discarded, leaving the
// (already rewritten) durable timeline to be picked up on the next mount.
func (e *Engine) startCompaction(onDone func(*compact.Result, error)) {
	finish := func(res *compact.Result, err error) {
		if onDone != nil {
			onDone(res, err)
		}
	}
	if e.compactor == nil {
		finish(nil, errors.New("compaction not configured"))
		return
	}
	if !e.registry.Mounted || e.registry.ConversationID == "" {
		finish(nil, ErrNotMounted)
		return
	}
	if e.registry.Sending {
		finish(nil, ErrExchangeInFlight)
		return
	}
	if e.registry.Compacting {
		finish(nil, ErrCompactionInFlight)
		return
	}

	convID := e.registry.ConversationID
	snapshot := e.store.Snapshot()
	e.registry.Compacting = true
	e.notifyChanged()

	go func() {
		res, err := e.compactor.Run(e.ctx, convID, snapshot)
		e.enqueue(func() {
			e.registry.Compacting = false
			if err != nil {
				e.logger.Warn("compaction failed", "conversation_id", convID, "error", err)
				finish(nil, err)
				return
			}
			if e.registry.ConversationID != convID {
				e.logger.Debug("discarding compaction result for inactive conversation", "conversation_id", convID)
				finish(res, nil)
				return
			}
			if err := e.store.Replace(res.Kept); err != nil {
				e.logger.Error("compacted timeline rejected", "error", err)
				finish(nil, err)
				return
			}
			if e.metrics != nil {
				e.metrics.IncCompactions()
			}
			e.notifyChanged()
			finish(res, nil)
		})
	}()
}
