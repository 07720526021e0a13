package session

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parley-dev/parley/internal/agent"
	"github.com/parley-dev/parley/internal/compact"
	"github.com/parley-dev/parley/internal/metrics"
	"github.com/parley-dev/parley/internal/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

type fakePersistence struct {
	mu       sync.Mutex
	conv     models.Conversation
	loadMsgs []models.Message
	saved    []models.Message
	deleted  [][]string
}

func (f *fakePersistence) EnsureConversation(ctx context.Context, workspacePath string) (models.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conv.ID == "" {
		f.conv = models.Conversation{ID: "conv-1", WorkspacePath: workspacePath}
	}
	return f.conv, nil
}

func (f *fakePersistence) LoadMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Message(nil), f.loadMsgs...), nil
}

func (f *fakePersistence) SaveMessage(ctx context.Context, msg models.Message) ([]models.ContentBlock, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, msg)
	return nil, nil
}

func (f *fakePersistence) DeleteMessages(ctx context.Context, conversationID string, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, ids)
	return nil
}

func (f *fakePersistence) savedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.saved)
}

type fakeTransport struct {
	mu      sync.Mutex
	sent    []string // session ids of sent prompts
	cancels []string
	events  chan agent.Event
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{events: make(chan agent.Event)}
}

func (f *fakeTransport) Send(sessionID, text string, attachments []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sessionID)
	return nil
}

func (f *fakeTransport) Cancel(sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels = append(f.cancels, sessionID)
	return nil
}

func (f *fakeTransport) Events() <-chan agent.Event { return f.events }

func (f *fakeTransport) lastSession() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return ""
	}
	return f.sent[len(f.sent)-1]
}

func (f *fakeTransport) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fakeSummarizer struct{}

func (fakeSummarizer) Summarize(ctx context.Context, msgs []models.Message) (compact.Summary, error) {
	return compact.Summary{Text: "summary of " + string(rune('0'+len(msgs)%10)) + " messages"}, nil
}

// gatedSummarizer blocks Summarize until released, holding the compaction
// saga open so tests can interleave other operations with it.
type gatedSummarizer struct {
	release chan struct{}
}

func (g *gatedSummarizer) Summarize(ctx context.Context, msgs []models.Message) (compact.Summary, error) {
	<-g.release
	return compact.Summary{Text: "condensed"}, nil
}

// startEngine runs an engine against the fakes and mounts a workspace.
func startEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()

	if cfg.Logger == nil {
		cfg.Logger = testLogger()
	}
	e := NewEngine(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = e.Run(ctx) }()

	e.ActivateWorkspace("/tmp/ws")
	require.Eventually(t, func() bool {
		return e.CurrentState().ConversationID != ""
	}, 2*time.Second, 10*time.Millisecond, "workspace never mounted")

	return e
}

func TestSendStreamsAndFinalizes(t *testing.T) {
	persist := &fakePersistence{}
	tr := newFakeTransport()
	e := startEngine(t, Config{Persistence: persist, Transport: tr})

	e.SendMessage("hello there", nil)
	require.Eventually(t, func() bool { return tr.sentCount() == 1 }, time.Second, 10*time.Millisecond)

	sid := tr.lastSession()
	e.ProcessEvent(agent.Event{Type: agent.EventChunk, SessionID: sid, Text: "Hi, "})
	e.ProcessEvent(agent.Event{Type: agent.EventStep, SessionID: sid, Step: models.ReasoningStep{Kind: "thinking", Message: "pondering"}})
	e.ProcessEvent(agent.Event{Type: agent.EventChunk, SessionID: sid, Text: "human."})
	e.ProcessEvent(agent.Event{Type: agent.EventFinalize, SessionID: sid})

	state := e.CurrentState()
	assert.False(t, state.Sending)
	assert.Empty(t, state.PendingAssistantID)

	msgs := e.Snapshot()
	require.Len(t, msgs, 2)
	assert.Equal(t, models.RoleUser, msgs[0].Role)
	assert.Equal(t, "hello there", msgs[0].Content)
	assert.Equal(t, models.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "Hi, human.", msgs[1].Content)

	steps, ok := msgs[1].Metadata[models.MetaSteps].([]models.ReasoningStep)
	require.True(t, ok)
	require.Len(t, steps, 1)
	assert.Equal(t, "pondering", steps[0].Message)
	assert.Contains(t, msgs[1].Metadata, models.MetaDurationMS)

	// Live steps are released once frozen into metadata.
	assert.Empty(t, e.LiveSteps(msgs[1].ID))

	// Both sides of the exchange were persisted.
	require.Eventually(t, func() bool { return persist.savedCount() == 2 }, time.Second, 10*time.Millisecond)
}

func TestStaleEventsAreDropped(t *testing.T) {
	persist := &fakePersistence{}
	tr := newFakeTransport()
	collector := metrics.NewCollector()
	e := startEngine(t, Config{Persistence: persist, Transport: tr, Metrics: collector})

	e.SendMessage("first workspace prompt", nil)
	require.Eventually(t, func() bool { return tr.sentCount() == 1 }, time.Second, 10*time.Millisecond)
	oldSession := tr.lastSession()

	// Remounting allocates a fresh session id; the old one is now stale.
	e.ActivateWorkspace("/tmp/other")
	require.Eventually(t, func() bool {
		return e.CurrentState().WorkspacePath == "/tmp/other" && e.CurrentState().ConversationID != ""
	}, 2*time.Second, 10*time.Millisecond)

	e.ProcessEvent(agent.Event{Type: agent.EventChunk, SessionID: oldSession, Text: "late chunk"})
	e.ProcessEvent(agent.Event{Type: agent.EventFinalize, SessionID: oldSession})

	assert.Empty(t, e.Snapshot(), "stale events must not create messages")
	assert.False(t, e.CurrentState().Sending)
	assert.GreaterOrEqual(t, collector.Snapshot().StaleEventsDropped, int64(2))
}

func TestDoubleFinalizeIsIdempotent(t *testing.T) {
	persist := &fakePersistence{}
	tr := newFakeTransport()
	e := startEngine(t, Config{Persistence: persist, Transport: tr})

	e.SendMessage("ping", nil)
	require.Eventually(t, func() bool { return tr.sentCount() == 1 }, time.Second, 10*time.Millisecond)
	sid := tr.lastSession()

	e.ProcessEvent(agent.Event{Type: agent.EventChunk, SessionID: sid, Text: "pong"})
	e.ProcessEvent(agent.Event{Type: agent.EventFinalize, SessionID: sid})
	e.ProcessEvent(agent.Event{Type: agent.EventFinalize, SessionID: sid})
	e.ProcessEvent(agent.Event{Type: agent.EventChunk, SessionID: sid, Text: " extra"})

	msgs := e.Snapshot()
	require.Len(t, msgs, 2)
	assert.Equal(t, "pong", msgs[1].Content, "post-finalize chunk must not mutate the message")
}

func TestCancelBeforeFirstChunk(t *testing.T) {
	persist := &fakePersistence{}
	tr := newFakeTransport()
	e := startEngine(t, Config{Persistence: persist, Transport: tr})

	e.SendMessage("never mind", nil)
	require.Eventually(t, func() bool { return tr.sentCount() == 1 }, time.Second, 10*time.Millisecond)
	sid := tr.lastSession()

	e.CancelExchange()
	require.Eventually(t, func() bool {
		tr.mu.Lock()
		defer tr.mu.Unlock()
		return len(tr.cancels) == 1
	}, time.Second, 10*time.Millisecond)
	assert.True(t, e.CurrentState().Cancelling)

	e.ProcessEvent(agent.Event{Type: agent.EventCancelled, SessionID: sid})

	msgs := e.Snapshot()
	require.Len(t, msgs, 2)
	assert.Equal(t, models.RoleAssistant, msgs[1].Role)
	assert.Equal(t, true, msgs[1].Metadata[models.MetaCancelled])

	state := e.CurrentState()
	assert.False(t, state.Sending)
	assert.False(t, state.Cancelling)
}

func TestAgentErrorSurfacesAsMessage(t *testing.T) {
	persist := &fakePersistence{}
	tr := newFakeTransport()
	e := startEngine(t, Config{Persistence: persist, Transport: tr})

	e.SendMessage("boom", nil)
	require.Eventually(t, func() bool { return tr.sentCount() == 1 }, time.Second, 10*time.Millisecond)
	sid := tr.lastSession()

	e.ProcessEvent(agent.Event{Type: agent.EventError, SessionID: sid, Err: "model overloaded"})

	msgs := e.Snapshot()
	require.Len(t, msgs, 2)
	assert.Equal(t, "model overloaded", msgs[1].Content)
	assert.Equal(t, "model overloaded", msgs[1].Metadata[models.MetaError])
	assert.False(t, e.CurrentState().Sending)
}

func TestSendRejectedWhileExchangeInFlight(t *testing.T) {
	persist := &fakePersistence{}
	tr := newFakeTransport()
	e := startEngine(t, Config{Persistence: persist, Transport: tr})

	e.SendMessage("first", nil)
	e.SendMessage("second", nil)

	require.Eventually(t, func() bool { return tr.sentCount() == 1 }, time.Second, 10*time.Millisecond)
	msgs := e.Snapshot()
	require.Len(t, msgs, 1)
	assert.Equal(t, "first", msgs[0].Content)
}

func TestFinalizeWithoutChunksCreatesEmptyAssistant(t *testing.T) {
	persist := &fakePersistence{}
	tr := newFakeTransport()
	e := startEngine(t, Config{Persistence: persist, Transport: tr})

	e.SendMessage("silent treatment", nil)
	require.Eventually(t, func() bool { return tr.sentCount() == 1 }, time.Second, 10*time.Millisecond)

	e.ProcessEvent(agent.Event{Type: agent.EventFinalize, SessionID: tr.lastSession()})

	msgs := e.Snapshot()
	require.Len(t, msgs, 2)
	assert.Equal(t, models.RoleAssistant, msgs[1].Role)
	assert.Empty(t, msgs[1].Content)
}

func TestFileEditedEventsReachNotifier(t *testing.T) {
	persist := &fakePersistence{}
	tr := newFakeTransport()

	var mu sync.Mutex
	var paths []string
	notifier := fileNotifierFunc(func(p string) {
		mu.Lock()
		defer mu.Unlock()
		paths = append(paths, p)
	})

	e := startEngine(t, Config{Persistence: persist, Transport: tr, Files: notifier})

	e.SendMessage("edit something", nil)
	require.Eventually(t, func() bool { return tr.sentCount() == 1 }, time.Second, 10*time.Millisecond)
	sid := tr.lastSession()

	e.ProcessEvent(agent.Event{Type: agent.EventFileEdited, SessionID: sid, Path: "main.go"})
	e.ProcessEvent(agent.Event{Type: agent.EventFinalize, SessionID: sid})
	e.Snapshot() // barrier

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"main.go"}, paths)
}

type fileNotifierFunc func(string)

func (f fileNotifierFunc) FileEdited(path string) { f(path) }

func TestHighContextUsageTriggersCompaction(t *testing.T) {
	persist := &fakePersistence{}
	for i := 0; i < 25; i++ {
		role := models.RoleUser
		if i%2 == 1 {
			role = models.RoleAssistant
		}
		persist.loadMsgs = append(persist.loadMsgs, models.Message{
			ID:             "m-" + strings.Repeat("x", i+1),
			ConversationID: "conv-1",
			Role:           role,
			Content:        "message body with some length to it",
		})
	}

	tr := newFakeTransport()
	compactor := compact.New(compact.DefaultConfig(), fakeSummarizer{}, persist, testLogger())
	e := startEngine(t, Config{Persistence: persist, Transport: tr, Compactor: compactor})

	require.Len(t, e.Snapshot(), 25)

	e.SendMessage("one more question", nil)
	require.Eventually(t, func() bool { return tr.sentCount() == 1 }, time.Second, 10*time.Millisecond)
	sid := tr.lastSession()

	e.ProcessEvent(agent.Event{Type: agent.EventChunk, SessionID: sid, Text: "an answer"})
	e.ProcessEvent(agent.Event{Type: agent.EventFinalize, SessionID: sid, ContextUsed: 0.95})

	// 27 messages compact to 3 initial + 1 summary + 10 recent.
	require.Eventually(t, func() bool { return len(e.Snapshot()) == 14 }, 2*time.Second, 10*time.Millisecond)

	msgs := e.Snapshot()
	assert.Contains(t, msgs[3].Metadata, models.MetaCompaction)
}

func TestSendRejectedWhileCompactionInFlight(t *testing.T) {
	persist := &fakePersistence{}
	for i := 0; i < 25; i++ {
		persist.loadMsgs = append(persist.loadMsgs, models.Message{
			ID:             "m-" + strings.Repeat("x", i+1),
			ConversationID: "conv-1",
			Role:           models.RoleUser,
			Content:        "message body with some length to it",
		})
	}

	tr := newFakeTransport()
	gated := &gatedSummarizer{release: make(chan struct{})}
	compactor := compact.New(compact.DefaultConfig(), gated, persist, testLogger())
	e := startEngine(t, Config{Persistence: persist, Transport: tr, Compactor: compactor})

	done := make(chan error, 1)
	e.Compact(func(res *compact.Result, err error) { done <- err })
	require.Eventually(t, func() bool { return e.CurrentState().Compacting }, time.Second, 10*time.Millisecond)

	// The saga works on a snapshot; a send now must be rejected, not
	// appended behind it and wiped by the swap.
	e.SendMessage("sent mid-compaction", nil)
	require.Len(t, e.Snapshot(), 25)
	assert.Zero(t, tr.sentCount())
	assert.False(t, e.CurrentState().Sending)

	close(gated.release)
	require.NoError(t, <-done)
	require.Eventually(t, func() bool { return len(e.Snapshot()) == 14 }, 2*time.Second, 10*time.Millisecond)
	assert.False(t, e.CurrentState().Compacting)

	// Sends flow again once the swap is done.
	e.SendMessage("after compaction", nil)
	require.Eventually(t, func() bool { return tr.sentCount() == 1 }, time.Second, 10*time.Millisecond)
	msgs := e.Snapshot()
	require.Len(t, msgs, 15)
	assert.Equal(t, "after compaction", msgs[14].Content)
}
