package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parley-dev/parley/internal/compact"
	"github.com/parley-dev/parley/internal/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

type fakeStore struct {
	convs    []models.Conversation
	msgs     map[string][]models.Message
	searchBy []models.Message
	err      error
}

func (f *fakeStore) ListConversations(ctx context.Context) ([]models.Conversation, error) {
	return f.convs, f.err
}

func (f *fakeStore) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	for _, c := range f.convs {
		if c.ID == id {
			return &c, nil
		}
	}
	return nil, errors.New("not found")
}

func (f *fakeStore) LoadMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	return f.msgs[conversationID], f.err
}

func (f *fakeStore) SearchMessages(ctx context.Context, term string, limit int) ([]models.Message, error) {
	return f.searchBy, f.err
}

type fakeCompactor struct {
	res *compact.Result
	err error
}

func (f *fakeCompactor) Run(ctx context.Context, conversationID string, msgs []models.Message) (*compact.Result, error) {
	return f.res, f.err
}

// textContent extracts the first text content of a tool result.
func textContent(t *testing.T, content []mcp.Content) string {
	t.Helper()
	require.NotEmpty(t, content)
	tc, ok := content[0].(*mcp.TextContent)
	require.True(t, ok, "expected TextContent, got %T", content[0])
	return tc.Text
}

func deps(store *fakeStore, compactor Compactor) *Dependencies {
	return &Dependencies{Store: store, Compactor: compactor, Logger: testLogger()}
}

func TestListConversations(t *testing.T) {
	store := &fakeStore{
		convs: []models.Conversation{
			{ID: "c1", WorkspacePath: "/a", Title: "api work", UpdatedAt: time.Now()},
			{ID: "c2", WorkspacePath: "/b", UpdatedAt: time.Now()},
		},
	}
	handler := NewListConversationsHandler(deps(store, nil))

	res, _, err := handler(context.Background(), nil, ListConversationsInput{})
	require.NoError(t, err)
	require.False(t, res.IsError)

	text := textContent(t, res.Content)
	assert.Contains(t, text, "c1")
	assert.Contains(t, text, "/b")
	assert.Contains(t, text, "api work")
}

func TestGetTranscript(t *testing.T) {
	store := &fakeStore{
		convs: []models.Conversation{{ID: "c1", WorkspacePath: "/a"}},
		msgs: map[string][]models.Message{
			"c1": {
				{ID: "m1", Role: models.RoleUser, Content: "hello"},
				{ID: "m2", Role: models.RoleAssistant, Content: "hi there",
					Metadata: map[string]any{models.MetaCompaction: models.CompactionStats{}}},
			},
		},
	}
	handler := NewGetTranscriptHandler(deps(store, nil))

	res, _, err := handler(context.Background(), nil, GetTranscriptInput{ConversationID: "c1"})
	require.NoError(t, err)
	require.False(t, res.IsError)
	text := textContent(t, res.Content)
	assert.Contains(t, text, "user: hello")
	assert.Contains(t, text, "2 messages")

	// Metadata markers only appear when requested.
	assert.NotContains(t, text, "[summary]")
	res, _, err = handler(context.Background(), nil, GetTranscriptInput{ConversationID: "c1", IncludeMeta: true})
	require.NoError(t, err)
	assert.Contains(t, textContent(t, res.Content), "[summary]")
}

func TestGetTranscriptMissingID(t *testing.T) {
	handler := NewGetTranscriptHandler(deps(&fakeStore{}, nil))
	res, _, err := handler(context.Background(), nil, GetTranscriptInput{})
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestSearchTranscripts(t *testing.T) {
	store := &fakeStore{
		searchBy: []models.Message{
			{ID: "m1", ConversationID: "c1", Role: models.RoleAssistant, Content: "use exponential backoff"},
		},
	}
	handler := NewSearchTranscriptsHandler(deps(store, nil))

	res, _, err := handler(context.Background(), nil, SearchInput{Query: "backoff"})
	require.NoError(t, err)
	require.False(t, res.IsError)
	assert.Contains(t, textContent(t, res.Content), "exponential backoff")

	res, _, err = handler(context.Background(), nil, SearchInput{Query: ""})
	require.NoError(t, err)
	assert.True(t, res.IsError)

	res, _, err = handler(context.Background(), nil, SearchInput{Query: "x", Limit: 500})
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestCompactConversation(t *testing.T) {
	kept := make([]models.Message, 14)
	for i := range kept {
		kept[i] = models.Message{ID: fmt.Sprintf("k%d", i)}
	}
	store := &fakeStore{msgs: map[string][]models.Message{"c1": make([]models.Message, 27)}}
	compactor := &fakeCompactor{res: &compact.Result{
		Kept:           kept,
		Summary:        models.Message{ID: "sum-1"},
		DeletedIDs:     make([]string, 14),
		SavingsPercent: 42.5,
	}}
	handler := NewCompactConversationHandler(deps(store, compactor))

	res, _, err := handler(context.Background(), nil, CompactInput{ConversationID: "c1"})
	require.NoError(t, err)
	require.False(t, res.IsError)
	text := textContent(t, res.Content)
	assert.Contains(t, text, "27 messages to 14")
	assert.Contains(t, text, "sum-1")
}

func TestCompactConversationTooShort(t *testing.T) {
	store := &fakeStore{msgs: map[string][]models.Message{"c1": make([]models.Message, 5)}}
	compactor := &fakeCompactor{err: fmt.Errorf("%w: 5 messages", compact.ErrTooFewMessages)}
	handler := NewCompactConversationHandler(deps(store, compactor))

	res, _, err := handler(context.Background(), nil, CompactInput{ConversationID: "c1"})
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, textContent(t, res.Content), "too short")
}

func TestPing(t *testing.T) {
	handler := NewPingHandler(deps(&fakeStore{}, nil))

	res, _, err := handler(context.Background(), nil, PingInput{})
	require.NoError(t, err)
	assert.Equal(t, "pong", textContent(t, res.Content))

	res, _, err = handler(context.Background(), nil, PingInput{Echo: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "hello", textContent(t, res.Content))
}
