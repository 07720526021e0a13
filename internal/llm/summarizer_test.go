package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/tmc/langchaingo/llms"

	"github.com/parley-dev/parley/internal/models"
)

func testDiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeModel returns a canned response or error.
type fakeModel struct {
	response string
	err      error
	prompts  []string
}

func (f *fakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	for _, m := range messages {
		for _, part := range m.Parts {
			if tc, ok := part.(llms.TextContent); ok {
				f.prompts = append(f.prompts, tc.Text)
			}
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{Content: f.response}},
	}, nil
}

func (f *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

func sampleMessages() []models.Message {
	return []models.Message{
		{ID: "1", Role: models.RoleUser, Content: "how do I rename internal/foo?"},
		{ID: "2", Role: models.RoleAssistant, Content: "use gofmt -r, or gorename."},
	}
}

func TestSummarizeProducesTokenCounts(t *testing.T) {
	fake := &fakeModel{response: "  They discussed renaming internal/foo.  "}
	s := &Summarizer{llm: fake, modelName: "test-model", logger: testDiscardLogger()}

	summary, err := s.Summarize(context.Background(), sampleMessages())
	if err != nil {
		t.Fatalf("Summarize() error = %v", err)
	}
	if summary.Text != "They discussed renaming internal/foo." {
		t.Errorf("Text = %q, want trimmed response", summary.Text)
	}
	if summary.TokensBefore <= 0 || summary.TokensAfter <= 0 {
		t.Errorf("token counts not set: before=%d after=%d", summary.TokensBefore, summary.TokensAfter)
	}
	if summary.TokensAfter >= summary.TokensBefore {
		t.Errorf("summary should be smaller than input: before=%d after=%d", summary.TokensBefore, summary.TokensAfter)
	}

	// The transcript with role labels reaches the model.
	joined := strings.Join(fake.prompts, "\n")
	if !strings.Contains(joined, "user: how do I rename internal/foo?") {
		t.Errorf("prompt missing transcript line:\n%s", joined)
	}
}

func TestSummarizeEmptyInput(t *testing.T) {
	s := &Summarizer{llm: &fakeModel{response: "x"}, logger: testDiscardLogger()}
	if _, err := s.Summarize(context.Background(), nil); err == nil {
		t.Fatal("expected error for empty input")
	}
}

func TestSummarizeEmptyResponse(t *testing.T) {
	s := &Summarizer{llm: &fakeModel{response: "   "}, logger: testDiscardLogger()}
	if _, err := s.Summarize(context.Background(), sampleMessages()); err == nil {
		t.Fatal("expected error for empty summary")
	}
}

func TestIsFatalAPIError(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		fatal bool
	}{
		{"nil error", nil, false},
		{"generic error", errors.New("connection reset"), false},
		{"credit balance", errors.New("insufficient credit balance"), true},
		{"rate limit", errors.New("rate limit exceeded"), true},
		{"quota exceeded", errors.New("quota exceeded for model"), true},
		{"billing issue", errors.New("billing account inactive"), true},
		{"invalid api key", errors.New("invalid api key"), true},
		{"authentication failed", errors.New("authentication failed"), true},
		{"unauthorized", errors.New("unauthorized request"), true},
		{"401 status", errors.New("HTTP 401: not allowed"), true},
		{"403 status", errors.New("HTTP 403: forbidden"), true},
		{"wrapped error", fmt.Errorf("summarize: %w", errors.New("credit balance too low")), true},
		{"404 not fatal", errors.New("HTTP 404: not found"), false},
		{"timeout not fatal", errors.New("context deadline exceeded"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := isFatalAPIError(tt.err)
			if got != tt.fatal {
				t.Errorf("isFatalAPIError(%v) = %v, want %v", tt.err, got, tt.fatal)
			}
		})
	}
}

func TestWrapFatalError(t *testing.T) {
	t.Run("wraps fatal error", func(t *testing.T) {
		err := errors.New("invalid api key provided")
		wrapped := wrapFatalError(err)
		if !errors.Is(wrapped, ErrFatalAPI) {
			t.Errorf("expected wrapped error to match ErrFatalAPI")
		}
	})

	t.Run("passes through non-fatal error", func(t *testing.T) {
		err := errors.New("network timeout")
		result := wrapFatalError(err)
		if errors.Is(result, ErrFatalAPI) {
			t.Errorf("non-fatal error should not be wrapped with ErrFatalAPI")
		}
		if result != err {
			t.Errorf("expected original error returned, got %v", result)
		}
	})

	t.Run("nil error", func(t *testing.T) {
		result := wrapFatalError(nil)
		if result != nil {
			t.Errorf("expected nil, got %v", result)
		}
	})
}
