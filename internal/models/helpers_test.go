package models

import "testing"

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want int
	}{
		{"empty", "", 0},
		{"single char", "a", 1},
		{"exact multiple", "abcd", 1},
		{"rounds up", "abcde", 2},
		{"eight chars", "abcdefgh", 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EstimateTokens(tt.in)
			if got != tt.want {
				t.Errorf("EstimateTokens(%q) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestTranscriptText(t *testing.T) {
	msgs := []Message{
		{Role: RoleUser, Content: "hello"},
		{Role: RoleAssistant, Content: "hi there"},
	}

	want := "user: hello\n\nassistant: hi there"
	if got := TranscriptText(msgs); got != want {
		t.Errorf("TranscriptText() = %q, want %q", got, want)
	}
}

func TestMessageCloneIsolatesMetadata(t *testing.T) {
	m := Message{ID: "m1", Content: "x"}
	m.SetMeta(MetaImportant, true)

	c := m.Clone()
	c.Metadata[MetaImportant] = false

	if !m.Important() {
		t.Error("mutating a clone's metadata changed the original")
	}
}
