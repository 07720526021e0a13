package blocks

import (
	"testing"

	"github.com/parley-dev/parley/internal/models"
)

func TestSplit(t *testing.T) {
	tests := []struct {
		name      string
		content   string
		wantKinds []string
	}{
		{
			name:      "empty",
			content:   "   \n\t",
			wantKinds: nil,
		},
		{
			name:      "single paragraph",
			content:   "just some prose\nacross two lines",
			wantKinds: []string{models.BlockParagraph},
		},
		{
			name:      "heading then prose",
			content:   "## Plan\n\nFirst we do the thing.",
			wantKinds: []string{models.BlockHeading, models.BlockParagraph},
		},
		{
			name:      "code fence with language",
			content:   "Here:\n\n```go\nfunc main() {}\n```\n\ndone.",
			wantKinds: []string{models.BlockParagraph, models.BlockCode, models.BlockParagraph},
		},
		{
			name:      "unterminated fence mid-stream",
			content:   "```python\nprint('hi')",
			wantKinds: []string{models.BlockCode},
		},
		{
			name:      "pipe table",
			content:   "| a | b |\n|---|---|\n| 1 | 2 |",
			wantKinds: []string{models.BlockTable},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Split(tt.content)
			if len(got) != len(tt.wantKinds) {
				t.Fatalf("Split() got %d blocks, want %d: %+v", len(got), len(tt.wantKinds), got)
			}
			for i, b := range got {
				if b.Kind != tt.wantKinds[i] {
					t.Errorf("block[%d].Kind = %q, want %q", i, b.Kind, tt.wantKinds[i])
				}
			}
		})
	}
}

func TestSplitCodeDetails(t *testing.T) {
	got := Split("```go\nfmt.Println(1)\nfmt.Println(2)\n```")
	if len(got) != 1 {
		t.Fatalf("got %d blocks, want 1", len(got))
	}
	if got[0].Language != "go" {
		t.Errorf("Language = %q, want go", got[0].Language)
	}
	if got[0].Text != "fmt.Println(1)\nfmt.Println(2)" {
		t.Errorf("Text = %q", got[0].Text)
	}
}

func TestSplitHeadingStripsMarkers(t *testing.T) {
	got := Split("### Deep dive")
	if len(got) != 1 || got[0].Text != "Deep dive" {
		t.Fatalf("got %+v", got)
	}
}
