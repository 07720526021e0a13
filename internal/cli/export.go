package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/parley-dev/parley/internal/models"
)

var (
	exportOutput string
	exportMeta   bool
)

var exportCmd = &cobra.Command{
	Use:   "export <conversation-id>",
	Short: "Export a conversation transcript to Markdown",
	Long: `Export a conversation transcript as a Markdown document.

Writes to stdout unless --output is given. Use 'parley sessions' to find
conversation ids.

Examples:
  parley export c9f3...
  parley export c9f3... --output transcript.md
  parley export c9f3... --meta`,
	Args: cobra.ExactArgs(1),
	RunE: runExport,
}

func init() {
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "write to file instead of stdout")
	exportCmd.Flags().BoolVar(&exportMeta, "meta", false, "annotate summaries, errors and cancellations")
}

func runExport(cmd *cobra.Command, args []string) error {
	id := args[0]
	ctx := context.Background()

	conv, err := convStore.GetConversation(ctx, id)
	if err != nil {
		return fmt.Errorf("conversation %s: %w", id, err)
	}
	msgs, err := convStore.LoadMessages(ctx, id)
	if err != nil {
		return fmt.Errorf("load messages: %w", err)
	}

	doc := renderTranscript(*conv, msgs, exportMeta)

	if exportOutput == "" {
		fmt.Print(doc)
		return nil
	}
	if err := os.WriteFile(exportOutput, []byte(doc), 0644); err != nil {
		return fmt.Errorf("write %s: %w", exportOutput, err)
	}
	fmt.Printf("Exported %d messages to %s\n", len(msgs), exportOutput)
	return nil
}

// renderTranscript builds the Markdown document for one conversation.
func renderTranscript(conv models.Conversation, msgs []models.Message, withMeta bool) string {
	var b strings.Builder

	title := conv.Title
	if title == "" {
		title = conv.WorkspacePath
	}
	fmt.Fprintf(&b, "# %s\n\n", title)
	fmt.Fprintf(&b, "Workspace: `%s`  \n", conv.WorkspacePath)
	fmt.Fprintf(&b, "Messages: %d  \n", len(msgs))
	if conv.CompactionCount > 0 {
		fmt.Fprintf(&b, "Compactions: %d  \n", conv.CompactionCount)
	}
	b.WriteString("\n---\n\n")

	for _, m := range msgs {
		heading := "## " + m.Role
		if withMeta {
			heading += markers(m)
		}
		fmt.Fprintf(&b, "%s\n\n%s\n\n", heading, m.Content)

		if withMeta {
			if steps := models.StepsFromMeta(m); len(steps) > 0 {
				b.WriteString("<details><summary>reasoning</summary>\n\n")
				for _, s := range steps {
					fmt.Fprintf(&b, "- **%s** %s\n", s.Kind, s.Message)
				}
				b.WriteString("\n</details>\n\n")
			}
		}
	}
	return b.String()
}

func markers(m models.Message) string {
	var out string
	if m.IsCompactionArtifact() {
		out += " [summary]"
	}
	if m.Important() {
		out += " [important]"
	}
	if m.Metadata[models.MetaCancelled] == true {
		out += " [cancelled]"
	}
	if m.Metadata[models.MetaError] != nil {
		out += " [error]"
	}
	return out
}
