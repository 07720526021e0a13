package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List stored conversations",
	Long: `List all stored conversations, most recently active first.

Examples:
  parley sessions
  parley sessions -v`,
	Args: cobra.NoArgs,
	RunE: runSessions,
}

func runSessions(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	convs, err := convStore.ListConversations(ctx)
	if err != nil {
		return fmt.Errorf("list conversations: %w", err)
	}

	if len(convs) == 0 {
		fmt.Println("No conversations yet. Start one with 'parley chat'.")
		return nil
	}

	fmt.Printf("%d conversations:\n\n", len(convs))
	for _, c := range convs {
		title := c.Title
		if title == "" {
			title = "(untitled)"
		}
		fmt.Printf("%s  %s\n", c.ID, c.WorkspacePath)
		fmt.Printf("    %s · last active %s\n", title, c.UpdatedAt.Format("2006-01-02 15:04"))
		if verbose {
			fmt.Printf("    compactions: %d, created %s\n",
				c.CompactionCount, c.CreatedAt.Format("2006-01-02 15:04"))
		}
		fmt.Println()
	}
	return nil
}
