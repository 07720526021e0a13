package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var searchLimit int

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Full-text search across stored transcripts",
	Long: `Search message content across all conversations using full-text search.

Examples:
  parley search "exponential backoff"
  parley search websocket -n 5`,
	Args: cobra.ExactArgs(1),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 10, "max results")
}

func runSearch(cmd *cobra.Command, args []string) error {
	query := args[0]
	ctx := context.Background()

	results, err := convStore.SearchMessages(ctx, query, searchLimit)
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}

	if len(results) == 0 {
		fmt.Println("No results found.")
		return nil
	}

	fmt.Printf("Found %d results:\n\n", len(results))
	for i, msg := range results {
		fmt.Printf("%d. [%s] %s\n", i+1, msg.Role, snippet(msg.Content))
		fmt.Printf("   conversation %s, %s\n\n", msg.ConversationID, msg.Timestamp.Format("2006-01-02 15:04"))
	}
	return nil
}

// snippet flattens a message body to a single preview line.
func snippet(content string) string {
	s := strings.Join(strings.Fields(content), " ")
	if len(s) > 120 {
		return s[:120] + "..."
	}
	return s
}
