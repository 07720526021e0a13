package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/parley-dev/parley/internal/compact"
	"github.com/parley-dev/parley/internal/llm"
)

var compactCmd = &cobra.Command{
	Use:   "compact <conversation-id>",
	Short: "Compact a stored conversation offline",
	Long: `Summarize the middle of a stored conversation and replace it with a
single summary message. The first and most recent messages, and anything
marked important, survive verbatim.

Examples:
  parley compact c9f3...`,
	Args: cobra.ExactArgs(1),
	RunE: runCompact,
}

func runCompact(cmd *cobra.Command, args []string) error {
	id := args[0]
	ctx := context.Background()

	summarizer, err := llm.NewSummarizer(ctx, cfg, logger, nil)
	if err != nil {
		return fmt.Errorf("init summarizer: %w", err)
	}
	compactor := compact.New(compactionConfig(), summarizer, convStore, logger)

	msgs, err := convStore.LoadMessages(ctx, id)
	if err != nil {
		return fmt.Errorf("load messages: %w", err)
	}

	fmt.Printf("Compacting %d messages with %s...\n", len(msgs), summarizer.Model())
	res, err := compactor.Run(ctx, id, msgs)
	if err != nil {
		if errors.Is(err, compact.ErrTooFewMessages) {
			fmt.Println("Conversation is too short to compact; nothing to do.")
			return nil
		}
		return fmt.Errorf("compact: %w", err)
	}

	fmt.Printf("Compacted %d messages to %d (%.1f%% token savings).\n",
		len(msgs), len(res.Kept), res.SavingsPercent)
	if verbose {
		fmt.Printf("Summary (%s):\n%s\n", res.Summary.ID, res.Summary.Content)
	}
	return nil
}
