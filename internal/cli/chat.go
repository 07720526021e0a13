package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/parley-dev/parley/internal/agent"
	"github.com/parley-dev/parley/internal/compact"
	"github.com/parley-dev/parley/internal/llm"
	"github.com/parley-dev/parley/internal/metrics"
	"github.com/parley-dev/parley/internal/session"
	"github.com/parley-dev/parley/internal/tui"
)

var chatCmd = &cobra.Command{
	Use:   "chat [workspace]",
	Short: "Open the chat shell for a workspace",
	Long: `Open the interactive chat shell for a workspace directory.

The workspace defaults to the current directory. Each workspace maps to one
conversation; reopening it restores the full timeline.

Examples:
  parley chat
  parley chat ~/src/my-project`,
	Args: cobra.MaximumNArgs(1),
	RunE: runChat,
}

func runChat(cmd *cobra.Command, args []string) error {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return fmt.Errorf("chat requires an interactive terminal")
	}

	workspace, err := resolveWorkspace(args)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	collector := metrics.NewCollector()

	agentClient, err := agent.Dial(ctx, cfg.AgentURL, logger)
	if err != nil {
		return fmt.Errorf("agent: %w (is the agent process running at %s?)", err, cfg.AgentURL)
	}
	defer agentClient.Close()

	// Compaction needs a summarization model; run without it when none is
	// reachable rather than refusing to chat.
	var compactor *compact.Compactor
	if summarizer, err := llm.NewSummarizer(ctx, cfg, logger, collector); err != nil {
		logger.Warn("summarizer unavailable, compaction disabled", "error", err)
	} else {
		compactor = compact.New(compactionConfig(), summarizer, convStore, logger)
	}

	engine := session.NewEngine(session.Config{
		Persistence: convStore,
		Transport:   agentClient,
		Compactor:   compactor,
		Logger:      logger,
		Metrics:     collector,
	})

	go func() {
		if err := engine.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("engine stopped", "error", err)
		}
	}()
	engine.ActivateWorkspace(workspace)

	if err := tui.Run(ctx, engine, workspace); err != nil {
		return fmt.Errorf("chat shell: %w", err)
	}
	engine.CloseWorkspace()
	return nil
}

// resolveWorkspace turns the optional argument into an absolute path, which
// is the conversation key.
func resolveWorkspace(args []string) (string, error) {
	path := "."
	if len(args) == 1 {
		path = args[0]
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve workspace: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("workspace %s: %w", abs, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("workspace %s is not a directory", abs)
	}
	return abs, nil
}

// compactionConfig maps the loaded configuration onto the compaction policy.
func compactionConfig() compact.Config {
	return compact.Config{
		KeepInitial:   cfg.CompactKeepInitial,
		KeepRecent:    cfg.CompactKeepRecent,
		MinMessages:   cfg.CompactMinMessages,
		AutoThreshold: cfg.CompactAutoThreshold,
		MinInterval:   cfg.CompactMinInterval,
	}
}
