// Package main provides the entry point for the parley MCP server, which
// exposes stored conversations to MCP clients over stdio.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/parley-dev/parley/internal/compact"
	"github.com/parley-dev/parley/internal/config"
	"github.com/parley-dev/parley/internal/db"
	"github.com/parley-dev/parley/internal/llm"
	"github.com/parley-dev/parley/internal/metrics"
	"github.com/parley-dev/parley/internal/server"
	"github.com/parley-dev/parley/internal/tools"
)

const version = "0.1.0"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}

	// Setup logger (dual output: stderr text + file JSON)
	logger, cleanup := config.SetupLogger(cfg.LogFile, cfg.LogLevel)
	defer cleanup()

	logger.Info("parley-mcp starting",
		"version", version,
		"surrealdb_url", cfg.SurrealDBURL,
		"llm_provider", cfg.LLMProvider,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Connect to database
	dbCfg := db.Config{
		URL:       cfg.SurrealDBURL,
		Namespace: cfg.SurrealDBNamespace,
		Database:  cfg.SurrealDBDatabase,
		Username:  cfg.SurrealDBUser,
		Password:  cfg.SurrealDBPass,
	}

	dbClient, err := db.NewClient(ctx, dbCfg, logger)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		logger.Info("closing database connection")
		_ = dbClient.Close(ctx)
	}()

	if err := dbClient.InitSchema(ctx); err != nil {
		logger.Error("failed to initialize database schema", "error", err)
		os.Exit(1)
	}

	collector := metrics.NewCollector()
	store := db.NewStore(dbClient, logger, collector)

	// The compact_conversation tool needs a summarization model; the other
	// tools work without one, so a missing provider only disables that tool.
	var compactor tools.Compactor
	if summarizer, err := llm.NewSummarizer(ctx, cfg, logger, collector); err != nil {
		logger.Warn("summarizer unavailable, compact_conversation disabled", "error", err)
	} else {
		logger.Info("summarizer initialized", "model", summarizer.Model())
		compactor = compact.New(compact.Config{
			KeepInitial:   cfg.CompactKeepInitial,
			KeepRecent:    cfg.CompactKeepRecent,
			MinMessages:   cfg.CompactMinMessages,
			AutoThreshold: cfg.CompactAutoThreshold,
			MinInterval:   cfg.CompactMinInterval,
		}, summarizer, store, logger)
	}

	// Create and setup server
	srv := server.New(version, logger)
	srv.Setup()

	// Register tools
	deps := &tools.Dependencies{
		Store:     store,
		Compactor: compactor,
		Logger:    logger,
	}
	tools.RegisterAll(srv.MCPServer(), deps)
	logger.Info("tools registered", "count", 5)

	logger.Info("server ready, awaiting connections")

	// Run server (blocks until disconnect or context cancelled)
	if err := srv.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}
