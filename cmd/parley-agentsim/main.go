// Package main provides a scripted agent process for local development.
// It speaks the parley agent wire protocol and echoes prompts back with
// synthetic reasoning steps, so the chat shell can be exercised without a
// real model behind it.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/parley-dev/parley/internal/agent"
	"github.com/parley-dev/parley/internal/config"
)

func main() {
	chunkDelay := flag.Duration("chunk-delay", 150*time.Millisecond, "pacing between streamed chunks")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}

	level := slog.LevelInfo
	if os.Getenv("LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	// The simulator binds wherever the shell expects the agent to be.
	endpoint, err := url.Parse(cfg.AgentURL)
	if err != nil {
		slog.Error("invalid agent url", "url", cfg.AgentURL, "error", err)
		os.Exit(1)
	}

	sim := &agent.Simulator{
		Logger:     logger,
		ChunkDelay: *chunkDelay,
	}

	mux := http.NewServeMux()
	mux.Handle(endpoint.Path, sim)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	httpServer := &http.Server{
		Addr:        endpoint.Host,
		Handler:     mux,
		IdleTimeout: 120 * time.Second,
	}

	go func() {
		slog.Info("agent simulator listening", "addr", endpoint.Host, "path", endpoint.Path)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down simulator...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}
}
