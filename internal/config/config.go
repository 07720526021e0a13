// Package config loads engine configuration from an optional YAML file with
// environment-variable overrides, and wires up logging.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// LLM provider identifiers.
const (
	ProviderOllama    = "ollama"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderBedrock   = "bedrock"
)

// Config holds all configuration values.
type Config struct {
	// SurrealDB connection
	SurrealDBURL       string `yaml:"surrealdb_url"`
	SurrealDBNamespace string `yaml:"surrealdb_namespace"`
	SurrealDBDatabase  string `yaml:"surrealdb_database"`
	SurrealDBUser      string `yaml:"surrealdb_user"`
	SurrealDBPass      string `yaml:"surrealdb_pass"`

	// Agent process
	AgentURL string `yaml:"agent_url"`

	// Summarization LLM
	LLMProvider     string `yaml:"llm_provider"`
	LLMModel        string `yaml:"llm_model"`
	OllamaHost      string `yaml:"ollama_host"`
	OpenAIAPIKey    string `yaml:"openai_api_key"`
	AnthropicAPIKey string `yaml:"anthropic_api_key"`

	// Compaction policy
	CompactKeepInitial   int           `yaml:"compact_keep_initial"`
	CompactKeepRecent    int           `yaml:"compact_keep_recent"`
	CompactMinMessages   int           `yaml:"compact_min_messages"`
	CompactAutoThreshold float64       `yaml:"compact_auto_threshold"`
	CompactMinInterval   time.Duration `yaml:"compact_min_interval"`

	// Logging
	LogFile      string     `yaml:"log_file"`
	LogLevelName string     `yaml:"log_level"`
	LogLevel     slog.Level `yaml:"-"`
}

// defaults returns the baseline configuration.
func defaults() Config {
	return Config{
		SurrealDBURL:       "ws://localhost:8000/rpc",
		SurrealDBNamespace: "parley",
		SurrealDBDatabase:  "conversations",
		SurrealDBUser:      "root",
		SurrealDBPass:      "root",

		AgentURL: "ws://localhost:8791/agent",

		LLMProvider: ProviderOllama,
		LLMModel:    "llama3.2",
		OllamaHost:  "http://localhost:11434",

		CompactKeepInitial:   3,
		CompactKeepRecent:    10,
		CompactMinMessages:   20,
		CompactAutoThreshold: 0.80,
		CompactMinInterval:   5 * time.Minute,

		LogFile:      filepath.Join(os.TempDir(), "parley.log"),
		LogLevelName: "INFO",
	}
}

// Load builds the configuration: defaults, then ~/.parley.yaml if present,
// then environment variables.
func Load() (Config, error) {
	cfg := defaults()

	if home, err := os.UserHomeDir(); err == nil {
		path := filepath.Join(home, ".parley.yaml")
		if data, err := os.ReadFile(path); err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse %s: %w", path, err)
			}
		}
	}

	applyEnv(&cfg)
	cfg.LogLevel = parseLogLevel(cfg.LogLevelName)

	if cfg.CompactKeepInitial+cfg.CompactKeepRecent >= cfg.CompactMinMessages {
		return Config{}, fmt.Errorf("compaction policy leaves no middle region (initial %d + recent %d >= min %d)",
			cfg.CompactKeepInitial, cfg.CompactKeepRecent, cfg.CompactMinMessages)
	}

	return cfg, nil
}

func applyEnv(cfg *Config) {
	setStr := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setStr(&cfg.SurrealDBURL, "PARLEY_DB_URL")
	setStr(&cfg.SurrealDBNamespace, "PARLEY_DB_NAMESPACE")
	setStr(&cfg.SurrealDBDatabase, "PARLEY_DB_DATABASE")
	setStr(&cfg.SurrealDBUser, "PARLEY_DB_USER")
	setStr(&cfg.SurrealDBPass, "PARLEY_DB_PASS")
	setStr(&cfg.AgentURL, "PARLEY_AGENT_URL")
	setStr(&cfg.LLMProvider, "PARLEY_LLM_PROVIDER")
	setStr(&cfg.LLMModel, "PARLEY_LLM_MODEL")
	setStr(&cfg.OllamaHost, "OLLAMA_HOST")
	setStr(&cfg.OpenAIAPIKey, "OPENAI_API_KEY")
	setStr(&cfg.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	setStr(&cfg.LogFile, "PARLEY_LOG_FILE")
	setStr(&cfg.LogLevelName, "PARLEY_LOG_LEVEL")

	if v := os.Getenv("PARLEY_COMPACT_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.CompactAutoThreshold = f
		}
	}
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
