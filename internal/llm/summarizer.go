// Package llm provides the conversation summarizer using langchaingo.
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/bedrock"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/parley-dev/parley/internal/compact"
	"github.com/parley-dev/parley/internal/config"
	"github.com/parley-dev/parley/internal/metrics"
	"github.com/parley-dev/parley/internal/models"
)

const summarySystemPrompt = `You summarize the middle portion of a long conversation between a user and an AI coding assistant.
Produce a compact summary that preserves:
- decisions made and their reasons
- file paths, commands and identifiers that were discussed
- unresolved questions and pending work
Write plain prose. Do not address the reader. Do not invent details.`

// Summarizer condenses message runs for compaction. It implements
// compact.Summarizer.
type Summarizer struct {
	llm       llms.Model
	modelName string
	logger    *slog.Logger
	metrics   *metrics.Collector
}

// NewSummarizer creates a summarizer for the configured provider.
func NewSummarizer(ctx context.Context, cfg config.Config, logger *slog.Logger, collector *metrics.Collector) (*Summarizer, error) {
	var model llms.Model
	var err error

	switch cfg.LLMProvider {
	case config.ProviderOllama:
		model, err = ollama.New(
			ollama.WithModel(cfg.LLMModel),
			ollama.WithServerURL(cfg.OllamaHost),
		)
		if err != nil {
			return nil, fmt.Errorf("create ollama model: %w", err)
		}

	case config.ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OpenAI API key required")
		}
		model, err = openai.New(
			openai.WithToken(cfg.OpenAIAPIKey),
			openai.WithModel(cfg.LLMModel),
		)
		if err != nil {
			return nil, fmt.Errorf("create openai model: %w", err)
		}

	case config.ProviderAnthropic:
		if cfg.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("Anthropic API key required")
		}
		model, err = anthropic.New(
			anthropic.WithToken(cfg.AnthropicAPIKey),
			anthropic.WithModel(cfg.LLMModel),
		)
		if err != nil {
			return nil, fmt.Errorf("create anthropic model: %w", err)
		}

	case config.ProviderBedrock:
		awsCfg, awsErr := awsconfig.LoadDefaultConfig(ctx)
		if awsErr != nil {
			return nil, fmt.Errorf("load aws config: %w", awsErr)
		}
		client := bedrockruntime.NewFromConfig(awsCfg)
		model, err = bedrock.New(
			bedrock.WithClient(client),
			bedrock.WithModel(cfg.LLMModel),
		)
		if err != nil {
			return nil, fmt.Errorf("create bedrock model: %w", err)
		}

	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.LLMProvider)
	}

	if logger == nil {
		logger = slog.Default()
	}
	return &Summarizer{llm: model, modelName: cfg.LLMModel, logger: logger, metrics: collector}, nil
}

// Summarize condenses msgs into a single summary.
func (s *Summarizer) Summarize(ctx context.Context, msgs []models.Message) (compact.Summary, error) {
	if len(msgs) == 0 {
		return compact.Summary{}, fmt.Errorf("nothing to summarize")
	}

	tokensBefore := 0
	for _, m := range msgs {
		tokensBefore += models.EstimateMessageTokens(m)
	}

	prompt := buildPrompt(msgs)
	s.logger.Debug("summarizing", "model", s.modelName, "messages", len(msgs), "tokens_before", tokensBefore)

	start := time.Now()
	resp, err := s.llm.GenerateContent(ctx, []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, summarySystemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	})
	duration := time.Since(start)
	if err != nil {
		s.logger.Warn("summarization failed", "model", s.modelName, "duration_ms", duration.Milliseconds(), "error", err)
		return compact.Summary{}, wrapFatalError(fmt.Errorf("summarize: %w", err))
	}
	if len(resp.Choices) == 0 {
		return compact.Summary{}, fmt.Errorf("no response choices")
	}

	text := strings.TrimSpace(resp.Choices[0].Content)
	if text == "" {
		return compact.Summary{}, fmt.Errorf("empty summary returned")
	}

	summary := compact.Summary{
		Text:         text,
		TokensBefore: tokensBefore,
		TokensAfter:  models.EstimateTokens(text),
	}
	if s.metrics != nil {
		s.metrics.RecordLLMUsage(metrics.OpSummarize, duration,
			int64(summary.TokensBefore), int64(summary.TokensAfter))
	}
	s.logger.Debug("summarization complete",
		"model", s.modelName, "duration_ms", duration.Milliseconds(), "tokens_after", summary.TokensAfter)
	return summary, nil
}

// Model returns the LLM model name.
func (s *Summarizer) Model() string {
	return s.modelName
}

// buildPrompt renders the messages as a labeled transcript.
func buildPrompt(msgs []models.Message) string {
	var b strings.Builder
	b.WriteString("Conversation excerpt:\n\n")
	b.WriteString(models.TranscriptText(msgs))
	b.WriteString("\n\nSummary:")
	return b.String()
}
