// Package compact implements conversation compaction: replacing the middle
// of a long timeline with an LLM-generated summary while keeping the opening
// context, the recent tail, and messages flagged important.
package compact

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/parley-dev/parley/internal/models"
)

// ErrTooFewMessages is returned when the conversation is below the minimum
// size for compaction to be worthwhile.
var ErrTooFewMessages = errors.New("conversation too short to compact")

// Summary is the outcome of summarizing the middle partition.
type Summary struct {
	Text         string
	TokensBefore int
	TokensAfter  int
}

// Summarizer produces a summary of a message slice.
type Summarizer interface {
	Summarize(ctx context.Context, msgs []models.Message) (Summary, error)
}

// Persistence is the durable-store slice compaction needs: write the summary
// artifact, then delete the messages it replaces.
type Persistence interface {
	SaveMessage(ctx context.Context, msg models.Message) ([]models.ContentBlock, error)
	DeleteMessages(ctx context.Context, conversationID string, ids []string) error
}

// Config holds the partition boundaries and the automatic-trigger policy.
type Config struct {
	// KeepInitial messages from the start of the timeline survive verbatim.
	KeepInitial int
	// KeepRecent messages from the end survive verbatim.
	KeepRecent int
	// MinMessages gates compaction entirely below this count.
	MinMessages int
	// AutoThreshold is the context-usage ratio above which compaction
	// triggers automatically after an exchange completes.
	AutoThreshold float64
	// MinInterval is the minimum spacing between automatic runs.
	MinInterval time.Duration
}

// DefaultConfig returns the standard compaction policy.
func DefaultConfig() Config {
	return Config{
		KeepInitial:   3,
		KeepRecent:    10,
		MinMessages:   20,
		AutoThreshold: 0.80,
		MinInterval:   5 * time.Minute,
	}
}

// Result describes a completed compaction run.
type Result struct {
	// Kept is the full replacement timeline: initial + summary + important
	// + recent, in original relative order.
	Kept []models.Message
	// Summary is the synthetic assistant message inserted in place of the
	// summarized region.
	Summary models.Message
	// DeletedIDs are the ids removed from durable storage.
	DeletedIDs []string

	TokensBefore   int
	TokensAfter    int
	SavingsPercent float64
}

// plan is the partition of a timeline computed fresh for each run.
type plan struct {
	initial   []models.Message
	important []models.Message // middle messages pinned by the user
	summarize []models.Message // middle messages to be summarized
	recent    []models.Message
	deleteIDs []string
}

// Compactor runs the summarize → persist → delete → swap saga.
type Compactor struct {
	cfg        Config
	summarizer Summarizer
	persist    Persistence
	logger     *slog.Logger

	mu      sync.Mutex
	lastRun time.Time
}

// New creates a compactor with the given policy and collaborators.
func New(cfg Config, summarizer Summarizer, persist Persistence, logger *slog.Logger) *Compactor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Compactor{cfg: cfg, summarizer: summarizer, persist: persist, logger: logger}
}

// ShouldAuto reports whether an automatic run is due for the given
// context-usage ratio. The interval guard prevents thrash when usage stays
// above the threshold across consecutive exchanges.
func (c *Compactor) ShouldAuto(usageRatio float64, now time.Time) bool {
	if usageRatio < c.cfg.AutoThreshold {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastRun.IsZero() || now.Sub(c.lastRun) >= c.cfg.MinInterval
}

// Run compacts the given timeline snapshot. The partition is computed fresh
// from the current policy; boundaries from earlier runs are never reused.
// On summarization or persistence failure the store is left untouched; the
// summary artifact is rolled back if the deletion step fails.
//
// Run performs network and database I/O and must not be called from the
// engine loop; the caller re-validates session identity before applying the
// returned Result.
func (c *Compactor) Run(ctx context.Context, conversationID string, msgs []models.Message) (*Result, error) {
	p, err := c.buildPlan(msgs)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	summary, err := c.summarizer.Summarize(ctx, p.summarize)
	if err != nil {
		return nil, fmt.Errorf("summarize conversation: %w", err)
	}

	tokensBefore := 0
	for _, m := range msgs {
		tokensBefore += models.EstimateMessageTokens(m)
	}

	summaryMsg := models.Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		Role:           models.RoleAssistant,
		Content:        summary.Text,
		Timestamp:      time.Now().UTC(),
		Metadata: map[string]any{
			models.MetaCompaction: models.CompactionStats{
				OriginalCount:   len(msgs),
				SummarizedCount: len(p.summarize),
				TokensBefore:    summary.TokensBefore,
				TokensAfter:     summary.TokensAfter,
			},
		},
	}

	blocks, err := c.persist.SaveMessage(ctx, summaryMsg)
	if err != nil {
		return nil, fmt.Errorf("persist summary: %w", err)
	}
	summaryMsg.Blocks = blocks

	if err := c.persist.DeleteMessages(ctx, conversationID, p.deleteIDs); err != nil {
		// Roll the summary back so the stored timeline stays consistent
		// with the in-memory one we are not going to swap.
		if rbErr := c.persist.DeleteMessages(ctx, conversationID, []string{summaryMsg.ID}); rbErr != nil {
			c.logger.Warn("summary rollback failed, orphaned summary remains",
				"conversation_id", conversationID, "summary_id", summaryMsg.ID, "error", rbErr)
		}
		return nil, fmt.Errorf("delete summarized messages: %w", err)
	}

	kept := make([]models.Message, 0, len(p.initial)+1+len(p.important)+len(p.recent))
	kept = append(kept, p.initial...)
	kept = append(kept, summaryMsg)
	kept = append(kept, p.important...)
	kept = append(kept, p.recent...)

	tokensAfter := 0
	for _, m := range kept {
		tokensAfter += models.EstimateMessageTokens(m)
	}

	res := &Result{
		Kept:         kept,
		Summary:      summaryMsg,
		DeletedIDs:   p.deleteIDs,
		TokensBefore: tokensBefore,
		TokensAfter:  tokensAfter,
	}
	if tokensBefore > 0 {
		res.SavingsPercent = 100 * float64(tokensBefore-tokensAfter) / float64(tokensBefore)
	}

	c.mu.Lock()
	c.lastRun = time.Now()
	c.mu.Unlock()

	c.logger.Info("compaction complete",
		"conversation_id", conversationID,
		"original", len(msgs),
		"kept", len(kept),
		"summarized", len(p.summarize),
		"savings_percent", fmt.Sprintf("%.1f", res.SavingsPercent),
		"duration", time.Since(start))

	return res, nil
}

// buildPlan partitions the timeline into initial, middle and recent regions
// and splits the middle into pinned-important and to-summarize.
func (c *Compactor) buildPlan(msgs []models.Message) (*plan, error) {
	if len(msgs) < c.cfg.MinMessages {
		return nil, fmt.Errorf("%w: %d messages, need %d", ErrTooFewMessages, len(msgs), c.cfg.MinMessages)
	}
	if len(msgs) <= c.cfg.KeepInitial+c.cfg.KeepRecent {
		return nil, fmt.Errorf("%w: no middle region with %d messages", ErrTooFewMessages, len(msgs))
	}

	p := &plan{
		initial: msgs[:c.cfg.KeepInitial],
		recent:  msgs[len(msgs)-c.cfg.KeepRecent:],
	}
	for _, m := range msgs[c.cfg.KeepInitial : len(msgs)-c.cfg.KeepRecent] {
		if m.Important() {
			p.important = append(p.important, m)
			continue
		}
		p.summarize = append(p.summarize, m)
		p.deleteIDs = append(p.deleteIDs, m.ID)
	}
	if len(p.summarize) == 0 {
		return nil, fmt.Errorf("%w: middle region entirely pinned", ErrTooFewMessages)
	}
	return p, nil
}
