package models

import (
	"strings"
	"time"
)

// EstimateTokens approximates the token count of a text as ceil(len/4).
// Good enough for budget accounting; the agent reports authoritative usage.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}

// EstimateMessageTokens estimates one message's token cost, including a
// small framing overhead.
func EstimateMessageTokens(m Message) int {
	return EstimateTokens(m.Content) + 4
}

// StepsFromMeta decodes the frozen reasoning steps of a finalized message.
// Steps frozen in-process keep their concrete type; steps loaded from the
// database come back as generic maps.
func StepsFromMeta(m Message) []ReasoningStep {
	switch v := m.Metadata[MetaSteps].(type) {
	case []ReasoningStep:
		return v
	case []any:
		out := make([]ReasoningStep, 0, len(v))
		for _, item := range v {
			fields, ok := item.(map[string]any)
			if !ok {
				continue
			}
			step := ReasoningStep{}
			if s, ok := fields["kind"].(string); ok {
				step.Kind = s
			}
			if s, ok := fields["message"].(string); ok {
				step.Message = s
			}
			if ts, ok := fields["timestamp"].(time.Time); ok {
				step.Timestamp = ts
			}
			out = append(out, step)
		}
		return out
	default:
		return nil
	}
}

// TranscriptText renders messages as a plain-text transcript, one
// "role: content" paragraph per message. Used for summarization prompts
// and exports.
func TranscriptText(msgs []Message) string {
	var b strings.Builder
	for i, m := range msgs {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(m.Role)
		b.WriteString(": ")
		b.WriteString(m.Content)
	}
	return b.String()
}
