package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parley-dev/parley/internal/models"
)

func TestExchangeLifecycle(t *testing.T) {
	start := time.Now()
	ex := NewExchange("user-1", "asst-1", start)
	assert.Equal(t, StatePending, ex.State())

	assert.True(t, ex.StartStreaming())
	assert.Equal(t, StateStreaming, ex.State())
	assert.True(t, ex.StartStreaming(), "repeated start while streaming is a no-op")

	assert.True(t, ex.AddStep(models.ReasoningStep{Kind: "thinking", Message: "a"}))
	assert.True(t, ex.AddStep(models.ReasoningStep{Kind: "tool", Message: "b"}))

	steps, duration, ok := ex.Finalize(start.Add(3 * time.Second))
	require.True(t, ok)
	assert.Len(t, steps, 2)
	assert.Equal(t, 3*time.Second, duration)
	assert.Equal(t, StateFinalized, ex.State())

	// Terminal state admits nothing further.
	_, _, ok = ex.Finalize(start.Add(5 * time.Second))
	assert.False(t, ok)
	assert.False(t, ex.AddStep(models.ReasoningStep{Kind: "thinking", Message: "late"}))
	assert.False(t, ex.MarkCancelled())
	assert.False(t, ex.MarkErrored())
	assert.Len(t, ex.Steps(), 2)
}

func TestExchangeCancelFromPending(t *testing.T) {
	ex := NewExchange("user-1", "asst-1", time.Now())
	assert.True(t, ex.MarkCancelled())
	assert.Equal(t, StateCancelled, ex.State())
	assert.False(t, ex.StartStreaming())
}

func TestRegistryMatches(t *testing.T) {
	r := &Registry{}
	assert.False(t, r.Matches("s1"), "unmounted registry matches nothing")

	r.Activate("s1", "c1", "/ws")
	assert.True(t, r.Matches("s1"))
	assert.False(t, r.Matches("s2"))
	assert.False(t, r.Matches(""))

	r.Pending = NewExchange("u", "a", time.Now())
	r.Sending = true
	r.Activate("s2", "c2", "/other")
	assert.False(t, r.Matches("s1"), "old session is stale after reactivation")
	assert.True(t, r.Matches("s2"))
	assert.Nil(t, r.Pending, "activation abandons the in-flight exchange")
	assert.False(t, r.Sending)
	assert.Empty(t, r.PendingAssistantID())
}
