package timeline

import (
	"strings"

	"github.com/parley-dev/parley/internal/models"
)

const minEstimatorWidth = 20

// Estimator computes the expected on-screen height of timeline entries, in
// terminal rows, to drive a fixed-memory virtualized viewport. Estimates are
// corrected by measurement after paint; the estimator only has to avoid
// gross under-allocation.
type Estimator struct {
	width int
}

// NewEstimator creates an estimator for the given viewport width.
func NewEstimator(width int) Estimator {
	if width < minEstimatorWidth {
		width = minEstimatorWidth
	}
	return Estimator{width: width}
}

// Rows estimates the rendered height of one message. liveSteps carries the
// in-flight step count for the pending assistant message; finalized messages
// read their frozen step count from metadata. Monotonic in content length.
func (e Estimator) Rows(m models.Message, expanded bool, liveSteps int) int {
	rows := 1 // role header

	if len(m.Blocks) > 0 {
		for _, b := range m.Blocks {
			rows += e.textRows(b.Text)
			if b.Kind == models.BlockCode {
				rows += 2 // fences
			}
		}
	} else {
		rows += e.textRows(m.Content)
	}

	if expanded {
		steps := liveSteps
		if frozen := models.StepsFromMeta(m); len(frozen) > steps {
			steps = len(frozen)
		}
		if steps > 0 {
			rows += 1 + steps // panel header + one row per step
		}
	}

	return rows + 1 // trailing padding
}

// Heights recomputes estimates for every index. Must be re-invoked whenever
// any expansion toggle changes, since expansion alters heights globally.
func (e Estimator) Heights(msgs []models.Message, expanded func(id string) bool, liveSteps func(id string) int) []int {
	out := make([]int, len(msgs))
	for i, m := range msgs {
		out[i] = e.Rows(m, expanded(m.ID), liveSteps(m.ID))
	}
	return out
}

// textRows counts wrapped rows for a text, at least one per line.
func (e Estimator) textRows(text string) int {
	if text == "" {
		return 1
	}
	rows := 0
	for _, line := range strings.Split(text, "\n") {
		rows += (len(line) + e.width - 1) / e.width
		if line == "" {
			rows++
		}
	}
	return rows
}
