package health

import (
	"math"

	"github.com/aristath/hq/internal/roster"
)

// HealthyScore is the lowest score still reported as healthy.
const HealthyScore = 60

// Score rates a worker from 0 to 100. Status, failure rate over the window
// the caller measured, and the current failure streak all deduct points.
func Score(w *roster.Worker, successRate float64, consecutiveFailures int) int {
	score := 100
	switch w.Status {
	case roster.StatusError:
		score -= 40
	case roster.StatusPaused:
		score -= 20
	}
	if !w.Active {
		score -= 30
	}
	score -= int(math.Round((1 - successRate) * 30))
	score -= consecutiveFailures * 10

	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
