package monitoring

import (
	"time"

	"inference-ops-service/pkg/models"
)

// calculateUptime returns the share of reachable polls in history as a
// percentage. With no history it falls back to the current reachability.
func calculateUptime(history []models.MetricsSample, currentlyUp bool) float64 {
	if len(history) == 0 {
		if currentlyUp {
			return 100.0
		}
		return 0.0
	}

	up := 0
	for _, s := range history {
		if s.Up {
			up++
		}
	}
	return (float64(up) / float64(len(history))) * 100.0
}

// trimHistory drops samples recorded before cutoff and keeps at most max of the
// newest ones. History is time ordered, so the cut is a prefix.
func trimHistory(history []models.MetricsSample, cutoff time.Time, max int) []models.MetricsSample {
	start := 0
	for start < len(history) && history[start].RecordedAt.Before(cutoff) {
		start++
	}
	if max > 0 && len(history)-start > max {
		start = len(history) - max
	}
	if start == 0 {
		return history
	}
	trimmed := make([]models.MetricsSample, len(history)-start)
	copy(trimmed, history[start:])
	return trimmed
}
