package recommend

import (
	"regexp"
	"strconv"

	"github.com/reeldraft/reeldraft/internal/storage"
)

// priorityRank orders recommendations for bulk application. Unknown
// priorities rank as medium.
func priorityRank(priority string) int {
	switch priority {
	case storage.PriorityCritical:
		return 4
	case storage.PriorityHigh:
		return 3
	case storage.PriorityMedium:
		return 2
	case storage.PriorityLow:
		return 1
	default:
		return 2
	}
}

// ConfidenceForPriority derives a confidence value from a recommendation's
// priority, for recommendations whose source did not report one.
func ConfidenceForPriority(priority string) float64 {
	switch priority {
	case storage.PriorityCritical:
		return 0.9
	case storage.PriorityHigh:
		return 0.8
	case storage.PriorityMedium:
		return 0.65
	case storage.PriorityLow:
		return 0.5
	default:
		return 0.5
	}
}

var scoreDeltaRe = regexp.MustCompile(`[+-]?\d+`)

// ParseScoreDelta extracts the numeric point estimate from a free-text
// expected impact such as "+15 points". Returns nil when no number is found.
func ParseScoreDelta(expectedImpact string) *int {
	match := scoreDeltaRe.FindString(expectedImpact)
	if match == "" {
		return nil
	}
	n, err := strconv.Atoi(match)
	if err != nil {
		return nil
	}
	return &n
}
