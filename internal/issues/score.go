package issues

import (
	"math"
	"time"
)

// severityBase anchors the score so a critical issue seen once already
// outranks an info issue seen thousands of times.
var severityBase = map[string]float64{
	SeverityCritical: 40,
	SeverityHigh:     30,
	SeverityMedium:   20,
	SeverityLow:      10,
	SeverityInfo:     5,
}

const unknownSeverityBase = 20

// ImpactScore ranks an issue 0-100 for triage ordering.
func ImpactScore(severity string, occurrences, users, sessions int64, lastSeen time.Time) int {
	return ImpactScoreAt(severity, occurrences, users, sessions, lastSeen, time.Now())
}

// ImpactScoreAt is ImpactScore with an explicit clock, so the recency
// component is deterministic.
func ImpactScoreAt(severity string, occurrences, users, sessions int64, lastSeen, now time.Time) int {
	base, ok := severityBase[severity]
	if !ok {
		base = unknownSeverityBase
	}

	frequency := math.Min(25, math.Log10(float64(occurrences)+1)*10)
	userReach := math.Min(20, float64(users)*4)
	sessionReach := math.Min(10, float64(sessions)*2)

	score := base + frequency + userReach + sessionReach + recencyBonus(now.Sub(lastSeen))
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return int(math.Round(score))
}

func recencyBonus(sinceLastSeen time.Duration) float64 {
	switch {
	case sinceLastSeen < time.Hour:
		return 5
	case sinceLastSeen < 24*time.Hour:
		return 3
	case sinceLastSeen < 7*24*time.Hour:
		return 1
	default:
		return 0
	}
}
