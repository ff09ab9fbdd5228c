// Package repetition implements the Spaced-Repetition Scheduler (C8):
// pure interval-update and recall-probability formulas, no I/O.
package repetition

import "math"

// Features drives nextInterval (spec.md §4.8); all fields lie in [0,1].
type Features struct {
	Importance      float64
	Usage           float64
	HelpfulFeedback float64
	BadFeedback     float64
}

// NextInterval computes the next review interval in days from the current
// interval and feedback features, clamped to at least 1 day.
func NextInterval(currentIntervalDays float64, f Features) int {
	factor := 1 + 0.6*f.Importance + 0.4*f.Usage + 0.5*f.HelpfulFeedback - 0.7*f.BadFeedback
	next := math.Ceil(currentIntervalDays * factor)
	if next < 1 {
		next = 1
	}
	return int(next)
}

// RecallProbability returns exp(-deltaT/interval), the probability a
// review is still "fresh" deltaT days after the last review.
func RecallProbability(deltaTDays, intervalDays float64) float64 {
	if intervalDays <= 0 {
		return 0
	}
	return math.Exp(-deltaTDays / intervalDays)
}

// DefaultDueThreshold is the recall-probability floor below which a review
// is considered due (spec.md §4.8).
const DefaultDueThreshold = 0.7

// IsDue reports whether a review is due given the recall probability and
// threshold (pass DefaultDueThreshold when the caller has no override).
func IsDue(recallProbability, threshold float64) bool {
	return recallProbability < threshold
}

// AdaptiveAdjust scales a just-computed interval by the recent recall
// success rate: >0.8 multiplies by 1.2, <0.5 multiplies by 0.8, otherwise
// the interval is left unchanged.
func AdaptiveAdjust(intervalDays int, recentSuccessRate float64) int {
	switch {
	case recentSuccessRate > 0.8:
		return int(math.Ceil(float64(intervalDays) * 1.2))
	case recentSuccessRate < 0.5:
		return int(math.Ceil(float64(intervalDays) * 0.8))
	default:
		return intervalDays
	}
}
