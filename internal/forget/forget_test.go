package forget

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScore_PinDominance(t *testing.T) {
	base := Features{Recency: 0.5, Usage: 0.5, DuplicationRatio: 0.2, Importance: 0.4}
	unpinned := base
	pinned := base
	pinned.Pinned = true

	diff := Score(unpinned) - Score(pinned)
	assert.InDelta(t, weightPinned, diff, 1e-9)
}

func TestShouldForget_ThresholdLaw(t *testing.T) {
	assert.True(t, ShouldForget(SoftThreshold))
	assert.True(t, ShouldForget(SoftThreshold+0.01))
	assert.False(t, ShouldForget(SoftThreshold-0.01))
}

func TestAnalyzeCandidates_ScenarioOrdering(t *testing.T) {
	// spec.md §8 scenario 2: A old/low-importance/unpinned, B new/high-importance/pinned,
	// C mid-age with modest engagement. Expect F_A > F_C > F_B, F_A >= 0.6, F_B < 0.3.
	// All three share one type, so each carries the batch job's duplication
	// ratio of 2/3 (two other items of its type out of three).
	// F_A ≈ 0.671, F_C ≈ 0.458, F_B ≈ -0.255.
	a := Item{ID: "A", Features: Features{Recency: 0.02, Usage: 0.1, DuplicationRatio: 2.0 / 3.0, Importance: 0.2, Pinned: false}}
	b := Item{ID: "B", Features: Features{Recency: 0.98, Usage: 0.9, DuplicationRatio: 2.0 / 3.0, Importance: 0.8, Pinned: true}}
	c := Item{ID: "C", Features: Features{Recency: 0.4, Usage: 0.3, DuplicationRatio: 2.0 / 3.0, Importance: 0.4, Pinned: false}}

	results := AnalyzeCandidates([]Item{a, b, c})
	byID := map[string]Candidate{}
	for _, r := range results {
		byID[r.ID] = r
	}

	assert.Greater(t, byID["A"].Score, byID["C"].Score)
	assert.Greater(t, byID["C"].Score, byID["B"].Score)
	assert.GreaterOrEqual(t, byID["A"].Score, SoftThreshold)
	assert.Less(t, byID["B"].Score, 0.3)
}

func TestReason_NoThresholdsCrossed(t *testing.T) {
	f := Features{Recency: 0.9, Usage: 0.9, DuplicationRatio: 0.1, Importance: 0.9, Pinned: true}
	reason := Reason(f, Score(f))
	assert.Contains(t, reason, "high score")
}
