package rank

import (
	"testing"
	"time"

	"github.com/agentmem/memoryd/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScore_RankingWeightsScenario(t *testing.T) {
	f := Features{Relevance: 0.9, Recency: 0.8, Importance: 0.6, Usage: 0.4, Duplication: 0.2}
	got := Score(f, DefaultWeights())
	assert.InDelta(t, 0.74, got, 1e-5)
}

func TestScore_RankingWeightLaw(t *testing.T) {
	w := DefaultWeights()
	f := Features{Relevance: 0.7, Recency: 0.5, Importance: 0.3, Usage: 0.9, Duplication: 0.4}
	g := Features{Relevance: 0.2, Recency: 0.9, Importance: 0.8, Usage: 0.1, Duplication: 0.1}

	lhs := Score(f, w) - Score(g, w)
	rhs := w.Relevance*(f.Relevance-g.Relevance) +
		w.Recency*(f.Recency-g.Recency) +
		w.Importance*(f.Importance-g.Importance) +
		w.Usage*(f.Usage-g.Usage) -
		w.Duplication*(f.Duplication-g.Duplication)

	assert.InDelta(t, rhs, lhs, 1e-9)
}

func TestRecency_MonotoneWithAge(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	older := Recency(model.MemoryTypeSemantic, now.Add(-10*24*time.Hour), now)
	newer := Recency(model.MemoryTypeSemantic, now.Add(-1*24*time.Hour), now)
	assert.Greater(t, newer, older)
}

func TestUsage_MonotoneWithViews(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	last := now.Add(-60 * 24 * time.Hour) // decay term near zero
	low := Usage(&last, now, 1, 0, 0)
	high := Usage(&last, now, 50, 0, 0)
	assert.GreaterOrEqual(t, high, low)
}

func TestUsage_FloorWhenNoSignal(t *testing.T) {
	require.InDelta(t, 0.1, Usage(nil, time.Now(), 0, 0, 0), 1e-9)
}

func TestUsage_MonotoneAcrossFloorBoundary(t *testing.T) {
	now := time.Now()
	zero := Usage(nil, now, 0, 0, 0)
	one := Usage(nil, now, 1, 0, 0)
	assert.GreaterOrEqual(t, one, zero)
}

func TestDuplicationPenalty_EmptySelection(t *testing.T) {
	assert.Equal(t, 0.0, DuplicationPenalty("anything", nil))
}

func TestDuplicationPenalty_IdenticalContent(t *testing.T) {
	sim := DuplicationPenalty("the quick brown fox", []string{"the quick brown fox"})
	assert.InDelta(t, 1.0, sim, 1e-9)
}
