package textsearch

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPreprocess_DropsStopWordsAndPunctuation(t *testing.T) {
	got := Preprocess("How to implement THE Authentication flow?")
	assert.NotContains(t, got, `"the"*`)
	assert.Contains(t, got, `"authentication"*`)
	assert.Contains(t, got, `"flow"*`)
}

func TestPreprocess_EmptyQueryYieldsEmptyExpression(t *testing.T) {
	assert.Equal(t, "", Preprocess("   "))
}

func TestNormalizeRank_ClipsToUnitInterval(t *testing.T) {
	assert.Equal(t, 0.0, normalizeRank(-1))
	assert.Equal(t, 1.0, normalizeRank(rankCeiling*2))
	assert.InDelta(t, 0.5, normalizeRank(rankCeiling/2), 1e-9)
}
