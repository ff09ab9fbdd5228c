package vectorsearch

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSimilarity_ZeroDistanceIsPerfectMatch(t *testing.T) {
	assert.Equal(t, 1.0, similarity(0))
}

func TestSimilarity_MaxL2DistanceIsZero(t *testing.T) {
	assert.Equal(t, 0.0, similarity(maxL2Distance))
}

func TestSimilarity_HalfMaxDistanceIsHalfSimilarity(t *testing.T) {
	assert.Equal(t, 0.5, similarity(maxL2Distance/2))
}

func TestSimilarity_FixedScaleNotRelativeToBatch(t *testing.T) {
	// A uniformly poor batch (all distances near the max) must not get
	// rescaled into a near-1.0 similarity for its "best" member.
	poor := similarity(maxL2Distance * 0.95)
	assert.Less(t, poor, 0.1)
}

func TestSimilarity_DistanceBeyondMaxClampsToZero(t *testing.T) {
	assert.Equal(t, 0.0, similarity(maxL2Distance+1))
}
