package hybrid

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAdaptiveWeights_ShortTechnicalQueryBiasesVector(t *testing.T) {
	s := New(nil, nil, nil, nil)
	wText, wVec := s.AdaptiveWeights("api")
	assert.InDelta(t, 0.2, wText, 0.05)
	assert.InDelta(t, 0.8, wVec, 0.05)
}

func TestAdaptiveWeights_LongPhraseBiasesText(t *testing.T) {
	s := New(nil, nil, nil, nil)
	wText, wVec := s.AdaptiveWeights("how to implement authentication flow")
	assert.InDelta(t, 0.6, wText, 0.05)
	assert.InDelta(t, 0.4, wVec, 0.05)
}

func TestAdaptiveWeights_Memoized(t *testing.T) {
	s := New(nil, nil, nil, nil)
	w1a, w2a := s.AdaptiveWeights("api")
	w1b, w2b := s.AdaptiveWeights("API")
	assert.Equal(t, w1a, w1b)
	assert.Equal(t, w2a, w2b)
}

func TestAdaptiveWeights_SumToOne(t *testing.T) {
	s := New(nil, nil, nil, nil)
	wText, wVec := s.AdaptiveWeights("a general everyday sentence about nothing technical")
	assert.InDelta(t, 1.0, wText+wVec, 1e-9)
}
