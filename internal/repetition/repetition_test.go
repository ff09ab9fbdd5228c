package repetition

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNextInterval_Scenario(t *testing.T) {
	f := Features{Importance: 0.8, Usage: 0.6, HelpfulFeedback: 0.4, BadFeedback: 0.2}
	assert.Equal(t, 13, NextInterval(7, f))
}

func TestNextInterval_ZeroFeaturesLeavesIntervalUnchanged(t *testing.T) {
	assert.Equal(t, 7, NextInterval(7, Features{}))
}

func TestNextInterval_ClampedToAtLeastOne(t *testing.T) {
	f := Features{BadFeedback: 1}
	assert.GreaterOrEqual(t, NextInterval(1, f), 1)
}

func TestAdaptiveAdjust(t *testing.T) {
	assert.Equal(t, 12, AdaptiveAdjust(10, 0.9))
	assert.Equal(t, 8, AdaptiveAdjust(10, 0.3))
	assert.Equal(t, 10, AdaptiveAdjust(10, 0.65))
}
