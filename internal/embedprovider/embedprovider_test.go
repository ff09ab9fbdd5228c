package embedprovider

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCacheKey_NormalizesWhitespaceAndCase(t *testing.T) {
	assert.Equal(t, cacheKey("Hello   World"), cacheKey("hello world"))
}

func TestCacheKey_DifferentTextDifferentKey(t *testing.T) {
	assert.NotEqual(t, cacheKey("hello"), cacheKey("goodbye"))
}

func TestTruncate_LeavesShortTextUnchanged(t *testing.T) {
	assert.Equal(t, "short text", truncate("short text"))
}

func TestTruncate_ClipsOverlongText(t *testing.T) {
	long := make([]byte, maxTokens*charsPerToken+100)
	for i := range long {
		long[i] = 'a'
	}
	got := truncate(string(long))
	assert.Len(t, got, maxTokens*charsPerToken)
}
