package contextinject

import (
	"testing"

	"github.com/agentmem/memoryd/internal/model"
	"github.com/stretchr/testify/assert"
)

func TestClampStars(t *testing.T) {
	assert.Equal(t, 0, clampStars(-1))
	assert.Equal(t, 4, clampStars(0.8))
	assert.Equal(t, 5, clampStars(1.5))
}

func TestFormatEntry_IncludesEmojiAndStars(t *testing.T) {
	item := model.MemoryItem{Type: model.MemoryTypeSemantic, Importance: 0.8, Content: "remember this"}
	entry := formatEntry(1, item)
	assert.Contains(t, entry, "📚")
	assert.Contains(t, entry, "★★★★☆")
	assert.Contains(t, entry, "remember this")
}

func TestSummarizeToFit_EmptyBudgetYieldsEmpty(t *testing.T) {
	assert.Equal(t, "", summarizeToFit("1. some long content here.", 0))
}

func TestSummarizeToFit_TruncatesToWholeSentences(t *testing.T) {
	entry := "First sentence. Second sentence. Third sentence."
	got := summarizeToFit(entry, 6) // ~24 chars
	assert.Contains(t, got, "First sentence.")
	assert.NotContains(t, got, "Third sentence.")
}

func TestRender_NoResultsMessage(t *testing.T) {
	assert.Equal(t, "No related memories were found for this context.", NoRelatedMemoriesMessage)
}
