package batch

import (
	"testing"
	"time"

	"github.com/agentmem/memoryd/internal/model"
	"github.com/stretchr/testify/assert"
)

func TestBuildForgetCandidates_DuplicationRatioUsesSameTypeCount(t *testing.T) {
	now := time.Now().UTC()
	items := []model.MemoryItem{
		{ID: "a", Type: model.MemoryTypeSemantic, CreatedAt: now, Importance: 0.5},
		{ID: "b", Type: model.MemoryTypeSemantic, CreatedAt: now, Importance: 0.5},
		{ID: "c", Type: model.MemoryTypeEpisodic, CreatedAt: now, Importance: 0.5},
	}
	candidates := buildForgetCandidates(items)
	assert.Len(t, candidates, 3)
	// item a and b share type "semantic": 1 other same-type item out of 3 total.
	assert.InDelta(t, 1.0/3.0, candidates[0].Features.DuplicationRatio, 1e-9)
	// item c is alone in its type.
	assert.InDelta(t, 0.0, candidates[2].Features.DuplicationRatio, 1e-9)
}

func TestScheduler_DropsOverlappingTick(t *testing.T) {
	s := New(nil, nil, time.Hour, time.Hour, nil)
	assert.True(t, s.cleanupState.CompareAndSwap(int32(jobIdle), int32(jobRunning)))
	assert.False(t, s.cleanupState.CompareAndSwap(int32(jobIdle), int32(jobRunning)))
}

func TestInCooldown(t *testing.T) {
	s := New(nil, nil, time.Hour, time.Hour, nil)
	now := time.Now().UTC()
	assert.False(t, s.inCooldown("cpu_percent", now, time.Minute))
	s.recordAlert("cpu_percent", now)
	assert.True(t, s.inCooldown("cpu_percent", now.Add(30*time.Second), time.Minute))
	assert.False(t, s.inCooldown("cpu_percent", now.Add(2*time.Minute), time.Minute))
}
