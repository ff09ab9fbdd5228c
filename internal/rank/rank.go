// Package rank implements the Ranking Engine (C3): a pure function over
// per-candidate features, no I/O. Every exported function here is safe to
// call from any goroutine and has no shared state.
package rank

import (
	"math"
	"strings"
	"time"

	"github.com/agentmem/memoryd/internal/model"
)

// Default linear weights from spec.md §4.3.
const (
	WeightRelevance = 0.50
	WeightRecency   = 0.20
	WeightImportance = 0.20
	WeightUsage     = 0.10
	WeightDuplication = 0.15
)

// Weights overrides the default linear combination. Score uses the fields
// as given, so a zero value weights every term at 0; DefaultWeights()
// returns the package defaults.
type Weights struct {
	Relevance    float64
	Recency      float64
	Importance   float64
	Usage        float64
	Duplication  float64
}

// DefaultWeights returns the weights from spec.md §4.3.
func DefaultWeights() Weights {
	return Weights{
		Relevance:   WeightRelevance,
		Recency:     WeightRecency,
		Importance:  WeightImportance,
		Usage:       WeightUsage,
		Duplication: WeightDuplication,
	}
}

// Features is the feature vector the ranking function combines. All fields
// except Duplication live in [0,1]; Duplication is a penalty in [0,1].
type Features struct {
	Relevance   float64
	Recency     float64
	Importance  float64
	Usage       float64
	Duplication float64
}

// Score combines features into the final ranking score (spec.md §4.3). May
// be negative; callers sort descending.
func Score(f Features, w Weights) float64 {
	return w.Relevance*f.Relevance +
		w.Recency*f.Recency +
		w.Importance*f.Importance +
		w.Usage*f.Usage -
		w.Duplication*f.Duplication
}

var halfLifeDays = map[model.MemoryType]float64{
	model.MemoryTypeWorking:    2,
	model.MemoryTypeEpisodic:   30,
	model.MemoryTypeProcedural: 90,
	model.MemoryTypeSemantic:   180,
}

// HalfLife returns the recency half-life in days for t, defaulting to 30.
func HalfLife(t model.MemoryType) float64 {
	if d, ok := halfLifeDays[t]; ok {
		return d
	}
	return 30
}

// Recency computes exp(-ln2 * age_days / half_life(type)).
func Recency(t model.MemoryType, createdAt time.Time, now time.Time) float64 {
	ageDays := now.Sub(createdAt).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	return math.Exp(-math.Ln2 * ageDays / HalfLife(t))
}

var importanceBoost = map[model.MemoryType]float64{
	model.MemoryTypeSemantic:   0.15,
	model.MemoryTypeProcedural: 0.10,
	model.MemoryTypeEpisodic:   0.05,
	model.MemoryTypeWorking:    0.0,
}

// Importance adjusts the stored importance by a type-specific boost and a
// pinned boost, clipped to [0,1].
func Importance(stored float64, t model.MemoryType, pinned bool) float64 {
	v := stored + importanceBoost[t]
	if pinned {
		v += 0.2
	}
	return clip01(v)
}

// Usage implements the usage feature from spec.md §4.3: the larger of a
// time-decay signal and a normalized engagement signal, floored at 0.1
// when there is no usable signal at all.
func Usage(lastAccessed *time.Time, now time.Time, views, cites, edits int) float64 {
	decay := 0.0
	if lastAccessed != nil {
		daysSince := now.Sub(*lastAccessed).Hours() / 24
		if daysSince < 0 {
			daysSince = 0
		}
		decay = math.Exp(-daysSince / 30)
	}
	engagement := normalizeEngagement(views, cites, edits)
	u := math.Max(decay, engagement)
	if lastAccessed == nil {
		return math.Max(0.1, clip01(u))
	}
	return clip01(u)
}

const usageCeiling = 10.0

func normalizeEngagement(views, cites, edits int) float64 {
	raw := math.Log1p(float64(views)) + 2*math.Log1p(float64(cites)) + 0.5*math.Log1p(float64(edits))
	return clip01(raw / usageCeiling)
}

// DuplicationPenalty returns the maximum 3-gram Jaccard similarity between
// content and each item already selected. Returns 0 for an empty selection.
func DuplicationPenalty(content string, selected []string) float64 {
	if len(selected) == 0 {
		return 0
	}
	a := trigramSet(content)
	var max float64
	for _, other := range selected {
		sim := jaccard(a, trigramSet(other))
		if sim > max {
			max = sim
		}
	}
	return max
}

func trigramSet(s string) map[string]struct{} {
	s = strings.ToLower(strings.Join(strings.Fields(s), " "))
	runes := []rune(s)
	set := make(map[string]struct{})
	if len(runes) < 3 {
		if len(runes) > 0 {
			set[string(runes)] = struct{}{}
		}
		return set
	}
	for i := 0; i+3 <= len(runes); i++ {
		set[string(runes[i:i+3])] = struct{}{}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for k := range a {
		if _, ok := b[k]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func clip01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
