// Package forget implements the Forgetting Engine (C7): a pure per-item
// forget-score computation and batch classification. Selection here is
// advisory only — actual deletion happens in internal/batch under a write
// transaction that re-reads each candidate and re-checks invariants.
package forget

import (
	"fmt"
	"sort"

	"github.com/agentmem/memoryd/internal/model"
)

// SoftThreshold and HardThreshold resolve spec.md §9's "two forgetting
// thresholds" open question as two named knobs: 0.6 drives batch
// soft-delete/review selection, 0.8 drives hard-delete selection.
const (
	SoftThreshold = 0.6
	HardThreshold = 0.8
)

const (
	weightRecency      = 0.35
	weightUsage        = 0.25
	weightDuplication  = 0.20
	weightImportance   = 0.15
	weightPinned       = 0.30
)

// Features is the forget-score input vector (spec.md §4.7).
type Features struct {
	Recency           float64
	Usage             float64
	DuplicationRatio  float64
	Importance        float64
	Pinned            bool
}

// Score computes F from the feature vector.
func Score(f Features) float64 {
	pinnedBit := 0.0
	if f.Pinned {
		pinnedBit = 1.0
	}
	return weightRecency*(1-f.Recency) +
		weightUsage*(1-f.Usage) +
		weightDuplication*f.DuplicationRatio -
		weightImportance*f.Importance -
		weightPinned*pinnedBit
}

// ShouldForget reports whether F crosses the soft (default) threshold.
func ShouldForget(f float64) bool {
	return f >= SoftThreshold
}

// ShouldHardDelete reports whether F crosses the hard threshold and the
// item is not pinned — pinned items are never hard-delete candidates
// regardless of score (spec.md §3 invariant).
func ShouldHardDelete(f float64, pinned bool) bool {
	return f >= HardThreshold && !pinned
}

// Reason derives a human-readable explanation by inspecting which inputs
// crossed their individual thresholds (spec.md §4.7).
func Reason(f Features, score float64) string {
	var reasons []string
	if f.Recency < 0.3 {
		reasons = append(reasons, "recency<0.3")
	}
	if f.Usage < 0.2 {
		reasons = append(reasons, "usage<0.2")
	}
	if f.DuplicationRatio > 0.7 {
		reasons = append(reasons, "duplication_ratio>0.7")
	}
	if f.Importance < 0.3 {
		reasons = append(reasons, "importance<0.3")
	}
	if !f.Pinned {
		reasons = append(reasons, "unpinned")
	}
	if len(reasons) == 0 {
		return fmt.Sprintf("high score (F=%.3f)", score)
	}
	out := reasons[0]
	for _, r := range reasons[1:] {
		out += ", " + r
	}
	return out
}

// Candidate is one row of analyzeCandidates' output (spec.md §4.7).
type Candidate struct {
	ID           string
	Score        float64
	ShouldForget bool
	Reason       string
	Features     Features
}

// Item is the minimal input analyzeCandidates needs per memory, decoupled
// from the Store's row shape so this package stays I/O-free.
type Item struct {
	ID       string
	Type     model.MemoryType
	Pinned   bool
	Features Features
}

// AnalyzeCandidates scores every item and sorts the result by F descending,
// matching spec.md §4.7's analyzeCandidates contract.
func AnalyzeCandidates(items []Item) []Candidate {
	out := make([]Candidate, len(items))
	for i, item := range items {
		s := Score(item.Features)
		out[i] = Candidate{
			ID:           item.ID,
			Score:        s,
			ShouldForget: ShouldForget(s),
			Reason:       Reason(item.Features, s),
			Features:     item.Features,
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// DuplicationRatio computes duplicates_of_same_type / total_items, the
// first-approximation duplication signal spec.md §4.7 names.
func DuplicationRatio(duplicatesOfSameType, totalItems int) float64 {
	if totalItems <= 0 {
		return 0
	}
	return float64(duplicatesOfSameType) / float64(totalItems)
}
