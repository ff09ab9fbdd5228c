// Package vectorsearch implements the Vector Search component (C5):
// dimension validation and distance-to-similarity conversion on top of
// Store.SearchVector. The vec0 index itself lives in the sqlite store
// plugin (spec.md §9).
package vectorsearch

import (
	"context"
	"time"

	"github.com/agentmem/memoryd/internal/apperr"
	registrystore "github.com/agentmem/memoryd/internal/registry/store"
	"github.com/agentmem/memoryd/internal/security"
)

// DefaultThreshold is the minimum similarity a pure vector-search call
// keeps; hybrid search applies its own, looser threshold at fusion time.
const DefaultThreshold = 0.7

// HybridThreshold is the looser floor C6 applies before fusing candidates.
const HybridThreshold = 0.5

// Hit is one ranked vector-search result.
type Hit struct {
	ID         string
	Similarity float64 // 1 - normalized distance, in [0,1]
}

// Searcher runs nearest-neighbor queries against a Store.
type Searcher struct {
	store registrystore.Store
	dim   int
}

// New returns a Searcher backed by store, validating query vectors against
// dim (the configured embedding dimension).
func New(store registrystore.Store, dim int) *Searcher {
	return &Searcher{store: store, dim: dim}
}

// Search runs vector against filters, keeping only hits at or above
// threshold, ordered by descending similarity.
func (s *Searcher) Search(ctx context.Context, vector []float32, filters registrystore.Filters, limit int, threshold float64) ([]Hit, bool, error) {
	if len(vector) != s.dim {
		return nil, false, apperr.Newf(apperr.Validation, "query vector dimension %d does not match configured dimension %d", len(vector), s.dim).WithField("vector")
	}
	start := time.Now()
	rows, available, err := s.store.SearchVector(ctx, vector, filters, limit)
	if security.StoreLatency != nil {
		security.StoreLatency.WithLabelValues("vector_search").Observe(time.Since(start).Seconds())
	}
	if err != nil {
		return nil, available, err
	}
	if !available {
		return nil, false, nil
	}

	hits := make([]Hit, 0, len(rows))
	for _, r := range rows {
		sim := similarity(r.Distance)
		if sim < threshold {
			continue
		}
		hits = append(hits, Hit{ID: r.ID, Similarity: sim})
	}
	return hits, true, nil
}

// maxL2Distance is the greatest possible L2 distance between two
// L2-normalized (unit) vectors: ||a-b||^2 = 2 - 2*cos(a,b), maximized at
// cos=-1, so ||a-b|| = 2. The fallback embedder L2-normalizes its vectors;
// embedprovider itself does not normalize, and primary vectors are stored
// as the remote endpoint returns them, so the bound assumes that endpoint
// returns unit vectors.
const maxL2Distance = 2.0

// similarity converts a raw L2 distance to a [0,1] similarity score by
// normalizing against the fixed maximum distance for unit vectors, so the
// documented absolute thresholds (DefaultThreshold, HybridThreshold) keep a
// consistent meaning across calls instead of floating with whatever the
// worst candidate in a given batch happens to be (spec.md §4.5:
// "similarity = 1 - normalized_distance").
func similarity(distance float64) float64 {
	normalized := distance / maxL2Distance
	if normalized < 0 {
		normalized = 0
	}
	if normalized > 1 {
		normalized = 1
	}
	return 1 - normalized
}

// ByID maps hits by memory id for hybrid fusion (C6).
func ByID(hits []Hit) map[string]float64 {
	m := make(map[string]float64, len(hits))
	for _, h := range hits {
		m[h.ID] = h.Similarity
	}
	return m
}
