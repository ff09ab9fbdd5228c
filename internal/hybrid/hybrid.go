// Package hybrid implements the Hybrid Search component (C6): adaptive
// text/vector weight mixing, parallel candidate fan-out, and score fusion
// over C4 (textsearch) and C5 (vectorsearch).
package hybrid

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/agentmem/memoryd/internal/model"
	"github.com/agentmem/memoryd/internal/rank"
	registrystore "github.com/agentmem/memoryd/internal/registry/store"
	"github.com/agentmem/memoryd/internal/textsearch"
	"github.com/agentmem/memoryd/internal/vectorsearch"
)

// technicalTokens bias adaptive weighting toward the vector side: short,
// jargon-dense queries tend to rely on semantic rather than lexical match.
var technicalTokens = map[string]struct{}{
	"api": {}, "sql": {}, "http": {}, "grpc": {}, "json": {}, "yaml": {},
	"go": {}, "rust": {}, "python": {}, "css": {}, "html": {}, "cli": {},
}

// defaultTextWeight/defaultVectorWeight are the starting point before
// per-query bias adjustment (spec.md §4.6).
const (
	defaultTextWeight   = 0.4
	defaultVectorWeight = 0.6
	qualityWeight       = 0.3
)

// Embedder is the subset of C2 hybrid search needs: embed the query text,
// or fail (at which point the vector side is skipped entirely).
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Result is one fused hit.
type Result struct {
	Item      model.MemoryItem
	Score     float64
	TextHit   bool
	VectorHit bool
}

// Stats is the per-normalized-query bucket updated on every search.
type Stats struct {
	TextHits   int
	VectorHits int
	Total      int
}

// Searcher orchestrates C4 and C5 and fuses their candidates with C3.
type Searcher struct {
	store    registrystore.Store
	text     *textsearch.Searcher
	vector   *vectorsearch.Searcher
	embedder Embedder

	mu          sync.Mutex
	weightCache map[string][2]float64
	statsCache  map[string]*Stats
}

// New returns a Searcher wired to store's text/vector backends.
func New(store registrystore.Store, text *textsearch.Searcher, vector *vectorsearch.Searcher, embedder Embedder) *Searcher {
	return &Searcher{
		store:       store,
		text:        text,
		vector:      vector,
		embedder:    embedder,
		weightCache: make(map[string][2]float64),
		statsCache:  make(map[string]*Stats),
	}
}

// AdaptiveWeights computes (w_text, w_vec) for query, memoized per
// normalized query key (spec.md §4.6 step 2).
func (s *Searcher) AdaptiveWeights(query string) (float64, float64) {
	key := normalizeKey(query)
	s.mu.Lock()
	if w, ok := s.weightCache[key]; ok {
		s.mu.Unlock()
		return w[0], w[1]
	}
	s.mu.Unlock()

	wText, wVec := defaultTextWeight, defaultVectorWeight
	fields := strings.Fields(key)

	// Biases transfer weight between the two sides rather than accumulate
	// independently, and apply in priority order (a query matching an
	// earlier rule doesn't also take a later one) — this is what
	// reproduces the documented worked examples exactly.
	switch {
	case hasTechnicalToken(fields):
		wText -= 0.2
		wVec += 0.2
	case len(fields) >= 3:
		wText += 0.2
		wVec -= 0.2
	case len(key) <= 10:
		wText -= 0.1
		wVec += 0.1
	}
	wText, wVec = clip01(wText), clip01(wVec)
	total := wText + wVec
	if total > 0 {
		wText, wVec = wText/total, wVec/total
	}

	s.mu.Lock()
	s.weightCache[key] = [2]float64{wText, wVec}
	s.mu.Unlock()
	return wText, wVec
}

func normalizeKey(query string) string {
	return strings.ToLower(strings.Join(strings.Fields(query), " "))
}

func hasTechnicalToken(fields []string) bool {
	for _, f := range fields {
		if _, ok := technicalTokens[f]; ok {
			return true
		}
	}
	return false
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

// Weights is an explicit (w_text, w_vec) pair a caller can supply to
// override AdaptiveWeights for a single search (spec.md §6 hybrid_search
// textWeight/vectorWeight input).
type Weights struct {
	Text   float64
	Vector float64
}

// Search runs the full C6 algorithm and returns up to limit fused results.
// override, when non-nil, replaces the adaptively computed (w_text, w_vec)
// for this call only; the weight cache keyed on query text is unaffected.
func (s *Searcher) Search(ctx context.Context, query string, filters registrystore.Filters, limit int, override *Weights) ([]Result, error) {
	normalized := strings.TrimSpace(query)
	if normalized == "" && isZeroFilters(filters) {
		return nil, nil
	}

	var wText, wVec float64
	if override != nil {
		wText, wVec = clip01(override.Text), clip01(override.Vector)
		if total := wText + wVec; total > 0 {
			wText, wVec = wText/total, wVec/total
		}
	} else {
		wText, wVec = s.AdaptiveWeights(normalized)
	}
	fetchLimit := limit * 2

	var textHits []textsearch.Hit
	var vectorHits []vectorsearch.Hit
	var vectorAvailable bool

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		hits, err := s.text.Search(gctx, normalized, filters, fetchLimit)
		if err != nil {
			return err
		}
		textHits = hits
		return nil
	})
	if s.embedder != nil {
		group.Go(func() error {
			vec, err := s.embedder.EmbedQuery(gctx, normalized)
			if err != nil {
				// Embedding failure degrades to text-only, not a hard error.
				return nil
			}
			hits, available, err := s.vector.Search(gctx, vec, filters, fetchLimit, vectorsearch.HybridThreshold)
			if err != nil {
				return nil
			}
			vectorHits = hits
			vectorAvailable = available
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	fused := s.fuse(ctx, textHits, vectorHits, wText, wVec)
	sort.SliceStable(fused, func(i, j int) bool {
		if fused[i].Score != fused[j].Score {
			return fused[i].Score > fused[j].Score
		}
		if !fused[i].Item.CreatedAt.Equal(fused[j].Item.CreatedAt) {
			return fused[i].Item.CreatedAt.After(fused[j].Item.CreatedAt)
		}
		return fused[i].Item.ID < fused[j].Item.ID
	})
	if len(fused) > limit {
		fused = fused[:limit]
	}

	s.recordStats(normalized, len(textHits), len(vectorHits), len(fused))
	_ = vectorAvailable
	return fused, nil
}

func isZeroFilters(f registrystore.Filters) bool {
	return len(f.IDs) == 0 && len(f.Types) == 0 && len(f.PrivacyScope) == 0 &&
		f.Pinned == nil && f.TimeFrom == nil && f.TimeTo == nil &&
		f.ProjectID == nil && f.UserID == nil && f.AgentID == nil
}

func (s *Searcher) fuse(ctx context.Context, textHits []textsearch.Hit, vectorHits []vectorsearch.Hit, wText, wVec float64) []Result {
	textByID := textsearch.ByID(textHits)
	vecByID := vectorsearch.ByID(vectorHits)

	ids := make(map[string]struct{}, len(textByID)+len(vecByID))
	for id := range textByID {
		ids[id] = struct{}{}
	}
	for id := range vecByID {
		ids[id] = struct{}{}
	}

	var selected []string
	results := make([]Result, 0, len(ids))
	for id := range ids {
		item, err := s.store.Get(ctx, id)
		if err != nil {
			continue // vanished between candidate fetch and fusion
		}
		textScore, hasText := textByID[id]
		vecScore, hasVec := vecByID[id]

		quality := s.qualityComponent(item, selected)
		score := wText*textScore + wVec*vecScore + qualityWeight*quality
		selected = append(selected, item.Content)

		results = append(results, Result{
			Item: item, Score: score, TextHit: hasText, VectorHit: hasVec,
		})
	}
	return results
}

// qualityComponent is the "scalar from C3 combining recency/importance/
// usage/dup-penalty" the fusion step adds alongside the raw text/vector
// scores (spec.md §4.6 step 4).
func (s *Searcher) qualityComponent(item model.MemoryItem, selectedSoFar []string) float64 {
	now := time.Now().UTC()
	recency := rank.Recency(item.Type, item.CreatedAt, now)
	importance := rank.Importance(item.Importance, item.Type, item.Pinned)
	usage := rank.Usage(item.LastAccessed, now, item.ViewCount, item.CiteCount, item.EditCount)
	dup := rank.DuplicationPenalty(item.Content, selectedSoFar)
	return 0.4*recency + 0.3*importance + 0.3*usage - 0.2*dup
}

func (s *Searcher) recordStats(normalizedQuery string, textHits, vectorHits, total int) {
	key := normalizeKey(normalizedQuery)
	s.mu.Lock()
	defer s.mu.Unlock()
	bucket, ok := s.statsCache[key]
	if !ok {
		bucket = &Stats{}
		s.statsCache[key] = bucket
	}
	bucket.TextHits += textHits
	bucket.VectorHits += vectorHits
	bucket.Total += total
}

// StatsFor returns the accumulated stats bucket for a normalized query, or
// the zero value if the query has never been searched.
func (s *Searcher) StatsFor(query string) Stats {
	key := normalizeKey(query)
	s.mu.Lock()
	defer s.mu.Unlock()
	if bucket, ok := s.statsCache[key]; ok {
		return *bucket
	}
	return Stats{}
}
