// Package textsearch implements the Text Search component (C4): query
// preprocessing and candidate ranking on top of Store.SearchText. All FTS5
// access itself lives in the sqlite store plugin (spec.md §9).
package textsearch

import (
	"context"
	"regexp"
	"strings"
	"time"

	registrystore "github.com/agentmem/memoryd/internal/registry/store"
	"github.com/agentmem/memoryd/internal/security"
)

// rankCeiling bounds the native bm25-derived rank used to normalize a hit's
// score to [0,1]; ranks above this are clipped rather than exceeding 1.
const rankCeiling = 20.0

var nonWord = regexp.MustCompile(`[^\p{L}\p{N}\s]+`)

// stopWords is a short, English-biased list; non-English text passes
// through untouched since FTS5's unicode61 tokenizer already strips
// punctuation per Unicode rules.
var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "is": {}, "are": {}, "of": {}, "to": {}, "and": {},
}

// Hit is one ranked text-search result.
type Hit struct {
	ID    string
	Score float64 // normalized to [0,1]
}

// Searcher runs preprocessed lexical queries against a Store.
type Searcher struct {
	store registrystore.Store
}

// New returns a Searcher backed by store.
func New(store registrystore.Store) *Searcher {
	return &Searcher{store: store}
}

// Preprocess normalizes raw query text into an FTS5 MATCH expression:
// lower-cased, punctuation stripped, stop words dropped, terms OR'd so a
// query matches any constituent word (spec.md §4.4).
func Preprocess(query string) string {
	lower := strings.ToLower(strings.TrimSpace(query))
	cleaned := nonWord.ReplaceAllString(lower, " ")
	fields := strings.Fields(cleaned)
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		if _, stop := stopWords[f]; stop {
			continue
		}
		terms = append(terms, `"`+f+`"*`)
	}
	return strings.Join(terms, " OR ")
}

// Search runs query against filters, returning up to limit hits ordered by
// descending normalized score.
func (s *Searcher) Search(ctx context.Context, query string, filters registrystore.Filters, limit int) ([]Hit, error) {
	start := time.Now()
	ftsQuery := Preprocess(query)
	rows, err := s.store.SearchText(ctx, ftsQuery, filters, limit)
	if security.StoreLatency != nil {
		security.StoreLatency.WithLabelValues("text_search").Observe(time.Since(start).Seconds())
	}
	if err != nil {
		return nil, err
	}
	hits := make([]Hit, len(rows))
	for i, r := range rows {
		hits[i] = Hit{ID: r.ID, Score: normalizeRank(r.Rank)}
	}
	return hits, nil
}

func normalizeRank(rank float64) float64 {
	if rank <= 0 {
		return 0
	}
	n := rank / rankCeiling
	if n > 1 {
		n = 1
	}
	return n
}

// byID maps hits by memory id for hybrid fusion (C6).
func byID(hits []Hit) map[string]float64 {
	m := make(map[string]float64, len(hits))
	for _, h := range hits {
		m[h.ID] = h.Score
	}
	return m
}

// ByID exposes byID for the hybrid search fuser.
func ByID(hits []Hit) map[string]float64 { return byID(hits) }
