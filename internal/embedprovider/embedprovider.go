// Package embedprovider implements the Embedding Provider component (C2):
// a ristretto cache in front of the selected embedder, with automatic
// primary→fallback failover. The cache admits and evicts by access
// frequency (TinyLFU), not in least-recently-used order.
package embedprovider

import (
	"context"
	"hash/fnv"
	"strconv"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/dgraph-io/ristretto/v2"

	"github.com/agentmem/memoryd/internal/apperr"
	registryembed "github.com/agentmem/memoryd/internal/registry/embed"
	"github.com/agentmem/memoryd/internal/security"
)

// maxTokens bounds text length before embedding via the same 4-char
// heuristic the rest of the engine uses for budget accounting.
const (
	charsPerToken = 4
	maxTokens     = 8000
)

// Provider wraps a primary embedder with a fallback and a cache keyed on
// normalized text.
type Provider struct {
	primary  registryembed.Embedder
	fallback registryembed.Embedder
	cache    *ristretto.Cache[string, []float32]

	mu            sync.Mutex
	usingFallback bool
}

// New returns a Provider. fallback must never itself fail; primary may be
// nil if no remote provider is configured.
func New(primary, fallback registryembed.Embedder, cacheCapacity int64) (*Provider, error) {
	if cacheCapacity <= 0 {
		cacheCapacity = 1000
	}
	cache, err := ristretto.NewCache(&ristretto.Config[string, []float32]{
		NumCounters: cacheCapacity * 10,
		MaxCost:     cacheCapacity,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Provider{primary: primary, fallback: fallback, cache: cache}, nil
}

// ModelName returns the active model's name (primary unless it has failed
// over to fallback).
func (p *Provider) ModelName() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.usingFallback || p.primary == nil {
		return p.fallback.ModelName()
	}
	return p.primary.ModelName()
}

// EmbedQuery embeds a single query string, consulting the cache first.
func (p *Provider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := p.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedTexts embeds each text, using the cache per-entry and batching the
// remaining cache misses to the active embedder.
func (p *Provider) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string

	for i, t := range texts {
		key := cacheKey(t)
		if v, ok := p.cache.Get(key); ok {
			out[i] = v
			if security.CacheHitsTotal != nil {
				security.CacheHitsTotal.Inc()
			}
			continue
		}
		if security.CacheMissesTotal != nil {
			security.CacheMissesTotal.Inc()
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, truncate(t))
	}

	if len(missTexts) == 0 {
		return out, nil
	}

	vectors, err := p.embedWithFailover(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	for j, idx := range missIdx {
		out[idx] = vectors[j]
		p.cache.Set(cacheKey(texts[idx]), vectors[j], 1)
	}
	return out, nil
}

func (p *Provider) embedWithFailover(ctx context.Context, texts []string) ([][]float32, error) {
	p.mu.Lock()
	useFallback := p.usingFallback || p.primary == nil
	p.mu.Unlock()

	if !useFallback {
		vectors, err := p.primary.EmbedTexts(ctx, texts)
		if err == nil {
			return vectors, nil
		}
		p.mu.Lock()
		alreadyFailedOver := p.usingFallback
		p.usingFallback = true
		p.mu.Unlock()
		if !alreadyFailedOver {
			log.Warn("embedding provider failed over to fallback", "primary_model", p.primary.ModelName(), "fallback_model", p.fallback.ModelName(), "error", err)
		}
	}

	vectors, err := p.fallback.EmbedTexts(ctx, texts)
	if err != nil {
		return nil, apperr.Wrap(apperr.ProviderUnavailable, err, "all embedding providers failed")
	}
	return vectors, nil
}

// Dimension returns the active embedder's dimension.
func (p *Provider) Dimension() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.usingFallback || p.primary == nil {
		return p.fallback.Dimension()
	}
	return p.primary.Dimension()
}

func truncate(text string) string {
	maxChars := maxTokens * charsPerToken
	if len(text) <= maxChars {
		return text
	}
	return text[:maxChars]
}

func cacheKey(text string) string {
	normalized := strings.ToLower(strings.Join(strings.Fields(text), " "))
	h := fnv.New64a()
	_, _ = h.Write([]byte(normalized))
	return strconv.FormatUint(h.Sum64(), 16)
}
