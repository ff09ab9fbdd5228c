// Package fallback implements C2's deterministic, dependency-free embedding
// provider: a character-trigram hash projection. It never errors and needs
// no network or API key, so it is always available as the failover target
// when the primary provider is unset or unreachable.
package fallback

import (
	"context"
	"hash/fnv"
	"math"
	"strings"

	registryembed "github.com/agentmem/memoryd/internal/registry/embed"
)

const (
	modelName = "fallback-trigram-hash-v1"
	dimension = 768
)

func init() {
	registryembed.Register(registryembed.Plugin{
		Name: "fallback",
		Loader: func(_ context.Context) (registryembed.Embedder, error) {
			return &Embedder{}, nil
		},
	})
}

// Embedder projects text into a fixed-dimension vector by hashing
// overlapping character trigrams into buckets, then L2-normalizing.
// Deterministic and stable across process restarts: same text always
// yields the same vector, which is all C5/C6 require of it.
type Embedder struct{}

func (e *Embedder) ModelName() string { return modelName }
func (e *Embedder) Dimension() int    { return dimension }

func (e *Embedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	for i, text := range texts {
		results[i] = embedOne(text)
	}
	return results, nil
}

func embedOne(text string) []float32 {
	vector := make([]float32, dimension)
	for _, gram := range trigrams(normalize(text)) {
		h := fnv.New64a()
		_, _ = h.Write([]byte(gram))
		sum := h.Sum64()
		idx := int(sum % uint64(dimension))
		sign := float32(1)
		if sum&(1<<63) != 0 {
			sign = -1
		}
		vector[idx] += sign
	}
	var norm float32
	for _, v := range vector {
		norm += v * v
	}
	if norm == 0 {
		return vector
	}
	inv := 1 / float32(math.Sqrt(float64(norm)))
	for i := range vector {
		vector[i] *= inv
	}
	return vector
}

func normalize(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

// trigrams returns every overlapping 3-rune window of s, padded with a
// boundary marker so short words still contribute at least one gram.
func trigrams(s string) []string {
	padded := " " + s + " "
	runes := []rune(padded)
	if len(runes) < 3 {
		return []string{padded}
	}
	grams := make([]string, 0, len(runes)-2)
	for i := 0; i+3 <= len(runes); i++ {
		grams = append(grams, string(runes[i:i+3]))
	}
	return grams
}

var _ registryembed.Embedder = (*Embedder)(nil)
