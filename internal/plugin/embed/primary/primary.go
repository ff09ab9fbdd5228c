// Package primary implements C2's primary embedding provider: an HTTP call
// to an OpenAI-embeddings-compatible endpoint. On any failure the caller
// (internal/embedprovider) falls back to the fallback plugin automatically.
package primary

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/agentmem/memoryd/internal/config"
	registryembed "github.com/agentmem/memoryd/internal/registry/embed"
)

func init() {
	registryembed.Register(registryembed.Plugin{
		Name:   "primary",
		Loader: load,
	})
}

func load(ctx context.Context) (registryembed.Embedder, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil {
		return nil, fmt.Errorf("primary embedder: missing config in context")
	}
	model := cfg.PrimaryEmbeddingModel
	if model == "" {
		model = "text-embedding-3-small"
	}
	dim := cfg.EmbeddingDimensions
	if dim <= 0 && strings.EqualFold(model, "text-embedding-3-small") {
		dim = 1536
	}
	return &Embedder{
		apiKey:     cfg.PrimaryEmbeddingAPIKey,
		model:      model,
		baseURL:    strings.TrimRight(cfg.PrimaryEmbeddingURL, "/"),
		dimensions: cfg.EmbeddingDimensions,
		defaultDim: dim,
	}, nil
}

// Embedder calls a remote, OpenAI-embeddings-shaped HTTP API.
type Embedder struct {
	apiKey     string
	model      string
	baseURL    string
	dimensions int
	defaultDim int
}

func (e *Embedder) ModelName() string { return e.model }
func (e *Embedder) Dimension() int    { return e.defaultDim }

type embeddingRequest struct {
	Input      []string `json:"input"`
	Model      string   `json:"model"`
	Dimensions *int     `json:"dimensions,omitempty"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// EmbedTexts implements registryembed.Embedder. Requires an API key; callers
// without credentials should select the fallback plugin instead (C2 policy).
func (e *Embedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if e.apiKey == "" {
		return nil, fmt.Errorf("primary embedder: no API key configured")
	}

	reqBody, err := json.Marshal(embeddingRequest{
		Input:      texts,
		Model:      e.model,
		Dimensions: ptrIfPositive(e.dimensions),
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embeddings", bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("primary embed request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("primary embed: read response: %w", err)
	}

	var result embeddingResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("primary embed: parse response: %w", err)
	}
	if result.Error != nil {
		return nil, fmt.Errorf("primary embed error: %s", result.Error.Message)
	}
	if len(result.Data) != len(texts) {
		return nil, fmt.Errorf("primary embed: expected %d embeddings, got %d", len(texts), len(result.Data))
	}

	// The API may return results in any order; sort by index.
	embeddings := make([][]float32, len(texts))
	for _, d := range result.Data {
		embeddings[d.Index] = d.Embedding
	}
	return embeddings, nil
}

func ptrIfPositive(v int) *int {
	if v <= 0 {
		return nil
	}
	return &v
}

var _ registryembed.Embedder = (*Embedder)(nil)
