// Package config holds the memory engine's environment-backed
// configuration (spec.md §6). The engine itself never reads the
// environment directly — internal/cmd binds these fields to CLI
// flags/env vars and threads the result through context.Context.
package config

import (
	"context"
	"time"
)

type contextKey struct{}

// WithContext returns a new context carrying the given Config.
func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, contextKey{}, cfg)
}

// FromContext retrieves the Config from the context, or nil if none was set.
func FromContext(ctx context.Context) *Config {
	cfg, _ := ctx.Value(contextKey{}).(*Config)
	return cfg
}

// Config holds every recognized option from spec.md §6.
type Config struct {
	// DBPath is the SQLite database file path.
	DBPath string

	// Port is the management HTTP listener port (health/ready/metrics).
	Port int

	// EmbeddingProvider selects "primary" (remote) or "fallback" (local hash).
	EmbeddingProvider string

	// EmbeddingDimensions overrides the selected provider's native dimension
	// when > 0.
	EmbeddingDimensions int

	// PrimaryEmbeddingURL/APIKey/Model configure the remote embedding provider.
	PrimaryEmbeddingURL   string
	PrimaryEmbeddingAPIKey string
	PrimaryEmbeddingModel string

	// EmbeddingCacheCapacity bounds the ristretto embedding cache (default
	// 1000). Eviction is frequency-based, not least-recently-used.
	EmbeddingCacheCapacity int

	// SearchDefaultLimit/SearchMaxLimit bound recall/hybrid_search result sizes.
	SearchDefaultLimit int
	SearchMaxLimit     int

	// ForgetTTL holds a per-MemoryType retention period (negative means
	// infinite). The values are parsed and carried in Config only: the
	// cleanup job does not read them, and no TTL gates hard deletion.
	ForgetTTLWorking    time.Duration
	ForgetTTLEpisodic   time.Duration
	ForgetTTLSemantic   time.Duration
	ForgetTTLProcedural time.Duration

	// LogLevel is one of debug/info/warn/error.
	LogLevel string

	// Env mirrors the NODE_ENV-equivalent: "production" or "development".
	Env string

	// DispatcherConcurrency bounds concurrent tool executions (spec.md §4.11).
	DispatcherConcurrency int

	// ToolCallTimeout bounds how long a tool call waits for a free
	// dispatcher slot; it does not limit how long the call itself runs.
	// CleanupTimeout is parsed and carried in Config only; the cleanup job
	// runs without a deadline of its own.
	ToolCallTimeout time.Duration
	CleanupTimeout  time.Duration
}

// DefaultConfig returns a Config with the defaults spec.md §6 specifies.
func DefaultConfig() Config {
	return Config{
		DBPath:                 "./data/memory.db",
		Port:                   3000,
		EmbeddingProvider:      "primary",
		PrimaryEmbeddingURL:    "https://api.openai.com/v1",
		PrimaryEmbeddingModel:  "text-embedding-3-small",
		EmbeddingCacheCapacity: 1000,
		SearchDefaultLimit:     10,
		SearchMaxLimit:         50,
		ForgetTTLWorking:       24 * time.Hour,
		ForgetTTLEpisodic:      90 * 24 * time.Hour,
		ForgetTTLSemantic:      -1,
		ForgetTTLProcedural:    -1,
		LogLevel:               "info",
		Env:                    "production",
		DispatcherConcurrency:  4,
		ToolCallTimeout:        10 * time.Second,
		CleanupTimeout:         60 * time.Second,
	}
}

// Validate enforces the one cross-field invariant spec.md §6 calls out:
// SEARCH_MAX_LIMIT must be at least SEARCH_DEFAULT_LIMIT.
func (c *Config) Validate() error {
	if c.SearchMaxLimit < c.SearchDefaultLimit {
		return &ValidationError{Field: "SEARCH_MAX_LIMIT", Message: "must be >= SEARCH_DEFAULT_LIMIT"}
	}
	if c.EmbeddingDimensions < 0 {
		return &ValidationError{Field: "EMBEDDING_DIMENSIONS", Message: "must be > 0 when set"}
	}
	return nil
}

// ValidationError reports a configuration-load failure (exit code 1).
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return e.Field + ": " + e.Message }
