// Package serve provides the `serve` CLI subcommand: wires the store,
// embedding providers, search layers, the tool dispatcher, the batch
// scheduler, the MCP tool surface, and the management HTTP server,
// mirroring the donor's flags-then-run(ctx, cfg) shape.
package serve

import (
	"context"
	"fmt"
	"strconv"

	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"

	"github.com/agentmem/memoryd/internal/batch"
	"github.com/agentmem/memoryd/internal/config"
	"github.com/agentmem/memoryd/internal/contextinject"
	"github.com/agentmem/memoryd/internal/dispatcher"
	"github.com/agentmem/memoryd/internal/embedprovider"
	"github.com/agentmem/memoryd/internal/hybrid"
	"github.com/agentmem/memoryd/internal/mcpserver"
	registryembed "github.com/agentmem/memoryd/internal/registry/embed"
	registrystore "github.com/agentmem/memoryd/internal/registry/store"
	"github.com/agentmem/memoryd/internal/security"
	"github.com/agentmem/memoryd/internal/textsearch"
	"github.com/agentmem/memoryd/internal/vectorsearch"

	// Import the concrete plugins so their init() registrations fire.
	_ "github.com/agentmem/memoryd/internal/plugin/embed/disabled"
	_ "github.com/agentmem/memoryd/internal/plugin/embed/fallback"
	_ "github.com/agentmem/memoryd/internal/plugin/embed/primary"
	_ "github.com/agentmem/memoryd/internal/plugin/store/sqlite"
)

// Command returns the serve sub-command.
func Command() *cli.Command {
	cfg := config.DefaultConfig()
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the memory engine: MCP tool surface + management HTTP server",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "db-path", Sources: cli.EnvVars("DB_PATH"), Destination: &cfg.DBPath, Value: cfg.DBPath},
			&cli.IntFlag{Name: "port", Sources: cli.EnvVars("PORT"), Destination: &cfg.Port, Value: cfg.Port, Usage: "management HTTP port"},
			&cli.StringFlag{Name: "embedding-provider", Sources: cli.EnvVars("EMBEDDING_PROVIDER"), Destination: &cfg.EmbeddingProvider, Value: cfg.EmbeddingProvider, Usage: "primary|fallback|none"},
			&cli.IntFlag{Name: "embedding-dimensions", Sources: cli.EnvVars("EMBEDDING_DIMENSIONS"), Destination: &cfg.EmbeddingDimensions},
			&cli.StringFlag{Name: "primary-embedding-url", Sources: cli.EnvVars("PRIMARY_EMBEDDING_URL"), Destination: &cfg.PrimaryEmbeddingURL, Value: cfg.PrimaryEmbeddingURL},
			&cli.StringFlag{Name: "primary-embedding-api-key", Sources: cli.EnvVars("PRIMARY_EMBEDDING_API_KEY"), Destination: &cfg.PrimaryEmbeddingAPIKey},
			&cli.StringFlag{Name: "primary-embedding-model", Sources: cli.EnvVars("PRIMARY_EMBEDDING_MODEL"), Destination: &cfg.PrimaryEmbeddingModel, Value: cfg.PrimaryEmbeddingModel},
			&cli.IntFlag{Name: "embedding-cache-capacity", Sources: cli.EnvVars("EMBEDDING_CACHE_CAPACITY"), Destination: &cfg.EmbeddingCacheCapacity, Value: cfg.EmbeddingCacheCapacity},
			&cli.IntFlag{Name: "search-default-limit", Sources: cli.EnvVars("SEARCH_DEFAULT_LIMIT"), Destination: &cfg.SearchDefaultLimit, Value: cfg.SearchDefaultLimit},
			&cli.IntFlag{Name: "search-max-limit", Sources: cli.EnvVars("SEARCH_MAX_LIMIT"), Destination: &cfg.SearchMaxLimit, Value: cfg.SearchMaxLimit},
			&cli.DurationFlag{Name: "forget-ttl-working", Sources: cli.EnvVars("FORGET_TTL_WORKING"), Destination: &cfg.ForgetTTLWorking, Value: cfg.ForgetTTLWorking},
			&cli.DurationFlag{Name: "forget-ttl-episodic", Sources: cli.EnvVars("FORGET_TTL_EPISODIC"), Destination: &cfg.ForgetTTLEpisodic, Value: cfg.ForgetTTLEpisodic},
			&cli.DurationFlag{Name: "forget-ttl-semantic", Sources: cli.EnvVars("FORGET_TTL_SEMANTIC"), Destination: &cfg.ForgetTTLSemantic, Value: cfg.ForgetTTLSemantic},
			&cli.DurationFlag{Name: "forget-ttl-procedural", Sources: cli.EnvVars("FORGET_TTL_PROCEDURAL"), Destination: &cfg.ForgetTTLProcedural, Value: cfg.ForgetTTLProcedural},
			&cli.StringFlag{Name: "log-level", Sources: cli.EnvVars("LOG_LEVEL"), Destination: &cfg.LogLevel, Value: cfg.LogLevel},
			&cli.StringFlag{Name: "env", Sources: cli.EnvVars("NODE_ENV"), Destination: &cfg.Env, Value: cfg.Env},
			&cli.IntFlag{Name: "dispatcher-concurrency", Sources: cli.EnvVars("DISPATCHER_CONCURRENCY"), Destination: &cfg.DispatcherConcurrency, Value: cfg.DispatcherConcurrency},
			&cli.DurationFlag{Name: "tool-call-timeout", Sources: cli.EnvVars("TOOL_CALL_TIMEOUT"), Destination: &cfg.ToolCallTimeout, Value: cfg.ToolCallTimeout},
			&cli.DurationFlag{Name: "cleanup-timeout", Sources: cli.EnvVars("CLEANUP_TIMEOUT"), Destination: &cfg.CleanupTimeout, Value: cfg.CleanupTimeout},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if err := cfg.Validate(); err != nil {
				return &exitError{code: 1, err: err}
			}
			level, err := log.ParseLevel(cfg.LogLevel)
			if err != nil {
				level = log.InfoLevel
			}
			log.SetLevel(level)
			ctx = config.WithContext(ctx, &cfg)
			if err := run(ctx, &cfg); err != nil {
				return &exitError{code: 2, err: err}
			}
			return nil
		},
	}
}

// ExitError is implemented by errors that carry a process exit code
// (spec.md §6: 1 for config errors, 2 for runtime/startup failures).
type ExitError interface {
	error
	Code() int
}

type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Code() int     { return e.code }

func run(ctx context.Context, cfg *config.Config) error {
	security.InitMetrics(nil)

	storeLoader, err := registrystore.Select("sqlite")
	if err != nil {
		return fmt.Errorf("select store: %w", err)
	}
	store, err := storeLoader(ctx)
	if err != nil {
		return fmt.Errorf("load store: %w", err)
	}
	defer store.Close()

	embedder, err := loadEmbedder(ctx, cfg)
	if err != nil {
		log.Warn("embedding provider unavailable, continuing with lexical search only", "error", err)
	}

	dim := cfg.EmbeddingDimensions
	if embedder != nil && dim == 0 {
		dim = embedder.Dimension()
	}

	textSearcher := textsearch.New(store)
	vectorSearcher := vectorsearch.New(store, dim)

	// embedder is a concrete *embedprovider.Provider; passed as a typed nil
	// here would break hybrid's interface nil-check, so pass the untyped
	// literal when embedding is unavailable.
	var hybridEmbedder hybrid.Embedder
	if embedder != nil {
		hybridEmbedder = embedder
	}
	hybridSearcher := hybrid.New(store, textSearcher, vectorSearcher, hybridEmbedder)

	injector := contextinject.New(hybridSearcher)

	d := dispatcher.New(dispatcher.Deps{
		Store:           store,
		Text:            textSearcher,
		Vector:          vectorSearcher,
		Hybrid:          hybridSearcher,
		Embedder:        embedder,
		ContextInjector: injector,
		Concurrency:     cfg.DispatcherConcurrency,
		CallTimeout:     cfg.ToolCallTimeout,
	})

	scheduler := batch.New(store, nil, 0, 0, nil)
	if embedder != nil {
		scheduler.WithEmbedder(embedder)
	}
	scheduler.Start(ctx)
	defer scheduler.Stop()

	mgmt := newManagementServer(":"+strconv.Itoa(cfg.Port), store)
	go runManagement(ctx, mgmt)

	log.Info("memoryd serving", "db_path", cfg.DBPath, "management_port", cfg.Port, "embedding_provider", cfg.EmbeddingProvider)

	mcp := mcpserver.New(d, "memoryd", "0.1.0")
	if err := mcpserver.Serve(ctx, mcp); err != nil {
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}

// loadEmbedder wraps the selected provider and its fallback in
// embedprovider.Provider so EmbedQuery transparently fails over and caches.
func loadEmbedder(ctx context.Context, cfg *config.Config) (*embedprovider.Provider, error) {
	if cfg.EmbeddingProvider == "none" {
		return nil, nil
	}

	primaryLoader, err := registryembed.Select("primary")
	if err != nil {
		return nil, err
	}
	primary, err := primaryLoader(ctx)
	if err != nil {
		return nil, err
	}

	fallbackLoader, err := registryembed.Select("fallback")
	if err != nil {
		return nil, err
	}
	fallback, err := fallbackLoader(ctx)
	if err != nil {
		return nil, err
	}

	if cfg.EmbeddingProvider == "fallback" {
		primary = fallback
	}

	return embedprovider.New(primary, fallback, int64(cfg.EmbeddingCacheCapacity))
}
