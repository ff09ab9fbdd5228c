// Package migrate provides the `migrate` CLI subcommand: schema-only
// setup of the SQLite database, mirroring the donor's migrate/serve split.
package migrate

import (
	"context"

	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"

	"github.com/agentmem/memoryd/internal/config"

	// Import the store plugin to trigger init() registration of its migrator.
	_ "github.com/agentmem/memoryd/internal/plugin/store/sqlite"
	registrymigrate "github.com/agentmem/memoryd/internal/registry/migrate"
)

// Command returns the migrate sub-command.
func Command() *cli.Command {
	cfg := config.DefaultConfig()
	return &cli.Command{
		Name:  "migrate",
		Usage: "Apply the SQLite schema (tables, FTS5 mirror, vec0 index)",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "db-path",
				Sources:     cli.EnvVars("DB_PATH"),
				Destination: &cfg.DBPath,
				Value:       cfg.DBPath,
				Usage:       "SQLite database file path",
			},
			&cli.IntFlag{
				Name:        "embedding-dimensions",
				Sources:     cli.EnvVars("EMBEDDING_DIMENSIONS"),
				Destination: &cfg.EmbeddingDimensions,
				Usage:       "Embedding vector dimension; defaults to the provider's native size",
			},
			&cli.StringFlag{
				Name:        "embedding-provider",
				Sources:     cli.EnvVars("EMBEDDING_PROVIDER"),
				Destination: &cfg.EmbeddingProvider,
				Value:       cfg.EmbeddingProvider,
				Usage:       "primary|fallback",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			ctx = config.WithContext(ctx, &cfg)

			log.Info("running migrations", "db_path", cfg.DBPath)
			if err := registrymigrate.RunAll(ctx); err != nil {
				return err
			}
			log.Info("migrations complete")
			return nil
		},
	}
}
