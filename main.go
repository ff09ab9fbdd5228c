package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"

	"github.com/agentmem/memoryd/internal/cmd/migrate"
	"github.com/agentmem/memoryd/internal/cmd/serve"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.Command{
		Name:  "memoryd",
		Usage: "Long-term memory store for AI agents",
		Commands: []*cli.Command{
			serve.Command(),
			migrate.Command(),
		},
	}

	if err := app.Run(ctx, os.Args); err != nil {
		var exitErr serve.ExitError
		if errors.As(err, &exitErr) {
			log.Error(exitErr.Error())
			os.Exit(exitErr.Code())
		}
		log.Error(err.Error())
		os.Exit(1)
	}
}
