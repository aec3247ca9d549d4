package main

import (
	"context"
	"os"

	"github.com/quayops/gantry/cmd/gantry/commands"
	"github.com/quayops/gantry/internal/di"
	"github.com/urfave/cli/v2"
)

func main() {
	logger := di.ProvideLogger()
	ctx := logger.WithContext(context.Background())

	app := &cli.App{
		Name:  "gantry",
		Usage: "Container release pipeline for ECS",
		Description: `Builds, publishes, migrates, and deploys containerized services.

The full pipeline runs with a single command:
  - release: build image -> push to ECR -> run schema migrations -> update ECS service

Each stage is also available standalone (build, push, migrate, deploy) for
recovering a partially completed release.`,
		Commands: []*cli.Command{
			commands.ReleaseCommand(&logger),
			commands.BuildCommand(&logger),
			commands.PushCommand(&logger),
			commands.MigrateCommand(&logger),
			commands.DeployCommand(&logger),
			commands.SetupCommand(&logger),
			commands.HistoryCommand(&logger),
		},
	}

	if err := app.RunContext(ctx, os.Args); err != nil {
		logger.Error().Err(err).Msg("Application error")
		os.Exit(1)
	}
}
