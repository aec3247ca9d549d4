package commands

import (
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/quayops/gantry/internal/di"
	"github.com/quayops/gantry/internal/orchestrator"
	"github.com/quayops/gantry/internal/services"
)

func ReleaseCommand(logger *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "release",
		Usage: "Run the full pipeline: build, push, migrate, deploy",
		Description: `Run every stage of the release pipeline in order.

A release record is written to the history table before the first stage runs
and updated as the pipeline advances, so a failed release names the stage
that broke. Concurrent releases of the same service and environment are
refused while a release holds the deploy lock.`,
		Flags: []cli.Flag{
			envFlag(),
			serviceFlag(),
			versionFlag(true),
			platformFlag(),
			&cli.StringFlag{
				Name:    "context",
				Aliases: []string{"c"},
				Usage:   "Docker build context directory",
				Value:   ".",
			},
			&cli.StringFlag{
				Name:  "dockerfile",
				Usage: "Dockerfile path within the build context",
				Value: "Dockerfile",
			},
			&cli.BoolFlag{
				Name:  "wait",
				Usage: "Block until the service converges on the new task definition",
			},
		},
		Action: func(c *cli.Context) error {
			return releaseAction(c, logger)
		},
	}
}

func releaseAction(c *cli.Context, logger *zerolog.Logger) error {
	env := c.String("env")

	container, err := di.New(env,
		di.WithBuildContext(c.String("context"), c.String("dockerfile")),
		di.WithWait(c.Bool("wait")),
	)
	if err != nil {
		return err
	}

	return container.Invoke(func(o *orchestrator.Orchestrator, cfg *services.Config) error {
		service, err := serviceName(c, cfg)
		if err != nil {
			return err
		}

		state, err := o.Run(c.Context, orchestrator.Request{
			Service:  service,
			Env:      env,
			Version:  c.String("version"),
			Platform: c.String("platform"),
		})
		if err != nil {
			return err
		}

		logger.Info().
			Str("release_id", state.ReleaseID.String()).
			Str("image", state.ImageURI).
			Str("task_definition", state.TaskDefinitionArn).
			Int("migrations_applied", state.MigrationsApplied).
			Msg("release succeeded")

		return nil
	})
}
