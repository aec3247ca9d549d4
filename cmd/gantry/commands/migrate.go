package commands

import (
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/quayops/gantry/internal/di"
	"github.com/quayops/gantry/internal/migrate"
	"github.com/quayops/gantry/internal/orchestrator"
	"github.com/quayops/gantry/internal/services"
)

func MigrateCommand(logger *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Apply pending schema migrations through the bastion tunnel",
		Description: `Open an SSH tunnel through the configured bastion and apply pending
migration scripts to the database behind it.

Scripts apply in lexical name order, one transaction each. A ledger table
records applied scripts, so re-running is safe: applied scripts are skipped
after a checksum check, and a script that changed after being applied aborts
the run.`,
		Flags: []cli.Flag{
			envFlag(),
			serviceFlag(),
			&cli.StringFlag{
				Name:  "source",
				Usage: "Migrations location: a directory or s3://bucket/prefix (overrides configuration)",
			},
		},
		Action: func(c *cli.Context) error {
			return migrateAction(c, logger)
		},
	}
}

func migrateAction(c *cli.Context, logger *zerolog.Logger) error {
	env := c.String("env")

	container, err := di.New(env)
	if err != nil {
		return err
	}

	return container.Invoke(func(
		secrets *services.SecretsManagerService,
		source migrate.Source,
		s3Client *s3.Client,
		cfg *services.Config,
	) error {
		service, err := serviceName(c, cfg)
		if err != nil {
			return err
		}

		if override := c.String("source"); override != "" {
			source, err = migrate.NewSource(override, s3Client)
			if err != nil {
				return err
			}
		}

		stage := &orchestrator.MigrateStage{
			Credentials:    secrets,
			Source:         source,
			BastionAddr:    cfg.BastionAddress,
			BastionUser:    cfg.BastionUser,
			PrivateKeyPath: cfg.SSHKeyPath,
			KnownHostsPath: cfg.KnownHostsPath,
			DBEndpoint:     cfg.DBEndpoint,
			Logger:         *logger,
		}

		var state orchestrator.State
		if err := stage.Run(c.Context, orchestrator.Request{Service: service, Env: env}, &state); err != nil {
			return err
		}

		logger.Info().Int("applied", state.MigrationsApplied).Msg("migrations complete")
		return nil
	})
}
