package commands

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/quayops/gantry/internal/dao/releasedao"
	"github.com/quayops/gantry/internal/di"
	"github.com/quayops/gantry/internal/services"
)

func HistoryCommand(logger *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "Show past releases",
		Description: `List release records for an environment.

With --service, every release of that service is shown, newest first.
Without it, the latest release of each service in the environment is shown.`,
		Flags: []cli.Flag{
			envFlag(),
			serviceFlag(),
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Maximum number of releases to show",
				Value: 20,
			},
		},
		Action: func(c *cli.Context) error {
			return historyAction(c, logger)
		},
	}
}

func historyAction(c *cli.Context, logger *zerolog.Logger) error {
	env := c.String("env")

	container, err := di.New(env)
	if err != nil {
		return err
	}

	return container.Invoke(func(dao *releasedao.DAO, cfg *services.Config) error {
		var records []releasedao.Record
		var err error

		if service := c.String("service"); service != "" {
			records, err = dao.QueryByServiceEnv(c.Context, service, env)
			if err != nil {
				return err
			}
			// Newest first
			for i := 0; i < len(records)-1; i++ {
				for j := i + 1; j < len(records); j++ {
					if records[j].CreatedAt > records[i].CreatedAt {
						records[i], records[j] = records[j], records[i]
					}
				}
			}
		} else {
			records, err = dao.QueryLatestReleases(c.Context, env)
			if err != nil {
				return err
			}
		}

		limit := c.Int("limit")
		if limit > 0 && len(records) > limit {
			records = records[:limit]
		}

		if len(records) == 0 {
			logger.Info().Str("env", env).Msg("no releases found")
			return nil
		}

		for _, record := range records {
			event := logger.Info().
				Str("release_id", record.GetID().String()).
				Str("version", record.Version).
				Str("status", string(record.Status)).
				Time("created", time.Unix(record.CreatedAt, 0))

			if record.Status == releasedao.ReleaseStatusFailed {
				event = event.Str("failed_stage", record.Stage)
				if record.ErrorMsg != nil {
					event = event.Str("error", *record.ErrorMsg)
				}
			}
			if record.ImageURI != "" {
				event = event.Str("image", record.ImageURI)
			}

			event.Msg(record.Service)
		}

		return nil
	})
}
