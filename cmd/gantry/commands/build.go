package commands

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/quayops/gantry/internal/builder"
	"github.com/quayops/gantry/internal/di"
	"github.com/quayops/gantry/internal/services"
)

func BuildCommand(logger *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "build",
		Usage: "Build the container image for an explicit target platform",
		Description: `Build the image from the local context, tagged {service}:{version}.

The target platform is required: images built against the daemon's default
platform fail to pull on the target hosts. Sensitive build arguments are
read from Secrets Manager under gantry/{env}/{service}/build-args.`,
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
		},
		Action: func(c *cli.Context) error {
			return buildAction(c, logger)
		},
	}
}

func buildAction(c *cli.Context, logger *zerolog.Logger) error {
	env := c.String("env")

	container, err := di.New(env)
	if err != nil {
		return err
	}

	return container.Invoke(func(b *builder.Builder, secrets *services.SecretsManagerService, cfg *services.Config) error {
		service, err := serviceName(c, cfg)
		if err != nil {
			return err
		}

		args, err := secrets.GetBuildArgs(c.Context, env, service)
		if err != nil {
			return err
		}

		tag := fmt.Sprintf("%s:%s", service, c.String("version"))

		if err := b.Build(c.Context, builder.Input{
			ContextDir: c.String("context"),
			Dockerfile: c.String("dockerfile"),
			Tag:        tag,
			Platform:   c.String("platform"),
			BuildArgs:  args,
		}); err != nil {
			return err
		}

		logger.Info().Str("tag", tag).Msg("image ready")
		return nil
	})
}
