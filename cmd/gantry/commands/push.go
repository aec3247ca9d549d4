package commands

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/quayops/gantry/internal/di"
	"github.com/quayops/gantry/internal/registry"
	"github.com/quayops/gantry/internal/services"
)

func PushCommand(logger *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "push",
		Usage: "Publish a locally built image to ECR",
		Description: `Ensure the ECR repository exists, then tag and push the local image.

Credentials come from GetAuthorizationToken and are never persisted. Pushing
the same tag twice overwrites the remote reference.`,
		Flags: []cli.Flag{
			envFlag(),
			serviceFlag(),
			versionFlag(true),
			&cli.StringFlag{
				Name:  "image",
				Usage: "Local image to push (defaults to {service}:{version})",
			},
		},
		Action: func(c *cli.Context) error {
			return pushAction(c, logger)
		},
	}
}

func pushAction(c *cli.Context, logger *zerolog.Logger) error {
	container, err := di.New(c.String("env"))
	if err != nil {
		return err
	}

	return container.Invoke(func(ecrService *services.ECRService, publisher *registry.Publisher, cfg *services.Config) error {
		service, err := serviceName(c, cfg)
		if err != nil {
			return err
		}

		version := c.String("version")

		localImage := c.String("image")
		if localImage == "" {
			localImage = fmt.Sprintf("%s:%s", service, version)
		}

		if _, err := ecrService.EnsureRepository(c.Context, service); err != nil {
			return err
		}

		auth, err := ecrService.GetRegistryAuth(c.Context)
		if err != nil {
			return err
		}

		result, err := publisher.Publish(c.Context, registry.Input{
			LocalImage: localImage,
			Repository: service,
			Tag:        version,
		}, auth)
		if err != nil {
			return err
		}

		logger.Info().
			Str("reference", result.Reference).
			Str("digest", result.Digest).
			Msg("image published")

		return nil
	})
}
