package commands

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/quayops/gantry/internal/di"
	"github.com/quayops/gantry/internal/models"
	"github.com/quayops/gantry/internal/orchestrator"
	"github.com/quayops/gantry/internal/policy"
	"github.com/quayops/gantry/internal/services"
)

func DeployCommand(logger *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "deploy",
		Usage: "Register a task definition revision and update the ECS service",
		Description: `Render the task spec with an already-published image, gate it on the
deployment policy, register the revision, and point the service at it.

The image must already be in ECR: pass --image with a full reference, or
--version to address {registry}/{service}:{version}.`,
		Flags: []cli.Flag{
			envFlag(),
			serviceFlag(),
			versionFlag(false),
			&cli.StringFlag{
				Name:  "image",
				Usage: "Full image reference to deploy (overrides --version)",
			},
			&cli.BoolFlag{
				Name:  "wait",
				Usage: "Block until the service converges on the new task definition",
			},
		},
		Action: func(c *cli.Context) error {
			return deployAction(c, logger)
		},
	}
}

func deployAction(c *cli.Context, logger *zerolog.Logger) error {
	env := c.String("env")

	container, err := di.New(env, di.WithWait(c.Bool("wait")))
	if err != nil {
		return err
	}

	return container.Invoke(func(
		ecrService *services.ECRService,
		ecsService *services.ECSService,
		validator *policy.Validator,
		spec *models.TaskSpec,
		cfg *services.Config,
	) error {
		service, err := serviceName(c, cfg)
		if err != nil {
			return err
		}

		imageURI := c.String("image")
		if imageURI == "" {
			version := c.String("version")
			if version == "" {
				return fmt.Errorf("either --image or --version is required")
			}
			host, err := ecrService.RegistryHost(c.Context)
			if err != nil {
				return err
			}
			imageURI = fmt.Sprintf("%s/%s:%s", host, service, version)
		}

		stage := &orchestrator.DeployStage{
			ECS:       ecsService,
			Validator: validator,
			Spec:      spec,
			Cluster:   cfg.Cluster,
			Service:   cfg.Service,
			Wait:      c.Bool("wait"),
		}

		state := orchestrator.State{ImageURI: imageURI}
		if err := stage.Run(c.Context, orchestrator.Request{Service: service, Env: env}, &state); err != nil {
			return err
		}

		logger.Info().
			Str("image", imageURI).
			Str("task_definition", state.TaskDefinitionArn).
			Msg("deploy submitted")

		return nil
	})
}
