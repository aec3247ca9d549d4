package commands

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/quayops/gantry/internal/constants"
	"github.com/quayops/gantry/internal/di"
	"github.com/quayops/gantry/internal/services"
)

func SetupCommand(logger *zerolog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "setup",
		Usage: "Provision the AWS resources a service needs before its first release",
		Description: `Create the ECR repository (scan-on-push, mutable tags) and the ECS task
execution role, and grant the role read access to the service's secrets.

If the account belongs to an AWS Organization, org-wide read permissions are
configured on the repository so sibling accounts can pull images.`,
		Flags: []cli.Flag{
			envFlag(),
			serviceFlag(),
			&cli.StringFlag{
				Name:    "role-name",
				Aliases: []string{"n"},
				Usage:   "Task execution role name",
				Value:   constants.TaskExecutionRoleName,
			},
			&cli.BoolFlag{
				Name:  "dry-run",
				Usage: "Show what would be created without creating resources",
			},
		},
		Action: func(c *cli.Context) error {
			return setupAction(c, logger)
		},
	}
}

func setupAction(c *cli.Context, logger *zerolog.Logger) error {
	env := c.String("env")

	container, err := di.New(env)
	if err != nil {
		return err
	}

	return container.Invoke(func(ecrService *services.ECRService, iamService *services.IAMService, cfg *services.Config) error {
		service, err := serviceName(c, cfg)
		if err != nil {
			return err
		}

		roleName := c.String("role-name")

		if c.Bool("dry-run") {
			logger.Info().Msg("DRY RUN: Would create the following resources:")
			logger.Info().Msgf("  - ECR repository %s (region: %s, scan-on-push, mutable tags)", service, cfg.Region)
			logger.Info().Msgf("  - IAM role %s with the managed task execution policy", roleName)
			logger.Info().Msgf("  - Read access to secrets under gantry/%s/%s/*", env, service)
			logger.Info().Msg("DRY RUN: Would check for AWS Organization and set org-wide read permissions if applicable")
			return nil
		}

		repo, err := ecrService.EnsureRepository(c.Context, service)
		if err != nil {
			return err
		}
		logger.Info().Str("uri", repo.URI).Msg("repository ready")

		orgID, err := ecrService.GetOrganizationID(c.Context)
		if err != nil {
			return err
		}
		if orgID != "" {
			if err := ecrService.SetRepositoryPolicy(c.Context, service, orgID); err != nil {
				return err
			}
			logger.Info().Str("organization", orgID).Msg("org-wide read policy set")
		}

		roleArn, err := iamService.EnsureTaskExecutionRole(c.Context, roleName)
		if err != nil {
			return err
		}
		logger.Info().Str("role_arn", roleArn).Msg("task execution role ready")

		accountID, err := ecrService.GetAccountID(c.Context)
		if err != nil {
			return err
		}

		secretARNs := []string{
			fmt.Sprintf("arn:aws:secretsmanager:%s:%s:secret:gantry/%s/%s/*", cfg.Region, accountID, env, service),
		}
		if err := iamService.AttachSecretsAccess(c.Context, roleName, secretARNs); err != nil {
			return err
		}

		logger.Info().Msg("")
		logger.Info().Msg("========================================")
		logger.Info().Msg("Setup Complete!")
		logger.Info().Msg("========================================")
		logger.Info().Msgf("Region:      %s", cfg.Region)
		logger.Info().Msgf("Account:     %s", accountID)
		logger.Info().Msgf("Repository:  %s", repo.URI)
		logger.Info().Msgf("Role:        %s", roleArn)
		logger.Info().Msg("")
		logger.Info().Msg("Next steps:")
		logger.Info().Msgf("  1. Store DB credentials: gantry/%s/%s/database in Secrets Manager", env, service)
		logger.Info().Msgf("  2. Set ExecutionRoleArn in the task spec to %s", roleArn)
		logger.Info().Msgf("  3. Run: gantry release --env %s --service %s --version <v> --platform <os/arch>", env, service)

		return nil
	})
}
