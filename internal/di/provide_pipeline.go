package di

import (
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/docker/docker/client"
	"github.com/rs/zerolog"

	"github.com/quayops/gantry/internal/builder"
	"github.com/quayops/gantry/internal/dao/lockdao"
	"github.com/quayops/gantry/internal/dao/releasedao"
	"github.com/quayops/gantry/internal/migrate"
	"github.com/quayops/gantry/internal/models"
	"github.com/quayops/gantry/internal/orchestrator"
	"github.com/quayops/gantry/internal/policy"
	"github.com/quayops/gantry/internal/registry"
	"github.com/quayops/gantry/internal/services"
)

func ProvideBuilder(dockerClient *client.Client, logger zerolog.Logger) *builder.Builder {
	return builder.New(dockerClient, logger)
}

func ProvidePublisher(dockerClient *client.Client, logger zerolog.Logger) *registry.Publisher {
	return registry.New(dockerClient, logger)
}

func ProvideValidator() (*policy.Validator, error) {
	return policy.NewValidator()
}

// ProvideTaskSpec loads the task spec named by the configuration. dig resolves
// providers lazily, so commands that never touch the deploy stage do not
// require the file to exist.
func ProvideTaskSpec(cfg *services.Config) (*models.TaskSpec, error) {
	return models.LoadTaskSpec(cfg.TaskSpecPath)
}

func ProvideMigrationSource(cfg *services.Config, s3Client *s3.Client) (migrate.Source, error) {
	return migrate.NewSource(cfg.MigrationsSource, s3Client)
}

// ProvideStages assembles the release pipeline in execution order.
func ProvideStages(
	imageBuilder *builder.Builder,
	publisher *registry.Publisher,
	ecrService *services.ECRService,
	ecsService *services.ECSService,
	secrets *services.SecretsManagerService,
	validator *policy.Validator,
	spec *models.TaskSpec,
	source migrate.Source,
	cfg *services.Config,
	buildCtx BuildContext,
	wait WaitForSteadyState,
	logger zerolog.Logger,
) []orchestrator.Stage {
	return []orchestrator.Stage{
		&orchestrator.BuildStage{
			Builder:    imageBuilder,
			BuildArgs:  secrets,
			ContextDir: buildCtx.Dir,
			Dockerfile: buildCtx.Dockerfile,
		},
		&orchestrator.PublishStage{
			ECR:       ecrService,
			Publisher: publisher,
		},
		&orchestrator.MigrateStage{
			Credentials:    secrets,
			Source:         source,
			BastionAddr:    cfg.BastionAddress,
			BastionUser:    cfg.BastionUser,
			PrivateKeyPath: cfg.SSHKeyPath,
			KnownHostsPath: cfg.KnownHostsPath,
			DBEndpoint:     cfg.DBEndpoint,
			Logger:         logger,
		},
		&orchestrator.DeployStage{
			ECS:       ecsService,
			Validator: validator,
			Spec:      spec,
			Cluster:   cfg.Cluster,
			Service:   cfg.Service,
			Wait:      bool(wait),
		},
	}
}

func ProvideOrchestrator(history *releasedao.DAO, locks *lockdao.DAO, logger zerolog.Logger, stages []orchestrator.Stage) *orchestrator.Orchestrator {
	return orchestrator.New(history, locks, logger, stages...)
}
