package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/quayops/gantry/internal/builder"
	"github.com/quayops/gantry/internal/dao/releasedao"
	gantryerrors "github.com/quayops/gantry/internal/errors"
	"github.com/quayops/gantry/internal/migrate"
	"github.com/quayops/gantry/internal/models"
	"github.com/quayops/gantry/internal/policy"
	"github.com/quayops/gantry/internal/registry"
	"github.com/quayops/gantry/internal/services"
	"github.com/quayops/gantry/internal/tunnel"
)

// BuildArgsSource provides sensitive build parameters for an image build.
type BuildArgsSource interface {
	GetBuildArgs(ctx context.Context, env, service string) (map[string]string, error)
}

// BuildStage builds the image from the local context, tagged {service}:{version}.
type BuildStage struct {
	Builder    *builder.Builder
	BuildArgs  BuildArgsSource // optional
	ContextDir string
	Dockerfile string
}

func (s *BuildStage) Name() string { return releasedao.StageBuild }

func (s *BuildStage) Run(ctx context.Context, req Request, state *State) error {
	args := map[string]string{}
	if s.BuildArgs != nil {
		var err error
		args, err = s.BuildArgs.GetBuildArgs(ctx, req.Env, req.Service)
		if err != nil {
			return fmt.Errorf("failed to fetch build args: %w", err)
		}
	}

	state.LocalImage = fmt.Sprintf("%s:%s", req.Service, req.Version)

	return s.Builder.Build(ctx, builder.Input{
		ContextDir: s.ContextDir,
		Dockerfile: s.Dockerfile,
		Tag:        state.LocalImage,
		Platform:   req.Platform,
		BuildArgs:  args,
	})
}

// PublishStage ensures the ECR repository exists and pushes the built image.
type PublishStage struct {
	ECR       *services.ECRService
	Publisher *registry.Publisher
}

func (s *PublishStage) Name() string { return releasedao.StagePublish }

func (s *PublishStage) Run(ctx context.Context, req Request, state *State) error {
	if _, err := s.ECR.EnsureRepository(ctx, req.Service); err != nil {
		return err
	}

	auth, err := s.ECR.GetRegistryAuth(ctx)
	if err != nil {
		return err
	}

	result, err := s.Publisher.Publish(ctx, registry.Input{
		LocalImage: state.LocalImage,
		Repository: req.Service,
		Tag:        req.Version,
	}, auth)
	if err != nil {
		return err
	}

	state.ImageURI = result.Reference
	state.ImageDigest = result.Digest
	return nil
}

// CredentialsSource provides database connection credentials.
type CredentialsSource interface {
	GetDatabaseCredentials(ctx context.Context, env, service string) (*services.DatabaseCredentials, error)
}

// MigrateStage opens an SSH tunnel through the bastion and applies pending
// schema migrations against the database behind it. A source with no scripts
// is a no-op, not a failure: most services ship releases without schema
// changes.
type MigrateStage struct {
	Credentials    CredentialsSource
	Source         migrate.Source
	BastionAddr    string
	BastionUser    string
	PrivateKeyPath string
	KnownHostsPath string
	DBEndpoint     string // fallback when the credential carries no host
	Logger         zerolog.Logger
}

func (s *MigrateStage) Name() string { return releasedao.StageMigrate }

func (s *MigrateStage) Run(ctx context.Context, req Request, state *State) error {
	scripts, err := s.Source.Load(ctx)
	if err != nil {
		return err
	}
	if len(scripts) == 0 {
		s.Logger.Info().Msg("no migration scripts, skipping")
		return nil
	}

	creds, err := s.Credentials.GetDatabaseCredentials(ctx, req.Env, req.Service)
	if err != nil {
		return err
	}

	remote := s.DBEndpoint
	if creds.Host != "" {
		remote = fmt.Sprintf("%s:%d", creds.Host, creds.Port)
	}
	if remote == "" {
		return fmt.Errorf("%w: database endpoint", gantryerrors.ErrMissingConfiguration)
	}

	tun, err := tunnel.Open(ctx, tunnel.Config{
		BastionAddr:    s.BastionAddr,
		User:           s.BastionUser,
		PrivateKeyPath: s.PrivateKeyPath,
		KnownHostsPath: s.KnownHostsPath,
		RemoteAddr:     tunnel.EnsurePort(remote, "5432"),
	}, s.Logger)
	if err != nil {
		return err
	}
	defer tun.Close()

	db, err := migrate.Open(tun.Addr(), creds.Username, creds.Password, creds.DBName)
	if err != nil {
		return err
	}
	defer db.Close()

	result, err := migrate.NewRunner(db, s.Logger).Apply(ctx, scripts)
	if err != nil {
		if errors.Is(err, gantryerrors.ErrNoMigrations) {
			return nil
		}
		return err
	}

	state.MigrationsApplied = result.Applied
	return nil
}

// DeployStage renders the task spec with the published image, gates it on the
// deployment policy, registers the revision, and points the service at it.
type DeployStage struct {
	ECS       *services.ECSService
	Validator *policy.Validator
	Spec      *models.TaskSpec
	Cluster   string
	Service   string // ECS service name, may differ from req.Service
	Wait      bool
}

func (s *DeployStage) Name() string { return releasedao.StageDeploy }

func (s *DeployStage) Run(ctx context.Context, req Request, state *State) error {
	if state.ImageURI == "" {
		return fmt.Errorf("no published image to deploy")
	}

	result, err := s.Validator.ValidateTaskDefinition(policy.NewTaskDefInput(s.Spec, state.ImageURI, req.Platform), req.Env, req.Service)
	if err != nil {
		return err
	}
	if !result.Allowed {
		return fmt.Errorf("%w: %s", gantryerrors.ErrPolicyDenied, strings.Join(result.Violations, "; "))
	}

	td, err := s.ECS.RegisterTaskDefinition(ctx, s.Spec, state.ImageURI)
	if err != nil {
		return err
	}
	state.TaskDefinitionArn = td.ARN

	serviceName := s.Service
	if serviceName == "" {
		serviceName = req.Service
	}

	if err := s.ECS.UpdateService(ctx, s.Cluster, serviceName, td.ARN); err != nil {
		return err
	}

	if s.Wait {
		return s.ECS.WaitForSteadyState(ctx, s.Cluster, serviceName, td.ARN)
	}

	return nil
}
