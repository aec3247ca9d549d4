package services

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecs"
	"github.com/aws/aws-sdk-go-v2/service/ecs/types"
	"github.com/rs/zerolog"

	gantryerrors "github.com/quayops/gantry/internal/errors"
	"github.com/quayops/gantry/internal/models"
	"github.com/quayops/gantry/internal/utils"
)

// ECSService registers task definition revisions and hands the desired state
// to the cluster. Registration is create-only: every deploy produces a new
// revision and the service is pointed at it; nothing is mutated in place.
type ECSService struct {
	client *ecs.Client
	region string
	logger zerolog.Logger
}

func NewECSService(client *ecs.Client, region string, logger zerolog.Logger) *ECSService {
	return &ECSService{
		client: client,
		region: region,
		logger: logger.With().Str("service", "ecs").Logger(),
	}
}

// TaskDefinitionResult describes a freshly registered task definition revision.
type TaskDefinitionResult struct {
	ARN      string
	Family   string
	Revision int32
}

// BuildTaskDefinitionInput renders a task spec and image URI into a
// RegisterTaskDefinition request. Split out from registration so the rendered
// request can be policy-checked (and unit tested) before it is submitted.
func BuildTaskDefinitionInput(spec *models.TaskSpec, imageURI, region string) (*ecs.RegisterTaskDefinitionInput, error) {
	platform, err := models.ParsePlatform(spec.Platform)
	if err != nil {
		return nil, err
	}

	container := types.ContainerDefinition{
		Name:        aws.String(spec.Container.Name),
		Image:       aws.String(imageURI),
		Essential:   aws.Bool(true),
		Environment: utils.MergeEnvironment(spec.Container.Environment),
		Secrets:     utils.MergeSecrets(spec.Container.Secrets),
	}

	if spec.Container.Port > 0 {
		container.PortMappings = []types.PortMapping{
			{
				ContainerPort: aws.Int32(spec.Container.Port),
				Protocol:      types.TransportProtocolTcp,
			},
		}
	}

	if spec.Container.LogGroup != "" {
		container.LogConfiguration = &types.LogConfiguration{
			LogDriver: types.LogDriverAwslogs,
			Options: map[string]string{
				"awslogs-group":         spec.Container.LogGroup,
				"awslogs-region":        region,
				"awslogs-stream-prefix": spec.Container.Name,
			},
		}
	}

	if len(spec.Container.HealthCheck) > 0 {
		container.HealthCheck = &types.HealthCheck{
			Command: spec.Container.HealthCheck,
		}
	}

	input := &ecs.RegisterTaskDefinitionInput{
		Family:                  aws.String(spec.Family),
		Cpu:                     aws.String(spec.CPU),
		Memory:                  aws.String(spec.Memory),
		NetworkMode:             types.NetworkModeAwsvpc,
		RequiresCompatibilities: []types.Compatibility{types.CompatibilityFargate},
		ContainerDefinitions:    []types.ContainerDefinition{container},
		RuntimePlatform: &types.RuntimePlatform{
			OperatingSystemFamily: types.OSFamily(platform.OS),
			CpuArchitecture:       types.CPUArchitecture(platform.Arch),
		},
	}

	if spec.ExecutionRoleArn != "" {
		input.ExecutionRoleArn = aws.String(spec.ExecutionRoleArn)
	}
	if spec.TaskRoleArn != "" {
		input.TaskRoleArn = aws.String(spec.TaskRoleArn)
	}

	return input, nil
}

// RegisterTaskDefinition registers a new revision of the task spec's family
// referencing the given image URI.
func (s *ECSService) RegisterTaskDefinition(ctx context.Context, spec *models.TaskSpec, imageURI string) (*TaskDefinitionResult, error) {
	input, err := BuildTaskDefinitionInput(spec, imageURI, s.region)
	if err != nil {
		return nil, err
	}

	output, err := s.client.RegisterTaskDefinition(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to register task definition: %w", err)
	}

	td := output.TaskDefinition
	result := &TaskDefinitionResult{
		ARN:      aws.ToString(td.TaskDefinitionArn),
		Family:   aws.ToString(td.Family),
		Revision: td.Revision,
	}

	s.logger.Info().
		Str("task_definition_arn", result.ARN).
		Int32("revision", result.Revision).
		Msg("registered task definition")

	return result, nil
}

// UpdateService points the service at the new task definition revision. The
// pipeline's responsibility ends here; the cluster converges on its own.
func (s *ECSService) UpdateService(ctx context.Context, cluster, service, taskDefinitionArn string) error {
	_, err := s.client.UpdateService(ctx, &ecs.UpdateServiceInput{
		Cluster:        aws.String(cluster),
		Service:        aws.String(service),
		TaskDefinition: aws.String(taskDefinitionArn),
	})
	if err != nil {
		return fmt.Errorf("failed to update service %s: %w", service, err)
	}

	s.logger.Info().
		Str("cluster", cluster).
		Str("ecs_service", service).
		Str("task_definition_arn", taskDefinitionArn).
		Msg("service update submitted")

	return nil
}

// WaitForSteadyState polls the service until its primary deployment runs only
// tasks from the given task definition. The wait is bounded by ctx; there is
// no built-in deadline.
func (s *ECSService) WaitForSteadyState(ctx context.Context, cluster, service, taskDefinitionArn string) error {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		converged, err := s.checkSteadyState(ctx, cluster, service, taskDefinitionArn)
		if err != nil {
			return err
		}
		if converged {
			s.logger.Info().
				Str("ecs_service", service).
				Msg("service reached steady state")
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %s", gantryerrors.ErrServiceNotConverged, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (s *ECSService) checkSteadyState(ctx context.Context, cluster, service, taskDefinitionArn string) (bool, error) {
	output, err := s.client.DescribeServices(ctx, &ecs.DescribeServicesInput{
		Cluster:  aws.String(cluster),
		Services: []string{service},
	})
	if err != nil {
		return false, fmt.Errorf("failed to describe service %s: %w", service, err)
	}
	if len(output.Services) == 0 {
		return false, fmt.Errorf("service %s not found in cluster %s", service, cluster)
	}

	svc := output.Services[0]

	// Steady once the old deployments have drained and the primary deployment
	// runs the new revision at the desired count.
	if len(svc.Deployments) != 1 {
		return false, nil
	}

	deployment := svc.Deployments[0]
	if aws.ToString(deployment.TaskDefinition) != taskDefinitionArn {
		return false, nil
	}

	s.logger.Debug().
		Int32("running", deployment.RunningCount).
		Int32("desired", deployment.DesiredCount).
		Msg("deployment progressing")

	return deployment.RunningCount == deployment.DesiredCount, nil
}
