package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/quayops/gantry/internal/constants"
)

type IAMService struct {
	client    *iam.Client
	stsClient *sts.Client
}

// NewIAMServiceFromConfig creates the service from a shared AWS config.
func NewIAMServiceFromConfig(cfg aws.Config) *IAMService {
	return &IAMService{
		client:    iam.NewFromConfig(cfg),
		stsClient: sts.NewFromConfig(cfg),
	}
}

// GetAWSAccountID retrieves the AWS account ID
func (s *IAMService) GetAWSAccountID(ctx context.Context) (string, error) {
	result, err := s.stsClient.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return "", fmt.Errorf("failed to get caller identity: %w", err)
	}

	if result.Account == nil {
		return "", fmt.Errorf("account ID is nil")
	}

	return *result.Account, nil
}

// EnsureTaskExecutionRole ensures the ECS task execution role exists and has
// the managed execution policy attached, returning the role ARN. The role is
// what lets the ECS agent pull the image from ECR and ship container logs.
func (s *IAMService) EnsureTaskExecutionRole(ctx context.Context, roleName string) (string, error) {
	if roleName == "" {
		roleName = constants.TaskExecutionRoleName
	}

	// Check if role already exists
	getOutput, err := s.client.GetRole(ctx, &iam.GetRoleInput{
		RoleName: aws.String(roleName),
	})
	if err == nil {
		return aws.ToString(getOutput.Role.Arn), nil
	}
	if !strings.Contains(err.Error(), "NoSuchEntity") {
		return "", fmt.Errorf("failed to check role %s: %w", roleName, err)
	}

	trustPolicy := map[string]interface{}{
		"Version": "2012-10-17",
		"Statement": []map[string]interface{}{
			{
				"Effect": "Allow",
				"Principal": map[string]interface{}{
					"Service": "ecs-tasks.amazonaws.com",
				},
				"Action": "sts:AssumeRole",
			},
		},
	}

	trustJSON, err := json.Marshal(trustPolicy)
	if err != nil {
		return "", fmt.Errorf("failed to marshal trust policy: %w", err)
	}

	createOutput, err := s.client.CreateRole(ctx, &iam.CreateRoleInput{
		RoleName:                 aws.String(roleName),
		AssumeRolePolicyDocument: aws.String(string(trustJSON)),
		Description:              aws.String("Task execution role for gantry-managed ECS services"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to create role %s: %w", roleName, err)
	}

	_, err = s.client.AttachRolePolicy(ctx, &iam.AttachRolePolicyInput{
		RoleName:  aws.String(roleName),
		PolicyArn: aws.String(constants.TaskExecutionPolicyArn),
	})
	if err != nil {
		return "", fmt.Errorf("failed to attach execution policy to %s: %w", roleName, err)
	}

	return aws.ToString(createOutput.Role.Arn), nil
}

// AttachSecretsAccess grants the execution role read access to the given
// secret ARNs so the agent can inject them as container environment variables.
func (s *IAMService) AttachSecretsAccess(ctx context.Context, roleName string, secretARNs []string) error {
	if len(secretARNs) == 0 {
		return nil
	}

	policy := map[string]interface{}{
		"Version": "2012-10-17",
		"Statement": []map[string]interface{}{
			{
				"Sid":      "ReadDeploymentSecrets",
				"Effect":   "Allow",
				"Action":   []string{"secretsmanager:GetSecretValue"},
				"Resource": secretARNs,
			},
		},
	}

	policyJSON, err := json.Marshal(policy)
	if err != nil {
		return fmt.Errorf("failed to marshal secrets policy: %w", err)
	}

	_, err = s.client.PutRolePolicy(ctx, &iam.PutRolePolicyInput{
		RoleName:       aws.String(roleName),
		PolicyName:     aws.String("gantry-secrets-access"),
		PolicyDocument: aws.String(string(policyJSON)),
	})
	if err != nil {
		return fmt.Errorf("failed to put secrets policy on %s: %w", roleName, err)
	}

	return nil
}
