package services

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	"github.com/aws/aws-sdk-go-v2/service/ecr/types"
	"github.com/aws/aws-sdk-go-v2/service/organizations"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

type ECRService struct {
	client    *ecr.Client
	stsClient *sts.Client
	orgClient *organizations.Client
	region    string
}

// NewECRServiceFromConfig creates an ECRService from an existing AWS config.
// Useful when the caller already holds a shared config (e.g. via DI).
func NewECRServiceFromConfig(cfg aws.Config, region string) *ECRService {
	return &ECRService{
		client:    ecr.NewFromConfig(cfg),
		stsClient: sts.NewFromConfig(cfg),
		orgClient: organizations.NewFromConfig(cfg),
		region:    region,
	}
}

type RepositoryInfo struct {
	Name string
	ARN  string
	URI  string
}

// EnsureRepository creates an ECR repository with scan-on-push enabled, or
// describes it if it already exists. Tags stay mutable: a re-push of the same
// tag must overwrite the remote reference.
func (s *ECRService) EnsureRepository(ctx context.Context, repositoryName string) (*RepositoryInfo, error) {
	input := &ecr.CreateRepositoryInput{
		RepositoryName:     aws.String(repositoryName),
		ImageTagMutability: types.ImageTagMutabilityMutable,
		ImageScanningConfiguration: &types.ImageScanningConfiguration{
			ScanOnPush: true,
		},
		Tags: []types.Tag{
			{
				Key:   aws.String("ManagedBy"),
				Value: aws.String("gantry"),
			},
		},
	}

	output, err := s.client.CreateRepository(ctx, input)
	if err != nil {
		if strings.Contains(err.Error(), "RepositoryAlreadyExistsException") {
			describeOutput, describeErr := s.client.DescribeRepositories(ctx, &ecr.DescribeRepositoriesInput{
				RepositoryNames: []string{repositoryName},
			})
			if describeErr != nil {
				return nil, fmt.Errorf("repository exists but failed to describe: %w", describeErr)
			}
			if len(describeOutput.Repositories) == 0 {
				return nil, fmt.Errorf("repository exists but not found in describe")
			}
			repo := describeOutput.Repositories[0]
			return &RepositoryInfo{
				Name: aws.ToString(repo.RepositoryName),
				ARN:  aws.ToString(repo.RepositoryArn),
				URI:  aws.ToString(repo.RepositoryUri),
			}, nil
		}
		return nil, fmt.Errorf("failed to create repository: %w", err)
	}

	return &RepositoryInfo{
		Name: aws.ToString(output.Repository.RepositoryName),
		ARN:  aws.ToString(output.Repository.RepositoryArn),
		URI:  aws.ToString(output.Repository.RepositoryUri),
	}, nil
}

// RegistryAuth carries short-lived docker credentials for an ECR registry.
type RegistryAuth struct {
	Username string
	Password string
	Host     string // registry endpoint without the https:// prefix
}

// GetRegistryAuth fetches a short-lived docker credential for the account's
// default registry. The authorization token decodes to "user:password".
func (s *ECRService) GetRegistryAuth(ctx context.Context) (*RegistryAuth, error) {
	output, err := s.client.GetAuthorizationToken(ctx, &ecr.GetAuthorizationTokenInput{})
	if err != nil {
		return nil, fmt.Errorf("failed to get ECR authorization token: %w", err)
	}
	if len(output.AuthorizationData) == 0 {
		return nil, fmt.Errorf("no authorization data returned by ECR")
	}

	data := output.AuthorizationData[0]

	decoded, err := base64.StdEncoding.DecodeString(aws.ToString(data.AuthorizationToken))
	if err != nil {
		return nil, fmt.Errorf("failed to decode ECR authorization token: %w", err)
	}

	parts := strings.SplitN(string(decoded), ":", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("malformed ECR authorization token")
	}

	return &RegistryAuth{
		Username: parts[0],
		Password: parts[1],
		Host:     strings.TrimPrefix(aws.ToString(data.ProxyEndpoint), "https://"),
	}, nil
}

// GetOrganizationID retrieves the AWS Organization ID if the account belongs to one
func (s *ECRService) GetOrganizationID(ctx context.Context) (string, error) {
	output, err := s.orgClient.DescribeOrganization(ctx, &organizations.DescribeOrganizationInput{})
	if err != nil {
		// Not in an organization or no permissions
		if strings.Contains(err.Error(), "AWSOrganizationsNotInUseException") ||
			strings.Contains(err.Error(), "AccessDeniedException") {
			return "", nil
		}
		return "", fmt.Errorf("failed to describe organization: %w", err)
	}

	return aws.ToString(output.Organization.Id), nil
}

// SetRepositoryPolicy sets an organization-wide read policy on the repository
func (s *ECRService) SetRepositoryPolicy(ctx context.Context, repositoryName, organizationID string) error {
	policy := map[string]interface{}{
		"Version": "2012-10-17",
		"Statement": []map[string]interface{}{
			{
				"Sid":    "OrganizationAccess",
				"Effect": "Allow",
				"Principal": map[string]interface{}{
					"AWS": "*",
				},
				"Action": []string{
					"ecr:GetDownloadUrlForLayer",
					"ecr:BatchGetImage",
					"ecr:BatchCheckLayerAvailability",
					"ecr:DescribeRepositories",
					"ecr:GetRepositoryPolicy",
					"ecr:ListImages",
				},
				"Condition": map[string]interface{}{
					"StringEquals": map[string]interface{}{
						"aws:PrincipalOrgID": organizationID,
					},
				},
			},
		},
	}

	policyJSON, err := json.Marshal(policy)
	if err != nil {
		return fmt.Errorf("failed to marshal policy: %w", err)
	}

	_, err = s.client.SetRepositoryPolicy(ctx, &ecr.SetRepositoryPolicyInput{
		RepositoryName: aws.String(repositoryName),
		PolicyText:     aws.String(string(policyJSON)),
	})
	if err != nil {
		return fmt.Errorf("failed to set repository policy: %w", err)
	}

	return nil
}

// GetAccountID retrieves the AWS account ID
func (s *ECRService) GetAccountID(ctx context.Context) (string, error) {
	output, err := s.stsClient.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return "", fmt.Errorf("failed to get caller identity: %w", err)
	}
	return aws.ToString(output.Account), nil
}

// RegistryHost returns the account's default registry endpoint,
// {account}.dkr.ecr.{region}.amazonaws.com.
func (s *ECRService) RegistryHost(ctx context.Context) (string, error) {
	accountID, err := s.GetAccountID(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s.dkr.ecr.%s.amazonaws.com", accountID, s.region), nil
}
