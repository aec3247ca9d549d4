package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

type SecretsManagerService struct {
	client *secretsmanager.Client
}

// DatabaseCredentials holds connection parameters for the application
// database. Stored in Secrets Manager under gantry/{env}/{service}/database
// rather than being baked into images as plain build arguments.
type DatabaseCredentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	DBName   string `json:"dbname"`
}

// NewSecretsManagerServiceFromConfig creates the service from a shared AWS config.
func NewSecretsManagerServiceFromConfig(cfg aws.Config) *SecretsManagerService {
	return &SecretsManagerService{
		client: secretsmanager.NewFromConfig(cfg),
	}
}

// GetDatabaseCredentials retrieves database connection credentials for the
// given environment and service.
func (s *SecretsManagerService) GetDatabaseCredentials(ctx context.Context, env, service string) (*DatabaseCredentials, error) {
	secretName := fmt.Sprintf("gantry/%s/%s/database", env, service)

	result, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretName),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get secret %s: %w", secretName, err)
	}

	if result.SecretString == nil {
		return nil, fmt.Errorf("secret %s has no string value", secretName)
	}

	var creds DatabaseCredentials
	if err := json.Unmarshal([]byte(*result.SecretString), &creds); err != nil {
		return nil, fmt.Errorf("failed to parse secret %s: %w", secretName, err)
	}

	if creds.Port == 0 {
		creds.Port = 5432
	}

	return &creds, nil
}

// GetBuildArgs retrieves sensitive image build arguments for the given
// environment and service. Returns an empty map when the secret does not
// exist, so services without secret build args work out of the box.
func (s *SecretsManagerService) GetBuildArgs(ctx context.Context, env, service string) (map[string]string, error) {
	secretName := fmt.Sprintf("gantry/%s/%s/build-args", env, service)

	result, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretName),
	})
	if err != nil {
		if strings.Contains(err.Error(), "ResourceNotFoundException") {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("failed to get secret %s: %w", secretName, err)
	}

	if result.SecretString == nil {
		return map[string]string{}, nil
	}

	args := map[string]string{}
	if err := json.Unmarshal([]byte(*result.SecretString), &args); err != nil {
		return nil, fmt.Errorf("failed to parse secret %s: %w", secretName, err)
	}

	return args, nil
}
