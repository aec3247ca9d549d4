package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// Config holds all pipeline configuration values from Parameter Store
type Config struct {
	Cluster          string // ECS cluster name
	Service          string // ECS service name
	Repository       string // ECR repository name
	Region           string // deployment region
	BastionAddress   string // host:port of the bastion used for DB access
	BastionUser      string // ssh user on the bastion
	DBEndpoint       string // host:port of the private database endpoint
	MigrationsSource string // directory or s3://bucket/prefix of migration scripts
	TaskSpecPath     string // path to the task spec YAML
	SSHKeyPath       string // private key for the bastion hop
	KnownHostsPath   string // optional known_hosts file for bastion host key checks
}

// ParameterStore defines the interface for accessing configuration parameters
type ParameterStore interface {
	// GetParameter retrieves a single parameter by name
	GetParameter(ctx context.Context, name string) (string, error)

	// GetConfig loads all pipeline configuration from Parameter Store
	GetConfig(ctx context.Context) (*Config, error)
}

// SSMParameterStore implements ParameterStore using AWS Systems Manager Parameter Store
type SSMParameterStore struct {
	client *ssm.Client
	env    string
	mu     sync.RWMutex
	cache  map[string]string
}

// NewSSMParameterStore creates a new SSM-backed parameter store
func NewSSMParameterStore(client *ssm.Client, env string) *SSMParameterStore {
	return &SSMParameterStore{
		client: client,
		env:    env,
		cache:  make(map[string]string),
	}
}

// GetParameter retrieves a single parameter from SSM Parameter Store
func (s *SSMParameterStore) GetParameter(ctx context.Context, name string) (string, error) {
	// Check cache first
	s.mu.RLock()
	if value, ok := s.cache[name]; ok {
		s.mu.RUnlock()
		return value, nil
	}
	s.mu.RUnlock()

	result, err := s.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           &name,
		WithDecryption: boolPtr(true),
	})
	if err != nil {
		return "", fmt.Errorf("failed to get parameter %s: %w", name, err)
	}

	if result.Parameter == nil || result.Parameter.Value == nil {
		return "", fmt.Errorf("parameter %s not found", name)
	}

	value := *result.Parameter.Value

	s.mu.Lock()
	s.cache[name] = value
	s.mu.Unlock()

	return value, nil
}

// GetConfig loads all pipeline configuration from Parameter Store
func (s *SSMParameterStore) GetConfig(ctx context.Context) (*Config, error) {
	path := fmt.Sprintf("/%s/gantry", s.env)

	// Use GetParametersByPath for efficient batch retrieval
	result, err := s.client.GetParametersByPath(ctx, &ssm.GetParametersByPathInput{
		Path:           &path,
		Recursive:      boolPtr(true),
		WithDecryption: boolPtr(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get parameters by path %s: %w", path, err)
	}

	params := make(map[string]string)
	for _, param := range result.Parameters {
		if param.Name != nil && param.Value != nil {
			params[*param.Name] = *param.Value
		}
	}

	s.mu.Lock()
	for k, v := range params {
		s.cache[k] = v
	}
	s.mu.Unlock()

	config := &Config{
		Cluster:          params[fmt.Sprintf("/%s/gantry/cluster", s.env)],
		Service:          params[fmt.Sprintf("/%s/gantry/service", s.env)],
		Repository:       params[fmt.Sprintf("/%s/gantry/repository", s.env)],
		Region:           params[fmt.Sprintf("/%s/gantry/region", s.env)],
		BastionAddress:   params[fmt.Sprintf("/%s/gantry/bastion-address", s.env)],
		BastionUser:      params[fmt.Sprintf("/%s/gantry/bastion-user", s.env)],
		DBEndpoint:       params[fmt.Sprintf("/%s/gantry/db-endpoint", s.env)],
		MigrationsSource: params[fmt.Sprintf("/%s/gantry/migrations-source", s.env)],
		TaskSpecPath:     params[fmt.Sprintf("/%s/gantry/task-spec-path", s.env)],
		SSHKeyPath:       params[fmt.Sprintf("/%s/gantry/ssh-key-path", s.env)],
		KnownHostsPath:   params[fmt.Sprintf("/%s/gantry/known-hosts-path", s.env)],
	}

	setConfigDefaults(config)

	return config, nil
}

// EnvParameterStore implements ParameterStore using environment variables.
// This is a fallback implementation for local development without AWS access.
type EnvParameterStore struct {
	env string
}

// NewEnvParameterStore creates a new environment variable-backed parameter store
func NewEnvParameterStore(env string) *EnvParameterStore {
	return &EnvParameterStore{
		env: env,
	}
}

// GetParameter retrieves a parameter from environment variables
func (e *EnvParameterStore) GetParameter(ctx context.Context, name string) (string, error) {
	return os.Getenv(name), nil
}

// GetConfig loads all pipeline configuration from environment variables
func (e *EnvParameterStore) GetConfig(ctx context.Context) (*Config, error) {
	config := &Config{
		Cluster:          os.Getenv("GANTRY_CLUSTER"),
		Service:          os.Getenv("GANTRY_SERVICE"),
		Repository:       os.Getenv("GANTRY_REPOSITORY"),
		Region:           os.Getenv("AWS_REGION"),
		BastionAddress:   os.Getenv("GANTRY_BASTION_ADDRESS"),
		BastionUser:      os.Getenv("GANTRY_BASTION_USER"),
		DBEndpoint:       os.Getenv("GANTRY_DB_ENDPOINT"),
		MigrationsSource: os.Getenv("GANTRY_MIGRATIONS_SOURCE"),
		TaskSpecPath:     os.Getenv("GANTRY_TASK_SPEC"),
		SSHKeyPath:       os.Getenv("GANTRY_SSH_KEY"),
		KnownHostsPath:   os.Getenv("GANTRY_KNOWN_HOSTS"),
	}

	setConfigDefaults(config)

	return config, nil
}

func setConfigDefaults(config *Config) {
	if config.Region == "" {
		config.Region = "us-east-1"
	}
	if config.BastionUser == "" {
		config.BastionUser = "ec2-user"
	}
	if config.MigrationsSource == "" {
		config.MigrationsSource = "./migrations"
	}
	if config.TaskSpecPath == "" {
		config.TaskSpecPath = "./task.yaml"
	}
	if config.SSHKeyPath == "" {
		if home, err := os.UserHomeDir(); err == nil {
			config.SSHKeyPath = filepath.Join(home, ".ssh", "id_rsa")
		}
	}
}

func boolPtr(b bool) *bool {
	return &b
}
