package models

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	gantryerrors "github.com/quayops/gantry/internal/errors"
)

// RuntimePlatform is the parsed form of a platform identifier such as
// "linux/amd64". Both components are required; there is no default.
type RuntimePlatform struct {
	OS   string // LINUX, WINDOWS_SERVER_2019_CORE, ...
	Arch string // X86_64, ARM64
}

// ParsePlatform parses an explicit platform identifier in os/arch form.
// An empty platform is an error: images built without explicit platform
// metadata fail to pull on the target hosts, so the caller must always say
// what it is building for.
func ParsePlatform(platform string) (RuntimePlatform, error) {
	if platform == "" {
		return RuntimePlatform{}, gantryerrors.ErrPlatformRequired
	}

	parts := strings.Split(platform, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return RuntimePlatform{}, fmt.Errorf("invalid platform %q (expected os/arch, e.g. linux/amd64)", platform)
	}

	rp := RuntimePlatform{OS: strings.ToUpper(parts[0])}

	switch parts[1] {
	case "amd64", "x86_64":
		rp.Arch = "X86_64"
	case "arm64", "aarch64":
		rp.Arch = "ARM64"
	default:
		return RuntimePlatform{}, fmt.Errorf("unsupported cpu architecture %q in platform %q", parts[1], platform)
	}

	return rp, nil
}

// ContainerSpec describes the single application container in the task spec.
type ContainerSpec struct {
	Name        string            `yaml:"name"`
	Port        int32             `yaml:"port"`
	Environment map[string]string `yaml:"environment"`
	Secrets     map[string]string `yaml:"secrets"` // env var name -> Secrets Manager / SSM ARN
	LogGroup    string            `yaml:"log_group"`
	HealthCheck []string          `yaml:"health_check"`
}

// TaskSpec is the declarative descriptor of a container workload. Each deploy
// renders it with a concrete image URI and registers a new task definition
// revision; existing revisions are never mutated.
type TaskSpec struct {
	Family           string        `yaml:"family"`
	CPU              string        `yaml:"cpu"`
	Memory           string        `yaml:"memory"`
	ExecutionRoleArn string        `yaml:"execution_role_arn"`
	TaskRoleArn      string        `yaml:"task_role_arn"`
	Platform         string        `yaml:"platform"`
	Container        ContainerSpec `yaml:"container"`
}

// LoadTaskSpec reads and validates a task spec YAML file.
func LoadTaskSpec(path string) (*TaskSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read task spec: %w", err)
	}

	var spec TaskSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("failed to parse task spec: %w", err)
	}

	if err := spec.Validate(); err != nil {
		return nil, err
	}

	return &spec, nil
}

// Validate checks that the spec carries everything a task definition needs.
func (s *TaskSpec) Validate() error {
	if s.Family == "" {
		return fmt.Errorf("task spec: family is required")
	}
	if s.Container.Name == "" {
		return fmt.Errorf("task spec: container.name is required")
	}
	if s.CPU == "" || s.Memory == "" {
		return fmt.Errorf("task spec: cpu and memory are required")
	}
	if _, err := ParsePlatform(s.Platform); err != nil {
		return fmt.Errorf("task spec: %w", err)
	}
	return nil
}
