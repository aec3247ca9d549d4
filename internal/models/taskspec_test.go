package models

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gantryerrors "github.com/quayops/gantry/internal/errors"
)

func TestParsePlatform(t *testing.T) {
	tests := []struct {
		name     string
		platform string
		want     RuntimePlatform
		wantErr  bool
	}{
		{
			name:     "linux amd64",
			platform: "linux/amd64",
			want:     RuntimePlatform{OS: "LINUX", Arch: "X86_64"},
		},
		{
			name:     "linux arm64",
			platform: "linux/arm64",
			want:     RuntimePlatform{OS: "LINUX", Arch: "ARM64"},
		},
		{
			name:     "x86_64 alias",
			platform: "linux/x86_64",
			want:     RuntimePlatform{OS: "LINUX", Arch: "X86_64"},
		},
		{
			name:     "missing arch",
			platform: "linux",
			wantErr:  true,
		},
		{
			name:     "unsupported arch",
			platform: "linux/s390x",
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePlatform(tt.platform)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParsePlatform_EmptyIsNotDefaulted(t *testing.T) {
	_, err := ParsePlatform("")
	assert.ErrorIs(t, err, gantryerrors.ErrPlatformRequired)
}

func TestLoadTaskSpec(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "task.yaml")

	spec := `
family: myapp
cpu: "256"
memory: "512"
execution_role_arn: arn:aws:iam::123456789012:role/GantryTaskExecutionRole
platform: linux/amd64
container:
  name: app
  port: 8080
  environment:
    APP_DOMAIN: example.com
  secrets:
    DB_PASSWORD: arn:aws:secretsmanager:us-east-1:123456789012:secret:myapp/dev/db
  log_group: /ecs/myapp
`
	require.NoError(t, os.WriteFile(path, []byte(spec), 0o644))

	got, err := LoadTaskSpec(path)
	require.NoError(t, err)

	assert.Equal(t, "myapp", got.Family)
	assert.Equal(t, "256", got.CPU)
	assert.Equal(t, "app", got.Container.Name)
	assert.Equal(t, int32(8080), got.Container.Port)
	assert.Equal(t, "example.com", got.Container.Environment["APP_DOMAIN"])
	assert.Equal(t, "/ecs/myapp", got.Container.LogGroup)
}

func TestLoadTaskSpec_MissingPlatform(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "task.yaml")

	spec := `
family: myapp
cpu: "256"
memory: "512"
container:
  name: app
`
	require.NoError(t, os.WriteFile(path, []byte(spec), 0o644))

	_, err := LoadTaskSpec(path)
	assert.ErrorIs(t, err, gantryerrors.ErrPlatformRequired)
}

func TestTaskSpecValidate(t *testing.T) {
	valid := TaskSpec{
		Family:   "myapp",
		CPU:      "256",
		Memory:   "512",
		Platform: "linux/amd64",
		Container: ContainerSpec{
			Name: "app",
		},
	}

	tests := []struct {
		name    string
		mutate  func(*TaskSpec)
		wantErr bool
	}{
		{
			name:   "valid spec",
			mutate: func(s *TaskSpec) {},
		},
		{
			name:    "missing family",
			mutate:  func(s *TaskSpec) { s.Family = "" },
			wantErr: true,
		},
		{
			name:    "missing container name",
			mutate:  func(s *TaskSpec) { s.Container.Name = "" },
			wantErr: true,
		},
		{
			name:    "missing cpu",
			mutate:  func(s *TaskSpec) { s.CPU = "" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := valid
			tt.mutate(&spec)
			err := spec.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
