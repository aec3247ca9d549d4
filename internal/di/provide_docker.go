package di

import (
	"fmt"

	"github.com/docker/docker/client"
)

// ProvideDockerClient connects to the local Docker daemon using the standard
// DOCKER_HOST / DOCKER_CERT_PATH environment configuration.
func ProvideDockerClient() (*client.Client, error) {
	dockerClient, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to docker daemon: %w", err)
	}
	return dockerClient, nil
}
