// Package builder produces tagged container images via the local Docker
// daemon. The target platform is an explicit, required input: images built
// against the daemon's default platform fail to pull on the target hosts.
package builder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/docker/docker/api/types/build"
	"github.com/docker/docker/pkg/archive"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/rs/zerolog"

	"github.com/quayops/gantry/internal/models"
)

// ImageBuildClient is the slice of the Docker client the builder needs.
type ImageBuildClient interface {
	ImageBuild(ctx context.Context, buildContext io.Reader, options build.ImageBuildOptions) (build.ImageBuildResponse, error)
}

// Input describes one image build.
type Input struct {
	ContextDir string            // build context directory
	Dockerfile string            // path within the context, defaults to Dockerfile
	Tag        string            // local image tag, e.g. myapp:v1
	Platform   string            // required, e.g. linux/amd64
	BuildArgs  map[string]string // flat build parameters, consumed once at build time
}

// Builder builds a single tagged image per invocation.
type Builder struct {
	client ImageBuildClient
	logger zerolog.Logger
}

func New(client ImageBuildClient, logger zerolog.Logger) *Builder {
	return &Builder{
		client: client,
		logger: logger.With().Str("service", "builder").Logger(),
	}
}

// Build runs a docker build for the given input and returns once the image is
// tagged locally. Fails fast on a missing platform, missing tag, or an
// unreadable context; no partial image state is kept on failure.
func (b *Builder) Build(ctx context.Context, input Input) error {
	if _, err := models.ParsePlatform(input.Platform); err != nil {
		return err
	}
	if input.Tag == "" {
		return fmt.Errorf("image tag is required")
	}
	if input.ContextDir == "" {
		return fmt.Errorf("build context directory is required")
	}

	dockerfile := input.Dockerfile
	if dockerfile == "" {
		dockerfile = "Dockerfile"
	}

	buildCtx, err := archive.TarWithOptions(input.ContextDir, &archive.TarOptions{})
	if err != nil {
		return fmt.Errorf("failed to tar build context %s: %w", input.ContextDir, err)
	}
	defer buildCtx.Close()

	buildArgs := make(map[string]*string, len(input.BuildArgs))
	for k := range input.BuildArgs {
		v := input.BuildArgs[k]
		buildArgs[k] = &v
	}

	logger := b.logger.With().
		Str("tag", input.Tag).
		Str("platform", input.Platform).
		Logger()

	logger.Info().
		Int("build_arg_count", len(buildArgs)).
		Msg("starting image build")

	resp, err := b.client.ImageBuild(ctx, buildCtx, build.ImageBuildOptions{
		Tags:       []string{input.Tag},
		Dockerfile: dockerfile,
		Platform:   input.Platform,
		BuildArgs:  buildArgs,
		Remove:     true,
	})
	if err != nil {
		return fmt.Errorf("failed to start image build: %w", err)
	}
	defer resp.Body.Close()

	if err := drainBuildOutput(resp.Body, logger); err != nil {
		return fmt.Errorf("image build failed: %w", err)
	}

	logger.Info().Msg("image built")
	return nil
}

// drainBuildOutput consumes the daemon's progress stream, logging build steps
// and surfacing the first error the daemon reports.
func drainBuildOutput(r io.Reader, logger zerolog.Logger) error {
	decoder := json.NewDecoder(r)
	for {
		var msg jsonmessage.JSONMessage
		if err := decoder.Decode(&msg); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("failed to decode build output: %w", err)
		}

		if msg.Error != nil {
			return msg.Error
		}

		if line := strings.TrimSpace(msg.Stream); line != "" {
			logger.Debug().Msg(line)
		}
	}
}
