// Package registry publishes locally built images to ECR using short-lived
// credentials from GetAuthorizationToken.
package registry

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/docker/docker/api/types/image"
	registrytypes "github.com/docker/docker/api/types/registry"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/rs/zerolog"

	"github.com/quayops/gantry/internal/services"
)

// ImagePushClient is the slice of the Docker client the publisher needs.
type ImagePushClient interface {
	ImageTag(ctx context.Context, source, target string) error
	ImagePush(ctx context.Context, ref string, options image.PushOptions) (io.ReadCloser, error)
}

// Input describes one publish operation.
type Input struct {
	LocalImage string // locally tagged image, e.g. myapp:v1
	Repository string // ECR repository name
	Tag        string // remote tag
}

// Result reports where the image landed.
type Result struct {
	Reference string // {host}/{repository}:{tag}
	Digest    string // manifest digest reported by the registry, when available
}

// Publisher retags a local image for a remote registry and pushes it.
// Re-pushing the same tag overwrites the remote reference.
type Publisher struct {
	client ImagePushClient
	logger zerolog.Logger
}

func New(client ImagePushClient, logger zerolog.Logger) *Publisher {
	return &Publisher{
		client: client,
		logger: logger.With().Str("service", "publisher").Logger(),
	}
}

// Publish tags input.LocalImage as {auth.Host}/{repository}:{tag} and pushes
// it with the given credential. No retry: auth and network errors surface
// directly to the operator.
func (p *Publisher) Publish(ctx context.Context, input Input, auth *services.RegistryAuth) (*Result, error) {
	if input.LocalImage == "" {
		return nil, fmt.Errorf("local image is required")
	}
	if input.Repository == "" {
		return nil, fmt.Errorf("repository is required")
	}
	if auth == nil || auth.Host == "" {
		return nil, fmt.Errorf("registry credential is required")
	}

	tag := input.Tag
	if tag == "" {
		tag = "latest"
	}

	reference := fmt.Sprintf("%s/%s:%s", auth.Host, input.Repository, tag)

	logger := p.logger.With().
		Str("local_image", input.LocalImage).
		Str("reference", reference).
		Logger()

	if err := p.client.ImageTag(ctx, input.LocalImage, reference); err != nil {
		return nil, fmt.Errorf("failed to tag %s as %s: %w", input.LocalImage, reference, err)
	}

	encodedAuth, err := EncodeAuth(auth)
	if err != nil {
		return nil, err
	}

	logger.Info().Msg("pushing image")

	body, err := p.client.ImagePush(ctx, reference, image.PushOptions{
		RegistryAuth: encodedAuth,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start image push: %w", err)
	}
	defer body.Close()

	digest, err := drainPushOutput(body, logger)
	if err != nil {
		return nil, fmt.Errorf("image push failed: %w", err)
	}

	logger.Info().Str("digest", digest).Msg("image pushed")

	return &Result{
		Reference: reference,
		Digest:    digest,
	}, nil
}

// EncodeAuth encodes an ECR credential into the X-Registry-Auth header format
// the Docker API expects.
func EncodeAuth(auth *services.RegistryAuth) (string, error) {
	cfg := registrytypes.AuthConfig{
		Username:      auth.Username,
		Password:      auth.Password,
		ServerAddress: auth.Host,
	}

	data, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("failed to marshal registry auth: %w", err)
	}

	return base64.URLEncoding.EncodeToString(data), nil
}

// drainPushOutput consumes the push progress stream, returning the manifest
// digest from the final aux record when the registry reports one.
func drainPushOutput(r io.Reader, logger zerolog.Logger) (string, error) {
	var digest string

	decoder := json.NewDecoder(r)
	for {
		var msg jsonmessage.JSONMessage
		if err := decoder.Decode(&msg); err != nil {
			if errors.Is(err, io.EOF) {
				return digest, nil
			}
			return "", fmt.Errorf("failed to decode push output: %w", err)
		}

		if msg.Error != nil {
			return "", msg.Error
		}

		if msg.Aux != nil {
			var aux struct {
				Digest string `json:"Digest"`
			}
			if err := json.Unmarshal(*msg.Aux, &aux); err == nil && aux.Digest != "" {
				digest = aux.Digest
			}
		}

		if msg.Status != "" {
			logger.Debug().Str("status", msg.Status).Str("id", msg.ID).Msg("push progress")
		}
	}
}
