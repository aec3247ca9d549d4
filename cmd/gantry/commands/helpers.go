package commands

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/quayops/gantry/internal/services"
)

// serviceName resolves the service from the --service flag, falling back to
// the configured repository name.
func serviceName(c *cli.Context, cfg *services.Config) (string, error) {
	if s := c.String("service"); s != "" {
		return s, nil
	}
	if cfg.Repository != "" {
		return cfg.Repository, nil
	}
	if cfg.Service != "" {
		return cfg.Service, nil
	}
	return "", fmt.Errorf("no service given: pass --service or configure one")
}

func envFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:    "env",
		Aliases: []string{"environment"},
		Usage:   "Environment name (dev, staging, prod)",
		Value:   "dev",
		EnvVars: []string{"GANTRY_ENV"},
	}
}

func serviceFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:    "service",
		Aliases: []string{"s"},
		Usage:   "Service name (also the ECR repository name)",
		EnvVars: []string{"GANTRY_SERVICE"},
	}
}

func versionFlag(required bool) *cli.StringFlag {
	return &cli.StringFlag{
		Name:     "version",
		Aliases:  []string{"v"},
		Usage:    "Version string used as the image tag (e.g. 1.4.2 or a commit sha)",
		Required: required,
	}
}

func platformFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:     "platform",
		Usage:    "Target platform, e.g. linux/amd64 or linux/arm64 (no default on purpose)",
		Required: true,
		EnvVars:  []string{"GANTRY_PLATFORM"},
	}
}
