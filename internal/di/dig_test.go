package di

import (
	"testing"

	"go.uber.org/dig"
)

// Test types for dependency injection
type registryClient struct {
	Host string
}

type clusterClient struct {
	Name string
}

type pipeline struct {
	Registry *registryClient
	Cluster  *clusterClient
	Env      string
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		env     string
		opts    []Option
		wantErr bool
	}{
		{
			name:    "creates container with no providers",
			env:     "dev",
			opts:    nil,
			wantErr: false,
		},
		{
			name: "creates container with single provider",
			env:  "staging",
			opts: []Option{
				WithProviders(func() *registryClient {
					return &registryClient{Host: "example.test"}
				}),
			},
			wantErr: false,
		},
		{
			name: "creates container with multiple providers",
			env:  "prod",
			opts: []Option{
				WithProviders(
					func() *registryClient {
						return &registryClient{Host: "example.test"}
					},
					func() *clusterClient {
						return &clusterClient{Name: "prod-cluster"}
					},
				),
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			container, err := New(tt.env, tt.opts...)
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if container == nil && !tt.wantErr {
				t.Error("New() returned nil container without error")
			}
		})
	}
}

func TestNew_InvalidProvider(t *testing.T) {
	// Attempting to provide the same type twice should fail
	_, err := New("dev",
		WithProviders(
			func() *registryClient {
				return &registryClient{Host: "a"}
			},
			func() *registryClient {
				return &registryClient{Host: "b"}
			},
		),
	)

	if err == nil {
		t.Error("New() should return error when providing duplicate types")
	}
}

func TestNew_ProvidesEnvironment(t *testing.T) {
	expectedEnv := "test-env"
	container, err := New(expectedEnv)
	if err != nil {
		t.Fatalf("New() unexpected error: %v", err)
	}

	// Extract the environment as a string parameter
	var actualEnv string
	err = container.Invoke(func(env string) {
		actualEnv = env
	})
	if err != nil {
		t.Fatalf("Invoke() unexpected error: %v", err)
	}

	if actualEnv != expectedEnv {
		t.Errorf("Environment = %v, want %v", actualEnv, expectedEnv)
	}
}

func TestNew_ProvidesOptions(t *testing.T) {
	container, err := New("dev",
		WithBuildContext("./app", "docker/Dockerfile"),
		WithWait(true),
	)
	if err != nil {
		t.Fatalf("New() unexpected error: %v", err)
	}

	err = container.Invoke(func(buildCtx BuildContext, wait WaitForSteadyState) {
		if buildCtx.Dir != "./app" {
			t.Errorf("BuildContext.Dir = %v, want ./app", buildCtx.Dir)
		}
		if buildCtx.Dockerfile != "docker/Dockerfile" {
			t.Errorf("BuildContext.Dockerfile = %v, want docker/Dockerfile", buildCtx.Dockerfile)
		}
		if !bool(wait) {
			t.Error("WaitForSteadyState = false, want true")
		}
	})
	if err != nil {
		t.Fatalf("Invoke() unexpected error: %v", err)
	}
}

func TestMustGet(t *testing.T) {
	t.Run("successfully retrieves dependency", func(t *testing.T) {
		container, err := New("dev",
			WithProviders(func() *registryClient {
				return &registryClient{Host: "example.test"}
			}),
		)
		if err != nil {
			t.Fatalf("New() unexpected error: %v", err)
		}

		rc := MustGet[*registryClient](container)
		if rc == nil {
			t.Error("MustGet() returned nil")
		}
		if rc.Host != "example.test" {
			t.Errorf("registryClient.Host = %v, want %v", rc.Host, "example.test")
		}
	})

	t.Run("panics when dependency not found", func(t *testing.T) {
		container, err := New("dev")
		if err != nil {
			t.Fatalf("New() unexpected error: %v", err)
		}

		defer func() {
			if r := recover(); r == nil {
				t.Error("MustGet() did not panic")
			}
		}()

		_ = MustGet[*registryClient](container)
	})
}

func TestDependencyInjection(t *testing.T) {
	t.Run("resolves dependencies automatically", func(t *testing.T) {
		container, err := New("production",
			WithProviders(
				func() *registryClient {
					return &registryClient{Host: "example.test"}
				},
				func() *clusterClient {
					return &clusterClient{Name: "prod-cluster"}
				},
				func(rc *registryClient, cc *clusterClient, env string) *pipeline {
					return &pipeline{
						Registry: rc,
						Cluster:  cc,
						Env:      env,
					}
				},
			),
		)
		if err != nil {
			t.Fatalf("New() unexpected error: %v", err)
		}

		p := MustGet[*pipeline](container)
		if p.Registry.Host != "example.test" {
			t.Errorf("pipeline.Registry.Host = %v, want %v", p.Registry.Host, "example.test")
		}
		if p.Cluster.Name != "prod-cluster" {
			t.Errorf("pipeline.Cluster.Name = %v, want %v", p.Cluster.Name, "prod-cluster")
		}
		if p.Env != "production" {
			t.Errorf("pipeline.Env = %v, want %v", p.Env, "production")
		}
	})

	t.Run("chains multiple WithProviders calls", func(t *testing.T) {
		container, err := New("dev",
			WithProviders(func() *registryClient {
				return &registryClient{Host: "example.test"}
			}),
			WithProviders(func() *clusterClient {
				return &clusterClient{Name: "dev-cluster"}
			}),
		)
		if err != nil {
			t.Fatalf("New() unexpected error: %v", err)
		}

		err = container.Invoke(func(rc *registryClient, cc *clusterClient) {
			if rc == nil || cc == nil {
				t.Error("Expected both dependencies to be available")
			}
		})
		if err != nil {
			t.Fatalf("Invoke() unexpected error: %v", err)
		}
	})
}

func TestContainer_Interface(t *testing.T) {
	t.Run("implements Container interface", func(t *testing.T) {
		var _ Container = (*dig.Container)(nil)
	})

	t.Run("can be used polymorphically", func(t *testing.T) {
		var container Container
		container, err := New("dev",
			WithProviders(func() *registryClient {
				return &registryClient{Host: "test"}
			}),
		)
		if err != nil {
			t.Fatalf("New() unexpected error: %v", err)
		}

		err = container.Invoke(func(rc *registryClient) {
			if rc.Host != "test" {
				t.Errorf("registryClient.Host = %v, want %v", rc.Host, "test")
			}
		})
		if err != nil {
			t.Fatalf("Invoke() unexpected error: %v", err)
		}
	})
}
