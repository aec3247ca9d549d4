package di

// BuildContext names the docker build context the pipeline builds from.
type BuildContext struct {
	Dir        string
	Dockerfile string
}

// WaitForSteadyState controls whether the deploy stage blocks until the
// service converges on the new task definition.
type WaitForSteadyState bool

// Option is a function that configures the dependency injection container.
type Option func(*options)

func WithBuildContext(dir, dockerfile string) Option {
	return func(opts *options) {
		opts.buildContext = BuildContext{Dir: dir, Dockerfile: dockerfile}
	}
}

func WithWait(wait bool) Option {
	return func(opts *options) {
		opts.wait = wait
	}
}

// WithProviders adds constructor functions to the dependency injection container.
// Each provider should be a constructor function that returns one or more values.
// Providers can declare dependencies as function parameters, which will be
// automatically resolved by the container.
//
// Example:
//
//	WithProviders(
//	    func() *Database { return &Database{} },
//	    func(db *Database) *Service { return &Service{DB: db} },
//	)
func WithProviders(providers ...any) Option {
	return func(opts *options) {
		opts.providers = append(opts.providers, providers...)
	}
}

type options struct {
	buildContext BuildContext
	wait         bool
	providers    []any
}
