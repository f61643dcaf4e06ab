/**
 * Copyright 2020 TryFix Engineering.
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gmbyapa@gmail.com)
 */

package eventschema

import (
	"context"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/tryfix/log"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
)

// Config selects and configures the registry backend of an fx application
type Config struct {
	// Backend is "local" (in-memory) or "confluent"
	Backend   string
	Confluent ConfluentConfig

	// Policy defaults to AutoRegisterPolicy
	Policy        *Policy
	Compatibility CompatibilityMode

	// WarmUpFormat, when set, registers every mapped type on application start
	WarmUpFormat SchemaDataFormat
	// Types are mapped before the application starts
	Types map[SchemaName]interface{}
}

// FXModule provides a *Registry, its *SchemaManager and the RegistryClient selected by Config.
//
// Usage:
//
//	app := fx.New(
//	    eventschema.FXModule,
//	    fx.Provide(func() eventschema.Config {
//	        return eventschema.Config{
//	            Backend:   `confluent`,
//	            Confluent: eventschema.ConfluentConfig{URL: `http://localhost:8081`},
//	        }
//	    }),
//	)
var FXModule = fx.Module(`eventschema`,
	fx.Provide(
		NewRegistryClientWithDI,
		NewRegistryWithDI,
		func(r *Registry) *SchemaManager { return r.Manager() },
	),
	fx.Invoke(RegisterRegistryLifecycle),
)

// RegistryClientParams groups the dependencies of the registry client
type RegistryClientParams struct {
	fx.In

	Config Config
	Logger log.Logger `optional:"true"`
}

// NewRegistryClientWithDI returns the RegistryClient named by Config.Backend
func NewRegistryClientWithDI(params RegistryClientParams) (RegistryClient, error) {
	switch strings.ToLower(strings.TrimSpace(params.Config.Backend)) {
	case ``, `local`, `memory`:
		return NewLocalRegistry(), nil
	case `confluent`, `csr`:
		return NewConfluentRegistry(params.Config.Confluent, params.Logger)
	default:
		return nil, &PreconditionError{Reason: fmt.Sprintf(`unsupported registry backend [%s]`, params.Config.Backend)}
	}
}

// RegistryParams groups the dependencies of the Registry
type RegistryParams struct {
	fx.In

	Config         Config
	Client         RegistryClient
	Logger         log.Logger            `optional:"true"`
	Registerer     prometheus.Registerer `optional:"true"`
	TracerProvider trace.TracerProvider  `optional:"true"`
	Resolver       TypeResolver          `optional:"true"`
}

// NewRegistryWithDI returns a Registry configured from Config and the optional dependencies
func NewRegistryWithDI(params RegistryParams) (*Registry, error) {
	opts := []Option{
		WithLogger(params.Logger),
		WithTracerProvider(params.TracerProvider),
		WithMetricsRegisterer(params.Registerer),
		WithTypeResolver(params.Resolver),
	}
	if params.Config.Policy != nil {
		opts = append(opts, WithPolicy(*params.Config.Policy))
	}
	if params.Config.Compatibility != CompatibilityUnspecified {
		opts = append(opts, WithCompatibilityMode(params.Config.Compatibility))
	}

	r, err := NewRegistry(params.Client, opts...)
	if err != nil {
		return nil, err
	}

	for name, value := range params.Config.Types {
		if err := r.Map(name, value); err != nil {
			return nil, err
		}
	}

	return r, nil
}

// RegistryLifecycleParams groups the dependencies of the registry lifecycle hooks
type RegistryLifecycleParams struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    Config
	Registry  *Registry
}

// RegisterRegistryLifecycle warms the schema cache up on start and prints it on stop
func RegisterRegistryLifecycle(params RegistryLifecycleParams) {
	params.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if params.Config.WarmUpFormat == DataFormatUnspecified {
				return nil
			}

			return params.Registry.WarmUp(ctx, params.Config.WarmUpFormat)
		},
		OnStop: func(ctx context.Context) error {
			params.Registry.Print()
			return nil
		},
	})
}
