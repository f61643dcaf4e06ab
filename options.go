/**
 * Copyright 2020 TryFix Engineering.
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gmbyapa@gmail.com)
 */

package eventschema

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/tryfix/log"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const (
	defaultMaxRegistrationAttempts = 3
	defaultWarmUpConcurrency       = 4
)

type options struct {
	logger                  log.Logger
	tracerProvider          trace.TracerProvider
	registerer              prometheus.Registerer
	exporter                SchemaExporter
	resolver                TypeResolver
	naming                  NamingStrategy
	policy                  Policy
	compatibility           CompatibilityMode
	maxRegistrationAttempts int
	warmUpConcurrency       int
}

// Option is a type to host NewRegistry and NewSchemaManager configurations
type Option func(*options)

func newOptions(opts ...Option) *options {
	o := &options{
		policy:                  AutoRegisterPolicy,
		compatibility:           CompatibilityBackward,
		maxRegistrationAttempts: defaultMaxRegistrationAttempts,
		warmUpConcurrency:       defaultWarmUpConcurrency,
	}
	for _, opt := range opts {
		opt(o)
	}

	if o.logger == nil {
		o.logger = log.NewNoopLogger()
	}
	if o.tracerProvider == nil {
		o.tracerProvider = noop.NewTracerProvider()
	}
	if o.exporter == nil {
		o.exporter = NewReflectExporter()
	}
	if o.naming == nil {
		o.naming = TypeNameStrategy{}
	}
	if o.maxRegistrationAttempts < 1 {
		o.maxRegistrationAttempts = 1
	}
	if o.warmUpConcurrency < 1 {
		o.warmUpConcurrency = 1
	}

	return o
}

// WithLogger sets the logger, a noop logger is used otherwise
func WithLogger(logger log.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithTracerProvider sets the tracer provider used for spans around registry calls
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		o.tracerProvider = tp
	}
}

// WithMetricsRegisterer registers the schema metrics with the given prometheus registerer
func WithMetricsRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = reg
	}
}

// WithExporter replaces the default reflection based SchemaExporter
func WithExporter(exporter SchemaExporter) Option {
	return func(o *options) {
		o.exporter = exporter
	}
}

// WithTypeResolver sets the fallback used to resolve unmapped schema names
func WithTypeResolver(resolver TypeResolver) Option {
	return func(o *options) {
		o.resolver = resolver
	}
}

// WithNamingStrategy sets the strategy naming schemas of unmapped types
func WithNamingStrategy(naming NamingStrategy) Option {
	return func(o *options) {
		o.naming = naming
	}
}

// WithPolicy sets the registration policy of the serializers
func WithPolicy(policy Policy) Option {
	return func(o *options) {
		o.policy = policy
	}
}

// WithCompatibilityMode sets the compatibility mode of auto registered schemas
func WithCompatibilityMode(mode CompatibilityMode) Option {
	return func(o *options) {
		o.compatibility = mode
	}
}

// WithMaxRegistrationAttempts bounds register-or-reuse retries after lost registration races
func WithMaxRegistrationAttempts(n int) Option {
	return func(o *options) {
		o.maxRegistrationAttempts = n
	}
}

// WithWarmUpConcurrency bounds the number of concurrent registrations issued by WarmUp
func WithWarmUpConcurrency(n int) Option {
	return func(o *options) {
		o.warmUpConcurrency = n
	}
}
