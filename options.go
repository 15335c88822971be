package main

import (
	"math/rand"

	"go.uber.org/zap"
)

// options collects construction-time settings shared by Compile,
// NewFeatureBlock, NewDetectionHead and NewDetector.
type options struct {
	logger  *zap.Logger
	rng     *rand.Rand
	compute ComputeConfig
}

// Option configures model construction.
type Option func(*options)

// WithLogger sets the logger used during compilation and forward passes.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithSeed makes weight initialization and dropout reproducible.
func WithSeed(seed int64) Option {
	return func(o *options) {
		o.rng = rand.New(rand.NewSource(seed))
	}
}

// WithComputeConfig overrides the global compute configuration for the
// stages being built.
func WithComputeConfig(cfg ComputeConfig) Option {
	return func(o *options) {
		o.compute = cfg
	}
}

func buildOptions(opts []Option) *options {
	o := &options{
		logger:  zap.NewNop(),
		compute: GetGlobalComputeConfig(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.rng == nil {
		o.rng = rand.New(rand.NewSource(rand.Int63()))
	}
	return o
}
