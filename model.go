package main

import (
	"fmt"

	"go.uber.org/zap"
)

// ===========================================================================
// WHAT'S GOING ON HERE
// ===========================================================================
//
// Detector is the whole model:
//
//   image (N, in_channels, H, W)
//     -> compiled backbone (FeatureBlocks and pools)   (N, F, S, S)
//     -> flatten                                        (N, F*S*S)
//     -> detection head                                 (N, (B*5+C)*S*S)
//
// Everything structural happens in NewDetector: the architecture is compiled
// once and the head is built once. After that the model never changes shape;
// the only mutable state left is batch norm's running statistics, and only
// in training mode.
//
// In inference mode (the default) no stage mixes information between
// samples, so the N output vectors are independent of each other and a
// Detector can serve concurrent Forward calls.
//
// ERRORS:
//   construction  *ConfigError (bad option, bad architecture entry)
//   Forward       *ShapeError  (wrong rank, wrong channel count, spatial size
//                               that does not reduce to SxS)
//
// ===========================================================================

// Detector is a compiled YOLOv1-style detection model.
type Detector struct {
	config   ModelConfig
	pipeline *Pipeline
	head     *DetectionHead
	logger   *zap.Logger
	compute  ComputeConfig
}

// NewDetector validates cfg, compiles arch and builds the detection head.
func NewDetector(cfg ModelConfig, arch ArchitectureSpec, opts ...Option) (*Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	specs, final, err := Plan(arch, cfg.InChannels)
	if err != nil {
		return nil, fmt.Errorf("compile architecture: %w", err)
	}

	o := buildOptions(opts)
	pipeline := compilePlan(specs, cfg.InChannels, final, o)

	head, err := NewDetectionHead(final, cfg.SplitSize, cfg.NumBoxes, cfg.NumClasses,
		WithLogger(o.logger), withRand(o), WithComputeConfig(o.compute))
	if err != nil {
		return nil, fmt.Errorf("build detection head: %w", err)
	}

	d := &Detector{
		config:   cfg,
		pipeline: pipeline,
		head:     head,
		logger:   o.logger,
		compute:  o.compute,
	}
	o.logger.Info("detector compiled",
		zap.Int("stages", pipeline.Len()),
		zap.Int("final_channels", final),
		zap.Int("split_size", cfg.SplitSize),
		zap.Int("output_width", head.OutFeatures()),
		zap.Int("parameters", d.NumParameters()))
	return d, nil
}

// EstimateParameters returns the learnable parameter count NewDetector would
// allocate for cfg and arch, without allocating anything.
func EstimateParameters(cfg ModelConfig, arch ArchitectureSpec) (int, error) {
	if err := cfg.Validate(); err != nil {
		return 0, err
	}
	specs, final, err := Plan(arch, cfg.InChannels)
	if err != nil {
		return 0, err
	}

	total := 0
	for _, s := range specs {
		total += s.NumParameters()
	}
	cells := cfg.SplitSize * cfg.SplitSize
	total += final*cells*HeadHiddenWidth + HeadHiddenWidth
	total += HeadHiddenWidth*cfg.OutputWidth() + cfg.OutputWidth()
	return total, nil
}

// withRand shares the already-seeded generator with a nested constructor.
func withRand(src *options) Option {
	return func(o *options) { o.rng = src.rng }
}

// Config returns the construction parameters.
func (d *Detector) Config() ModelConfig { return d.config }

// Pipeline returns the compiled backbone.
func (d *Detector) Pipeline() *Pipeline { return d.pipeline }

// Head returns the detection head.
func (d *Detector) Head() *DetectionHead { return d.head }

// NumParameters counts learnable values in the backbone and head.
func (d *Detector) NumParameters() int {
	return d.pipeline.NumParameters() + d.head.NumParameters()
}

// SetTraining switches batch norm to batch statistics and enables dropout.
// Mode is owned by the caller (a training loop); the default is inference.
func (d *Detector) SetTraining(training bool) {
	d.pipeline.SetTraining(training)
	d.head.SetTraining(training)
}

// Forward runs x of shape (N, in_channels, H, W) through the backbone and
// head and returns (N, (B*5+C)*S*S).
func (d *Detector) Forward(x *Tensor) (*Tensor, error) {
	if x == nil {
		return nil, shapeErrorf("detector", nil, nil, "nil input tensor")
	}
	if err := d.checkInput(x.shape); err != nil {
		return nil, err
	}

	features, err := d.pipeline.Forward(x)
	if err != nil {
		return nil, fmt.Errorf("backbone: %w", err)
	}

	if err := d.checkGrid(features.shape); err != nil {
		return nil, err
	}

	out, err := d.head.Forward(features.Flatten())
	if err != nil {
		return nil, err
	}

	d.logger.Debug("forward",
		zap.Ints("input", x.shape),
		zap.Ints("features", features.shape),
		zap.Ints("output", out.shape))
	return out, nil
}

// OutputShape returns the shape Forward would produce for an input of shape
// in, or the *ShapeError it would fail with. Nothing is computed.
func (d *Detector) OutputShape(in []int) ([]int, error) {
	if err := d.checkInput(in); err != nil {
		return nil, err
	}
	features, err := d.pipeline.OutputShape(in)
	if err != nil {
		return nil, fmt.Errorf("backbone: %w", err)
	}

	if err := d.checkGrid(features); err != nil {
		return nil, err
	}
	return []int{in[0], d.head.OutFeatures()}, nil
}

func (d *Detector) checkInput(shape []int) error {
	if len(shape) != 4 {
		return shapeErrorf("detector", nil, shape, "expected (batch, channels, height, width)")
	}
	for i, dim := range shape {
		if dim <= 0 {
			return shapeErrorf("detector", nil, shape, "dimension %d must be positive, got %d", i, dim)
		}
	}
	if shape[1] != d.config.InChannels {
		return shapeErrorf("detector", []int{shape[0], d.config.InChannels, shape[2], shape[3]}, shape,
			"expected %d input channels, got %d", d.config.InChannels, shape[1])
	}
	return nil
}

// checkGrid requires the backbone output to be exactly (N, F, S, S). A
// feature map with the right element count but another extent is rejected
// rather than flattened into the head.
func (d *Detector) checkGrid(features []int) error {
	s := d.config.SplitSize
	final := d.pipeline.FinalChannels()
	if len(features) != 4 || features[1] != final || features[2] != s || features[3] != s {
		return shapeErrorf("flatten", []int{features[0], final, s, s}, features,
			"backbone output %v does not reduce to a %dx%d grid", features[1:], s, s)
	}
	return nil
}
