package main

import "fmt"

// FeatureBlock is the fused unit every filter entry compiles to:
//
//	Conv2D (no bias) -> BatchNorm2D -> LeakyReLU(0.1)
//
// Apart from batch norm's running statistics it holds no state between
// calls.
type FeatureBlock struct {
	spec    StageSpec
	conv    *Conv2D
	bn      *BatchNorm2D
	compute ComputeConfig
}

// NewFeatureBlock validates the geometry and builds the block. Invalid
// parameters fail here, before any forward call is possible.
func NewFeatureBlock(inChannels, outChannels, kernelSize, stride, padding int, opts ...Option) (*FeatureBlock, error) {
	entry := FilterEntry{KernelSize: kernelSize, OutChannels: outChannels, Stride: stride, Padding: padding}
	if inChannels <= 0 {
		return nil, configErrorf(-1, entry, "input channels must be positive, got %d", inChannels)
	}
	if reason := entry.validate(); reason != "" {
		return nil, configErrorf(-1, entry, "%s", reason)
	}
	return newFeatureBlock(filterStage(inChannels, entry), buildOptions(opts)), nil
}

func newFeatureBlock(spec StageSpec, o *options) *FeatureBlock {
	return &FeatureBlock{
		spec:    spec,
		conv:    NewConv2D(spec.InChannels, spec.OutChannels, spec.KernelSize, spec.Stride, spec.Padding, o.rng, o.compute),
		bn:      NewBatchNorm2D(spec.OutChannels, o.compute),
		compute: o.compute,
	}
}

// Spec returns the block's parameter tuple.
func (b *FeatureBlock) Spec() StageSpec { return b.spec }

// InChannels returns the expected input channel count.
func (b *FeatureBlock) InChannels() int { return b.spec.InChannels }

// OutChannels returns the produced channel count.
func (b *FeatureBlock) OutChannels() int { return b.spec.OutChannels }

// SetTraining forwards the mode to batch norm.
func (b *FeatureBlock) SetTraining(training bool) { b.bn.SetTraining(training) }

// Forward applies conv, batch norm and the leaky rectifier.
func (b *FeatureBlock) Forward(x *Tensor) (*Tensor, error) {
	y, err := b.conv.Forward(x)
	if err != nil {
		return nil, fmt.Errorf("feature block: %w", err)
	}
	y, err = b.bn.Forward(y)
	if err != nil {
		return nil, fmt.Errorf("feature block: %w", err)
	}
	return LeakyReLU(y, b.compute), nil
}
