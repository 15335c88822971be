package main

import "fmt"

// Stage is one step of a compiled backbone: it maps a (N, C, H, W) feature
// map to another. Stages never mutate their input.
type Stage interface {
	Forward(x *Tensor) (*Tensor, error)
	Spec() StageSpec
}

// trainable is implemented by stages whose behavior depends on the
// training/inference mode (batch norm, dropout).
type trainable interface {
	SetTraining(training bool)
}

// StageKind identifies what a StageSpec instantiates.
type StageKind int

const (
	StageFilter StageKind = iota
	StagePool
)

func (k StageKind) String() string {
	switch k {
	case StageFilter:
		return "filter"
	case StagePool:
		return "maxpool"
	}
	return fmt.Sprintf("StageKind(%d)", int(k))
}

// StageSpec is the resolved parameter tuple of one stage. Plan produces
// these; Compile turns each into a Stage.
type StageSpec struct {
	Kind        StageKind
	InChannels  int
	OutChannels int
	KernelSize  int
	Stride      int
	Padding     int
}

func filterStage(inChannels int, f FilterEntry) StageSpec {
	return StageSpec{
		Kind:        StageFilter,
		InChannels:  inChannels,
		OutChannels: f.OutChannels,
		KernelSize:  f.KernelSize,
		Stride:      f.Stride,
		Padding:     f.Padding,
	}
}

func poolStage(channels int) StageSpec {
	return StageSpec{
		Kind:        StagePool,
		InChannels:  channels,
		OutChannels: channels,
		KernelSize:  2,
		Stride:      2,
	}
}

func (s StageSpec) String() string {
	if s.Kind == StagePool {
		return fmt.Sprintf("maxpool(%dx%d/%d, ch=%d)", s.KernelSize, s.KernelSize, s.Stride, s.InChannels)
	}
	return fmt.Sprintf("conv(%d->%d, k=%d, s=%d, p=%d)", s.InChannels, s.OutChannels, s.KernelSize, s.Stride, s.Padding)
}

// NumParameters counts learnable values: conv weights plus batch norm
// gamma and beta. Pools have none.
func (s StageSpec) NumParameters() int {
	if s.Kind != StageFilter {
		return 0
	}
	return s.OutChannels*s.InChannels*s.KernelSize*s.KernelSize + 2*s.OutChannels
}

// OutputShape returns the shape produced from an input of shape in without
// running the stage.
func (s StageSpec) OutputShape(in []int) ([]int, error) {
	op := s.String()
	if len(in) != 4 {
		return nil, shapeErrorf(op, nil, in, "expected (batch, channels, height, width)")
	}
	if in[1] != s.InChannels {
		return nil, shapeErrorf(op, []int{in[0], s.InChannels, in[2], in[3]}, in,
			"expected %d input channels, got %d", s.InChannels, in[1])
	}

	outH := convOutputSize(in[2], s.KernelSize, s.Stride, s.Padding)
	outW := convOutputSize(in[3], s.KernelSize, s.Stride, s.Padding)
	if outH < 1 || outW < 1 {
		return nil, shapeErrorf(op, nil, in,
			"spatial size %dx%d too small for kernel %d", in[2], in[3], s.KernelSize)
	}
	return []int{in[0], s.OutChannels, outH, outW}, nil
}

// convOutputSize is floor((in + 2*pad - kernel) / stride) + 1, or 0 when the
// kernel does not fit at all. Pooling is the pad=0 case.
func convOutputSize(in, kernel, stride, pad int) int {
	span := in + 2*pad - kernel
	if span < 0 {
		return 0
	}
	return span/stride + 1
}
