package main

import (
	"fmt"

	"go.uber.org/zap"
)

// ===========================================================================
// WHAT'S GOING ON HERE
// ===========================================================================
//
// The architecture compiler. It turns an ArchitectureSpec into an ordered,
// immutable list of stages in two steps:
//
//   Plan     walks the architecture once and resolves every stage's parameter tuple,
//            threading the channel width from one stage into the next.
//            Pure bookkeeping, no allocation of weights.
//   Compile  instantiates a FeatureBlock or MaxPool2D per planned stage.
//
// CHANNEL-WIDTH CURSOR:
//
//   cursor = in_channels
//   filter (k, out, s, p)         -> block(cursor -> out);   cursor = out
//   pool "M"                      -> maxpool(cursor);        cursor unchanged
//   repeat [(first), (second), n] -> n times:
//                                      block(cursor -> first.out)
//                                      block(first.out -> second.out)
//                                      cursor = second.out
//
// After every step the cursor equals the output width of the most recent
// filter stage, so stage[i].OutChannels == stage[i+1].InChannels holds for
// every adjacent pair of filter stages, across pools and repeat boundaries.
//
// An empty spec compiles to an empty pipeline whose final width is the input
// width.
//
// ===========================================================================

// Plan resolves spec into per-stage parameter tuples and the final channel
// count. It fails with a *ConfigError on the first invalid entry.
func Plan(spec ArchitectureSpec, inChannels int) ([]StageSpec, int, error) {
	if inChannels <= 0 {
		return nil, 0, configErrorf(-1, "in_channels", "must be positive, got %d", inChannels)
	}

	stages := make([]StageSpec, 0, len(spec))
	cursor := inChannels

	for i, entry := range spec {
		switch e := entry.(type) {
		case FilterEntry:
			if reason := e.validate(); reason != "" {
				return nil, 0, configErrorf(i, e, "%s", reason)
			}
			stages = append(stages, filterStage(cursor, e))
			cursor = e.OutChannels

		case PoolMarker:
			stages = append(stages, poolStage(cursor))

		case RepeatGroup:
			if reason := e.First.validate(); reason != "" {
				return nil, 0, configErrorf(i, e, "first filter: %s", reason)
			}
			if reason := e.Second.validate(); reason != "" {
				return nil, 0, configErrorf(i, e, "second filter: %s", reason)
			}
			if e.Count <= 0 {
				return nil, 0, configErrorf(i, e, "repeat count must be positive, got %d", e.Count)
			}
			for r := 0; r < e.Count; r++ {
				stages = append(stages,
					filterStage(cursor, e.First),
					filterStage(e.First.OutChannels, e.Second),
				)
				cursor = e.Second.OutChannels
			}

		default:
			return nil, 0, configErrorf(i, fmt.Sprintf("%#v", entry), "unrecognized entry type %T", entry)
		}
	}

	return stages, cursor, nil
}

// Pipeline is a compiled backbone: an immutable, ordered list of stages.
type Pipeline struct {
	stages        []Stage
	specs         []StageSpec
	inChannels    int
	finalChannels int
}

// Compile plans spec and instantiates every stage.
func Compile(spec ArchitectureSpec, inChannels int, opts ...Option) (*Pipeline, error) {
	specs, final, err := Plan(spec, inChannels)
	if err != nil {
		return nil, err
	}
	return compilePlan(specs, inChannels, final, buildOptions(opts)), nil
}

func compilePlan(specs []StageSpec, inChannels, final int, o *options) *Pipeline {
	stages := make([]Stage, len(specs))
	for i, s := range specs {
		switch s.Kind {
		case StageFilter:
			stages[i] = newFeatureBlock(s, o)
		case StagePool:
			stages[i] = NewMaxPool2D(s.InChannels, o.compute)
		}
		o.logger.Debug("compiled stage", zap.Int("index", i), zap.Stringer("stage", s))
	}

	return &Pipeline{
		stages:        stages,
		specs:         specs,
		inChannels:    inChannels,
		finalChannels: final,
	}
}

// Len returns the number of stages.
func (p *Pipeline) Len() int { return len(p.stages) }

// InChannels returns the channel count the first stage expects.
func (p *Pipeline) InChannels() int { return p.inChannels }

// FinalChannels returns the channel count of the last filter stage, or the
// input channel count for an empty pipeline.
func (p *Pipeline) FinalChannels() int { return p.finalChannels }

// Stages returns the compiled stages in order.
func (p *Pipeline) Stages() []Stage {
	return append([]Stage(nil), p.stages...)
}

// Specs returns the parameter tuple of every stage in order.
func (p *Pipeline) Specs() []StageSpec {
	return append([]StageSpec(nil), p.specs...)
}

// SetTraining switches every mode-dependent stage.
func (p *Pipeline) SetTraining(training bool) {
	for _, s := range p.stages {
		if t, ok := s.(trainable); ok {
			t.SetTraining(training)
		}
	}
}

// NumParameters counts learnable values across all stages.
func (p *Pipeline) NumParameters() int {
	total := 0
	for _, s := range p.specs {
		total += s.NumParameters()
	}
	return total
}

// Forward streams x through every stage in order.
func (p *Pipeline) Forward(x *Tensor) (*Tensor, error) {
	for i, stage := range p.stages {
		y, err := stage.Forward(x)
		if err != nil {
			return nil, fmt.Errorf("stage %d %s: %w", i, p.specs[i], err)
		}
		x = y
	}
	return x, nil
}

// OutputShape propagates an input shape through every stage without
// running any of them.
func (p *Pipeline) OutputShape(in []int) ([]int, error) {
	shape := append([]int(nil), in...)
	if len(shape) != 4 {
		return nil, shapeErrorf("pipeline", nil, shape, "expected (batch, channels, height, width)")
	}
	if shape[1] != p.inChannels {
		return nil, shapeErrorf("pipeline", []int{shape[0], p.inChannels, shape[2], shape[3]}, shape,
			"expected %d input channels, got %d", p.inChannels, shape[1])
	}

	for i, s := range p.specs {
		next, err := s.OutputShape(shape)
		if err != nil {
			return nil, fmt.Errorf("stage %d: %w", i, err)
		}
		shape = next
	}
	return shape, nil
}
