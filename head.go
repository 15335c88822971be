package main

import (
	"fmt"

	"go.uber.org/zap"
)

// ===========================================================================
// WHAT'S GOING ON HERE
// ===========================================================================
//
// The detection head maps the flattened backbone output to the grid-encoded
// prediction vector:
//
//   (N, F*S*S) -> Linear -> (N, 496) -> LeakyReLU(0.1) -> Dropout(0.5)
//              -> Linear -> (N, (B*5 + C)*S*S)
//
// F is the backbone's final channel count (1024 for the reference
// backbone). The output is read downstream as an SxS grid of cells, each
// holding B boxes of 5 values (confidence + 4 geometry values) followed by C
// class scores. This head only guarantees the width and the stage order.
//
// The YOLOv1 paper uses a 4096-wide hidden layer; this head uses 496.
//
// ===========================================================================

// HeadHiddenWidth is the width of the head's intermediate layer.
const HeadHiddenWidth = 496

// HeadDropout is the drop probability between the two projections.
const HeadDropout = 0.5

// DetectionHead is the fully connected tail of the detector.
type DetectionHead struct {
	splitSize  int
	numBoxes   int
	numClasses int

	fc1     *Linear
	dropout *Dropout
	fc2     *Linear
	compute ComputeConfig
}

// NewDetectionHead builds the head for a backbone emitting featureChannels
// channels on an SxS grid.
func NewDetectionHead(featureChannels, splitSize, numBoxes, numClasses int, opts ...Option) (*DetectionHead, error) {
	for _, f := range []struct {
		name  string
		value int
	}{
		{"feature_channels", featureChannels},
		{"split_size", splitSize},
		{"num_boxes", numBoxes},
		{"num_classes", numClasses},
	} {
		if f.value <= 0 {
			return nil, configErrorf(-1, f.name, "must be positive, got %d", f.value)
		}
	}

	o := buildOptions(opts)
	cells := splitSize * splitSize
	in := featureChannels * cells
	out := (numBoxes*5 + numClasses) * cells

	h := &DetectionHead{
		splitSize:  splitSize,
		numBoxes:   numBoxes,
		numClasses: numClasses,
		fc1:        NewLinear(in, HeadHiddenWidth, o.rng, o.compute),
		dropout:    NewDropout(HeadDropout, o.rng),
		fc2:        NewLinear(HeadHiddenWidth, out, o.rng, o.compute),
		compute:    o.compute,
	}
	o.logger.Debug("built detection head",
		zap.Int("in_features", in),
		zap.Int("hidden", HeadHiddenWidth),
		zap.Int("out_features", out))
	return h, nil
}

// InFeatures returns the expected flattened input width.
func (h *DetectionHead) InFeatures() int { return h.fc1.in }

// OutFeatures returns the prediction vector width, (B*5+C)*S*S.
func (h *DetectionHead) OutFeatures() int { return h.fc2.out }

// SetTraining toggles dropout.
func (h *DetectionHead) SetTraining(training bool) { h.dropout.SetTraining(training) }

// NumParameters counts both projections.
func (h *DetectionHead) NumParameters() int {
	return h.fc1.NumParameters() + h.fc2.NumParameters()
}

// Forward maps (N, InFeatures) to (N, OutFeatures).
func (h *DetectionHead) Forward(x *Tensor) (*Tensor, error) {
	hidden, err := h.fc1.Forward(x)
	if err != nil {
		return nil, fmt.Errorf("detection head: %w", err)
	}
	hidden = LeakyReLU(hidden, h.compute)
	hidden = h.dropout.Forward(hidden)

	out, err := h.fc2.Forward(hidden)
	if err != nil {
		return nil, fmt.Errorf("detection head: %w", err)
	}
	return out, nil
}
