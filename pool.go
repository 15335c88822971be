package main

import "math"

// MaxPool2D is the fixed 2x2, stride-2 spatial downsample the backbone's
// pool markers compile to. Channel count is unchanged; odd spatial sizes
// drop their last row/column.
type MaxPool2D struct {
	channels int
	compute  ComputeConfig
}

// NewMaxPool2D creates the pool stage for a feature map with the given
// channel count.
func NewMaxPool2D(channels int, compute ComputeConfig) *MaxPool2D {
	return &MaxPool2D{channels: channels, compute: compute}
}

// Spec returns the pool's parameter tuple.
func (p *MaxPool2D) Spec() StageSpec {
	return poolStage(p.channels)
}

// Forward pools x of shape (N, C, H, W) to (N, C, H/2, W/2).
func (p *MaxPool2D) Forward(x *Tensor) (*Tensor, error) {
	if x.Dims() != 4 {
		return nil, shapeErrorf("maxpool2d", nil, x.shape, "expected (batch, channels, height, width)")
	}
	batch, channels, height, width := x.shape[0], x.shape[1], x.shape[2], x.shape[3]
	outH, outW := height/2, width/2
	if outH < 1 || outW < 1 {
		return nil, shapeErrorf("maxpool2d", nil, x.shape,
			"spatial size %dx%d too small for a 2x2 pool", height, width)
	}

	out := NewTensor(batch, channels, outH, outW)
	planes := batch * channels

	parallelRange(planes, p.compute, func(start, end int) {
		for pl := start; pl < end; pl++ {
			src := x.data[pl*height*width : (pl+1)*height*width]
			dst := out.data[pl*outH*outW : (pl+1)*outH*outW]
			for oy := 0; oy < outH; oy++ {
				r0 := src[(2*oy)*width:]
				r1 := src[(2*oy+1)*width:]
				for ox := 0; ox < outW; ox++ {
					ix := 2 * ox
					m := math.Max(math.Max(r0[ix], r0[ix+1]), math.Max(r1[ix], r1[ix+1]))
					dst[oy*outW+ox] = m
				}
			}
		}
	})

	return out, nil
}
