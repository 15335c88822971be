package main

import (
	"math"
	"math/rand"

	"golang.org/x/sync/errgroup"
)

// ===========================================================================
// WHAT'S GOING ON HERE
// ===========================================================================
//
// 2D convolution lowered to matrix multiplication ("im2col").
//
// For one sample of shape (C, H, W) and a kernel of size k, every output
// position reads a C*k*k patch of the input. im2col lays those patches out
// as the columns of a (C*k*k, outH*outW) matrix. The weights are stored as a
// (outC, C*k*k) matrix, so the whole convolution is a single product:
//
//   out (outC, outH*outW) = W (outC, C*k*k) @ cols (C*k*k, outH*outW)
//
// and the result is already in channel-first order.
//
// 1x1 convolutions with stride 1 and no padding (a third of the darknet
// backbone) need no lowering at all: the sample itself is the cols matrix.
// Every other cols matrix is borrowed from the scratch pool and returned
// once its product is done.
//
// Samples are independent, so a batch is convolved one sample per goroutine,
// bounded by the compute worker count.
//
// No bias: every convolution in the backbone is followed by batch norm, whose
// beta absorbs it.
//
// ===========================================================================

// Conv2D is a bias-free 2D convolution over (N, C, H, W) tensors.
type Conv2D struct {
	inChannels  int
	outChannels int
	kernelSize  int
	stride      int
	padding     int

	weight  *Tensor // (outChannels, inChannels*kernelSize*kernelSize)
	compute ComputeConfig
}

// NewConv2D creates a convolution with He-normal initialized weights.
func NewConv2D(inChannels, outChannels, kernelSize, stride, padding int, rng *rand.Rand, compute ComputeConfig) *Conv2D {
	fanIn := inChannels * kernelSize * kernelSize
	std := math.Sqrt(2.0 / float64(fanIn))

	return &Conv2D{
		inChannels:  inChannels,
		outChannels: outChannels,
		kernelSize:  kernelSize,
		stride:      stride,
		padding:     padding,
		weight:      NewTensorRandN(rng, std, outChannels, fanIn),
		compute:     compute,
	}
}

// Weight returns the (outChannels, inChannels*k*k) weight matrix.
func (c *Conv2D) Weight() *Tensor {
	return c.weight
}

// Forward convolves x of shape (N, inChannels, H, W).
func (c *Conv2D) Forward(x *Tensor) (*Tensor, error) {
	if x.Dims() != 4 {
		return nil, shapeErrorf("conv2d", nil, x.shape, "expected (batch, channels, height, width)")
	}
	batch, channels, height, width := x.shape[0], x.shape[1], x.shape[2], x.shape[3]
	if channels != c.inChannels {
		return nil, shapeErrorf("conv2d", []int{batch, c.inChannels, height, width}, x.shape,
			"expected %d input channels, got %d", c.inChannels, channels)
	}

	outH := convOutputSize(height, c.kernelSize, c.stride, c.padding)
	outW := convOutputSize(width, c.kernelSize, c.stride, c.padding)
	if outH < 1 || outW < 1 {
		return nil, shapeErrorf("conv2d", nil, x.shape,
			"spatial size %dx%d too small for kernel %d", height, width, c.kernelSize)
	}

	out := NewTensor(batch, c.outChannels, outH, outW)

	var g errgroup.Group
	g.SetLimit(c.compute.numWorkers())
	for n := 0; n < batch; n++ {
		n := n
		g.Go(func() error {
			cols, pooled := c.lower(x.Sample(n), height, width, outH, outW)
			res := MatMulWithConfig(c.weight, cols, c.compute)
			if pooled {
				scratch.Put(cols)
			}
			copy(out.Sample(n).data, res.data)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return out, nil
}

// lower builds the im2col matrix for one (C, H, W) sample. pooled reports
// whether the matrix came from the scratch pool and must be returned to it.
func (c *Conv2D) lower(sample *Tensor, height, width, outH, outW int) (cols *Tensor, pooled bool) {
	if c.kernelSize == 1 && c.stride == 1 && c.padding == 0 {
		return sample.Reshape(c.inChannels, height*width), false
	}

	k := c.kernelSize
	area := outH * outW
	cols = scratch.GetZeroed(c.inChannels*k*k, area)
	src := sample.data

	for ch := 0; ch < c.inChannels; ch++ {
		plane := src[ch*height*width : (ch+1)*height*width]
		for ki := 0; ki < k; ki++ {
			for kj := 0; kj < k; kj++ {
				row := (ch*k+ki)*k + kj
				dst := cols.data[row*area : (row+1)*area]

				for oy := 0; oy < outH; oy++ {
					iy := oy*c.stride - c.padding + ki
					if iy < 0 || iy >= height {
						continue
					}
					for ox := 0; ox < outW; ox++ {
						ix := ox*c.stride - c.padding + kj
						if ix < 0 || ix >= width {
							continue
						}
						dst[oy*outW+ox] = plane[iy*width+ix]
					}
				}
			}
		}
	}

	return cols, true
}
