package main

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// naiveConv is a direct 7-loop convolution used as the reference for the
// im2col path.
func naiveConv(x *Tensor, c *Conv2D) *Tensor {
	n, ch, h, w := x.shape[0], x.shape[1], x.shape[2], x.shape[3]
	k := c.kernelSize
	outH := convOutputSize(h, k, c.stride, c.padding)
	outW := convOutputSize(w, k, c.stride, c.padding)
	out := NewTensor(n, c.outChannels, outH, outW)
	weight := c.Weight()

	for b := 0; b < n; b++ {
		for oc := 0; oc < c.outChannels; oc++ {
			for oy := 0; oy < outH; oy++ {
				for ox := 0; ox < outW; ox++ {
					sum := 0.0
					for ic := 0; ic < ch; ic++ {
						for ki := 0; ki < k; ki++ {
							for kj := 0; kj < k; kj++ {
								iy := oy*c.stride - c.padding + ki
								ix := ox*c.stride - c.padding + kj
								if iy < 0 || iy >= h || ix < 0 || ix >= w {
									continue
								}
								sum += x.At(b, ic, iy, ix) * weight.At(oc, (ic*k+ki)*k+kj)
							}
						}
					}
					out.Set(sum, b, oc, oy, ox)
				}
			}
		}
	}
	return out
}

func TestConv2DMatchesDirectConvolution(t *testing.T) {
	tests := []struct {
		name                   string
		in, out, k, s, p, h, w int
	}{
		{"3x3 same", 3, 4, 3, 1, 1, 6, 6},
		{"7x7 stride 2", 3, 2, 7, 2, 3, 9, 11},
		{"1x1 shortcut", 5, 3, 1, 1, 0, 4, 4},
		{"1x1 stride 2", 2, 3, 1, 2, 0, 5, 5},
		{"3x3 valid", 2, 2, 3, 1, 0, 5, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rng := rand.New(rand.NewSource(3))
			conv := NewConv2D(tt.in, tt.out, tt.k, tt.s, tt.p, rng, DefaultComputeConfig())
			x := NewTensorRandN(rng, 1.0, 2, tt.in, tt.h, tt.w)

			got, err := conv.Forward(x)
			require.NoError(t, err)
			want := naiveConv(x, conv)

			require.Equal(t, want.Shape(), got.Shape())
			assert.True(t, tensorsEqual(want, got, 1e-9), "im2col result differs from direct convolution")
		})
	}
}

func TestConv2DShapeErrors(t *testing.T) {
	conv := NewConv2D(3, 4, 3, 1, 0, rand.New(rand.NewSource(1)), SingleThreadedConfig())

	_, err := conv.Forward(NewTensor(3, 8, 8))
	assert.ErrorIs(t, err, ErrShapeMismatch)

	_, err = conv.Forward(NewTensor(1, 2, 8, 8))
	assert.ErrorIs(t, err, ErrShapeMismatch)

	_, err = conv.Forward(NewTensor(1, 3, 2, 8))
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestBatchNormInferenceUsesRunningStats(t *testing.T) {
	bn := NewBatchNorm2D(2, SingleThreadedConfig())
	x := randTensor(2, 2, 3, 3)

	out, err := bn.Forward(x)
	require.NoError(t, err)

	// Fresh running stats are mean 0, variance 1.
	scale := 1 / math.Sqrt(1+bn.eps)
	for i, v := range x.Data() {
		assert.InDelta(t, v*scale, out.Data()[i], 1e-12)
	}

	mean, variance := bn.RunningStats()
	assert.Equal(t, []float64{0, 0}, mean)
	assert.Equal(t, []float64{1, 1}, variance)
}

func TestBatchNormTrainingNormalizesChannels(t *testing.T) {
	bn := NewBatchNorm2D(3, DefaultComputeConfig())
	bn.SetTraining(true)

	x := randTensor(4, 3, 5, 5)
	// Shift and scale channel 1 so its statistics differ from the others.
	for n := 0; n < 4; n++ {
		plane := x.Sample(n).Data()[25:50]
		for i := range plane {
			plane[i] = plane[i]*3 + 10
		}
	}

	out, err := bn.Forward(x)
	require.NoError(t, err)

	for c := 0; c < 3; c++ {
		sum, sq := 0.0, 0.0
		for n := 0; n < 4; n++ {
			for _, v := range out.Sample(n).Data()[c*25 : (c+1)*25] {
				sum += v
				sq += v * v
			}
		}
		mean := sum / 100
		variance := sq/100 - mean*mean
		assert.InDelta(t, 0, mean, 1e-9, "channel %d mean", c)
		assert.InDelta(t, 1, variance, 1e-3, "channel %d variance", c)
	}

	runMean, _ := bn.RunningStats()
	assert.Greater(t, runMean[1], 0.8, "running mean should move toward the batch mean of 10")
	assert.Less(t, runMean[1], 1.2)
}

func TestBatchNormShapeError(t *testing.T) {
	bn := NewBatchNorm2D(4, SingleThreadedConfig())
	_, err := bn.Forward(NewTensor(1, 3, 2, 2))
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestFeatureBlockForward(t *testing.T) {
	block, err := NewFeatureBlock(3, 8, 3, 2, 1, WithSeed(5))
	require.NoError(t, err)
	assert.Equal(t, 3, block.InChannels())
	assert.Equal(t, 8, block.OutChannels())

	out, err := block.Forward(randTensor(2, 3, 7, 7))
	require.NoError(t, err)
	assert.Equal(t, []int{2, 8, 4, 4}, out.Shape())
}

// TestFeatureBlockLeakyOutput checks the block is conv -> bn -> leaky by
// rebuilding its output from the conv alone.
func TestFeatureBlockLeakyOutput(t *testing.T) {
	block, err := NewFeatureBlock(2, 4, 3, 1, 1, WithSeed(9), WithComputeConfig(SingleThreadedConfig()))
	require.NoError(t, err)

	x := randTensor(1, 2, 5, 5)
	out, err := block.Forward(x)
	require.NoError(t, err)

	conv, err := block.conv.Forward(x)
	require.NoError(t, err)

	scale := 1 / math.Sqrt(1+block.bn.eps)
	negatives := 0
	for i, v := range conv.Data() {
		want := v * scale
		if want < 0 {
			want *= LeakySlope
			negatives++
		}
		assert.InDelta(t, want, out.Data()[i], 1e-12)
	}
	assert.Positive(t, negatives, "random weights should produce some negative activations")
}

func TestFeatureBlockSamplesAreIndependent(t *testing.T) {
	block, err := NewFeatureBlock(3, 4, 3, 1, 1, WithSeed(2))
	require.NoError(t, err)

	batch := randTensor(3, 3, 6, 6)
	out, err := block.Forward(batch)
	require.NoError(t, err)

	for n := 0; n < 3; n++ {
		single := NewTensorFrom(append([]float64(nil), batch.Sample(n).Data()...), 1, 3, 6, 6)
		got, err := block.Forward(single)
		require.NoError(t, err)
		assert.True(t, tensorsEqual(out.Sample(n), got.Sample(0), 1e-12), "sample %d", n)
	}
}

func TestNewFeatureBlockInvalid(t *testing.T) {
	tests := []struct {
		name             string
		in, out, k, s, p int
	}{
		{"zero input channels", 0, 8, 3, 1, 1},
		{"zero output channels", 3, 0, 3, 1, 1},
		{"zero kernel", 3, 8, 0, 1, 1},
		{"zero stride", 3, 8, 3, 0, 1},
		{"negative padding", 3, 8, 3, 1, -2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			block, err := NewFeatureBlock(tt.in, tt.out, tt.k, tt.s, tt.p)
			assert.Nil(t, block)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestFeatureBlockChannelMismatch(t *testing.T) {
	block, err := NewFeatureBlock(3, 8, 3, 1, 1, WithSeed(1))
	require.NoError(t, err)

	_, err = block.Forward(randTensor(1, 4, 6, 6))
	var shapeErr *ShapeError
	require.ErrorAs(t, err, &shapeErr)
	assert.Equal(t, []int{1, 3, 6, 6}, shapeErr.Want)
	assert.Contains(t, err.Error(), "feature block: conv2d:")
}
