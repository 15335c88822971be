package main

import (
	"math"
	"sync"
	"sync/atomic"
)

// ===========================================================================
// WHAT'S GOING ON HERE
// ===========================================================================
//
// Batch normalization over the channel axis of a (N, C, H, W) feature map.
//
// PAPER: "Batch Normalization: Accelerating Deep Network Training by
//         Reducing Internal Covariate Shift" by Ioffe & Szegedy (2015)
//         https://arxiv.org/abs/1502.03167
//
// MATHEMATICS (per channel c, over every n, h, w):
//
//   y = γ_c * (x - μ_c) / sqrt(σ²_c + ε) + β_c
//
// Training mode takes μ and σ² from the batch itself (biased variance) and
// folds them into running estimates:
//
//   running_μ  = (1 - m) * running_μ  + m * μ
//   running_σ² = (1 - m) * running_σ² + m * σ² * count/(count-1)
//
// Inference mode uses the running estimates, so each sample's output no
// longer depends on the rest of the batch.
//
// The running estimates are the only state in the whole detector that
// changes after construction; they are guarded by a mutex.
//
// ===========================================================================

// BatchNorm2D implements per-channel batch normalization.
type BatchNorm2D struct {
	channels int
	eps      float64
	momentum float64

	gamma *Tensor // (channels)
	beta  *Tensor // (channels)

	mu          sync.Mutex
	runningMean []float64
	runningVar  []float64

	training atomic.Bool
	compute  ComputeConfig
}

// NewBatchNorm2D creates a batch norm layer with identity affine parameters.
func NewBatchNorm2D(channels int, compute ComputeConfig) *BatchNorm2D {
	bn := &BatchNorm2D{
		channels:    channels,
		eps:         1e-5,
		momentum:    0.1,
		gamma:       NewTensor(channels),
		beta:        NewTensor(channels),
		runningMean: make([]float64, channels),
		runningVar:  make([]float64, channels),
		compute:     compute,
	}
	for i := 0; i < channels; i++ {
		bn.gamma.data[i] = 1.0
		bn.runningVar[i] = 1.0
	}
	return bn
}

// SetTraining switches between batch statistics and running statistics.
func (bn *BatchNorm2D) SetTraining(training bool) {
	bn.training.Store(training)
}

// RunningStats returns copies of the running mean and variance.
func (bn *BatchNorm2D) RunningStats() (mean, variance []float64) {
	bn.mu.Lock()
	defer bn.mu.Unlock()
	return append([]float64(nil), bn.runningMean...), append([]float64(nil), bn.runningVar...)
}

// Forward normalizes x of shape (N, channels, H, W).
func (bn *BatchNorm2D) Forward(x *Tensor) (*Tensor, error) {
	if x.Dims() != 4 || x.shape[1] != bn.channels {
		return nil, shapeErrorf("batchnorm2d", nil, x.shape,
			"expected (batch, %d, height, width)", bn.channels)
	}
	batch, area := x.shape[0], x.shape[2]*x.shape[3]

	var mean, variance []float64
	if bn.training.Load() {
		mean, variance = bn.batchStats(x, batch, area)
		bn.updateRunning(mean, variance, batch*area)
	} else {
		mean, variance = bn.RunningStats()
	}

	out := NewTensor(x.shape...)
	parallelRange(bn.channels, bn.compute, func(start, end int) {
		for c := start; c < end; c++ {
			scale := bn.gamma.data[c] / math.Sqrt(variance[c]+bn.eps)
			shift := bn.beta.data[c] - mean[c]*scale
			for n := 0; n < batch; n++ {
				off := (n*bn.channels + c) * area
				src := x.data[off : off+area]
				dst := out.data[off : off+area]
				for i, v := range src {
					dst[i] = v*scale + shift
				}
			}
		}
	})

	return out, nil
}

// batchStats computes per-channel mean and biased variance over N, H, W.
func (bn *BatchNorm2D) batchStats(x *Tensor, batch, area int) (mean, variance []float64) {
	mean = make([]float64, bn.channels)
	variance = make([]float64, bn.channels)
	count := float64(batch * area)

	parallelRange(bn.channels, bn.compute, func(start, end int) {
		for c := start; c < end; c++ {
			sum := 0.0
			for n := 0; n < batch; n++ {
				off := (n*bn.channels + c) * area
				for _, v := range x.data[off : off+area] {
					sum += v
				}
			}
			mu := sum / count

			sq := 0.0
			for n := 0; n < batch; n++ {
				off := (n*bn.channels + c) * area
				for _, v := range x.data[off : off+area] {
					d := v - mu
					sq += d * d
				}
			}
			mean[c] = mu
			variance[c] = sq / count
		}
	})
	return mean, variance
}

func (bn *BatchNorm2D) updateRunning(mean, variance []float64, count int) {
	correction := 1.0
	if count > 1 {
		correction = float64(count) / float64(count-1)
	}

	bn.mu.Lock()
	defer bn.mu.Unlock()
	for c := range mean {
		bn.runningMean[c] = (1-bn.momentum)*bn.runningMean[c] + bn.momentum*mean[c]
		bn.runningVar[c] = (1-bn.momentum)*bn.runningVar[c] + bn.momentum*variance[c]*correction
	}
}
