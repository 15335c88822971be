package main

import (
	"fmt"
	"math"
	"math/rand"
)

// ===========================================================================
// WHAT'S GOING ON HERE
// ===========================================================================
//
// The tensor runtime every stage of the detector is built on. A Tensor is a
// flat float64 slice plus a shape, stored row-major. Feature maps use the
// channel-first layout (batch, channels, height, width), which means one
// sample is a contiguous run of C*H*W values and one channel of one sample is
// a contiguous run of H*W values. The convolution, batch norm and pooling
// stages all lean on that.
//
// Shape problems that come from *user input* (wrong channel count, image too
// small) are reported as *ShapeError by the stages. Shape problems inside
// this file are programmer bugs and panic.
//
// RECOMMENDED READING:
//
// - "Deep Learning" by Goodfellow, Bengio, Courville (2016)
//   Chapter 9: Convolutional Networks
// - "A guide to convolution arithmetic for deep learning"
//   Dumoulin & Visin (2016), https://arxiv.org/abs/1603.07285
//
// ===========================================================================

// Tensor represents a multi-dimensional array of float64 values.
// It stores data in row-major (C-contiguous) order.
//
// Tensor is not safe for concurrent mutation. Stages never mutate their
// input, so concurrent reads are fine.
type Tensor struct {
	data  []float64
	shape []int
}

// NewTensor creates a tensor with the given shape, initialized to zero.
// Panics if shape is empty or contains non-positive dimensions.
func NewTensor(shape ...int) *Tensor {
	if len(shape) == 0 {
		panic("tensor: shape cannot be empty")
	}

	size := 1
	for i, dim := range shape {
		if dim <= 0 {
			panic(fmt.Sprintf("tensor: shape[%d] must be positive, got %d", i, dim))
		}
		size *= dim
	}

	return &Tensor{
		data:  make([]float64, size),
		shape: append([]int(nil), shape...),
	}
}

// NewTensorFrom wraps data in a tensor of the given shape. The slice is not
// copied. Panics if len(data) does not match the shape.
func NewTensorFrom(data []float64, shape ...int) *Tensor {
	if numElements(shape) != len(data) {
		panic(fmt.Sprintf("tensor: %d values do not fill shape %v", len(data), shape))
	}
	return &Tensor{
		data:  data,
		shape: append([]int(nil), shape...),
	}
}

// NewTensorRandN creates a tensor with values drawn from N(0, std²).
// Uses the Box-Muller transform on rng.
func NewTensorRandN(rng *rand.Rand, std float64, shape ...int) *Tensor {
	t := NewTensor(shape...)

	for i := 0; i < len(t.data); i += 2 {
		u1, u2 := rng.Float64(), rng.Float64()
		if u1 < math.SmallestNonzeroFloat64 {
			u1 = math.SmallestNonzeroFloat64
		}
		mag := std * math.Sqrt(-2*math.Log(u1))

		t.data[i] = mag * math.Cos(2*math.Pi*u2)
		if i+1 < len(t.data) {
			t.data[i+1] = mag * math.Sin(2*math.Pi*u2)
		}
	}

	return t
}

// Shape returns a copy of the tensor's shape.
func (t *Tensor) Shape() []int {
	return append([]int(nil), t.shape...)
}

// Dims returns the number of dimensions (rank) of the tensor.
func (t *Tensor) Dims() int {
	return len(t.shape)
}

// Size returns the total number of elements in the tensor.
func (t *Tensor) Size() int {
	return len(t.data)
}

// Data returns the backing slice. Writes through it are visible to t.
func (t *Tensor) Data() []float64 {
	return t.data
}

// At returns the element at the given indices.
// Panics if indices are invalid.
func (t *Tensor) At(indices ...int) float64 {
	return t.data[t.flatIndex(indices)]
}

// Set sets the element at the given indices.
// Panics if indices are invalid.
func (t *Tensor) Set(value float64, indices ...int) {
	t.data[t.flatIndex(indices)] = value
}

func (t *Tensor) flatIndex(indices []int) int {
	if len(indices) != len(t.shape) {
		panic(fmt.Sprintf("tensor: expected %d indices, got %d", len(t.shape), len(indices)))
	}

	idx := 0
	stride := 1
	for i := len(indices) - 1; i >= 0; i-- {
		if indices[i] < 0 || indices[i] >= t.shape[i] {
			panic(fmt.Sprintf("tensor: index[%d]=%d out of bounds [0,%d)", i, indices[i], t.shape[i]))
		}
		idx += indices[i] * stride
		stride *= t.shape[i]
	}

	return idx
}

// Clone creates a deep copy of the tensor.
func (t *Tensor) Clone() *Tensor {
	clone := NewTensor(t.shape...)
	copy(clone.data, t.data)
	return clone
}

// Reshape returns a view of the tensor with a different shape.
// The total number of elements must remain the same.
// The returned tensor shares the underlying data.
func (t *Tensor) Reshape(newShape ...int) *Tensor {
	if numElements(newShape) != len(t.data) {
		panic(fmt.Sprintf("tensor: cannot reshape size %d to %v", len(t.data), newShape))
	}
	return &Tensor{
		data:  t.data,
		shape: append([]int(nil), newShape...),
	}
}

// Flatten collapses every dimension after the first into one axis:
// (N, d1, d2, ...) -> (N, d1*d2*...). The result shares data with t.
func (t *Tensor) Flatten() *Tensor {
	if len(t.shape) < 2 {
		return t.Reshape(1, len(t.data))
	}
	return t.Reshape(t.shape[0], len(t.data)/t.shape[0])
}

// Sample returns a view of sample n along the first axis.
// For a (N, C, H, W) tensor the view has shape (C, H, W).
func (t *Tensor) Sample(n int) *Tensor {
	if len(t.shape) < 2 {
		panic("tensor: Sample requires at least 2 dimensions")
	}
	if n < 0 || n >= t.shape[0] {
		panic(fmt.Sprintf("tensor: sample %d out of bounds [0,%d)", n, t.shape[0]))
	}
	stride := len(t.data) / t.shape[0]
	return &Tensor{
		data:  t.data[n*stride : (n+1)*stride],
		shape: append([]int(nil), t.shape[1:]...),
	}
}

// String returns a string representation of the tensor for debugging.
func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor(shape=%v, size=%d)", t.shape, len(t.data))
}

// ===========================================================================
// ACTIVATION FUNCTIONS
// ===========================================================================

// LeakySlope is the negative-side slope used by every leaky rectifier in the
// detector.
const LeakySlope = 0.1

// LeakyReLU applies f(x) = x for x > 0, LeakySlope*x otherwise.
// Negative inputs are scaled rather than zeroed.
func LeakyReLU(x *Tensor, cfg ComputeConfig) *Tensor {
	return ParallelApply(x, leaky, cfg)
}

func leaky(v float64) float64 {
	if v > 0 {
		return v
	}
	return LeakySlope * v
}

// ===========================================================================
// HELPERS
// ===========================================================================

func numElements(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}
