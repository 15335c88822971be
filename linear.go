package main

import (
	"fmt"
	"math/rand"
)

// Linear is a fully connected layer: y = x @ W + b.
// x shape: (batch, in), W: (in, out), b: (out).
type Linear struct {
	in, out int
	weight  *Tensor
	bias    *Tensor
	compute ComputeConfig
}

// NewLinear creates a linear layer with small normal weights and zero bias.
func NewLinear(in, out int, rng *rand.Rand, compute ComputeConfig) *Linear {
	return &Linear{
		in:      in,
		out:     out,
		weight:  NewTensorRandN(rng, 0.02, in, out),
		bias:    NewTensor(out),
		compute: compute,
	}
}

// Forward projects x of shape (batch, in) to (batch, out).
func (l *Linear) Forward(x *Tensor) (*Tensor, error) {
	if x.Dims() != 2 || x.shape[1] != l.in {
		return nil, shapeErrorf(fmt.Sprintf("linear(%d->%d)", l.in, l.out), []int{x.shape[0], l.in}, x.shape,
			"expected (batch, %d) features", l.in)
	}

	y := MatMulWithConfig(x, l.weight, l.compute)
	for b := 0; b < x.shape[0]; b++ {
		row := y.data[b*l.out : (b+1)*l.out]
		for j := range row {
			row[j] += l.bias.data[j]
		}
	}
	return y, nil
}

// NumParameters returns the weight and bias count.
func (l *Linear) NumParameters() int {
	return l.in*l.out + l.out
}
