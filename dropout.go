package main

import (
	"math/rand"
	"sync"
	"sync/atomic"
)

// Dropout zeroes each element with probability p in training mode and
// scales the survivors by 1/(1-p), so inference needs no rescaling. In
// inference mode it returns its input unchanged.
type Dropout struct {
	p float64

	mu  sync.Mutex
	rng *rand.Rand

	training atomic.Bool
}

// NewDropout creates a dropout stage. rng seeds the mask generator.
func NewDropout(p float64, rng *rand.Rand) *Dropout {
	return &Dropout{
		p:   p,
		rng: rand.New(rand.NewSource(rng.Int63())),
	}
}

// SetTraining turns the stochastic mask on or off.
func (d *Dropout) SetTraining(training bool) {
	d.training.Store(training)
}

// Forward applies the mask in training mode.
func (d *Dropout) Forward(x *Tensor) *Tensor {
	if !d.training.Load() || d.p <= 0 {
		return x
	}

	out := NewTensor(x.shape...)
	if d.p >= 1 {
		return out
	}
	scale := 1 / (1 - d.p)

	d.mu.Lock()
	defer d.mu.Unlock()
	for i, v := range x.data {
		if d.rng.Float64() >= d.p {
			out.data[i] = v * scale
		}
	}
	return out
}
