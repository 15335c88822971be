package main

import "sync"

// ===========================================================================
// WHAT'S GOING ON HERE
// ===========================================================================
//
// Reuse of the im2col scratch matrices built by every convolution.
//
// Lowering the 3x3 conv over the 112x112 map with 64 input channels produces
// a (576 x 12544) matrix, 58MB of float64, and it is garbage the moment the
// product is computed. The backbone builds one of these per sample per
// non-1x1 layer on every forward pass. Handing them back to a sync.Pool keyed
// by element count means repeated forward passes at the same input size
// reuse the same buffers instead of churning the GC.
//
// SYNC.POOL CHARACTERISTICS:
//
// 1. Safe for concurrent use; conv workers share one pool.
// 2. The GC may drop pooled buffers at any time, so Get can always allocate.
// 3. Buffers are only reused for an identical element count.
//
// Pooled buffers are not zeroed on Put. GetZeroed clears them, which the
// padded im2col path relies on.
//
// ===========================================================================

// ScratchPool hands out reusable 2D float64 tensors, one sync.Pool per
// element count.
type ScratchPool struct {
	pools map[int]*sync.Pool
	mu    sync.RWMutex
}

// scratch is the pool shared by all Conv2D stages.
var scratch = NewScratchPool()

// NewScratchPool creates an empty pool.
func NewScratchPool() *ScratchPool {
	return &ScratchPool{
		pools: make(map[int]*sync.Pool),
	}
}

// poolFor returns the sync.Pool for buffers of the given size, creating it
// on first use.
func (sp *ScratchPool) poolFor(size int) *sync.Pool {
	sp.mu.RLock()
	pool, ok := sp.pools[size]
	sp.mu.RUnlock()
	if ok {
		return pool
	}

	sp.mu.Lock()
	defer sp.mu.Unlock()

	// Another goroutine may have created it
	if pool, ok := sp.pools[size]; ok {
		return pool
	}
	pool = &sync.Pool{
		New: func() any {
			buf := make([]float64, size)
			return &buf
		},
	}
	sp.pools[size] = pool
	return pool
}

// Get returns a (rows, cols) tensor with unspecified contents.
func (sp *ScratchPool) Get(rows, cols int) *Tensor {
	size := rows * cols
	buf := sp.poolFor(size).Get().(*[]float64)
	return &Tensor{
		data:  (*buf)[:size],
		shape: []int{rows, cols},
	}
}

// GetZeroed returns a (rows, cols) tensor filled with zeros.
func (sp *ScratchPool) GetZeroed(rows, cols int) *Tensor {
	t := sp.Get(rows, cols)
	clear(t.data)
	return t
}

// Put hands t's storage back for reuse. t must not be used afterwards, and
// neither may any view sharing its data.
func (sp *ScratchPool) Put(t *Tensor) {
	if t == nil || len(t.data) == 0 {
		return
	}
	buf := t.data
	sp.poolFor(len(buf)).Put(&buf)
	t.data = nil
}
