package main

import (
	"fmt"
	"runtime"
	"sync"
)

// ===========================================================================
// WHAT'S GOING ON HERE
// ===========================================================================
//
// Parallel execution of the two primitives the detector spends its time in:
// matrix multiplication (every convolution is lowered to one via im2col, and
// both head projections are one) and element-wise maps (leaky ReLU).
//
// Work is split into contiguous row ranges, one per worker goroutine. Each
// worker writes a disjoint block of the output, so no locking is needed and
// false sharing stays at the block edges.
//
// PERFORMANCE CHARACTERISTICS:
// Matrix multiply is O(M*N*K) compute over O(M*K + K*N) memory. The first
// darknet layer on a 448x448 image is a (64 x 147) @ (147 x 50176) product,
// the deep 3x3 layers are (1024 x 9216) @ (9216 x 196). Both are large enough
// that splitting rows across cores pays for itself; tiny test-sized layers
// fall under MinSizeForParallel and stay on one goroutine.
//
// ===========================================================================

// ComputeConfig controls parallelization behavior for tensor operations.
type ComputeConfig struct {
	// Parallel enables multi-threaded execution of tensor operations.
	Parallel bool

	// NumWorkers specifies the number of worker goroutines to use.
	// If 0, defaults to runtime.NumCPU().
	// Only used when Parallel is true.
	NumWorkers int

	// MinSizeForParallel is the smallest row count (or element count for
	// element-wise maps) that is split across workers.
	MinSizeForParallel int
}

// DefaultComputeConfig returns a sensible default configuration.
func DefaultComputeConfig() ComputeConfig {
	return ComputeConfig{
		Parallel:           true,
		NumWorkers:         0,
		MinSizeForParallel: 64,
	}
}

// SingleThreadedConfig returns a configuration for single-threaded execution.
func SingleThreadedConfig() ComputeConfig {
	return ComputeConfig{
		Parallel:           false,
		NumWorkers:         1,
		MinSizeForParallel: 0,
	}
}

// numWorkers returns the actual number of workers to use.
func (c ComputeConfig) numWorkers() int {
	if !c.Parallel {
		return 1
	}
	if c.NumWorkers > 0 {
		return c.NumWorkers
	}
	return runtime.NumCPU()
}

// shouldParallelize reports whether a problem of the given size is split.
func (c ComputeConfig) shouldParallelize(size int) bool {
	return c.Parallel && c.numWorkers() > 1 && size >= c.MinSizeForParallel
}

// Global compute configuration (can be overridden per operation)
var globalComputeConfig = DefaultComputeConfig()

// SetGlobalComputeConfig sets the global compute configuration.
// Call it before building or running a model, not concurrently with one.
func SetGlobalComputeConfig(cfg ComputeConfig) {
	globalComputeConfig = cfg
}

// GetGlobalComputeConfig returns the current global compute configuration.
func GetGlobalComputeConfig() ComputeConfig {
	return globalComputeConfig
}

// parallelRange splits [0, n) into contiguous blocks and runs fn on each.
// Falls back to a single call when the problem is too small.
func parallelRange(n int, cfg ComputeConfig, fn func(start, end int)) {
	if n == 0 {
		return
	}
	if !cfg.shouldParallelize(n) {
		fn(0, n)
		return
	}

	numWorkers := cfg.numWorkers()
	if numWorkers > n {
		numWorkers = n
	}
	perWorker := (n + numWorkers - 1) / numWorkers

	var wg sync.WaitGroup
	for start := 0; start < n; start += perWorker {
		end := start + perWorker
		if end > n {
			end = n
		}
		wg.Add(1)
		go func(s, e int) {
			defer wg.Done()
			fn(s, e)
		}(start, end)
	}
	wg.Wait()
}

// MatMulWithConfig performs matrix multiplication with the given config.
//
// Parallelization strategy:
// - Divide output rows among workers
// - Each worker computes a contiguous block of rows
// - Inside a block the product is tiled over k and j (see matmulRows)
func MatMulWithConfig(a, b *Tensor, cfg ComputeConfig) *Tensor {
	if len(a.shape) != 2 || len(b.shape) != 2 {
		panic("tensor: MatMul requires 2D tensors")
	}

	m, k := a.shape[0], a.shape[1]
	if b.shape[0] != k {
		panic(fmt.Sprintf("tensor: incompatible dimensions for matmul: %v @ %v", a.shape, b.shape))
	}
	n := b.shape[1]

	out := NewTensor(m, n)
	parallelRange(m, cfg, func(start, end int) {
		matmulRows(a.data, b.data, out.data, start, end, n, k)
	})
	return out
}

// Tile edges for matmulRows. A tileK x tileN panel of B is 128 KB, which
// stays in L2 while every row of the worker's block streams past it.
const (
	tileK = 64
	tileN = 256
)

// matmulRows computes rows [startRow, endRow) of out = a @ b.
//
// The k and j loops are tiled so each panel of B is reused across all rows
// of the block before moving on. Within a tile the loop order is i-k-j, so
// every output element still accumulates its k terms in ascending order.
func matmulRows(a, b, out []float64, startRow, endRow, n, k int) {
	for kk := 0; kk < k; kk += tileK {
		kEnd := min(kk+tileK, k)
		for jj := 0; jj < n; jj += tileN {
			jEnd := min(jj+tileN, n)

			for i := startRow; i < endRow; i++ {
				outRow := out[i*n+jj : i*n+jEnd]
				aRow := a[i*k : (i+1)*k]
				for p := kk; p < kEnd; p++ {
					av := aRow[p]
					if av == 0 {
						continue
					}
					bRow := b[p*n+jj : p*n+jEnd]
					for j, bv := range bRow {
						outRow[j] += av * bv
					}
				}
			}
		}
	}
}

// ParallelApply applies a function to each element in parallel.
// Useful for element-wise operations like activations on large tensors.
func ParallelApply(t *Tensor, fn func(float64) float64, cfg ComputeConfig) *Tensor {
	out := NewTensor(t.shape...)
	parallelRange(len(t.data), cfg, func(start, end int) {
		for i := start; i < end; i++ {
			out.data[i] = fn(t.data[i])
		}
	})
	return out
}
