package main

import (
	"fmt"
	"math"
	"runtime"
	"sync/atomic"
	"testing"
	"time"
)

func TestComputeConfig(t *testing.T) {
	// Test default config
	cfg := DefaultComputeConfig()
	if !cfg.Parallel {
		t.Error("default config should enable parallel execution")
	}
	if cfg.numWorkers() != runtime.NumCPU() {
		t.Errorf("expected %d workers, got %d", runtime.NumCPU(), cfg.numWorkers())
	}

	// Test single-threaded config
	stCfg := SingleThreadedConfig()
	if stCfg.Parallel {
		t.Error("single-threaded config should disable parallel execution")
	}
	if stCfg.numWorkers() != 1 {
		t.Errorf("single-threaded config should have 1 worker, got %d", stCfg.numWorkers())
	}
}

func TestParallelMatMulCorrectness(t *testing.T) {
	// Test that parallel MatMul produces same results as single-threaded
	shapes := [][3]int{{32, 32, 32}, {64, 147, 100}, {128, 9, 256}, {1, 256, 7}}

	for _, s := range shapes {
		t.Run(fmt.Sprintf("%dx%dx%d", s[0], s[1], s[2]), func(t *testing.T) {
			a := randTensor(s[0], s[1])
			b := randTensor(s[1], s[2])

			resultST := MatMulWithConfig(a, b, SingleThreadedConfig())
			resultPar := MatMulWithConfig(a, b, ComputeConfig{Parallel: true, NumWorkers: 4, MinSizeForParallel: 1})

			if !tensorsEqual(resultST, resultPar, 1e-10) {
				t.Error("parallel and single-threaded results differ")
			}
		})
	}
}

// TestMatMulTilesMatchNaive covers shapes that end mid-tile in k and j.
func TestMatMulTilesMatchNaive(t *testing.T) {
	for _, s := range [][3]int{{3, 130, 300}, {5, 64, 256}, {2, 65, 257}, {1, 1, 1}} {
		m, k, n := s[0], s[1], s[2]
		a := randTensor(m, k)
		b := randTensor(k, n)

		want := NewTensor(m, n)
		for i := 0; i < m; i++ {
			for j := 0; j < n; j++ {
				sum := 0.0
				for p := 0; p < k; p++ {
					sum += a.At(i, p) * b.At(p, j)
				}
				want.Set(sum, i, j)
			}
		}

		got := MatMulWithConfig(a, b, SingleThreadedConfig())
		if !tensorsEqual(want, got, 1e-9) {
			t.Errorf("%dx%dx%d: tiled product differs from naive", m, k, n)
		}
	}
}

func TestMatMulPanicsOnMismatch(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for (2x3) @ (2x3)")
		}
	}()
	MatMulWithConfig(NewTensor(2, 3), NewTensor(2, 3), SingleThreadedConfig())
}

func TestParallelMatMulPerformance(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping performance test in short mode")
	}

	size := 256
	iterations := 10

	a := randTensor(size, size)
	b := randTensor(size, size)

	// Benchmark single-threaded
	stCfg := SingleThreadedConfig()
	startST := time.Now()
	for i := 0; i < iterations; i++ {
		_ = MatMulWithConfig(a, b, stCfg)
	}
	durationST := time.Since(startST)

	// Benchmark parallel
	parCfg := DefaultComputeConfig()
	startPar := time.Now()
	for i := 0; i < iterations; i++ {
		_ = MatMulWithConfig(a, b, parCfg)
	}
	durationPar := time.Since(startPar)

	speedup := float64(durationST) / float64(durationPar)
	t.Logf("Size: %dx%d, Iterations: %d", size, size, iterations)
	t.Logf("Single-threaded: %v", durationST)
	t.Logf("Parallel:        %v", durationPar)
	t.Logf("Speedup:         %.2fx", speedup)
	t.Logf("Workers:         %d", runtime.NumCPU())
}

func TestParallelApply(t *testing.T) {
	size := 10000
	x := randTensor(size)

	fn := func(v float64) float64 {
		return v * 2.0
	}

	resultST := ParallelApply(x, fn, SingleThreadedConfig())
	resultPar := ParallelApply(x, fn, ComputeConfig{Parallel: true, NumWorkers: 8, MinSizeForParallel: 1})

	if !tensorsEqual(resultST, resultPar, 1e-10) {
		t.Error("parallel and single-threaded apply differ")
	}
}

// TestParallelRangeCoversEveryIndex checks that the blocks handed to workers
// tile [0, n) exactly once.
func TestParallelRangeCoversEveryIndex(t *testing.T) {
	cfg := ComputeConfig{Parallel: true, NumWorkers: 7, MinSizeForParallel: 1}

	for _, n := range []int{1, 6, 7, 8, 100, 1001} {
		hits := make([]int32, n)
		parallelRange(n, cfg, func(start, end int) {
			for i := start; i < end; i++ {
				atomic.AddInt32(&hits[i], 1)
			}
		})
		for i, h := range hits {
			if h != 1 {
				t.Fatalf("n=%d: index %d visited %d times", n, i, h)
			}
		}
	}
}

func TestMinSizeForParallel(t *testing.T) {
	cfg := ComputeConfig{
		Parallel:           true,
		NumWorkers:         4,
		MinSizeForParallel: 100,
	}

	// Small problem should use single-threaded
	if cfg.shouldParallelize(50) {
		t.Error("should not parallelize size 50 with threshold 100")
	}

	// Large problem should use parallel
	if !cfg.shouldParallelize(200) {
		t.Error("should parallelize size 200 with threshold 100")
	}

	// One worker never splits
	cfg.NumWorkers = 1
	if cfg.shouldParallelize(200) {
		t.Error("should not parallelize with a single worker")
	}
}

func TestGlobalComputeConfig(t *testing.T) {
	// Save original config
	original := GetGlobalComputeConfig()
	defer SetGlobalComputeConfig(original)

	SetGlobalComputeConfig(SingleThreadedConfig())
	if cfg := GetGlobalComputeConfig(); cfg.Parallel {
		t.Error("global config should be single-threaded")
	}

	SetGlobalComputeConfig(DefaultComputeConfig())
	if cfg := GetGlobalComputeConfig(); !cfg.Parallel {
		t.Error("global config should be parallel")
	}
}

// BenchmarkMatMulWorkerCounts benchmarks different worker counts on the
// shape of a deep 3x3 darknet layer at 448x448 input, scaled down 4x.
func BenchmarkMatMulWorkerCounts(b *testing.B) {
	a := randTensor(256, 2304)
	mat := randTensor(2304, 196)

	for _, workers := range []int{1, 2, 4, 8} {
		b.Run(fmt.Sprintf("workers=%d", workers), func(b *testing.B) {
			cfg := ComputeConfig{
				Parallel:           workers > 1,
				NumWorkers:         workers,
				MinSizeForParallel: 64,
			}

			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				_ = MatMulWithConfig(a, mat, cfg)
			}
		})
	}
}

// Helper function to compare tensors with tolerance
func tensorsEqual(a, b *Tensor, tolerance float64) bool {
	if len(a.data) != len(b.data) {
		return false
	}

	for i := range a.data {
		if math.Abs(a.data[i]-b.data[i]) > tolerance {
			return false
		}
	}

	return true
}
