package main

import (
	"sync"
	"testing"
)

func TestScratchPoolGetZeroed(t *testing.T) {
	pool := NewScratchPool()

	a := pool.Get(4, 8)
	if shape := a.Shape(); shape[0] != 4 || shape[1] != 8 {
		t.Fatalf("expected shape [4 8], got %v", shape)
	}
	for i := range a.data {
		a.data[i] = float64(i + 1)
	}
	pool.Put(a)
	if a.data != nil {
		t.Error("Put should detach the returned tensor's data")
	}

	// Whether or not the buffer is reused, GetZeroed must hand back zeros.
	b := pool.GetZeroed(8, 4)
	for i, v := range b.data {
		if v != 0 {
			t.Fatalf("element %d not zeroed: %f", i, v)
		}
	}
	if len(b.data) != 32 {
		t.Errorf("expected 32 elements, got %d", len(b.data))
	}
}

func TestScratchPoolSizesAreSeparate(t *testing.T) {
	pool := NewScratchPool()
	pool.Put(pool.Get(2, 2))

	if got := len(pool.Get(3, 3).data); got != 9 {
		t.Errorf("expected 9 elements, got %d", got)
	}
	pool.Put(nil)
}

func TestScratchPoolConcurrent(t *testing.T) {
	pool := NewScratchPool()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				s := pool.GetZeroed(g+1, 16)
				for j := range s.data {
					if s.data[j] != 0 {
						t.Errorf("dirty buffer from pool")
						return
					}
					s.data[j] = float64(g)
				}
				pool.Put(s)
			}
		}(g)
	}
	wg.Wait()
}

// Repeated convolutions borrow and return im2col buffers; results must not
// depend on what a previous call left in them.
func TestConvReusesScratchCleanly(t *testing.T) {
	block, err := NewFeatureBlock(3, 4, 3, 1, 1, WithSeed(4))
	if err != nil {
		t.Fatal(err)
	}

	x := randTensor(2, 3, 6, 6)
	first, err := block.Forward(x)
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		again, err := block.Forward(x)
		if err != nil {
			t.Fatal(err)
		}
		if !tensorsEqual(first, again, 0) {
			t.Fatalf("pass %d differs from the first", i+2)
		}
	}
}
