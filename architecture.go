package main

import "fmt"

// ===========================================================================
// WHAT'S GOING ON HERE
// ===========================================================================
//
// The backbone is described by a declarative list of entries. There are
// exactly three kinds:
//
//   FilterEntry  (kernel, out_channels, stride, padding) -> one FeatureBlock
//   PoolMarker   "M"                                     -> 2x2/2 max pool
//   RepeatGroup  [first, second, n]                      -> n x [first, second]
//
// ArchEntry is a closed sum type: the marker method is unexported, so only
// these three types can ever appear in an ArchitectureSpec and the compiler
// can switch over them exhaustively.
//
// The reference darknet backbone (YOLOv1, Redmon et al. 2016) is returned by
// DefaultArchitecture as a fresh value each call. Nothing in the compiler
// reads it implicitly.
//
// PAPER: "You Only Look Once: Unified, Real-Time Object Detection"
//        https://arxiv.org/abs/1506.02640
//
// ===========================================================================

// ArchEntry is one entry of an ArchitectureSpec.
type ArchEntry interface {
	archEntry()
	String() string
}

// ArchitectureSpec is the ordered backbone description.
type ArchitectureSpec []ArchEntry

// FilterEntry describes one convolution + batch norm + leaky ReLU block.
type FilterEntry struct {
	KernelSize  int
	OutChannels int
	Stride      int
	Padding     int
}

// PoolMarker denotes a fixed 2x2, stride-2 max pool.
type PoolMarker struct{}

// RepeatGroup expands to Count consecutive copies of [First, Second].
type RepeatGroup struct {
	First  FilterEntry
	Second FilterEntry
	Count  int
}

func (FilterEntry) archEntry() {}
func (PoolMarker) archEntry()  {}
func (RepeatGroup) archEntry() {}

func (f FilterEntry) String() string {
	return fmt.Sprintf("(%d, %d, %d, %d)", f.KernelSize, f.OutChannels, f.Stride, f.Padding)
}

func (PoolMarker) String() string { return "M" }

func (r RepeatGroup) String() string {
	return fmt.Sprintf("[%s, %s, %d]", r.First, r.Second, r.Count)
}

// validate returns a reason string when f cannot be instantiated.
func (f FilterEntry) validate() string {
	switch {
	case f.KernelSize <= 0:
		return fmt.Sprintf("kernel size must be positive, got %d", f.KernelSize)
	case f.OutChannels <= 0:
		return fmt.Sprintf("output channels must be positive, got %d", f.OutChannels)
	case f.Stride <= 0:
		return fmt.Sprintf("stride must be positive, got %d", f.Stride)
	case f.Padding < 0:
		return fmt.Sprintf("padding must be non-negative, got %d", f.Padding)
	}
	return ""
}

// BackboneChannels is the channel count of the reference backbone's last
// filter stage.
const BackboneChannels = 1024

// DefaultArchitecture returns the darknet backbone used by YOLOv1: 24
// convolutional layers once the repeat groups are expanded, and four pools.
// With a 448x448 input it produces a 1024x7x7 feature map.
func DefaultArchitecture() ArchitectureSpec {
	return ArchitectureSpec{
		FilterEntry{7, 64, 2, 3},
		PoolMarker{},
		FilterEntry{3, 192, 1, 1},
		PoolMarker{},
		FilterEntry{1, 128, 1, 0},
		FilterEntry{3, 256, 1, 1},
		FilterEntry{1, 256, 1, 0},
		FilterEntry{3, 512, 1, 1},
		PoolMarker{},
		RepeatGroup{First: FilterEntry{1, 256, 1, 0}, Second: FilterEntry{3, 512, 1, 1}, Count: 4},
		FilterEntry{1, 512, 1, 0},
		FilterEntry{3, 1024, 1, 1},
		PoolMarker{},
		RepeatGroup{First: FilterEntry{1, 512, 1, 0}, Second: FilterEntry{3, 1024, 1, 1}, Count: 2},
		FilterEntry{3, 1024, 1, 1},
		FilterEntry{3, 1024, 2, 1},
		FilterEntry{3, 1024, 1, 1},
		FilterEntry{3, 1024, 1, 1},
	}
}
