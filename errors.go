package main

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfig is wrapped by every *ConfigError. Configuration errors
	// are raised while compiling or constructing a model and are fatal to it.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrShapeMismatch is wrapped by every *ShapeError. Shape errors are raised
	// per forward call and leave the model untouched.
	ErrShapeMismatch = errors.New("tensor: shape mismatch")
)

// ConfigError describes a structurally invalid architecture entry or model
// option.
type ConfigError struct {
	// Index is the position of the offending architecture entry, or -1 for
	// model-level options.
	Index int
	// Entry is the raw offending value (entry literal or option name).
	Entry  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("invalid configuration: %s: %s", e.Entry, e.Reason)
	}
	return fmt.Sprintf("invalid configuration: entry %d %s: %s", e.Index, e.Entry, e.Reason)
}

func (e *ConfigError) Unwrap() error { return ErrInvalidConfig }

func configErrorf(index int, entry any, format string, args ...any) *ConfigError {
	return &ConfigError{
		Index:  index,
		Entry:  fmt.Sprintf("%v", entry),
		Reason: fmt.Sprintf(format, args...),
	}
}

// ShapeError reports an input whose shape is incompatible with a stage.
type ShapeError struct {
	Op     string
	Want   []int // nil when no single expected shape exists
	Got    []int
	Reason string
}

func (e *ShapeError) Error() string {
	if e.Want != nil {
		return fmt.Sprintf("%s: shape mismatch: want %v, got %v: %s", e.Op, e.Want, e.Got, e.Reason)
	}
	return fmt.Sprintf("%s: shape mismatch: got %v: %s", e.Op, e.Got, e.Reason)
}

func (e *ShapeError) Unwrap() error { return ErrShapeMismatch }

func shapeErrorf(op string, want, got []int, format string, args ...any) *ShapeError {
	var w []int
	if want != nil {
		w = append([]int(nil), want...)
	}
	return &ShapeError{
		Op:     op,
		Want:   w,
		Got:    append([]int(nil), got...),
		Reason: fmt.Sprintf(format, args...),
	}
}
