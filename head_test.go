package main

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLinearForward(t *testing.T) {
	l := NewLinear(3, 2, rand.New(rand.NewSource(1)), SingleThreadedConfig())
	copy(l.weight.Data(), []float64{
		1, 0,
		0, 1,
		1, 1,
	})
	copy(l.bias.Data(), []float64{0.5, -0.5})

	out, err := l.Forward(NewTensorFrom([]float64{1, 2, 3, -1, 0, 1}, 2, 3))
	require.NoError(t, err)

	assert.Equal(t, []int{2, 2}, out.Shape())
	assert.Equal(t, []float64{4.5, 4.5, 0.5, 0.5}, out.Data())
	assert.Equal(t, 3*2+2, l.NumParameters())
}

func TestLinearShapeError(t *testing.T) {
	l := NewLinear(4, 2, rand.New(rand.NewSource(1)), SingleThreadedConfig())

	_, err := l.Forward(NewTensor(2, 5))
	var shapeErr *ShapeError
	require.ErrorAs(t, err, &shapeErr)
	assert.Equal(t, []int{2, 4}, shapeErr.Want)

	_, err = l.Forward(NewTensor(2, 2, 2))
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestDropoutInferenceIsIdentity(t *testing.T) {
	d := NewDropout(0.5, rand.New(rand.NewSource(1)))
	x := randTensor(4, 10)
	assert.Same(t, x, d.Forward(x))
}

func TestDropoutTraining(t *testing.T) {
	d := NewDropout(0.5, rand.New(rand.NewSource(1)))
	d.SetTraining(true)

	x := NewTensor(1, 10000)
	for i := range x.Data() {
		x.Data()[i] = 1
	}
	out := d.Forward(x)

	zeros := 0
	for _, v := range out.Data() {
		switch v {
		case 0:
			zeros++
		case 2:
		default:
			t.Fatalf("survivor should be scaled to 2, got %f", v)
		}
	}
	assert.InDelta(t, 5000, zeros, 300)
	assert.Equal(t, 1.0, x.At(0, 0), "input must not be modified")
}

func TestDropoutEdgeProbabilities(t *testing.T) {
	x := randTensor(2, 8)

	all := NewDropout(1, rand.New(rand.NewSource(1)))
	all.SetTraining(true)
	for _, v := range all.Forward(x).Data() {
		assert.Zero(t, v)
	}

	none := NewDropout(0, rand.New(rand.NewSource(1)))
	none.SetTraining(true)
	assert.Same(t, x, none.Forward(x))
}

func TestDetectionHeadWidths(t *testing.T) {
	head, err := NewDetectionHead(8, 7, 2, 20, WithSeed(1))
	require.NoError(t, err)

	assert.Equal(t, 8*7*7, head.InFeatures())
	assert.Equal(t, 1470, head.OutFeatures())
	assert.Equal(t, 392*496+496+496*1470+1470, head.NumParameters())
}

func TestDetectionHeadForward(t *testing.T) {
	head, err := NewDetectionHead(4, 2, 1, 2, WithSeed(3))
	require.NoError(t, err)
	require.Equal(t, 16, head.InFeatures())
	require.Equal(t, 28, head.OutFeatures())

	x := randTensor(3, 16)
	out, err := head.Forward(x)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 28}, out.Shape())

	// Inference is deterministic.
	again, err := head.Forward(x)
	require.NoError(t, err)
	assert.Equal(t, out.Data(), again.Data())

	// Training mode enables dropout, which changes the output.
	head.SetTraining(true)
	dropped, err := head.Forward(x)
	require.NoError(t, err)
	assert.Equal(t, out.Shape(), dropped.Shape())
	assert.NotEqual(t, out.Data(), dropped.Data())
}

func TestDetectionHeadShapeError(t *testing.T) {
	head, err := NewDetectionHead(4, 2, 1, 2, WithSeed(3))
	require.NoError(t, err)

	_, err = head.Forward(randTensor(1, 15))
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestNewDetectionHeadInvalid(t *testing.T) {
	for _, args := range [][4]int{{0, 7, 2, 20}, {1024, 0, 2, 20}, {1024, 7, 0, 20}, {1024, 7, 2, -1}} {
		_, err := NewDetectionHead(args[0], args[1], args[2], args[3])
		var cfgErr *ConfigError
		require.ErrorAs(t, err, &cfgErr, "args %v", args)
		assert.Equal(t, -1, cfgErr.Index)
	}
}
