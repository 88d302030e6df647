package scaler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sepsis-risk/backend/internal/features"
)

func TestNewValidatesLengths(t *testing.T) {
	_, err := New([]float64{1, 2}, []float64{1})
	require.Error(t, err)

	_, err = New(nil, nil)
	require.Error(t, err)
}

func TestTransform(t *testing.T) {
	s, err := New([]float64{1, 10}, []float64{2, 5})
	require.NoError(t, err)

	m := features.NewMatrix(2, 2)
	copy(m.Data, []float32{3, 20, -1, 0})

	out, err := s.Transform(m)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, -1, -2}, out.Data)
	assert.Equal(t, []float32{3, 20, -1, 0}, m.Data, "input must be untouched")
}

func TestTransformZeroScaleIsFinite(t *testing.T) {
	s, err := New([]float64{4, 4}, []float64{0, 0})
	require.NoError(t, err)

	m := features.NewMatrix(1, 2)
	copy(m.Data, []float32{4, 9})

	out, err := s.Transform(m)
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 0}, out.Data)
}

func TestTransformColumnMismatch(t *testing.T) {
	s, err := New([]float64{0}, []float64{1})
	require.NoError(t, err)

	_, err = s.Transform(features.NewMatrix(1, 3))
	require.Error(t, err)
}

func TestRoundTrip(t *testing.T) {
	mean := []float64{1.2, 0.4, 2.5, 0.9, 1.1, 0.3, 40.5, 120.0}
	scale := []float64{1.1, 0.8, 1.9, 1.3, 1.4, 0.7, 30.2, 80.6}
	s, err := New(mean, scale)
	require.NoError(t, err)

	x := []float64{2, 0, 4, 1, 3, 0.5, 12, 300}
	z, err := s.TransformVec(x)
	require.NoError(t, err)

	back, err := s.InverseVec(z)
	require.NoError(t, err)
	assert.InDeltaSlice(t, x, back, 1e-9)
}
