package model_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sepsis-risk/backend/internal/features"
	"github.com/sepsis-risk/backend/internal/model"
	"github.com/sepsis-risk/backend/internal/model/modeltest"
)

func TestWindowFromHours(t *testing.T) {
	cases := map[int]model.Window{
		6:  model.Window6,
		12: model.Window12,
		24: model.Window24,
		0:  model.Window6,
		48: model.Window6,
		-6: model.Window6,
		18: model.Window6,
	}
	for hours, want := range cases {
		assert.Equal(t, want, model.WindowFromHours(hours), "hours=%d", hours)
	}
}

func TestWindowClamp(t *testing.T) {
	assert.Equal(t, model.Window6, model.Window(-3).Clamp())
	assert.Equal(t, model.Window12, model.Window12.Clamp())
	assert.Equal(t, model.Window24, model.Window(9).Clamp())
	assert.Equal(t, 24, model.Window(9).Hours())
	assert.Equal(t, "12h", model.Window12.String())
}

func TestDefaultArchitecture(t *testing.T) {
	arch := model.DefaultArchitecture(features.CanonicalCount)
	require.NoError(t, arch.Validate())
	assert.Equal(t, 363, arch.InputSize())
	assert.Equal(t, 64, arch.HiddenSize)
	assert.Equal(t, 128, arch.DModel)

	arch.NumHeads = 3
	require.ErrorIs(t, arch.Validate(), model.ErrInvalidArch)
}

func TestNewAcceptsFullTensorSet(t *testing.T) {
	arch := modeltest.Small(4)
	m, err := model.New(arch, modeltest.Tensors(arch, 1))
	require.NoError(t, err)
	assert.Equal(t, arch, m.Arch())
}

func TestNewIgnoresHeadAliases(t *testing.T) {
	arch := modeltest.Small(4)
	tensors := modeltest.Tensors(arch, 1)
	tensors["heads.0.weight"] = tensors["reg_heads.0.weight"]
	tensors["heads.0.bias"] = tensors["reg_heads.0.bias"]

	_, err := model.New(arch, tensors)
	require.NoError(t, err)
}

func TestNewRejectsBadTensors(t *testing.T) {
	arch := modeltest.Small(4)

	t.Run("missing", func(t *testing.T) {
		tensors := modeltest.Tensors(arch, 1)
		delete(tensors, "transformer.layers.1.norm2.bias")
		_, err := model.New(arch, tensors)
		require.ErrorIs(t, err, model.ErrMissingTensor)
	})

	t.Run("wrong shape", func(t *testing.T) {
		tensors := modeltest.Tensors(arch, 1)
		tensors["gru.weight_ih_l0"] = model.Tensor{Shape: []int{18, 11}, Data: make([]float64, 18*11)}
		_, err := model.New(arch, tensors)
		require.ErrorIs(t, err, model.ErrShapeMismatch)
	})

	t.Run("short data", func(t *testing.T) {
		tensors := modeltest.Tensors(arch, 1)
		tensors["to_dmodel.bias"] = model.Tensor{Shape: []int{8}, Data: make([]float64, 7)}
		_, err := model.New(arch, tensors)
		require.ErrorIs(t, err, model.ErrShapeMismatch)
	})

	t.Run("unexpected", func(t *testing.T) {
		tensors := modeltest.Tensors(arch, 1)
		tensors["transformer.layers.2.norm1.weight"] = model.Tensor{Shape: []int{8}, Data: make([]float64, 8)}
		_, err := model.New(arch, tensors)
		require.ErrorIs(t, err, model.ErrUnexpectedTensor)
	})

	t.Run("wrong feature count", func(t *testing.T) {
		_, err := model.New(modeltest.Small(5), modeltest.Tensors(arch, 1))
		require.ErrorIs(t, err, model.ErrShapeMismatch)
	})
}

func sequence(T, F int, observed func(t, f int) bool) (features.Matrix, features.BoolMatrix, features.Matrix) {
	values := features.NewMatrix(T, F)
	mask := features.NewBoolMatrix(T, F)
	delta := features.NewMatrix(T, F)
	for t := 0; t < T; t++ {
		for f := 0; f < F; f++ {
			values.Set(t, f, float32(math.Sin(float64(t*F+f))))
			if observed(t, f) {
				mask.Set(t, f, true)
			} else {
				delta.Set(t, f, float32(t))
			}
		}
	}
	return values, mask, delta
}

func TestEncodeIsDeterministic(t *testing.T) {
	arch := modeltest.Small(3)
	m, err := model.New(arch, modeltest.Tensors(arch, 7))
	require.NoError(t, err)

	values, mask, delta := sequence(5, 3, func(t, f int) bool { return (t+f)%2 == 0 })

	a, err := m.Encode(values, mask, delta)
	require.NoError(t, err)
	b, err := m.Encode(values, mask, delta)
	require.NoError(t, err)

	require.Len(t, a.Pooled, arch.DModel)
	assert.Equal(t, a.Pooled, b.Pooled)
	assert.InDelta(t, 1.0, sum(a.Attention), 1e-12)
	for _, v := range a.Pooled {
		assert.False(t, math.IsNaN(v) || math.IsInf(v, 0))
	}
}

func TestEncodeIgnoresUnobservedSteps(t *testing.T) {
	arch := modeltest.Small(2)
	m, err := model.New(arch, modeltest.Tensors(arch, 3))
	require.NoError(t, err)

	// Only the last step is observed; earlier steps still shape the GRU state
	// but receive no pooling weight.
	values, mask, delta := sequence(3, 2, func(t, _ int) bool { return t == 2 })

	enc, err := m.Encode(values, mask, delta)
	require.NoError(t, err)

	assert.Equal(t, []bool{false, false, true}, enc.Valid)
	assert.InDelta(t, 0, enc.Attention[0], 1e-300)
	assert.InDelta(t, 0, enc.Attention[1], 1e-300)
	assert.InDelta(t, 1, enc.Attention[2], 1e-12)
}

func TestEncodeWithNothingObserved(t *testing.T) {
	arch := modeltest.Small(2)
	m, err := model.New(arch, modeltest.Tensors(arch, 3))
	require.NoError(t, err)

	values, mask, delta := sequence(4, 2, func(_, _ int) bool { return false })

	enc, err := m.Encode(values, mask, delta)
	require.NoError(t, err)
	assert.Equal(t, []bool{true, true, true, true}, enc.Valid)
	assert.InDelta(t, 1.0, sum(enc.Attention), 1e-12)
}

func TestEncodeRejectsShape(t *testing.T) {
	arch := modeltest.Small(2)
	m, err := model.New(arch, modeltest.Tensors(arch, 3))
	require.NoError(t, err)

	values, mask, delta := sequence(2, 3, func(_, _ int) bool { return true })
	_, err = m.Encode(values, mask, delta)
	require.ErrorIs(t, err, model.ErrShapeMismatch)
}

func TestDecodeSelectsWindowHeads(t *testing.T) {
	arch := modeltest.Small(2)
	tensors := modeltest.Tensors(arch, 11)
	m, err := model.New(arch, tensors)
	require.NoError(t, err)

	pooled := make([]float64, arch.DModel)
	for i := range pooled {
		pooled[i] = float64(i) / 10
	}

	for w := model.Window6; w <= model.Window24; w++ {
		out, err := m.Decode(pooled, w)
		require.NoError(t, err)
		require.Len(t, out.Reg, arch.RegDim)

		wantLogit := dot(tensors[binName(w)+".weight"].Data, pooled) + tensors[binName(w)+".bias"].Data[0]
		assert.InDelta(t, wantLogit, out.Logit, 1e-12)
	}

	high, err := m.Decode(pooled, model.Window(5))
	require.NoError(t, err)
	top, err := m.Decode(pooled, model.Window24)
	require.NoError(t, err)
	assert.Equal(t, top, high)

	_, err = m.Decode(pooled[:3], model.Window6)
	require.ErrorIs(t, err, model.ErrShapeMismatch)
}

func binName(w model.Window) string {
	return [...]string{"bin_heads.0", "bin_heads.1", "bin_heads.2"}[w]
}

func dot(a, b []float64) float64 {
	s := 0.0
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

func sum(v []float64) float64 {
	s := 0.0
	for _, x := range v {
		s += x
	}
	return s
}
