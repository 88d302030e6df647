package impute

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sepsis-risk/backend/internal/features"
)

var nan = float32(math.NaN())

func frameOf(times []float64, rows ...[]float32) features.Frame {
	m := features.NewMatrix(len(rows), len(rows[0]))
	for r, row := range rows {
		copy(m.Row(r), row)
	}
	return features.Frame{Values: m, Times: times}
}

func TestDecayAllObserved(t *testing.T) {
	frame := frameOf([]float64{0, 1, 3},
		[]float32{1, 2},
		[]float32{3, 4},
		[]float32{5, 6},
	)

	tr, err := Decay(frame, []float64{100, 200})
	require.NoError(t, err)

	assert.Equal(t, frame.Values.Data, tr.Values.Data)
	for _, d := range tr.Delta.Data {
		assert.Zero(t, d)
	}
	for _, m := range tr.Mask.Data {
		assert.True(t, m)
	}
}

func TestDecayAllMissingColumnIsMean(t *testing.T) {
	frame := frameOf([]float64{0, 2, 5, 9},
		[]float32{nan, 1},
		[]float32{nan, nan},
		[]float32{nan, 3},
		[]float32{nan, nan},
	)

	tr, err := Decay(frame, []float64{7.25, 0})
	require.NoError(t, err)

	for r := 0; r < 4; r++ {
		assert.InDelta(t, 7.25, tr.Values.At(r, 0), 1e-6)
		assert.False(t, tr.Mask.At(r, 0))
	}
	assert.Zero(t, tr.Delta.At(0, 0))
	assert.Equal(t, float32(2), tr.Delta.At(1, 0))
	assert.Equal(t, float32(9), tr.Delta.At(3, 0))
}

func TestDecayDeltaMeasuresFromLastObservation(t *testing.T) {
	frame := frameOf([]float64{1, 2, 4, 5},
		[]float32{10},
		[]float32{nan},
		[]float32{nan},
		[]float32{20},
	)

	tr, err := Decay(frame, []float64{0})
	require.NoError(t, err)

	assert.Equal(t, []float32{0, 1, 3, 0}, tr.Delta.Data)
	assert.Equal(t, []bool{true, false, false, true}, tr.Mask.Data)

	g1 := math.Exp(-1)
	first := g1 * 10
	assert.InDelta(t, first, tr.Values.At(1, 0), 1e-5)
	assert.InDelta(t, math.Exp(-3)*first, tr.Values.At(2, 0), 1e-5)
	assert.Equal(t, float32(20), tr.Values.At(3, 0))
}

func TestDecayMonotonicTowardMean(t *testing.T) {
	const mean = 2.0
	rows := [][]float32{{12}}
	times := []float64{0}
	for k := 1; k <= 6; k++ {
		rows = append(rows, []float32{nan})
		times = append(times, float64(k))
	}

	tr, err := Decay(frameOf(times, rows...), []float64{mean})
	require.NoError(t, err)

	prev := math.Abs(float64(tr.Values.At(0, 0)) - mean)
	for r := 1; r < len(rows); r++ {
		dist := math.Abs(float64(tr.Values.At(r, 0)) - mean)
		assert.Less(t, dist, prev, "row %d", r)
		prev = dist
	}
}

func TestDecayFirstRowMissingUsesMean(t *testing.T) {
	frame := frameOf([]float64{3, 4},
		[]float32{nan},
		[]float32{8},
	)

	tr, err := Decay(frame, []float64{-1.5})
	require.NoError(t, err)

	assert.Equal(t, float32(-1.5), tr.Values.At(0, 0))
	assert.Zero(t, tr.Delta.At(0, 0))
	assert.Equal(t, []bool{false, true}, tr.ValidRows())
}

func TestDecayMeanLength(t *testing.T) {
	frame := frameOf([]float64{0}, []float32{1, 2})

	_, err := Decay(frame, []float64{1})
	require.ErrorIs(t, err, ErrMeanLength)
}

func TestDecayDoesNotModifyFrame(t *testing.T) {
	frame := frameOf([]float64{0, 1}, []float32{1}, []float32{nan})

	_, err := Decay(frame, []float64{0})
	require.NoError(t, err)
	assert.True(t, frame.Values.IsMissing(1, 0))
}
