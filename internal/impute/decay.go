package impute

import (
	"errors"
	"fmt"
	"math"

	"github.com/sepsis-risk/backend/internal/features"
)

var ErrMeanLength = errors.New("global mean length does not match feature count")

// Triple is the imputed view of a frame. The three matrices share the frame's
// shape and are only meaningful together.
type Triple struct {
	Values features.Matrix
	Mask   features.BoolMatrix
	Delta  features.Matrix
}

func (t Triple) Len() int {
	return t.Values.Rows
}

// ValidRows reports which rows carry at least one observed feature.
func (t Triple) ValidRows() []bool {
	valid := make([]bool, t.Mask.Rows)
	for r := range valid {
		valid[r] = t.Mask.AnyInRow(r)
	}
	return valid
}

// carry is the running state of one feature column while walking rows in time
// order.
type carry struct {
	value float64
	time  float64
}

// Decay fills missing frame entries with an exponential forward fill that
// decays toward globalMean as time since the last observation grows.
func Decay(frame features.Frame, globalMean []float64) (Triple, error) {
	T, F := frame.Values.Rows, frame.Values.Cols
	if len(globalMean) != F {
		return Triple{}, fmt.Errorf("%w: got %d, want %d", ErrMeanLength, len(globalMean), F)
	}
	if len(frame.Times) != T {
		return Triple{}, fmt.Errorf("frame has %d rows but %d times", T, len(frame.Times))
	}

	out := Triple{
		Values: features.NewMatrix(T, F),
		Mask:   features.NewBoolMatrix(T, F),
		Delta:  features.NewMatrix(T, F),
	}
	if T == 0 {
		return out, nil
	}

	for col := 0; col < F; col++ {
		mean := globalMean[col]
		state := carry{value: mean, time: frame.Times[0]}

		for row := 0; row < T; row++ {
			now := frame.Times[row]

			if !frame.Values.IsMissing(row, col) {
				v := float64(frame.Values.At(row, col))
				out.Values.Set(row, col, float32(v))
				out.Mask.Set(row, col, true)
				state = carry{value: v, time: now}
				continue
			}

			delta := 0.0
			if row > 0 {
				delta = now - state.time
			}
			gamma := math.Exp(-delta)
			filled := gamma*state.value + (1-gamma)*mean

			out.Values.Set(row, col, float32(filled))
			out.Delta.Set(row, col, float32(delta))
			state.value = filled
		}
	}

	return out, nil
}
