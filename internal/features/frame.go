package features

import (
	"errors"
	"math"
	"sort"
)

var ErrEmptySequence = errors.New("empty sequence: no patient records supplied")

// Frame is the T x F numeric view of a stay, aligned to a schema.
type Frame struct {
	Features []string
	Values   Matrix
	// Times holds the time index of each row, ascending.
	Times []float64
	// SyntheticTimes is set when rows were indexed 0..T-1 because hr was
	// missing from at least one record.
	SyntheticTimes bool
}

func (f Frame) Len() int {
	return f.Values.Rows
}

// Build converts a sequence of records into a Frame. Canonical features absent
// from the records are entirely missing, label columns are always missing, and
// values that cannot be coerced to numbers are missing. The records are not
// modified.
func Build(seq []Record, schema Schema) (Frame, error) {
	if len(seq) == 0 {
		return Frame{}, ErrEmptySequence
	}

	order, times, synthetic := timeOrder(seq)

	T, F := len(seq), schema.Len()
	values := NewMatrix(T, F)
	nan := float32(math.NaN())

	genderCol, hasGender := schema.Index(GenderField)

	for row, src := range order {
		rec := seq[src]
		for col, name := range schema.names {
			if schema.IsLabel(name) {
				values.Set(row, col, nan)
				continue
			}
			if hasGender && col == genderCol {
				values.Set(row, col, GenderCode(rec))
				continue
			}
			if f, ok := Float(rec[name]); ok {
				values.Set(row, col, float32(f))
			} else {
				values.Set(row, col, nan)
			}
		}
	}

	return Frame{
		Features:       schema.Names(),
		Values:         values,
		Times:          times,
		SyntheticTimes: synthetic,
	}, nil
}

// timeOrder returns the row permutation and per-row times. Rows keep their
// order unless hr is present everywhere, in which case they are stably sorted
// by hr so time deltas are never negative.
func timeOrder(seq []Record) ([]int, []float64, bool) {
	order := make([]int, len(seq))
	for i := range order {
		order[i] = i
	}

	raw := make([]float64, len(seq))
	for i, rec := range seq {
		hr, ok := Float(rec[TimeField])
		if !ok {
			times := make([]float64, len(seq))
			for j := range times {
				times[j] = float64(j)
			}
			return order, times, true
		}
		raw[i] = hr
	}

	sort.SliceStable(order, func(a, b int) bool {
		return raw[order[a]] < raw[order[b]]
	})

	times := make([]float64, len(seq))
	for row, src := range order {
		times[row] = raw[src]
	}
	return order, times, false
}
