package features

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalSchema(t *testing.T) {
	s := Canonical()
	require.Equal(t, CanonicalCount, s.Len())

	names := s.Names()
	for i := 1; i < len(names); i++ {
		assert.Less(t, names[i-1], names[i], "canonical features must be sorted")
	}
	for _, l := range LabelColumns {
		_, ok := s.Index(l)
		assert.False(t, ok, "label %s must not be a model input", l)
	}
	assert.True(t, s.Equal(names))
	assert.False(t, s.Equal(names[1:]))
}

func TestNewSchemaRejectsDuplicates(t *testing.T) {
	_, err := NewSchema([]string{"age", "age"})
	require.Error(t, err)

	_, err = NewSchema(nil)
	require.Error(t, err)
}

func TestBuildEmptySequence(t *testing.T) {
	_, err := Build(nil, Canonical())
	require.ErrorIs(t, err, ErrEmptySequence)

	_, err = Build([]Record{}, Canonical())
	require.ErrorIs(t, err, ErrEmptySequence)
}

func TestBuildSingleRow(t *testing.T) {
	s := Canonical()
	frame, err := Build([]Record{{"hr": 1, "age": 50, "f0_": "F"}}, s)
	require.NoError(t, err)

	require.Equal(t, 1, frame.Len())
	require.Equal(t, CanonicalCount, frame.Values.Cols)
	assert.Equal(t, []float64{1}, frame.Times)
	assert.False(t, frame.SyntheticTimes)

	observed := map[string]float32{"hr": 1, "age": 50, "gender": 1}
	for col, name := range frame.Features {
		want, ok := observed[name]
		if ok {
			assert.Equal(t, want, frame.Values.At(0, col), name)
			continue
		}
		assert.True(t, frame.Values.IsMissing(0, col), "%s should be missing", name)
	}
}

func TestBuildMasksLabelColumns(t *testing.T) {
	s, err := NewSchema([]string{"age", "cns", "sepsis"})
	require.NoError(t, err)

	frame, err := Build([]Record{{"age": 70, "cns": 3, "sepsis": 1}}, s)
	require.NoError(t, err)

	assert.Equal(t, float32(70), frame.Values.At(0, 0))
	assert.True(t, frame.Values.IsMissing(0, 1))
	assert.True(t, frame.Values.IsMissing(0, 2))
}

func TestBuildCoercion(t *testing.T) {
	s, err := NewSchema([]string{"a", "b", "c", "d", "e", "f", "g"})
	require.NoError(t, err)

	rec := Record{
		"a": "12.5",
		"b": "not-a-number",
		"c": json.Number("3"),
		"d": true,
		"e": math.NaN(),
		"f": []int{1},
		"g": nil,
	}
	frame, err := Build([]Record{rec}, s)
	require.NoError(t, err)

	assert.Equal(t, float32(12.5), frame.Values.At(0, 0))
	assert.True(t, frame.Values.IsMissing(0, 1))
	assert.Equal(t, float32(3), frame.Values.At(0, 2))
	assert.Equal(t, float32(1), frame.Values.At(0, 3))
	assert.True(t, frame.Values.IsMissing(0, 4))
	assert.True(t, frame.Values.IsMissing(0, 5))
	assert.True(t, frame.Values.IsMissing(0, 6))
}

func TestGenderCode(t *testing.T) {
	cases := []struct {
		name string
		rec  Record
		want float32
	}{
		{"female label", Record{"f0_": "F"}, 1},
		{"female word", Record{"f0_": " female "}, 1},
		{"male label", Record{"f0_": "M"}, 0},
		{"male word", Record{"f0_": "Male"}, 0},
		{"unknown label", Record{"f0_": "X"}, 0},
		{"missing", Record{}, 0},
		{"null label", Record{"f0_": nil}, 0},
		{"numeric column", Record{"gender": 1}, 1},
		{"string column", Record{"gender": "F"}, 1},
		{"label wins", Record{"f0_": "M", "gender": 1}, 0},
		{"odd number", Record{"gender": 7}, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, GenderCode(tc.rec))
		})
	}
}

func TestBuildOrdersRowsByHour(t *testing.T) {
	s, err := NewSchema([]string{"hr", "lactate_max"})
	require.NoError(t, err)

	seq := []Record{
		{"hr": 3, "lactate_max": 4.0},
		{"hr": 1, "lactate_max": 2.0},
		{"hr": 2, "lactate_max": 3.0},
	}
	frame, err := Build(seq, s)
	require.NoError(t, err)

	assert.Equal(t, []float64{1, 2, 3}, frame.Times)
	assert.Equal(t, float32(2), frame.Values.At(0, 1))
	assert.Equal(t, float32(4), frame.Values.At(2, 1))
	assert.Equal(t, 3, seq[0]["hr"], "caller records must not be modified")
}

func TestBuildSynthesisesTimesWithoutHour(t *testing.T) {
	s, err := NewSchema([]string{"age"})
	require.NoError(t, err)

	frame, err := Build([]Record{{"age": 1, "hr": 5}, {"age": 2}}, s)
	require.NoError(t, err)

	assert.True(t, frame.SyntheticTimes)
	assert.Equal(t, []float64{0, 1}, frame.Times)
}
