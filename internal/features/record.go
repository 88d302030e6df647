package features

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Record is one hourly observation row of a stay: field name to number, string,
// bool or nil.
type Record map[string]any

// Float coerces a raw field value to float64. The second result is false for
// nil, NaN, infinities and anything that is not numeric.
func Float(v any) (float64, bool) {
	var f float64
	switch x := v.(type) {
	case nil:
		return 0, false
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int8:
		f = float64(x)
	case int16:
		f = float64(x)
	case int32:
		f = float64(x)
	case int64:
		f = float64(x)
	case uint:
		f = float64(x)
	case uint8:
		f = float64(x)
	case uint16:
		f = float64(x)
	case uint32:
		f = float64(x)
	case uint64:
		f = float64(x)
	case bool:
		if x {
			f = 1
		}
	case json.Number:
		parsed, err := x.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return 0, false
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}

	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// GenderCode maps the categorical gender of a record to its model code:
// male 0, female 1. The f0_ label wins over a gender column; anything
// unrecognised or absent is 0.
func GenderCode(r Record) float32 {
	if v, ok := r[GenderLabelField]; ok && v != nil {
		return genderFromValue(v)
	}
	if v, ok := r[GenderField]; ok && v != nil {
		return genderFromValue(v)
	}
	return 0
}

func genderFromValue(v any) float32 {
	if s, ok := v.(string); ok {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "f", "female":
			return 1
		case "m", "male":
			return 0
		}
	}
	if f, ok := Float(v); ok && f == 1 {
		return 1
	}
	return 0
}
