package scaler

import (
	"fmt"
	"math"

	"github.com/sepsis-risk/backend/internal/features"
)

// Scaler is a fitted per-feature affine transform, (x - mean) / scale.
type Scaler struct {
	mean  []float64
	scale []float64
}

func New(mean, scale []float64) (*Scaler, error) {
	if len(mean) == 0 {
		return nil, fmt.Errorf("scaler has no features")
	}
	if len(mean) != len(scale) {
		return nil, fmt.Errorf("scaler mean has %d entries but scale has %d", len(mean), len(scale))
	}

	s := &Scaler{
		mean:  make([]float64, len(mean)),
		scale: make([]float64, len(scale)),
	}
	copy(s.mean, mean)
	copy(s.scale, scale)
	return s, nil
}

func (s *Scaler) Len() int {
	return len(s.mean)
}

func (s *Scaler) Mean() []float64 {
	out := make([]float64, len(s.mean))
	copy(out, s.mean)
	return out
}

func (s *Scaler) Scale() []float64 {
	out := make([]float64, len(s.scale))
	copy(out, s.scale)
	return out
}

// Transform returns a scaled copy of m. Non-finite results, such as those
// from a zero-variance feature, become 0.
func (s *Scaler) Transform(m features.Matrix) (features.Matrix, error) {
	if m.Cols != len(s.mean) {
		return features.Matrix{}, fmt.Errorf("matrix has %d columns, scaler expects %d", m.Cols, len(s.mean))
	}

	out := features.NewMatrix(m.Rows, m.Cols)
	for r := 0; r < m.Rows; r++ {
		src, dst := m.Row(r), out.Row(r)
		for c, v := range src {
			dst[c] = float32(finite((float64(v) - s.mean[c]) / s.scale[c]))
		}
	}
	return out, nil
}

func (s *Scaler) TransformVec(x []float64) ([]float64, error) {
	if len(x) != len(s.mean) {
		return nil, fmt.Errorf("vector has %d entries, scaler expects %d", len(x), len(s.mean))
	}
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = finite((v - s.mean[i]) / s.scale[i])
	}
	return out, nil
}

// InverseVec maps a scaled vector back to native units.
func (s *Scaler) InverseVec(z []float64) ([]float64, error) {
	if len(z) != len(s.mean) {
		return nil, fmt.Errorf("vector has %d entries, scaler expects %d", len(z), len(s.mean))
	}
	out := make([]float64, len(z))
	for i, v := range z {
		out[i] = v*s.scale[i] + s.mean[i]
	}
	return out, nil
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
