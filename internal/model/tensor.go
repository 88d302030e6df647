package model

import (
	"fmt"
	"sort"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// Tensor is a named weight array in row-major order, as exported from a
// state dict.
type Tensor struct {
	Shape []int     `json:"shape"`
	Data  []float64 `json:"data"`
}

func (t Tensor) size() int {
	n := 1
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

// aliasPrefix marks duplicate registrations of the window heads that carry no
// weights of their own.
const aliasPrefix = "heads."

// tensorSet hands out tensors by name with shape checks and remembers which
// ones were consumed.
type tensorSet struct {
	tensors map[string]Tensor
	used    map[string]bool
}

func newTensorSet(tensors map[string]Tensor) *tensorSet {
	return &tensorSet{tensors: tensors, used: make(map[string]bool, len(tensors))}
}

func (s *tensorSet) take(name string, shape ...int) ([]float64, error) {
	t, ok := s.tensors[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingTensor, name)
	}
	s.used[name] = true

	if !sameShape(t.Shape, shape) {
		return nil, fmt.Errorf("%w: %s has shape %v, expected %v", ErrShapeMismatch, name, t.Shape, shape)
	}
	if len(t.Data) != t.size() {
		return nil, fmt.Errorf("%w: %s has %d values for shape %v", ErrShapeMismatch, name, len(t.Data), t.Shape)
	}

	data := make([]float64, len(t.Data))
	copy(data, t.Data)
	return data, nil
}

func (s *tensorSet) matrix(name string, rows, cols int) (*mat.Dense, error) {
	data, err := s.take(name, rows, cols)
	if err != nil {
		return nil, err
	}
	return mat.NewDense(rows, cols, data), nil
}

func (s *tensorSet) vector(name string, n int) ([]float64, error) {
	return s.take(name, n)
}

func (s *tensorSet) linear(prefix string, in, out int) (linear, error) {
	w, err := s.matrix(prefix+".weight", out, in)
	if err != nil {
		return linear{}, err
	}
	b, err := s.vector(prefix+".bias", out)
	if err != nil {
		return linear{}, err
	}
	return linear{w: w, b: b}, nil
}

func (s *tensorSet) layerNorm(prefix string, n int, eps float64) (layerNorm, error) {
	g, err := s.vector(prefix+".weight", n)
	if err != nil {
		return layerNorm{}, err
	}
	b, err := s.vector(prefix+".bias", n)
	if err != nil {
		return layerNorm{}, err
	}
	return layerNorm{gamma: g, beta: b, eps: eps}, nil
}

// unused lists tensors that were never consumed, ignoring head aliases.
func (s *tensorSet) unused() []string {
	var names []string
	for name := range s.tensors {
		if s.used[name] || strings.HasPrefix(name, aliasPrefix) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func sameShape(got, want []int) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}
