package features

import "math"

// Matrix is a dense row-major T x F float32 matrix. NaN marks a missing entry.
type Matrix struct {
	Rows int
	Cols int
	Data []float32
}

func NewMatrix(rows, cols int) Matrix {
	return Matrix{Rows: rows, Cols: cols, Data: make([]float32, rows*cols)}
}

func (m Matrix) At(i, j int) float32 {
	return m.Data[i*m.Cols+j]
}

func (m Matrix) Set(i, j int, v float32) {
	m.Data[i*m.Cols+j] = v
}

// Row returns a view of row i. Writes go through to the matrix.
func (m Matrix) Row(i int) []float32 {
	return m.Data[i*m.Cols : (i+1)*m.Cols]
}

func (m Matrix) IsMissing(i, j int) bool {
	return math.IsNaN(float64(m.At(i, j)))
}

type BoolMatrix struct {
	Rows int
	Cols int
	Data []bool
}

func NewBoolMatrix(rows, cols int) BoolMatrix {
	return BoolMatrix{Rows: rows, Cols: cols, Data: make([]bool, rows*cols)}
}

func (m BoolMatrix) At(i, j int) bool {
	return m.Data[i*m.Cols+j]
}

func (m BoolMatrix) Set(i, j int, v bool) {
	m.Data[i*m.Cols+j] = v
}

// AnyInRow reports whether row i has at least one true entry.
func (m BoolMatrix) AnyInRow(i int) bool {
	for _, v := range m.Data[i*m.Cols : (i+1)*m.Cols] {
		if v {
			return true
		}
	}
	return false
}
