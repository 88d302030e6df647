package model

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// linear computes x W^T + b. w is out x in.
type linear struct {
	w *mat.Dense
	b []float64
}

func (l linear) outputs() int {
	r, _ := l.w.Dims()
	return r
}

// forward applies the layer to every row of x.
func (l linear) forward(x *mat.Dense) *mat.Dense {
	rows, _ := x.Dims()
	out := mat.NewDense(rows, l.outputs(), nil)
	out.Mul(x, l.w.T())
	for i := 0; i < rows; i++ {
		floats.Add(out.RawRowView(i), l.b)
	}
	return out
}

func (l linear) apply(v []float64) []float64 {
	out := make([]float64, l.outputs())
	for i := range out {
		out[i] = floats.Dot(l.w.RawRowView(i), v) + l.b[i]
	}
	return out
}

// gru is a single-layer GRU with gate order reset, update, new and a zero
// initial state.
type gru struct {
	hidden int
	wih    *mat.Dense
	whh    *mat.Dense
	bih    []float64
	bhh    []float64
}

func (g gru) forward(x *mat.Dense) *mat.Dense {
	T, _ := x.Dims()
	H := g.hidden

	var gi mat.Dense
	gi.Mul(x, g.wih.T())

	out := mat.NewDense(T, H, nil)
	h := make([]float64, H)
	hv := mat.NewVecDense(H, h)
	gh := mat.NewVecDense(3*H, nil)

	for t := 0; t < T; t++ {
		gh.MulVec(g.whh, hv)
		hh := gh.RawVector().Data
		xi := gi.RawRowView(t)

		for j := 0; j < H; j++ {
			r := sigmoid(xi[j] + g.bih[j] + hh[j] + g.bhh[j])
			z := sigmoid(xi[H+j] + g.bih[H+j] + hh[H+j] + g.bhh[H+j])
			n := math.Tanh(xi[2*H+j] + g.bih[2*H+j] + r*(hh[2*H+j]+g.bhh[2*H+j]))
			h[j] = (1-z)*n + z*h[j]
		}
		out.SetRow(t, h)
	}
	return out
}

type layerNorm struct {
	gamma []float64
	beta  []float64
	eps   float64
}

// apply normalises every row of x in place.
func (n layerNorm) apply(x *mat.Dense) {
	rows, cols := x.Dims()
	for i := 0; i < rows; i++ {
		row := x.RawRowView(i)
		mean := floats.Sum(row) / float64(cols)
		variance := 0.0
		for _, v := range row {
			d := v - mean
			variance += d * d
		}
		variance /= float64(cols)
		inv := 1 / math.Sqrt(variance+n.eps)
		for j, v := range row {
			row[j] = (v-mean)*inv*n.gamma[j] + n.beta[j]
		}
	}
}

// attention is multi-head scaled dot-product self-attention with packed
// query/key/value projections.
type attention struct {
	heads   int
	inProj  linear
	outProj linear
}

func (a attention) forward(x *mat.Dense, valid []bool) *mat.Dense {
	T, D := x.Dims()
	qkv := a.inProj.forward(x)
	dh := D / a.heads
	scale := 1 / math.Sqrt(float64(dh))

	ctx := mat.NewDense(T, D, nil)
	scores := make([]float64, T)

	for h := 0; h < a.heads; h++ {
		qo, ko, vo := h*dh, D+h*dh, 2*D+h*dh
		for i := 0; i < T; i++ {
			q := qkv.RawRowView(i)[qo : qo+dh]
			for j := 0; j < T; j++ {
				if !valid[j] {
					scores[j] = math.Inf(-1)
					continue
				}
				scores[j] = floats.Dot(q, qkv.RawRowView(j)[ko:ko+dh]) * scale
			}
			softmax(scores)

			dst := ctx.RawRowView(i)[qo : qo+dh]
			for j, w := range scores {
				if w == 0 {
					continue
				}
				floats.AddScaled(dst, w, qkv.RawRowView(j)[vo:vo+dh])
			}
		}
	}
	return a.outProj.forward(ctx)
}

// encoderLayer is a post-norm transformer encoder layer with a ReLU
// feed-forward block.
type encoderLayer struct {
	attn    attention
	linear1 linear
	linear2 linear
	norm1   layerNorm
	norm2   layerNorm
}

func (l encoderLayer) forward(x *mat.Dense, valid []bool) *mat.Dense {
	a := l.attn.forward(x, valid)
	a.Add(a, x)
	l.norm1.apply(a)

	ff := l.linear1.forward(a)
	ff.Apply(func(_, _ int, v float64) float64 { return math.Max(v, 0) }, ff)
	out := l.linear2.forward(ff)
	out.Add(out, a)
	l.norm2.apply(out)
	return out
}

// maskedScore replaces attention-pool scores at invalid steps.
const maskedScore = -1e9

type attnPool struct {
	score linear
}

// forward returns the pooled vector and the per-step weights.
func (p attnPool) forward(z *mat.Dense, valid []bool) ([]float64, []float64) {
	T, D := z.Dims()
	weights := make([]float64, T)
	for t := 0; t < T; t++ {
		if !valid[t] {
			weights[t] = maskedScore
			continue
		}
		weights[t] = p.score.apply(z.RawRowView(t))[0]
	}
	softmax(weights)

	pooled := make([]float64, D)
	for t, w := range weights {
		floats.AddScaled(pooled, w, z.RawRowView(t))
	}
	return pooled, weights
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// softmax normalises s in place. At least one entry must be finite.
func softmax(s []float64) {
	m := floats.Max(s)
	for i, v := range s {
		s[i] = math.Exp(v - m)
	}
	floats.Scale(1/floats.Sum(s), s)
}
