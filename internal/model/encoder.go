package model

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/sepsis-risk/backend/internal/features"
)

// Encoder turns an imputed, scaled sequence into one pooled vector.
type Encoder struct {
	arch     Architecture
	gru      gru
	toDModel linear
	layers   []encoderLayer
	pool     attnPool
}

// Encoding is the encoder output for one sequence.
type Encoding struct {
	Pooled []float64
	// Attention holds the pooling weight of every time step. Invalid steps
	// receive zero weight.
	Attention []float64
	// Valid marks steps with at least one observed feature.
	Valid []bool
}

func loadEncoder(arch Architecture, ts *tensorSet) (*Encoder, error) {
	in, H, D := arch.InputSize(), arch.HiddenSize, arch.DModel

	wih, err := ts.matrix("gru.weight_ih_l0", 3*H, in)
	if err != nil {
		return nil, err
	}
	whh, err := ts.matrix("gru.weight_hh_l0", 3*H, H)
	if err != nil {
		return nil, err
	}
	bih, err := ts.vector("gru.bias_ih_l0", 3*H)
	if err != nil {
		return nil, err
	}
	bhh, err := ts.vector("gru.bias_hh_l0", 3*H)
	if err != nil {
		return nil, err
	}

	toD, err := ts.linear("to_dmodel", H, D)
	if err != nil {
		return nil, err
	}

	layers := make([]encoderLayer, arch.NumLayers)
	for i := range layers {
		layers[i], err = loadEncoderLayer(arch, ts, fmt.Sprintf("transformer.layers.%d", i))
		if err != nil {
			return nil, err
		}
	}

	score, err := ts.linear("attn_pool.score", D, 1)
	if err != nil {
		return nil, err
	}

	return &Encoder{
		arch:     arch,
		gru:      gru{hidden: H, wih: wih, whh: whh, bih: bih, bhh: bhh},
		toDModel: toD,
		layers:   layers,
		pool:     attnPool{score: score},
	}, nil
}

func loadEncoderLayer(arch Architecture, ts *tensorSet, prefix string) (encoderLayer, error) {
	D, FF := arch.DModel, arch.FeedForward

	inProj, err := ts.matrix(prefix+".self_attn.in_proj_weight", 3*D, D)
	if err != nil {
		return encoderLayer{}, err
	}
	inBias, err := ts.vector(prefix+".self_attn.in_proj_bias", 3*D)
	if err != nil {
		return encoderLayer{}, err
	}
	outProj, err := ts.linear(prefix+".self_attn.out_proj", D, D)
	if err != nil {
		return encoderLayer{}, err
	}
	l1, err := ts.linear(prefix+".linear1", D, FF)
	if err != nil {
		return encoderLayer{}, err
	}
	l2, err := ts.linear(prefix+".linear2", FF, D)
	if err != nil {
		return encoderLayer{}, err
	}
	n1, err := ts.layerNorm(prefix+".norm1", D, arch.LayerNormEps)
	if err != nil {
		return encoderLayer{}, err
	}
	n2, err := ts.layerNorm(prefix+".norm2", D, arch.LayerNormEps)
	if err != nil {
		return encoderLayer{}, err
	}

	return encoderLayer{
		attn: attention{
			heads:   arch.NumHeads,
			inProj:  linear{w: inProj, b: inBias},
			outProj: outProj,
		},
		linear1: l1,
		linear2: l2,
		norm1:   n1,
		norm2:   n2,
	}, nil
}

// Encode runs the GRU, the projection to model width, the encoder stack and
// the attention pool. values, mask and delta must share shape T x NumFeatures.
func (e *Encoder) Encode(values features.Matrix, mask features.BoolMatrix, delta features.Matrix) (Encoding, error) {
	F := e.arch.NumFeatures
	T := values.Rows
	if T == 0 {
		return Encoding{}, fmt.Errorf("%w: empty input", ErrShapeMismatch)
	}
	if values.Cols != F || mask.Rows != T || mask.Cols != F || delta.Rows != T || delta.Cols != F {
		return Encoding{}, fmt.Errorf("%w: inputs %dx%d, %dx%d, %dx%d; expected %dx%d",
			ErrShapeMismatch, values.Rows, values.Cols, mask.Rows, mask.Cols, delta.Rows, delta.Cols, T, F)
	}

	x := mat.NewDense(T, 3*F, nil)
	valid := make([]bool, T)
	for t := 0; t < T; t++ {
		row := x.RawRowView(t)
		for j := 0; j < F; j++ {
			row[j] = float64(values.At(t, j))
			if mask.At(t, j) {
				row[F+j] = 1
				valid[t] = true
			}
			row[2*F+j] = float64(delta.At(t, j))
		}
	}

	// With nothing observed anywhere, attend over every step rather than none.
	if !anyTrue(valid) {
		for t := range valid {
			valid[t] = true
		}
	}

	z := e.toDModel.forward(e.gru.forward(x))
	for _, layer := range e.layers {
		z = layer.forward(z, valid)
	}
	pooled, weights := e.pool.forward(z, valid)

	return Encoding{Pooled: pooled, Attention: weights, Valid: valid}, nil
}

func anyTrue(v []bool) bool {
	for _, b := range v {
		if b {
			return true
		}
	}
	return false
}
