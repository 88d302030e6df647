// Package modeltest builds deterministic synthetic weights for tests and
// local bundles.
package modeltest

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/sepsis-risk/backend/internal/artifacts"
	"github.com/sepsis-risk/backend/internal/features"
	"github.com/sepsis-risk/backend/internal/model"
	"github.com/sepsis-risk/backend/internal/scaler"
)

type tensorDef struct {
	name  string
	shape []int
	fanIn int
	norm  bool
}

// Specs lists every tensor the architecture needs, with its shape.
func Specs(arch model.Architecture) map[string][]int {
	out := make(map[string][]int)
	for _, s := range tensorDefs(arch) {
		out[s.name] = s.shape
	}
	return out
}

func tensorDefs(arch model.Architecture) []tensorDef {
	in, H, D, FF := arch.InputSize(), arch.HiddenSize, arch.DModel, arch.FeedForward

	lin := func(prefix string, fin, fout int) []tensorDef {
		return []tensorDef{
			{name: prefix + ".weight", shape: []int{fout, fin}, fanIn: fin},
			{name: prefix + ".bias", shape: []int{fout}, fanIn: fin},
		}
	}
	ln := func(prefix string, n int) []tensorDef {
		return []tensorDef{
			{name: prefix + ".weight", shape: []int{n}, norm: true},
			{name: prefix + ".bias", shape: []int{n}, fanIn: n},
		}
	}

	out := []tensorDef{
		{name: "gru.weight_ih_l0", shape: []int{3 * H, in}, fanIn: H},
		{name: "gru.weight_hh_l0", shape: []int{3 * H, H}, fanIn: H},
		{name: "gru.bias_ih_l0", shape: []int{3 * H}, fanIn: H},
		{name: "gru.bias_hh_l0", shape: []int{3 * H}, fanIn: H},
	}
	out = append(out, lin("to_dmodel", H, D)...)
	for i := 0; i < arch.NumLayers; i++ {
		p := fmt.Sprintf("transformer.layers.%d", i)
		out = append(out,
			tensorDef{name: p + ".self_attn.in_proj_weight", shape: []int{3 * D, D}, fanIn: D},
			tensorDef{name: p + ".self_attn.in_proj_bias", shape: []int{3 * D}, fanIn: D},
		)
		out = append(out, lin(p+".self_attn.out_proj", D, D)...)
		out = append(out, lin(p+".linear1", D, FF)...)
		out = append(out, lin(p+".linear2", FF, D)...)
		out = append(out, ln(p+".norm1", D)...)
		out = append(out, ln(p+".norm2", D)...)
	}
	out = append(out, lin("attn_pool.score", D, 1)...)
	for w := 0; w < model.NumWindows; w++ {
		out = append(out, lin(fmt.Sprintf("reg_heads.%d", w), D, arch.RegDim)...)
		out = append(out, lin(fmt.Sprintf("bin_heads.%d", w), D, arch.BinDim)...)
	}
	return out
}

// Tensors returns a full, valid weight set drawn uniformly in
// [-1/sqrt(fanIn), 1/sqrt(fanIn)]. The same seed always yields the same
// weights.
func Tensors(arch model.Architecture, seed int64) map[string]model.Tensor {
	rng := rand.New(rand.NewSource(seed))

	tensors := make(map[string]model.Tensor)
	for _, s := range tensorDefs(arch) {
		n := 1
		for _, d := range s.shape {
			n *= d
		}
		data := make([]float64, n)
		for i := range data {
			if s.norm {
				data[i] = 1 + 0.1*(2*rng.Float64()-1)
				continue
			}
			bound := 1 / math.Sqrt(float64(s.fanIn))
			data[i] = bound * (2*rng.Float64() - 1)
		}
		shape := make([]int, len(s.shape))
		copy(shape, s.shape)
		tensors[s.name] = model.Tensor{Shape: shape, Data: data}
	}
	return tensors
}

// Small is a compact architecture that keeps tests fast.
func Small(numFeatures int) model.Architecture {
	arch := model.DefaultArchitecture(numFeatures)
	arch.HiddenSize = 6
	arch.DModel = 8
	arch.NumHeads = 2
	arch.FeedForward = 16
	return arch
}

// Bundle returns a complete synthetic artifact bundle for schema.
func Bundle(schema features.Schema, arch model.Architecture, seed int64) (*artifacts.Bundle, error) {
	rng := rand.New(rand.NewSource(seed))

	F := schema.Len()
	inMean := make([]float64, F)
	inScale := make([]float64, F)
	globalMean := make([]float64, F)
	for i := 0; i < F; i++ {
		inMean[i] = 10 * rng.Float64()
		inScale[i] = 1 + rng.Float64()
		globalMean[i] = inMean[i] + (rng.Float64() - 0.5)
	}
	in, err := scaler.New(inMean, inScale)
	if err != nil {
		return nil, err
	}

	outMean := []float64{1, 1, 1, 1, 1, 1, 24, 72}
	outScale := []float64{1, 1, 1, 1, 1, 1, 12, 48}
	out, err := scaler.New(outMean[:arch.RegDim], outScale[:arch.RegDim])
	if err != nil {
		return nil, err
	}

	return &artifacts.Bundle{
		FeatureNames: schema.Names(),
		InputScaler:  in,
		OutputScaler: out,
		GlobalMean:   globalMean,
		Tensors:      Tensors(arch, seed),
		Version:      fmt.Sprintf("synthetic-%d", seed),
	}, nil
}
