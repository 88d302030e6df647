package model

import (
	"errors"
	"fmt"
)

var (
	ErrShapeMismatch    = errors.New("tensor shape mismatch")
	ErrMissingTensor    = errors.New("missing tensor")
	ErrUnexpectedTensor = errors.New("unexpected tensor")
	ErrInvalidArch      = errors.New("invalid architecture")
)

// Architecture fixes every dimension of the encoder and decoder. Weights are
// validated against it at load time.
type Architecture struct {
	NumFeatures  int     `mapstructure:"numFeatures" json:"num_features"`
	HiddenSize   int     `mapstructure:"hiddenSize" json:"hidden_size"`
	DModel       int     `mapstructure:"dModel" json:"d_model"`
	NumHeads     int     `mapstructure:"numHeads" json:"num_heads"`
	NumLayers    int     `mapstructure:"numLayers" json:"num_layers"`
	FeedForward  int     `mapstructure:"feedForward" json:"feed_forward"`
	RegDim       int     `mapstructure:"regDim" json:"reg_dim"`
	BinDim       int     `mapstructure:"binDim" json:"bin_dim"`
	LayerNormEps float64 `mapstructure:"layerNormEps" json:"layer_norm_eps"`
}

func DefaultArchitecture(numFeatures int) Architecture {
	return Architecture{
		NumFeatures:  numFeatures,
		HiddenSize:   64,
		DModel:       128,
		NumHeads:     4,
		NumLayers:    2,
		FeedForward:  2048,
		RegDim:       8,
		BinDim:       1,
		LayerNormEps: 1e-5,
	}
}

// InputSize is the per-step GRU input width: values, mask and delta side by side.
func (a Architecture) InputSize() int {
	return 3 * a.NumFeatures
}

func (a Architecture) Validate() error {
	positive := map[string]int{
		"numFeatures": a.NumFeatures,
		"hiddenSize":  a.HiddenSize,
		"dModel":      a.DModel,
		"numHeads":    a.NumHeads,
		"feedForward": a.FeedForward,
		"regDim":      a.RegDim,
	}
	for name, v := range positive {
		if v <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %d", ErrInvalidArch, name, v)
		}
	}
	if a.NumLayers < 0 {
		return fmt.Errorf("%w: numLayers must not be negative, got %d", ErrInvalidArch, a.NumLayers)
	}
	if a.DModel%a.NumHeads != 0 {
		return fmt.Errorf("%w: dModel %d is not divisible by numHeads %d", ErrInvalidArch, a.DModel, a.NumHeads)
	}
	if a.BinDim != 1 {
		return fmt.Errorf("%w: binDim must be 1, got %d", ErrInvalidArch, a.BinDim)
	}
	if a.LayerNormEps <= 0 {
		return fmt.Errorf("%w: layerNormEps must be positive", ErrInvalidArch)
	}
	return nil
}
