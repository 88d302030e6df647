package model

import (
	"fmt"
	"strings"

	"github.com/sepsis-risk/backend/internal/features"
)

// Model is the loaded encoder and decoder. It is read-only after New and safe
// for concurrent use.
type Model struct {
	arch    Architecture
	encoder *Encoder
	decoder *Decoder
}

// New builds a model from named tensors. Every tensor the architecture needs
// must be present with the exact shape, and no unknown tensors are allowed
// apart from head aliases.
func New(arch Architecture, tensors map[string]Tensor) (*Model, error) {
	if err := arch.Validate(); err != nil {
		return nil, err
	}

	ts := newTensorSet(tensors)

	enc, err := loadEncoder(arch, ts)
	if err != nil {
		return nil, fmt.Errorf("failed to load encoder: %w", err)
	}
	dec, err := loadDecoder(arch, ts)
	if err != nil {
		return nil, fmt.Errorf("failed to load decoder: %w", err)
	}

	if extra := ts.unused(); len(extra) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnexpectedTensor, strings.Join(extra, ", "))
	}

	return &Model{arch: arch, encoder: enc, decoder: dec}, nil
}

func (m *Model) Arch() Architecture {
	return m.arch
}

func (m *Model) Encode(values features.Matrix, mask features.BoolMatrix, delta features.Matrix) (Encoding, error) {
	return m.encoder.Encode(values, mask, delta)
}

func (m *Model) Decode(pooled []float64, w Window) (Output, error) {
	if len(pooled) != m.arch.DModel {
		return Output{}, fmt.Errorf("%w: pooled vector has %d values, expected %d", ErrShapeMismatch, len(pooled), m.arch.DModel)
	}
	return m.decoder.Decode(pooled, w), nil
}
