package artifacts

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"

	"github.com/sepsis-risk/backend/internal/calibration"
	"github.com/sepsis-risk/backend/internal/features"
	"github.com/sepsis-risk/backend/internal/model"
	"github.com/sepsis-risk/backend/internal/scaler"
	"github.com/sepsis-risk/backend/pkg/utils"
)

var (
	ErrArtifactLoad         = errors.New("artifact load failure")
	ErrFeatureCountMismatch = errors.New("feature count mismatch")
)

// Files names the four artifacts inside a bundle directory.
type Files struct {
	InputScaler  string `mapstructure:"inputScaler"`
	OutputScaler string `mapstructure:"outputScaler"`
	GlobalMean   string `mapstructure:"globalMean"`
	Weights      string `mapstructure:"weights"`
}

func DefaultFiles() Files {
	return Files{
		InputScaler:  "scaler_x.json",
		OutputScaler: "scaler_y.json",
		GlobalMean:   "global_mean.json",
		Weights:      "weights.json",
	}
}

type scalerFile struct {
	FeatureNames []string  `json:"feature_names,omitempty"`
	Mean         []float64 `json:"mean"`
	Scale        []float64 `json:"scale"`
}

type meanFile struct {
	FeatureNames []string  `json:"feature_names,omitempty"`
	Mean         []float64 `json:"mean"`
}

type weightsFile struct {
	Tensors map[string]model.Tensor `json:"tensors"`
}

// Bundle is everything inference needs, loaded once and read-only afterwards.
type Bundle struct {
	FeatureNames []string
	InputScaler  *scaler.Scaler
	OutputScaler *scaler.Scaler
	GlobalMean   []float64
	Tensors      map[string]model.Tensor
	// Version is a content hash of the artifact files.
	Version string
}

// Load reads a bundle from dir and checks it against schema. Output scaler
// width is checked later against the model architecture.
func Load(dir string, files Files, schema features.Schema) (*Bundle, error) {
	var (
		sx  scalerFile
		sy  scalerFile
		gm  meanFile
		w   weightsFile
		raw []byte
	)

	for _, item := range []struct {
		name string
		dst  any
	}{
		{files.InputScaler, &sx},
		{files.OutputScaler, &sy},
		{files.GlobalMean, &gm},
		{files.Weights, &w},
	} {
		data, err := readJSON(filepath.Join(dir, item.name), item.dst)
		if err != nil {
			return nil, err
		}
		raw = append(raw, data...)
	}

	if err := checkFeatures(files.InputScaler, sx.FeatureNames, len(sx.Mean), schema); err != nil {
		return nil, err
	}
	if err := checkFeatures(files.GlobalMean, gm.FeatureNames, len(gm.Mean), schema); err != nil {
		return nil, err
	}
	if len(sy.FeatureNames) > 0 && !slices.Equal(sy.FeatureNames, calibration.RegressionOrder) {
		return nil, fmt.Errorf("%w: %s target names do not match %v", ErrFeatureCountMismatch, files.OutputScaler, calibration.RegressionOrder)
	}

	in, err := scaler.New(sx.Mean, sx.Scale)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrArtifactLoad, files.InputScaler, err)
	}
	out, err := scaler.New(sy.Mean, sy.Scale)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrArtifactLoad, files.OutputScaler, err)
	}
	if len(w.Tensors) == 0 {
		return nil, fmt.Errorf("%w: %s: no tensors", ErrArtifactLoad, files.Weights)
	}

	return &Bundle{
		FeatureNames: schema.Names(),
		InputScaler:  in,
		OutputScaler: out,
		GlobalMean:   gm.Mean,
		Tensors:      w.Tensors,
		Version:      utils.HashBytes(raw),
	}, nil
}

func readJSON(path string, dst any) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrArtifactLoad, err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return nil, fmt.Errorf("%w: failed to parse %s: %w", ErrArtifactLoad, path, err)
	}
	return data, nil
}

func checkFeatures(file string, names []string, n int, schema features.Schema) error {
	if n != schema.Len() {
		return fmt.Errorf("%w: %s has %d features, expected %d", ErrFeatureCountMismatch, file, n, schema.Len())
	}
	if len(names) > 0 && !schema.Equal(names) {
		return fmt.Errorf("%w: %s feature names do not match the canonical ordering", ErrFeatureCountMismatch, file)
	}
	return nil
}

// Save writes b to dir in the format Load reads.
func Save(dir string, files Files, b *Bundle) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create bundle directory: %w", err)
	}

	var outNames []string
	if b.OutputScaler.Len() == len(calibration.RegressionOrder) {
		outNames = calibration.RegressionOrder
	}

	items := []struct {
		name string
		v    any
	}{
		{files.InputScaler, scalerFile{FeatureNames: b.FeatureNames, Mean: b.InputScaler.Mean(), Scale: b.InputScaler.Scale()}},
		{files.OutputScaler, scalerFile{FeatureNames: outNames, Mean: b.OutputScaler.Mean(), Scale: b.OutputScaler.Scale()}},
		{files.GlobalMean, meanFile{FeatureNames: b.FeatureNames, Mean: b.GlobalMean}},
		{files.Weights, weightsFile{Tensors: b.Tensors}},
	}
	for _, item := range items {
		data, err := json.Marshal(item.v)
		if err != nil {
			return fmt.Errorf("failed to encode %s: %w", item.name, err)
		}
		if err := os.WriteFile(filepath.Join(dir, item.name), data, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", item.name, err)
		}
	}
	return nil
}

// TensorNames lists the tensors of b in sorted order.
func (b *Bundle) TensorNames() []string {
	names := make([]string, 0, len(b.Tensors))
	for name := range b.Tensors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
