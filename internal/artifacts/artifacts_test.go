package artifacts_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sepsis-risk/backend/internal/artifacts"
	"github.com/sepsis-risk/backend/internal/calibration"
	"github.com/sepsis-risk/backend/internal/features"
	"github.com/sepsis-risk/backend/internal/model/modeltest"
)

func testSchema(t *testing.T) features.Schema {
	t.Helper()
	s, err := features.NewSchema([]string{"age", "gender", "hr", "lactate_max"})
	require.NoError(t, err)
	return s
}

func writeBundle(t *testing.T, schema features.Schema) string {
	t.Helper()
	b, err := modeltest.Bundle(schema, modeltest.Small(schema.Len()), 5)
	require.NoError(t, err)

	dir := t.TempDir()
	require.NoError(t, artifacts.Save(dir, artifacts.DefaultFiles(), b))
	return dir
}

func TestSaveLoadRoundTrip(t *testing.T) {
	schema := testSchema(t)
	want, err := modeltest.Bundle(schema, modeltest.Small(schema.Len()), 5)
	require.NoError(t, err)

	dir := t.TempDir()
	require.NoError(t, artifacts.Save(dir, artifacts.DefaultFiles(), want))

	got, err := artifacts.Load(dir, artifacts.DefaultFiles(), schema)
	require.NoError(t, err)

	assert.Equal(t, schema.Names(), got.FeatureNames)
	assert.Equal(t, want.GlobalMean, got.GlobalMean)
	assert.Equal(t, want.InputScaler.Mean(), got.InputScaler.Mean())
	assert.Equal(t, want.OutputScaler.Scale(), got.OutputScaler.Scale())
	assert.Equal(t, want.TensorNames(), got.TensorNames())
	assert.Equal(t, want.Tensors["gru.weight_hh_l0"], got.Tensors["gru.weight_hh_l0"])
	assert.Len(t, got.Version, 32)

	again, err := artifacts.Load(dir, artifacts.DefaultFiles(), schema)
	require.NoError(t, err)
	assert.Equal(t, got.Version, again.Version)
}

func TestLoadMissingFile(t *testing.T) {
	schema := testSchema(t)
	dir := writeBundle(t, schema)
	require.NoError(t, os.Remove(filepath.Join(dir, "weights.json")))

	_, err := artifacts.Load(dir, artifacts.DefaultFiles(), schema)
	require.ErrorIs(t, err, artifacts.ErrArtifactLoad)
}

func TestLoadCorruptFile(t *testing.T) {
	schema := testSchema(t)
	dir := writeBundle(t, schema)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "scaler_y.json"), []byte("{not json"), 0o644))

	_, err := artifacts.Load(dir, artifacts.DefaultFiles(), schema)
	require.ErrorIs(t, err, artifacts.ErrArtifactLoad)
}

func TestLoadFeatureCountMismatch(t *testing.T) {
	schema := testSchema(t)
	dir := writeBundle(t, schema)

	wider, err := features.NewSchema([]string{"age", "gender", "hr", "lactate_max", "weight"})
	require.NoError(t, err)

	_, err = artifacts.Load(dir, artifacts.DefaultFiles(), wider)
	require.ErrorIs(t, err, artifacts.ErrFeatureCountMismatch)
}

func TestLoadFeatureOrderMismatch(t *testing.T) {
	schema := testSchema(t)
	dir := writeBundle(t, schema)

	reordered, err := features.NewSchema([]string{"gender", "age", "hr", "lactate_max"})
	require.NoError(t, err)

	_, err = artifacts.Load(dir, artifacts.DefaultFiles(), reordered)
	require.ErrorIs(t, err, artifacts.ErrFeatureCountMismatch)
}

func TestLoadScalerLengthMismatch(t *testing.T) {
	schema := testSchema(t)
	dir := writeBundle(t, schema)
	body := `{"mean":[1,2,3,4],"scale":[1,2,3]}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "scaler_x.json"), []byte(body), 0o644))

	_, err := artifacts.Load(dir, artifacts.DefaultFiles(), schema)
	require.ErrorIs(t, err, artifacts.ErrArtifactLoad)
}

func TestLoadOutputNameOrderMismatch(t *testing.T) {
	schema := testSchema(t)
	dir := writeBundle(t, schema)
	path := filepath.Join(dir, "scaler_y.json")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var sy map[string]any
	require.NoError(t, json.Unmarshal(data, &sy))

	names := append([]string(nil), calibration.RegressionOrder...)
	names[0], names[1] = names[1], names[0]
	sy["feature_names"] = names
	data, err = json.Marshal(sy)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	_, err = artifacts.Load(dir, artifacts.DefaultFiles(), schema)
	require.ErrorIs(t, err, artifacts.ErrFeatureCountMismatch)
}

func TestLoadOutputNamesOptional(t *testing.T) {
	schema := testSchema(t)
	dir := writeBundle(t, schema)
	body := `{"mean":[0,0,0,0,0,0,0,0],"scale":[1,1,1,1,1,1,1,1]}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "scaler_y.json"), []byte(body), 0o644))

	b, err := artifacts.Load(dir, artifacts.DefaultFiles(), schema)
	require.NoError(t, err)
	assert.Equal(t, 8, b.OutputScaler.Len())
}
