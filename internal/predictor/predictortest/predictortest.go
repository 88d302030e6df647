// Package predictortest provides small, fully wired engines for tests of
// packages that sit above the pipeline.
package predictortest

import (
	"testing"

	"github.com/sepsis-risk/backend/internal/features"
	"github.com/sepsis-risk/backend/internal/model/modeltest"
	"github.com/sepsis-risk/backend/internal/predictor"
)

// Features is the schema used by NewEngine.
var Features = []string{"age", "gender", "heart_rate_max", "hr", "lactate_max", "sepsis"}

// NewEngine returns an engine over Features with compact synthetic weights.
func NewEngine(t testing.TB) *predictor.Engine {
	t.Helper()
	return NewEngineFor(t, Features)
}

// NewEngineFor is NewEngine over the given feature names.
func NewEngineFor(t testing.TB, names []string) *predictor.Engine {
	t.Helper()

	schema, err := features.NewSchema(names)
	if err != nil {
		t.Fatalf("schema: %v", err)
	}
	arch := modeltest.Small(schema.Len())

	b, err := modeltest.Bundle(schema, arch, 3)
	if err != nil {
		t.Fatalf("bundle: %v", err)
	}
	e, err := predictor.New(b, schema, arch)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	return e
}
