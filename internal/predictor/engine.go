package predictor

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/sepsis-risk/backend/internal/artifacts"
	"github.com/sepsis-risk/backend/internal/calibration"
	"github.com/sepsis-risk/backend/internal/features"
	"github.com/sepsis-risk/backend/internal/impute"
	"github.com/sepsis-risk/backend/internal/model"
	"github.com/sepsis-risk/backend/internal/scaler"
	"github.com/sepsis-risk/backend/pkg/logger"
)

const (
	StageLoad      = "load"
	StageFrame     = "frame"
	StageImpute    = "impute"
	StageScale     = "scale"
	StageEncode    = "encode"
	StageDecode    = "decode"
	StageCalibrate = "calibrate"
)

// StageError names the pipeline stage that failed.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func stageErr(stage string, err error) error {
	return &StageError{Stage: stage, Err: err}
}

// Engine runs the inference pipeline. It holds only read-only state and is
// safe for concurrent use.
type Engine struct {
	schema     features.Schema
	model      *model.Model
	input      *scaler.Scaler
	output     *scaler.Scaler
	globalMean []float64
	version    string
}

// Explanation is a prediction together with the pooling weights that
// produced it.
type Explanation struct {
	Result    calibration.Result
	Window    model.Window
	Times     []float64
	Attention []float64
	Valid     []bool
}

// New validates every dimension of the bundle against schema and arch.
func New(b *artifacts.Bundle, schema features.Schema, arch model.Architecture) (*Engine, error) {
	F := schema.Len()

	if arch.NumFeatures != F {
		return nil, stageErr(StageLoad, fmt.Errorf("%w: architecture expects %d features, schema has %d",
			artifacts.ErrFeatureCountMismatch, arch.NumFeatures, F))
	}
	if b.InputScaler == nil || b.InputScaler.Len() != F {
		return nil, stageErr(StageLoad, fmt.Errorf("%w: input scaler does not cover %d features",
			artifacts.ErrFeatureCountMismatch, F))
	}
	if len(b.GlobalMean) != F {
		return nil, stageErr(StageLoad, fmt.Errorf("%w: %d global means for %d features",
			impute.ErrMeanLength, len(b.GlobalMean), F))
	}
	if arch.RegDim != len(calibration.RegressionOrder) {
		return nil, stageErr(StageLoad, fmt.Errorf("%w: regression width %d, calibration expects %d",
			model.ErrInvalidArch, arch.RegDim, len(calibration.RegressionOrder)))
	}
	if b.OutputScaler == nil || b.OutputScaler.Len() != arch.RegDim {
		return nil, stageErr(StageLoad, fmt.Errorf("%w: output scaler does not cover %d regression outputs",
			artifacts.ErrFeatureCountMismatch, arch.RegDim))
	}

	m, err := model.New(arch, b.Tensors)
	if err != nil {
		return nil, stageErr(StageLoad, err)
	}

	mean := make([]float64, F)
	copy(mean, b.GlobalMean)

	return &Engine{
		schema:     schema,
		model:      m,
		input:      b.InputScaler,
		output:     b.OutputScaler,
		globalMean: mean,
		version:    b.Version,
	}, nil
}

// Version identifies the loaded artifacts.
func (e *Engine) Version() string {
	return e.version
}

func (e *Engine) Schema() features.Schema {
	return e.schema
}

// Predict runs the full pipeline over records for window w.
func (e *Engine) Predict(records []features.Record, w model.Window) (calibration.Result, error) {
	ex, err := e.Explain(records, w)
	if err != nil {
		return calibration.Result{}, err
	}
	return ex.Result, nil
}

// Explain runs the pipeline and keeps the per-step attention weights.
func (e *Engine) Explain(records []features.Record, w model.Window) (Explanation, error) {
	frame, err := features.Build(records, e.schema)
	if err != nil {
		return Explanation{}, stageErr(StageFrame, err)
	}
	if frame.SyntheticTimes {
		logger.Debug("hr missing from records, using row index as time",
			zap.Int("rows", frame.Len()),
		)
	}

	triple, err := impute.Decay(frame, e.globalMean)
	if err != nil {
		return Explanation{}, stageErr(StageImpute, err)
	}

	scaled, err := e.input.Transform(triple.Values)
	if err != nil {
		return Explanation{}, stageErr(StageScale, err)
	}

	enc, err := e.model.Encode(scaled, triple.Mask, triple.Delta)
	if err != nil {
		return Explanation{}, stageErr(StageEncode, err)
	}

	out, err := e.model.Decode(enc.Pooled, w)
	if err != nil {
		return Explanation{}, stageErr(StageDecode, err)
	}

	result, err := calibration.Calibrate(out.Reg, out.Logit, e.output)
	if err != nil {
		return Explanation{}, stageErr(StageCalibrate, err)
	}

	return Explanation{
		Result:    result,
		Window:    out.Window,
		Times:     frame.Times,
		Attention: enc.Attention,
		Valid:     enc.Valid,
	}, nil
}
