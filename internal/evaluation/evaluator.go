package evaluation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/integrate"
	"gonum.org/v1/gonum/stat"

	"github.com/sepsis-risk/backend/internal/calibration"
	"github.com/sepsis-risk/backend/internal/features"
	"github.com/sepsis-risk/backend/internal/model"
	"github.com/sepsis-risk/backend/internal/storage/models"
	"github.com/sepsis-risk/backend/pkg/logger"
)

var ErrNoLabel = errors.New("last record carries no sepsis label")

type Predictor interface {
	Predict(records []features.Record, w model.Window) (calibration.Result, error)
}

type Store interface {
	ListStays(ctx context.Context, limit int) ([]models.StaySummary, error)
	GetStayRecords(ctx context.Context, stayID int64, limit int) ([]models.HourRecord, error)
}

// Evaluator scores the model against the label columns carried by the last
// record of each stay. The labels never reach the model.
type Evaluator struct {
	predictor Predictor
	threshold float64
}

type Dataset struct {
	Items []DatasetItem `json:"items"`
}

type DatasetItem struct {
	StayID  int64             `json:"stay_id"`
	Window  int               `json:"window"`
	Records []features.Record `json:"records"`
}

type Report struct {
	TotalStays     int                `json:"total_stays"`
	Evaluated      int                `json:"evaluated"`
	Skipped        int                `json:"skipped"`
	Threshold      float64            `json:"threshold"`
	TruePositives  int                `json:"true_positives"`
	FalsePositives int                `json:"false_positives"`
	TrueNegatives  int                `json:"true_negatives"`
	FalseNegatives int                `json:"false_negatives"`
	Accuracy       float64            `json:"accuracy"`
	Sensitivity    float64            `json:"sensitivity"`
	Specificity    float64            `json:"specificity"`
	Brier          float64            `json:"brier"`
	AUROC          float64            `json:"auroc"`
	HasAUROC       bool               `json:"has_auroc"`
	MAE            map[string]float64 `json:"mae"`
}

type outcome struct {
	stayID int64
	label  bool
	result calibration.Result
	truth  map[string]float64
}

func NewEvaluator(predictor Predictor, threshold float64) *Evaluator {
	return &Evaluator{
		predictor: predictor,
		threshold: threshold,
	}
}

func (e *Evaluator) evaluateItem(item DatasetItem) (*outcome, error) {
	if len(item.Records) == 0 {
		return nil, features.ErrEmptySequence
	}

	last := item.Records[len(item.Records)-1]
	label, ok := features.Float(last[calibration.Sepsis])
	if !ok {
		return nil, ErrNoLabel
	}

	truth := make(map[string]float64, len(calibration.RegressionOrder))
	for _, key := range calibration.RegressionOrder {
		if v, ok := features.Float(last[key]); ok {
			truth[key] = v
		}
	}

	result, err := e.predictor.Predict(item.Records, model.WindowFromHours(item.Window))
	if err != nil {
		return nil, fmt.Errorf("failed to predict stay %d: %w", item.StayID, err)
	}

	return &outcome{
		stayID: item.StayID,
		label:  label >= 0.5,
		result: result,
		truth:  truth,
	}, nil
}

func (e *Evaluator) RunDatasetEvaluation(ctx context.Context, dataset *Dataset) (*Report, error) {
	logger.Info("Running dataset evaluation", zap.Int("items", len(dataset.Items)))

	report := &Report{
		TotalStays: len(dataset.Items),
		Threshold:  e.threshold,
		MAE:        make(map[string]float64),
	}

	outcomes := make([]*outcome, 0, len(dataset.Items))
	for i, item := range dataset.Items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		o, err := e.evaluateItem(item)
		if err != nil {
			logger.Warn("Skipping stay",
				zap.Int("index", i),
				zap.Int64("stay_id", item.StayID),
				zap.Error(err),
			)
			report.Skipped++
			continue
		}
		outcomes = append(outcomes, o)
	}

	e.summarize(report, outcomes)

	logger.Info("Dataset evaluation completed",
		zap.Int("evaluated", report.Evaluated),
		zap.Int("skipped", report.Skipped),
		zap.Float64("brier", report.Brier),
		zap.Float64("accuracy", report.Accuracy),
	)

	return report, nil
}

func (e *Evaluator) summarize(report *Report, outcomes []*outcome) {
	report.Evaluated = len(outcomes)
	if len(outcomes) == 0 {
		return
	}

	probs := make([]float64, len(outcomes))
	sqErr := make([]float64, len(outcomes))
	absErr := make(map[string][]float64)
	positives := 0

	for i, o := range outcomes {
		p := o.result.Sepsis
		probs[i] = p

		y := 0.0
		if o.label {
			y = 1
			positives++
		}
		sqErr[i] = (p - y) * (p - y)

		predicted := o.result.SepsisLabel(e.threshold) == 1
		switch {
		case predicted && o.label:
			report.TruePositives++
		case predicted && !o.label:
			report.FalsePositives++
		case !predicted && o.label:
			report.FalseNegatives++
		default:
			report.TrueNegatives++
		}

		values := o.result.Map()
		for key, want := range o.truth {
			absErr[key] = append(absErr[key], math.Abs(values[key]-want))
		}
	}

	report.Brier = stat.Mean(sqErr, nil)
	report.Accuracy = ratio(report.TruePositives+report.TrueNegatives, len(outcomes))
	report.Sensitivity = ratio(report.TruePositives, report.TruePositives+report.FalseNegatives)
	report.Specificity = ratio(report.TrueNegatives, report.TrueNegatives+report.FalsePositives)

	for key, errs := range absErr {
		report.MAE[key] = stat.Mean(errs, nil)
	}

	if positives > 0 && positives < len(outcomes) {
		report.AUROC = auroc(outcomes)
		report.HasAUROC = true
	}
}

func auroc(outcomes []*outcome) float64 {
	sorted := make([]*outcome, len(outcomes))
	copy(sorted, outcomes)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].result.Sepsis < sorted[j].result.Sepsis
	})

	y := make([]float64, len(sorted))
	classes := make([]bool, len(sorted))
	for i, o := range sorted {
		y[i] = o.result.Sepsis
		classes[i] = o.label
	}

	tpr, fpr, _ := stat.ROC(nil, y, classes, nil)
	return integrate.Trapezoidal(fpr, tpr)
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

func LoadDatasetFromJSON(data []byte) (*Dataset, error) {
	var dataset Dataset
	if err := json.Unmarshal(data, &dataset); err != nil {
		return nil, fmt.Errorf("failed to unmarshal dataset: %w", err)
	}

	return &dataset, nil
}

// DatasetFromStore builds a dataset from up to limit stored stays, using the
// most recent maxRecords hours of each.
func DatasetFromStore(ctx context.Context, store Store, limit, maxRecords, window int) (*Dataset, error) {
	stays, err := store.ListStays(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stays: %w", err)
	}

	dataset := &Dataset{Items: make([]DatasetItem, 0, len(stays))}
	for _, s := range stays {
		hours, err := store.GetStayRecords(ctx, s.StayID, maxRecords)
		if err != nil {
			return nil, fmt.Errorf("failed to load stay %d: %w", s.StayID, err)
		}

		records := make([]features.Record, len(hours))
		for i, h := range hours {
			records[i] = h.Record
		}
		dataset.Items = append(dataset.Items, DatasetItem{
			StayID:  s.StayID,
			Window:  window,
			Records: records,
		})
	}

	return dataset, nil
}

func GenerateReport(report *Report) string {
	var b strings.Builder

	fmt.Fprintf(&b, `
Evaluation Report
=================

Stays: %d (evaluated %d, skipped %d)
Threshold: %.2f

Sepsis classification:
- True positives: %d
- False positives: %d
- True negatives: %d
- False negatives: %d
- Accuracy: %.3f
- Sensitivity: %.3f
- Specificity: %.3f
- Brier score: %.4f
`,
		report.TotalStays, report.Evaluated, report.Skipped,
		report.Threshold,
		report.TruePositives, report.FalsePositives, report.TrueNegatives, report.FalseNegatives,
		report.Accuracy, report.Sensitivity, report.Specificity,
		report.Brier,
	)

	if report.HasAUROC {
		fmt.Fprintf(&b, "- AUROC: %.3f\n", report.AUROC)
	} else {
		b.WriteString("- AUROC: n/a (single class)\n")
	}

	if len(report.MAE) > 0 {
		b.WriteString("\nMean absolute error:\n")
		for _, key := range calibration.RegressionOrder {
			if mae, ok := report.MAE[key]; ok {
				fmt.Fprintf(&b, "- %s: %.3f\n", key, mae)
			}
		}
	}

	return b.String()
}
