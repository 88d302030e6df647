package evaluation

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sepsis-risk/backend/internal/calibration"
	"github.com/sepsis-risk/backend/internal/features"
	"github.com/sepsis-risk/backend/internal/model"
	"github.com/sepsis-risk/backend/internal/storage/models"
	"github.com/sepsis-risk/backend/internal/storage/sqlite"
)

// agePredictor scores a stay by the age on its last record.
type agePredictor struct {
	windows []model.Window
}

func (p *agePredictor) Predict(records []features.Record, w model.Window) (calibration.Result, error) {
	p.windows = append(p.windows, w)
	age, _ := features.Float(records[len(records)-1]["age"])
	return calibration.Result{Sepsis: age / 100, Respiration: 2}, nil
}

func item(id int64, age float64, labels features.Record) DatasetItem {
	last := features.Record{"hr": 1, "age": age}
	for k, v := range labels {
		last[k] = v
	}
	return DatasetItem{
		StayID:  id,
		Window:  12,
		Records: []features.Record{{"hr": 0, "age": age}, last},
	}
}

func TestRunDatasetEvaluation(t *testing.T) {
	p := &agePredictor{}
	e := NewEvaluator(p, 0.5)

	dataset := &Dataset{Items: []DatasetItem{
		item(1, 90, features.Record{"sepsis": 1, "respiration": 3}),
		item(2, 80, features.Record{"sepsis": 0, "respiration": 2}),
		item(3, 20, features.Record{"sepsis": 0}),
		item(4, 30, features.Record{"sepsis": 1}),
		item(5, 50, nil),
		{StayID: 6},
	}}

	report, err := e.RunDatasetEvaluation(context.Background(), dataset)
	require.NoError(t, err)

	assert.Equal(t, 6, report.TotalStays)
	assert.Equal(t, 4, report.Evaluated)
	assert.Equal(t, 2, report.Skipped)

	assert.Equal(t, 1, report.TruePositives)
	assert.Equal(t, 1, report.FalsePositives)
	assert.Equal(t, 1, report.TrueNegatives)
	assert.Equal(t, 1, report.FalseNegatives)
	assert.InDelta(t, 0.5, report.Accuracy, 1e-12)
	assert.InDelta(t, 0.5, report.Sensitivity, 1e-12)
	assert.InDelta(t, 0.5, report.Specificity, 1e-12)
	assert.InDelta(t, 0.295, report.Brier, 1e-12)

	require.True(t, report.HasAUROC)
	assert.InDelta(t, 0.75, report.AUROC, 1e-12)

	require.Contains(t, report.MAE, calibration.Respiration)
	assert.InDelta(t, 0.5, report.MAE[calibration.Respiration], 1e-12)
	assert.NotContains(t, report.MAE, calibration.Liver)

	for _, w := range p.windows {
		assert.Equal(t, model.Window12, w)
	}
}

func TestAUROCPerfectSeparation(t *testing.T) {
	e := NewEvaluator(&agePredictor{}, 0.5)

	report, err := e.RunDatasetEvaluation(context.Background(), &Dataset{Items: []DatasetItem{
		item(1, 10, features.Record{"sepsis": 0}),
		item(2, 95, features.Record{"sepsis": 1}),
		item(3, 40, features.Record{"sepsis": 0}),
		item(4, 70, features.Record{"sepsis": 1}),
	}})
	require.NoError(t, err)

	require.True(t, report.HasAUROC)
	assert.InDelta(t, 1.0, report.AUROC, 1e-12)
	assert.InDelta(t, 1.0, report.Accuracy, 1e-12)
}

func TestSingleClassHasNoAUROC(t *testing.T) {
	e := NewEvaluator(&agePredictor{}, 0.5)

	report, err := e.RunDatasetEvaluation(context.Background(), &Dataset{Items: []DatasetItem{
		item(1, 10, features.Record{"sepsis": 0}),
		item(2, 30, features.Record{"sepsis": 0}),
	}})
	require.NoError(t, err)

	assert.False(t, report.HasAUROC)
	assert.Equal(t, 0.0, report.Sensitivity)
	assert.InDelta(t, 1.0, report.Specificity, 1e-12)
	assert.Contains(t, GenerateReport(report), "n/a (single class)")
}

func TestEmptyDataset(t *testing.T) {
	report, err := NewEvaluator(&agePredictor{}, 0.5).RunDatasetEvaluation(context.Background(), &Dataset{})
	require.NoError(t, err)
	assert.Equal(t, 0, report.Evaluated)
	assert.Equal(t, 0.0, report.Brier)
}

func TestCancelledEvaluation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewEvaluator(&agePredictor{}, 0.5).RunDatasetEvaluation(ctx, &Dataset{Items: []DatasetItem{
		item(1, 10, features.Record{"sepsis": 0}),
	}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLoadDatasetFromJSON(t *testing.T) {
	dataset, err := LoadDatasetFromJSON([]byte(`{"items":[{"stay_id":7,"window":24,"records":[{"hr":0,"sepsis":1}]}]}`))
	require.NoError(t, err)
	require.Len(t, dataset.Items, 1)
	assert.Equal(t, int64(7), dataset.Items[0].StayID)
	assert.Equal(t, 24, dataset.Items[0].Window)

	_, err = LoadDatasetFromJSON([]byte(`{"items":`))
	assert.Error(t, err)
}

func TestDatasetFromStore(t *testing.T) {
	store, err := sqlite.NewClient(filepath.Join(t.TempDir(), "eval.db"))
	require.NoError(t, err)
	require.NoError(t, store.InitSchema())
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	for stay, hours := range map[int64]int{11: 3, 12: 2} {
		for hr := 0; hr < hours; hr++ {
			require.NoError(t, store.UpsertHour(ctx, &models.HourRecord{
				StayID:    stay,
				Hour:      hr,
				Record:    features.Record{"hr": hr, "sepsis": 0},
				Source:    "test",
				CreatedAt: now,
			}))
		}
	}

	dataset, err := DatasetFromStore(ctx, store, 10, 2, 6)
	require.NoError(t, err)
	require.Len(t, dataset.Items, 2)

	lengths := map[int64]int{}
	for _, it := range dataset.Items {
		assert.Equal(t, 6, it.Window)
		lengths[it.StayID] = len(it.Records)
		for _, rec := range it.Records {
			assert.Equal(t, it.StayID, rec[features.StayIDField])
		}
	}
	assert.Equal(t, map[int64]int{11: 2, 12: 2}, lengths)
}

func TestGenerateReport(t *testing.T) {
	out := GenerateReport(&Report{
		TotalStays: 3,
		Evaluated:  2,
		Skipped:    1,
		Threshold:  0.5,
		AUROC:      0.8,
		HasAUROC:   true,
		MAE:        map[string]float64{calibration.Renal: 0.25},
	})

	assert.Contains(t, out, "Stays: 3 (evaluated 2, skipped 1)")
	assert.Contains(t, out, "- AUROC: 0.800")
	assert.Contains(t, out, "- renal: 0.250")
}
