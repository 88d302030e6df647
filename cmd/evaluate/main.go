// Command evaluate scores the loaded model against labeled stays, read either
// from a JSON dataset file or from the stays stored in SQLite.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/sepsis-risk/backend/internal/artifacts"
	"github.com/sepsis-risk/backend/internal/evaluation"
	"github.com/sepsis-risk/backend/internal/features"
	"github.com/sepsis-risk/backend/internal/predictor"
	"github.com/sepsis-risk/backend/internal/storage/sqlite"
	"github.com/sepsis-risk/backend/pkg/config"
	appLogger "github.com/sepsis-risk/backend/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "config file; defaults to the server search path")
	datasetPath := flag.String("dataset", "", "JSON dataset file; when empty, stored stays are used")
	limit := flag.Int("limit", 1000, "maximum number of stored stays")
	window := flag.Int("window", 6, "prediction window in hours for stored stays")
	asJSON := flag.Bool("json", false, "print the report as JSON")
	flag.Parse()

	if err := appLogger.Init("info", "console", "stderr"); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.LoadFile(*configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		appLogger.Fatal("Failed to load config", zap.Error(err))
	}

	schema := features.Canonical()
	bundle, err := artifacts.Load(cfg.Artifacts.Dir, artifacts.Files{
		InputScaler:  cfg.Artifacts.InputScaler,
		OutputScaler: cfg.Artifacts.OutputScaler,
		GlobalMean:   cfg.Artifacts.GlobalMean,
		Weights:      cfg.Artifacts.Weights,
	}, schema)
	if err != nil {
		appLogger.Fatal("Failed to load model artifacts", zap.Error(err))
	}

	engine, err := predictor.New(bundle, schema, cfg.Model.Architecture(schema.Len()))
	if err != nil {
		appLogger.Fatal("Failed to build inference engine", zap.Error(err))
	}

	ctx := context.Background()

	var dataset *evaluation.Dataset
	if *datasetPath != "" {
		data, err := os.ReadFile(*datasetPath)
		if err != nil {
			appLogger.Fatal("Failed to read dataset", zap.String("path", *datasetPath), zap.Error(err))
		}
		dataset, err = evaluation.LoadDatasetFromJSON(data)
		if err != nil {
			appLogger.Fatal("Failed to parse dataset", zap.Error(err))
		}
	} else {
		store, err := sqlite.NewClient(cfg.SQLite.Path)
		if err != nil {
			appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
		}
		defer store.Close()

		dataset, err = evaluation.DatasetFromStore(ctx, store, *limit, cfg.Inference.MaxSequenceLength, *window)
		if err != nil {
			appLogger.Fatal("Failed to load stored stays", zap.Error(err))
		}
	}

	evaluator := evaluation.NewEvaluator(engine, cfg.Inference.SepsisThreshold)
	report, err := evaluator.RunDatasetEvaluation(ctx, dataset)
	if err != nil {
		appLogger.Fatal("Evaluation failed", zap.Error(err))
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			appLogger.Fatal("Failed to write report", zap.Error(err))
		}
		return
	}
	fmt.Print(evaluation.GenerateReport(report))
}
