// Command mkbundle writes a deterministic synthetic artifact bundle in the
// layout the API server loads. It is meant for local runs and smoke tests;
// the predictions it produces carry no clinical meaning.
package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/sepsis-risk/backend/internal/artifacts"
	"github.com/sepsis-risk/backend/internal/features"
	"github.com/sepsis-risk/backend/internal/model/modeltest"
	"github.com/sepsis-risk/backend/pkg/config"
	appLogger "github.com/sepsis-risk/backend/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "config file; defaults to the server search path")
	outDir := flag.String("out", "", "output directory; defaults to artifacts.dir")
	seed := flag.Int64("seed", 1, "weight seed")
	small := flag.Bool("small", false, "use a compact architecture instead of model.*")
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

	dir := cfg.Artifacts.Dir
	if *outDir != "" {
		dir = *outDir
	}

	schema := features.Canonical()
	arch := cfg.Model.Architecture(schema.Len())
	if *small {
		arch = modeltest.Small(schema.Len())
	}
	if err := arch.Validate(); err != nil {
		appLogger.Fatal("Invalid architecture", zap.Error(err))
	}

	bundle, err := modeltest.Bundle(schema, arch, *seed)
	if err != nil {
		appLogger.Fatal("Failed to build bundle", zap.Error(err))
	}

	files := artifacts.Files{
		InputScaler:  cfg.Artifacts.InputScaler,
		OutputScaler: cfg.Artifacts.OutputScaler,
		GlobalMean:   cfg.Artifacts.GlobalMean,
		Weights:      cfg.Artifacts.Weights,
	}
	if err := artifacts.Save(dir, files, bundle); err != nil {
		appLogger.Fatal("Failed to write bundle", zap.String("dir", dir), zap.Error(err))
	}

	appLogger.Info("Synthetic bundle written",
		zap.String("dir", dir),
		zap.Int64("seed", *seed),
		zap.Int("features", schema.Len()),
		zap.Int("hidden", arch.HiddenSize),
		zap.Int("d_model", arch.DModel),
		zap.Strings("tensors", bundle.TensorNames()),
	)
	if *small {
		appLogger.Warn("Compact architecture written; set model.* to match before serving",
			zap.Int("hiddenSize", arch.HiddenSize),
			zap.Int("dModel", arch.DModel),
			zap.Int("numHeads", arch.NumHeads),
			zap.Int("feedForward", arch.FeedForward),
		)
	}
}
