// Command import bulk-loads hourly stay records from a CSV or JSON Lines
// dataset into the SQLite store.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/sepsis-risk/backend/internal/ingestion"
	"github.com/sepsis-risk/backend/internal/storage/sqlite"
	"github.com/sepsis-risk/backend/pkg/config"
	appLogger "github.com/sepsis-risk/backend/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "config file; defaults to the server search path")
	file := flag.String("file", "", "dataset file (.csv, .jsonl or .ndjson)")
	batch := flag.Int("batch", 0, "rows per transaction; defaults to sqlite.importBatchSize")
	flag.Parse()

	if *file == "" {
		fmt.Println("You must specify a dataset with -file")
		os.Exit(2)
	}

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

	store, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer store.Close()

	if err := store.InitSchema(); err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	batchSize := cfg.SQLite.ImportBatchSize
	if *batch > 0 {
		batchSize = *batch
	}

	summary, err := ingestion.NewImporter(store, batchSize).ImportFile(context.Background(), *file)
	if err != nil {
		appLogger.Fatal("Import failed", zap.String("file", *file), zap.Error(err))
	}

	fmt.Printf("Imported %d of %d rows across %d stays (%d skipped)\n",
		summary.Imported, summary.Rows, summary.Stays, summary.Skipped)
}
