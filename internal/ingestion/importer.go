package ingestion

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sepsis-risk/backend/internal/features"
	"github.com/sepsis-risk/backend/internal/metrics"
	"github.com/sepsis-risk/backend/internal/storage/models"
	"github.com/sepsis-risk/backend/pkg/logger"
)

const (
	source           = "import"
	defaultBatchSize = 1000
	maxLineSize      = 4 << 20
)

var (
	ErrMissingColumn     = errors.New("dataset lacks a required column")
	ErrUnsupportedFormat = errors.New("unsupported dataset format")
	errInvalidRow        = errors.New("row needs a positive stay_id and a non-negative integer hr")
)

type Store interface {
	UpsertHours(ctx context.Context, recs []*models.HourRecord) error
	ListStays(ctx context.Context, limit int) ([]models.StaySummary, error)
}

type Summary struct {
	Rows     int `json:"rows"`
	Imported int `json:"imported"`
	Skipped  int `json:"skipped"`
	Stays    int `json:"stays"`
}

// Importer bulk-loads hourly stay records from CSV or JSON Lines datasets.
// Every row carries stay_id and hr; other columns become record fields.
type Importer struct {
	store     Store
	batchSize int
	now       func() time.Time
}

func NewImporter(store Store, batchSize int) *Importer {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &Importer{
		store:     store,
		batchSize: batchSize,
		now:       time.Now,
	}
}

// Seed imports path only when the store holds no stays yet. The second result
// reports whether an import ran.
func (im *Importer) Seed(ctx context.Context, path string) (*Summary, bool, error) {
	stays, err := im.store.ListStays(ctx, 1)
	if err != nil {
		return nil, false, fmt.Errorf("failed to check existing stays: %w", err)
	}
	if len(stays) > 0 {
		logger.Info("Store already holds stays, skipping seed", zap.String("path", path))
		return nil, false, nil
	}

	summary, err := im.ImportFile(ctx, path)
	if err != nil {
		return nil, false, err
	}
	return summary, true, nil
}

func (im *Importer) ImportFile(ctx context.Context, path string) (*Summary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset: %w", err)
	}
	defer f.Close()

	logger.Info("Importing dataset", zap.String("path", path))

	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return im.ImportCSV(ctx, f)
	case ".jsonl", ".ndjson":
		return im.ImportJSONL(ctx, f)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
	}
}

func (im *Importer) ImportCSV(ctx context.Context, r io.Reader) (*Summary, error) {
	reader := csv.NewReader(r)
	reader.ReuseRecord = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	columns := make([]string, len(header))
	for i, h := range header {
		columns[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
	}
	if !slices.Contains(columns, features.StayIDField) || !slices.Contains(columns, features.TimeField) {
		return nil, fmt.Errorf("%w: need %s and %s", ErrMissingColumn, features.StayIDField, features.TimeField)
	}

	b := im.newBatch()
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV row %d: %w", b.summary.Rows+1, err)
		}

		rec := make(features.Record, len(columns))
		for i, col := range columns {
			if i < len(row) {
				rec[col] = parseCell(row[i])
			} else {
				rec[col] = nil
			}
		}

		if err := b.add(ctx, rec); err != nil {
			return nil, err
		}
	}

	return b.finish(ctx)
}

func (im *Importer) ImportJSONL(ctx context.Context, r io.Reader) (*Summary, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	b := im.newBatch()
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var rec features.Record
		if err := json.Unmarshal([]byte(line), &rec); err != nil || rec == nil {
			b.summary.Rows++
			b.skip(errors.Join(errInvalidRow, err))
			continue
		}

		if err := b.add(ctx, rec); err != nil {
			return nil, err
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read JSON lines: %w", err)
	}

	return b.finish(ctx)
}

type batch struct {
	im      *Importer
	pending []*models.HourRecord
	stays   map[int64]struct{}
	summary Summary
	created time.Time
}

func (im *Importer) newBatch() *batch {
	return &batch{
		im:      im,
		pending: make([]*models.HourRecord, 0, im.batchSize),
		stays:   make(map[int64]struct{}),
		created: im.now().UTC(),
	}
}

func (b *batch) add(ctx context.Context, rec features.Record) error {
	b.summary.Rows++

	stayID, hr, ok := rowKey(rec)
	if !ok {
		b.skip(errInvalidRow)
		return nil
	}

	b.pending = append(b.pending, &models.HourRecord{
		StayID:    stayID,
		Hour:      hr,
		Record:    rec,
		Source:    source,
		CreatedAt: b.created,
	})
	b.stays[stayID] = struct{}{}

	if len(b.pending) >= b.im.batchSize {
		return b.flush(ctx)
	}
	return nil
}

func (b *batch) skip(err error) {
	b.summary.Skipped++
	logger.Debug("Skipping dataset row", zap.Int("row", b.summary.Rows), zap.Error(err))
}

func (b *batch) flush(ctx context.Context) error {
	if len(b.pending) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.im.store.UpsertHours(ctx, b.pending); err != nil {
		return fmt.Errorf("failed to store rows ending at %d: %w", b.summary.Rows, err)
	}

	b.summary.Imported += len(b.pending)
	metrics.RecordsStored.WithLabelValues(source).Add(float64(len(b.pending)))
	logger.Info("Imported records", zap.Int("total", b.summary.Imported))

	b.pending = b.pending[:0]
	return nil
}

func (b *batch) finish(ctx context.Context) (*Summary, error) {
	if err := b.flush(ctx); err != nil {
		return nil, err
	}
	b.summary.Stays = len(b.stays)

	logger.Info("Dataset import complete",
		zap.Int("rows", b.summary.Rows),
		zap.Int("imported", b.summary.Imported),
		zap.Int("skipped", b.summary.Skipped),
		zap.Int("stays", b.summary.Stays),
	)

	summary := b.summary
	return &summary, nil
}

func rowKey(rec features.Record) (int64, int, bool) {
	stay, ok := features.Float(rec[features.StayIDField])
	if !ok || stay <= 0 || stay != math.Trunc(stay) {
		return 0, 0, false
	}
	hr, ok := features.Float(rec[features.TimeField])
	if !ok || hr < 0 || hr != math.Trunc(hr) {
		return 0, 0, false
	}
	return int64(stay), int(hr), true
}

// parseCell maps a CSV cell to nil, a finite float64 or the trimmed string.
func parseCell(s string) any {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "", "na", "nan", "null", "none":
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return s
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return f
}
