package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/sepsis-risk/backend/internal/features"
	"github.com/sepsis-risk/backend/internal/storage/models"
	"github.com/sepsis-risk/backend/pkg/logger"
)

var ErrStayNotFound = errors.New("stay not found")

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	if err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS patient_hours (
		stay_id INTEGER NOT NULL,
		hr INTEGER NOT NULL,
		record TEXT NOT NULL,
		source TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (stay_id, hr)
	);
	CREATE INDEX IF NOT EXISTS idx_hours_created ON patient_hours(created_at);

	CREATE TABLE IF NOT EXISTS predictions (
		id TEXT PRIMARY KEY,
		stay_id INTEGER,
		window_hours INTEGER NOT NULL,
		sequence_length INTEGER NOT NULL,
		result TEXT NOT NULL,
		sepsis REAL NOT NULL,
		sepsis_label INTEGER NOT NULL,
		fod REAL NOT NULL,
		artifact_version TEXT,
		source TEXT NOT NULL,
		latency_ms INTEGER,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_predictions_stay ON predictions(stay_id, created_at);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

const upsertHourQuery = `
	INSERT INTO patient_hours (stay_id, hr, record, source, created_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(stay_id, hr) DO UPDATE SET
		record = excluded.record,
		source = excluded.source,
		created_at = excluded.created_at
`

// UpsertHour stores one hourly record, replacing any earlier record for the
// same stay and hour.
func (c *Client) UpsertHour(ctx context.Context, rec *models.HourRecord) error {
	data, err := json.Marshal(rec.Record)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	_, err = c.db.ExecContext(ctx, upsertHourQuery, rec.StayID, rec.Hour, string(data), rec.Source, rec.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to upsert hour record: %w", err)
	}

	logger.Debug("Hour record stored", zap.Int64("stay_id", rec.StayID), zap.Int("hr", rec.Hour))
	return nil
}

// UpsertHours stores a batch of hourly records in one transaction.
func (c *Client) UpsertHours(ctx context.Context, recs []*models.HourRecord) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, upsertHourQuery)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range recs {
		data, err := json.Marshal(rec.Record)
		if err != nil {
			return fmt.Errorf("failed to marshal record for stay %d hr %d: %w", rec.StayID, rec.Hour, err)
		}
		if _, err := stmt.ExecContext(ctx, rec.StayID, rec.Hour, string(data), rec.Source, rec.CreatedAt.Unix()); err != nil {
			return fmt.Errorf("failed to upsert hour record: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit hour records: %w", err)
	}

	logger.Debug("Hour records stored", zap.Int("count", len(recs)))
	return nil
}

// GetStayRecords returns the stored records of a stay ordered by hour. limit
// keeps only the most recent hours; 0 means all.
func (c *Client) GetStayRecords(ctx context.Context, stayID int64, limit int) ([]models.HourRecord, error) {
	query := `
		SELECT stay_id, hr, record, source, created_at FROM (
			SELECT stay_id, hr, record, source, created_at
			FROM patient_hours
			WHERE stay_id = ?
			ORDER BY hr DESC
			LIMIT ?
		) ORDER BY hr ASC
	`
	if limit <= 0 {
		limit = -1
	}

	rows, err := c.db.QueryContext(ctx, query, stayID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query stay records: %w", err)
	}
	defer rows.Close()

	var records []models.HourRecord
	for rows.Next() {
		var rec models.HourRecord
		var data string
		var createdAt int64

		if err := rows.Scan(&rec.StayID, &rec.Hour, &data, &rec.Source, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan stay record: %w", err)
		}
		rec.Record, err = decodeRecord(data)
		if err != nil {
			return nil, err
		}
		// stay_id is a model input; the row key is authoritative.
		rec.Record[features.StayIDField] = rec.StayID
		rec.CreatedAt = time.Unix(createdAt, 0)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate stay records: %w", err)
	}

	if len(records) == 0 {
		return nil, fmt.Errorf("%w: %d", ErrStayNotFound, stayID)
	}
	return records, nil
}

func decodeRecord(data string) (features.Record, error) {
	dec := json.NewDecoder(strings.NewReader(data))
	dec.UseNumber()

	var rec features.Record
	if err := dec.Decode(&rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal stored record: %w", err)
	}
	if rec == nil {
		rec = features.Record{}
	}
	return rec, nil
}

func (c *Client) ListStays(ctx context.Context, limit int) ([]models.StaySummary, error) {
	query := `
		SELECT stay_id, COUNT(*), MIN(hr), MAX(hr), MAX(created_at)
		FROM patient_hours
		GROUP BY stay_id
		ORDER BY MAX(created_at) DESC
		LIMIT ?
	`

	rows, err := c.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stays: %w", err)
	}
	defer rows.Close()

	var stays []models.StaySummary
	for rows.Next() {
		var s models.StaySummary
		var updatedAt int64
		if err := rows.Scan(&s.StayID, &s.Hours, &s.FirstHour, &s.LastHour, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan stay summary: %w", err)
		}
		s.UpdatedAt = time.Unix(updatedAt, 0)
		stays = append(stays, s)
	}
	return stays, rows.Err()
}

func (c *Client) DeleteStay(ctx context.Context, stayID int64) error {
	res, err := c.db.ExecContext(ctx, `DELETE FROM patient_hours WHERE stay_id = ?`, stayID)
	if err != nil {
		return fmt.Errorf("failed to delete stay: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %d", ErrStayNotFound, stayID)
	}
	return nil
}

func (c *Client) InsertPrediction(ctx context.Context, p *models.PredictionRecord) error {
	data, err := json.Marshal(p.Result)
	if err != nil {
		return fmt.Errorf("failed to marshal prediction: %w", err)
	}

	query := `
		INSERT INTO predictions (id, stay_id, window_hours, sequence_length, result, sepsis,
			sepsis_label, fod, artifact_version, source, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	var stayID any
	if p.StayID != 0 {
		stayID = p.StayID
	}

	_, err = c.db.ExecContext(ctx, query,
		p.ID,
		stayID,
		p.WindowHours,
		p.SequenceLength,
		string(data),
		p.Result.Sepsis,
		p.SepsisLabel,
		p.Result.FOD,
		p.ArtifactVersion,
		p.Source,
		p.LatencyMS,
		p.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert prediction: %w", err)
	}

	logger.Debug("Prediction recorded",
		zap.String("prediction_id", p.ID),
		zap.Int64("stay_id", p.StayID),
		zap.Float64("sepsis", p.Result.Sepsis),
	)
	return nil
}

func (c *Client) GetPredictionHistory(ctx context.Context, stayID int64, limit int) ([]models.PredictionRecord, error) {
	query := `
		SELECT id, stay_id, window_hours, sequence_length, result, sepsis_label,
			artifact_version, source, latency_ms, created_at
		FROM predictions
		WHERE stay_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`

	rows, err := c.db.QueryContext(ctx, query, stayID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query prediction history: %w", err)
	}
	defer rows.Close()

	var history []models.PredictionRecord
	for rows.Next() {
		var p models.PredictionRecord
		var result string
		var version sql.NullString
		var latency sql.NullInt64
		var createdAt int64

		err := rows.Scan(&p.ID, &p.StayID, &p.WindowHours, &p.SequenceLength, &result,
			&p.SepsisLabel, &version, &p.Source, &latency, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan prediction: %w", err)
		}
		if err := json.Unmarshal([]byte(result), &p.Result); err != nil {
			return nil, fmt.Errorf("failed to unmarshal prediction: %w", err)
		}
		p.ArtifactVersion = version.String
		p.LatencyMS = latency.Int64
		p.CreatedAt = time.Unix(createdAt, 0)
		history = append(history, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate prediction history: %w", err)
	}
	return history, nil
}
