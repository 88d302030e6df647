package models

import (
	"time"

	"github.com/sepsis-risk/backend/internal/calibration"
	"github.com/sepsis-risk/backend/internal/features"
)

// HourRecord is one stored hourly observation of a stay.
type HourRecord struct {
	StayID    int64
	Hour      int
	Record    features.Record
	Source    string
	CreatedAt time.Time
}

// PredictionRecord is one served prediction, kept as history.
type PredictionRecord struct {
	ID              string
	StayID          int64
	WindowHours     int
	SequenceLength  int
	Result          calibration.Result
	SepsisLabel     int
	ArtifactVersion string
	Source          string
	LatencyMS       int64
	CreatedAt       time.Time
}

// StaySummary describes the stored records of one stay.
type StaySummary struct {
	StayID    int64
	Hours     int
	FirstHour int
	LastHour  int
	UpdatedAt time.Time
}
