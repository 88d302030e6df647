package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	rediscache "github.com/sepsis-risk/backend/internal/cache/redis"
	"github.com/sepsis-risk/backend/internal/calibration"
	"github.com/sepsis-risk/backend/internal/features"
	"github.com/sepsis-risk/backend/internal/metrics"
	"github.com/sepsis-risk/backend/internal/model"
	"github.com/sepsis-risk/backend/internal/predictor"
	"github.com/sepsis-risk/backend/internal/storage/models"
	"github.com/sepsis-risk/backend/pkg/circuitbreaker"
	"github.com/sepsis-risk/backend/pkg/logger"
	"github.com/sepsis-risk/backend/pkg/utils"
)

var (
	ErrSequenceTooLong = errors.New("sequence exceeds maximum length")
	ErrInvalidHour     = errors.New("record needs a non-negative integer hr")
)

// Engine is the inference pipeline.
type Engine interface {
	Explain(records []features.Record, w model.Window) (predictor.Explanation, error)
	Version() string
}

type Cache interface {
	GetPrediction(ctx context.Context, key string, prediction any) (bool, error)
	SetPrediction(ctx context.Context, key string, prediction any, ttl time.Duration) error
	InvalidateStay(ctx context.Context, stayID int64) (int, error)
	Ping(ctx context.Context) error
}

type Store interface {
	UpsertHour(ctx context.Context, rec *models.HourRecord) error
	GetStayRecords(ctx context.Context, stayID int64, limit int) ([]models.HourRecord, error)
	ListStays(ctx context.Context, limit int) ([]models.StaySummary, error)
	DeleteStay(ctx context.Context, stayID int64) error
	InsertPrediction(ctx context.Context, p *models.PredictionRecord) error
	GetPredictionHistory(ctx context.Context, stayID int64, limit int) ([]models.PredictionRecord, error)
	Ping(ctx context.Context) error
}

type Options struct {
	MaxSequenceLength int
	SepsisThreshold   float64
	CacheTTL          time.Duration
}

// Request asks for one prediction. StayID is optional for ad-hoc requests.
type Request struct {
	StayID      int64
	Records     []features.Record
	WindowHours int
	Source      string
}

type Prediction struct {
	ID              string             `json:"id"`
	StayID          int64              `json:"stay_id,omitempty"`
	WindowHours     int                `json:"window_hours"`
	Prediction      calibration.Result `json:"prediction"`
	SepsisLabel     int                `json:"sepsis_label"`
	SequenceLength  int                `json:"sequence_length"`
	ArtifactVersion string             `json:"artifact_version"`
	Cached          bool               `json:"cached"`
	LatencyMS       float64            `json:"latency_ms"`
	CreatedAt       time.Time          `json:"created_at"`
}

type Explanation struct {
	Prediction
	Times     []float64 `json:"times"`
	Attention []float64 `json:"attention"`
	Valid     []bool    `json:"valid"`
}

type Service struct {
	engine  Engine
	store   Store
	cache   Cache
	breaker *circuitbreaker.CircuitBreaker
	opts    Options
	now     func() time.Time
}

// New wires the service. cache and breaker may be nil to disable caching.
func New(engine Engine, store Store, cache Cache, breaker *circuitbreaker.CircuitBreaker, opts Options) *Service {
	if opts.SepsisThreshold == 0 {
		opts.SepsisThreshold = 0.5
	}
	if cache != nil && breaker == nil {
		breaker = circuitbreaker.NewCircuitBreaker("prediction-cache", circuitbreaker.Config{
			Logger: logger.GetLogger(),
		})
	}
	return &Service{
		engine:  engine,
		store:   store,
		cache:   cache,
		breaker: breaker,
		opts:    opts,
		now:     time.Now,
	}
}

// window resolves a selector in hours. Omitted (0) and unknown selectors
// fall back to 6h.
func (s *Service) window(hours int) model.Window {
	return model.WindowFromHours(hours)
}

func (s *Service) validate(records []features.Record) error {
	if s.opts.MaxSequenceLength > 0 && len(records) > s.opts.MaxSequenceLength {
		return fmt.Errorf("%w: %d records, limit %d", ErrSequenceTooLong, len(records), s.opts.MaxSequenceLength)
	}
	return nil
}

// Predict serves a prediction from cache when possible, otherwise runs the
// pipeline and records the result in the history store.
func (s *Service) Predict(ctx context.Context, req Request) (*Prediction, error) {
	if err := s.validate(req.Records); err != nil {
		metrics.PredictionsTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}

	w := s.window(req.WindowHours)
	key, keyErr := s.cacheKey(req, w)
	if keyErr != nil {
		logger.Warn("Failed to build cache key", zap.Error(keyErr))
	}

	if key != "" {
		if cached, ok := s.lookup(ctx, key); ok {
			cached.Cached = true
			metrics.PredictionsTotal.WithLabelValues("cached").Inc()
			return cached, nil
		}
	}

	ex, err := s.run(req, w)
	if err != nil {
		return nil, err
	}
	p := ex.Prediction

	s.record(ctx, req, &p)
	if key != "" {
		s.remember(ctx, key, &p)
	}

	return &p, nil
}

// Explain always runs the pipeline and returns the pooling weights.
func (s *Service) Explain(ctx context.Context, req Request) (*Explanation, error) {
	if err := s.validate(req.Records); err != nil {
		metrics.PredictionsTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}
	ex, err := s.run(req, s.window(req.WindowHours))
	if err != nil {
		return nil, err
	}
	return ex, nil
}

func (s *Service) run(req Request, w model.Window) (*Explanation, error) {
	start := s.now()
	out, err := s.engine.Explain(req.Records, w)
	elapsed := s.now().Sub(start)

	if err != nil {
		stage := "unknown"
		var se *predictor.StageError
		if errors.As(err, &se) {
			stage = se.Stage
		}
		metrics.PipelineErrors.WithLabelValues(stage).Inc()
		metrics.PredictionsTotal.WithLabelValues("error").Inc()
		logger.Warn("Prediction failed",
			zap.Int64("stay_id", req.StayID),
			zap.String("stage", stage),
			zap.Error(err),
		)
		return nil, err
	}

	metrics.InferenceDuration.WithLabelValues(out.Window.String()).Observe(elapsed.Seconds())
	metrics.SequenceLength.Observe(float64(len(req.Records)))
	metrics.SepsisProbability.Observe(out.Result.Sepsis)
	metrics.PredictionsTotal.WithLabelValues("success").Inc()

	p := Prediction{
		ID:              uuid.New().String(),
		StayID:          req.StayID,
		WindowHours:     out.Window.Hours(),
		Prediction:      out.Result,
		SepsisLabel:     out.Result.SepsisLabel(s.opts.SepsisThreshold),
		SequenceLength:  len(req.Records),
		ArtifactVersion: s.engine.Version(),
		LatencyMS:       float64(elapsed.Microseconds()) / 1000,
		CreatedAt:       start.UTC(),
	}

	logger.Info("Prediction served",
		zap.String("prediction_id", p.ID),
		zap.Int64("stay_id", p.StayID),
		zap.Int("window_hours", p.WindowHours),
		zap.Int("sequence_length", p.SequenceLength),
		zap.Float64("sepsis", p.Prediction.Sepsis),
		zap.Float64("fod", p.Prediction.FOD),
		zap.Duration("latency", elapsed),
	)

	return &Explanation{
		Prediction: p,
		Times:      out.Times,
		Attention:  out.Attention,
		Valid:      out.Valid,
	}, nil
}

func (s *Service) cacheKey(req Request, w model.Window) (string, error) {
	if s.cache == nil {
		return "", nil
	}
	hash, err := utils.HashJSON(struct {
		Version string            `json:"v"`
		Window  int               `json:"w"`
		Records []features.Record `json:"r"`
	}{s.engine.Version(), w.Hours(), req.Records})
	if err != nil {
		return "", err
	}
	return rediscache.PredictionKey(req.StayID, hash), nil
}

func (s *Service) lookup(ctx context.Context, key string) (*Prediction, bool) {
	var p Prediction
	hit, err := circuitbreaker.ExecuteWithResult(ctx, s.breaker, func() (bool, error) {
		return s.cache.GetPrediction(ctx, key, &p)
	})
	if err != nil {
		logger.Warn("Prediction cache lookup failed", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	if !hit {
		metrics.CacheMisses.WithLabelValues("prediction").Inc()
		return nil, false
	}
	metrics.CacheHits.WithLabelValues("prediction").Inc()
	return &p, true
}

func (s *Service) remember(ctx context.Context, key string, p *Prediction) {
	err := s.breaker.Execute(ctx, func() error {
		return s.cache.SetPrediction(ctx, key, p, s.opts.CacheTTL)
	})
	if err != nil {
		logger.Warn("Failed to cache prediction", zap.String("key", key), zap.Error(err))
	}
}

func (s *Service) record(ctx context.Context, req Request, p *Prediction) {
	if s.store == nil {
		return
	}
	source := req.Source
	if source == "" {
		source = "api"
	}
	err := s.store.InsertPrediction(ctx, &models.PredictionRecord{
		ID:              p.ID,
		StayID:          p.StayID,
		WindowHours:     p.WindowHours,
		SequenceLength:  p.SequenceLength,
		Result:          p.Prediction,
		SepsisLabel:     p.SepsisLabel,
		ArtifactVersion: p.ArtifactVersion,
		Source:          source,
		LatencyMS:       int64(math.Round(p.LatencyMS)),
		CreatedAt:       p.CreatedAt,
	})
	if err != nil {
		logger.Warn("Failed to record prediction history", zap.String("prediction_id", p.ID), zap.Error(err))
	}
}

// Hour extracts the integer hour index of a record.
func Hour(rec features.Record) (int, error) {
	f, ok := features.Float(rec[features.TimeField])
	if !ok || f < 0 || f != math.Trunc(f) {
		return 0, ErrInvalidHour
	}
	return int(f), nil
}

// AddRecord stores one hourly record for a stay and drops its cached
// predictions.
func (s *Service) AddRecord(ctx context.Context, stayID int64, rec features.Record, source string) (int, error) {
	hr, err := Hour(rec)
	if err != nil {
		return 0, err
	}

	err = s.store.UpsertHour(ctx, &models.HourRecord{
		StayID:    stayID,
		Hour:      hr,
		Record:    rec,
		Source:    source,
		CreatedAt: s.now().UTC(),
	})
	if err != nil {
		return 0, err
	}
	metrics.RecordsStored.WithLabelValues(source).Inc()

	if s.cache != nil {
		err := s.breaker.Execute(ctx, func() error {
			_, err := s.cache.InvalidateStay(ctx, stayID)
			return err
		})
		if err != nil {
			logger.Warn("Failed to invalidate stay cache", zap.Int64("stay_id", stayID), zap.Error(err))
		}
	}
	return hr, nil
}

func (s *Service) StayRecords(ctx context.Context, stayID int64) ([]features.Record, error) {
	hours, err := s.store.GetStayRecords(ctx, stayID, s.opts.MaxSequenceLength)
	if err != nil {
		return nil, err
	}
	records := make([]features.Record, len(hours))
	for i, h := range hours {
		records[i] = h.Record
	}
	return records, nil
}

// PredictStay predicts over the most recent stored records of a stay.
func (s *Service) PredictStay(ctx context.Context, stayID int64, windowHours int, source string) (*Prediction, error) {
	records, err := s.StayRecords(ctx, stayID)
	if err != nil {
		return nil, err
	}
	return s.Predict(ctx, Request{StayID: stayID, Records: records, WindowHours: windowHours, Source: source})
}

func (s *Service) History(ctx context.Context, stayID int64, limit int) ([]models.PredictionRecord, error) {
	return s.store.GetPredictionHistory(ctx, stayID, limit)
}

func (s *Service) ListStays(ctx context.Context, limit int) ([]models.StaySummary, error) {
	return s.store.ListStays(ctx, limit)
}

func (s *Service) DeleteStay(ctx context.Context, stayID int64) error {
	if err := s.store.DeleteStay(ctx, stayID); err != nil {
		return err
	}
	if s.cache != nil {
		if _, err := s.cache.InvalidateStay(ctx, stayID); err != nil {
			logger.Warn("Failed to invalidate stay cache", zap.Int64("stay_id", stayID), zap.Error(err))
		}
	}
	return nil
}

// Ready reports whether the backing stores answer.
func (s *Service) Ready(ctx context.Context) error {
	if err := s.store.Ping(ctx); err != nil {
		return fmt.Errorf("store unavailable: %w", err)
	}
	if s.cache != nil && s.breaker.State() != circuitbreaker.StateOpen {
		if err := s.cache.Ping(ctx); err != nil {
			return fmt.Errorf("cache unavailable: %w", err)
		}
	}
	return nil
}
