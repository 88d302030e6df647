package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/sepsis-risk/backend/internal/features"
	"github.com/sepsis-risk/backend/internal/metrics"
	"github.com/sepsis-risk/backend/internal/service"
	"github.com/sepsis-risk/backend/pkg/logger"
)

const source = "mqtt"

var (
	ErrInvalidTopic = errors.New("topic does not carry a stay id")
	ErrEmptyPayload = errors.New("empty record payload")
)

type Recorder interface {
	AddRecord(ctx context.Context, stayID int64, rec features.Record, source string) (int, error)
	PredictStay(ctx context.Context, stayID int64, windowHours int, source string) (*service.Prediction, error)
}

type Publisher interface {
	Publish(topic string, payload []byte) error
}

// Envelope is published on the risk topic after every stored record.
type Envelope struct {
	StayID     int64               `json:"stay_id"`
	Hour       int                 `json:"hr"`
	Prediction *service.Prediction `json:"prediction"`
}

// Processor turns bedside hourly records into stored rows and fresh risk
// predictions.
type Processor struct {
	recorder    Recorder
	publisher   Publisher
	recordTopic string
	riskTopic   string
	window      int
}

func NewProcessor(recorder Recorder, publisher Publisher, recordTopic, riskTopic string, window int) *Processor {
	return &Processor{
		recorder:    recorder,
		publisher:   publisher,
		recordTopic: recordTopic,
		riskTopic:   riskTopic,
		window:      window,
	}
}

// HandleMessage stores the record carried by payload, predicts over the
// stay and publishes the result. Failures are counted and logged.
func (p *Processor) HandleMessage(ctx context.Context, topic string, payload []byte) error {
	err := p.handle(ctx, topic, payload)
	if err != nil {
		logger.Warn("Failed to process bedside message", zap.String("topic", topic), zap.Error(err))
	}
	return err
}

func (p *Processor) handle(ctx context.Context, topic string, payload []byte) error {
	stayID, err := StayFromTopic(p.recordTopic, topic)
	if err != nil {
		metrics.MQTTMessages.WithLabelValues("invalid_topic").Inc()
		return err
	}

	var rec features.Record
	if err := json.Unmarshal(payload, &rec); err != nil {
		metrics.MQTTMessages.WithLabelValues("invalid_payload").Inc()
		return fmt.Errorf("failed to decode record for stay %d: %w", stayID, err)
	}
	if rec == nil {
		metrics.MQTTMessages.WithLabelValues("invalid_payload").Inc()
		return fmt.Errorf("%w: stay %d", ErrEmptyPayload, stayID)
	}

	hr, err := p.recorder.AddRecord(ctx, stayID, rec, source)
	if err != nil {
		metrics.MQTTMessages.WithLabelValues("store_failed").Inc()
		return fmt.Errorf("failed to store record for stay %d: %w", stayID, err)
	}

	prediction, err := p.recorder.PredictStay(ctx, stayID, p.window, source)
	if err != nil {
		metrics.MQTTMessages.WithLabelValues("predict_failed").Inc()
		return fmt.Errorf("failed to predict stay %d: %w", stayID, err)
	}

	data, err := json.Marshal(Envelope{StayID: stayID, Hour: hr, Prediction: prediction})
	if err != nil {
		metrics.MQTTMessages.WithLabelValues("publish_failed").Inc()
		return fmt.Errorf("failed to marshal risk envelope: %w", err)
	}

	riskTopic := RiskTopic(p.riskTopic, stayID)
	if err := p.publisher.Publish(riskTopic, data); err != nil {
		metrics.MQTTMessages.WithLabelValues("publish_failed").Inc()
		return fmt.Errorf("failed to publish to %s: %w", riskTopic, err)
	}

	metrics.MQTTMessages.WithLabelValues("published").Inc()
	logger.Debug("Published bedside risk",
		zap.Int64("stay_id", stayID),
		zap.Int("hr", hr),
		zap.Float64("sepsis", prediction.Prediction.Sepsis),
	)
	return nil
}

// StayFromTopic reads the stay id at the position of the single-level
// wildcard in pattern, e.g. pattern "icu/stays/+/hours" and topic
// "icu/stays/42/hours" give 42.
func StayFromTopic(pattern, topic string) (int64, error) {
	want := strings.Split(pattern, "/")
	got := strings.Split(topic, "/")
	if len(want) != len(got) {
		return 0, fmt.Errorf("%w: %s", ErrInvalidTopic, topic)
	}

	var stayID int64
	found := false
	for i, seg := range want {
		if seg != "+" {
			if seg != got[i] {
				return 0, fmt.Errorf("%w: %s", ErrInvalidTopic, topic)
			}
			continue
		}
		if found {
			continue
		}
		id, err := strconv.ParseInt(got[i], 10, 64)
		if err != nil || id <= 0 {
			return 0, fmt.Errorf("%w: %s", ErrInvalidTopic, topic)
		}
		stayID = id
		found = true
	}

	if !found {
		return 0, fmt.Errorf("%w: %s", ErrInvalidTopic, topic)
	}
	return stayID, nil
}

// RiskTopic formats the publish topic for a stay. A pattern without a verb
// gets the stay id appended as a final level.
func RiskTopic(pattern string, stayID int64) string {
	if strings.Contains(pattern, "%d") {
		return fmt.Sprintf(pattern, stayID)
	}
	return strings.TrimSuffix(pattern, "/") + "/" + strconv.FormatInt(stayID, 10)
}
