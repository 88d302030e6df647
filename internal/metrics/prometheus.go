package metrics

import (
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	InferenceDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sepsis_risk_inference_duration_seconds",
			Help:    "Pipeline duration per prediction in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"window"},
	)

	PredictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sepsis_risk_predictions_total",
			Help: "Total number of predictions by outcome",
		},
		[]string{"status"},
	)

	PipelineErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sepsis_risk_pipeline_errors_total",
			Help: "Pipeline failures by stage",
		},
		[]string{"stage"},
	)

	SequenceLength = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sepsis_risk_sequence_length",
			Help:    "Number of hourly records per prediction",
			Buckets: []float64{1, 6, 12, 24, 48, 96, 192, 500, 1000, 2000},
		},
	)

	SepsisProbability = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sepsis_risk_sepsis_probability",
			Help:    "Distribution of predicted sepsis probabilities",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sepsis_risk_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sepsis_risk_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)

	RecordsStored = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sepsis_risk_records_stored_total",
			Help: "Hourly records persisted by source",
		},
		[]string{"source"},
	)

	MQTTMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sepsis_risk_mqtt_messages_total",
			Help: "Bedside feed messages by outcome",
		},
		[]string{"outcome"},
	)

	StreamSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sepsis_risk_stream_sessions",
			Help: "Open websocket streaming sessions",
		},
	)

	ArtifactFeatures = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sepsis_risk_artifact_features",
			Help: "Feature count of the loaded artifact bundle",
		},
	)

	CircuitState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sepsis_risk_circuit_state",
			Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"name"},
	)
)

var registerOnce sync.Once

func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(InferenceDuration)
		prometheus.MustRegister(PredictionsTotal)
		prometheus.MustRegister(PipelineErrors)
		prometheus.MustRegister(SequenceLength)
		prometheus.MustRegister(SepsisProbability)
		prometheus.MustRegister(CacheHits)
		prometheus.MustRegister(CacheMisses)
		prometheus.MustRegister(RecordsStored)
		prometheus.MustRegister(MQTTMessages)
		prometheus.MustRegister(StreamSessions)
		prometheus.MustRegister(ArtifactFeatures)
		prometheus.MustRegister(CircuitState)
	})
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
