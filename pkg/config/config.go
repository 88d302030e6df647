package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/sepsis-risk/backend/internal/model"
)

type Config struct {
	Server         ServerConfig
	Logging        LoggingConfig
	Artifacts      ArtifactsConfig
	Model          ModelConfig
	Inference      InferenceConfig
	SQLite         SQLiteConfig
	Redis          RedisConfig
	MQTT           MQTTConfig
	RateLimit      RateLimitConfig
	CircuitBreaker CircuitBreakerConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  int
	WriteTimeout int
	BodyLimit    int
	AllowOrigins string
	Environment  string
}

func (s ServerConfig) IsDevelopment() bool {
	return s.Environment == "development"
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

type ArtifactsConfig struct {
	Dir          string
	InputScaler  string
	OutputScaler string
	GlobalMean   string
	Weights      string
}

type ModelConfig struct {
	HiddenSize   int
	DModel       int
	NumHeads     int
	NumLayers    int
	FeedForward  int
	RegDim       int
	BinDim       int
	LayerNormEps float64
}

// Architecture returns the model shape for a schema of numFeatures columns.
func (m ModelConfig) Architecture(numFeatures int) model.Architecture {
	return model.Architecture{
		NumFeatures:  numFeatures,
		HiddenSize:   m.HiddenSize,
		DModel:       m.DModel,
		NumHeads:     m.NumHeads,
		NumLayers:    m.NumLayers,
		FeedForward:  m.FeedForward,
		RegDim:       m.RegDim,
		BinDim:       m.BinDim,
		LayerNormEps: m.LayerNormEps,
	}
}

type InferenceConfig struct {
	MaxSequenceLength int
	SepsisThreshold   float64
	HistoryLimit      int
}

type SQLiteConfig struct {
	Path            string
	SeedPath        string
	ImportBatchSize int
}

type RedisConfig struct {
	Enabled    bool
	Host       string
	Port       int
	Password   string
	DB         int
	TTLSeconds int
}

func (r RedisConfig) TTL() time.Duration {
	return time.Duration(r.TTLSeconds) * time.Second
}

type MQTTConfig struct {
	Enabled        bool
	Broker         string
	ClientID       string
	Username       string
	Password       string
	RecordTopic    string
	RiskTopic      string
	QoS            int
	ConnectTimeout int
	Window         int
}

type RateLimitConfig struct {
	Enabled           bool
	RequestsPerMinute int
	BurstSize         int
}

type CircuitBreakerConfig struct {
	FailureThreshold uint32
	TimeoutSec       int
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/sepsis-risk")

	return load(v)
}

// LoadFile reads configuration from an explicit path.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	v.SetEnvPrefix("SEPSIS_RISK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) validate() error {
	if c.Inference.MaxSequenceLength <= 0 {
		return fmt.Errorf("inference.maxSequenceLength must be positive")
	}
	if c.Inference.SepsisThreshold <= 0 || c.Inference.SepsisThreshold >= 1 {
		return fmt.Errorf("inference.sepsisThreshold must be in (0, 1)")
	}
	if c.Artifacts.Dir == "" {
		return fmt.Errorf("artifacts.dir is required")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)
	v.SetDefault("server.bodyLimit", 10485760)
	v.SetDefault("server.allowOrigins", "*")
	v.SetDefault("server.environment", "production")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.outputPath", "stdout")

	v.SetDefault("artifacts.dir", "./model")
	v.SetDefault("artifacts.inputScaler", "scaler_x.json")
	v.SetDefault("artifacts.outputScaler", "scaler_y.json")
	v.SetDefault("artifacts.globalMean", "global_mean.json")
	v.SetDefault("artifacts.weights", "weights.json")

	v.SetDefault("model.hiddenSize", 64)
	v.SetDefault("model.dModel", 128)
	v.SetDefault("model.numHeads", 4)
	v.SetDefault("model.numLayers", 2)
	v.SetDefault("model.feedForward", 2048)
	v.SetDefault("model.regDim", 8)
	v.SetDefault("model.binDim", 1)
	v.SetDefault("model.layerNormEps", 1e-5)

	v.SetDefault("inference.maxSequenceLength", 2000)
	v.SetDefault("inference.sepsisThreshold", 0.5)
	v.SetDefault("inference.historyLimit", 20)

	v.SetDefault("sqlite.path", "./data/sepsis.db")
	v.SetDefault("sqlite.seedPath", "")
	v.SetDefault("sqlite.importBatchSize", 1000)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttlSeconds", 300)

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.clientId", "sepsis-risk")
	v.SetDefault("mqtt.recordTopic", "icu/stays/+/hours")
	v.SetDefault("mqtt.riskTopic", "icu/stays/%d/risk")
	v.SetDefault("mqtt.qos", 1)
	v.SetDefault("mqtt.connectTimeout", 10)
	v.SetDefault("mqtt.window", 6)

	v.SetDefault("rateLimit.enabled", true)
	v.SetDefault("rateLimit.requestsPerMinute", 600)
	v.SetDefault("rateLimit.burstSize", 50)

	v.SetDefault("circuitBreaker.failureThreshold", 5)
	v.SetDefault("circuitBreaker.timeoutSec", 30)
}
