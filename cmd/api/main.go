package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/sepsis-risk/backend/internal/api"
	"github.com/sepsis-risk/backend/internal/artifacts"
	rediscache "github.com/sepsis-risk/backend/internal/cache/redis"
	"github.com/sepsis-risk/backend/internal/features"
	"github.com/sepsis-risk/backend/internal/ingestion"
	"github.com/sepsis-risk/backend/internal/ingestion/mqtt"
	"github.com/sepsis-risk/backend/internal/metrics"
	"github.com/sepsis-risk/backend/internal/middleware/ratelimit"
	"github.com/sepsis-risk/backend/internal/predictor"
	"github.com/sepsis-risk/backend/internal/service"
	"github.com/sepsis-risk/backend/internal/storage/sqlite"
	"github.com/sepsis-risk/backend/pkg/circuitbreaker"
	"github.com/sepsis-risk/backend/pkg/config"
	appLogger "github.com/sepsis-risk/backend/pkg/logger"
	"github.com/sepsis-risk/backend/pkg/retry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting Sepsis Risk API Server")
	metrics.Init()

	schema := features.Canonical()
	arch := cfg.Model.Architecture(schema.Len())

	bundle, err := artifacts.Load(cfg.Artifacts.Dir, artifacts.Files{
		InputScaler:  cfg.Artifacts.InputScaler,
		OutputScaler: cfg.Artifacts.OutputScaler,
		GlobalMean:   cfg.Artifacts.GlobalMean,
		Weights:      cfg.Artifacts.Weights,
	}, schema)
	if err != nil {
		appLogger.Fatal("Failed to load model artifacts", zap.String("dir", cfg.Artifacts.Dir), zap.Error(err))
	}

	engine, err := predictor.New(bundle, schema, arch)
	if err != nil {
		appLogger.Fatal("Failed to build inference engine", zap.Error(err))
	}
	metrics.ArtifactFeatures.Set(float64(schema.Len()))
	appLogger.Info("Model artifacts loaded",
		zap.String("version", engine.Version()),
		zap.Int("features", schema.Len()),
		zap.Int("tensors", len(bundle.Tensors)),
	)

	sqliteClient, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer sqliteClient.Close()

	err = sqliteClient.InitSchema()
	if err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	if cfg.SQLite.SeedPath != "" {
		importer := ingestion.NewImporter(sqliteClient, cfg.SQLite.ImportBatchSize)
		_, _, err := importer.Seed(context.Background(), cfg.SQLite.SeedPath)
		if err != nil {
			appLogger.Warn("Failed to seed stays", zap.String("path", cfg.SQLite.SeedPath), zap.Error(err))
		}
	}

	var cache service.Cache
	var breaker *circuitbreaker.CircuitBreaker
	if cfg.Redis.Enabled {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		redisClient, err := retry.DoWithResult(ctx, retry.ConnectConfig(appLogger.GetLogger()), func() (*rediscache.Client, error) {
			return rediscache.NewClient(ctx, cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		})
		cancel()
		if err != nil {
			appLogger.Warn("Redis unavailable, prediction cache disabled", zap.Error(err))
		} else {
			defer redisClient.Close()
			cache = redisClient
			breaker = circuitbreaker.NewCircuitBreaker("redis", circuitbreaker.Config{
				FailureThreshold: cfg.CircuitBreaker.FailureThreshold,
				Timeout:          time.Duration(cfg.CircuitBreaker.TimeoutSec) * time.Second,
				Logger:           appLogger.GetLogger(),
				OnStateChange: func(name string, from, to circuitbreaker.State) {
					metrics.CircuitState.WithLabelValues(name).Set(float64(to))
				},
			})
			metrics.CircuitState.WithLabelValues(breaker.Name()).Set(float64(breaker.State()))
		}
	}

	svc := service.New(engine, sqliteClient, cache, breaker, service.Options{
		MaxSequenceLength: cfg.Inference.MaxSequenceLength,
		SepsisThreshold:   cfg.Inference.SepsisThreshold,
		CacheTTL:          cfg.Redis.TTL(),
	})

	var limiter *ratelimit.RateLimiter
	if cfg.RateLimit.Enabled {
		limiter = ratelimit.New(ratelimit.Config{
			MaxRequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
			BurstSize:            cfg.RateLimit.BurstSize,
			Logger:               appLogger.GetLogger(),
		})
		defer limiter.Stop()
	}

	app := api.NewApp(svc, api.Options{
		ReadTimeout:       time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout:      time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:         cfg.Server.BodyLimit,
		AllowOrigins:      cfg.Server.AllowOrigins,
		IsDevelopment:     cfg.Server.IsDevelopment(),
		AccessLog:         true,
		MaxSequenceLength: cfg.Inference.MaxSequenceLength,
		HistoryLimit:      cfg.Inference.HistoryLimit,
		ArtifactVersion:   engine.Version(),
		RateLimiter:       limiter,
	})

	if cfg.MQTT.Enabled {
		mqttClient := mqtt.NewClient(mqtt.Config{
			Broker:         cfg.MQTT.Broker,
			ClientID:       cfg.MQTT.ClientID,
			Username:       cfg.MQTT.Username,
			Password:       cfg.MQTT.Password,
			RecordTopic:    cfg.MQTT.RecordTopic,
			QoS:            byte(cfg.MQTT.QoS),
			ConnectTimeout: time.Duration(cfg.MQTT.ConnectTimeout) * time.Second,
		})
		processor := mqtt.NewProcessor(svc, mqttClient, cfg.MQTT.RecordTopic, cfg.MQTT.RiskTopic, cfg.MQTT.Window)

		err = mqttClient.Connect(context.Background(), processor.HandleMessage)
		if err != nil {
			appLogger.Error("Failed to connect to MQTT broker, bedside ingest disabled", zap.Error(err))
		} else {
			defer mqttClient.Close()
		}
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		appLogger.Error("Server shutdown failed", zap.Error(err))
	}
	appLogger.Info("Server stopped")
}
