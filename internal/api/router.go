package api

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"

	"github.com/sepsis-risk/backend/internal/api/handlers"
	"github.com/sepsis-risk/backend/internal/metrics"
	"github.com/sepsis-risk/backend/internal/middleware/ratelimit"
	"github.com/sepsis-risk/backend/internal/middleware/security"
	"github.com/sepsis-risk/backend/internal/middleware/validation"
	"github.com/sepsis-risk/backend/internal/service"
	appLogger "github.com/sepsis-risk/backend/pkg/logger"
)

type Options struct {
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	BodyLimit         int
	AllowOrigins      string
	IsDevelopment     bool
	AccessLog         bool
	MaxSequenceLength int
	HistoryLimit      int
	ArtifactVersion   string
	RateLimiter       *ratelimit.RateLimiter
}

// NewApp builds the HTTP surface around svc. The caller owns opts.RateLimiter.
func NewApp(svc *service.Service, opts Options) *fiber.App {
	app := fiber.New(fiber.Config{
		ReadTimeout:           opts.ReadTimeout,
		WriteTimeout:          opts.WriteTimeout,
		BodyLimit:             opts.BodyLimit,
		DisableStartupMessage: true,
	})

	allowOrigins := opts.AllowOrigins
	if allowOrigins == "" {
		allowOrigins = "*"
	}

	app.Use(recover.New())
	if opts.AccessLog {
		app.Use(fiberlogger.New())
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: allowOrigins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Client-ID",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{
		AllowedOrigins: splitOrigins(allowOrigins),
		IsDevelopment:  opts.IsDevelopment,
	}))

	app.Get("/metrics", metrics.MetricsHandler())

	predictHandler := handlers.NewPredictHandler(svc)
	stayHandler := handlers.NewStayHandler(svc, opts.HistoryLimit)
	streamHandler := handlers.NewWebSocketHandler(svc, opts.MaxSequenceLength)
	healthHandler := handlers.NewHealthHandler(svc, opts.ArtifactVersion)

	api := app.Group("/api/v1")

	api.Get("/health", healthHandler.Health)
	api.Get("/ready", healthHandler.Ready)

	if opts.RateLimiter != nil {
		api.Use(opts.RateLimiter.Middleware())
	}
	api.Use(validation.Middleware(validation.Config{
		MaxRecords: opts.MaxSequenceLength,
		Logger:     appLogger.GetLogger(),
	}))

	api.Post("/predict", predictHandler.HandlePredict)
	api.Post("/predict/explain", predictHandler.HandleExplain)

	api.Get("/stays", stayHandler.ListStays)
	api.Post("/stays/:stay_id/records", stayHandler.AddRecord)
	api.Get("/stays/:stay_id/records", stayHandler.GetRecords)
	api.Get("/stays/:stay_id/predict", stayHandler.Predict)
	api.Get("/stays/:stay_id/predictions", stayHandler.GetHistory)
	api.Delete("/stays/:stay_id", stayHandler.DeleteStay)

	api.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	api.Get("/ws/stream", websocket.New(streamHandler.HandleConnection))

	return app
}

func splitOrigins(origins string) []string {
	var out []string
	for _, o := range strings.Split(origins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
