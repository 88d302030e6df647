package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/sepsis-risk/backend/pkg/logger"
)

type Readiness interface {
	Ready(ctx context.Context) error
}

type HealthHandler struct {
	readiness Readiness
	version   string
}

func NewHealthHandler(readiness Readiness, version string) *HealthHandler {
	return &HealthHandler{
		readiness: readiness,
		version:   version,
	}
}

func (h *HealthHandler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":           "healthy",
		"time":             time.Now().Unix(),
		"artifact_version": h.version,
	})
}

func (h *HealthHandler) Ready(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
	defer cancel()

	if err := h.readiness.Ready(ctx); err != nil {
		logger.Warn("Readiness check failed", zap.Error(err))
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status": "not ready",
			"error":  err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"status": "ready",
	})
}
