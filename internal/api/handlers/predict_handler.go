package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/sepsis-risk/backend/internal/features"
	"github.com/sepsis-risk/backend/internal/service"
	"github.com/sepsis-risk/backend/pkg/logger"
)

type Predictor interface {
	Predict(ctx context.Context, req service.Request) (*service.Prediction, error)
	Explain(ctx context.Context, req service.Request) (*service.Explanation, error)
}

type PredictHandler struct {
	predictor Predictor
}

func NewPredictHandler(predictor Predictor) *PredictHandler {
	return &PredictHandler{
		predictor: predictor,
	}
}

type predictRequest struct {
	StayID  int64             `json:"stay_id"`
	Window  int               `json:"window"`
	Records []features.Record `json:"records"`
}

func (r predictRequest) toService() service.Request {
	return service.Request{
		StayID:      r.StayID,
		Records:     r.Records,
		WindowHours: r.Window,
		Source:      "api",
	}
}

func (h *PredictHandler) HandlePredict(c *fiber.Ctx) error {
	var req predictRequest
	if err := c.BodyParser(&req); err != nil {
		logger.Warn("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	p, err := h.predictor.Predict(c.UserContext(), req.toService())
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(p)
}

func (h *PredictHandler) HandleExplain(c *fiber.Ctx) error {
	var req predictRequest
	if err := c.BodyParser(&req); err != nil {
		logger.Warn("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	ex, err := h.predictor.Explain(c.UserContext(), req.toService())
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(ex)
}
