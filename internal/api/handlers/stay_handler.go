package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/sepsis-risk/backend/internal/features"
	"github.com/sepsis-risk/backend/internal/service"
	"github.com/sepsis-risk/backend/internal/storage/models"
)

type StayService interface {
	AddRecord(ctx context.Context, stayID int64, rec features.Record, source string) (int, error)
	StayRecords(ctx context.Context, stayID int64) ([]features.Record, error)
	PredictStay(ctx context.Context, stayID int64, windowHours int, source string) (*service.Prediction, error)
	History(ctx context.Context, stayID int64, limit int) ([]models.PredictionRecord, error)
	ListStays(ctx context.Context, limit int) ([]models.StaySummary, error)
	DeleteStay(ctx context.Context, stayID int64) error
}

type StayHandler struct {
	stays        StayService
	historyLimit int
}

func NewStayHandler(stays StayService, historyLimit int) *StayHandler {
	if historyLimit <= 0 {
		historyLimit = 20
	}
	return &StayHandler{
		stays:        stays,
		historyLimit: historyLimit,
	}
}

func parseStayID(c *fiber.Ctx) (int64, bool) {
	id, err := c.ParamsInt("stay_id")
	if err != nil || id <= 0 {
		return 0, false
	}
	return int64(id), true
}

func invalidStayID(c *fiber.Ctx) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error": "stay_id must be a positive integer",
	})
}

func (h *StayHandler) AddRecord(c *fiber.Ctx) error {
	id, ok := parseStayID(c)
	if !ok {
		return invalidStayID(c)
	}

	var rec features.Record
	if err := c.BodyParser(&rec); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	hr, err := h.stays.AddRecord(c.UserContext(), id, rec, "api")
	if err != nil {
		return respondError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"stay_id": id,
		"hr":      hr,
	})
}

func (h *StayHandler) GetRecords(c *fiber.Ctx) error {
	id, ok := parseStayID(c)
	if !ok {
		return invalidStayID(c)
	}

	records, err := h.stays.StayRecords(c.UserContext(), id)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"stay_id": id,
		"records": records,
	})
}

func (h *StayHandler) Predict(c *fiber.Ctx) error {
	id, ok := parseStayID(c)
	if !ok {
		return invalidStayID(c)
	}

	p, err := h.stays.PredictStay(c.UserContext(), id, c.QueryInt("window", 0), "api")
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(p)
}

func (h *StayHandler) GetHistory(c *fiber.Ctx) error {
	id, ok := parseStayID(c)
	if !ok {
		return invalidStayID(c)
	}

	limit := c.QueryInt("limit", h.historyLimit)
	if limit <= 0 || limit > 500 {
		limit = h.historyLimit
	}

	history, err := h.stays.History(c.UserContext(), id, limit)
	if err != nil {
		return respondError(c, err)
	}

	items := make([]fiber.Map, 0, len(history))
	for _, p := range history {
		items = append(items, fiber.Map{
			"id":               p.ID,
			"window_hours":     p.WindowHours,
			"sequence_length":  p.SequenceLength,
			"prediction":       p.Result,
			"sepsis_label":     p.SepsisLabel,
			"artifact_version": p.ArtifactVersion,
			"source":           p.Source,
			"created_at":       p.CreatedAt.Unix(),
		})
	}

	return c.JSON(fiber.Map{
		"stay_id":     id,
		"predictions": items,
	})
}

func (h *StayHandler) ListStays(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 100)
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	stays, err := h.stays.ListStays(c.UserContext(), limit)
	if err != nil {
		return respondError(c, err)
	}

	items := make([]fiber.Map, 0, len(stays))
	for _, s := range stays {
		items = append(items, fiber.Map{
			"stay_id":    s.StayID,
			"hours":      s.Hours,
			"first_hour": s.FirstHour,
			"last_hour":  s.LastHour,
			"updated_at": s.UpdatedAt.Unix(),
		})
	}

	return c.JSON(fiber.Map{
		"stays": items,
	})
}

func (h *StayHandler) DeleteStay(c *fiber.Ctx) error {
	id, ok := parseStayID(c)
	if !ok {
		return invalidStayID(c)
	}

	if err := h.stays.DeleteStay(c.UserContext(), id); err != nil {
		return respondError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}
