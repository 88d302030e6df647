package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/sepsis-risk/backend/internal/features"
	"github.com/sepsis-risk/backend/internal/service"
	"github.com/sepsis-risk/backend/internal/storage/sqlite"
)

func statusFor(err error) int {
	switch {
	case errors.Is(err, features.ErrEmptySequence):
		return fiber.StatusUnprocessableEntity
	case errors.Is(err, service.ErrSequenceTooLong):
		return fiber.StatusRequestEntityTooLarge
	case errors.Is(err, service.ErrInvalidHour):
		return fiber.StatusBadRequest
	case errors.Is(err, sqlite.ErrStayNotFound):
		return fiber.StatusNotFound
	default:
		return fiber.StatusInternalServerError
	}
}

func messageFor(err error, status int) string {
	switch status {
	case fiber.StatusUnprocessableEntity:
		return "No patient records supplied"
	case fiber.StatusRequestEntityTooLarge:
		return "Too many records in sequence"
	case fiber.StatusBadRequest:
		return err.Error()
	case fiber.StatusNotFound:
		return "Stay not found"
	default:
		return "Failed to process prediction"
	}
}

func respondError(c *fiber.Ctx, err error) error {
	status := statusFor(err)
	return c.Status(status).JSON(fiber.Map{
		"error": messageFor(err, status),
	})
}
