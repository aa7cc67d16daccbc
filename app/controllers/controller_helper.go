package controllers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/payward/payward/internal/pkg/apperrors"
)

// respondError converts a service error into the API's JSON error shape.
// Unknown errors are logged and reported as internal server errors without
// leaking details to the caller.
func respondError(c *fiber.Ctx, err error) error {
	appErr := apperrors.From(err)
	if appErr.Status >= fiber.StatusInternalServerError {
		log.Errorf("%s %s failed: %v", c.Method(), c.Path(), err)
	}
	return c.Status(appErr.Status).JSON(fiber.Map{
		"error":   appErr.Code,
		"message": appErr.Message,
	})
}
