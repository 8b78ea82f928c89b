// Package handler exposes the generation service over HTTP.
package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/makeasinger/mediagen/internal/apperr"
	"github.com/makeasinger/mediagen/internal/service"
	"github.com/makeasinger/mediagen/pkg/response"
)

// respondError maps service errors to the error envelope
func respondError(c *fiber.Ctx, err error) error {
	var cfgErr *apperr.ConfigurationError
	switch {
	case errors.Is(err, apperr.ErrInsufficientBalance):
		return response.PaymentRequired(c, "Insufficient balance")
	case errors.Is(err, apperr.ErrTaskNotFound):
		return response.NotFound(c, "Task not found")
	case errors.Is(err, apperr.ErrForbidden):
		return response.Forbidden(c, "Task belongs to another user")
	case errors.Is(err, apperr.ErrModelNotFound):
		return response.ValidationError(c, "Unknown or disabled model", nil)
	case errors.Is(err, service.ErrEmptySubmission):
		return response.ValidationError(c, "Prompt or reference files required", nil)
	case errors.Is(err, service.ErrNoMedia):
		return response.NotFound(c, "Task has no media")
	case errors.Is(err, service.ErrMediaUnavailable):
		return response.BadGateway(c, "Failed to fetch media")
	case errors.As(err, &cfgErr):
		return response.ServiceUnavailable(c, apperr.UserMessage(err))
	}
	return response.ServiceError(c, "Internal server error")
}

func formatValidationErrors(err error) interface{} {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		fields := make(map[string]string)
		for _, e := range validationErrors {
			fields[e.Field()] = e.Tag()
		}
		return fields
	}
	return nil
}
