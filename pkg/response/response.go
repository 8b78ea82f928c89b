// Package response writes the JSON envelopes shared by every API route:
// {"success":true,"data":...} and {"success":false,"error":{...}}.
package response

import (
	"errors"

	"github.com/gofiber/fiber/v2"
)

const (
	CodeValidationError     = "VALIDATION_ERROR"
	CodeUnauthorized        = "UNAUTHORIZED"
	CodeForbidden           = "FORBIDDEN"
	CodeNotFound            = "NOT_FOUND"
	CodeRateLimited         = "RATE_LIMITED"
	CodeInsufficientBalance = "INSUFFICIENT_BALANCE"
	CodeServiceUnavailable  = "SERVICE_UNAVAILABLE"
	CodeServiceError        = "SERVICE_ERROR"
)

var statusCodes = map[int]string{
	fiber.StatusBadRequest:            CodeValidationError,
	fiber.StatusRequestEntityTooLarge: CodeValidationError,
	fiber.StatusUnauthorized:          CodeUnauthorized,
	fiber.StatusPaymentRequired:       CodeInsufficientBalance,
	fiber.StatusForbidden:             CodeForbidden,
	fiber.StatusNotFound:              CodeNotFound,
	fiber.StatusTooManyRequests:       CodeRateLimited,
	fiber.StatusServiceUnavailable:    CodeServiceUnavailable,
}

// CodeForStatus returns the error code clients see for an HTTP status.
func CodeForStatus(status int) string {
	if code, ok := statusCodes[status]; ok {
		return code
	}
	return CodeServiceError
}

type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type ErrorResponse struct {
	Success bool        `json:"success"`
	Error   ErrorDetail `json:"error"`
}

type SuccessResponse struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}

func Error(c *fiber.Ctx, status int, code, message string, details any) error {
	return c.Status(status).JSON(ErrorResponse{
		Error: ErrorDetail{Code: code, Message: message, Details: details},
	})
}

// FiberError renders err as an error envelope. *fiber.Error keeps its status
// and message; anything else becomes an opaque 500.
func FiberError(c *fiber.Ctx, err error) error {
	status, message := fiber.StatusInternalServerError, "Internal Server Error"
	var fe *fiber.Error
	if errors.As(err, &fe) {
		status, message = fe.Code, fe.Message
	}
	return Error(c, status, CodeForStatus(status), message, nil)
}

func ValidationError(c *fiber.Ctx, message string, details any) error {
	return Error(c, fiber.StatusBadRequest, CodeValidationError, message, details)
}

func Unauthorized(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusUnauthorized, CodeUnauthorized, message, nil)
}

func Forbidden(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusForbidden, CodeForbidden, message, nil)
}

func NotFound(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusNotFound, CodeNotFound, message, nil)
}

func RateLimited(c *fiber.Ctx) error {
	return Error(c, fiber.StatusTooManyRequests, CodeRateLimited, "Rate limit exceeded", nil)
}

// PaymentRequired reports a balance too low to cover the task cost.
func PaymentRequired(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusPaymentRequired, CodeInsufficientBalance, message, nil)
}

func ServiceUnavailable(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusServiceUnavailable, CodeServiceUnavailable, message, nil)
}

// BadGateway reports a failed upstream fetch.
func BadGateway(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusBadGateway, CodeServiceError, message, nil)
}

func ServiceError(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusInternalServerError, CodeServiceError, message, nil)
}

func OK(c *fiber.Ctx, data any) error {
	return c.JSON(SuccessResponse{Success: true, Data: data})
}

func Accepted(c *fiber.Ctx, data any) error {
	return c.Status(fiber.StatusAccepted).JSON(SuccessResponse{Success: true, Data: data})
}

func NoContent(c *fiber.Ctx) error {
	return c.SendStatus(fiber.StatusNoContent)
}
