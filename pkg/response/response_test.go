package response

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func call(t *testing.T, h fiber.Handler) (int, map[string]any) {
	t.Helper()
	app := fiber.New()
	app.Get("/", h)

	resp, err := app.Test(httptest.NewRequest("GET", "/", nil))
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var body map[string]any
	require.NoError(t, json.Unmarshal(raw, &body))
	return resp.StatusCode, body
}

func TestEnvelope(t *testing.T) {
	status, body := call(t, func(c *fiber.Ctx) error { return Accepted(c, fiber.Map{"id": "t1"}) })
	assert.Equal(t, fiber.StatusAccepted, status)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, map[string]any{"id": "t1"}, body["data"])
}

func TestErrors(t *testing.T) {
	cases := []struct {
		h      fiber.Handler
		status int
		code   string
	}{
		{func(c *fiber.Ctx) error { return PaymentRequired(c, "Insufficient balance") }, 402, CodeInsufficientBalance},
		{func(c *fiber.Ctx) error { return ServiceUnavailable(c, "service unavailable") }, 503, CodeServiceUnavailable},
		{func(c *fiber.Ctx) error { return Forbidden(c, "nope") }, 403, CodeForbidden},
		{RateLimited, 429, CodeRateLimited},
	}
	for _, tc := range cases {
		status, body := call(t, tc.h)
		assert.Equal(t, tc.status, status)
		assert.Equal(t, false, body["success"])
		assert.Equal(t, tc.code, body["error"].(map[string]any)["code"])
	}
}

func TestFiberError(t *testing.T) {
	status, body := call(t, func(c *fiber.Ctx) error {
		return FiberError(c, fiber.NewError(fiber.StatusRequestEntityTooLarge, "too big"))
	})
	assert.Equal(t, 413, status)
	detail := body["error"].(map[string]any)
	assert.Equal(t, CodeValidationError, detail["code"])
	assert.Equal(t, "too big", detail["message"])

	status, body = call(t, func(c *fiber.Ctx) error {
		return FiberError(c, assert.AnError)
	})
	assert.Equal(t, 500, status)
	assert.Equal(t, CodeServiceError, body["error"].(map[string]any)["code"])
}
