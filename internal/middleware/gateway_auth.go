package middleware

import (
	"github.com/gofiber/fiber/v2"

	"github.com/makeasinger/mediagen/internal/auth"
	"github.com/makeasinger/mediagen/pkg/response"
)

// GatewayAuthMiddleware trusts the identity headers written by an upstream
// ForwardAuth call to /auth/verify. Use it only behind that gateway.
func GatewayAuthMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := auth.Identity{
			UserID: c.Get(auth.HeaderUserID),
			Email:  c.Get(auth.HeaderUserEmail),
			Name:   c.Get(auth.HeaderUserName),
		}
		if id.UserID == "" {
			return response.Unauthorized(c, "Missing user identity headers")
		}
		setIdentity(c, id)
		return c.Next()
	}
}
