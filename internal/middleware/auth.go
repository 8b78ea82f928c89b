package middleware

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/makeasinger/mediagen/internal/auth"
	"github.com/makeasinger/mediagen/pkg/response"
)

const identityKey = "identity"

// AuthMiddleware authenticates bearer tokens in-process, for deployments
// without a ForwardAuth gateway in front.
type AuthMiddleware struct {
	authenticator *auth.Authenticator
}

func NewAuthMiddleware(a *auth.Authenticator) *AuthMiddleware {
	return &AuthMiddleware{authenticator: a}
}

func (m *AuthMiddleware) Authenticate() fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get(fiber.HeaderAuthorization)
		if header == "" {
			return response.Unauthorized(c, "Missing authorization header")
		}
		token, err := auth.BearerToken(header)
		if err != nil {
			return response.Unauthorized(c, "Invalid authorization header format")
		}

		id, err := m.authenticator.Authenticate(token)
		switch {
		case errors.Is(err, auth.ErrNotConfigured):
			return response.Unauthorized(c, "Authentication not configured")
		case err != nil:
			return response.Unauthorized(c, "Invalid or expired token")
		}

		setIdentity(c, id)
		return c.Next()
	}
}

func setIdentity(c *fiber.Ctx, id auth.Identity) {
	c.Locals(identityKey, id)
}

// GetIdentity returns the caller set by one of the auth middlewares, or the
// zero Identity on unauthenticated routes.
func GetIdentity(c *fiber.Ctx) auth.Identity {
	id, _ := c.Locals(identityKey).(auth.Identity)
	return id
}

func GetUserID(c *fiber.Ctx) string {
	return GetIdentity(c).UserID
}

func GetUserEmail(c *fiber.Ctx) string {
	return GetIdentity(c).Email
}
