package handler

import (
	"github.com/gofiber/fiber/v2"

	"github.com/makeasinger/mediagen/internal/auth"
)

// AuthHandler handles ForwardAuth verification for the API gateway
type AuthHandler struct {
	authenticator *auth.Authenticator
}

func NewAuthHandler(a *auth.Authenticator) *AuthHandler {
	return &AuthHandler{authenticator: a}
}

// Verify handles GET /auth/verify. It answers 200 with X-User-* headers
// when the bearer token is valid and 401 otherwise.
// @Summary      ForwardAuth verification
// @Tags         Auth
// @Success      200
// @Failure      401
// @Security     BearerAuth
// @Router       /auth/verify [get]
func (h *AuthHandler) Verify(c *fiber.Ctx) error {
	token, err := auth.BearerToken(c.Get(fiber.HeaderAuthorization))
	if err != nil {
		return c.SendStatus(fiber.StatusUnauthorized)
	}

	id, err := h.authenticator.Authenticate(token)
	if err != nil {
		return c.SendStatus(fiber.StatusUnauthorized)
	}

	c.Set(auth.HeaderUserID, id.UserID)
	c.Set(auth.HeaderUserEmail, id.Email)
	c.Set(auth.HeaderUserName, id.Name)
	return c.SendStatus(fiber.StatusOK)
}
