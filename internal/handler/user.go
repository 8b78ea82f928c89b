package handler

import (
	"github.com/gofiber/fiber/v2"

	"github.com/makeasinger/mediagen/internal/middleware"
	"github.com/makeasinger/mediagen/internal/service"
	"github.com/makeasinger/mediagen/pkg/response"
)

type UserHandler struct {
	service *service.GenerationService
}

func NewUserHandler(svc *service.GenerationService) *UserHandler {
	return &UserHandler{service: svc}
}

// Status handles GET /api/user/status
// @Summary      Recent video tasks
// @Tags         User
// @Produce      json
// @Success      200 {object} model.VideoStatusSnapshot
// @Failure      401 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/user/status [get]
func (h *UserHandler) Status(c *fiber.Ctx) error {
	snapshot, err := h.service.VideoStatus(c.UserContext(), middleware.GetUserID(c))
	if err != nil {
		return respondError(c, err)
	}
	return response.OK(c, snapshot)
}

// Balance handles GET /api/user/balance
// @Summary      Credit balance
// @Tags         User
// @Produce      json
// @Success      200 {object} model.BalanceResponse
// @Failure      401 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/user/balance [get]
func (h *UserHandler) Balance(c *fiber.Ctx) error {
	balance, err := h.service.Balance(c.UserContext(), middleware.GetUserID(c))
	if err != nil {
		return respondError(c, err)
	}
	return response.OK(c, balance)
}
