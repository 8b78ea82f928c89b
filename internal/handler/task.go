package handler

import (
	"github.com/gofiber/fiber/v2"

	"github.com/makeasinger/mediagen/internal/middleware"
	"github.com/makeasinger/mediagen/internal/service"
	"github.com/makeasinger/mediagen/pkg/response"
)

type TaskHandler struct {
	service *service.GenerationService
}

func NewTaskHandler(svc *service.GenerationService) *TaskHandler {
	return &TaskHandler{service: svc}
}

// Cancel handles DELETE /api/tasks/:id and POST /api/tasks/:id/cancel.
// Cancelling a finished task answers 200 with cancelled=false.
// @Summary      Cancel task
// @Description  Cancel an open task and refund its hold
// @Tags         Tasks
// @Produce      json
// @Param        id path string true "Task ID"
// @Success      200 {object} model.CancelResponse
// @Failure      401 {object} response.ErrorResponse
// @Failure      403 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/tasks/{id} [delete]
// @Router       /api/tasks/{id}/cancel [post]
func (h *TaskHandler) Cancel(c *fiber.Ctx) error {
	taskID := c.Params("id")
	if taskID == "" {
		return response.ValidationError(c, "Task ID is required", nil)
	}

	result, err := h.service.Cancel(c.UserContext(), middleware.GetUserID(c), taskID)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(result)
}

// Pending handles GET /api/tasks/pending
// @Summary      List open tasks
// @Tags         Tasks
// @Produce      json
// @Success      200 {array} model.PendingTask
// @Failure      401 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/tasks/pending [get]
func (h *TaskHandler) Pending(c *fiber.Ctx) error {
	tasks, err := h.service.ListPending(c.UserContext(), middleware.GetUserID(c))
	if err != nil {
		return respondError(c, err)
	}
	return response.OK(c, tasks)
}
