package handler

import (
	"github.com/gofiber/fiber/v2"

	"github.com/makeasinger/mediagen/internal/middleware"
	"github.com/makeasinger/mediagen/internal/service"
)

type MediaHandler struct {
	service *service.GenerationService
}

func NewMediaHandler(svc *service.GenerationService) *MediaHandler {
	return &MediaHandler{service: svc}
}

// Serve handles GET /api/media/:id
// @Summary      Task result media
// @Description  Stream the result bytes of a completed task
// @Tags         Media
// @Produce      octet-stream
// @Param        id path string true "Task ID"
// @Success      200 {file} binary
// @Failure      403 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Failure      502 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/media/{id} [get]
func (h *MediaHandler) Serve(c *fiber.Ctx) error {
	media, err := h.service.Media(c.UserContext(), middleware.GetUserID(c), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	c.Set(fiber.HeaderContentType, media.ContentType)
	c.Set(fiber.HeaderCacheControl, "private, max-age=31536000, immutable")
	c.Set(fiber.HeaderXContentTypeOptions, "nosniff")
	return c.SendStream(media.Body, int(media.Size))
}
