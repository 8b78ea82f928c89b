package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/makeasinger/mediagen/internal/middleware"
	"github.com/makeasinger/mediagen/internal/model"
	"github.com/makeasinger/mediagen/internal/service"
	"github.com/makeasinger/mediagen/pkg/response"
)

type GenerateHandler struct {
	service   *service.GenerationService
	validator *validator.Validate
	log       zerolog.Logger
}

func NewGenerateHandler(svc *service.GenerationService, v *validator.Validate, log zerolog.Logger) *GenerateHandler {
	return &GenerateHandler{
		service:   svc,
		validator: v,
		log:       log.With().Str("component", "generate_handler").Logger(),
	}
}

// Generate handles POST /api/generate
// @Summary      Submit generation task
// @Description  Hold the model cost and queue an image or video generation
// @Tags         Generate
// @Accept       json
// @Produce      json
// @Param        request body model.GenerateRequest true "Generation request"
// @Success      202 {object} model.GenerateResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      401 {object} response.ErrorResponse
// @Failure      402 {object} response.ErrorResponse
// @Failure      429 {object} response.ErrorResponse
// @Failure      503 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/generate [post]
func (h *GenerateHandler) Generate(c *fiber.Ctx) error {
	var req model.GenerateRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.service.Create(c.UserContext(), middleware.GetUserID(c), &req)
	if err != nil {
		h.log.Debug().Err(err).Str("model", req.Model).Msg("Generation rejected")
		return respondError(c, err)
	}

	return response.Accepted(c, result)
}

// CharacterCard handles POST /api/generate/character-card
// @Summary      Create character card
// @Description  Queue a character card from a reference video and its first frame
// @Tags         Generate
// @Accept       json
// @Produce      json
// @Param        request body model.CharacterCardRequest true "Character card request"
// @Success      202 {object} model.GenerateResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      401 {object} response.ErrorResponse
// @Failure      429 {object} response.ErrorResponse
// @Failure      503 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/generate/character-card [post]
func (h *GenerateHandler) CharacterCard(c *fiber.Ctx) error {
	var req model.CharacterCardRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.service.CreateCharacterCard(c.UserContext(), middleware.GetUserID(c), &req)
	if err != nil {
		return respondError(c, err)
	}

	return response.Accepted(c, result)
}

// Status handles GET /api/generate/status/:id
// @Summary      Get task status
// @Tags         Generate
// @Produce      json
// @Param        id path string true "Task ID"
// @Success      200 {object} model.TaskStatusResponse
// @Failure      401 {object} response.ErrorResponse
// @Failure      403 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/generate/status/{id} [get]
func (h *GenerateHandler) Status(c *fiber.Ctx) error {
	taskID := c.Params("id")
	if taskID == "" {
		return response.ValidationError(c, "Task ID is required", nil)
	}

	result, err := h.service.Status(c.UserContext(), middleware.GetUserID(c), taskID)
	if err != nil {
		return respondError(c, err)
	}

	return response.OK(c, result)
}
