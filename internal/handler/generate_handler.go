package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/beatforge/api/internal/middleware"
	"github.com/beatforge/api/internal/model"
	"github.com/beatforge/api/internal/service"
	"github.com/beatforge/api/pkg/response"
)

// GenerateHandler accepts generation requests from producing agents.
type GenerateHandler struct {
	service  *service.GenerateService
	validate *validator.Validate
}

func NewGenerateHandler(svc *service.GenerateService, validate *validator.Validate) *GenerateHandler {
	return &GenerateHandler{service: svc, validate: validate}
}

// Generate godoc
// @Summary Generate a beat pair
// @Description Dispatches one provider generation that yields two sibling beats
// @Tags beats
// @Accept json
// @Produce json
// @Param request body model.GenerateBeatRequest true "Generation request"
// @Success 201 {object} model.GenerateBeatResponse
// @Failure 400 {object} response.ErrorResponse
// @Failure 422 {object} response.ErrorResponse
// @Failure 429 {object} response.ErrorResponse
// @Security BearerAuth
// @Router /api/beats/generate [post]
func (h *GenerateHandler) Generate(c *fiber.Ctx) error {
	agentID := middleware.GetAgentID(c)
	if agentID == "" {
		return response.Unauthorized(c, "Missing agent identity")
	}

	var req model.GenerateBeatRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	if err := h.validate.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	resp, err := h.service.Generate(c.Context(), agentID, &req)
	if err != nil {
		return respondError(c, err)
	}
	return response.Created(c, resp)
}
