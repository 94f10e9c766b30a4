package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/beatforge/api/internal/middleware"
	"github.com/beatforge/api/internal/model"
	"github.com/beatforge/api/internal/service"
	"github.com/beatforge/api/pkg/response"
)

// PostProcessHandler triggers the lossless and stems jobs for a beat.
type PostProcessHandler struct {
	service  *service.PostProcessService
	validate *validator.Validate
}

func NewPostProcessHandler(svc *service.PostProcessService, validate *validator.Validate) *PostProcessHandler {
	return &PostProcessHandler{service: svc, validate: validate}
}

// Trigger godoc
// @Summary Start or retry post-processing for a beat
// @Description Dispatches the lossless and stem-split jobs; safe to call again for stuck jobs
// @Tags beats
// @Accept json
// @Produce json
// @Param id path string true "Beat id"
// @Param request body model.PostProcessRequest true "Provider credential"
// @Success 202 {object} model.PostProcessResponse
// @Failure 403 {object} response.ErrorResponse
// @Failure 422 {object} response.ErrorResponse
// @Security BearerAuth
// @Router /api/beats/{id}/postprocess [post]
func (h *PostProcessHandler) Trigger(c *fiber.Ctx) error {
	var req model.PostProcessRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	if err := h.validate.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	resp, err := h.service.Trigger(c.Context(), middleware.GetAgentID(c), c.Params("id"), req.ProviderKey)
	if err != nil {
		return respondError(c, err)
	}
	return response.Accepted(c, resp)
}
