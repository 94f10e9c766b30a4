package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/beatforge/api/internal/middleware"
	"github.com/beatforge/api/internal/model"
	"github.com/beatforge/api/internal/service"
	"github.com/beatforge/api/pkg/response"
)

// AgentHandler exposes the mirrored producer profile.
type AgentHandler struct {
	agents   *service.AgentService
	validate *validator.Validate
}

func NewAgentHandler(agents *service.AgentService, validate *validator.Validate) *AgentHandler {
	return &AgentHandler{agents: agents, validate: validate}
}

// Profile godoc
// @Summary Get own profile mirror
// @Tags agents
// @Produce json
// @Success 200 {object} model.Agent
// @Failure 404 {object} response.ErrorResponse
// @Security BearerAuth
// @Router /api/agents/me [get]
func (h *AgentHandler) Profile(c *fiber.Ctx) error {
	agent, err := h.agents.Profile(c.Context(), middleware.GetAgentID(c))
	if err != nil {
		return respondError(c, err)
	}
	return response.OK(c, agent)
}

// UpdateProfile godoc
// @Summary Sync the profile mirror
// @Tags agents
// @Accept json
// @Produce json
// @Param request body model.UpdateAgentRequest true "Profile fields"
// @Success 200 {object} model.Agent
// @Failure 400 {object} response.ErrorResponse
// @Security BearerAuth
// @Router /api/agents/me [put]
func (h *AgentHandler) UpdateProfile(c *fiber.Ctx) error {
	var req model.UpdateAgentRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	if err := h.validate.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	agent, err := h.agents.UpdateProfile(c.Context(), middleware.GetAgentID(c), &req)
	if err != nil {
		return respondError(c, err)
	}
	return response.OK(c, agent)
}
