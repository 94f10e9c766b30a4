package handler

import (
	"github.com/gofiber/fiber/v2"

	"github.com/beatforge/api/internal/service"
	"github.com/beatforge/api/pkg/response"
)

// CallbackHandler receives provider webhooks. The shared-secret check
// happens in middleware before any of these run; here the body is still
// untrusted in every other way.
type CallbackHandler struct {
	callbacks *service.CallbackService
	post      *service.PostProcessService
}

func NewCallbackHandler(callbacks *service.CallbackService, post *service.PostProcessService) *CallbackHandler {
	return &CallbackHandler{callbacks: callbacks, post: post}
}

// Generation godoc
// @Summary Generation webhook
// @Description Accepts any recognized provider payload shape; unmatched deliveries are acknowledged
// @Tags callbacks
// @Accept json
// @Success 200
// @Router /callbacks/generation [post]
func (h *CallbackHandler) Generation(c *fiber.Ctx) error {
	if err := h.callbacks.HandleGeneration(c.Context(), c.Body()); err != nil {
		// A storage error is worth a provider redelivery.
		return response.ServiceError(c, "Callback processing failed")
	}
	return response.OK(c, fiber.Map{"status": "ok"})
}

// Lossless godoc
// @Summary Lossless job webhook
// @Tags callbacks
// @Accept json
// @Param beatId query string true "Beat id"
// @Success 200
// @Router /callbacks/lossless [post]
func (h *CallbackHandler) Lossless(c *fiber.Ctx) error {
	beatID := c.Query("beatId")
	if beatID == "" {
		return response.ValidationError(c, "Missing beatId", nil)
	}
	if err := h.post.HandleLossless(c.Context(), beatID, c.Body()); err != nil {
		return response.ServiceError(c, "Callback processing failed")
	}
	return response.OK(c, fiber.Map{"status": "ok"})
}

// Stems godoc
// @Summary Stem split webhook
// @Tags callbacks
// @Accept json
// @Param beatId query string true "Beat id"
// @Success 200
// @Router /callbacks/stems [post]
func (h *CallbackHandler) Stems(c *fiber.Ctx) error {
	beatID := c.Query("beatId")
	if beatID == "" {
		return response.ValidationError(c, "Missing beatId", nil)
	}
	if err := h.post.HandleStems(c.Context(), beatID, c.Body()); err != nil {
		return response.ServiceError(c, "Callback processing failed")
	}
	return response.OK(c, fiber.Map{"status": "ok"})
}
