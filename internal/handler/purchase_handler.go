package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/beatforge/api/internal/model"
	"github.com/beatforge/api/internal/service"
	"github.com/beatforge/api/pkg/response"
)

// PurchaseHandler is the buyer-facing surface. Buyers are anonymous
// apart from a verified contact address; no bearer auth here.
type PurchaseHandler struct {
	service  *service.PurchaseService
	validate *validator.Validate
}

func NewPurchaseHandler(svc *service.PurchaseService, validate *validator.Validate) *PurchaseHandler {
	return &PurchaseHandler{service: svc, validate: validate}
}

// RequestVerification godoc
// @Summary Request a buyer contact verification code
// @Description Relays a single-use code to the given address
// @Tags purchases
// @Accept json
// @Param request body model.RequestVerificationRequest true "Contact address"
// @Success 202
// @Failure 400 {object} response.ErrorResponse
// @Router /purchases/verify [post]
func (h *PurchaseHandler) RequestVerification(c *fiber.Ctx) error {
	var req model.RequestVerificationRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	if err := h.validate.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	if err := h.service.RequestVerification(c.Context(), req.Email); err != nil {
		return respondError(c, err)
	}
	return response.Accepted(c, fiber.Map{"message": "verification code sent"})
}

// CreateOrder godoc
// @Summary Open a payment order for a beat
// @Description Resolves the price server-side; the request carries no amount
// @Tags purchases
// @Accept json
// @Produce json
// @Param request body model.CreateOrderRequest true "Order request"
// @Success 201 {object} model.CreateOrderResponse
// @Failure 400 {object} response.ErrorResponse
// @Failure 404 {object} response.ErrorResponse
// @Failure 422 {object} response.ErrorResponse
// @Router /purchases/orders [post]
func (h *PurchaseHandler) CreateOrder(c *fiber.Ctx) error {
	var req model.CreateOrderRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	if err := h.validate.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	resp, err := h.service.CreateOrder(c.Context(), &req)
	if err != nil {
		return respondError(c, err)
	}
	return response.Created(c, resp)
}

// Capture godoc
// @Summary Capture an approved payment order
// @Description Completes payment at most once and returns the download capability
// @Tags purchases
// @Accept json
// @Produce json
// @Param request body model.CaptureOrderRequest true "Capture request"
// @Success 200 {object} model.CaptureOrderResponse
// @Failure 404 {object} response.ErrorResponse
// @Failure 409 {object} response.ErrorResponse
// @Failure 422 {object} response.ErrorResponse
// @Router /purchases/capture [post]
func (h *PurchaseHandler) Capture(c *fiber.Ctx) error {
	var req model.CaptureOrderRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	if err := h.validate.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	resp, err := h.service.Capture(c.Context(), req.OrderID)
	if err != nil {
		return respondError(c, err)
	}
	return response.OK(c, resp)
}
