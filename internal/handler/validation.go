package handler

import (
	"errors"
	"fmt"
	"log"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/beatforge/api/internal/client"
	"github.com/beatforge/api/internal/service"
	"github.com/beatforge/api/internal/store"
	"github.com/beatforge/api/pkg/response"
)

// formatValidationErrors converts validator errors into per-field
// messages for the error envelope.
func formatValidationErrors(err error) map[string]string {
	fields := make(map[string]string)
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			fields[fe.Field()] = fmt.Sprintf("failed validation on %q", fe.Tag())
		}
	}
	return fields
}

// respondError maps service-layer errors onto the API envelope.
func respondError(c *fiber.Ctx, err error) error {
	var (
		validation   *service.ValidationError
		precondition *service.PreconditionError
		limit        *service.LimitError
		integrity    *service.IntegrityError
		provider     *client.ProviderError
	)
	switch {
	case errors.As(err, &validation):
		return response.ValidationError(c, validation.Message, nil)
	case errors.As(err, &precondition):
		return response.PreconditionFailed(c, precondition.Message)
	case errors.As(err, &limit):
		return response.Error(c, fiber.StatusTooManyRequests, response.CodeRateLimited, limit.Message, nil)
	case errors.As(err, &integrity):
		return response.Conflict(c, integrity.Message)
	case errors.Is(err, service.ErrNotOwner):
		return response.Forbidden(c, "You do not own this beat")
	case errors.Is(err, store.ErrNotFound):
		return response.NotFound(c, "Not found")
	case errors.Is(err, service.ErrTokenInvalid):
		return response.Unauthorized(c, "Invalid download token")
	case errors.Is(err, service.ErrTokenExpired):
		return response.Unauthorized(c, "Download link has expired")
	case errors.As(err, &provider):
		return response.ProviderError(c, provider.StatusCode, "Upstream provider rejected the request")
	}
	log.Printf("Unhandled service error: %v", err)
	return response.ServiceError(c, "Internal error")
}
