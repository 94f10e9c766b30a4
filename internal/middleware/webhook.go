package middleware

import (
	"crypto/subtle"

	"github.com/gofiber/fiber/v2"

	"github.com/beatforge/api/pkg/response"
)

// WebhookSecret rejects provider callbacks that do not present the
// pre-shared secret, before any payload parsing happens. The secret is
// accepted either as a query parameter or a header so heterogeneous
// providers can all deliver.
func WebhookSecret(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if secret == "" {
			return response.Unauthorized(c, "Webhook secret not configured")
		}

		presented := c.Query("secret")
		if presented == "" {
			presented = c.Get("X-Callback-Secret")
		}
		if subtle.ConstantTimeCompare([]byte(presented), []byte(secret)) != 1 {
			return response.Unauthorized(c, "Invalid webhook secret")
		}
		return c.Next()
	}
}
