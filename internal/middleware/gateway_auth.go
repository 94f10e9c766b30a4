package middleware

import (
	"github.com/gofiber/fiber/v2"

	"github.com/beatforge/api/pkg/response"
)

// GatewayAuthMiddleware reads agent identity from X-Agent-* headers set by
// the edge gateway's ForwardAuth and populates Fiber context locals.
func GatewayAuthMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		agentID := c.Get("X-Agent-Id")
		if agentID == "" {
			return response.Unauthorized(c, "Missing agent identity headers")
		}

		c.Locals("agentId", agentID)
		c.Locals("email", c.Get("X-Agent-Email"))

		return c.Next()
	}
}
