package middleware

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"

	"github.com/beatforge/api/internal/auth"
)

func echoAgentApp(authenticate fiber.Handler) *fiber.App {
	app := fiber.New()
	app.Get("/whoami", authenticate, func(c *fiber.Ctx) error {
		return c.SendString(GetAgentID(c))
	})
	return app
}

func TestLegacyAuthMiddleware(t *testing.T) {
	const secret = "test-secret"
	app := echoAgentApp(NewLegacyAuthMiddleware(secret).Authenticate())

	token, err := auth.SignLegacyToken("agent-1", "a@example.com", secret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	req := httptest.NewRequest("GET", "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "agent-1" {
		t.Fatalf("agent id = %q", body)
	}

	cases := map[string]string{
		"missing header": "",
		"wrong scheme":   "Basic " + token,
		"wrong key":      "Bearer " + mustSign(t, "agent-1", "other-secret"),
		"garbage":        "Bearer not.a.jwt",
	}
	for name, header := range cases {
		req := httptest.NewRequest("GET", "/whoami", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if resp.StatusCode != fiber.StatusUnauthorized {
			t.Fatalf("%s: status = %d, want 401", name, resp.StatusCode)
		}
	}
}

func mustSign(t *testing.T, agentID, secret string) string {
	t.Helper()
	token, err := auth.SignLegacyToken(agentID, "a@example.com", secret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func TestGatewayAuthMiddleware(t *testing.T) {
	app := echoAgentApp(GatewayAuthMiddleware())

	req := httptest.NewRequest("GET", "/whoami", nil)
	req.Header.Set("X-Agent-Id", "agent-9")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "agent-9" {
		t.Fatalf("agent id = %q", body)
	}

	resp, err = app.Test(httptest.NewRequest("GET", "/whoami", nil))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}
