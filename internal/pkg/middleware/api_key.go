package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/HossamFares/Lernora/internal/pkg/env"
)

// APIKeyAuth guards server-to-server endpoints with a shared key. The key is
// read from PAYMENT_API_KEY; when the variable is unset the middleware lets
// requests through, which keeps local development friction-free.
func APIKeyAuth() fiber.Handler {
	return func(c *fiber.Ctx) error {
		expected := env.GetEnv("PAYMENT_API_KEY", "")
		if expected == "" {
			return c.Next()
		}

		got := extractAPIKey(c)
		if got == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing API key"})
		}
		if subtle.ConstantTimeCompare([]byte(got), []byte(expected)) != 1 {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Invalid API key"})
		}
		return c.Next()
	}
}

func extractAPIKey(c *fiber.Ctx) string {
	if key := c.Get("X-API-Key"); key != "" {
		return key
	}
	auth := c.Get(fiber.HeaderAuthorization)
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}
