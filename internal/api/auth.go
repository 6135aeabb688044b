package api

import (
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/OKaluzny/token-shop/internal/config"
	"github.com/gofiber/fiber/v2"
)

// Protected rejects requests that do not carry key as a bearer token.
// An empty key rejects every request.
func Protected(key config.Secret) fiber.Handler {
	want := sha256.Sum256([]byte(key.Reveal()))
	return func(c *fiber.Ctx) error {
		if key == "" {
			return c.Status(http.StatusUnauthorized).JSON(fiber.Map{"error": "api key not configured"})
		}

		authHeader := c.Get(fiber.HeaderAuthorization)
		if authHeader == "" {
			return c.Status(http.StatusUnauthorized).JSON(fiber.Map{"error": "missing api key"})
		}
		scheme, token, ok := strings.Cut(authHeader, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
			return c.Status(http.StatusUnauthorized).JSON(fiber.Map{"error": "invalid authorization header"})
		}

		got := sha256.Sum256([]byte(token))
		if subtle.ConstantTimeCompare(got[:], want[:]) != 1 {
			return c.Status(http.StatusUnauthorized).JSON(fiber.Map{"error": "invalid api key"})
		}
		return c.Next()
	}
}
