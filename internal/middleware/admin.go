package middleware

import (
	"crypto/subtle"

	"github.com/gofiber/fiber/v2"
	"github.com/noteduco342/om-channels/internal/apperr"
	"github.com/noteduco342/om-channels/internal/httpx"
)

// AdminRequired guards the management API with a shared token sent as
// X-Admin-Token. An empty token disables the check.
func AdminRequired(token string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if token == "" {
			return c.Next()
		}
		given := c.Get("X-Admin-Token")
		if given == "" {
			return httpx.FromError(c, apperr.Unauthenticated("Missing admin token"))
		}
		if subtle.ConstantTimeCompare([]byte(given), []byte(token)) != 1 {
			return httpx.FromError(c, apperr.Forbidden("Invalid admin token"))
		}
		return c.Next()
	}
}
