package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/noteduco342/om-channels/internal/apperr"
	"github.com/noteduco342/om-channels/internal/httpx"
	"github.com/noteduco342/om-channels/internal/service"
)

type TokenVerifier interface {
	ParseToken(tokenString string) (*service.Claims, error)
}

// AuthRequired verifies the bearer token and stores the caller in Locals
// ("userID", "userName"). Websocket upgrades cannot set headers from a
// browser, so they may pass the token as ?access_token= instead.
func AuthRequired(verifier TokenVerifier) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		var tokenString string
		if authHeader != "" {
			// Extract token from "Bearer <token>"
			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				return httpx.FromError(c, apperr.Unauthenticated("Invalid authorization format"))
			}
			tokenString = parts[1]
		} else if isUpgrade(c) {
			tokenString = c.Query("access_token")
		}

		if tokenString == "" {
			return httpx.FromError(c, apperr.Unauthenticated("Missing access token"))
		}

		claims, err := verifier.ParseToken(tokenString)
		if err != nil {
			return httpx.FromError(c, apperr.Unauthenticated("Invalid or expired token"))
		}

		c.Locals("userID", claims.Subject)
		c.Locals("userName", claims.Name)

		return c.Next()
	}
}

func isUpgrade(c *fiber.Ctx) bool {
	return strings.EqualFold(c.Get(fiber.HeaderUpgrade), "websocket")
}
