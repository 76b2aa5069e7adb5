package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/noteduco342/om-channels/internal/apperr"
	"github.com/noteduco342/om-channels/internal/httpx"
)

// OriginAllowed guards the websocket upgrade against cross-site pages.
// Non-browser clients send no Origin and pass; "*" or an empty list allows
// every origin.
func OriginAllowed(allowed []string) fiber.Handler {
	set := make(map[string]struct{}, len(allowed))
	allowAll := len(allowed) == 0
	for _, origin := range allowed {
		if origin == "*" {
			allowAll = true
		}
		set[strings.TrimSuffix(origin, "/")] = struct{}{}
	}

	return func(c *fiber.Ctx) error {
		origin := strings.TrimSpace(c.Get(fiber.HeaderOrigin))
		if origin == "" || allowAll {
			return c.Next()
		}
		if _, ok := set[strings.TrimSuffix(origin, "/")]; !ok {
			return httpx.FromError(c, apperr.Forbidden("Origin not allowed"))
		}
		return c.Next()
	}
}

// SplitCSV splits a comma separated setting, dropping blanks.
func SplitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
