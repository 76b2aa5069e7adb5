package middleware

import (
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/noteduco342/om-channels/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthRequired(t *testing.T) {
	auth := service.NewAuthService("test-secret")
	token, _, err := auth.IssueToken("alice", "Alice")
	require.NoError(t, err)

	app := fiber.New()
	app.Get("/me", AuthRequired(auth), func(c *fiber.Ctx) error {
		return c.SendString(c.Locals("userID").(string) + ":" + c.Locals("userName").(string))
	})

	tests := []struct {
		name       string
		url        string
		header     string
		upgrade    bool
		wantStatus int
	}{
		{"Valid bearer", "/me", "Bearer " + token, false, 200},
		{"Missing token", "/me", "", false, 401},
		{"Bad scheme", "/me", "Token " + token, false, 401},
		{"Bad token", "/me", "Bearer nope", false, 401},
		{"Query token on upgrade", "/me?access_token=" + token, "", true, 200},
		{"Query token without upgrade", "/me?access_token=" + token, "", false, 401},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", tt.url, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			if tt.upgrade {
				req.Header.Set("Upgrade", "websocket")
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
		})
	}
}

func TestAdminRequired(t *testing.T) {
	tests := []struct {
		name       string
		configured string
		given      string
		wantStatus int
	}{
		{"Disabled", "", "", 200},
		{"Valid", "s3cret", "s3cret", 200},
		{"Missing", "s3cret", "", 401},
		{"Wrong", "s3cret", "guess", 403},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := fiber.New()
			app.Get("/", AdminRequired(tt.configured), func(c *fiber.Ctx) error { return c.SendStatus(200) })
			req := httptest.NewRequest("GET", "/", nil)
			if tt.given != "" {
				req.Header.Set("X-Admin-Token", tt.given)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
		})
	}
}

func TestOriginAllowed(t *testing.T) {
	app := fiber.New()
	app.Get("/", OriginAllowed(SplitCSV(" https://a.example , https://b.example ")), func(c *fiber.Ctx) error {
		return c.SendStatus(200)
	})

	for origin, want := range map[string]int{
		"":                  200,
		"https://a.example": 200,
		"https://evil.test": 403,
	} {
		req := httptest.NewRequest("GET", "/", nil)
		if origin != "" {
			req.Header.Set("Origin", origin)
		}
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, want, resp.StatusCode, "origin %q", origin)
	}
}
