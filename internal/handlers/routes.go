package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/noteduco342/om-channels/internal/middleware"
)

// MountClientAPI registers the authenticated /api routes.
func MountClientAPI(app fiber.Router, verifier middleware.TokenVerifier, messages *MessageHandler, channels *ChannelHandler) {
	api := app.Group("/api", middleware.AuthRequired(verifier))
	api.Get("/me", messages.Me)
	api.Get("/unread", messages.Unread)
	api.Post("/messages", messages.SendMessage)
	api.Post("/messages/:id/read", messages.ReadMessage)
	api.Post("/read-all", messages.ReadAll)

	api.Get("/channels", channels.List)
	api.Get("/channels/:id/users", channels.Users)
	api.Get("/channels/:id/messages", channels.Messages)
	api.Get("/channels/:id/message-view", channels.MessageView)
	api.Get("/channels/:id/unread-count", channels.UnreadCount)
}

// MountManagementAPI registers the admin routes on the management app.
func MountManagementAPI(app fiber.Router, adminToken string, admin *AdminHandler) {
	mgmt := app.Group("/", middleware.AdminRequired(adminToken))
	mgmt.Get("/channels", admin.ListChannels)
	mgmt.Post("/channels", admin.CreateChannel)
	mgmt.Get("/channels/:id", admin.GetChannel)
	mgmt.Delete("/channels/:id", admin.DeleteChannel)
	mgmt.Get("/channels/:id/users", admin.ListMembers)
	mgmt.Post("/channels/:id/users", admin.AddMember)
	mgmt.Delete("/channels/:id/users/:uid", admin.RemoveMember)
	mgmt.Get("/tokens/:uid", admin.IssueToken)
	mgmt.Get("/status", admin.Status)
}

func Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}
