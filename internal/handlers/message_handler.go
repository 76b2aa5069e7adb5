package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/noteduco342/om-channels/internal/apperr"
	"github.com/noteduco342/om-channels/internal/httpx"
	"github.com/noteduco342/om-channels/internal/models"
	"github.com/noteduco342/om-channels/internal/service"
)

type MessageHandler struct {
	chat *service.ChatService
}

func NewMessageHandler(chat *service.ChatService) *MessageHandler {
	return &MessageHandler{chat: chat}
}

type SendMessageRequest struct {
	Content string `json:"content"`
	Channel uint   `json:"channel"`
}

// Me returns the identity carried by the access token.
// GET /api/me
func (h *MessageHandler) Me(c *fiber.Ctx) error {
	userID, err := currentUser(c)
	if err != nil {
		return httpx.FromError(c, err)
	}
	name, _ := c.Locals("userName").(string)
	return c.JSON(models.User{ID: userID, Name: name})
}

// Unread lists unread messages across the caller's channels.
// GET /api/unread
func (h *MessageHandler) Unread(c *fiber.Ctx) error {
	userID, err := currentUser(c)
	if err != nil {
		return httpx.FromError(c, err)
	}
	messages, err := h.chat.UnreadMessages(c.UserContext(), userID)
	if err != nil {
		return httpx.FromError(c, err)
	}
	return c.JSON(nonNil(messages))
}

// SendMessage appends to a channel the caller belongs to.
// POST /api/messages
func (h *MessageHandler) SendMessage(c *fiber.Ctx) error {
	userID, err := currentUser(c)
	if err != nil {
		return httpx.FromError(c, err)
	}

	var req SendMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return httpx.FromError(c, apperr.InvalidArg("Invalid request body"))
	}
	if req.Channel == 0 {
		return httpx.FromError(c, apperr.InvalidArg("channel is required"))
	}

	message, err := h.chat.CreateMessage(c.UserContext(), userID, req.Channel, req.Content)
	if err != nil {
		return httpx.FromError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(message)
}

// ReadMessage marks a message and everything before it as read.
// POST /api/messages/:id/read
func (h *MessageHandler) ReadMessage(c *fiber.Ctx) error {
	userID, err := currentUser(c)
	if err != nil {
		return httpx.FromError(c, err)
	}
	messageID, err := paramID(c, "id")
	if err != nil {
		return httpx.FromError(c, err)
	}
	if err := h.chat.ReadMessage(c.UserContext(), userID, messageID); err != nil {
		return httpx.FromError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// ReadAll moves every marker of the caller to the end of its channel.
// POST /api/read-all
func (h *MessageHandler) ReadAll(c *fiber.Ctx) error {
	userID, err := currentUser(c)
	if err != nil {
		return httpx.FromError(c, err)
	}
	if err := h.chat.MarkAllAsRead(c.UserContext(), userID); err != nil {
		return httpx.FromError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// nonNil keeps empty lists encoded as [] rather than null.
func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
