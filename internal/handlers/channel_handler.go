package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/noteduco342/om-channels/internal/apperr"
	"github.com/noteduco342/om-channels/internal/httpx"
	"github.com/noteduco342/om-channels/internal/models"
	"github.com/noteduco342/om-channels/internal/service"
)

// ChannelHandler serves the caller's view of channels they belong to.
type ChannelHandler struct {
	chat *service.ChatService
}

func NewChannelHandler(chat *service.ChatService) *ChannelHandler {
	return &ChannelHandler{chat: chat}
}

// GET /api/channels
func (h *ChannelHandler) List(c *fiber.Ctx) error {
	userID, err := currentUser(c)
	if err != nil {
		return httpx.FromError(c, err)
	}
	channels, err := h.chat.UserChannels(c.UserContext(), userID)
	if err != nil {
		return httpx.FromError(c, err)
	}
	return c.JSON(channelResponses(channels))
}

// GET /api/channels/:id/users
func (h *ChannelHandler) Users(c *fiber.Ctx) error {
	userID, channelID, err := h.target(c)
	if err != nil {
		return httpx.FromError(c, err)
	}
	users, err := h.chat.ChannelUsers(c.UserContext(), userID, channelID)
	if err != nil {
		return httpx.FromError(c, err)
	}
	return c.JSON(nonNil(users))
}

// Messages pages through the log after ?last= (exclusive), ?count= at a time.
// GET /api/channels/:id/messages
func (h *ChannelHandler) Messages(c *fiber.Ctx) error {
	userID, channelID, err := h.target(c)
	if err != nil {
		return httpx.FromError(c, err)
	}
	last, err := queryPosition(c, "last")
	if err != nil {
		return httpx.FromError(c, err)
	}
	count, err := queryCount(c, "count")
	if err != nil {
		return httpx.FromError(c, err)
	}
	messages, err := h.chat.Messages(c.UserContext(), userID, channelID, last, count)
	if err != nil {
		return httpx.FromError(c, err)
	}
	return c.JSON(nonNil(messages))
}

// MessageView is Messages annotated with read state. Only the caller's own
// view can be requested.
// GET /api/channels/:id/message-view
func (h *ChannelHandler) MessageView(c *fiber.Ctx) error {
	userID, channelID, err := h.target(c)
	if err != nil {
		return httpx.FromError(c, err)
	}
	if viewer := c.Query("user"); viewer != "" && viewer != userID {
		return httpx.FromError(c, apperr.Forbidden("cannot view another user's read state"))
	}
	last, err := queryPosition(c, "last")
	if err != nil {
		return httpx.FromError(c, err)
	}
	count, err := queryCount(c, "count")
	if err != nil {
		return httpx.FromError(c, err)
	}
	views, err := h.chat.MessageView(c.UserContext(), channelID, userID, last, count)
	if err != nil {
		return httpx.FromError(c, err)
	}
	return c.JSON(nonNil(views))
}

// GET /api/channels/:id/unread-count
func (h *ChannelHandler) UnreadCount(c *fiber.Ctx) error {
	userID, channelID, err := h.target(c)
	if err != nil {
		return httpx.FromError(c, err)
	}
	count, err := h.chat.UnreadCount(c.UserContext(), userID, channelID)
	if err != nil {
		return httpx.FromError(c, err)
	}
	return c.JSON(fiber.Map{"count": count})
}

func (h *ChannelHandler) target(c *fiber.Ctx) (string, uint, error) {
	userID, err := currentUser(c)
	if err != nil {
		return "", 0, err
	}
	channelID, err := paramID(c, "id")
	if err != nil {
		return "", 0, err
	}
	return userID, channelID, nil
}

func channelResponses(channels []models.Channel) []models.ChannelResponse {
	out := make([]models.ChannelResponse, 0, len(channels))
	for i := range channels {
		out = append(out, channels[i].ToResponse())
	}
	return out
}
