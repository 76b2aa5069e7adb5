package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/noteduco342/om-channels/internal/apperr"
	"github.com/noteduco342/om-channels/internal/broker"
	"github.com/noteduco342/om-channels/internal/httpx"
	"github.com/noteduco342/om-channels/internal/models"
	"github.com/noteduco342/om-channels/internal/service"
)

// AdminHandler serves the management API: channel lifecycle, membership
// and token issuance for the identity system in front of this service.
type AdminHandler struct {
	channels *service.ChannelService
	auth     *service.AuthService
	live     LiveStats
}

// LiveStats reports live subscription counts, normally *broker.Broker.
type LiveStats interface {
	Stats() broker.Stats
	ChannelSubscribers(channelID uint) int
}

func NewAdminHandler(channels *service.ChannelService, auth *service.AuthService, live LiveStats) *AdminHandler {
	return &AdminHandler{channels: channels, auth: auth, live: live}
}

// ChannelDetail is a channel plus the number of live subscriptions on it.
type ChannelDetail struct {
	models.ChannelResponse
	Subscribers int `json:"subscribers"`
}

type CreateChannelRequest struct {
	DisplayName  string   `json:"displayName"`
	InitialUsers []string `json:"initialUsers"`
}

type AddMemberRequest struct {
	UID  string            `json:"uid"`
	Role models.MemberRole `json:"role"`
}

type TokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// GET /channels
func (h *AdminHandler) ListChannels(c *fiber.Ctx) error {
	channels, err := h.channels.ListChannels(c.UserContext())
	if err != nil {
		return httpx.FromError(c, err)
	}
	return c.JSON(channelResponses(channels))
}

// POST /channels
func (h *AdminHandler) CreateChannel(c *fiber.Ctx) error {
	var req CreateChannelRequest
	if err := c.BodyParser(&req); err != nil {
		return httpx.FromError(c, apperr.InvalidArg("Invalid request body"))
	}
	channel, err := h.channels.CreateChannel(c.UserContext(), req.DisplayName, req.InitialUsers)
	if err != nil {
		return httpx.FromError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(channel.ToResponse())
}

// GET /channels/:id
func (h *AdminHandler) GetChannel(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return httpx.FromError(c, err)
	}
	channel, err := h.channels.GetChannel(c.UserContext(), id)
	if err != nil {
		return httpx.FromError(c, err)
	}
	return c.JSON(ChannelDetail{
		ChannelResponse: channel.ToResponse(),
		Subscribers:     h.live.ChannelSubscribers(id),
	})
}

// GET /status
func (h *AdminHandler) Status(c *fiber.Ctx) error {
	return c.JSON(h.live.Stats())
}

// DELETE /channels/:id
func (h *AdminHandler) DeleteChannel(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return httpx.FromError(c, err)
	}
	if err := h.channels.DeleteChannel(c.UserContext(), id); err != nil {
		return httpx.FromError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// GET /channels/:id/users
func (h *AdminHandler) ListMembers(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return httpx.FromError(c, err)
	}
	members, err := h.channels.ListMembers(c.UserContext(), id)
	if err != nil {
		return httpx.FromError(c, err)
	}
	return c.JSON(nonNil(members))
}

// POST /channels/:id/users
func (h *AdminHandler) AddMember(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return httpx.FromError(c, err)
	}
	var req AddMemberRequest
	if err := c.BodyParser(&req); err != nil {
		return httpx.FromError(c, apperr.InvalidArg("Invalid request body"))
	}
	if err := h.channels.AddMember(c.UserContext(), id, req.UID, req.Role); err != nil {
		return httpx.FromError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// DELETE /channels/:id/users/:uid
func (h *AdminHandler) RemoveMember(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return httpx.FromError(c, err)
	}
	if err := h.channels.RemoveMember(c.UserContext(), id, c.Params("uid")); err != nil {
		return httpx.FromError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// IssueToken mints an access token for :uid, named by ?name=.
// GET /tokens/:uid
func (h *AdminHandler) IssueToken(c *fiber.Ctx) error {
	token, expiresAt, err := h.auth.IssueToken(c.Params("uid"), c.Query("name"))
	if err != nil {
		return httpx.FromError(c, err)
	}
	return c.JSON(TokenResponse{Token: token, ExpiresAt: expiresAt})
}
