package handlers

import (
	"context"

	"github.com/gofiber/websocket/v2"
	"github.com/noteduco342/om-channels/internal/broker"
	"github.com/noteduco342/om-channels/internal/handlers/ws"
	"github.com/noteduco342/om-channels/internal/service"
	"github.com/rs/zerolog"
)

type WebSocketHandler struct {
	chat *service.ChatService
	cfg  ws.Config
	log  zerolog.Logger
}

func NewWebSocketHandler(chat *service.ChatService, cfg ws.Config, log zerolog.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		chat: chat,
		cfg:  cfg,
		log:  log.With().Str("component", "ws").Logger(),
	}
}

// HandleWebSocket opens one subscription per connection. Without
// ?channels= it covers every channel the caller belongs to; with it, the
// caller must be a member of each listed channel.
func (h *WebSocketHandler) HandleWebSocket(c *websocket.Conn) {
	userID, _ := c.Locals("userID").(string)
	ctx := context.Background()

	var (
		sub *broker.Subscription
		err error
	)
	channelIDs, err := ParseChannelIDs(c.Query("channels"))
	if err == nil {
		if len(channelIDs) > 0 {
			sub, err = h.chat.SubscribeChannels(ctx, userID, channelIDs)
		} else {
			sub, err = h.chat.SubscribeMessages(ctx, userID)
		}
	}
	if err != nil {
		h.log.Info().Err(err).Str("user_id", userID).Msg("subscription rejected")
		ws.Reject(c, err, h.cfg.WriteTimeout)
		return
	}

	h.log.Info().Str("user_id", userID).Str("subscription", sub.ID()).Uints("channels", sub.Channels()).Msg("websocket connected")
	ws.NewSession(c, sub, h.chat, h.cfg, h.log).Run(ctx)
	h.log.Info().Str("user_id", userID).Str("subscription", sub.ID()).Str("reason", string(sub.Reason())).Msg("websocket disconnected")
}
