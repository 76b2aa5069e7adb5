package ws

import (
	"errors"

	"github.com/noteduco342/om-channels/internal/apperr"
	"github.com/noteduco342/om-channels/internal/broker"
	"github.com/noteduco342/om-channels/internal/models"
)

// MessagePing is an application-level keepalive; it is answered with pong.
type MessagePing struct{}

func (msg *MessagePing) GetType() string { return "ping" }

func (msg *MessagePing) Process(ctx *MessageContext) error {
	return ctx.Send(&MessagePong{})
}

// MessagePong goes both ways. Inbound it only refreshes the read deadline.
type MessagePong struct{}

func (msg *MessagePong) GetType() string { return "pong" }

func (msg *MessagePong) Process(*MessageContext) error { return nil }

// MessageResume asks for everything after a known position in one channel.
// Clients send it after reconnecting, once per channel.
type MessageResume struct {
	ChannelID uint   `json:"channel_id"`
	After     uint64 `json:"after"`
	Limit     int    `json:"limit,omitempty"`
}

func (msg *MessageResume) GetType() string {
	return "resume"
}

func (msg *MessageResume) Process(ctx *MessageContext) error {
	if msg.ChannelID == 0 {
		return apperr.InvalidArg("channel_id is required")
	}
	messages, err := ctx.Chat.CatchUp(ctx.Ctx, ctx.UserID, msg.ChannelID, msg.After, msg.Limit)
	if err != nil {
		return err
	}
	return ctx.Send(&MessageBatch{ChannelID: msg.ChannelID, Messages: messages})
}

// MessageRead marks a message, and everything before it, as read.
type MessageRead struct {
	MessageID uint `json:"message_id"`
}

func (msg *MessageRead) GetType() string {
	return "read"
}

func (msg *MessageRead) Process(ctx *MessageContext) error {
	if msg.MessageID == 0 {
		return apperr.InvalidArg("message_id is required")
	}
	return ctx.Chat.ReadMessage(ctx.Ctx, ctx.UserID, msg.MessageID)
}

// MessageNew carries one live message.
type MessageNew struct {
	Message models.Message `json:"message"`
}

func (msg *MessageNew) GetType() string {
	return "message"
}

// MessageBatch answers a resume frame.
type MessageBatch struct {
	ChannelID uint             `json:"channel_id"`
	Messages  []models.Message `json:"messages"`
}

func (msg *MessageBatch) GetType() string {
	return "batch"
}

// MessageClosed is the terminal notice for a subscription, or for one
// channel of it when ChannelID is set. Retry tells the client whether to
// reconnect and catch up or to stop.
type MessageClosed struct {
	ChannelID uint   `json:"channel_id,omitempty"`
	Reason    string `json:"reason"`
	Retry     bool   `json:"retry"`
}

func (msg *MessageClosed) GetType() string {
	return "closed"
}

func closedFrame(channelID uint, reason broker.CloseReason) *MessageClosed {
	return &MessageClosed{ChannelID: channelID, Reason: string(reason), Retry: reason.Retry()}
}

// MessageError reports a failed client frame. The connection stays open.
type MessageError struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

func (msg *MessageError) GetType() string {
	return "error"
}

func errorFrame(err error) *MessageError {
	var appErr *apperr.AppError
	if !errors.As(err, &appErr) || appErr.Code == apperr.CodeInternal || appErr.Code == apperr.CodeUnknown {
		return &MessageError{Code: string(apperr.CodeInternal), Error: "internal error"}
	}
	return &MessageError{Code: string(appErr.Code), Error: appErr.Message}
}
