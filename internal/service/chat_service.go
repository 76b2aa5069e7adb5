package service

import (
	"context"

	"github.com/noteduco342/om-channels/internal/apperr"
	"github.com/noteduco342/om-channels/internal/broker"
	"github.com/noteduco342/om-channels/internal/models"
	"github.com/rs/zerolog"
)

const (
	DefaultCatchUpSize = 100
	MaxCatchUpSize     = 1000
)

// Notifier receives every appended message, in position order per channel.
// The local broker and the Redis relay both implement it.
type Notifier interface {
	Notify(ctx context.Context, msg models.Message)
}

type Subscriber interface {
	Subscribe(ctx context.Context, userID string, channelIDs []uint) (*broker.Subscription, error)
	SubscribeMember(ctx context.Context, userID string) (*broker.Subscription, error)
}

// ChatService is the query/mutation surface used by the transports. Every
// call takes the caller's identity explicitly.
type ChatService struct {
	channels *ChannelService
	messages *MessageService
	reads    *ReadStateService
	notifier Notifier
	subs     Subscriber
	locks    *channelLocks
	log      zerolog.Logger
}

func NewChatService(
	channels *ChannelService,
	messages *MessageService,
	reads *ReadStateService,
	notifier Notifier,
	subs Subscriber,
	log zerolog.Logger,
) *ChatService {
	return &ChatService{
		channels: channels,
		messages: messages,
		reads:    reads,
		notifier: notifier,
		subs:     subs,
		locks:    newChannelLocks(),
		log:      log.With().Str("component", "chat").Logger(),
	}
}

// CreateMessage appends and notifies inside the channel's critical section,
// so notifications leave in position order.
func (s *ChatService) CreateMessage(ctx context.Context, userID string, channelID uint, content string) (*models.Message, error) {
	unlock := s.locks.Lock(channelID)
	defer unlock()

	msg, err := s.messages.Append(ctx, channelID, userID, content)
	if err != nil {
		if apperr.Is(err, apperr.CodeInternal) {
			s.log.Error().Stack().Err(err).Uint("channel_id", channelID).Msg("append failed")
		}
		return nil, err
	}
	if s.notifier != nil {
		s.notifier.Notify(ctx, *msg)
	}
	s.log.Debug().
		Uint("channel_id", channelID).
		Uint64("position", msg.Position).
		Str("sender_id", userID).
		Msg("message appended")
	return msg, nil
}

// ReadMessage marks messageID and everything before it in its channel as
// read for userID.
func (s *ChatService) ReadMessage(ctx context.Context, userID string, messageID uint) error {
	msg, err := s.messages.Get(ctx, messageID)
	if err != nil {
		return err
	}
	return s.reads.MarkReadByMessage(ctx, userID, msg)
}

func (s *ChatService) MarkAllAsRead(ctx context.Context, userID string) error {
	return s.reads.MarkAllRead(ctx, userID)
}

func (s *ChatService) UnreadMessages(ctx context.Context, userID string) ([]models.Message, error) {
	return s.reads.UnreadMessages(ctx, userID)
}

func (s *ChatService) UnreadCount(ctx context.Context, userID string, channelID uint) (uint64, error) {
	if err := s.channels.Authorize(ctx, channelID, userID); err != nil {
		return 0, err
	}
	return s.reads.UnreadCount(ctx, userID, channelID)
}

func (s *ChatService) UserChannels(ctx context.Context, userID string) ([]models.Channel, error) {
	return s.channels.UserChannels(ctx, userID)
}

// Messages is the raw paginated log read.
func (s *ChatService) Messages(ctx context.Context, userID string, channelID uint, last uint64, count int) ([]models.Message, error) {
	if err := s.channels.Authorize(ctx, channelID, userID); err != nil {
		return nil, err
	}
	return s.messages.Range(ctx, channelID, last, ClampPageSize(count))
}

// CatchUp is Messages with the larger limits used on resume.
func (s *ChatService) CatchUp(ctx context.Context, userID string, channelID uint, after uint64, limit int) ([]models.Message, error) {
	if err := s.channels.Authorize(ctx, channelID, userID); err != nil {
		return nil, err
	}
	switch {
	case limit <= 0:
		limit = DefaultCatchUpSize
	case limit > MaxCatchUpSize:
		limit = MaxCatchUpSize
	}
	return s.messages.Range(ctx, channelID, after, limit)
}

// MessageView annotates a page of the log with userID's read state as of
// this call. Time is set only on the message the marker points at.
func (s *ChatService) MessageView(ctx context.Context, channelID uint, userID string, last uint64, count int) ([]models.MessageView, error) {
	if err := s.channels.Authorize(ctx, channelID, userID); err != nil {
		return nil, err
	}
	marker, err := s.reads.Marker(ctx, userID, channelID)
	if err != nil {
		return nil, err
	}
	msgs, err := s.messages.Range(ctx, channelID, last, ClampPageSize(count))
	if err != nil {
		return nil, err
	}

	views := make([]models.MessageView, 0, len(msgs))
	for _, m := range msgs {
		view := models.MessageView{
			UserID:  userID,
			Order:   m.Position,
			Message: m,
			Seen:    marker.Seen(m.Position),
		}
		if m.Position == marker.LastSeenPosition {
			readAt := marker.UpdatedAt
			view.Time = &readAt
		}
		views = append(views, view)
	}
	return views, nil
}

// ChannelUsers lists the members of a channel the caller belongs to.
func (s *ChatService) ChannelUsers(ctx context.Context, userID string, channelID uint) ([]models.User, error) {
	if err := s.channels.Authorize(ctx, channelID, userID); err != nil {
		return nil, err
	}
	members, err := s.channels.ListMembers(ctx, channelID)
	if err != nil {
		return nil, err
	}
	users := make([]models.User, 0, len(members))
	for _, m := range members {
		users = append(users, models.User{ID: m.UserID})
	}
	return users, nil
}

// SubscribeMessages opens a live stream over every channel userID belongs
// to. Channels joined later are attached by the registry.
func (s *ChatService) SubscribeMessages(ctx context.Context, userID string) (*broker.Subscription, error) {
	return s.subs.SubscribeMember(ctx, userID)
}

// SubscribeChannels opens a live stream over an explicit channel set. It
// fails with Forbidden if userID is not a member of every channel. The set
// never grows; it only shrinks as channels are left or deleted.
func (s *ChatService) SubscribeChannels(ctx context.Context, userID string, channelIDs []uint) (*broker.Subscription, error) {
	for _, id := range channelIDs {
		if err := s.channels.Authorize(ctx, id, userID); err != nil {
			return nil, err
		}
	}
	return s.subs.Subscribe(ctx, userID, channelIDs)
}
