package service

import (
	"context"

	"github.com/noteduco342/om-channels/internal/cache"
	"github.com/noteduco342/om-channels/internal/metrics"
	"github.com/noteduco342/om-channels/internal/models"
	"github.com/noteduco342/om-channels/internal/repository"
	"github.com/noteduco342/om-channels/internal/validation"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 100
)

// ClampPageSize applies the external page limits.
func ClampPageSize(count int) int {
	if count <= 0 {
		return DefaultPageSize
	}
	if count > MaxPageSize {
		return MaxPageSize
	}
	return count
}

type MessageService struct {
	messageRepo repository.MessageRepositoryInterface
	cache       *cache.MessageCache
	maxLength   int
}

// NewMessageService builds the log service. cache may be nil.
func NewMessageService(messageRepo repository.MessageRepositoryInterface, messageCache *cache.MessageCache, maxLength int) *MessageService {
	if maxLength <= 0 {
		maxLength = validation.DefaultMaxMessageLength
	}
	return &MessageService{
		messageRepo: messageRepo,
		cache:       messageCache,
		maxLength:   maxLength,
	}
}

// Append stores content as the next message of channelID. The repository
// checks the channel and the sender's membership in the same transaction
// that assigns the position.
func (s *MessageService) Append(ctx context.Context, channelID uint, senderID, content string) (*models.Message, error) {
	if err := validation.ValidateContent(content, s.maxLength); err != nil {
		return nil, err
	}
	message := &models.Message{
		ChannelID: channelID,
		SenderID:  senderID,
		Content:   validation.NormalizeContent(content),
	}
	if err := s.messageRepo.Append(ctx, message); err != nil {
		return nil, err
	}
	metrics.MessagesAppended.Inc()
	_ = s.cache.SetMessage(ctx, message)
	return message, nil
}

func (s *MessageService) Get(ctx context.Context, id uint) (*models.Message, error) {
	if msg, ok := s.cache.GetMessage(ctx, id); ok {
		return msg, nil
	}
	msg, err := s.messageRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	_ = s.cache.SetMessage(ctx, msg)
	return msg, nil
}

// Range returns up to limit messages with position > after, bounded by the
// latest position observed when the call starts. Appends that commit during
// the read are left for the next page.
func (s *MessageService) Range(ctx context.Context, channelID uint, after uint64, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	snapshot, err := s.messageRepo.LatestPosition(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if snapshot <= after {
		return []models.Message{}, nil
	}
	if page, ok := s.cache.GetPage(ctx, channelID, after, limit); ok {
		return page, nil
	}

	messages, err := s.messageRepo.Range(ctx, channelID, after, snapshot, limit)
	if err != nil {
		return nil, err
	}
	_ = s.cache.SetPage(ctx, channelID, after, limit, messages)
	return messages, nil
}

// LatestPosition is 0 for an empty channel.
func (s *MessageService) LatestPosition(ctx context.Context, channelID uint) (uint64, error) {
	return s.messageRepo.LatestPosition(ctx, channelID)
}
