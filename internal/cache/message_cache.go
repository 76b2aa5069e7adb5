package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/noteduco342/om-channels/internal/models"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	MessageTTL = 10 * time.Minute
	PageTTL    = 5 * time.Minute
)

// MessageCache caches immutable log data. Messages never change after
// append, and a full page (after, limit) always holds the same positions,
// so neither needs invalidation. A nil MessageCache is a valid no-op cache.
type MessageCache struct {
	redis *RedisCache
}

func NewMessageCache(redis *RedisCache) *MessageCache {
	return &MessageCache{redis: redis}
}

func messageKey(id uint) string {
	return fmt.Sprintf("msg:%d", id)
}

func pageKey(channelID uint, after uint64, limit int) string {
	return fmt.Sprintf("page:%d:%d:%d", channelID, after, limit)
}

func (mc *MessageCache) enabled() bool {
	return mc != nil && mc.redis != nil
}

func (mc *MessageCache) GetMessage(ctx context.Context, id uint) (*models.Message, bool) {
	if !mc.enabled() {
		return nil, false
	}
	data, err := mc.redis.Get(ctx, messageKey(id))
	if err != nil || data == nil {
		return nil, false
	}

	var msg models.Message
	if err := msgpack.Unmarshal(data, &msg); err != nil {
		return nil, false
	}
	return &msg, true
}

func (mc *MessageCache) SetMessage(ctx context.Context, msg *models.Message) error {
	if !mc.enabled() || msg == nil {
		return nil
	}
	data, err := msgpack.Marshal(msg)
	if err != nil {
		return err
	}
	return mc.redis.Set(ctx, messageKey(msg.ID), data, MessageTTL)
}

func (mc *MessageCache) GetPage(ctx context.Context, channelID uint, after uint64, limit int) ([]models.Message, bool) {
	if !mc.enabled() {
		return nil, false
	}
	data, err := mc.redis.Get(ctx, pageKey(channelID, after, limit))
	if err != nil || data == nil {
		return nil, false
	}

	var messages []models.Message
	if err := msgpack.Unmarshal(data, &messages); err != nil {
		return nil, false
	}
	if len(messages) != limit {
		return nil, false
	}
	return messages, true
}

// SetPage only stores full pages; a short page can still grow.
func (mc *MessageCache) SetPage(ctx context.Context, channelID uint, after uint64, limit int, messages []models.Message) error {
	if !mc.enabled() || limit <= 0 || len(messages) != limit {
		return nil
	}
	data, err := msgpack.Marshal(messages)
	if err != nil {
		return err
	}
	return mc.redis.Set(ctx, pageKey(channelID, after, limit), data, PageTTL)
}
