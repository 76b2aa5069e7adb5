package repository

import (
	"context"
	"time"

	"github.com/noteduco342/om-channels/internal/apperr"
	"github.com/noteduco342/om-channels/internal/models"
	"gorm.io/gorm"
)

type MessageRepository struct {
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

// Append bumps channels.last_position and inserts the message in one
// transaction. The UPDATE takes the channel row lock, which serializes
// appends to the same channel until commit.
func (r *MessageRepository) Append(ctx context.Context, message *models.Message) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()

		var position uint64
		res := tx.Raw(`
			UPDATE channels
			SET last_position = last_position + 1, updated_at = ?
			WHERE id = ? AND deleted_at IS NULL
			RETURNING last_position
		`, now, message.ChannelID).Scan(&position)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return apperr.NotFound("channel not found")
		}

		var count int64
		if err := tx.Model(&models.ChannelMember{}).
			Where("channel_id = ? AND user_id = ?", message.ChannelID, message.SenderID).
			Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return apperr.Forbidden("sender is not a member of the channel")
		}

		message.Position = position
		message.SentAt = now
		return tx.Create(message).Error
	})
	return mapError(err, "message")
}

func (r *MessageRepository) FindByID(ctx context.Context, id uint) (*models.Message, error) {
	var message models.Message
	if err := r.db.WithContext(ctx).First(&message, id).Error; err != nil {
		return nil, mapError(err, "message")
	}
	return &message, nil
}

func (r *MessageRepository) Range(ctx context.Context, channelID uint, after, upTo uint64, limit int) ([]models.Message, error) {
	var messages []models.Message
	if upTo <= after || limit <= 0 {
		return messages, nil
	}
	err := r.db.WithContext(ctx).
		Where("channel_id = ? AND position > ? AND position <= ?", channelID, after, upTo).
		Order("position ASC").
		Limit(limit).
		Find(&messages).Error
	return messages, mapError(err, "message")
}

func (r *MessageRepository) LatestPosition(ctx context.Context, channelID uint) (uint64, error) {
	var channel models.Channel
	err := r.db.WithContext(ctx).Select("id", "last_position").First(&channel, channelID).Error
	if err != nil {
		return 0, mapError(err, "channel")
	}
	return channel.LastPosition, nil
}
