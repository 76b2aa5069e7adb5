package repository

import (
	"context"

	"github.com/noteduco342/om-channels/internal/apperr"
	"github.com/noteduco342/om-channels/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ChannelRepository struct {
	db *gorm.DB
}

func NewChannelRepository(db *gorm.DB) *ChannelRepository {
	return &ChannelRepository{db: db}
}

func (r *ChannelRepository) Create(ctx context.Context, channel *models.Channel, memberIDs []string) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(channel).Error; err != nil {
			return err
		}
		if len(memberIDs) == 0 {
			return nil
		}
		members := make([]models.ChannelMember, 0, len(memberIDs))
		for _, uid := range memberIDs {
			members = append(members, models.ChannelMember{
				ChannelID: channel.ID,
				UserID:    uid,
				Role:      models.RoleMember,
			})
		}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&members).Error; err != nil {
			return err
		}
		channel.Members = members
		return nil
	})
	return mapError(err, "channel")
}

func (r *ChannelRepository) FindByID(ctx context.Context, id uint) (*models.Channel, error) {
	var channel models.Channel
	if err := r.db.WithContext(ctx).Preload("Members").First(&channel, id).Error; err != nil {
		return nil, mapError(err, "channel")
	}
	return &channel, nil
}

func (r *ChannelRepository) List(ctx context.Context) ([]models.Channel, error) {
	var channels []models.Channel
	err := r.db.WithContext(ctx).Order("id ASC").Find(&channels).Error
	return channels, mapError(err, "channel")
}

// Delete soft-deletes the channel so its messages stay available for audit,
// and drops memberships and read markers.
func (r *ChannelRepository) Delete(ctx context.Context, id uint) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Delete(&models.Channel{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return apperr.NotFound("channel not found")
		}
		if err := tx.Where("channel_id = ?", id).Delete(&models.ChannelMember{}).Error; err != nil {
			return err
		}
		return tx.Where("channel_id = ?", id).Delete(&models.ReadMarker{}).Error
	})
	return mapError(err, "channel")
}

// AddMember is idempotent: an existing membership keeps its original role.
func (r *ChannelRepository) AddMember(ctx context.Context, channelID uint, userID string, role models.MemberRole) error {
	if role == "" {
		role = models.RoleMember
	}
	member := models.ChannelMember{
		ChannelID: channelID,
		UserID:    userID,
		Role:      role,
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&member).Error
	return mapError(err, "channel member")
}

func (r *ChannelRepository) RemoveMember(ctx context.Context, channelID uint, userID string) error {
	err := r.db.WithContext(ctx).
		Where("channel_id = ? AND user_id = ?", channelID, userID).
		Delete(&models.ChannelMember{}).Error
	return mapError(err, "channel member")
}

func (r *ChannelRepository) GetMembers(ctx context.Context, channelID uint) ([]models.ChannelMember, error) {
	var members []models.ChannelMember
	err := r.db.WithContext(ctx).
		Where("channel_id = ?", channelID).
		Order("joined_at ASC, user_id ASC").
		Find(&members).Error
	return members, mapError(err, "channel member")
}

func (r *ChannelRepository) IsMember(ctx context.Context, channelID uint, userID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.ChannelMember{}).
		Joins("JOIN channels ON channels.id = channel_members.channel_id AND channels.deleted_at IS NULL").
		Where("channel_members.channel_id = ? AND channel_members.user_id = ?", channelID, userID).
		Count(&count).Error
	return count > 0, mapError(err, "channel member")
}

func (r *ChannelRepository) GetUserChannels(ctx context.Context, userID string) ([]models.Channel, error) {
	var channels []models.Channel
	err := r.db.WithContext(ctx).
		Joins("JOIN channel_members ON channel_members.channel_id = channels.id").
		Where("channel_members.user_id = ?", userID).
		Order("channels.id ASC").
		Find(&channels).Error
	return channels, mapError(err, "channel")
}
