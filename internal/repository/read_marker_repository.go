package repository

import (
	"context"
	"time"

	"github.com/noteduco342/om-channels/internal/models"
	"gorm.io/gorm"
)

type ReadMarkerRepository struct {
	db *gorm.DB
}

func NewReadMarkerRepository(db *gorm.DB) *ReadMarkerRepository {
	return &ReadMarkerRepository{db: db}
}

func (r *ReadMarkerRepository) EnsureForMember(ctx context.Context, channelID uint, userID string) error {
	err := r.db.WithContext(ctx).Exec(`
		INSERT INTO read_markers (user_id, channel_id, last_seen_position, updated_at)
		VALUES (?, ?, 0, ?)
		ON CONFLICT (user_id, channel_id) DO NOTHING
	`, userID, channelID, time.Now().UTC()).Error
	return mapError(err, "read marker")
}

func (r *ReadMarkerRepository) DeleteForMember(ctx context.Context, channelID uint, userID string) error {
	err := r.db.WithContext(ctx).
		Where("channel_id = ? AND user_id = ?", channelID, userID).
		Delete(&models.ReadMarker{}).Error
	return mapError(err, "read marker")
}

// UpsertMonotonic never moves a marker backward. updated_at only changes
// when the marker actually advances.
func (r *ReadMarkerRepository) UpsertMonotonic(ctx context.Context, channelID uint, userID string, position uint64) error {
	err := r.db.WithContext(ctx).Exec(`
		INSERT INTO read_markers (user_id, channel_id, last_seen_position, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (user_id, channel_id) DO UPDATE
		SET updated_at = CASE
				WHEN excluded.last_seen_position > read_markers.last_seen_position THEN excluded.updated_at
				ELSE read_markers.updated_at
			END,
			last_seen_position = CASE
				WHEN excluded.last_seen_position > read_markers.last_seen_position THEN excluded.last_seen_position
				ELSE read_markers.last_seen_position
			END
	`, userID, channelID, position, time.Now().UTC()).Error
	return mapError(err, "read marker")
}

func (r *ReadMarkerRepository) Get(ctx context.Context, channelID uint, userID string) (*models.ReadMarker, error) {
	var marker models.ReadMarker
	err := r.db.WithContext(ctx).Where("channel_id = ? AND user_id = ?", channelID, userID).First(&marker).Error
	if err != nil {
		return nil, mapError(err, "read marker")
	}
	return &marker, nil
}

func (r *ReadMarkerRepository) ListByUser(ctx context.Context, userID string) ([]models.ReadMarker, error) {
	var markers []models.ReadMarker
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("channel_id ASC").Find(&markers).Error
	return markers, mapError(err, "read marker")
}
