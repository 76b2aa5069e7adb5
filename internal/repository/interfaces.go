package repository

import (
	"context"

	"github.com/noteduco342/om-channels/internal/models"
)

// ChannelRepositoryInterface defines the contract for channel and membership storage
type ChannelRepositoryInterface interface {
	Create(ctx context.Context, channel *models.Channel, memberIDs []string) error
	FindByID(ctx context.Context, id uint) (*models.Channel, error)
	List(ctx context.Context) ([]models.Channel, error)
	Delete(ctx context.Context, id uint) error
	AddMember(ctx context.Context, channelID uint, userID string, role models.MemberRole) error
	RemoveMember(ctx context.Context, channelID uint, userID string) error
	GetMembers(ctx context.Context, channelID uint) ([]models.ChannelMember, error)
	IsMember(ctx context.Context, channelID uint, userID string) (bool, error)
	GetUserChannels(ctx context.Context, userID string) ([]models.Channel, error)
}

// MessageRepositoryInterface defines the contract for the append-only message log
type MessageRepositoryInterface interface {
	// Append assigns the next channel position to message and stores it.
	// The sender's membership is checked in the same transaction.
	Append(ctx context.Context, message *models.Message) error
	FindByID(ctx context.Context, id uint) (*models.Message, error)
	// Range returns messages with after < position <= upTo in ascending order.
	Range(ctx context.Context, channelID uint, after, upTo uint64, limit int) ([]models.Message, error)
	LatestPosition(ctx context.Context, channelID uint) (uint64, error)
}

// ReadMarkerRepositoryInterface defines the contract for read marker storage
type ReadMarkerRepositoryInterface interface {
	EnsureForMember(ctx context.Context, channelID uint, userID string) error
	DeleteForMember(ctx context.Context, channelID uint, userID string) error
	UpsertMonotonic(ctx context.Context, channelID uint, userID string, position uint64) error
	Get(ctx context.Context, channelID uint, userID string) (*models.ReadMarker, error)
	ListByUser(ctx context.Context, userID string) ([]models.ReadMarker, error)
}
