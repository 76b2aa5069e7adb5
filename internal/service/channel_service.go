package service

import (
	"context"

	"github.com/noteduco342/om-channels/internal/apperr"
	"github.com/noteduco342/om-channels/internal/models"
	"github.com/noteduco342/om-channels/internal/repository"
	"github.com/noteduco342/om-channels/internal/validation"
	"github.com/rs/zerolog"
)

// MembershipEvents is told about registry changes that affect live
// subscriptions. The broker implements it.
type MembershipEvents interface {
	Attach(channelID uint, userID string)
	Detach(channelID uint, userID string)
	CloseChannel(channelID uint)
}

type ChannelService struct {
	channelRepo repository.ChannelRepositoryInterface
	markerRepo  repository.ReadMarkerRepositoryInterface
	events      MembershipEvents
	log         zerolog.Logger
}

func NewChannelService(
	channelRepo repository.ChannelRepositoryInterface,
	markerRepo repository.ReadMarkerRepositoryInterface,
	events MembershipEvents,
	log zerolog.Logger,
) *ChannelService {
	return &ChannelService{
		channelRepo: channelRepo,
		markerRepo:  markerRepo,
		events:      events,
		log:         log.With().Str("component", "channels").Logger(),
	}
}

func (s *ChannelService) CreateChannel(ctx context.Context, displayName string, initialMembers []string) (*models.Channel, error) {
	if err := validation.ValidateDisplayName(displayName); err != nil {
		return nil, err
	}
	members := validation.UniqueUserIDs(initialMembers)
	for _, uid := range members {
		if !validation.ValidateUserID(uid) {
			return nil, apperr.InvalidArg("invalid user id")
		}
	}

	channel := &models.Channel{DisplayName: validation.NormalizeDisplayName(displayName)}
	if err := s.channelRepo.Create(ctx, channel, members); err != nil {
		return nil, err
	}
	// Markers are best-effort: a missing one reads as position zero and is
	// created by the first MarkRead.
	for _, uid := range members {
		if err := s.markerRepo.EnsureForMember(ctx, channel.ID, uid); err != nil {
			s.log.Warn().Err(err).Uint("channel_id", channel.ID).Str("user_id", uid).Msg("create read marker")
		}
	}

	s.log.Info().Uint("channel_id", channel.ID).Int("members", len(members)).Msg("channel created")
	return channel, nil
}

func (s *ChannelService) GetChannel(ctx context.Context, id uint) (*models.Channel, error) {
	return s.channelRepo.FindByID(ctx, id)
}

func (s *ChannelService) ListChannels(ctx context.Context) ([]models.Channel, error) {
	return s.channelRepo.List(ctx)
}

// DeleteChannel removes the channel from every core operation and forces
// its live subscribers off with channel_deleted.
func (s *ChannelService) DeleteChannel(ctx context.Context, id uint) error {
	if err := s.channelRepo.Delete(ctx, id); err != nil {
		return err
	}
	if s.events != nil {
		s.events.CloseChannel(id)
	}
	s.log.Info().Uint("channel_id", id).Msg("channel deleted")
	return nil
}

func (s *ChannelService) AddMember(ctx context.Context, channelID uint, userID string, role models.MemberRole) error {
	if !validation.ValidateUserID(userID) {
		return apperr.InvalidArg("invalid user id")
	}
	switch role {
	case "", models.RoleMember, models.RoleTemp:
	default:
		return apperr.InvalidArg("invalid member role")
	}
	if _, err := s.channelRepo.FindByID(ctx, channelID); err != nil {
		return err
	}

	if err := s.channelRepo.AddMember(ctx, channelID, userID, role); err != nil {
		return err
	}
	if err := s.markerRepo.EnsureForMember(ctx, channelID, userID); err != nil {
		return err
	}
	if s.events != nil {
		s.events.Attach(channelID, userID)
	}
	return nil
}

// RemoveMember takes effect immediately: IsMember is false as soon as this
// returns, and the user's live subscriptions lose the channel.
func (s *ChannelService) RemoveMember(ctx context.Context, channelID uint, userID string) error {
	if _, err := s.channelRepo.FindByID(ctx, channelID); err != nil {
		return err
	}
	if err := s.channelRepo.RemoveMember(ctx, channelID, userID); err != nil {
		return err
	}
	if err := s.markerRepo.DeleteForMember(ctx, channelID, userID); err != nil {
		return err
	}
	if s.events != nil {
		s.events.Detach(channelID, userID)
	}
	return nil
}

func (s *ChannelService) ListMembers(ctx context.Context, channelID uint) ([]models.ChannelMember, error) {
	if _, err := s.channelRepo.FindByID(ctx, channelID); err != nil {
		return nil, err
	}
	return s.channelRepo.GetMembers(ctx, channelID)
}

// IsMember is false for unknown and deleted channels.
func (s *ChannelService) IsMember(ctx context.Context, channelID uint, userID string) (bool, error) {
	return s.channelRepo.IsMember(ctx, channelID, userID)
}

func (s *ChannelService) UserChannels(ctx context.Context, userID string) ([]models.Channel, error) {
	return s.channelRepo.GetUserChannels(ctx, userID)
}

// Authorize returns NotFound for an unknown channel and Forbidden when the
// user is not a member.
func (s *ChannelService) Authorize(ctx context.Context, channelID uint, userID string) error {
	ok, err := s.channelRepo.IsMember(ctx, channelID, userID)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	if _, err := s.channelRepo.FindByID(ctx, channelID); err != nil {
		return err
	}
	return apperr.Forbidden("not a member of this channel")
}
