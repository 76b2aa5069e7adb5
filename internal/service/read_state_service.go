package service

import (
	"context"
	"sort"

	"github.com/noteduco342/om-channels/internal/apperr"
	"github.com/noteduco342/om-channels/internal/models"
	"github.com/noteduco342/om-channels/internal/repository"
	"golang.org/x/sync/errgroup"
)

const DefaultUnreadLimit = 500

// MessageLog is the part of the log the tracker reads from.
type MessageLog interface {
	LatestPosition(ctx context.Context, channelID uint) (uint64, error)
	Range(ctx context.Context, channelID uint, after uint64, limit int) ([]models.Message, error)
}

type ReadStateService struct {
	markerRepo  repository.ReadMarkerRepositoryInterface
	channelRepo repository.ChannelRepositoryInterface
	log         MessageLog
	unreadLimit int
}

func NewReadStateService(
	markerRepo repository.ReadMarkerRepositoryInterface,
	channelRepo repository.ChannelRepositoryInterface,
	log MessageLog,
	unreadLimit int,
) *ReadStateService {
	if unreadLimit <= 0 {
		unreadLimit = DefaultUnreadLimit
	}
	return &ReadStateService{
		markerRepo:  markerRepo,
		channelRepo: channelRepo,
		log:         log,
		unreadLimit: unreadLimit,
	}
}

func (s *ReadStateService) requireMember(ctx context.Context, channelID uint, userID string) error {
	ok, err := s.channelRepo.IsMember(ctx, channelID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.Forbidden("not a member of this channel")
	}
	return nil
}

// MarkRead advances the marker to position, clamped to the channel's latest
// position. It never moves a marker backward.
func (s *ReadStateService) MarkRead(ctx context.Context, userID string, channelID uint, position uint64) error {
	if err := s.requireMember(ctx, channelID, userID); err != nil {
		return err
	}
	latest, err := s.log.LatestPosition(ctx, channelID)
	if err != nil {
		return err
	}
	if position > latest {
		position = latest
	}
	if position == 0 {
		return nil
	}
	return s.markerRepo.UpsertMonotonic(ctx, channelID, userID, position)
}

func (s *ReadStateService) MarkReadByMessage(ctx context.Context, userID string, message *models.Message) error {
	return s.MarkRead(ctx, userID, message.ChannelID, message.Position)
}

// MarkAllRead advances every member channel to the latest position observed
// by this call. Messages appended after that read stay unread.
func (s *ReadStateService) MarkAllRead(ctx context.Context, userID string) error {
	channels, err := s.channelRepo.GetUserChannels(ctx, userID)
	if err != nil {
		return err
	}
	for _, ch := range channels {
		latest, err := s.log.LatestPosition(ctx, ch.ID)
		if err != nil {
			if apperr.Is(err, apperr.CodeNotFound) {
				// deleted after the listing
				continue
			}
			return err
		}
		if latest == 0 {
			continue
		}
		if err := s.markerRepo.UpsertMonotonic(ctx, ch.ID, userID, latest); err != nil {
			return err
		}
	}
	return nil
}

// Marker returns the zero marker when none exists.
func (s *ReadStateService) Marker(ctx context.Context, userID string, channelID uint) (models.ReadMarker, error) {
	m, err := s.markerRepo.Get(ctx, channelID, userID)
	if err != nil {
		if apperr.Is(err, apperr.CodeNotFound) {
			return models.ReadMarker{UserID: userID, ChannelID: channelID}, nil
		}
		return models.ReadMarker{}, err
	}
	return *m, nil
}

func (s *ReadStateService) UnreadCount(ctx context.Context, userID string, channelID uint) (uint64, error) {
	if err := s.requireMember(ctx, channelID, userID); err != nil {
		return 0, err
	}
	marker, err := s.Marker(ctx, userID, channelID)
	if err != nil {
		return 0, err
	}
	latest, err := s.log.LatestPosition(ctx, channelID)
	if err != nil {
		return 0, err
	}
	if latest <= marker.LastSeenPosition {
		return 0, nil
	}
	return latest - marker.LastSeenPosition, nil
}

// UnreadMessages collects unread messages from every member channel, ordered
// by sent_at then channel then position.
func (s *ReadStateService) UnreadMessages(ctx context.Context, userID string) ([]models.Message, error) {
	channels, err := s.channelRepo.GetUserChannels(ctx, userID)
	if err != nil {
		return nil, err
	}

	markers, err := s.markerRepo.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	seen := make(map[uint]uint64, len(markers))
	for _, m := range markers {
		seen[m.ChannelID] = m.LastSeenPosition
	}

	perChannel := make([][]models.Message, len(channels))
	g, gctx := errgroup.WithContext(ctx)
	for i, ch := range channels {
		i, channelID := i, ch.ID
		g.Go(func() error {
			msgs, err := s.log.Range(gctx, channelID, seen[channelID], s.unreadLimit)
			if err != nil {
				if apperr.Is(err, apperr.CodeNotFound) {
					return nil
				}
				return err
			}
			perChannel[i] = msgs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := []models.Message{}
	for _, msgs := range perChannel {
		out = append(out, msgs...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(&out[j]) })
	return out, nil
}
