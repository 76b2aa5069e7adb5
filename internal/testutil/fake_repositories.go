package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/noteduco342/om-channels/internal/apperr"
	"github.com/noteduco342/om-channels/internal/models"
	"github.com/noteduco342/om-channels/internal/repository"
)

var (
	_ repository.ChannelRepositoryInterface    = (*FakeChannelRepository)(nil)
	_ repository.MessageRepositoryInterface    = (*FakeMessageRepository)(nil)
	_ repository.ReadMarkerRepositoryInterface = (*FakeReadMarkerRepository)(nil)
)

type markerKey struct {
	channelID uint
	userID    string
}

// Store is an in-memory backing for the repository fakes. All three fakes
// share one lock, so an append sees membership changes atomically, the same
// way the SQL transaction does.
type Store struct {
	mu            sync.Mutex
	nextChannelID uint
	nextMessageID uint
	clock         time.Time

	channels map[uint]*models.Channel
	members  map[uint]map[string]models.ChannelMember
	messages map[uint][]models.Message
	byID     map[uint]models.Message
	markers  map[markerKey]models.ReadMarker
}

func NewStore() *Store {
	return &Store{
		clock:    time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
		channels: make(map[uint]*models.Channel),
		members:  make(map[uint]map[string]models.ChannelMember),
		messages: make(map[uint][]models.Message),
		byID:     make(map[uint]models.Message),
		markers:  make(map[markerKey]models.ReadMarker),
	}
}

// tick returns a strictly increasing timestamp so sent_at order is stable.
func (s *Store) tick() time.Time {
	s.clock = s.clock.Add(time.Millisecond)
	return s.clock
}

func (s *Store) Channels() *FakeChannelRepository { return &FakeChannelRepository{s: s} }
func (s *Store) Messages() *FakeMessageRepository { return &FakeMessageRepository{s: s} }
func (s *Store) Markers() *FakeReadMarkerRepository {
	return &FakeReadMarkerRepository{s: s}
}

func (s *Store) liveChannel(id uint) (*models.Channel, bool) {
	ch, ok := s.channels[id]
	if !ok || ch.DeletedAt.Valid {
		return nil, false
	}
	return ch, true
}

type FakeChannelRepository struct {
	s *Store
}

func (r *FakeChannelRepository) Create(_ context.Context, channel *models.Channel, memberIDs []string) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextChannelID++
	now := s.tick()
	channel.ID = s.nextChannelID
	channel.CreatedAt = now
	channel.UpdatedAt = now
	stored := *channel
	stored.Members = nil
	s.channels[channel.ID] = &stored
	s.members[channel.ID] = make(map[string]models.ChannelMember)

	channel.Members = nil
	for _, uid := range memberIDs {
		if _, ok := s.members[channel.ID][uid]; ok {
			continue
		}
		m := models.ChannelMember{ChannelID: channel.ID, UserID: uid, Role: models.RoleMember, JoinedAt: now}
		s.members[channel.ID][uid] = m
		channel.Members = append(channel.Members, m)
	}
	return nil
}

func (r *FakeChannelRepository) FindByID(_ context.Context, id uint) (*models.Channel, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.liveChannel(id)
	if !ok {
		return nil, apperr.NotFound("channel not found")
	}
	out := *ch
	out.Members = sortedMembers(s.members[id])
	return &out, nil
}

func (r *FakeChannelRepository) List(_ context.Context) ([]models.Channel, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Channel, 0, len(s.channels))
	for id := range s.channels {
		if ch, ok := s.liveChannel(id); ok {
			out = append(out, *ch)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *FakeChannelRepository) Delete(_ context.Context, id uint) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.liveChannel(id)
	if !ok {
		return apperr.NotFound("channel not found")
	}
	ch.DeletedAt.Time = s.tick()
	ch.DeletedAt.Valid = true
	delete(s.members, id)
	for k := range s.markers {
		if k.channelID == id {
			delete(s.markers, k)
		}
	}
	return nil
}

func (r *FakeChannelRepository) AddMember(_ context.Context, channelID uint, userID string, role models.MemberRole) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if role == "" {
		role = models.RoleMember
	}
	if s.members[channelID] == nil {
		s.members[channelID] = make(map[string]models.ChannelMember)
	}
	if _, ok := s.members[channelID][userID]; ok {
		return nil
	}
	s.members[channelID][userID] = models.ChannelMember{
		ChannelID: channelID,
		UserID:    userID,
		Role:      role,
		JoinedAt:  s.tick(),
	}
	return nil
}

func (r *FakeChannelRepository) RemoveMember(_ context.Context, channelID uint, userID string) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.members[channelID], userID)
	return nil
}

func (r *FakeChannelRepository) GetMembers(_ context.Context, channelID uint) ([]models.ChannelMember, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedMembers(s.members[channelID]), nil
}

func (r *FakeChannelRepository) IsMember(_ context.Context, channelID uint, userID string) (bool, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.liveChannel(channelID); !ok {
		return false, nil
	}
	_, ok := s.members[channelID][userID]
	return ok, nil
}

func (r *FakeChannelRepository) GetUserChannels(_ context.Context, userID string) ([]models.Channel, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Channel
	for id, set := range s.members {
		if _, ok := set[userID]; !ok {
			continue
		}
		if ch, ok := s.liveChannel(id); ok {
			out = append(out, *ch)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func sortedMembers(set map[string]models.ChannelMember) []models.ChannelMember {
	out := make([]models.ChannelMember, 0, len(set))
	for _, m := range set {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].UserID < out[j].UserID
	})
	return out
}

type FakeMessageRepository struct {
	s *Store
}

func (r *FakeMessageRepository) Append(_ context.Context, message *models.Message) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.liveChannel(message.ChannelID)
	if !ok {
		return apperr.NotFound("channel not found")
	}
	if _, ok := s.members[message.ChannelID][message.SenderID]; !ok {
		return apperr.Forbidden("sender is not a member of the channel")
	}

	ch.LastPosition++
	s.nextMessageID++
	message.ID = s.nextMessageID
	message.Position = ch.LastPosition
	message.SentAt = s.tick()
	s.messages[message.ChannelID] = append(s.messages[message.ChannelID], *message)
	s.byID[message.ID] = *message
	return nil
}

func (r *FakeMessageRepository) FindByID(_ context.Context, id uint) (*models.Message, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.byID[id]
	if !ok {
		return nil, apperr.NotFound("message not found")
	}
	return &m, nil
}

func (r *FakeMessageRepository) Range(_ context.Context, channelID uint, after, upTo uint64, limit int) ([]models.Message, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.Message{}
	if upTo <= after || limit <= 0 {
		return out, nil
	}
	// positions are gapless, so position p sits at index p-1
	log := s.messages[channelID]
	for p := after + 1; p <= upTo && p <= uint64(len(log)) && len(out) < limit; p++ {
		out = append(out, log[p-1])
	}
	return out, nil
}

func (r *FakeMessageRepository) LatestPosition(_ context.Context, channelID uint) (uint64, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.liveChannel(channelID)
	if !ok {
		return 0, apperr.NotFound("channel not found")
	}
	return ch.LastPosition, nil
}

type FakeReadMarkerRepository struct {
	s *Store
}

func (r *FakeReadMarkerRepository) EnsureForMember(_ context.Context, channelID uint, userID string) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	k := markerKey{channelID, userID}
	if _, ok := s.markers[k]; !ok {
		s.markers[k] = models.ReadMarker{UserID: userID, ChannelID: channelID, UpdatedAt: s.tick()}
	}
	return nil
}

func (r *FakeReadMarkerRepository) DeleteForMember(_ context.Context, channelID uint, userID string) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.markers, markerKey{channelID, userID})
	return nil
}

func (r *FakeReadMarkerRepository) UpsertMonotonic(_ context.Context, channelID uint, userID string, position uint64) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	k := markerKey{channelID, userID}
	m, ok := s.markers[k]
	if ok && position <= m.LastSeenPosition {
		return nil
	}
	s.markers[k] = models.ReadMarker{
		UserID:           userID,
		ChannelID:        channelID,
		LastSeenPosition: position,
		UpdatedAt:        s.tick(),
	}
	return nil
}

func (r *FakeReadMarkerRepository) Get(_ context.Context, channelID uint, userID string) (*models.ReadMarker, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.markers[markerKey{channelID, userID}]
	if !ok {
		return nil, apperr.NotFound("read marker not found")
	}
	return &m, nil
}

func (r *FakeReadMarkerRepository) ListByUser(_ context.Context, userID string) ([]models.ReadMarker, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ReadMarker
	for k, m := range s.markers {
		if k.userID == userID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChannelID < out[j].ChannelID })
	return out, nil
}
