package service

import (
	"context"
	"errors"
	"testing"

	"github.com/noteduco342/om-channels/internal/apperr"
	"github.com/noteduco342/om-channels/internal/broker"
	"github.com/noteduco342/om-channels/internal/models"
	"github.com/noteduco342/om-channels/internal/repository"
	"github.com/noteduco342/om-channels/internal/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateChannel(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, broker.Options{})

	tests := []struct {
		name      string
		display   string
		members   []string
		shouldErr bool
		wantCount int
	}{
		{"Valid channel", "general", []string{"alice", "bob"}, false, 2},
		{"Duplicate members collapse", "dupes", []string{"alice", "alice", " bob "}, false, 2},
		{"No members", "empty", nil, false, 0},
		{"Empty display name", "   ", []string{"alice"}, true, 0},
		{"Invalid member id", "bad", []string{"has space"}, true, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch, err := h.channels.CreateChannel(ctx, tt.display, tt.members)
			if (err != nil) != tt.shouldErr {
				t.Fatalf("CreateChannel() error = %v, shouldErr %v", err, tt.shouldErr)
			}
			if tt.shouldErr {
				assert.True(t, apperr.Is(err, apperr.CodeInvalidArgument))
				return
			}
			members, err := h.channels.ListMembers(ctx, ch.ID)
			require.NoError(t, err)
			assert.Len(t, members, tt.wantCount)
			for _, m := range members {
				marker, err := h.store.Markers().Get(ctx, ch.ID, m.UserID)
				require.NoError(t, err)
				assert.Zero(t, marker.LastSeenPosition)
			}
		})
	}
}

func TestDeleteChannel(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, broker.Options{})

	ch, err := h.channels.CreateChannel(ctx, "general", []string{"alice"})
	require.NoError(t, err)
	sub, err := h.chat.SubscribeMessages(ctx, "alice")
	require.NoError(t, err)

	require.NoError(t, h.channels.DeleteChannel(ctx, ch.ID))

	<-sub.Done()
	assert.Equal(t, broker.ReasonChannelDeleted, sub.Reason())

	ok, err := h.channels.IsMember(ctx, ch.ID, "alice")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = h.channels.GetChannel(ctx, ch.ID)
	assert.True(t, apperr.Is(err, apperr.CodeNotFound))

	err = h.channels.DeleteChannel(ctx, ch.ID)
	assert.True(t, apperr.Is(err, apperr.CodeNotFound))

	_, err = h.chat.CreateMessage(ctx, "alice", ch.ID, "hello")
	assert.True(t, apperr.Is(err, apperr.CodeNotFound))
}

func TestAddRemoveMember(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, broker.Options{})

	ch, err := h.channels.CreateChannel(ctx, "general", []string{"alice"})
	require.NoError(t, err)

	tests := []struct {
		name      string
		channelID uint
		userID    string
		role      models.MemberRole
		code      apperr.Code
	}{
		{"Add member", ch.ID, "bob", models.RoleMember, ""},
		{"Add again is idempotent", ch.ID, "bob", models.RoleMember, ""},
		{"Add temp member", ch.ID, "carol", models.RoleTemp, ""},
		{"Unknown channel", 999, "bob", models.RoleMember, apperr.CodeNotFound},
		{"Bad role", ch.ID, "dave", "owner", apperr.CodeInvalidArgument},
		{"Bad user id", ch.ID, "", models.RoleMember, apperr.CodeInvalidArgument},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := h.channels.AddMember(ctx, tt.channelID, tt.userID, tt.role)
			assert.Equal(t, tt.code, apperr.CodeOf(err))
		})
	}

	ok, err := h.channels.IsMember(ctx, ch.ID, "bob")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, h.channels.RemoveMember(ctx, ch.ID, "bob"))
	require.NoError(t, h.channels.RemoveMember(ctx, ch.ID, "bob"))
	ok, err = h.channels.IsMember(ctx, ch.ID, "bob")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = h.store.Markers().Get(ctx, ch.ID, "bob")
	assert.True(t, apperr.Is(err, apperr.CodeNotFound))

	err = h.channels.RemoveMember(ctx, 999, "bob")
	assert.True(t, apperr.Is(err, apperr.CodeNotFound))
}

func TestAddMemberAttachesLiveSubscription(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, broker.Options{})

	first, err := h.channels.CreateChannel(ctx, "first", []string{"alice", "bob"})
	require.NoError(t, err)
	second, err := h.channels.CreateChannel(ctx, "second", []string{"alice"})
	require.NoError(t, err)

	sub, err := h.chat.SubscribeMessages(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, []uint{first.ID}, sub.Channels())

	require.NoError(t, h.channels.AddMember(ctx, second.ID, "bob", ""))
	assert.Equal(t, []uint{first.ID, second.ID}, sub.Channels())

	msg, err := h.chat.CreateMessage(ctx, "alice", second.ID, "welcome")
	require.NoError(t, err)
	ev := <-sub.Events()
	assert.Equal(t, msg.ID, ev.Message.ID)
}

func TestAuthorize(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, broker.Options{})
	ch := h.helper.CreateTestChannel(h.store, "general", "alice")

	assert.NoError(t, h.channels.Authorize(ctx, ch.ID, "alice"))
	assert.Equal(t, apperr.CodeForbidden, apperr.CodeOf(h.channels.Authorize(ctx, ch.ID, "mallory")))
	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(h.channels.Authorize(ctx, 42, "alice")))
}

func TestAddMemberLeavesExplicitSubscriptionAlone(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, broker.Options{})

	first, err := h.channels.CreateChannel(ctx, "first", []string{"alice", "bob"})
	require.NoError(t, err)
	second, err := h.channels.CreateChannel(ctx, "second", []string{"alice"})
	require.NoError(t, err)

	fixed, err := h.chat.SubscribeChannels(ctx, "bob", []uint{first.ID})
	require.NoError(t, err)
	following, err := h.chat.SubscribeMessages(ctx, "bob")
	require.NoError(t, err)

	require.NoError(t, h.channels.AddMember(ctx, second.ID, "bob", ""))
	assert.Equal(t, []uint{first.ID}, fixed.Channels())
	assert.Equal(t, []uint{first.ID, second.ID}, following.Channels())

	msg, err := h.chat.CreateMessage(ctx, "alice", second.ID, "welcome")
	require.NoError(t, err)
	assert.Equal(t, msg.ID, nextEvent(t, following).Message.ID)
	assert.Len(t, fixed.Events(), 0)
}

type failingMarkers struct {
	repository.ReadMarkerRepositoryInterface
}

func (failingMarkers) EnsureForMember(context.Context, uint, string) error {
	return apperr.Internal("read marker storage failure", errors.New("disk full"))
}

func TestCreateChannelToleratesMarkerFailure(t *testing.T) {
	ctx := context.Background()
	store := testutil.NewStore()
	channelRepo := store.Channels()
	markers := failingMarkers{store.Markers()}
	channels := NewChannelService(channelRepo, markers, nil, zerolog.Nop())
	messages := NewMessageService(store.Messages(), nil, 0)
	reads := NewReadStateService(markers, channelRepo, messages, 0)

	ch, err := channels.CreateChannel(ctx, "general", []string{"alice", "bob"})
	require.NoError(t, err)

	members, err := channels.ListMembers(ctx, ch.ID)
	require.NoError(t, err)
	assert.Len(t, members, 2)

	marker, err := reads.Marker(ctx, "bob", ch.ID)
	require.NoError(t, err)
	assert.Zero(t, marker.LastSeenPosition)

	_, err = messages.Append(ctx, ch.ID, "alice", "hello")
	require.NoError(t, err)
	count, err := reads.UnreadCount(ctx, "bob", ch.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)

	require.NoError(t, reads.MarkRead(ctx, "bob", ch.ID, 1))
	count, err = reads.UnreadCount(ctx, "bob", ch.ID)
	require.NoError(t, err)
	assert.Zero(t, count)
}
