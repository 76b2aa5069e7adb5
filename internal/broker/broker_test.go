package broker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/noteduco342/om-channels/internal/apperr"
	"github.com/noteduco342/om-channels/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMembership struct {
	mu      sync.Mutex
	members map[uint]map[string]bool
	err     error
}

func newFakeMembership() *fakeMembership {
	return &fakeMembership{members: make(map[uint]map[string]bool)}
}

func (f *fakeMembership) add(channelID uint, users ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.members[channelID] == nil {
		f.members[channelID] = make(map[string]bool)
	}
	for _, u := range users {
		f.members[channelID][u] = true
	}
}

func (f *fakeMembership) remove(channelID uint, userID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.members[channelID], userID)
}

func (f *fakeMembership) GetUserChannels(_ context.Context, userID string) ([]models.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	var out []models.Channel
	for id, users := range f.members {
		if users[userID] {
			out = append(out, models.Channel{ID: id})
		}
	}
	return out, nil
}

func (f *fakeMembership) IsMember(_ context.Context, channelID uint, userID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	return f.members[channelID][userID], nil
}

func newTestBroker(t *testing.T, m MembershipChecker, opts Options) *Broker {
	t.Helper()
	b := New(m, zerolog.Nop(), opts)
	t.Cleanup(b.Shutdown)
	return b
}

func msg(channelID uint, position uint64, sender string) models.Message {
	return models.Message{
		ID:        uint(channelID*1000) + uint(position),
		ChannelID: channelID,
		Position:  position,
		SenderID:  sender,
		Content:   "hello",
		SentAt:    time.Now(),
	}
}

func next(t *testing.T, s *Subscription) Event {
	t.Helper()
	select {
	case ev := <-s.Events():
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestSubscribeRequiresMembership(t *testing.T) {
	m := newFakeMembership()
	m.add(1, "alice")
	b := newTestBroker(t, m, Options{BufferSize: 4})

	tests := []struct {
		name     string
		user     string
		channels []uint
		code     apperr.Code
	}{
		{"member", "alice", []uint{1}, ""},
		{"no channels", "alice", nil, ""},
		{"not a member", "bob", []uint{1}, apperr.CodeForbidden},
		{"one of two denied", "alice", []uint{1, 2}, apperr.CodeForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub, err := b.Subscribe(context.Background(), tt.user, tt.channels)
			assert.Equal(t, tt.code, apperr.CodeOf(err))
			if tt.code != "" {
				assert.Nil(t, sub)
				return
			}
			require.NotNil(t, sub)
			assert.Equal(t, StateActive, sub.State())
			sub.Close()
		})
	}
	assert.Equal(t, 0, b.Stats().Subscriptions)
}

func TestSubscribeCheckerError(t *testing.T) {
	m := newFakeMembership()
	m.err = errors.New("db down")
	b := newTestBroker(t, m, Options{BufferSize: 4})

	_, err := b.Subscribe(context.Background(), "alice", []uint{1})
	assert.Error(t, err)
	assert.Equal(t, 0, b.Stats().Subscriptions)
}

func TestPublishDeliversInOrder(t *testing.T) {
	m := newFakeMembership()
	m.add(1, "alice", "bob")
	b := newTestBroker(t, m, Options{BufferSize: 16})

	sub, err := b.Subscribe(context.Background(), "bob", []uint{1})
	require.NoError(t, err)

	for p := uint64(1); p <= 5; p++ {
		assert.Equal(t, 1, b.Publish(msg(1, p, "alice")))
	}
	for p := uint64(1); p <= 5; p++ {
		ev := next(t, sub)
		assert.Equal(t, EventMessage, ev.Kind)
		assert.Equal(t, p, ev.Message.Position)
	}
}

func TestPublishDropsReplays(t *testing.T) {
	m := newFakeMembership()
	m.add(1, "bob")
	b := newTestBroker(t, m, Options{BufferSize: 16})

	sub, err := b.Subscribe(context.Background(), "bob", []uint{1})
	require.NoError(t, err)

	assert.Equal(t, 1, b.Publish(msg(1, 1, "alice")))
	assert.Equal(t, 1, b.Publish(msg(1, 2, "alice")))
	assert.Equal(t, 0, b.Publish(msg(1, 2, "alice")))
	assert.Equal(t, 0, b.Publish(msg(1, 1, "alice")))

	assert.Equal(t, uint64(1), next(t, sub).Message.Position)
	assert.Equal(t, uint64(2), next(t, sub).Message.Position)
	assert.Len(t, sub.Events(), 0)
}

func TestPublishOnlyToChannelSubscribers(t *testing.T) {
	m := newFakeMembership()
	m.add(1, "alice")
	m.add(2, "bob")
	b := newTestBroker(t, m, Options{BufferSize: 4})

	a, err := b.Subscribe(context.Background(), "alice", []uint{1})
	require.NoError(t, err)
	bb, err := b.Subscribe(context.Background(), "bob", []uint{2})
	require.NoError(t, err)

	b.Publish(msg(2, 1, "bob"))
	assert.Len(t, a.Events(), 0)
	assert.Len(t, bb.Events(), 1)
}

func TestSkipSenderEcho(t *testing.T) {
	m := newFakeMembership()
	m.add(1, "alice", "bob")

	for _, skip := range []bool{false, true} {
		b := newTestBroker(t, m, Options{BufferSize: 4, SkipSenderEcho: skip})
		a, err := b.Subscribe(context.Background(), "alice", []uint{1})
		require.NoError(t, err)
		bb, err := b.Subscribe(context.Background(), "bob", []uint{1})
		require.NoError(t, err)

		b.Publish(msg(1, 1, "alice"))
		if skip {
			assert.Len(t, a.Events(), 0)
		} else {
			assert.Len(t, a.Events(), 1)
		}
		assert.Len(t, bb.Events(), 1)
	}
}

func TestSlowConsumerIsClosed(t *testing.T) {
	m := newFakeMembership()
	m.add(1, "slow", "fast")
	b := newTestBroker(t, m, Options{BufferSize: 2})

	slow, err := b.Subscribe(context.Background(), "slow", []uint{1})
	require.NoError(t, err)
	fast, err := b.Subscribe(context.Background(), "fast", []uint{1})
	require.NoError(t, err)

	var got []uint64
	for p := uint64(1); p <= 4; p++ {
		b.Publish(msg(1, p, "writer"))
		got = append(got, next(t, fast).Message.Position)
	}

	assert.Equal(t, []uint64{1, 2, 3, 4}, got)
	select {
	case <-slow.Done():
	case <-time.After(time.Second):
		t.Fatal("slow subscriber not closed")
	}
	assert.Equal(t, StateClosed, slow.State())
	assert.Equal(t, ReasonSlowConsumer, slow.Reason())
	assert.True(t, slow.Reason().Retry())
	assert.True(t, apperr.Is(slow.Err(), apperr.CodeSlowConsumer))
	assert.Equal(t, StateActive, fast.State())
	assert.Equal(t, 1, b.ChannelSubscribers(1))

	// buffered events stay readable after close
	assert.Equal(t, uint64(1), next(t, slow).Message.Position)
	assert.Equal(t, uint64(2), next(t, slow).Message.Position)
}

func TestCloseReleasesRegistration(t *testing.T) {
	m := newFakeMembership()
	m.add(1, "alice")
	b := newTestBroker(t, m, Options{BufferSize: 4})

	sub, err := b.Subscribe(context.Background(), "alice", []uint{1})
	require.NoError(t, err)
	require.Equal(t, 1, b.ChannelSubscribers(1))

	sub.Close()
	sub.Close()
	assert.Equal(t, StateClosed, sub.State())
	assert.Equal(t, ReasonClientClosed, sub.Reason())
	assert.NoError(t, sub.Err())
	assert.Equal(t, 0, b.ChannelSubscribers(1))
	assert.Equal(t, 0, b.Publish(msg(1, 1, "bob")))
}

func TestDetachAndAttach(t *testing.T) {
	m := newFakeMembership()
	m.add(1, "alice")
	m.add(2, "alice")
	b := newTestBroker(t, m, Options{BufferSize: 4})

	sub, err := b.SubscribeMember(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, []uint{1, 2}, sub.Channels())

	b.Detach(1, "alice")
	ev := next(t, sub)
	assert.Equal(t, EventChannelClosed, ev.Kind)
	assert.Equal(t, uint(1), ev.ChannelID)
	assert.Equal(t, ReasonMembershipRevoked, ev.Reason)
	assert.Equal(t, []uint{2}, sub.Channels())
	assert.Equal(t, 0, b.Publish(msg(1, 1, "bob")))

	b.Attach(3, "alice")
	assert.True(t, sub.hasChannel(3))
	assert.Equal(t, 1, b.Publish(msg(3, 1, "bob")))

	b.Detach(2, "alice")
	next(t, sub)
	b.Detach(3, "alice")
	<-sub.Done()
	assert.Equal(t, ReasonMembershipRevoked, sub.Reason())
	assert.True(t, apperr.Is(sub.Err(), apperr.CodeForbidden))
	assert.Equal(t, 0, b.Stats().Subscriptions)
}

func TestAttachSkipsFixedChannelSets(t *testing.T) {
	m := newFakeMembership()
	m.add(1, "alice")
	b := newTestBroker(t, m, Options{BufferSize: 4})

	fixed, err := b.Subscribe(context.Background(), "alice", []uint{1})
	require.NoError(t, err)
	following, err := b.SubscribeMember(context.Background(), "alice")
	require.NoError(t, err)

	m.add(2, "alice")
	b.Attach(2, "alice")

	assert.Equal(t, []uint{1}, fixed.Channels())
	assert.Equal(t, []uint{1, 2}, following.Channels())
	assert.Equal(t, 1, b.Publish(msg(2, 1, "bob")))
	assert.Equal(t, uint(2), next(t, following).ChannelID)
	select {
	case ev := <-fixed.Events():
		t.Fatalf("fixed subscription got event on channel %d", ev.ChannelID)
	default:
	}
}

// racingMembership lists a channel and then reports the user as removed
// from it, as if RemoveMember ran between the two reads.
type racingMembership struct {
	*fakeMembership
	removed uint
}

func (r *racingMembership) GetUserChannels(ctx context.Context, userID string) ([]models.Channel, error) {
	out, err := r.fakeMembership.GetUserChannels(ctx, userID)
	r.remove(r.removed, userID)
	return out, err
}

func TestSubscribeMemberDropsChannelLeftWhileConnecting(t *testing.T) {
	m := &racingMembership{fakeMembership: newFakeMembership(), removed: 2}
	m.add(1, "alice")
	m.add(2, "alice")
	b := newTestBroker(t, m, Options{BufferSize: 4})

	sub, err := b.SubscribeMember(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, StateActive, sub.State())
	assert.Equal(t, []uint{1}, sub.Channels())
	assert.Equal(t, 0, b.ChannelSubscribers(2))
	assert.Equal(t, 0, b.Publish(msg(2, 1, "bob")))
}

func TestSubscribeMemberWithoutChannels(t *testing.T) {
	m := newFakeMembership()
	b := newTestBroker(t, m, Options{BufferSize: 4})

	sub, err := b.SubscribeMember(context.Background(), "alice")
	require.NoError(t, err)
	assert.Empty(t, sub.Channels())

	b.Attach(5, "alice")
	assert.Equal(t, 1, b.Publish(msg(5, 1, "bob")))
	assert.Equal(t, Stats{Subscriptions: 1, Users: 1, Channels: 1}, b.Stats())
}

func TestSubscribeMemberCheckerError(t *testing.T) {
	m := newFakeMembership()
	m.err = errors.New("db down")
	b := newTestBroker(t, m, Options{BufferSize: 4})

	_, err := b.SubscribeMember(context.Background(), "alice")
	assert.Error(t, err)
	assert.Equal(t, Stats{}, b.Stats())
}

func TestForwardSkipsHighWaterMark(t *testing.T) {
	m := newFakeMembership()
	m.add(1, "bob")
	b := newTestBroker(t, m, Options{BufferSize: 4})

	sub, err := b.Subscribe(context.Background(), "bob", []uint{1})
	require.NoError(t, err)

	// position 6 appended here, 5 appended on another instance arrives later
	assert.Equal(t, 1, b.Publish(msg(1, 6, "alice")))
	assert.Equal(t, 1, b.Forward(msg(1, 5, "carol")))
	assert.Equal(t, uint64(6), next(t, sub).Message.Position)
	assert.Equal(t, uint64(5), next(t, sub).Message.Position)

	// forwarded messages leave the mark alone
	assert.Equal(t, 0, b.Publish(msg(1, 6, "alice")))
	assert.Equal(t, 1, b.Publish(msg(1, 7, "alice")))
}

func TestCloseChannel(t *testing.T) {
	m := newFakeMembership()
	m.add(1, "alice", "bob")
	m.add(2, "bob")
	b := newTestBroker(t, m, Options{BufferSize: 4})

	alice, err := b.Subscribe(context.Background(), "alice", []uint{1})
	require.NoError(t, err)
	bob, err := b.Subscribe(context.Background(), "bob", []uint{1, 2})
	require.NoError(t, err)

	b.Publish(msg(1, 1, "alice"))
	b.CloseChannel(1)

	<-alice.Done()
	assert.Equal(t, ReasonChannelDeleted, alice.Reason())
	assert.False(t, alice.Reason().Retry())

	assert.Equal(t, StateActive, bob.State())
	assert.Equal(t, uint64(1), next(t, bob).Message.Position)
	ev := next(t, bob)
	assert.Equal(t, EventChannelClosed, ev.Kind)
	assert.Equal(t, ReasonChannelDeleted, ev.Reason)
	assert.Equal(t, []uint{2}, bob.Channels())
}

func TestShutdown(t *testing.T) {
	m := newFakeMembership()
	m.add(1, "alice")
	b := New(m, zerolog.Nop(), Options{BufferSize: 4})

	sub, err := b.Subscribe(context.Background(), "alice", []uint{1})
	require.NoError(t, err)

	b.Shutdown()
	<-sub.Done()
	assert.Equal(t, ReasonShutdown, sub.Reason())
	assert.ErrorIs(t, sub.Err(), ErrShutdown)

	_, err = b.Subscribe(context.Background(), "alice", []uint{1})
	assert.ErrorIs(t, err, ErrShutdown)
}

func TestConcurrentPublishAndClose(t *testing.T) {
	m := newFakeMembership()
	m.add(1, "alice", "bob")
	b := newTestBroker(t, m, Options{BufferSize: 8})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sub, err := b.Subscribe(context.Background(), "bob", []uint{1})
			if err != nil {
				return
			}
			sub.Close()
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for p := uint64(1); p <= 100; p++ {
			b.Publish(msg(1, p, "alice"))
		}
	}()
	wg.Wait()
	assert.Equal(t, 0, b.Stats().Subscriptions)
}
