package broker

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/noteduco342/om-channels/internal/apperr"
	"github.com/noteduco342/om-channels/internal/metrics"
	"github.com/noteduco342/om-channels/internal/models"
	"github.com/rs/zerolog"
)

// MembershipChecker is consulted when a subscription is opened.
type MembershipChecker interface {
	IsMember(ctx context.Context, channelID uint, userID string) (bool, error)
	GetUserChannels(ctx context.Context, userID string) ([]models.Channel, error)
}

type Options struct {
	BufferSize int
	// SkipSenderEcho drops a message for subscriptions owned by its sender.
	SkipSenderEcho bool
}

// Broker fans appended messages out to live subscriptions. Publish never
// blocks on a subscriber: each one has a bounded buffer and is closed with
// ReasonSlowConsumer when it overflows.
type Broker struct {
	log        zerolog.Logger
	membership MembershipChecker
	opts       Options

	mu       sync.RWMutex
	channels map[uint]map[string]*Subscription
	users    map[string]map[string]*Subscription
	subs     map[string]*Subscription
	closed   bool

	// highest position handed to subscribers, per channel
	hwmMu sync.Mutex
	hwm   map[uint]uint64
}

func New(membership MembershipChecker, log zerolog.Logger, opts Options) *Broker {
	if opts.BufferSize < 1 {
		opts.BufferSize = 1
	}
	return &Broker{
		log:        log.With().Str("component", "broker").Logger(),
		membership: membership,
		opts:       opts,
		channels:   make(map[uint]map[string]*Subscription),
		users:      make(map[string]map[string]*Subscription),
		subs:       make(map[string]*Subscription),
		hwm:        make(map[uint]uint64),
	}
}

// Subscribe opens a stream for userID over a fixed set of channels. The
// subscription is registered before membership is checked, so a removal that
// races with the check is seen either by the check or by Detach. Channels the
// user joins later are not added.
func (b *Broker) Subscribe(ctx context.Context, userID string, channelIDs []uint) (*Subscription, error) {
	s := newSubscription(uuid.NewString(), userID, b.opts.BufferSize, b)
	for _, id := range channelIDs {
		s.channels[id] = struct{}{}
	}

	if err := b.register(s); err != nil {
		s.finish(StateRejected, ReasonShutdown)
		return nil, err
	}

	for _, id := range channelIDs {
		ok, err := b.membership.IsMember(ctx, id, userID)
		if err == nil && !ok {
			err = apperr.Forbidden("not a member of this channel")
		}
		if err != nil {
			b.reject(s)
			return nil, err
		}
	}
	return b.activate(s)
}

// SubscribeMember opens a stream that follows userID's membership: it starts
// on every channel the user belongs to and gains channels through Attach.
// Membership is read after registration, so a concurrent AddMember is seen
// by the listing or by Attach. A channel the user leaves while the stream
// is connecting is dropped rather than failing the subscription.
func (b *Broker) SubscribeMember(ctx context.Context, userID string) (*Subscription, error) {
	s := newSubscription(uuid.NewString(), userID, b.opts.BufferSize, b)
	s.follow = true

	if err := b.register(s); err != nil {
		s.finish(StateRejected, ReasonShutdown)
		return nil, err
	}

	channels, err := b.membership.GetUserChannels(ctx, userID)
	if err != nil {
		b.reject(s)
		return nil, err
	}
	for _, ch := range channels {
		b.attach(s, ch.ID)
	}
	// a removal that ran its Detach before attach above is caught here
	for _, ch := range channels {
		ok, err := b.membership.IsMember(ctx, ch.ID, userID)
		if err != nil {
			b.reject(s)
			return nil, err
		}
		if !ok {
			b.dropChannel(s, ch.ID)
		}
	}
	return b.activate(s)
}

func (b *Broker) activate(s *Subscription) (*Subscription, error) {
	if !s.activate() {
		// overflowed or was revoked while connecting
		err := s.Err()
		if err == nil {
			err = apperr.SlowConsumer("subscriber could not keep up")
		}
		return nil, err
	}

	metrics.ActiveSubscriptions.Inc()
	b.log.Debug().
		Str("subscription", s.id).
		Str("user_id", s.userID).
		Bool("follow", s.follow).
		Int("channels", len(s.Channels())).
		Msg("subscription active")
	return s, nil
}

func (b *Broker) register(s *Subscription) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrShutdown
	}
	b.subs[s.id] = s
	if b.users[s.userID] == nil {
		b.users[s.userID] = make(map[string]*Subscription)
	}
	b.users[s.userID][s.id] = s
	for id := range s.channels {
		if b.channels[id] == nil {
			b.channels[id] = make(map[string]*Subscription)
		}
		b.channels[id][s.id] = s
	}
	return nil
}

func (b *Broker) unregister(s *Subscription, channels []uint) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, s.id)
	if set := b.users[s.userID]; set != nil {
		delete(set, s.id)
		if len(set) == 0 {
			delete(b.users, s.userID)
		}
	}
	for _, id := range channels {
		if set := b.channels[id]; set != nil {
			delete(set, s.id)
			if len(set) == 0 {
				delete(b.channels, id)
			}
		}
	}
}

func (b *Broker) reject(s *Subscription) {
	channels, ok := s.finish(StateRejected, ReasonMembershipRevoked)
	if !ok {
		return
	}
	b.unregister(s, channels)
	metrics.SubscriptionsRejected.Inc()
}

func (b *Broker) closeSubscription(s *Subscription, reason CloseReason) {
	channels, ok := s.finish(StateClosed, reason)
	if !ok {
		return
	}
	b.unregister(s, channels)
	if s.wasActivated() {
		metrics.ActiveSubscriptions.Dec()
	}
	metrics.SubscriptionsClosed.WithLabelValues(string(reason)).Inc()
	b.log.Debug().
		Str("subscription", s.id).
		Str("user_id", s.userID).
		Str("reason", string(reason)).
		Msg("subscription closed")
}

// advance records position as delivered for its channel and reports whether
// it is new. Replays at or below the mark are dropped.
func (b *Broker) advance(channelID uint, position uint64) bool {
	b.hwmMu.Lock()
	defer b.hwmMu.Unlock()
	if position <= b.hwm[channelID] {
		return false
	}
	b.hwm[channelID] = position
	return true
}

// Publish offers msg to every subscription on its channel and returns the
// number of subscribers it was enqueued for. Positions at or below the
// channel's high-water mark are dropped.
func (b *Broker) Publish(msg models.Message) int {
	if !b.advance(msg.ChannelID, msg.Position) {
		return 0
	}
	return b.fanout(msg)
}

// Forward fans out a message appended on another instance. It skips the
// high-water mark: relayed and local messages interleave out of position
// order, and subscribers dedupe by message id.
func (b *Broker) Forward(msg models.Message) int {
	return b.fanout(msg)
}

func (b *Broker) fanout(msg models.Message) int {
	b.mu.RLock()
	set := b.channels[msg.ChannelID]
	targets := make([]*Subscription, 0, len(set))
	for _, s := range set {
		if b.opts.SkipSenderEcho && s.userID == msg.SenderID {
			continue
		}
		targets = append(targets, s)
	}
	b.mu.RUnlock()

	ev := Event{Kind: EventMessage, ChannelID: msg.ChannelID, Message: msg}
	delivered := 0
	for _, s := range targets {
		if s.offer(ev) {
			delivered++
			continue
		}
		if s.drain() {
			b.log.Warn().
				Str("subscription", s.id).
				Str("user_id", s.userID).
				Uint("channel_id", msg.ChannelID).
				Uint64("position", msg.Position).
				Msg("slow consumer, closing subscription")
			b.closeSubscription(s, ReasonSlowConsumer)
		}
	}
	metrics.FanoutDeliveries.Add(float64(delivered))
	return delivered
}

// Notify publishes msg locally. It lets the broker stand in wherever an
// append notifier is expected.
func (b *Broker) Notify(_ context.Context, msg models.Message) {
	b.Publish(msg)
}

// Attach adds channelID to every live subscription of userID that follows
// membership. Fixed channel sets are left alone. Called after the user
// becomes a member.
func (b *Broker) Attach(channelID uint, userID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.users[userID] {
		if !s.follow {
			continue
		}
		b.attachLocked(s, channelID)
	}
}

func (b *Broker) attach(s *Subscription, channelID uint) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attachLocked(s, channelID)
}

func (b *Broker) attachLocked(s *Subscription, channelID uint) {
	if !s.addChannel(channelID) {
		return
	}
	if b.channels[channelID] == nil {
		b.channels[channelID] = make(map[string]*Subscription)
	}
	b.channels[channelID][s.id] = s
}

// dropChannel silently removes channelID from a subscription that has not
// been activated yet.
func (b *Broker) dropChannel(s *Subscription, channelID uint) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s.removeChannel(channelID)
	if set := b.channels[channelID]; set != nil {
		delete(set, s.id)
		if len(set) == 0 {
			delete(b.channels, channelID)
		}
	}
}

// Detach removes channelID from every live subscription of userID. A
// subscription left without channels is closed with ReasonMembershipRevoked,
// except a membership-following one that is still connecting.
func (b *Broker) Detach(channelID uint, userID string) {
	b.mu.Lock()
	var targets []*Subscription
	for id, s := range b.channels[channelID] {
		if s.userID != userID {
			continue
		}
		delete(b.channels[channelID], id)
		targets = append(targets, s)
	}
	if len(b.channels[channelID]) == 0 {
		delete(b.channels, channelID)
	}
	b.mu.Unlock()

	b.detach(targets, channelID, ReasonMembershipRevoked)
}

// CloseChannel detaches every subscription from a deleted channel.
func (b *Broker) CloseChannel(channelID uint) {
	b.mu.Lock()
	set := b.channels[channelID]
	targets := make([]*Subscription, 0, len(set))
	for _, s := range set {
		targets = append(targets, s)
	}
	delete(b.channels, channelID)
	b.mu.Unlock()

	b.hwmMu.Lock()
	delete(b.hwm, channelID)
	b.hwmMu.Unlock()

	b.detach(targets, channelID, ReasonChannelDeleted)
}

func (b *Broker) detach(targets []*Subscription, channelID uint, reason CloseReason) {
	for _, s := range targets {
		left := s.removeChannel(channelID)
		if left == 0 && !(s.follow && s.State() == StateConnecting) {
			b.closeSubscription(s, reason)
			continue
		}
		notice := Event{Kind: EventChannelClosed, ChannelID: channelID, Reason: reason}
		if !s.offer(notice) && s.drain() {
			b.closeSubscription(s, ReasonSlowConsumer)
		}
	}
}

// Shutdown closes every subscription and refuses new ones.
func (b *Broker) Shutdown() {
	b.mu.Lock()
	b.closed = true
	all := make([]*Subscription, 0, len(b.subs))
	for _, s := range b.subs {
		all = append(all, s)
	}
	b.mu.Unlock()

	for _, s := range all {
		b.closeSubscription(s, ReasonShutdown)
	}
	b.log.Info().Int("closed", len(all)).Msg("broker shut down")
}

// Stats is a point-in-time view of the broker's registrations.
type Stats struct {
	Subscriptions int `json:"subscriptions"`
	Users         int `json:"users"`
	Channels      int `json:"channels"`
}

func (b *Broker) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return Stats{
		Subscriptions: len(b.subs),
		Users:         len(b.users),
		Channels:      len(b.channels),
	}
}

// ChannelSubscribers is the number of live subscriptions on channelID.
func (b *Broker) ChannelSubscribers(channelID uint) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.channels[channelID])
}
