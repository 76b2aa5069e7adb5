package broker

import (
	"errors"
	"sort"
	"sync"

	"github.com/noteduco342/om-channels/internal/apperr"
	"github.com/noteduco342/om-channels/internal/models"
)

type State int

const (
	StateConnecting State = iota
	StateActive
	StateDraining
	StateClosed
	StateRejected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	case StateRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

type CloseReason string

const (
	ReasonClientClosed      CloseReason = "client_closed"
	ReasonSlowConsumer      CloseReason = "slow_consumer"
	ReasonChannelDeleted    CloseReason = "channel_deleted"
	ReasonMembershipRevoked CloseReason = "membership_revoked"
	ReasonShutdown          CloseReason = "shutdown"
)

// Retry reports whether a client should reconnect and catch up after a
// close with this reason.
func (r CloseReason) Retry() bool {
	return r == ReasonSlowConsumer || r == ReasonShutdown
}

var ErrShutdown = errors.New("broker: shutting down")

type EventKind string

const (
	EventMessage       EventKind = "message"
	EventChannelClosed EventKind = "channel_closed"
)

// Event is one element of a subscription stream. Message is set for
// EventMessage, Reason for EventChannelClosed.
type Event struct {
	Kind      EventKind
	ChannelID uint
	Message   models.Message
	Reason    CloseReason
}

// Subscription is one live stream for one user across a set of channels.
// Events are buffered up to the broker's buffer size; a subscriber that
// falls behind is closed with ReasonSlowConsumer.
type Subscription struct {
	id     string
	userID string
	events chan Event
	done   chan struct{}
	broker *Broker
	// follow marks a stream that gains channels as the user joins them.
	follow bool

	mu        sync.Mutex
	channels  map[uint]struct{}
	state     State
	reason    CloseReason
	activated bool
}

func newSubscription(id, userID string, bufferSize int, b *Broker) *Subscription {
	return &Subscription{
		id:       id,
		userID:   userID,
		events:   make(chan Event, bufferSize),
		done:     make(chan struct{}),
		broker:   b,
		channels: make(map[uint]struct{}),
		state:    StateConnecting,
	}
}

func (s *Subscription) ID() string     { return s.id }
func (s *Subscription) UserID() string { return s.userID }

// Events is never closed; select on Done as well.
func (s *Subscription) Events() <-chan Event { return s.events }

func (s *Subscription) Done() <-chan struct{} { return s.done }

func (s *Subscription) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Subscription) Reason() CloseReason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// Err maps the close reason onto the error taxonomy. A client close is not
// an error.
func (s *Subscription) Err() error {
	switch s.Reason() {
	case ReasonSlowConsumer:
		return apperr.SlowConsumer("subscriber could not keep up")
	case ReasonChannelDeleted:
		return apperr.NotFound("channel deleted")
	case ReasonMembershipRevoked:
		return apperr.Forbidden("channel membership revoked")
	case ReasonShutdown:
		return ErrShutdown
	default:
		return nil
	}
}

func (s *Subscription) Channels() []uint {
	s.mu.Lock()
	out := make([]uint, 0, len(s.channels))
	for id := range s.channels {
		out = append(out, id)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s *Subscription) hasChannel(channelID uint) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.channels[channelID]
	return ok
}

// Close disconnects the subscriber. Safe to call more than once.
func (s *Subscription) Close() {
	s.broker.closeSubscription(s, ReasonClientClosed)
}

// offer enqueues without blocking. false means the buffer is full or the
// subscription already finished.
func (s *Subscription) offer(ev Event) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.events <- ev:
		return true
	default:
		return false
	}
}

func (s *Subscription) activate() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateConnecting {
		return false
	}
	s.state = StateActive
	s.activated = true
	return true
}

// drain marks a live subscriber as falling behind. Only the first caller
// wins, so concurrent publishers close it once.
func (s *Subscription) drain() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateConnecting && s.state != StateActive {
		return false
	}
	s.state = StateDraining
	return true
}

func (s *Subscription) wasActivated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activated
}

// finish moves the subscription to a terminal state and returns the
// channels it was registered on.
func (s *Subscription) finish(terminal State, reason CloseReason) ([]uint, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed || s.state == StateRejected {
		return nil, false
	}
	s.state = terminal
	s.reason = reason
	channels := make([]uint, 0, len(s.channels))
	for id := range s.channels {
		channels = append(channels, id)
	}
	close(s.done)
	return channels, true
}

func (s *Subscription) addChannel(channelID uint) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed || s.state == StateRejected {
		return false
	}
	s.channels[channelID] = struct{}{}
	return true
}

// removeChannel returns the number of channels left.
func (s *Subscription) removeChannel(channelID uint) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.channels, channelID)
	return len(s.channels)
}
