package relay

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/noteduco342/om-channels/internal/metrics"
	"github.com/noteduco342/om-channels/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultQueueSize = 1024
	publishTimeout   = 2 * time.Second
)

// LocalPublisher is the in-process fan-out, normally *broker.Broker.
type LocalPublisher interface {
	// Publish delivers a message appended on this instance.
	Publish(msg models.Message) int
	// Forward delivers a message appended on another instance.
	Forward(msg models.Message) int
}

type envelope struct {
	Origin  string         `msgpack:"o"`
	Message models.Message `msgpack:"m"`
}

// Relay forwards appended messages between instances over Redis pub/sub.
// Local subscribers are served directly from Notify; Redis only carries the
// message to other instances. Outbound envelopes wait in a bounded queue
// drained by Run, so a slow Redis never holds up an append. A full queue
// drops the envelope and remote subscribers recover it through catch-up.
type Relay struct {
	client  *redis.Client
	channel string
	origin  string
	local   LocalPublisher
	log     zerolog.Logger

	queue   chan []byte
	publish func(ctx context.Context, payload []byte) error
}

func New(client *redis.Client, channel string, queueSize int, local LocalPublisher, log zerolog.Logger) *Relay {
	if queueSize < 1 {
		queueSize = DefaultQueueSize
	}
	r := &Relay{
		client:  client,
		channel: channel,
		origin:  uuid.NewString(),
		local:   local,
		log:     log.With().Str("component", "relay").Logger(),
		queue:   make(chan []byte, queueSize),
	}
	r.publish = func(ctx context.Context, payload []byte) error {
		return r.client.Publish(ctx, r.channel, payload).Err()
	}
	return r
}

// Notify publishes msg to local subscribers and queues it for the other
// instances. It never blocks.
func (r *Relay) Notify(_ context.Context, msg models.Message) {
	r.local.Publish(msg)

	payload, err := msgpack.Marshal(envelope{Origin: r.origin, Message: msg})
	if err != nil {
		metrics.RelayErrors.Inc()
		r.log.Error().Err(err).Uint("message_id", msg.ID).Msg("encode relay envelope")
		return
	}
	select {
	case r.queue <- payload:
	default:
		metrics.RelayDropped.Inc()
		r.log.Warn().
			Uint("channel_id", msg.ChannelID).
			Uint64("position", msg.Position).
			Msg("relay queue full, message not relayed")
	}
}

// Run drains the outbound queue and consumes relayed messages until ctx is
// cancelled.
func (r *Relay) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		r.drain(gctx)
		return nil
	})
	g.Go(func() error {
		return r.consume(gctx)
	})
	return g.Wait()
}

func (r *Relay) drain(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case payload := <-r.queue:
			pctx, cancel := context.WithTimeout(ctx, publishTimeout)
			err := r.publish(pctx, payload)
			cancel()
			if err != nil {
				metrics.RelayErrors.Inc()
				r.log.Warn().Err(err).Msg("relay publish failed")
			}
		}
	}
}

func (r *Relay) consume(ctx context.Context) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	r.log.Info().Str("channel", r.channel).Msg("relay subscribed")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-ch:
			if !ok {
				return errors.New("relay subscription closed")
			}
			r.handle([]byte(m.Payload))
		}
	}
}

func (r *Relay) handle(payload []byte) {
	var env envelope
	if err := msgpack.Unmarshal(payload, &env); err != nil {
		metrics.RelayErrors.Inc()
		r.log.Warn().Err(err).Msg("decode relay envelope")
		return
	}
	if env.Origin == r.origin {
		return
	}
	r.local.Forward(env.Message)
}
