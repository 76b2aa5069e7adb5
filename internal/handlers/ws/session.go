package ws

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/noteduco342/om-channels/internal/broker"
	"github.com/rs/zerolog"
)

// Conn is the part of *websocket.Conn a session uses.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

type Config struct {
	PingInterval time.Duration
	PongTimeout  time.Duration
	WriteTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.PongTimeout <= 0 {
		c.PongTimeout = 90 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	return c
}

// Session pumps one subscription onto one websocket. All writes happen on
// the goroutine running Run; the reader only queues replies.
type Session struct {
	conn   Conn
	sub    *broker.Subscription
	userID string
	chat   ChatAPI
	cfg    Config
	log    zerolog.Logger

	out      chan Message
	stop     chan struct{}
	stopOnce sync.Once
}

func NewSession(conn Conn, sub *broker.Subscription, chat ChatAPI, cfg Config, log zerolog.Logger) *Session {
	return &Session{
		conn:   conn,
		sub:    sub,
		userID: sub.UserID(),
		chat:   chat,
		cfg:    cfg.withDefaults(),
		log:    log.With().Str("user_id", sub.UserID()).Str("subscription", sub.ID()).Logger(),
		out:    make(chan Message, 16),
		stop:   make(chan struct{}),
	}
}

func (s *Session) halt() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// Run blocks until the client goes away, the subscription closes, or ctx is
// cancelled. The subscription and connection are released on return.
func (s *Session) Run(ctx context.Context) {
	defer s.conn.Close()
	defer s.sub.Close()
	defer s.halt()

	s.conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	})

	readerCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go s.readLoop(readerCtx)

	s.writeLoop(ctx)
}

func (s *Session) readLoop(ctx context.Context) {
	defer s.halt()
	mctx := &MessageContext{
		Ctx:    ctx,
		UserID: s.userID,
		Chat:   s.chat,
		Send:   s.enqueue,
	}
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.log.Debug().Err(err).Msg("websocket read ended")
			return
		}
		s.conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))

		msg, err := Deserialize(data)
		if err != nil {
			s.enqueue(errorFrame(err))
			continue
		}
		if err := msg.Process(mctx); err != nil {
			s.log.Debug().Err(err).Str("type", msg.GetType()).Msg("frame failed")
			s.enqueue(errorFrame(err))
		}
	}
}

func (s *Session) enqueue(msg Message) error {
	select {
	case s.out <- msg:
		return nil
	case <-s.stop:
		return context.Canceled
	}
}

func (s *Session) writeLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.write(closedFrame(0, broker.ReasonShutdown))
			return
		case <-s.stop:
			return
		case ev := <-s.sub.Events():
			if !s.writeEvent(ev) {
				return
			}
		case <-s.sub.Done():
			s.finish()
			return
		case msg := <-s.out:
			if !s.write(msg) {
				return
			}
		case <-ticker.C:
			deadline := time.Now().Add(s.cfg.WriteTimeout)
			if err := s.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				s.log.Debug().Err(err).Msg("ping failed")
				return
			}
		}
	}
}

// finish flushes what the broker had already queued, then sends the
// terminal notice.
func (s *Session) finish() {
drain:
	for {
		select {
		case ev := <-s.sub.Events():
			if !s.writeEvent(ev) {
				return
			}
		default:
			break drain
		}
	}
	reason := s.sub.Reason()
	s.log.Debug().Str("reason", string(reason)).Msg("subscription finished")
	s.write(closedFrame(0, reason))
}

func (s *Session) writeEvent(ev broker.Event) bool {
	switch ev.Kind {
	case broker.EventMessage:
		return s.write(&MessageNew{Message: ev.Message})
	case broker.EventChannelClosed:
		return s.write(closedFrame(ev.ChannelID, ev.Reason))
	default:
		return true
	}
}

func (s *Session) write(msg Message) bool {
	data, err := Serialize(msg)
	if err != nil {
		s.log.Error().Err(err).Str("type", msg.GetType()).Msg("serialize frame")
		return true
	}
	s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		s.log.Debug().Err(err).Msg("websocket write failed")
		return false
	}
	return true
}

// Reject tells the client why no subscription could be opened and closes
// the connection.
func Reject(conn Conn, err error, writeTimeout time.Duration) {
	defer conn.Close()
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	data, serr := Serialize(errorFrame(err))
	if serr != nil {
		return
	}
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_ = conn.WriteMessage(websocket.TextMessage, data)
}
