package realtime

import (
	"context"
	"encoding/json"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const (
	DefaultNATSSubject   = "forum.events.>"
	natsClientName       = "forum-sync"
	natsSubscriptionSize = 64
)

// NATSConfig describes a NATS event source.
type NATSConfig struct {
	URL               string
	Subject           string
	Token             string
	ReconnectAttempts int
	ReconnectDelay    time.Duration
	Clock             func() time.Time
	Logger            *zap.Logger
}

// NATSSource reads events published on a subject hierarchy. A message body is
// either an {event, data} envelope or a bare payload, in which case the event
// name is the last subject token (forum.events.newDiscussion).
type NATSSource struct {
	url               string
	subject           string
	token             string
	reconnectAttempts int
	reconnectDelay    time.Duration
	clock             func() time.Time
	logger            *zap.Logger
}

func NewNATSSource(cfg NATSConfig) (*NATSSource, error) {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		return nil, errMissingURL
	}
	subject := strings.TrimSpace(cfg.Subject)
	if subject == "" {
		subject = DefaultNATSSubject
	}
	attempts := cfg.ReconnectAttempts
	if attempts <= 0 {
		attempts = defaultReconnectAttempts
	}
	delay := cfg.ReconnectDelay
	if delay <= 0 {
		delay = defaultReconnectDelay
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NATSSource{
		url:               url,
		subject:           subject,
		token:             strings.TrimSpace(cfg.Token),
		reconnectAttempts: attempts,
		reconnectDelay:    delay,
		clock:             clock,
		logger:            logger,
	}, nil
}

func (s *NATSSource) Run(ctx context.Context, sink func(Event)) error {
	var closing atomic.Bool
	connectionSink := func(event Event) {
		if !closing.Load() {
			sink(event)
		}
	}
	conn, err := s.connect(ctx, connectionSink)
	if err != nil || conn == nil {
		return err
	}
	defer conn.Close()
	defer closing.Store(true)

	messages := make(chan *nats.Msg, natsSubscriptionSize)
	subscription, err := conn.ChanSubscribe(s.subject, messages)
	if err != nil {
		sink(connectionEvent(EventConnectError, err, s.clock()))
		return err
	}
	defer func() {
		_ = subscription.Unsubscribe()
	}()
	if err := conn.Flush(); err != nil {
		s.logger.Warn("realtime nats flush failed", zap.Error(err))
	}
	sink(connectionEvent(EventConnect, nil, s.clock()))

	for {
		select {
		case <-ctx.Done():
			closing.Store(true)
			sink(connectionEvent(EventDisconnect, nil, s.clock()))
			return nil
		case msg := <-messages:
			event, err := s.decode(msg)
			if err != nil {
				s.logger.Debug("realtime event dropped",
					zap.String("subject", msg.Subject),
					zap.Error(err))
				continue
			}
			sink(event)
		}
	}
}

func (s *NATSSource) connect(ctx context.Context, sink func(Event)) (*nats.Conn, error) {
	options := []nats.Option{
		nats.Name(natsClientName),
		nats.MaxReconnects(s.reconnectAttempts),
		nats.ReconnectWait(s.reconnectDelay),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			sink(connectionEvent(EventDisconnect, err, s.clock()))
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			sink(connectionEvent(EventConnect, nil, s.clock()))
		}),
	}
	if s.token != "" {
		options = append(options, nats.Token(s.token))
	}

	for attempt := 1; ; attempt++ {
		conn, err := nats.Connect(s.url, options...)
		if err == nil {
			return conn, nil
		}
		if ctx.Err() != nil {
			return nil, nil
		}
		s.logger.Warn("realtime nats connect failed",
			zap.String("url", s.url),
			zap.Int("attempt", attempt),
			zap.Error(err))
		sink(connectionEvent(EventConnectError, err, s.clock()))
		if attempt >= s.reconnectAttempts {
			return nil, ErrReconnectExhausted
		}
		if !sleepContext(ctx, s.reconnectDelay) {
			return nil, nil
		}
	}
}

func (s *NATSSource) decode(msg *nats.Msg) (Event, error) {
	event, err := DecodeEvent(msg.Data, s.clock())
	if err == nil {
		return event, nil
	}
	tokens := strings.Split(msg.Subject, ".")
	name := EventType(tokens[len(tokens)-1])
	if name == "" || !json.Valid(msg.Data) {
		return Event{}, err
	}
	return Event{Type: name, Data: json.RawMessage(msg.Data), ReceivedAt: s.clock()}, nil
}
