package realtime

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	defaultReconnectAttempts = 5
	defaultReconnectDelay    = time.Second
	defaultHandshakeTimeout  = 10 * time.Second
)

// WebSocketConfig describes a websocket event source.
type WebSocketConfig struct {
	URL               string
	Token             string
	ReconnectAttempts int
	ReconnectDelay    time.Duration
	Dialer            *websocket.Dialer
	Clock             func() time.Time
	Logger            *zap.Logger
}

// WebSocketSource reads {event, data} envelopes from a websocket. Consecutive
// failed dials are bounded; a successful connection resets the budget.
type WebSocketSource struct {
	url               string
	token             string
	reconnectAttempts int
	reconnectDelay    time.Duration
	dialer            *websocket.Dialer
	clock             func() time.Time
	logger            *zap.Logger
}

func NewWebSocketSource(cfg WebSocketConfig) (*WebSocketSource, error) {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		return nil, errMissingURL
	}
	attempts := cfg.ReconnectAttempts
	if attempts <= 0 {
		attempts = defaultReconnectAttempts
	}
	delay := cfg.ReconnectDelay
	if delay <= 0 {
		delay = defaultReconnectDelay
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: defaultHandshakeTimeout,
		}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebSocketSource{
		url:               url,
		token:             strings.TrimSpace(cfg.Token),
		reconnectAttempts: attempts,
		reconnectDelay:    delay,
		dialer:            dialer,
		clock:             clock,
		logger:            logger,
	}, nil
}

func (s *WebSocketSource) Run(ctx context.Context, sink func(Event)) error {
	failures := 0
	for {
		conn, _, err := s.dialer.DialContext(ctx, s.url, s.header())
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			failures++
			s.logger.Warn("realtime websocket dial failed",
				zap.String("url", s.url),
				zap.Int("attempt", failures),
				zap.Error(err))
			sink(connectionEvent(EventConnectError, err, s.clock()))
			if failures >= s.reconnectAttempts {
				return ErrReconnectExhausted
			}
			if !sleepContext(ctx, s.reconnectDelay) {
				return nil
			}
			continue
		}

		failures = 0
		sink(connectionEvent(EventConnect, nil, s.clock()))
		readErr := s.read(ctx, conn, sink)
		sink(connectionEvent(EventDisconnect, readErr, s.clock()))
		if ctx.Err() != nil {
			return nil
		}
		s.logger.Info("realtime websocket disconnected", zap.Error(readErr))
		if !sleepContext(ctx, s.reconnectDelay) {
			return nil
		}
	}
}

func (s *WebSocketSource) read(ctx context.Context, conn *websocket.Conn, sink func(Event)) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			_ = conn.Close()
		case <-done:
			_ = conn.Close()
		}
	}()

	for {
		messageType, payload, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return err
		}
		if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
			continue
		}
		event, err := DecodeEvent(payload, s.clock())
		if err != nil {
			if errors.Is(err, ErrMalformedEvent) {
				s.logger.Debug("realtime event dropped", zap.Error(err))
				continue
			}
			return err
		}
		sink(event)
	}
}

func (s *WebSocketSource) header() http.Header {
	header := http.Header{}
	if s.token != "" {
		header.Set("Authorization", "Bearer "+s.token)
	}
	return header
}
