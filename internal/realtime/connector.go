package realtime

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

var (
	errMissingDispatcher    = errors.New("realtime: dispatcher is required")
	errMissingSourceFactory = errors.New("realtime: source factory is required")
)

// SourceFactory builds an event source authenticated with the session token.
type SourceFactory func(token string) (Source, error)

// ConnectorConfig describes the dependencies of a Connector.
type ConnectorConfig struct {
	Dispatcher *Dispatcher
	NewSource  SourceFactory
	Logger     *zap.Logger
}

// Connector owns the session-scoped real-time connection: it is opened on
// login, closed on logout, and publishes every event to the dispatcher.
type Connector struct {
	mu         sync.Mutex
	dispatcher *Dispatcher
	newSource  SourceFactory
	logger     *zap.Logger
	cancel     context.CancelFunc
	done       chan struct{}
	connected  bool
}

func NewConnector(cfg ConnectorConfig) (*Connector, error) {
	if cfg.Dispatcher == nil {
		return nil, errMissingDispatcher
	}
	if cfg.NewSource == nil {
		return nil, errMissingSourceFactory
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Connector{dispatcher: cfg.Dispatcher, newSource: cfg.NewSource, logger: logger}, nil
}

// Dispatcher returns the dispatcher events are published to.
func (c *Connector) Dispatcher() *Dispatcher {
	return c.dispatcher
}

// Connect opens a connection for token, replacing any previous one. The
// connection outlives ctx and stays open until Disconnect.
func (c *Connector) Connect(ctx context.Context, token string) error {
	source, err := c.newSource(token)
	if err != nil {
		return err
	}
	c.Disconnect()

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	c.mu.Lock()
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()

	go func() {
		defer close(done)
		if err := source.Run(runCtx, c.deliver); err != nil {
			c.logger.Warn("realtime source stopped",
				zap.String("operation", "realtime.run"),
				zap.Error(err))
		}
		c.setConnected(false)
	}()
	return nil
}

// Disconnect closes the current connection and waits for its source to stop.
func (c *Connector) Disconnect() {
	c.mu.Lock()
	cancel := c.cancel
	done := c.done
	c.cancel = nil
	c.done = nil
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Connected reports whether the current source holds a live connection.
func (c *Connector) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Connector) deliver(event Event) {
	switch event.Type {
	case EventConnect:
		c.setConnected(true)
	case EventDisconnect, EventConnectError:
		c.setConnected(false)
	}
	c.dispatcher.Publish(event)
}

func (c *Connector) setConnected(connected bool) {
	c.mu.Lock()
	c.connected = connected
	c.mu.Unlock()
}
