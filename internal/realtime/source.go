package realtime

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrReconnectExhausted reports that a source gave up after its bounded reconnect attempts.
	ErrReconnectExhausted = errors.New("realtime: reconnect attempts exhausted")
	errMissingURL         = errors.New("realtime: source url is required")
)

// Source delivers decoded events to sink until ctx is done or the source
// gives up. Connection-state changes are delivered as connect, disconnect and
// connect_error events.
type Source interface {
	Run(ctx context.Context, sink func(Event)) error
}

func sleepContext(ctx context.Context, delay time.Duration) bool {
	if delay <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
