package push

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Permission is the device's notification permission.
type Permission string

const (
	PermissionDefault Permission = "default"
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
)

// ServerState is what the server last acknowledged for this device's endpoint.
type ServerState string

const (
	ServerStateAbsent   ServerState = "absent"
	ServerStateActive   ServerState = "active"
	ServerStateInactive ServerState = "inactive"
)

// State is the lifecycle state derived from permission and server state.
type State string

const (
	StateUnsupported     State = "unsupported"
	StateNeedsPermission State = "needs-permission"
	StateBlocked         State = "blocked"
	StateNeedsSubscribe  State = "needs-subscribe"
	StateSteady          State = "steady"
	StateNeedsReactivate State = "needs-reactivate"
)

var (
	// ErrUnsupported indicates a device without push support.
	ErrUnsupported = errors.New("push: notifications not supported on this device")
	// ErrPermissionDenied indicates the viewer refused notification permission.
	ErrPermissionDenied = errors.New("push: notification permission denied")
	// ErrMissingPublicKey indicates the server did not provide an application key.
	ErrMissingPublicKey  = errors.New("push: application server key missing")
	errInvalidPermission = errors.New("push: invalid permission")
)

// ParsePermission validates a textual permission.
func ParsePermission(value string) (Permission, error) {
	switch Permission(strings.ToLower(strings.TrimSpace(value))) {
	case PermissionDefault, "":
		return PermissionDefault, nil
	case PermissionGranted:
		return PermissionGranted, nil
	case PermissionDenied:
		return PermissionDenied, nil
	default:
		return "", fmt.Errorf("%w: %q", errInvalidPermission, value)
	}
}

// Resolve maps permission and server state onto the lifecycle state.
func Resolve(permission Permission, server ServerState) State {
	switch permission {
	case PermissionDenied:
		return StateBlocked
	case PermissionGranted:
		switch server {
		case ServerStateActive:
			return StateSteady
		case ServerStateInactive:
			return StateNeedsReactivate
		default:
			return StateNeedsSubscribe
		}
	default:
		return StateNeedsPermission
	}
}

// Keys are the encryption keys of a push subscription.
type Keys struct {
	P256dh string `json:"p256dh"`
	Auth   string `json:"auth"`
}

// Subscription is the local device endpoint registered with the server.
type Subscription struct {
	Endpoint string `json:"endpoint"`
	Keys     Keys   `json:"keys"`
}

// Status is a snapshot of the lifecycle for display.
type Status struct {
	Supported   bool        `json:"supported"`
	Permission  Permission  `json:"permission"`
	HasEndpoint bool        `json:"hasEndpoint"`
	Endpoint    string      `json:"endpoint,omitempty"`
	ServerState ServerState `json:"serverState"`
	State       State       `json:"state"`
}

// Platform is the device side: permission prompt and local endpoint.
type Platform interface {
	Supported() bool
	Permission(ctx context.Context) (Permission, error)
	RequestPermission(ctx context.Context) (Permission, error)
	// Subscription returns nil when no local endpoint exists.
	Subscription(ctx context.Context) (*Subscription, error)
	Subscribe(ctx context.Context, applicationServerKey string) (Subscription, error)
	Unsubscribe(ctx context.Context) error
}

// ServerStateStore persists the last acknowledged server state across restarts.
// Platforms may implement it.
type ServerStateStore interface {
	LoadServerState(ctx context.Context) (ServerState, error)
	SaveServerState(ctx context.Context, state ServerState) error
}

// Registry is the server side of the subscription.
type Registry interface {
	PublicKey(ctx context.Context) (string, error)
	Register(ctx context.Context, subscription Subscription, userAgent string) error
	Deactivate(ctx context.Context, endpoint string) error
	Reactivate(ctx context.Context, endpoint string) error
	Remove(ctx context.Context, endpoint string) error
}

// OperationError carries a "push.<operation>.<reason>" code.
type OperationError struct {
	code string
	err  error
}

func (e *OperationError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *OperationError) Unwrap() error {
	return e.err
}

func (e *OperationError) Code() string {
	return e.code
}

func newOperationError(operation, reason string, cause error) error {
	return &OperationError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}
