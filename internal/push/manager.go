package push

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/upnvj-forum/forum-sync/internal/cache"
	"go.uber.org/zap"
)

const (
	opEnsureSubscribed = "push.ensure_subscribed"
	opDeactivate       = "push.deactivate"
	opReactivate       = "push.reactivate"
	opUnsubscribe      = "push.unsubscribe"
	opStatus           = "push.status"
	opPublicKey        = "push.public_key"

	defaultUserAgent = "forum-sync"
)

var (
	errMissingPlatform = errors.New("push: platform is required")
	errMissingRegistry = errors.New("push: registry is required")
)

// StatusKey is the cache key the manager publishes its Status under.
var StatusKey = cache.NewKey(cache.FamilyPush, "status")

// ManagerConfig describes the dependencies of a Manager.
type ManagerConfig struct {
	Platform  Platform
	Registry  Registry
	Cache     *cache.Store
	UserAgent string
	Logger    *zap.Logger
}

// Manager binds the device endpoint to its server record across login and
// logout. Operations are serialized and idempotent: repeating one in the
// state it produced is a no-op.
type Manager struct {
	mu          sync.Mutex
	platform    Platform
	registry    Registry
	states      ServerStateStore
	cache       *cache.Store
	userAgent   string
	logger      *zap.Logger
	publicKey   string
	serverState ServerState
	loaded      bool
}

// NewManager constructs a Manager.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Platform == nil {
		return nil, errMissingPlatform
	}
	if cfg.Registry == nil {
		return nil, errMissingRegistry
	}
	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	states, _ := cfg.Platform.(ServerStateStore)
	return &Manager{
		platform:    cfg.Platform,
		registry:    cfg.Registry,
		states:      states,
		cache:       cfg.Cache,
		userAgent:   userAgent,
		logger:      logger,
		serverState: ServerStateAbsent,
	}, nil
}

// EnsureSubscribed makes sure a local endpoint exists and is registered with
// the server. With permission granted and an endpoint present it does nothing.
func (m *Manager) EnsureSubscribed(ctx context.Context) (Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.platform.Supported() {
		return m.statusLocked(ctx), newOperationError(opEnsureSubscribed, "unsupported", ErrUnsupported)
	}
	permission, subscription, err := m.inspectLocked(ctx, opEnsureSubscribed)
	if err != nil {
		return m.statusLocked(ctx), err
	}
	if permission == PermissionGranted && subscription != nil {
		return m.statusLocked(ctx), nil
	}
	if permission == PermissionDenied {
		return m.statusLocked(ctx), newOperationError(opEnsureSubscribed, "permission_denied", ErrPermissionDenied)
	}
	if permission != PermissionGranted {
		permission, err = m.platform.RequestPermission(ctx)
		if err != nil {
			m.logError(opEnsureSubscribed, "permission_request_failed", err)
			return m.statusLocked(ctx), newOperationError(opEnsureSubscribed, "permission_request_failed", err)
		}
		if permission != PermissionGranted {
			return m.statusLocked(ctx), newOperationError(opEnsureSubscribed, "permission_denied", ErrPermissionDenied)
		}
	}

	created := false
	if subscription == nil {
		key, err := m.applicationKeyLocked(ctx)
		if err != nil {
			return m.statusLocked(ctx), newOperationError(opEnsureSubscribed, "public_key_failed", err)
		}
		local, err := m.platform.Subscribe(ctx, key)
		if err != nil {
			m.logError(opEnsureSubscribed, "local_subscribe_failed", err)
			return m.statusLocked(ctx), newOperationError(opEnsureSubscribed, "local_subscribe_failed", err)
		}
		subscription = &local
		created = true
	}

	if err := m.registry.Register(ctx, *subscription, m.userAgent); err != nil {
		m.logError(opEnsureSubscribed, "register_failed", err, zap.String("endpoint", subscription.Endpoint))
		if created {
			// An unregistered endpoint would make the next call a no-op.
			if unsubscribeErr := m.platform.Unsubscribe(ctx); unsubscribeErr != nil {
				m.logError(opEnsureSubscribed, "rollback_failed", unsubscribeErr)
			}
		}
		return m.statusLocked(ctx), newOperationError(opEnsureSubscribed, "register_failed", err)
	}
	m.setServerStateLocked(ctx, ServerStateActive)
	m.logger.Info("push subscription registered", zap.String("endpoint", subscription.Endpoint))
	return m.statusLocked(ctx), nil
}

// DeactivateForLogout marks the endpoint inactive on the server and keeps it
// locally so that the next login can reactivate it.
func (m *Manager) DeactivateForLogout(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.platform.Supported() {
		return nil
	}
	_, subscription, err := m.inspectLocked(ctx, opDeactivate)
	if err != nil {
		return err
	}
	if subscription == nil || m.serverState == ServerStateInactive {
		m.statusLocked(ctx)
		return nil
	}
	if err := m.registry.Deactivate(ctx, subscription.Endpoint); err != nil {
		m.logError(opDeactivate, "server_deactivate_failed", err, zap.String("endpoint", subscription.Endpoint))
		return newOperationError(opDeactivate, "server_deactivate_failed", err)
	}
	m.setServerStateLocked(ctx, ServerStateInactive)
	m.statusLocked(ctx)
	return nil
}

// ReactivateForLogin marks an existing endpoint active again. Without a local
// endpoint it does nothing; the viewer has to subscribe explicitly.
func (m *Manager) ReactivateForLogin(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.platform.Supported() {
		return nil
	}
	permission, subscription, err := m.inspectLocked(ctx, opReactivate)
	if err != nil {
		return err
	}
	if subscription == nil || permission != PermissionGranted || m.serverState == ServerStateActive {
		m.statusLocked(ctx)
		return nil
	}
	if err := m.registry.Reactivate(ctx, subscription.Endpoint); err != nil {
		m.logError(opReactivate, "server_reactivate_failed", err, zap.String("endpoint", subscription.Endpoint))
		return newOperationError(opReactivate, "server_reactivate_failed", err)
	}
	m.setServerStateLocked(ctx, ServerStateActive)
	m.statusLocked(ctx)
	return nil
}

// Unsubscribe deletes the endpoint on the server, then locally.
func (m *Manager) Unsubscribe(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.platform.Supported() {
		return newOperationError(opUnsubscribe, "unsupported", ErrUnsupported)
	}
	subscription, err := m.platform.Subscription(ctx)
	if err != nil {
		m.logError(opUnsubscribe, "local_lookup_failed", err)
		return newOperationError(opUnsubscribe, "local_lookup_failed", err)
	}
	if subscription == nil {
		m.setServerStateLocked(ctx, ServerStateAbsent)
		m.statusLocked(ctx)
		return nil
	}
	if err := m.registry.Remove(ctx, subscription.Endpoint); err != nil {
		m.logError(opUnsubscribe, "server_remove_failed", err, zap.String("endpoint", subscription.Endpoint))
		return newOperationError(opUnsubscribe, "server_remove_failed", err)
	}
	if err := m.platform.Unsubscribe(ctx); err != nil {
		m.logError(opUnsubscribe, "local_unsubscribe_failed", err)
		return newOperationError(opUnsubscribe, "local_unsubscribe_failed", err)
	}
	m.setServerStateLocked(ctx, ServerStateAbsent)
	m.statusLocked(ctx)
	return nil
}

// Status reports the current lifecycle state. A permission revoked while the
// server still holds an active endpoint is enforced here as well.
func (m *Manager) Status(ctx context.Context) Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.platform.Supported() {
		if _, _, err := m.inspectLocked(ctx, opStatus); err != nil {
			m.logError(opStatus, "inspect_failed", err)
		}
	}
	return m.statusLocked(ctx)
}

// inspectLocked reads permission and the local endpoint and enforces that the
// server never holds an active endpoint without granted permission.
func (m *Manager) inspectLocked(ctx context.Context, operation string) (Permission, *Subscription, error) {
	m.loadServerStateLocked(ctx)
	permission, err := m.platform.Permission(ctx)
	if err != nil {
		m.logError(operation, "permission_lookup_failed", err)
		return "", nil, newOperationError(operation, "permission_lookup_failed", err)
	}
	subscription, err := m.platform.Subscription(ctx)
	if err != nil {
		m.logError(operation, "local_lookup_failed", err)
		return "", nil, newOperationError(operation, "local_lookup_failed", err)
	}
	if subscription == nil && m.serverState != ServerStateAbsent {
		m.setServerStateLocked(ctx, ServerStateAbsent)
	}
	if permission != PermissionGranted && subscription != nil && m.serverState == ServerStateActive {
		m.logger.Warn("push permission revoked while active, unsubscribing",
			zap.String("operation", operation),
			zap.String("permission", string(permission)),
			zap.String("endpoint", subscription.Endpoint))
		if err := m.registry.Remove(ctx, subscription.Endpoint); err != nil {
			m.logError(operation, "revoked_server_remove_failed", err)
		}
		if err := m.platform.Unsubscribe(ctx); err != nil {
			m.logError(operation, "revoked_local_unsubscribe_failed", err)
			return "", nil, newOperationError(operation, "revoked_local_unsubscribe_failed", err)
		}
		m.setServerStateLocked(ctx, ServerStateAbsent)
		subscription = nil
	}
	return permission, subscription, nil
}

func (m *Manager) applicationKeyLocked(ctx context.Context) (string, error) {
	if m.publicKey != "" {
		return m.publicKey, nil
	}
	key, err := m.registry.PublicKey(ctx)
	if err != nil {
		m.logError(opPublicKey, "fetch_failed", err)
		return "", err
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", ErrMissingPublicKey
	}
	m.publicKey = key
	return key, nil
}

func (m *Manager) loadServerStateLocked(ctx context.Context) {
	if m.loaded || m.states == nil {
		m.loaded = true
		return
	}
	state, err := m.states.LoadServerState(ctx)
	if err != nil {
		m.logError(opStatus, "load_server_state_failed", err)
		return
	}
	m.loaded = true
	if state != "" {
		m.serverState = state
	}
}

func (m *Manager) setServerStateLocked(ctx context.Context, state ServerState) {
	if m.serverState == state {
		return
	}
	m.serverState = state
	if m.states == nil {
		return
	}
	if err := m.states.SaveServerState(ctx, state); err != nil {
		m.logError(opStatus, "save_server_state_failed", err, zap.String("server_state", string(state)))
	}
}

// statusLocked builds a Status and publishes it to the cache.
func (m *Manager) statusLocked(ctx context.Context) Status {
	status := Status{Supported: m.platform.Supported(), ServerState: m.serverState}
	if !status.Supported {
		status.Permission = PermissionDenied
		status.State = StateUnsupported
		m.publish(status)
		return status
	}
	m.loadServerStateLocked(ctx)
	status.ServerState = m.serverState
	permission, err := m.platform.Permission(ctx)
	if err != nil {
		m.logError(opStatus, "permission_lookup_failed", err)
		permission = PermissionDefault
	}
	status.Permission = permission
	if subscription, err := m.platform.Subscription(ctx); err == nil && subscription != nil {
		status.HasEndpoint = true
		status.Endpoint = subscription.Endpoint
	}
	status.State = Resolve(status.Permission, status.ServerState)
	m.publish(status)
	return status
}

func (m *Manager) publish(status Status) {
	if m.cache == nil {
		return
	}
	m.cache.Set(StatusKey, status)
}

func (m *Manager) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	m.logger.Warn("push manager error", attrs...)
}
