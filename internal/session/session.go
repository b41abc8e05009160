package session

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/upnvj-forum/forum-sync/internal/auth"
	"github.com/upnvj-forum/forum-sync/internal/cache"
	"github.com/upnvj-forum/forum-sync/internal/feed"
	"github.com/upnvj-forum/forum-sync/internal/realtime"
)

const (
	opLogin        = "session.login"
	opLogout       = "session.logout"
	opOpenFeed     = "session.open_feed"
	opRoute        = "session.route_event"
	reasonPush     = "push_transition_failed"
	reasonRealtime = "realtime_unavailable"
)

var (
	// ErrNotLoggedIn is returned by operations that need an authenticated viewer.
	ErrNotLoggedIn = errors.New("session: not logged in")

	errMissingParser   = errors.New("session: viewer parser is required")
	errMissingAPI      = errors.New("session: api token sink is required")
	errMissingRealtime = errors.New("session: realtime connector is required")
	errMissingPush     = errors.New("session: push lifecycle is required")
	errMissingVotes    = errors.New("session: vote engine is required")
	errMissingCache    = errors.New("session: cache store is required")
	errMissingPages    = errors.New("session: page source is required")
)

// TokenSink receives the bearer token used for REST calls.
type TokenSink interface {
	SetToken(token string)
}

// Realtime is the session-scoped event connection.
type Realtime interface {
	Connect(ctx context.Context, token string) error
	Disconnect()
	Dispatcher() *realtime.Dispatcher
}

// PushLifecycle reacts to login and logout.
type PushLifecycle interface {
	ReactivateForLogin(ctx context.Context) error
	DeactivateForLogout(ctx context.Context) error
}

// VoteResetter drops per-viewer optimistic vote state.
type VoteResetter interface {
	Reset()
}

// Config describes the collaborators bound to the session lifecycle.
type Config struct {
	Parser   *auth.ViewerParser
	API      TokenSink
	Realtime Realtime
	Push     PushLifecycle
	Votes    VoteResetter
	Cache    *cache.Store
	Pages    feed.PageSource
	Logger   *zap.Logger
}

// Manager drives login and logout across the daemon's components and routes
// real-time events to the open feeds and the cache.
type Manager struct {
	mu       sync.Mutex
	parser   *auth.ViewerParser
	api      TokenSink
	realtime Realtime
	push     PushLifecycle
	votes    VoteResetter
	cache    *cache.Store
	pages    feed.PageSource
	logger   *zap.Logger

	viewer   auth.Viewer
	token    string
	loggedIn bool

	feedsMu sync.RWMutex
	feeds   map[cache.Key]*feed.Synchronizer
}

func NewManager(cfg Config) (*Manager, error) {
	switch {
	case cfg.Parser == nil:
		return nil, errMissingParser
	case cfg.API == nil:
		return nil, errMissingAPI
	case cfg.Realtime == nil:
		return nil, errMissingRealtime
	case cfg.Push == nil:
		return nil, errMissingPush
	case cfg.Votes == nil:
		return nil, errMissingVotes
	case cfg.Cache == nil:
		return nil, errMissingCache
	case cfg.Pages == nil:
		return nil, errMissingPages
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		parser:   cfg.Parser,
		api:      cfg.API,
		realtime: cfg.Realtime,
		push:     cfg.Push,
		votes:    cfg.Votes,
		cache:    cfg.Cache,
		pages:    cfg.Pages,
		logger:   logger,
		feeds:    make(map[cache.Key]*feed.Synchronizer),
	}, nil
}

// Viewer returns the authenticated viewer.
func (m *Manager) Viewer() (auth.Viewer, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.viewer, m.loggedIn
}

// Login binds the daemon to token. Logging in again with the same token is a
// no-op; a different token ends the previous session first.
//
// Push reactivation and the real-time connection are best effort: their
// failures are logged and the login still succeeds.
func (m *Manager) Login(ctx context.Context, token string) (auth.Viewer, error) {
	viewer, err := m.parser.Parse(token)
	if err != nil {
		m.logError(opLogin, "invalid_token", err)
		return auth.Viewer{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loggedIn && m.token == token {
		return m.viewer, nil
	}
	if m.loggedIn {
		m.logoutLocked(ctx)
	}

	m.api.SetToken(token)
	m.viewer = viewer
	m.token = token
	m.loggedIn = true

	if err := m.realtime.Connect(ctx, token); err != nil {
		m.logError(opLogin, reasonRealtime, err)
	}
	if err := m.push.ReactivateForLogin(ctx); err != nil {
		m.logError(opLogin, reasonPush, err)
	}

	for _, synchronizer := range m.openFeeds() {
		synchronizer.SetViewer(viewer.ID)
	}
	// Anonymous renderings lack the viewer's vote status and bookmarks.
	m.cache.Invalidate(cache.NewKey(cache.FamilyDiscussions))

	m.logger.Info("session started",
		zap.Int64("viewer_id", viewer.ID),
		zap.String("username", viewer.Username))
	return viewer, nil
}

// Logout ends the session. It is a no-op when nobody is logged in.
func (m *Manager) Logout(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.loggedIn {
		return nil
	}
	m.logoutLocked(ctx)
	return nil
}

// logoutLocked tears the session down. The push endpoint is deactivated while
// the token is still installed because the call is authenticated.
func (m *Manager) logoutLocked(ctx context.Context) {
	viewerID := m.viewer.ID
	if err := m.push.DeactivateForLogout(ctx); err != nil {
		m.logError(opLogout, reasonPush, err)
	}
	m.realtime.Disconnect()
	m.api.SetToken("")
	m.votes.Reset()

	m.feedsMu.Lock()
	for key, synchronizer := range m.feeds {
		synchronizer.Close()
		delete(m.feeds, key)
	}
	m.feedsMu.Unlock()
	m.cache.Clear()

	m.viewer = auth.Viewer{}
	m.token = ""
	m.loggedIn = false
	m.logger.Info("session ended", zap.Int64("viewer_id", viewerID))
}

// OpenFeed returns the synchronizer for query, creating it on first use.
func (m *Manager) OpenFeed(query feed.Query) (*feed.Synchronizer, error) {
	normalized, err := query.Normalize()
	if err != nil {
		return nil, err
	}
	key := normalized.CacheKey()

	m.feedsMu.RLock()
	existing, ok := m.feeds[key]
	m.feedsMu.RUnlock()
	if ok {
		return existing, nil
	}

	viewer, _ := m.Viewer()
	m.feedsMu.Lock()
	defer m.feedsMu.Unlock()
	if existing, ok := m.feeds[key]; ok {
		return existing, nil
	}
	synchronizer, err := feed.NewSynchronizer(feed.Config{
		Source:   m.pages,
		Cache:    m.cache,
		Query:    normalized,
		ViewerID: viewer.ID,
		Logger:   m.logger,
	})
	if err != nil {
		m.logError(opOpenFeed, "synchronizer_failed", err)
		return nil, err
	}
	m.feeds[key] = synchronizer
	return synchronizer, nil
}

// CloseFeed closes and forgets the synchronizer for query.
func (m *Manager) CloseFeed(query feed.Query) bool {
	normalized, err := query.Normalize()
	if err != nil {
		return false
	}
	key := normalized.CacheKey()
	m.feedsMu.Lock()
	synchronizer, ok := m.feeds[key]
	delete(m.feeds, key)
	m.feedsMu.Unlock()
	if ok {
		synchronizer.Close()
	}
	return ok
}

// Close ends the session and closes every feed.
func (m *Manager) Close(ctx context.Context) {
	_ = m.Logout(ctx)
	m.feedsMu.Lock()
	for key, synchronizer := range m.feeds {
		synchronizer.Close()
		delete(m.feeds, key)
	}
	m.feedsMu.Unlock()
}

func (m *Manager) openFeeds() []*feed.Synchronizer {
	m.feedsMu.RLock()
	defer m.feedsMu.RUnlock()
	synchronizers := make([]*feed.Synchronizer, 0, len(m.feeds))
	for _, synchronizer := range m.feeds {
		synchronizers = append(synchronizers, synchronizer)
	}
	return synchronizers
}

func (m *Manager) logError(operation, reason string, err error, fields ...zap.Field) {
	if m.logger == nil || err == nil {
		return
	}
	allFields := append([]zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.Error(err),
	}, fields...)
	m.logger.Warn("session operation failed", allFields...)
}
