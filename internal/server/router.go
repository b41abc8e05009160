package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/upnvj-forum/forum-sync/internal/auth"
	"github.com/upnvj-forum/forum-sync/internal/cache"
	"github.com/upnvj-forum/forum-sync/internal/feed"
	"github.com/upnvj-forum/forum-sync/internal/forumapi"
	"github.com/upnvj-forum/forum-sync/internal/push"
	"github.com/upnvj-forum/forum-sync/internal/session"
	"github.com/upnvj-forum/forum-sync/internal/votes"
)

const defaultHeartbeatInterval = 25 * time.Second

var (
	errMissingSession = errors.New("session manager dependency required")
	errMissingVotes   = errors.New("vote engine dependency required")
	errMissingPush    = errors.New("push manager dependency required")
	errMissingCache   = errors.New("cache store dependency required")
)

// PermissionSetter records the notification permission chosen in the UI shell.
type PermissionSetter interface {
	SetPermission(ctx context.Context, permission push.Permission) error
}

type Dependencies struct {
	Session           *session.Manager
	Votes             *votes.Engine
	Push              *push.Manager
	Permissions       PermissionSetter
	Cache             *cache.Store
	AllowedOrigins    []string
	HeartbeatInterval time.Duration
	FeedPageSize      int
	Logger            *zap.Logger
}

// NewHTTPHandler builds the local bridge used by UI shells.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Session == nil {
		return nil, errMissingSession
	}
	if deps.Votes == nil {
		return nil, errMissingVotes
	}
	if deps.Push == nil {
		return nil, errMissingPush
	}
	if deps.Cache == nil {
		return nil, errMissingCache
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}
	origins := deps.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: origins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		session:     deps.Session,
		votes:       deps.Votes,
		push:        deps.Push,
		permissions: deps.Permissions,
		cache:       deps.Cache,
		heartbeat:   heartbeat,
		pageSize:    deps.FeedPageSize,
		logger:      logger,
	}

	router.GET("/healthz", handler.handleHealth)

	router.GET("/session", handler.handleSession)
	router.POST("/session/login", handler.handleLogin)
	router.POST("/session/logout", handler.handleLogout)

	router.GET("/feed", handler.handleFeedState)
	router.DELETE("/feed", handler.handleFeedClose)
	router.POST("/feed/next", handler.handleFeedNext)
	router.POST("/feed/merge", handler.handleFeedMerge)
	router.POST("/feed/refresh", handler.handleFeedRefresh)
	router.DELETE("/feed/items/:id", handler.handleFeedRemoveItem)

	router.GET("/votes/:kind/:id", handler.handleVoteState)
	router.POST("/votes/:kind/:id", handler.handleVoteToggle)
	router.PUT("/votes/:kind/:id", handler.handleVoteTrack)

	router.GET("/push/status", handler.handlePushStatus)
	router.POST("/push/subscription", handler.handlePushSubscribe)
	router.DELETE("/push/subscription", handler.handlePushUnsubscribe)
	router.PUT("/push/permission", handler.handlePushPermission)

	router.GET("/cache/stream", handler.handleCacheStream)

	return router, nil
}

type httpHandler struct {
	session     *session.Manager
	votes       *votes.Engine
	push        *push.Manager
	permissions PermissionSetter
	cache       *cache.Store
	heartbeat   time.Duration
	pageSize    int
	logger      *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// respondError maps a domain error onto a status and a stable error code.
func (h *httpHandler) respondError(c *gin.Context, operation string, err error) {
	status, code := classifyError(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("bridge request failed",
			zap.String("operation", operation),
			zap.String("reason", code),
			zap.Error(err))
	} else {
		h.logger.Debug("bridge request rejected",
			zap.String("operation", operation),
			zap.String("reason", code),
			zap.Error(err))
	}
	c.AbortWithStatusJSON(status, gin.H{"error": code})
}

func classifyError(err error) (int, string) {
	var operationErr *push.OperationError
	switch {
	case errors.Is(err, feed.ErrInvalidQuery):
		return http.StatusBadRequest, "invalid_query"
	case errors.Is(err, votes.ErrInvalidEntity), errors.Is(err, votes.ErrInvalidDirection):
		return http.StatusBadRequest, "invalid_vote"
	case errors.Is(err, votes.ErrUnknownEntity):
		return http.StatusNotFound, "unknown_entity"
	case errors.Is(err, votes.ErrDiscarded):
		return http.StatusGone, "vote_discarded"
	case errors.Is(err, feed.ErrNoMorePages):
		return http.StatusConflict, "no_more_pages"
	case errors.Is(err, feed.ErrClosed):
		return http.StatusConflict, "feed_closed"
	case errors.Is(err, auth.ErrMissingToken), errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrExpiredToken), errors.Is(err, auth.ErrMissingSubject):
		return http.StatusUnauthorized, "invalid_token"
	case errors.Is(err, session.ErrNotLoggedIn), errors.Is(err, forumapi.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.As(err, &operationErr):
		return pushStatus(operationErr), operationErr.Code()
	case errors.Is(err, forumapi.ErrConflict):
		return http.StatusConflict, "rejected"
	case errors.Is(err, forumapi.ErrTransient):
		return http.StatusServiceUnavailable, "upstream_unavailable"
	case errors.Is(err, forumapi.ErrRequestFailed):
		return http.StatusBadGateway, "upstream_failed"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func pushStatus(err *push.OperationError) int {
	switch {
	case errors.Is(err, push.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, push.ErrUnsupported):
		return http.StatusNotImplemented
	case errors.Is(err, forumapi.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, forumapi.ErrTransient):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadGateway
	}
}
