package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/upnvj-forum/forum-sync/internal/push"
)

const (
	opBridgePushSubscribe   = "bridge.push_subscribe"
	opBridgePushUnsubscribe = "bridge.push_unsubscribe"
	opBridgePushPermission  = "bridge.push_permission"
)

type permissionRequestPayload struct {
	Permission string `json:"permission"`
}

func (h *httpHandler) handlePushStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.push.Status(c.Request.Context()))
}

func (h *httpHandler) handlePushSubscribe(c *gin.Context) {
	status, err := h.push.EnsureSubscribed(c.Request.Context())
	if err != nil {
		h.respondError(c, opBridgePushSubscribe, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (h *httpHandler) handlePushUnsubscribe(c *gin.Context) {
	if err := h.push.Unsubscribe(c.Request.Context()); err != nil {
		h.respondError(c, opBridgePushUnsubscribe, err)
		return
	}
	c.JSON(http.StatusOK, h.push.Status(c.Request.Context()))
}

// handlePushPermission records a permission decision made outside the daemon.
// The status read that follows unsubscribes an endpoint whose permission was revoked.
func (h *httpHandler) handlePushPermission(c *gin.Context) {
	if h.permissions == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "permission_not_settable"})
		return
	}
	var request permissionRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	permission, err := push.ParsePermission(request.Permission)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_permission"})
		return
	}
	if err := h.permissions.SetPermission(c.Request.Context(), permission); err != nil {
		h.respondError(c, opBridgePushPermission, err)
		return
	}
	c.JSON(http.StatusOK, h.push.Status(c.Request.Context()))
}
