package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/upnvj-forum/forum-sync/internal/auth"
)

const (
	opBridgeLogin  = "bridge.login"
	opBridgeLogout = "bridge.logout"
)

type loginRequestPayload struct {
	Token string `json:"token"`
}

type sessionResponsePayload struct {
	LoggedIn bool         `json:"loggedIn"`
	Viewer   *auth.Viewer `json:"viewer,omitempty"`
}

func (h *httpHandler) handleSession(c *gin.Context) {
	viewer, ok := h.session.Viewer()
	c.JSON(http.StatusOK, sessionPayload(viewer, ok))
}

func (h *httpHandler) handleLogin(c *gin.Context) {
	var request loginRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Token) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	viewer, err := h.session.Login(c.Request.Context(), request.Token)
	if err != nil {
		h.respondError(c, opBridgeLogin, err)
		return
	}
	c.JSON(http.StatusOK, sessionPayload(viewer, true))
}

func (h *httpHandler) handleLogout(c *gin.Context) {
	if err := h.session.Logout(c.Request.Context()); err != nil {
		h.respondError(c, opBridgeLogout, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func sessionPayload(viewer auth.Viewer, loggedIn bool) sessionResponsePayload {
	if !loggedIn {
		return sessionResponsePayload{}
	}
	return sessionResponsePayload{LoggedIn: true, Viewer: &viewer}
}
