package server

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/upnvj-forum/forum-sync/internal/cache"
)

const (
	streamEventReady     = "ready"
	streamEventHeartbeat = "heartbeat"
)

type cacheEventPayload struct {
	Key     string `json:"key"`
	Version uint64 `json:"version"`
}

// handleCacheStream forwards cache notifications under ?prefix= as server-sent
// events. The event name is the notification type.
func (h *httpHandler) handleCacheStream(c *gin.Context) {
	prefix := cache.NewKey(c.Query("prefix"))
	ctx := c.Request.Context()
	stream, cleanup := h.cache.Subscribe(ctx, prefix)
	defer cleanup()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.SSEvent(streamEventReady, gin.H{"prefix": prefix.String()})
	c.Writer.Flush()

	c.Stream(func(_ io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case event := <-stream:
			c.SSEvent(string(event.Type), cacheEventPayload{Key: event.Key.String(), Version: event.Version})
			return true
		case now := <-ticker.C:
			c.SSEvent(streamEventHeartbeat, gin.H{"ts": now.UTC().Unix()})
			return true
		}
	})
}
