package server

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/upnvj-forum/forum-sync/internal/feed"
)

const (
	opBridgeFeedState   = "bridge.feed_state"
	opBridgeFeedNext    = "bridge.feed_next"
	opBridgeFeedMerge   = "bridge.feed_merge"
	opBridgeFeedRefresh = "bridge.feed_refresh"
	opBridgeFeedRemove  = "bridge.feed_remove_item"
)

type feedQueryParams struct {
	FeedType           string   `form:"feedType"`
	SpaceID            int64    `form:"spaceId"`
	Limit              int      `form:"limit"`
	Search             string   `form:"search"`
	Tags               []string `form:"tags"`
	SortBy             string   `form:"sortBy"`
	SortOrder          string   `form:"sortOrder"`
	AuthorID           int64    `form:"authorId"`
	OnlyFollowedSpaces bool     `form:"onlyFollowedSpaces"`
}

// query builds the feed query; a missing limit falls back to defaultLimit.
func (p feedQueryParams) query(defaultLimit int) feed.Query {
	limit := p.Limit
	if limit == 0 {
		limit = defaultLimit
	}
	tags := make([]string, 0, len(p.Tags))
	for _, value := range p.Tags {
		tags = append(tags, strings.Split(value, ",")...)
	}
	return feed.Query{
		Type:               feed.Type(p.FeedType),
		SpaceID:            p.SpaceID,
		Limit:              limit,
		Search:             p.Search,
		Tags:               tags,
		SortBy:             p.SortBy,
		SortOrder:          p.SortOrder,
		AuthorID:           p.AuthorID,
		OnlyFollowedSpaces: p.OnlyFollowedSpaces,
	}
}

type feedResponsePayload struct {
	Query           feed.Query  `json:"query"`
	Items           []feed.Item `json:"items"`
	Added           []feed.Item `json:"added,omitempty"`
	HasNextPage     bool        `json:"hasNextPage"`
	PendingArrivals int         `json:"pendingArrivals"`
	Stale           bool        `json:"stale"`
}

func feedPayload(synchronizer *feed.Synchronizer, added []feed.Item) feedResponsePayload {
	return feedResponsePayload{
		Query:           synchronizer.Query(),
		Items:           synchronizer.Materialize(),
		Added:           added,
		HasNextPage:     synchronizer.HasNextPage(),
		PendingArrivals: synchronizer.PendingArrivals(),
		Stale:           synchronizer.Stale(),
	}
}

// openFeed resolves the synchronizer addressed by the request's query string.
func (h *httpHandler) openFeed(c *gin.Context, operation string) (*feed.Synchronizer, bool) {
	var params feedQueryParams
	if err := c.ShouldBindQuery(&params); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return nil, false
	}
	synchronizer, err := h.session.OpenFeed(params.query(h.pageSize))
	if err != nil {
		h.respondError(c, operation, err)
		return nil, false
	}
	return synchronizer, true
}

func (h *httpHandler) handleFeedState(c *gin.Context) {
	synchronizer, ok := h.openFeed(c, opBridgeFeedState)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, feedPayload(synchronizer, nil))
}

func (h *httpHandler) handleFeedClose(c *gin.Context) {
	var params feedQueryParams
	if err := c.ShouldBindQuery(&params); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if !h.session.CloseFeed(params.query(h.pageSize)) {
		c.JSON(http.StatusNotFound, gin.H{"error": "feed_not_open"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleFeedNext(c *gin.Context) {
	h.runFeedLoad(c, opBridgeFeedNext, (*feed.Synchronizer).LoadNextPage)
}

func (h *httpHandler) handleFeedMerge(c *gin.Context) {
	h.runFeedLoad(c, opBridgeFeedMerge, (*feed.Synchronizer).MergeArrivals)
}

func (h *httpHandler) handleFeedRefresh(c *gin.Context) {
	h.runFeedLoad(c, opBridgeFeedRefresh, (*feed.Synchronizer).Refresh)
}

func (h *httpHandler) runFeedLoad(c *gin.Context, operation string, load func(*feed.Synchronizer, context.Context) ([]feed.Item, error)) {
	synchronizer, ok := h.openFeed(c, operation)
	if !ok {
		return
	}
	added, err := load(synchronizer, c.Request.Context())
	if err != nil {
		h.respondError(c, operation, err)
		return
	}
	c.JSON(http.StatusOK, feedPayload(synchronizer, added))
}

func (h *httpHandler) handleFeedRemoveItem(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_item_id"})
		return
	}
	synchronizer, ok := h.openFeed(c, opBridgeFeedRemove)
	if !ok {
		return
	}
	if !synchronizer.RemoveItem(id) {
		c.JSON(http.StatusNotFound, gin.H{"error": "item_not_found"})
		return
	}
	c.JSON(http.StatusOK, feedPayload(synchronizer, nil))
}
