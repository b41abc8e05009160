package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/upnvj-forum/forum-sync/internal/cache"
	"github.com/upnvj-forum/forum-sync/internal/votes"
)

const (
	opBridgeVoteState  = "bridge.vote_state"
	opBridgeVoteToggle = "bridge.vote_toggle"
	opBridgeVoteTrack  = "bridge.vote_track"
)

type toggleRequestPayload struct {
	Direction int `json:"direction"`
}

type trackRequestPayload struct {
	Upvotes    int `json:"upvotes"`
	Downvotes  int `json:"downvotes"`
	ViewerVote int `json:"viewerVote"`
}

type voteResponsePayload struct {
	TicketID   string `json:"ticketId,omitempty"`
	Kind       string `json:"kind"`
	ID         int64  `json:"id"`
	Upvotes    int    `json:"upvotes"`
	Downvotes  int    `json:"downvotes"`
	ViewerVote int    `json:"viewerVote"`
	Score      int    `json:"score"`
	Pending    int    `json:"pending"`
	Error      string `json:"error,omitempty"`
}

func (h *httpHandler) votePayload(entity votes.VotableEntity) voteResponsePayload {
	return voteResponsePayload{
		Kind:       string(entity.Ref.Kind),
		ID:         entity.Ref.ID,
		Upvotes:    entity.Upvotes,
		Downvotes:  entity.Downvotes,
		ViewerVote: int(entity.ViewerVote),
		Score:      entity.Score(),
		Pending:    h.votes.Pending(entity.Ref),
	}
}

func parseEntityRef(c *gin.Context) (votes.EntityRef, bool) {
	kind, err := votes.ParseKind(c.Param("kind"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_vote"})
		return votes.EntityRef{}, false
	}
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_vote"})
		return votes.EntityRef{}, false
	}
	ref, err := votes.NewEntityRef(kind, id)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_vote"})
		return votes.EntityRef{}, false
	}
	return ref, true
}

func (h *httpHandler) handleVoteState(c *gin.Context) {
	ref, ok := parseEntityRef(c)
	if !ok {
		return
	}
	entity, found := h.votes.State(ref)
	if !found {
		h.respondError(c, opBridgeVoteState, votes.ErrUnknownEntity)
		return
	}
	c.JSON(http.StatusOK, h.votePayload(entity))
}

// handleVoteToggle applies a toggle and answers with the optimistic state.
// With ?wait=true it answers once the toggle has settled instead.
func (h *httpHandler) handleVoteToggle(c *gin.Context) {
	ref, ok := parseEntityRef(c)
	if !ok {
		return
	}
	var request toggleRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	direction, err := votes.NewDirection(request.Direction)
	if err != nil {
		h.respondError(c, opBridgeVoteToggle, err)
		return
	}
	ticket, err := h.votes.Toggle(c.Request.Context(), ref, direction)
	if err != nil {
		h.respondError(c, opBridgeVoteToggle, err)
		return
	}

	wait, _ := strconv.ParseBool(c.Query("wait"))
	if !wait {
		payload := h.votePayload(ticket.Optimistic())
		payload.TicketID = ticket.ID()
		c.JSON(http.StatusAccepted, payload)
		return
	}

	settled, err := ticket.Wait(c.Request.Context())
	if err != nil {
		var voteErr *votes.VoteError
		if !errors.As(err, &voteErr) {
			h.respondError(c, opBridgeVoteToggle, err)
			return
		}
		status, code := classifyError(voteErr.Err)
		payload := h.votePayload(settled)
		payload.TicketID = ticket.ID()
		payload.Error = code
		c.JSON(status, payload)
		return
	}
	payload := h.votePayload(settled)
	payload.TicketID = ticket.ID()
	c.JSON(http.StatusOK, payload)
}

// handleVoteTrack seeds the server baseline of an entity rendered by the shell.
func (h *httpHandler) handleVoteTrack(c *gin.Context) {
	ref, ok := parseEntityRef(c)
	if !ok {
		return
	}
	var request trackRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	state := votes.StateFromTally(cacheTally(request))
	if err := h.votes.Track(votes.VotableEntity{Ref: ref, VoteState: state}); err != nil {
		h.respondError(c, opBridgeVoteTrack, err)
		return
	}
	entity, _ := h.votes.State(ref)
	c.JSON(http.StatusOK, h.votePayload(entity))
}

func cacheTally(request trackRequestPayload) cache.VoteTally {
	return cache.VoteTally{Upvotes: request.Upvotes, Downvotes: request.Downvotes, ViewerVote: request.ViewerVote}
}
