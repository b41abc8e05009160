package forumapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/upnvj-forum/forum-sync/internal/votes"
)

const (
	operationSubmitVote = "votes.submit"
	operationVoteCounts = "votes.counts"
)

var _ votes.Submitter = (*Client)(nil)

type voteRequest struct {
	Value int `json:"value"`
}

type voteResponse struct {
	Value      int    `json:"value"`
	EntityType string `json:"entityType"`
	EntityID   int64  `json:"entityId"`
}

type voteCounts struct {
	Upvotes   int `json:"upvotes"`
	Downvotes int `json:"downvotes"`
}

// SubmitVote posts one toggle and reads back the canonical tally.
//
// A zero VotableEntity is returned when the vote was accepted but the tally
// could not be read; the engine then keeps its own computed result.
func (c *Client) SubmitVote(ctx context.Context, ref votes.EntityRef, direction votes.Direction) (votes.VotableEntity, error) {
	if direction != votes.DirectionUp && direction != votes.DirectionDown {
		return votes.VotableEntity{}, &APIError{Op: operationSubmitVote, kind: ErrRequestFailed, cause: votes.ErrInvalidDirection}
	}
	path := votesPath(ref)

	var response *voteResponse
	if err := c.do(ctx, operationSubmitVote, http.MethodPost, path, nil, voteRequest{Value: int(direction)}, &response); err != nil {
		return votes.VotableEntity{}, err
	}
	viewerVote := votes.DirectionNone
	if response != nil {
		resolved, err := votes.NewDirection(response.Value)
		if err != nil {
			return votes.VotableEntity{}, &APIError{Op: operationSubmitVote, kind: ErrRequestFailed, cause: err}
		}
		viewerVote = resolved
	}

	var counts voteCounts
	if err := c.do(ctx, operationVoteCounts, http.MethodGet, path, nil, nil, &counts); err != nil {
		c.logger.Warn("vote counts unavailable after submit",
			zap.String("operation", operationVoteCounts),
			zap.String("entity", ref.String()),
			zap.Bool("transient", errors.Is(err, ErrTransient)),
			zap.Error(err))
		return votes.VotableEntity{}, nil
	}
	return votes.VotableEntity{
		Ref: ref,
		VoteState: votes.VoteState{
			Upvotes:    counts.Upvotes,
			Downvotes:  counts.Downvotes,
			ViewerVote: viewerVote,
		},
	}, nil
}

func votesPath(ref votes.EntityRef) string {
	family := "discussions"
	if ref.Kind == votes.KindComment {
		family = "comments"
	}
	return fmt.Sprintf("/%s/%d/votes", family, ref.ID)
}
