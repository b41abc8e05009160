package forumapi

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/upnvj-forum/forum-sync/internal/votes"
)

func mustVoteRef(t *testing.T, kind votes.EntityKind, id int64) votes.EntityRef {
	t.Helper()
	ref, err := votes.NewEntityRef(kind, id)
	if err != nil {
		t.Fatalf("entity ref: %v", err)
	}
	return ref
}

func TestSubmitVoteReturnsCanonicalTally(t *testing.T) {
	forum := newFakeForum(t)
	forum.respond(http.MethodPost, "/api/v1/discussions/7/votes", http.StatusCreated, success(map[string]any{
		"value": -1, "entityType": "discussion", "entityId": 7, "userId": 3,
	}))
	forum.respond(http.MethodGet, "/api/v1/discussions/7/votes", http.StatusOK, success(map[string]any{"upvotes": 5, "downvotes": 2}))
	client := mustClient(t, forum)
	ref := mustVoteRef(t, votes.KindDiscussion, 7)

	entity, err := client.SubmitVote(context.Background(), ref, votes.DirectionDown)
	if err != nil {
		t.Fatalf("submit vote: %v", err)
	}
	if entity.Ref != ref || entity.Upvotes != 5 || entity.Downvotes != 2 || entity.ViewerVote != votes.DirectionDown {
		t.Fatalf("unexpected entity %+v", entity)
	}

	post := forum.nextRequest()
	if post.Method != http.MethodPost || post.Body["value"] != float64(-1) {
		t.Fatalf("unexpected vote request %+v", post)
	}
}

func TestSubmitVoteRemovedVoteClearsViewerVote(t *testing.T) {
	forum := newFakeForum(t)
	forum.respond(http.MethodPost, "/api/v1/comments/11/votes", http.StatusCreated, success(nil))
	forum.respond(http.MethodGet, "/api/v1/comments/11/votes", http.StatusOK, success(map[string]any{"upvotes": 1, "downvotes": 0}))
	client := mustClient(t, forum)
	ref := mustVoteRef(t, votes.KindComment, 11)

	entity, err := client.SubmitVote(context.Background(), ref, votes.DirectionUp)
	if err != nil {
		t.Fatalf("submit vote: %v", err)
	}
	if entity.ViewerVote != votes.DirectionNone || entity.Upvotes != 1 {
		t.Fatalf("unexpected entity %+v", entity)
	}
}

func TestSubmitVoteWithoutCountsReturnsZeroEntity(t *testing.T) {
	forum := newFakeForum(t)
	forum.respond(http.MethodPost, "/api/v1/discussions/7/votes", http.StatusCreated, success(map[string]any{"value": 1}))
	forum.respond(http.MethodGet, "/api/v1/discussions/7/votes", http.StatusServiceUnavailable, failure(503, "unavailable"))
	client := mustClient(t, forum)

	entity, err := client.SubmitVote(context.Background(), mustVoteRef(t, votes.KindDiscussion, 7), votes.DirectionUp)
	if err != nil {
		t.Fatalf("expected accepted vote, got %v", err)
	}
	if entity != (votes.VotableEntity{}) {
		t.Fatalf("expected zero entity, got %+v", entity)
	}
}

func TestSubmitVoteCooldownIsRequestFailure(t *testing.T) {
	forum := newFakeForum(t)
	forum.respond(http.MethodPost, "/api/v1/discussions/7/votes", http.StatusBadRequest, failure(400, "Bad Request", "Please wait before voting again"))
	client := mustClient(t, forum)

	_, err := client.SubmitVote(context.Background(), mustVoteRef(t, votes.KindDiscussion, 7), votes.DirectionUp)
	if !errors.Is(err, ErrRequestFailed) {
		t.Fatalf("expected request failure, got %v", err)
	}
	if len(forum.requests) != 1 {
		t.Fatalf("expected counts not to be fetched after a rejection")
	}
}

func TestSubmitVoteRejectsInvalidDirection(t *testing.T) {
	forum := newFakeForum(t)
	client := mustClient(t, forum)

	_, err := client.SubmitVote(context.Background(), mustVoteRef(t, votes.KindDiscussion, 7), votes.DirectionNone)
	if !errors.Is(err, votes.ErrInvalidDirection) {
		t.Fatalf("expected invalid direction, got %v", err)
	}
	if len(forum.requests) != 0 {
		t.Fatalf("expected no request to be sent")
	}
}
