package votes

import (
	"errors"
	"fmt"
	"strings"

	"github.com/upnvj-forum/forum-sync/internal/cache"
)

// EntityKind enumerates votable content types.
type EntityKind string

const (
	// KindDiscussion identifies a discussion post.
	KindDiscussion EntityKind = "discussion"
	// KindComment identifies a comment or reply.
	KindComment EntityKind = "comment"
)

// Direction is a vote value. Zero means "no vote".
type Direction int

const (
	// DirectionNone is the absence of a vote.
	DirectionNone Direction = 0
	// DirectionUp is an upvote.
	DirectionUp Direction = 1
	// DirectionDown is a downvote.
	DirectionDown Direction = -1
)

var (
	// ErrInvalidDirection indicates a toggle direction other than up or down.
	ErrInvalidDirection = errors.New("votes: invalid direction")
	// ErrInvalidEntity indicates an unknown kind or a non-positive identifier.
	ErrInvalidEntity = errors.New("votes: invalid entity reference")
	// ErrUnknownEntity indicates a toggle on an entity with no known baseline.
	ErrUnknownEntity = errors.New("votes: entity has no known vote baseline")
	// ErrDiscarded resolves tickets whose result arrived after the entity was forgotten.
	ErrDiscarded = errors.New("votes: result discarded")
)

// NewDirection validates a raw vote value for a toggle request.
func NewDirection(value int) (Direction, error) {
	switch Direction(value) {
	case DirectionUp, DirectionDown:
		return Direction(value), nil
	default:
		return DirectionNone, fmt.Errorf("%w: %d", ErrInvalidDirection, value)
	}
}

// ParseKind validates a textual entity kind.
func ParseKind(value string) (EntityKind, error) {
	switch EntityKind(strings.ToLower(strings.TrimSpace(value))) {
	case KindDiscussion:
		return KindDiscussion, nil
	case KindComment:
		return KindComment, nil
	default:
		return "", fmt.Errorf("%w: kind %q", ErrInvalidEntity, value)
	}
}

// EntityRef identifies a votable entity.
type EntityRef struct {
	Kind EntityKind
	ID   int64
}

// NewEntityRef validates kind and id.
func NewEntityRef(kind EntityKind, id int64) (EntityRef, error) {
	if kind != KindDiscussion && kind != KindComment {
		return EntityRef{}, fmt.Errorf("%w: kind %q", ErrInvalidEntity, kind)
	}
	if id <= 0 {
		return EntityRef{}, fmt.Errorf("%w: id %d", ErrInvalidEntity, id)
	}
	return EntityRef{Kind: kind, ID: id}, nil
}

func (ref EntityRef) family() string {
	if ref.Kind == KindComment {
		return cache.FamilyComments
	}
	return cache.FamilyDiscussions
}

// EntityKey returns the canonical cache key of the entity.
func (ref EntityRef) EntityKey() cache.Key {
	return cache.EntityKey(ref.family(), ref.ID)
}

// VotesKey returns the cache key of the entity's vote tally.
func (ref EntityRef) VotesKey() cache.Key {
	return cache.VotesKey(string(ref.Kind), ref.ID)
}

// String renders the reference as kind/id.
func (ref EntityRef) String() string {
	return fmt.Sprintf("%s/%d", ref.Kind, ref.ID)
}

// VoteState is the vote aggregate of one entity as seen by the viewer.
type VoteState struct {
	Upvotes    int
	Downvotes  int
	ViewerVote Direction
}

// Score returns upvotes minus downvotes.
func (s VoteState) Score() int {
	return s.Upvotes - s.Downvotes
}

// Tally converts the state into its cache projection.
func (s VoteState) Tally() cache.VoteTally {
	return cache.VoteTally{Upvotes: s.Upvotes, Downvotes: s.Downvotes, ViewerVote: int(s.ViewerVote)}
}

// StateFromTally converts a cache projection into a VoteState.
func StateFromTally(tally cache.VoteTally) VoteState {
	vote := DirectionNone
	switch {
	case tally.ViewerVote > 0:
		vote = DirectionUp
	case tally.ViewerVote < 0:
		vote = DirectionDown
	}
	return VoteState{Upvotes: nonNegative(tally.Upvotes), Downvotes: nonNegative(tally.Downvotes), ViewerVote: vote}
}

// VotableEntity couples a reference with its vote state.
type VotableEntity struct {
	Ref EntityRef
	VoteState
}

// VoteError reports a rejected or failed vote confirmation. The optimistic
// state has already been rolled back when it is returned.
type VoteError struct {
	TicketID  string
	Ref       EntityRef
	Direction Direction
	Err       error
}

func (e *VoteError) Error() string {
	return fmt.Sprintf("votes: toggle %d on %s failed: %v", e.Direction, e.Ref, e.Err)
}

func (e *VoteError) Unwrap() error {
	return e.Err
}

func nonNegative(value int) int {
	if value < 0 {
		return 0
	}
	return value
}
