package cache

import (
	"strconv"
	"strings"
)

const keySeparator = "/"

// Key addresses a cache entry. Segments are joined with "/" and prefixes match on
// whole segments, so "discussions" covers "discussions/12" but not "discussionsX".
type Key string

// NewKey joins the provided segments into a Key, skipping empty ones.
func NewKey(segments ...string) Key {
	parts := make([]string, 0, len(segments))
	for _, segment := range segments {
		trimmed := strings.Trim(strings.TrimSpace(segment), keySeparator)
		if trimmed == "" {
			continue
		}
		parts = append(parts, trimmed)
	}
	return Key(strings.Join(parts, keySeparator))
}

// String returns the raw key.
func (k Key) String() string {
	return string(k)
}

// HasPrefix reports whether prefix addresses k or one of its ancestors.
func (k Key) HasPrefix(prefix Key) bool {
	if prefix == "" {
		return true
	}
	if k == prefix {
		return true
	}
	return strings.HasPrefix(string(k), string(prefix)+keySeparator)
}

// Overlaps reports whether either key is a prefix of the other.
func (k Key) Overlaps(other Key) bool {
	return k.HasPrefix(other) || other.HasPrefix(k)
}

// Append returns a child key.
func (k Key) Append(segments ...string) Key {
	return NewKey(append([]string{string(k)}, segments...)...)
}

// Shared key families. Every component that embeds a forum entity writes or
// invalidates through these so duplicated renderings converge.
const (
	FamilyDiscussions    = "discussions"
	FamilyComments       = "comments"
	FamilyVotes          = "votes"
	FamilyCommentReplies = "commentReplies"
	FamilyPush           = "push"
	FamilyNotifications  = "notifications"
)

// EntityKey addresses the canonical cache entry of one entity, e.g. "discussions/12".
func EntityKey(family string, id int64) Key {
	return NewKey(family, strconv.FormatInt(id, 10))
}

// VotesKey addresses the vote aggregate of one entity, e.g. "votes/discussion/12".
func VotesKey(kind string, id int64) Key {
	return NewKey(FamilyVotes, kind, strconv.FormatInt(id, 10))
}

// DiscussionCommentsKey addresses the comment lists of one discussion, e.g. "comments/discussion/12".
func DiscussionCommentsKey(discussionID int64) Key {
	return NewKey(FamilyComments, "discussion", strconv.FormatInt(discussionID, 10))
}

// RepliesKey addresses the reply list of one comment, e.g. "commentReplies/31".
func RepliesKey(parentID int64) Key {
	return NewKey(FamilyCommentReplies, strconv.FormatInt(parentID, 10))
}
