package feed

import (
	"fmt"
	"hash/fnv"
	"sort"
	"strconv"
	"strings"

	"github.com/upnvj-forum/forum-sync/internal/cache"
)

// Type selects the feed variant.
type Type string

const (
	TypeRegular    Type = "regular"
	TypeBookmarked Type = "bookmarked"
	TypeSpace      Type = "space"
)

const (
	DefaultLimit     = 5
	MaxLimit         = 100
	DefaultSortBy    = "createdAt"
	DefaultSortOrder = "DESC"
)

// Query identifies a feed: its filters and sort. The page cursor is owned by
// the synchronizer.
type Query struct {
	Type               Type     `json:"feedType"`
	SpaceID            int64    `json:"spaceId,omitempty"`
	Limit              int      `json:"limit"`
	Search             string   `json:"search,omitempty"`
	Tags               []string `json:"tags,omitempty"`
	SortBy             string   `json:"sortBy"`
	SortOrder          string   `json:"sortOrder"`
	AuthorID           int64    `json:"authorId,omitempty"`
	OnlyFollowedSpaces bool     `json:"onlyFollowedSpaces,omitempty"`
}

// Normalize applies defaults and validates the query.
func (q Query) Normalize() (Query, error) {
	normalized := q
	normalized.Type = Type(strings.ToLower(strings.TrimSpace(string(q.Type))))
	if normalized.Type == "" {
		normalized.Type = TypeRegular
	}
	switch normalized.Type {
	case TypeRegular, TypeBookmarked:
	case TypeSpace:
		if normalized.SpaceID <= 0 {
			return Query{}, fmt.Errorf("%w: space feed requires a space id", ErrInvalidQuery)
		}
	default:
		return Query{}, fmt.Errorf("%w: feed type %q", ErrInvalidQuery, q.Type)
	}
	if normalized.SpaceID < 0 || normalized.AuthorID < 0 {
		return Query{}, fmt.Errorf("%w: negative identifier", ErrInvalidQuery)
	}
	switch {
	case normalized.Limit == 0:
		normalized.Limit = DefaultLimit
	case normalized.Limit < 0 || normalized.Limit > MaxLimit:
		return Query{}, fmt.Errorf("%w: limit %d", ErrInvalidQuery, q.Limit)
	}
	normalized.Search = strings.TrimSpace(q.Search)
	normalized.SortBy = strings.TrimSpace(q.SortBy)
	if normalized.SortBy == "" {
		normalized.SortBy = DefaultSortBy
	}
	normalized.SortOrder = strings.ToUpper(strings.TrimSpace(q.SortOrder))
	if normalized.SortOrder == "" {
		normalized.SortOrder = DefaultSortOrder
	}
	if normalized.SortOrder != "ASC" && normalized.SortOrder != "DESC" {
		return Query{}, fmt.Errorf("%w: sort order %q", ErrInvalidQuery, q.SortOrder)
	}
	tags := make([]string, 0, len(q.Tags))
	for _, tag := range q.Tags {
		if trimmed := strings.TrimSpace(tag); trimmed != "" {
			tags = append(tags, trimmed)
		}
	}
	sort.Strings(tags)
	normalized.Tags = tags
	return normalized, nil
}

// CacheKey addresses the materialized list of this feed in the shared cache.
// It lives under the discussions family so that any discussion invalidation
// reaches it.
func (q Query) CacheKey() cache.Key {
	hasher := fnv.New64a()
	for _, part := range []string{
		strconv.FormatInt(q.SpaceID, 10),
		strconv.Itoa(q.Limit),
		q.Search,
		strings.Join(q.Tags, ","),
		q.SortBy,
		q.SortOrder,
		strconv.FormatInt(q.AuthorID, 10),
		strconv.FormatBool(q.OnlyFollowedSpaces),
	} {
		_, _ = hasher.Write([]byte(part))
		_, _ = hasher.Write([]byte{0})
	}
	return cache.NewKey(cache.FamilyDiscussions, "feed", string(q.Type), strconv.FormatUint(hasher.Sum64(), 16))
}
