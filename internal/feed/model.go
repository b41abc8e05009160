package feed

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNoMorePages is returned by LoadNextPage once the source reported the last page.
	ErrNoMorePages = errors.New("feed: no more pages")
	// ErrClosed is returned by operations on a synchronizer that was closed.
	ErrClosed = errors.New("feed: synchronizer closed")
	// ErrInvalidQuery indicates a feed query that cannot be served.
	ErrInvalidQuery = errors.New("feed: invalid query")
)

// Space is the forum space a discussion was posted in.
type Space struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// Author is the public projection of a discussion author.
type Author struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	FullName string `json:"fullName,omitempty"`
}

// Discussion is the feed projection of a discussion post.
type Discussion struct {
	ID            int64     `json:"id"`
	Content       string    `json:"content"`
	IsAnonymous   bool      `json:"isAnonymous"`
	IsEdited      bool      `json:"isEdited"`
	Tags          []string  `json:"tags,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
	Author        *Author   `json:"author,omitempty"`
	Space         Space     `json:"space"`
	CommentCount  int       `json:"commentCount"`
	UpvoteCount   int       `json:"upvoteCount"`
	DownvoteCount int       `json:"downvoteCount"`
	IsBookmarked  bool      `json:"isBookmarked"`
	VoteStatus    int       `json:"voteStatus"`
}

// AuthorID returns the author identifier, zero for anonymous posts.
func (d Discussion) AuthorID() int64 {
	if d.Author == nil {
		return 0
	}
	return d.Author.ID
}

// Item is one materialized feed entry. Page records the page that introduced it.
type Item struct {
	ID         int64      `json:"id"`
	CreatedAt  time.Time  `json:"createdAt"`
	AuthorID   int64      `json:"authorId"`
	SpaceID    int64      `json:"spaceId"`
	Page       int        `json:"page"`
	Discussion Discussion `json:"discussion"`
}

func newItem(discussion Discussion, page int) Item {
	return Item{
		ID:         discussion.ID,
		CreatedAt:  discussion.CreatedAt,
		AuthorID:   discussion.AuthorID(),
		SpaceID:    discussion.Space.ID,
		Page:       page,
		Discussion: discussion,
	}
}

// PageMeta is the pagination envelope returned with every page.
type PageMeta struct {
	CurrentPage     int  `json:"currentPage"`
	HasNextPage     bool `json:"hasNextPage"`
	HasPreviousPage bool `json:"hasPreviousPage"`
	TotalItems      int  `json:"totalItems"`
	TotalPages      int  `json:"totalPages"`
}

// Page is one page of discussions in server order.
type Page struct {
	Items []Discussion `json:"items"`
	Meta  PageMeta     `json:"meta"`
}

// PageSource fetches one page of a feed. Pages are numbered from 1.
type PageSource interface {
	FetchPage(ctx context.Context, query Query, page int) (Page, error)
}

// FetchError reports a failed page fetch. Previously materialized pages are
// kept and the call can be retried.
type FetchError struct {
	Page int
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("feed: fetch page %d: %v", e.Page, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the caller may retry the same operation.
func (e *FetchError) Retryable() bool {
	return true
}
