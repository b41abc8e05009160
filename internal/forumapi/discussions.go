package forumapi

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/upnvj-forum/forum-sync/internal/feed"
)

const (
	operationFetchPage = "discussions.fetch_page"

	discussionsPath           = "/discussions"
	bookmarkedDiscussionsPath = "/discussions/bookmarked"
)

var _ feed.PageSource = (*Client)(nil)

// FetchPage loads one page of the feed described by query.
func (c *Client) FetchPage(ctx context.Context, query feed.Query, page int) (feed.Page, error) {
	if page < 1 {
		page = 1
	}
	path := discussionsPath
	if query.Type == feed.TypeBookmarked {
		path = bookmarkedDiscussionsPath
	}
	var result feed.Page
	if err := c.do(ctx, operationFetchPage, http.MethodGet, path, pageParams(query, page), nil, &result); err != nil {
		return feed.Page{}, err
	}
	if result.Meta.CurrentPage == 0 {
		result.Meta.CurrentPage = page
	}
	return result, nil
}

func pageParams(query feed.Query, page int) url.Values {
	params := url.Values{}
	params.Set("page", strconv.Itoa(page))
	if query.Limit > 0 {
		params.Set("limit", strconv.Itoa(query.Limit))
	}
	if query.SortBy != "" {
		params.Set("sortBy", query.SortBy)
	}
	if query.SortOrder != "" {
		params.Set("sortOrder", query.SortOrder)
	}
	if query.Search != "" {
		params.Set("search", query.Search)
	}
	if len(query.Tags) > 0 {
		params.Set("tags", strings.Join(query.Tags, ","))
	}
	if query.AuthorID > 0 {
		params.Set("authorId", strconv.FormatInt(query.AuthorID, 10))
	}
	if query.Type == feed.TypeSpace && query.SpaceID > 0 {
		params.Set("spaceId", strconv.FormatInt(query.SpaceID, 10))
	}
	if query.OnlyFollowedSpaces {
		params.Set("onlyFollowedSpaces", "true")
	}
	return params
}
