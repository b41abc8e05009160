package forumapi

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/upnvj-forum/forum-sync/internal/feed"
)

func mustQuery(t *testing.T, query feed.Query) feed.Query {
	t.Helper()
	normalized, err := query.Normalize()
	if err != nil {
		t.Fatalf("normalize query: %v", err)
	}
	return normalized
}

func TestFetchPageDecodesPageAndSendsFilters(t *testing.T) {
	forum := newFakeForum(t)
	forum.respond(http.MethodGet, "/api/v1/discussions", http.StatusOK, success(map[string]any{
		"items": []map[string]any{
			{"id": 9, "content": "first", "space": map[string]any{"id": 4}, "author": map[string]any{"id": 2, "username": "ana"}},
			{"id": 8, "content": "second", "space": map[string]any{"id": 4}, "isAnonymous": true},
		},
		"meta": map[string]any{"currentPage": 2, "hasNextPage": true, "totalItems": 12, "totalPages": 3},
	}))
	client := mustClient(t, forum)
	query := mustQuery(t, feed.Query{Type: feed.TypeSpace, SpaceID: 4, Tags: []string{"go", "exam"}, Search: "midterm"})

	page, err := client.FetchPage(context.Background(), query, 2)
	if err != nil {
		t.Fatalf("fetch page: %v", err)
	}
	if len(page.Items) != 2 || page.Items[0].ID != 9 || page.Items[0].AuthorID() != 2 || page.Items[1].AuthorID() != 0 {
		t.Fatalf("unexpected items %+v", page.Items)
	}
	if !page.Meta.HasNextPage || page.Meta.CurrentPage != 2 {
		t.Fatalf("unexpected meta %+v", page.Meta)
	}

	request := forum.nextRequest()
	expected := map[string]string{
		"page":      "2",
		"limit":     "5",
		"sortBy":    "createdAt",
		"sortOrder": "DESC",
		"search":    "midterm",
		"tags":      "exam,go",
		"spaceId":   "4",
	}
	for key, value := range expected {
		if request.Query[key] != value {
			t.Fatalf("expected %s=%s, got %q", key, value, request.Query[key])
		}
	}
}

func TestFetchPageBookmarkedUsesDedicatedPath(t *testing.T) {
	forum := newFakeForum(t)
	forum.respond(http.MethodGet, "/api/v1/discussions/bookmarked", http.StatusOK, success(map[string]any{
		"items": []map[string]any{},
		"meta":  map[string]any{"hasNextPage": false},
	}))
	client := mustClient(t, forum)

	page, err := client.FetchPage(context.Background(), mustQuery(t, feed.Query{Type: feed.TypeBookmarked}), 1)
	if err != nil {
		t.Fatalf("fetch page: %v", err)
	}
	if page.Meta.CurrentPage != 1 || page.Meta.HasNextPage {
		t.Fatalf("unexpected meta %+v", page.Meta)
	}
	if _, ok := forum.nextRequest().Query["spaceId"]; ok {
		t.Fatalf("bookmarked feed must not send a space filter")
	}
}

func TestFetchPagePropagatesTransientFailure(t *testing.T) {
	forum := newFakeForum(t)
	forum.respond(http.MethodGet, "/api/v1/discussions", http.StatusInternalServerError, failure(500, "Internal server error"))
	client := mustClient(t, forum)

	_, err := client.FetchPage(context.Background(), mustQuery(t, feed.Query{}), 1)
	if !errors.Is(err, ErrTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}
}
