package feed

import (
	"errors"
	"testing"
)

func TestQueryNormalizeAppliesDefaults(t *testing.T) {
	query, err := Query{Tags: []string{" go ", "", "campus"}, SortOrder: "asc"}.Normalize()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if query.Type != TypeRegular || query.Limit != DefaultLimit || query.SortBy != DefaultSortBy {
		t.Fatalf("unexpected defaults %+v", query)
	}
	if query.SortOrder != "ASC" {
		t.Fatalf("expected sort order to be upper-cased, got %q", query.SortOrder)
	}
	if len(query.Tags) != 2 || query.Tags[0] != "campus" || query.Tags[1] != "go" {
		t.Fatalf("expected trimmed sorted tags, got %v", query.Tags)
	}
}

func TestQueryNormalizeRejectsInvalidInput(t *testing.T) {
	testCases := map[string]Query{
		"unknown-type":     {Type: "trending"},
		"space-without-id": {Type: TypeSpace},
		"negative-limit":   {Limit: -1},
		"oversized-limit":  {Limit: MaxLimit + 1},
		"bad-sort-order":   {SortOrder: "sideways"},
		"negative-author":  {AuthorID: -4},
	}
	for name, query := range testCases {
		t.Run(name, func(t *testing.T) {
			if _, err := query.Normalize(); !errors.Is(err, ErrInvalidQuery) {
				t.Fatalf("expected ErrInvalidQuery, got %v", err)
			}
		})
	}
}

func TestQueryCacheKeyDistinguishesFeeds(t *testing.T) {
	regular, _ := Query{}.Normalize()
	space, _ := Query{Type: TypeSpace, SpaceID: 3}.Normalize()
	otherSpace, _ := Query{Type: TypeSpace, SpaceID: 4}.Normalize()
	if regular.CacheKey() == space.CacheKey() || space.CacheKey() == otherSpace.CacheKey() {
		t.Fatal("expected distinct keys for distinct feeds")
	}
	again, _ := Query{Type: "SPACE", SpaceID: 3, SortOrder: "desc"}.Normalize()
	if again.CacheKey() != space.CacheKey() {
		t.Fatal("expected equivalent queries to share a key")
	}
	if !space.CacheKey().HasPrefix("discussions") {
		t.Fatalf("expected feed key under the discussions family, got %s", space.CacheKey())
	}
}
