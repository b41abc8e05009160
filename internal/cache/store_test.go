package cache

import (
	"context"
	"testing"
	"time"
)

func TestKeyPrefixMatchesWholeSegments(t *testing.T) {
	key := NewKey("discussions", "12")
	if !key.HasPrefix("discussions") {
		t.Fatalf("expected discussions to prefix %s", key)
	}
	if NewKey("discussionsX", "1").HasPrefix("discussions") {
		t.Fatalf("prefix must match whole segments")
	}
	if !Key("discussions").Overlaps(key) || !key.Overlaps("discussions") {
		t.Fatalf("expected keys to overlap")
	}
	if EntityKey(FamilyComments, 7) != "comments/7" {
		t.Fatalf("unexpected entity key %s", EntityKey(FamilyComments, 7))
	}
	if VotesKey("discussion", 3) != "votes/discussion/3" {
		t.Fatalf("unexpected votes key %s", VotesKey("discussion", 3))
	}
	if NewKey(" /a/ ", "", "b") != "a/b" {
		t.Fatalf("expected empty segments to be skipped, got %s", NewKey(" /a/ ", "", "b"))
	}
}

func TestStoreSetGetAndLookup(t *testing.T) {
	store := mustStore(t, 8)
	store.Set(EntityKey(FamilyDiscussions, 1), "payload")

	entry, ok := store.Get(EntityKey(FamilyDiscussions, 1))
	if !ok {
		t.Fatalf("expected entry to be stored")
	}
	if entry.Stale {
		t.Fatalf("fresh entry must not be stale")
	}
	value, ok := Lookup[string](store, EntityKey(FamilyDiscussions, 1))
	if !ok || value != "payload" {
		t.Fatalf("unexpected lookup result %q %v", value, ok)
	}
	if _, ok := Lookup[int](store, EntityKey(FamilyDiscussions, 1)); ok {
		t.Fatalf("lookup with the wrong type must fail")
	}
}

func TestStoreInvalidateMarksPrefixStale(t *testing.T) {
	store := mustStore(t, 8)
	store.Set(EntityKey(FamilyDiscussions, 1), 1)
	store.Set(EntityKey(FamilyDiscussions, 2), 2)
	store.Set(EntityKey(FamilyComments, 1), 3)

	marked := store.Invalidate(FamilyDiscussions)
	if marked != 2 {
		t.Fatalf("expected 2 entries invalidated, got %d", marked)
	}
	entry, _ := store.Get(EntityKey(FamilyComments, 1))
	if entry.Stale {
		t.Fatalf("comments must not be invalidated by a discussions prefix")
	}
	entry, _ = store.Get(EntityKey(FamilyDiscussions, 2))
	if !entry.Stale {
		t.Fatalf("expected discussion entry to be stale")
	}
	if again := store.Invalidate(FamilyDiscussions); again != 0 {
		t.Fatalf("already stale entries must not be counted twice, got %d", again)
	}
}

func TestStoreUpdateIsConditional(t *testing.T) {
	store := mustStore(t, 8)
	key := EntityKey(FamilyDiscussions, 9)

	changed := store.Update(key, func(current Entry, found bool) (any, bool) {
		return nil, false
	})
	if changed || store.Len() != 0 {
		t.Fatalf("unchanged update must not write")
	}

	store.Update(key, func(current Entry, found bool) (any, bool) {
		if found {
			t.Fatalf("did not expect existing value")
		}
		return 1, true
	})
	store.Update(key, func(current Entry, found bool) (any, bool) {
		return current.Value.(int) + 1, true
	})
	value, _ := Lookup[int](store, key)
	if value != 2 {
		t.Fatalf("expected value 2, got %d", value)
	}
}

func TestStoreNotifiesOverlappingSubscribers(t *testing.T) {
	store := mustStore(t, 8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	feedStream, cleanupFeed := store.Subscribe(ctx, NewKey(FamilyDiscussions, "feed", "regular"))
	defer cleanupFeed()
	commentStream, cleanupComments := store.Subscribe(ctx, FamilyComments)
	defer cleanupComments()

	store.Invalidate(FamilyDiscussions)

	select {
	case event := <-feedStream:
		if event.Type != EventInvalidated || event.Key != FamilyDiscussions {
			t.Fatalf("unexpected event %#v", event)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected invalidation to reach the feed subscriber")
	}

	select {
	case event := <-commentStream:
		t.Fatalf("did not expect event for comments subscriber: %#v", event)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestStoreClearNotifiesEveryone(t *testing.T) {
	store := mustStore(t, 8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store.Set(EntityKey(FamilyComments, 1), 1)

	stream, cleanup := store.Subscribe(ctx, FamilyPush)
	defer cleanup()
	store.Clear()

	if store.Len() != 0 {
		t.Fatalf("expected empty store after clear")
	}
	select {
	case event := <-stream:
		if event.Type != EventRemoved {
			t.Fatalf("unexpected event %#v", event)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected clear notification")
	}
}

func TestStoreUnsubscribeStopsDelivery(t *testing.T) {
	store := mustStore(t, 8)
	stream, cleanup := store.Subscribe(context.Background(), FamilyVotes)
	cleanup()
	cleanup()

	store.Set(VotesKey("comment", 1), 1)
	select {
	case event := <-stream:
		t.Fatalf("did not expect event after cleanup: %#v", event)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestStoreEvictsBeyondCapacity(t *testing.T) {
	store := mustStore(t, 2)
	store.Set(EntityKey(FamilyDiscussions, 1), 1)
	store.Set(EntityKey(FamilyDiscussions, 2), 2)
	store.Set(EntityKey(FamilyDiscussions, 3), 3)
	if store.Len() != 2 {
		t.Fatalf("expected capacity to bound the store, got %d", store.Len())
	}
	if _, ok := store.Get(EntityKey(FamilyDiscussions, 1)); ok {
		t.Fatalf("expected least recently used entry to be evicted")
	}
}

func TestNewStoreRejectsNegativeCapacity(t *testing.T) {
	if _, err := NewStore(StoreConfig{Capacity: -1}); err == nil {
		t.Fatalf("expected error for negative capacity")
	}
}

func mustStore(t *testing.T, capacity int) *Store {
	t.Helper()
	store, err := NewStore(StoreConfig{Capacity: capacity})
	if err != nil {
		t.Fatalf("failed to build store: %v", err)
	}
	return store
}

func TestStoreTallyIfStaleKeepsFreshTally(t *testing.T) {
	store := mustStore(t, 8)
	key := VotesKey("discussion", 4)

	if !store.StoreTallyIfStale(key, VoteTally{Upvotes: 1}) {
		t.Fatalf("expected tally to be written into an empty slot")
	}
	if store.StoreTallyIfStale(key, VoteTally{Upvotes: 9}) {
		t.Fatalf("fresh tally must not be overwritten")
	}
	store.Invalidate(key)
	if !store.StoreTallyIfStale(key, VoteTally{Upvotes: 3, Downvotes: 1}) {
		t.Fatalf("stale tally must be replaced")
	}
	tally, _ := Lookup[VoteTally](store, key)
	if tally.Score() != 2 {
		t.Fatalf("expected score 2, got %d", tally.Score())
	}
}
