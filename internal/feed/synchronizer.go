package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/upnvj-forum/forum-sync/internal/cache"
	"github.com/upnvj-forum/forum-sync/internal/realtime"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	opLoadPage = "feed.load_page"
	opArrival  = "feed.observe_arrival"

	voteKindDiscussion = "discussion"
)

var (
	errMissingSource = errors.New("feed: page source is required")
	errMissingCache  = errors.New("feed: cache store is required")
)

type loadMode int

const (
	modeAppend loadMode = iota
	modeMerge
	modeRefresh
)

// Config describes the dependencies of a Synchronizer.
type Config struct {
	Source   PageSource
	Cache    *cache.Store
	Query    Query
	ViewerID int64
	Logger   *zap.Logger
}

// Synchronizer owns one materialized feed.
//
// Pages are appended in fetch order and deduplicated by item id. Real-time
// arrivals only touch the pending counter; the list is replaced as a whole by
// MergeArrivals or Refresh. Every mutation is tagged with a generation so that
// fetches started before a merge, refresh or Close are discarded on return.
type Synchronizer struct {
	mu         sync.Mutex
	source     PageSource
	cache      *cache.Store
	query      Query
	listKey    cache.Key
	viewerID   int64
	logger     *zap.Logger
	group      singleflight.Group
	generation uint64
	items      []Item
	index      map[int64]int
	pages      int
	nextPage   int
	hasNext    bool
	pending    int
	stale      bool
	closed     bool
	stopWatch  func()
}

// NewSynchronizer constructs a Synchronizer for cfg.Query and starts watching
// the cache for invalidations of the feed's list key.
func NewSynchronizer(cfg Config) (*Synchronizer, error) {
	if cfg.Source == nil {
		return nil, errMissingSource
	}
	if cfg.Cache == nil {
		return nil, errMissingCache
	}
	query, err := cfg.Query.Normalize()
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Synchronizer{
		source:   cfg.Source,
		cache:    cfg.Cache,
		query:    query,
		listKey:  query.CacheKey(),
		viewerID: cfg.ViewerID,
		logger:   logger.With(zap.String("feed", string(query.Type))),
		index:    make(map[int64]int),
		nextPage: 1,
		hasNext:  true,
	}
	watchCtx, cancel := context.WithCancel(context.Background())
	stream, cleanup := cfg.Cache.Subscribe(watchCtx, s.listKey)
	s.stopWatch = func() {
		cleanup()
		cancel()
	}
	go s.watch(watchCtx, stream)
	return s, nil
}

// Query returns the normalized query of the feed.
func (s *Synchronizer) Query() Query {
	return s.query
}

// SetViewer changes the viewer whose own arrivals are not counted.
func (s *Synchronizer) SetViewer(viewerID int64) {
	s.mu.Lock()
	s.viewerID = viewerID
	s.mu.Unlock()
}

// HasNextPage reports whether LoadNextPage can fetch more items.
func (s *Synchronizer) HasNextPage() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasNext && !s.closed
}

// LoadNextPage fetches the page at the cursor and appends its unseen items.
// Concurrent callers share one fetch. When ctx ends first the caller returns
// early and the fetch still completes and is applied.
func (s *Synchronizer) LoadNextPage(ctx context.Context) ([]Item, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	if !s.hasNext {
		s.mu.Unlock()
		return nil, ErrNoMorePages
	}
	generation := s.generation
	cursor := s.nextPage
	s.mu.Unlock()
	return s.await(ctx, generation, cursor, 1, modeAppend)
}

// MergeArrivals replaces the feed with a fresh first page and resets the
// pending counter. On failure the current pages and counter are kept.
func (s *Synchronizer) MergeArrivals(ctx context.Context) ([]Item, error) {
	generation, err := s.advance()
	if err != nil {
		return nil, err
	}
	return s.await(ctx, generation, 1, 1, modeMerge)
}

// Refresh reloads as many pages as are currently loaded, from page 1, and
// replaces the feed in one step. The pending counter is left untouched.
func (s *Synchronizer) Refresh(ctx context.Context) ([]Item, error) {
	s.mu.Lock()
	count := s.pages
	s.mu.Unlock()
	if count == 0 {
		count = 1
	}
	generation, err := s.advance()
	if err != nil {
		return nil, err
	}
	return s.await(ctx, generation, 1, count, modeRefresh)
}

// Materialize returns the deduplicated feed in insertion order. Vote counts
// are overlaid from the vote tallies in the cache so optimistic votes show up
// without a refetch.
func (s *Synchronizer) Materialize() []Item {
	s.mu.Lock()
	items := make([]Item, len(s.items))
	copy(items, s.items)
	s.mu.Unlock()
	for index := range items {
		tally, ok := cache.Lookup[cache.VoteTally](s.cache, cache.VotesKey(voteKindDiscussion, items[index].ID))
		if !ok {
			continue
		}
		items[index].Discussion.UpvoteCount = tally.Upvotes
		items[index].Discussion.DownvoteCount = tally.Downvotes
		items[index].Discussion.VoteStatus = tally.ViewerVote
	}
	return items
}

// Len returns the number of materialized items.
func (s *Synchronizer) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// ObserveArrival counts a newDiscussion event when it is relevant to the feed.
// It never changes the materialized list. Malformed events are dropped.
func (s *Synchronizer) ObserveArrival(event realtime.Event) bool {
	arrival, err := realtime.DecodeNewDiscussion(event)
	if errors.Is(err, realtime.ErrEmptyPayload) {
		return s.observeAnonymousArrival()
	}
	if err != nil {
		s.logger.Debug("feed arrival dropped",
			zap.String("operation", opArrival),
			zap.String("reason", "malformed_event"),
			zap.Error(err))
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || !s.relevant(arrival) {
		return false
	}
	s.pending++
	return true
}

// observeAnonymousArrival counts an arrival announced without space or author.
// Only the unscoped regular feed can be sure it is affected.
func (s *Synchronizer) observeAnonymousArrival() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.query.Type != TypeRegular || s.query.SpaceID != 0 {
		return false
	}
	s.pending++
	return true
}

// PendingArrivals returns the number of relevant arrivals not yet merged.
func (s *Synchronizer) PendingArrivals() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// Stale reports whether the feed's list key was invalidated since the last
// merge or refresh.
func (s *Synchronizer) Stale() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stale
}

// RemoveItem drops an item after the server acknowledged its deletion.
func (s *Synchronizer) RemoveItem(id int64) bool {
	s.mu.Lock()
	position, ok := s.index[id]
	if !ok {
		s.mu.Unlock()
		return false
	}
	s.items = append(s.items[:position], s.items[position+1:]...)
	s.reindex()
	ids := s.itemIDs()
	s.mu.Unlock()

	s.cache.Remove(cache.EntityKey(cache.FamilyDiscussions, id))
	s.cache.Set(s.listKey, ids)
	return true
}

// Close detaches the synchronizer. Fetches in flight complete but their
// results are discarded.
func (s *Synchronizer) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.generation++
	stop := s.stopWatch
	s.mu.Unlock()
	if stop != nil {
		stop()
	}
}

func (s *Synchronizer) advance() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	s.generation++
	return s.generation, nil
}

func (s *Synchronizer) await(ctx context.Context, generation uint64, cursor, count int, mode loadMode) ([]Item, error) {
	key := fmt.Sprintf("%d:%d:%d:%d", generation, cursor, count, mode)
	results := s.group.DoChan(key, func() (any, error) {
		return s.load(generation, cursor, count, mode)
	})
	select {
	case result := <-results:
		if result.Err != nil {
			return nil, result.Err
		}
		items, _ := result.Val.([]Item)
		out := make([]Item, len(items))
		copy(out, items)
		return out, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Synchronizer) load(generation uint64, cursor, count int, mode loadMode) ([]Item, error) {
	if !s.current(generation, cursor, mode) {
		return nil, nil
	}
	// Detached from callers so an abandoned caller does not abort a shared fetch.
	ctx := context.Background()
	pages := make([]Page, 0, count)
	for number := cursor; number < cursor+count; number++ {
		page, err := s.source.FetchPage(ctx, s.query, number)
		if err != nil {
			s.logError(opLoadPage, "fetch_failed", err, zap.Int("page", number))
			return nil, &FetchError{Page: number, Err: err}
		}
		pages = append(pages, page)
		if !page.Meta.HasNextPage {
			break
		}
	}
	return s.commit(generation, cursor, pages, mode), nil
}

func (s *Synchronizer) current(generation uint64, cursor int, mode loadMode) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentLocked(generation, cursor, mode)
}

func (s *Synchronizer) commit(generation uint64, cursor int, pages []Page, mode loadMode) []Item {
	s.mu.Lock()
	if !s.currentLocked(generation, cursor, mode) {
		s.mu.Unlock()
		s.logger.Debug("feed page discarded",
			zap.String("operation", opLoadPage),
			zap.Int("page", cursor),
			zap.Uint64("generation", generation))
		return nil
	}
	if mode != modeAppend {
		s.items = nil
		s.index = make(map[int64]int)
		s.pages = 0
		s.stale = false
	}
	if mode == modeMerge {
		s.pending = 0
	}

	var added []Item
	number := cursor
	for _, page := range pages {
		for _, discussion := range page.Items {
			if discussion.ID <= 0 {
				continue
			}
			if _, seen := s.index[discussion.ID]; seen {
				continue
			}
			item := newItem(discussion, number)
			s.index[item.ID] = len(s.items)
			s.items = append(s.items, item)
			added = append(added, item)
		}
		s.pages++
		s.hasNext = page.Meta.HasNextPage
		number++
	}
	s.nextPage = number
	result := added
	if mode != modeAppend {
		result = make([]Item, len(s.items))
		copy(result, s.items)
	}
	ids := s.itemIDs()
	s.mu.Unlock()

	s.publish(pages, ids)
	return result
}

func (s *Synchronizer) currentLocked(generation uint64, cursor int, mode loadMode) bool {
	if s.closed || generation != s.generation {
		return false
	}
	return mode != modeAppend || cursor == s.nextPage
}

// publish writes the fetched discussions and the list into the shared cache.
// Server tallies never replace a fresh tally written by the vote engine.
func (s *Synchronizer) publish(pages []Page, ids []int64) {
	for _, page := range pages {
		for _, discussion := range page.Items {
			if discussion.ID <= 0 {
				continue
			}
			s.cache.Set(cache.EntityKey(cache.FamilyDiscussions, discussion.ID), discussion)
			s.cache.StoreTallyIfStale(cache.VotesKey(voteKindDiscussion, discussion.ID), cache.VoteTally{
				Upvotes:    discussion.UpvoteCount,
				Downvotes:  discussion.DownvoteCount,
				ViewerVote: discussion.VoteStatus,
			})
		}
	}
	s.cache.Set(s.listKey, ids)
}

func (s *Synchronizer) relevant(arrival realtime.NewDiscussion) bool {
	if s.viewerID != 0 && arrival.AuthorID == s.viewerID {
		return false
	}
	switch s.query.Type {
	case TypeRegular:
		return s.query.SpaceID == 0
	case TypeSpace:
		return arrival.SpaceID == s.query.SpaceID
	default:
		return false
	}
}

func (s *Synchronizer) watch(ctx context.Context, stream <-chan cache.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-stream:
			if event.Type != cache.EventInvalidated {
				continue
			}
			s.mu.Lock()
			s.stale = true
			s.mu.Unlock()
		}
	}
}

func (s *Synchronizer) reindex() {
	s.index = make(map[int64]int, len(s.items))
	for position, item := range s.items {
		s.index[item.ID] = position
	}
}

func (s *Synchronizer) itemIDs() []int64 {
	ids := make([]int64, len(s.items))
	for position, item := range s.items {
		ids[position] = item.ID
	}
	return ids
}

func (s *Synchronizer) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Warn("feed synchronizer error", attrs...)
}
