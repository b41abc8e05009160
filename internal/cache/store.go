package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

const (
	defaultCapacity   = 4096
	defaultBufferSize = 32
)

// EventType enumerates cache notifications.
type EventType string

const (
	// EventSet fires when a value is written.
	EventSet EventType = "set"
	// EventInvalidated fires when a value is marked stale.
	EventInvalidated EventType = "invalidated"
	// EventRemoved fires when a value is dropped.
	EventRemoved EventType = "removed"
)

// Event describes a change to one key, or to a key prefix for invalidations.
type Event struct {
	Type    EventType
	Key     Key
	Version uint64
}

// Entry is a stored value together with freshness metadata.
type Entry struct {
	Value     any
	Stale     bool
	UpdatedAt time.Time
	Version   uint64
}

// StoreConfig configures a Store.
type StoreConfig struct {
	Capacity   int
	BufferSize int
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Store is the reactive key/value cache shared by the vote engine, the feed
// synchronizer and the push manager. Writes are last-writer-wins per key and
// subscribers are notified of sets and invalidations for keys overlapping the
// prefix they watch. Slow subscribers miss notifications rather than block writers.
type Store struct {
	mu          sync.RWMutex
	entries     *lru.Cache[Key, Entry]
	subscribers map[int64]*subscriber
	nextID      int64
	version     uint64
	bufferSize  int
	clock       func() time.Time
	logger      *zap.Logger
}

type subscriber struct {
	id     int64
	prefix Key
	stream chan Event
}

var errInvalidCapacity = errors.New("cache: capacity must be positive")

// NewStore constructs a Store.
func NewStore(cfg StoreConfig) (*Store, error) {
	capacity := cfg.Capacity
	if capacity == 0 {
		capacity = defaultCapacity
	}
	if capacity < 0 {
		return nil, errInvalidCapacity
	}
	entries, err := lru.New[Key, Entry](capacity)
	if err != nil {
		return nil, err
	}
	bufferSize := cfg.BufferSize
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		entries:     entries,
		subscribers: make(map[int64]*subscriber),
		bufferSize:  bufferSize,
		clock:       clock,
		logger:      logger,
	}, nil
}

// Get returns the entry stored for key.
func (s *Store) Get(key Key) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries.Get(key)
}

// Set stores value under key as fresh data and returns the entry version.
func (s *Store) Set(key Key, value any) uint64 {
	s.mu.Lock()
	s.version++
	version := s.version
	s.entries.Add(key, Entry{Value: value, UpdatedAt: s.clock(), Version: version})
	s.mu.Unlock()
	s.publish(Event{Type: EventSet, Key: key, Version: version})
	return version
}

// Update applies fn to the current entry of key atomically. When fn returns
// false the store is left untouched and no event is published.
func (s *Store) Update(key Key, fn func(current Entry, found bool) (any, bool)) bool {
	s.mu.Lock()
	current, found := s.entries.Get(key)
	next, changed := fn(current, found)
	if !changed {
		s.mu.Unlock()
		return false
	}
	s.version++
	version := s.version
	s.entries.Add(key, Entry{Value: next, UpdatedAt: s.clock(), Version: version})
	s.mu.Unlock()
	s.publish(Event{Type: EventSet, Key: key, Version: version})
	return true
}

// Invalidate marks every entry under prefix as stale and notifies subscribers.
// Subscribers are notified even when no entry is stored so that owners of data
// that lives outside the store (the feed pages) can react.
func (s *Store) Invalidate(prefix Key) int {
	s.mu.Lock()
	s.version++
	version := s.version
	marked := 0
	for _, key := range s.entries.Keys() {
		if !key.HasPrefix(prefix) {
			continue
		}
		entry, ok := s.entries.Peek(key)
		if !ok || entry.Stale {
			continue
		}
		entry.Stale = true
		s.entries.Add(key, entry)
		marked++
	}
	s.mu.Unlock()
	s.logger.Debug("cache invalidated", zap.String("prefix", prefix.String()), zap.Int("entries", marked))
	s.publish(Event{Type: EventInvalidated, Key: prefix, Version: version})
	return marked
}

// Remove drops key from the store.
func (s *Store) Remove(key Key) {
	s.mu.Lock()
	removed := s.entries.Remove(key)
	s.version++
	version := s.version
	s.mu.Unlock()
	if removed {
		s.publish(Event{Type: EventRemoved, Key: key, Version: version})
	}
}

// Clear drops every entry. Used when the viewer changes.
func (s *Store) Clear() {
	s.mu.Lock()
	s.entries.Purge()
	s.version++
	version := s.version
	s.mu.Unlock()
	s.publish(Event{Type: EventRemoved, Key: "", Version: version})
}

// Len reports the number of stored entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries.Len()
}

// Subscribe returns a stream of events for keys overlapping prefix. The
// subscription ends when ctx is cancelled or the returned cleanup runs.
func (s *Store) Subscribe(ctx context.Context, prefix Key) (<-chan Event, func()) {
	sub := &subscriber{
		prefix: prefix,
		stream: make(chan Event, s.bufferSize),
	}
	s.mu.Lock()
	s.nextID++
	sub.id = s.nextID
	s.subscribers[sub.id] = sub
	s.mu.Unlock()

	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subscribers, sub.id)
			s.mu.Unlock()
		})
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return sub.stream, cleanup
}

func (s *Store) publish(event Event) {
	s.mu.RLock()
	targets := make([]*subscriber, 0, len(s.subscribers))
	for _, sub := range s.subscribers {
		if event.Key == "" || event.Key.Overlaps(sub.prefix) {
			targets = append(targets, sub)
		}
	}
	s.mu.RUnlock()
	for _, sub := range targets {
		select {
		case sub.stream <- event:
		default:
			s.logger.Debug("cache subscriber lagging, event dropped",
				zap.Int64("subscriber", sub.id),
				zap.String("key", event.Key.String()))
		}
	}
}

// Lookup returns the value stored under key when it has type T.
func Lookup[T any](s *Store, key Key) (T, bool) {
	var zero T
	entry, ok := s.Get(key)
	if !ok {
		return zero, false
	}
	value, ok := entry.Value.(T)
	if !ok {
		return zero, false
	}
	return value, true
}
