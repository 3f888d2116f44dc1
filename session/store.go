// Package session provides a bounded, in-process store for per-
// conversation filter state.
//
// Filters used to keep process-wide maps keyed by conversation id with
// no expiry; any turn that never completed leaked its entry forever.
// Store closes that gap: least-recently-used entries are evicted past a
// size bound, idle entries past a TTL, and map access is mutex-guarded.
// The guard covers the map only; a mutable value shared across turns
// needs its own synchronization.
package session

import (
	"container/list"
	"sync"
	"time"
)

// DefaultMaxEntries bounds a store when the caller does not.
const DefaultMaxEntries = 1024

// Config bounds a Store.
type Config struct {
	// MaxEntries is the size bound. 0 means DefaultMaxEntries.
	MaxEntries int

	// TTL expires entries untouched for this long. 0 disables expiry.
	TTL time.Duration

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Store holds one value of type T per conversation id.
type Store[T any] struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List // front = most recently used
	max     int
	ttl     time.Duration
	now     func() time.Time
}

type entry[T any] struct {
	key     string
	value   T
	touched time.Time
}

// New creates a bounded store.
func New[T any](cfg Config) *Store[T] {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultMaxEntries
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Store[T]{
		entries: make(map[string]*list.Element),
		order:   list.New(),
		max:     cfg.MaxEntries,
		ttl:     cfg.TTL,
		now:     cfg.Now,
	}
}

// Get returns the value for key, marking it recently used.
func (s *Store[T]) Get(key string) (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.entries[key]
	if !ok || s.expired(el) {
		if ok {
			s.remove(el)
		}
		var zero T
		return zero, false
	}
	s.touch(el)
	return el.Value.(*entry[T]).value, true
}

// GetOrCreate returns the value for key, creating it via create when
// absent or expired.
func (s *Store[T]) GetOrCreate(key string, create func() T) T {
	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.entries[key]; ok {
		if !s.expired(el) {
			s.touch(el)
			return el.Value.(*entry[T]).value
		}
		s.remove(el)
	}
	return s.insert(key, create())
}

// Put stores a value for key, evicting the least recently used entry
// if the store is full.
func (s *Store[T]) Put(key string, value T) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.entries[key]; ok {
		el.Value.(*entry[T]).value = value
		s.touch(el)
		return
	}
	s.insert(key, value)
}

// Delete removes the entry for key. Removing entries once a turn
// completes keeps the store from growing with finished conversations.
func (s *Store[T]) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.entries[key]; ok {
		s.remove(el)
	}
}

// Len reports the number of live entries.
func (s *Store[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	for el := s.order.Back(); el != nil; {
		prev := el.Prev()
		if s.expired(el) {
			s.remove(el)
		}
		el = prev
	}
	return len(s.entries)
}

// insert assumes the lock is held and key is absent.
func (s *Store[T]) insert(key string, value T) T {
	for len(s.entries) >= s.max {
		oldest := s.order.Back()
		if oldest == nil {
			break
		}
		s.remove(oldest)
	}
	el := s.order.PushFront(&entry[T]{key: key, value: value, touched: s.now()})
	s.entries[key] = el
	return value
}

func (s *Store[T]) touch(el *list.Element) {
	el.Value.(*entry[T]).touched = s.now()
	s.order.MoveToFront(el)
}

func (s *Store[T]) remove(el *list.Element) {
	ent := el.Value.(*entry[T])
	delete(s.entries, ent.key)
	s.order.Remove(el)
}

func (s *Store[T]) expired(el *list.Element) bool {
	if s.ttl <= 0 {
		return false
	}
	return s.now().Sub(el.Value.(*entry[T]).touched) > s.ttl
}
