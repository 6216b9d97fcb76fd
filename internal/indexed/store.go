// Package indexed provides a generic latest-wins keyed store for event
// payloads. For each key the store retains only the newest known item, with a
// deterministic total order so that independent replicas converge on the same
// winner regardless of delivery order.
package indexed

import (
	"sort"
	"sync"
	"time"
)

// Source records where an item was observed.
type Source int

const (
	// SourceSeed marks an item loaded from the local cache used to seed
	// initial state.
	SourceSeed Source = iota
	// SourceLive marks an item delivered by the live network stream.
	SourceLive
)

// Item is one keyed payload with the metadata the newest-judgment needs.
type Item[T any] struct {
	ID          string
	Kind        int
	Author      string
	PublishedAt time.Time
	Source      Source
	Data        T
}

// KeyFunc derives the index key for an item. Returning ok=false drops the
// item silently; unkeyable input is never an error.
type KeyFunc[T any] func(Item[T]) (key string, ok bool)

// NewerFunc reports whether a should replace b for the same key.
type NewerFunc[T any] func(a, b Item[T]) bool

// DefaultNewer is the standard newest judgment: higher PublishedAt wins; on a
// tie a live item beats a seeded one; on a full tie the lexically larger id
// wins, giving a deterministic total order.
func DefaultNewer[T any](a, b Item[T]) bool {
	if !a.PublishedAt.Equal(b.PublishedAt) {
		return a.PublishedAt.After(b.PublishedAt)
	}
	if a.Source != b.Source {
		return a.Source == SourceLive
	}
	return a.ID > b.ID
}

// Store is a latest-wins map from key to newest item. All operations are
// non-blocking and never fail. Safe for concurrent use.
type Store[T any] struct {
	mu    sync.RWMutex
	keyOf KeyFunc[T]
	newer NewerFunc[T]
	items map[string]Item[T]
}

// Option configures a Store.
type Option[T any] func(*Store[T])

// WithNewer overrides the newest judgment.
func WithNewer[T any](newer NewerFunc[T]) Option[T] {
	return func(s *Store[T]) {
		s.newer = newer
	}
}

// New creates an empty store with the given key function.
func New[T any](keyOf KeyFunc[T], opts ...Option[T]) *Store[T] {
	s := &Store[T]{
		keyOf: keyOf,
		newer: DefaultNewer[T],
		items: make(map[string]Item[T]),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Init atomically replaces the store's contents, keeping for each key only
// the item judged newest among duplicates in the input.
func (s *Store[T]) Init(items []Item[T]) {
	next := make(map[string]Item[T], len(items))
	for _, it := range items {
		key, ok := s.keyOf(it)
		if !ok {
			continue
		}
		if existing, found := next[key]; !found || s.newer(it, existing) {
			next[key] = it
		}
	}
	s.mu.Lock()
	s.items = next
	s.mu.Unlock()
}

// Add merges one item in: inserted if its key is new, replacing the existing
// entry only if judged newer. Unkeyable items are dropped.
func (s *Store[T]) Add(it Item[T]) {
	key, ok := s.keyOf(it)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, found := s.items[key]; !found || s.newer(it, existing) {
		s.items[key] = it
	}
}

// Get returns the current item for a key.
func (s *Store[T]) Get(key string) (Item[T], bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	it, ok := s.items[key]
	return it, ok
}

// Len returns the number of distinct keys.
func (s *Store[T]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// List returns a snapshot sorted by PublishedAt descending, ties broken by
// id descending so the order is stable across replicas.
func (s *Store[T]) List() []Item[T] {
	s.mu.RLock()
	out := make([]Item[T], 0, len(s.items))
	for _, it := range s.items {
		out = append(out, it)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].PublishedAt.Equal(out[j].PublishedAt) {
			return out[i].PublishedAt.After(out[j].PublishedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}
