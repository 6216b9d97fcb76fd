package indexed

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func keyByData(it Item[string]) (string, bool) {
	if it.Data == "" {
		return "", false
	}
	return it.Data, true
}

func TestStore_AddAndGet(t *testing.T) {
	s := New(keyByData)

	s.Add(Item[string]{ID: "a", PublishedAt: base, Data: "k1"})

	it, ok := s.Get("k1")
	require.True(t, ok)
	assert.Equal(t, "a", it.ID)
	assert.Equal(t, 1, s.Len())
}

func TestStore_LatestWins(t *testing.T) {
	s := New(keyByData)

	s.Add(Item[string]{ID: "old", PublishedAt: base, Data: "k1"})
	s.Add(Item[string]{ID: "new", PublishedAt: base.Add(time.Hour), Data: "k1"})

	it, _ := s.Get("k1")
	assert.Equal(t, "new", it.ID)

	// An older item arriving late must not regress the winner.
	s.Add(Item[string]{ID: "older", PublishedAt: base.Add(-time.Hour), Data: "k1"})
	it, _ = s.Get("k1")
	assert.Equal(t, "new", it.ID)
}

func TestStore_TieBreaks(t *testing.T) {
	s := New(keyByData)

	// Same timestamp: live beats seed.
	s.Add(Item[string]{ID: "seeded", PublishedAt: base, Source: SourceSeed, Data: "k1"})
	s.Add(Item[string]{ID: "live", PublishedAt: base, Source: SourceLive, Data: "k1"})
	it, _ := s.Get("k1")
	assert.Equal(t, "live", it.ID)

	// Full tie: lexically larger id wins.
	s.Add(Item[string]{ID: "a", PublishedAt: base, Source: SourceLive, Data: "k2"})
	s.Add(Item[string]{ID: "b", PublishedAt: base, Source: SourceLive, Data: "k2"})
	it, _ = s.Get("k2")
	assert.Equal(t, "b", it.ID)
}

func TestStore_ConvergesAcrossDeliveryOrders(t *testing.T) {
	items := []Item[string]{
		{ID: "a", PublishedAt: base, Source: SourceSeed, Data: "k1"},
		{ID: "b", PublishedAt: base.Add(time.Minute), Source: SourceLive, Data: "k1"},
		{ID: "c", PublishedAt: base.Add(time.Minute), Source: SourceSeed, Data: "k1"},
		{ID: "d", PublishedAt: base.Add(-time.Minute), Source: SourceLive, Data: "k1"},
	}

	forward := New(keyByData)
	for _, it := range items {
		forward.Add(it)
	}
	backward := New(keyByData)
	for i := len(items) - 1; i >= 0; i-- {
		backward.Add(items[i])
	}

	f, _ := forward.Get("k1")
	b, _ := backward.Get("k1")
	assert.Equal(t, f.ID, b.ID)
	assert.Equal(t, "b", f.ID, "live item at the newest timestamp should win")
}

func TestStore_UnkeyableDropped(t *testing.T) {
	s := New(keyByData)

	s.Add(Item[string]{ID: "a", PublishedAt: base})
	assert.Equal(t, 0, s.Len())
}

func TestStore_InitReplacesAndDedupes(t *testing.T) {
	s := New(keyByData)
	s.Add(Item[string]{ID: "stale", PublishedAt: base, Data: "gone"})

	s.Init([]Item[string]{
		{ID: "a", PublishedAt: base, Data: "k1"},
		{ID: "b", PublishedAt: base.Add(time.Hour), Data: "k1"},
		{ID: "c", PublishedAt: base, Data: "k2"},
	})

	assert.Equal(t, 2, s.Len())
	_, ok := s.Get("gone")
	assert.False(t, ok, "init replaces previous contents")

	it, _ := s.Get("k1")
	assert.Equal(t, "b", it.ID)
}

func TestStore_ListSortedNewestFirst(t *testing.T) {
	s := New(keyByData)
	s.Add(Item[string]{ID: "a", PublishedAt: base.Add(time.Minute), Data: "k1"})
	s.Add(Item[string]{ID: "b", PublishedAt: base.Add(time.Hour), Data: "k2"})
	s.Add(Item[string]{ID: "c", PublishedAt: base.Add(time.Minute), Data: "k3"})

	out := s.List()
	require.Len(t, out, 3)
	assert.Equal(t, "b", out[0].ID)
	assert.Equal(t, "c", out[1].ID, "timestamp tie breaks by id descending")
	assert.Equal(t, "a", out[2].ID)
}

func TestStore_WithNewer(t *testing.T) {
	// Inverted judgment: oldest wins.
	s := New(keyByData, WithNewer(func(a, b Item[string]) bool {
		return a.PublishedAt.Before(b.PublishedAt)
	}))

	s.Add(Item[string]{ID: "new", PublishedAt: base.Add(time.Hour), Data: "k1"})
	s.Add(Item[string]{ID: "old", PublishedAt: base, Data: "k1"})

	it, _ := s.Get("k1")
	assert.Equal(t, "old", it.ID)
}

func TestStore_ConcurrentAdd(t *testing.T) {
	s := New(keyByData)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s.Add(Item[string]{
					ID:          fmt.Sprintf("%d-%d", n, j),
					PublishedAt: base.Add(time.Duration(j) * time.Second),
					Data:        fmt.Sprintf("k%d", j%10),
				})
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 10, s.Len())
}
