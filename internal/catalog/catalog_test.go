package catalog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tradeflow/internal/event"
)

var base = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func listingEv(id, dtag, title string, at time.Time) event.Event {
	return event.Event{
		ID:          id,
		Kind:        event.KindListing,
		Author:      "seller",
		PublishedAt: at,
		Data:        map[string]any{"d_tag": dtag, "title": title, "price": "10", "currency": "EUR"},
	}
}

func TestListingManager_SeedThenLive(t *testing.T) {
	m := NewListingManager()

	m.InitFromSeed([]event.Event{
		listingEv("seed-1", "widget", "cached widget", base),
	})
	require.Equal(t, 1, m.Len())

	live := listingEv("live-1", "widget", "fresh widget", base.Add(time.Hour))
	m.OnEvent(&live)

	it, ok := m.Get("widget")
	require.True(t, ok)
	assert.Equal(t, "fresh widget", it.Data.Title)
	assert.Equal(t, "EUR", it.Data.Currency)
}

func TestListingManager_StaleLiveIgnored(t *testing.T) {
	m := NewListingManager()
	m.InitFromSeed([]event.Event{
		listingEv("seed-1", "widget", "cached widget", base.Add(time.Hour)),
	})

	stale := listingEv("live-old", "widget", "old widget", base)
	m.OnEvent(&stale)

	it, _ := m.Get("widget")
	assert.Equal(t, "cached widget", it.Data.Title)
}

func TestListingManager_IgnoresOtherKinds(t *testing.T) {
	m := NewListingManager()

	m.OnEvent(&event.Event{ID: "x", Kind: event.KindFeedback, PublishedAt: base})
	m.OnEvent(nil)

	assert.Equal(t, 0, m.Len())
}

func TestListingManager_DropsMissingDTag(t *testing.T) {
	m := NewListingManager()

	ev := event.Event{ID: "no-dtag", Kind: event.KindListing, PublishedAt: base, Data: map[string]any{"title": "x"}}
	m.OnEvent(&ev)

	assert.Equal(t, 0, m.Len())
}

func TestListingManager_ListNewestFirst(t *testing.T) {
	m := NewListingManager()
	old := listingEv("a", "one", "first", base)
	recent := listingEv("b", "two", "second", base.Add(time.Minute))
	m.OnEvent(&old)
	m.OnEvent(&recent)

	out := m.List()
	require.Len(t, out, 2)
	assert.Equal(t, "two", out[0].Data.DTag)
}

func TestProfileManager_LatestPerAuthor(t *testing.T) {
	m := NewProfileManager()

	m.InitFromSeed([]event.Event{
		{ID: "p1", Kind: KindProfile, Author: "alice", PublishedAt: base, Data: map[string]any{"name": "old alice"}},
	})

	update := event.Event{ID: "p2", Kind: KindProfile, Author: "alice", PublishedAt: base.Add(time.Hour), Data: map[string]any{"name": "alice"}}
	m.OnEvent(&update)

	it, ok := m.Get("alice")
	require.True(t, ok)
	assert.Equal(t, "alice", it.Data.Name)
	assert.Len(t, m.List(), 1)
}

func TestProfileManager_IgnoresOtherKinds(t *testing.T) {
	m := NewProfileManager()

	m.OnEvent(&event.Event{ID: "x", Kind: event.KindListing, Author: "alice", PublishedAt: base})

	_, ok := m.Get("alice")
	assert.False(t, ok)
}

func TestDataString_ToleratesBadPayloads(t *testing.T) {
	assert.Empty(t, dataString(nil, "title"))
	assert.Empty(t, dataString(map[string]any{"title": 42}, "title"))
	assert.Equal(t, "x", dataString(map[string]any{"title": "x"}, "title"))
}
