// Package catalog maintains latest-wins views of reference data: trade
// listing metadata keyed by the listing's d-tag and author profiles keyed by
// pubkey. Both views are seeded from the local cache and updated from the
// live stream; the latest-wins store resolves conflicts between the two.
package catalog

import (
	"github.com/roach88/tradeflow/internal/event"
	"github.com/roach88/tradeflow/internal/indexed"
)

// Listing is the decoded listing payload the catalog indexes.
type Listing struct {
	DTag     string
	Title    string
	Price    string
	Currency string
	Location string
}

// ListingManager keeps the newest listing payload per d-tag.
type ListingManager struct {
	store *indexed.Store[Listing]
}

// NewListingManager creates an empty manager. Items without a d-tag are
// dropped, never indexed.
func NewListingManager() *ListingManager {
	return &ListingManager{
		store: indexed.New(func(it indexed.Item[Listing]) (string, bool) {
			return it.Data.DTag, it.Data.DTag != ""
		}),
	}
}

// InitFromSeed replaces the catalog with cached events.
func (m *ListingManager) InitFromSeed(events []event.Event) {
	items := make([]indexed.Item[Listing], 0, len(events))
	for i := range events {
		items = append(items, listingItem(&events[i], indexed.SourceSeed))
	}
	m.store.Init(items)
}

// OnEvent merges one live listing event into the catalog. Non-listing kinds
// are ignored.
func (m *ListingManager) OnEvent(ev *event.Event) {
	if ev == nil || ev.Kind != event.KindListing {
		return
	}
	m.store.Add(listingItem(ev, indexed.SourceLive))
}

// Get returns the newest listing for a d-tag.
func (m *ListingManager) Get(dtag string) (indexed.Item[Listing], bool) {
	return m.store.Get(dtag)
}

// List returns all listings, newest first.
func (m *ListingManager) List() []indexed.Item[Listing] {
	return m.store.List()
}

// Len returns the number of distinct listings.
func (m *ListingManager) Len() int {
	return m.store.Len()
}

func listingItem(ev *event.Event, src indexed.Source) indexed.Item[Listing] {
	return indexed.Item[Listing]{
		ID:          ev.ID,
		Kind:        ev.Kind,
		Author:      ev.Author,
		PublishedAt: ev.PublishedAt,
		Source:      src,
		Data: Listing{
			DTag:     dataString(ev.Data, "d_tag"),
			Title:    dataString(ev.Data, "title"),
			Price:    dataString(ev.Data, "price"),
			Currency: dataString(ev.Data, "currency"),
			Location: dataString(ev.Data, "location"),
		},
	}
}

// dataString extracts a string field from an opaque payload, tolerating
// missing keys and wrong types.
func dataString(data map[string]any, key string) string {
	if data == nil {
		return ""
	}
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}
