package catalog

import (
	"github.com/roach88/tradeflow/internal/event"
	"github.com/roach88/tradeflow/internal/indexed"
)

// KindProfile is the profile metadata event kind.
const KindProfile = 0

// Profile is the decoded profile payload the catalog indexes.
type Profile struct {
	Name    string
	About   string
	Picture string
}

// ProfileManager keeps the newest profile payload per author.
type ProfileManager struct {
	store *indexed.Store[Profile]
}

// NewProfileManager creates an empty manager keyed by author pubkey.
func NewProfileManager() *ProfileManager {
	return &ProfileManager{
		store: indexed.New(func(it indexed.Item[Profile]) (string, bool) {
			return it.Author, it.Author != ""
		}),
	}
}

// InitFromSeed replaces the catalog with cached events.
func (m *ProfileManager) InitFromSeed(events []event.Event) {
	items := make([]indexed.Item[Profile], 0, len(events))
	for i := range events {
		items = append(items, profileItem(&events[i], indexed.SourceSeed))
	}
	m.store.Init(items)
}

// OnEvent merges one live profile event into the catalog.
func (m *ProfileManager) OnEvent(ev *event.Event) {
	if ev == nil || ev.Kind != KindProfile {
		return
	}
	m.store.Add(profileItem(ev, indexed.SourceLive))
}

// Get returns the newest profile for an author.
func (m *ProfileManager) Get(author string) (indexed.Item[Profile], bool) {
	return m.store.Get(author)
}

// List returns all profiles, newest first.
func (m *ProfileManager) List() []indexed.Item[Profile] {
	return m.store.List()
}

func profileItem(ev *event.Event, src indexed.Source) indexed.Item[Profile] {
	return indexed.Item[Profile]{
		ID:          ev.ID,
		Kind:        ev.Kind,
		Author:      ev.Author,
		PublishedAt: ev.PublishedAt,
		Source:      src,
		Data: Profile{
			Name:    dataString(ev.Data, "name"),
			About:   dataString(ev.Data, "about"),
			Picture: dataString(ev.Data, "picture"),
		},
	}
}
