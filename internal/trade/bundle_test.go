package trade

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tradeflow/internal/event"
)

var bundleBase = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestRing_PushAndOrder(t *testing.T) {
	r := newRing(3)

	r.push(&event.Event{ID: "a"})
	r.push(&event.Event{ID: "b"})

	evs := r.events()
	require.Len(t, evs, 2)
	assert.Equal(t, "a", evs[0].ID)
	assert.Equal(t, "b", evs[1].ID)
	assert.Equal(t, "b", r.last().ID)
}

func TestRing_EvictsOldestPastCapacity(t *testing.T) {
	r := newRing(3)

	for _, id := range []string{"a", "b", "c", "d"} {
		r.push(&event.Event{ID: id})
	}

	evs := r.events()
	require.Len(t, evs, 3)
	assert.Equal(t, "b", evs[0].ID)
	assert.Equal(t, "d", evs[2].ID)
	assert.False(t, r.contains("a"), "evicted event should be gone")
}

func TestRing_Contains(t *testing.T) {
	r := newRing(2)
	r.push(&event.Event{ID: "a"})

	assert.True(t, r.contains("a"))
	assert.False(t, r.contains("b"))
}

func TestRing_LastEmpty(t *testing.T) {
	r := newRing(2)
	assert.Nil(t, r.last())
}

func TestOrderState_AttachBucketsByKind(t *testing.T) {
	o := newOrderState("listing-1", "order-1", bundleBase)

	req := &event.Event{ID: "req-1", Kind: event.RequestKind(event.StageAccept)}
	res := &event.Event{ID: "res-1", Kind: event.ResultKind(event.StageAccept)}
	fb := &event.Event{ID: "fb-1", Kind: event.KindFeedback, Tags: []event.Tag{{"stage", "Accept"}}}

	o.attach(req, bundleBase)
	o.attach(res, bundleBase.Add(time.Second))
	o.attach(fb, bundleBase.Add(2*time.Second))

	assert.Equal(t, 1, o.requests[event.StageAccept].len())
	assert.Equal(t, 1, o.results[event.StageAccept].len())
	assert.Equal(t, 1, o.feedback[event.StageAccept].len())
	assert.Equal(t, bundleBase.Add(2*time.Second), o.lastUpdateAt)
}

func TestOrderState_AttachDuplicateDropped(t *testing.T) {
	o := newOrderState("listing-1", "order-1", bundleBase)

	ev := &event.Event{ID: "req-1", Kind: event.RequestKind(event.StageAccept)}
	o.attach(ev, bundleBase)
	o.attach(ev, bundleBase.Add(time.Second))

	assert.Equal(t, 1, o.requests[event.StageAccept].len())
}

func TestOrderState_BucketCapped(t *testing.T) {
	o := newOrderState("listing-1", "order-1", bundleBase)

	for i := 0; i <= maxBucketItems; i++ {
		o.attach(&event.Event{
			ID:   fmt.Sprintf("fb-%d", i),
			Kind: event.KindFeedback,
		}, bundleBase)
	}

	b := o.feedback[event.StageOrder]
	require.Equal(t, maxBucketItems, b.len())
	assert.False(t, b.contains("fb-0"), "oldest entry should be evicted")
	assert.True(t, b.contains(fmt.Sprintf("fb-%d", maxBucketItems)))
}

func TestOrderState_LoadingFlag(t *testing.T) {
	o := newOrderState("listing-1", "", bundleBase)

	o.attach(&event.Event{ID: "req-1", Kind: event.RequestKind(event.StageOrder)}, bundleBase)
	assert.True(t, o.loading, "entry-stage request should set loading")

	o.attach(&event.Event{ID: "res-1", Kind: event.ResultKind(event.StageOrder)}, bundleBase)
	assert.False(t, o.loading, "any result should clear loading")
}

func TestOrderState_LastResultID(t *testing.T) {
	o := newOrderState("listing-1", "order-1", bundleBase)

	assert.Empty(t, o.lastResultID(event.StageAccept))

	o.attach(&event.Event{ID: "res-1", Kind: event.ResultKind(event.StageAccept)}, bundleBase)
	o.attach(&event.Event{ID: "res-2", Kind: event.ResultKind(event.StageAccept)}, bundleBase)

	assert.Equal(t, "res-2", o.lastResultID(event.StageAccept))
}

func TestOrderState_SnapshotIsolated(t *testing.T) {
	o := newOrderState("listing-1", "order-1", bundleBase)
	o.attach(&event.Event{ID: "res-1", Kind: event.ResultKind(event.StageAccept)}, bundleBase)

	snap := o.snapshot()
	require.Len(t, snap.Results[event.StageAccept], 1)

	o.attach(&event.Event{ID: "res-2", Kind: event.ResultKind(event.StageAccept)}, bundleBase)
	assert.Len(t, snap.Results[event.StageAccept], 1, "snapshot should not see later mutation")
}
