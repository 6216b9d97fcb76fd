package trade

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tradeflow/internal/event"
)

var waiterBase = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func TestWaiterRegistry_ResolveStrictlyNewer(t *testing.T) {
	r := newWaiterRegistry()
	w := r.register("req-1", waiterBase)

	n := r.resolve("req-1", &event.Event{ID: "res-1", PublishedAt: waiterBase.Add(time.Second)})
	require.Equal(t, 1, n)

	out := <-w.ch
	require.NoError(t, out.err)
	assert.Equal(t, "res-1", out.ev.ID)
	assert.Equal(t, 0, r.pending())
}

func TestWaiterRegistry_StaleResultNeverResolves(t *testing.T) {
	r := newWaiterRegistry()
	r.register("req-1", waiterBase)

	// Equal timestamp is not strictly newer.
	n := r.resolve("req-1", &event.Event{ID: "res-old", PublishedAt: waiterBase})
	assert.Equal(t, 0, n)

	n = r.resolve("req-1", &event.Event{ID: "res-older", PublishedAt: waiterBase.Add(-time.Minute)})
	assert.Equal(t, 0, n)

	assert.Equal(t, 1, r.pending(), "waiter should still be registered")
}

func TestWaiterRegistry_MultipleWaitersIndependent(t *testing.T) {
	r := newWaiterRegistry()
	early := r.register("req-1", waiterBase)
	late := r.register("req-1", waiterBase.Add(10*time.Second))

	// Newer than the early waiter only.
	n := r.resolve("req-1", &event.Event{ID: "res-1", PublishedAt: waiterBase.Add(5 * time.Second)})
	require.Equal(t, 1, n)

	out := <-early.ch
	assert.Equal(t, "res-1", out.ev.ID)

	select {
	case <-late.ch:
		t.Fatal("late waiter must not be resolved by an older result")
	default:
	}
	assert.Equal(t, 1, r.pending())
}

func TestWaiterRegistry_RemoveIdempotent(t *testing.T) {
	r := newWaiterRegistry()
	w := r.register("req-1", waiterBase)

	r.remove("req-1", w)
	r.remove("req-1", w)

	assert.Equal(t, 0, r.pending())
	assert.Equal(t, 0, r.resolve("req-1", &event.Event{ID: "res-1", PublishedAt: waiterBase.Add(time.Second)}))
}

func TestWaiterRegistry_RejectAll(t *testing.T) {
	r := newWaiterRegistry()
	w1 := r.register("req-1", waiterBase)
	w2 := r.register("req-2", waiterBase)

	n := r.rejectAll(ErrServiceDestroyed)
	require.Equal(t, 2, n)

	for _, w := range []*waiter{w1, w2} {
		out := <-w.ch
		assert.ErrorIs(t, out.err, ErrServiceDestroyed)
	}
	assert.Equal(t, 0, r.pending())
}
