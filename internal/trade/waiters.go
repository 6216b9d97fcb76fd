package trade

import (
	"sync"
	"time"

	"github.com/roach88/tradeflow/internal/event"
)

// waitOutcome is delivered exactly once per waiter: a correlated result
// event, or the error that terminated the wait.
type waitOutcome struct {
	ev  *event.Event
	err error
}

// waiter is one pending await for the result correlated to a published
// request. Ephemeral: removed from the registry on resolution, timeout, or
// teardown, whichever wins first.
type waiter struct {
	since time.Time
	ch    chan waitOutcome // buffered 1; at most one send ever happens
}

// waiterRegistry tracks pending waiters per request id.
//
// Waiters are registered from caller goroutines while the ingestion loop
// resolves them, so the registry carries its own lock rather than sharing the
// engine's state mutex. Multiple concurrent waiters on one request id are
// independent: each is resolved or rejected on its own.
type waiterRegistry struct {
	mu        sync.Mutex
	byRequest map[string]map[*waiter]struct{}
}

func newWaiterRegistry() *waiterRegistry {
	return &waiterRegistry{byRequest: make(map[string]map[*waiter]struct{})}
}

// register adds a waiter for a request id with its registration time.
func (r *waiterRegistry) register(requestID string, since time.Time) *waiter {
	w := &waiter{
		since: since,
		ch:    make(chan waitOutcome, 1),
	}
	r.mu.Lock()
	set := r.byRequest[requestID]
	if set == nil {
		set = make(map[*waiter]struct{})
		r.byRequest[requestID] = set
	}
	set[w] = struct{}{}
	r.mu.Unlock()
	return w
}

// remove detaches a waiter without delivering anything. Idempotent; used by
// the timeout and cancellation paths.
func (r *waiterRegistry) remove(requestID string, w *waiter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set := r.byRequest[requestID]
	if set == nil {
		return
	}
	delete(set, w)
	if len(set) == 0 {
		delete(r.byRequest, requestID)
	}
}

// resolve fulfills every waiter on requestID whose registration time strictly
// precedes the event's timestamp. A stale result that predates a waiter never
// satisfies it. Returns the number of waiters resolved.
func (r *waiterRegistry) resolve(requestID string, ev *event.Event) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	set := r.byRequest[requestID]
	if len(set) == 0 {
		return 0
	}
	resolved := 0
	for w := range set {
		if !ev.PublishedAt.After(w.since) {
			continue
		}
		w.ch <- waitOutcome{ev: ev}
		delete(set, w)
		resolved++
	}
	if len(set) == 0 {
		delete(r.byRequest, requestID)
	}
	return resolved
}

// rejectAll fails every pending waiter with the given error and empties the
// registry. Used on teardown and on full re-subscription.
func (r *waiterRegistry) rejectAll(err error) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	rejected := 0
	for id, set := range r.byRequest {
		for w := range set {
			w.ch <- waitOutcome{err: err}
			rejected++
		}
		delete(r.byRequest, id)
	}
	return rejected
}

// pending returns the number of outstanding waiters across all request ids.
func (r *waiterRegistry) pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, set := range r.byRequest {
		n += len(set)
	}
	return n
}
