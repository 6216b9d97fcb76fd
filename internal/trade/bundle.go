package trade

import (
	"time"

	"github.com/roach88/tradeflow/internal/event"
)

// maxBucketItems caps every per-stage bucket and every orphan list. Oldest
// entries are evicted first, which bounds memory on long-lived negotiations.
const maxBucketItems = 50

// ring is a bounded FIFO of events with O(1) eviction. Pushing past capacity
// overwrites the oldest entry.
type ring struct {
	buf  []*event.Event
	head int
	n    int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]*event.Event, capacity)}
}

func (r *ring) push(ev *event.Event) {
	if r.n < len(r.buf) {
		r.buf[(r.head+r.n)%len(r.buf)] = ev
		r.n++
		return
	}
	r.buf[r.head] = ev
	r.head = (r.head + 1) % len(r.buf)
}

// contains reports whether an event with the given id is already buffered.
// Duplicate network delivery must not produce duplicate bucket entries.
func (r *ring) contains(id string) bool {
	for i := 0; i < r.n; i++ {
		if r.buf[(r.head+i)%len(r.buf)].ID == id {
			return true
		}
	}
	return false
}

// events returns the buffered events in arrival order.
func (r *ring) events() []*event.Event {
	out := make([]*event.Event, r.n)
	for i := 0; i < r.n; i++ {
		out[i] = r.buf[(r.head+i)%len(r.buf)]
	}
	return out
}

// last returns the most recently pushed event, or nil when empty.
func (r *ring) last() *event.Event {
	if r.n == 0 {
		return nil
	}
	return r.buf[(r.head+r.n-1)%len(r.buf)]
}

func (r *ring) len() int {
	return r.n
}

// orderState is the engine's mutable per-order record. Only the ingestion
// loop mutates it; callers see OrderBundle snapshots.
type orderState struct {
	orderID      string // empty while pending
	listingID    string
	requests     map[event.Stage]*ring
	results      map[event.Stage]*ring
	feedback     map[event.Stage]*ring
	startedAt    time.Time
	lastUpdateAt time.Time
	loading      bool
}

func newOrderState(listingID, orderID string, now time.Time) *orderState {
	return &orderState{
		orderID:      orderID,
		listingID:    listingID,
		requests:     make(map[event.Stage]*ring),
		results:      make(map[event.Stage]*ring),
		feedback:     make(map[event.Stage]*ring),
		startedAt:    now,
		lastUpdateAt: now,
	}
}

// attach buckets one event into the order per its kind-set membership and
// refreshes the bookkeeping flags. Events already present in the target
// bucket are dropped so duplicate delivery is idempotent.
func (o *orderState) attach(ev *event.Event, now time.Time) {
	stage, ok := event.StageOf(ev)
	if !ok {
		return
	}

	var buckets map[event.Stage]*ring
	switch {
	case event.IsRequestKind(ev.Kind):
		buckets = o.requests
	case event.IsResultKind(ev.Kind):
		buckets = o.results
	case ev.Kind == event.KindFeedback:
		buckets = o.feedback
	default:
		return
	}

	b := buckets[stage]
	if b == nil {
		b = newRing(maxBucketItems)
		buckets[stage] = b
	}
	if b.contains(ev.ID) {
		return
	}
	b.push(ev)

	if ev.Kind == event.RequestKind(event.StageOrder) {
		o.loading = true
	} else if event.IsResultKind(ev.Kind) {
		o.loading = false
	}
	o.lastUpdateAt = now
}

// lastResultID returns the id of the newest result in a stage bucket, or ""
// when the bucket is absent or empty.
func (o *orderState) lastResultID(stage event.Stage) string {
	b := o.results[stage]
	if b == nil {
		return ""
	}
	if ev := b.last(); ev != nil {
		return ev.ID
	}
	return ""
}

// listingState is the engine's mutable per-listing record: the listing event
// plus confirmed orders keyed by result id and pending orders keyed by the
// originating request id. An order lives in exactly one of the two maps.
type listingState struct {
	listing *event.Event
	orders  map[string]*orderState
	pending map[string]*orderState
}

func newListingState() *listingState {
	return &listingState{
		orders:  make(map[string]*orderState),
		pending: make(map[string]*orderState),
	}
}

// OrderBundle is a read-only snapshot of one order's progress.
type OrderBundle struct {
	OrderID      string
	ListingID    string
	Requests     map[event.Stage][]*event.Event
	Results      map[event.Stage][]*event.Event
	Feedback     map[event.Stage][]*event.Event
	StartedAt    time.Time
	LastUpdateAt time.Time
	Loading      bool
}

// ListingBundle is a read-only snapshot of one listing and its orders.
type ListingBundle struct {
	Listing       *event.Event
	Orders        map[string]OrderBundle
	PendingOrders map[string]OrderBundle
}

func snapshotBuckets(src map[event.Stage]*ring) map[event.Stage][]*event.Event {
	out := make(map[event.Stage][]*event.Event, len(src))
	for stage, b := range src {
		if b.len() > 0 {
			out[stage] = b.events()
		}
	}
	return out
}

func (o *orderState) snapshot() OrderBundle {
	return OrderBundle{
		OrderID:      o.orderID,
		ListingID:    o.listingID,
		Requests:     snapshotBuckets(o.requests),
		Results:      snapshotBuckets(o.results),
		Feedback:     snapshotBuckets(o.feedback),
		StartedAt:    o.startedAt,
		LastUpdateAt: o.lastUpdateAt,
		Loading:      o.loading,
	}
}

func (l *listingState) snapshot() ListingBundle {
	lb := ListingBundle{
		Listing:       l.listing,
		Orders:        make(map[string]OrderBundle, len(l.orders)),
		PendingOrders: make(map[string]OrderBundle, len(l.pending)),
	}
	for id, o := range l.orders {
		lb.Orders[id] = o.snapshot()
	}
	for id, o := range l.pending {
		lb.PendingOrders[id] = o.snapshot()
	}
	return lb
}
