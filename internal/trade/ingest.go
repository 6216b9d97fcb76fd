package trade

import (
	"log/slog"

	"github.com/roach88/tradeflow/internal/event"
)

// ingest routes one event into the correlation indexes. Runs only on the Run
// goroutine; ingestion of one event completes before the next begins.
//
// Events that reference a parent the engine has not seen yet are parked in
// the orphan buffer under the missing id and replayed once the parent
// arrives, so delivery order never changes the final state.
func (s *FlowService) ingest(ev *event.Event) {
	if ev == nil || ev.ID == "" {
		slog.Warn("dropping malformed event: missing id")
		return
	}

	var (
		changed    string
		adopted    []*event.Event
		resolved   *event.Event // result event to run waiter resolution for
		resolveFor string
	)

	s.mu.Lock()
	switch {
	case ev.Kind == event.KindListing:
		changed = s.ingestListingLocked(ev)
		adopted = s.takeOrphansLocked(ev.ID)

	case ev.Kind == event.RequestKind(event.StageOrder):
		changed = s.ingestOrderRequestLocked(ev)
		adopted = s.takeOrphansLocked(ev.ID)

	case ev.Kind == event.ResultKind(event.StageOrder):
		requestID := ev.Ref()
		if _, ok := s.threads[requestID]; requestID == "" || !ok {
			s.bufferOrphanLocked(requestID, ev)
		} else {
			changed = s.ingestOrderResultLocked(ev, requestID)
			adopted = s.takeOrphansLocked(ev.ID)
			resolved, resolveFor = ev, requestID
		}

	case event.IsRequestKind(ev.Kind) || event.IsResultKind(ev.Kind) || ev.Kind == event.KindFeedback:
		refID := ev.Ref()
		th, ok := s.threads[refID]
		if refID == "" || !ok {
			s.bufferOrphanLocked(refID, ev)
			break
		}
		listingID, attached := s.ingestThreadedLocked(ev, refID, th)
		if !attached {
			// The reference is known but its bundle has not
			// materialized yet, e.g. a stage event threaded straight
			// onto a listing with no order. Park it like any other
			// orphan so a later delivery can pick it up.
			s.bufferOrphanLocked(refID, ev)
			break
		}
		changed = listingID
		adopted = s.takeOrphansLocked(ev.ID)
		if event.IsResultKind(ev.Kind) {
			resolved, resolveFor = ev, refID
		}
		if s.backlogDone && (event.IsResultKind(ev.Kind) || ev.Kind == event.KindFeedback) {
			s.latest = ev
		}

	default:
		slog.Debug("ignoring event of unknown kind", "id", ev.ID, "kind", ev.Kind)
	}
	s.mu.Unlock()

	if resolved != nil {
		if n := s.waiters.resolve(resolveFor, resolved); n > 0 {
			slog.Debug("resolved waiters", "request_id", resolveFor, "result_id", resolved.ID, "count", n)
		}
	}

	if changed != "" && s.onChange != nil {
		s.onChange(changed)
	}

	// Replay children that were waiting on this event. They go through the
	// queue rather than recursing so ingestion stays one event at a time.
	epoch := s.epoch.Load()
	for _, child := range adopted {
		s.queue.Enqueue(task{ev: child, epoch: epoch})
	}
}

// ingestListingLocked indexes a listing event under its own id, keeping the
// newer of two copies, and opens the thread so stage events can reference the
// listing directly. Returns the listing id touched.
func (s *FlowService) ingestListingLocked(ev *event.Event) string {
	l := s.listings[ev.ID]
	if l == nil {
		l = newListingState()
		s.listings[ev.ID] = l
	}
	if l.listing == nil || ev.PublishedAt.After(l.listing.PublishedAt) {
		l.listing = ev
	}
	if _, ok := s.threads[ev.ID]; !ok {
		s.threads[ev.ID] = thread{listingID: ev.ID}
	}
	return ev.ID
}

// ingestOrderRequestLocked opens a pending order for an entry-stage request.
// The listing id comes from the marker-qualified input tag, then from the
// thread of the referenced parent, and finally falls back to the request's
// own id so an order against an unseen listing still gets a bundle.
func (s *FlowService) ingestOrderRequestLocked(ev *event.Event) string {
	listingID := ev.Marker(event.MarkerListing)
	if listingID == "" {
		if th, ok := s.threads[ev.Ref()]; ok {
			listingID = th.listingID
		}
	}
	if listingID == "" {
		listingID = ev.ID
	}

	l := s.listings[listingID]
	if l == nil {
		l = newListingState()
		s.listings[listingID] = l
	}

	o := l.pending[ev.ID]
	if o == nil {
		// Re-delivery after confirmation: the bundle already moved.
		if th, ok := s.threads[ev.ID]; ok && th.orderID != "" {
			if confirmed := l.orders[th.orderID]; confirmed != nil {
				confirmed.attach(ev, s.now())
				return listingID
			}
		}
		o = newOrderState(listingID, "", s.now())
		l.pending[ev.ID] = o
	}
	o.attach(ev, s.now())
	s.threads[ev.ID] = thread{listingID: listingID, orderID: s.threads[ev.ID].orderID}
	return listingID
}

// ingestOrderResultLocked promotes a pending order to confirmed under the
// result's id. The originating request's thread entry gains the order id so
// later references through either id land on the same bundle.
func (s *FlowService) ingestOrderResultLocked(ev *event.Event, requestID string) string {
	th := s.threads[requestID]
	l := s.listings[th.listingID]
	if l == nil {
		l = newListingState()
		s.listings[th.listingID] = l
	}

	o := l.orders[ev.ID]
	if o == nil {
		if p := l.pending[requestID]; p != nil {
			o = p
			delete(l.pending, requestID)
		} else {
			o = newOrderState(th.listingID, "", s.now())
		}
		o.orderID = ev.ID
		l.orders[ev.ID] = o
	}
	o.attach(ev, s.now())

	s.threads[requestID] = thread{listingID: th.listingID, orderID: ev.ID}
	s.threads[ev.ID] = thread{listingID: th.listingID, orderID: ev.ID}
	return th.listingID
}

// ingestThreadedLocked attaches a mid-negotiation event to the bundle its
// reference resolves to and extends the thread with the event's own id.
// Reports false when no bundle exists for the thread; the caller buffers the
// event as an orphan.
func (s *FlowService) ingestThreadedLocked(ev *event.Event, refID string, th thread) (string, bool) {
	l := s.listings[th.listingID]
	if l == nil {
		return "", false
	}

	var o *orderState
	if p := l.pending[refID]; p != nil {
		o = p
	} else if th.orderID != "" {
		o = l.orders[th.orderID]
	}
	if o == nil {
		return "", false
	}

	o.attach(ev, s.now())
	s.threads[ev.ID] = th
	return th.listingID, true
}

// bufferOrphanLocked parks an event under the id it references until that
// parent arrives. The per-parent buffer is bounded; past capacity the oldest
// orphan is discarded.
func (s *FlowService) bufferOrphanLocked(refID string, ev *event.Event) {
	if refID == "" {
		slog.Warn("dropping unthreadable event: no reference", "id", ev.ID, "kind", ev.Kind)
		return
	}
	b := s.orphans[refID]
	if b == nil {
		b = newRing(maxBucketItems)
		s.orphans[refID] = b
	}
	if b.contains(ev.ID) {
		return
	}
	b.push(ev)
	slog.Debug("buffered orphan", "id", ev.ID, "waiting_on", refID)
}

// takeOrphansLocked removes and returns the orphans waiting on the given id.
func (s *FlowService) takeOrphansLocked(id string) []*event.Event {
	b := s.orphans[id]
	if b == nil {
		return nil
	}
	delete(s.orphans, id)
	return b.events()
}
