package trade

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/tradeflow/internal/event"
	"github.com/roach88/tradeflow/internal/relay"
)

// DefaultTimeout bounds a stage await when the caller gives none.
const DefaultTimeout = 7 * time.Second

// FlowService reconstructs multi-party trade negotiations from the event
// stream and drives new stage transitions.
//
// All index mutation happens in the single Run loop goroutine, one event at a
// time: ingestion of one event runs to completion before the next begins, so
// state transitions are linearizable even though events originate from the
// live subscription, the manual feed, and locally published requests.
// External readers only ever get derived snapshots.
//
// Thread-safety model:
//   - OnEvent, stage methods, accessors: safe from any goroutine
//   - Run: must be called from exactly one goroutine
type FlowService struct {
	client relay.Client

	now            func() time.Time
	defaultTimeout time.Duration
	onChange       func(listingID string)

	queue   *taskQueue
	epoch   atomic.Uint64
	waiters *waiterRegistry

	mu          sync.RWMutex
	sub         relay.Subscription
	listings    map[string]*listingState
	threads     map[string]thread
	orphans     map[string]*ring
	loading     map[string]struct{}
	latest      *event.Event
	backlogDone bool
	kinds       []int
	authors     []string
	destroyed   bool
}

// thread routes an event id to its bundle: the listing it belongs to and,
// once known, the confirmed order within it.
type thread struct {
	listingID string
	orderID   string
}

// Option configures a FlowService.
type Option func(*FlowService)

// WithKinds overrides the subscription kind filter.
func WithKinds(kinds []int) Option {
	return func(s *FlowService) {
		s.kinds = append([]int(nil), kinds...)
	}
}

// WithAuthors restricts the subscription to the given authors.
func WithAuthors(authors []string) Option {
	return func(s *FlowService) {
		s.authors = append([]string(nil), authors...)
	}
}

// WithDefaultTimeout overrides the default await deadline.
func WithDefaultTimeout(d time.Duration) Option {
	return func(s *FlowService) {
		if d > 0 {
			s.defaultTimeout = d
		}
	}
}

// WithNow injects the time source. Tests use a deterministic clock.
func WithNow(now func() time.Time) Option {
	return func(s *FlowService) {
		s.now = now
	}
}

// WithOnChange installs a hook invoked with a listing id after ingestion
// mutates that listing's state. The hook runs on the ingestion goroutine and
// must not call back into the service.
func WithOnChange(fn func(listingID string)) Option {
	return func(s *FlowService) {
		s.onChange = fn
	}
}

// New creates a FlowService and opens its first subscription. A nil client
// is allowed for offline use: events then arrive only through OnEvent.
// Callers must run the ingestion loop via Run.
func New(client relay.Client, opts ...Option) *FlowService {
	s := &FlowService{
		client:         client,
		now:            time.Now,
		defaultTimeout: DefaultTimeout,
		queue:          newTaskQueue(),
		waiters:        newWaiterRegistry(),
		listings:       make(map[string]*listingState),
		threads:        make(map[string]thread),
		orphans:        make(map[string]*ring),
		loading:        make(map[string]struct{}),
		kinds:          event.DefaultKinds(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.restartSubscription()
	return s
}

// Run drains the ingestion queue until the context is cancelled or the
// service is destroyed. Must be called from exactly one goroutine.
//
// Ingestion failures never abort the loop: a malformed event is dropped and
// processing continues.
func (s *FlowService) Run(ctx context.Context) error {
	slog.Info("trade flow service starting")

	for {
		t, ok := s.queue.TryDequeue()
		if ok {
			s.process(t)
			continue
		}

		select {
		case <-ctx.Done():
			slog.Info("trade flow service stopping: context cancelled")
			s.queue.Close()
			return ctx.Err()

		case <-s.queue.Wait():
			// Either a task arrived or the queue closed; the closed
			// signal channel keeps firing, so an empty queue here
			// means shutdown.
			if s.queue.Len() == 0 {
				slog.Info("trade flow service stopping: queue closed")
				return nil
			}
		}
	}
}

// process dispatches one task on the Run goroutine.
func (s *FlowService) process(t task) {
	if t.barrier != nil {
		close(t.barrier)
		return
	}
	if t.epoch != s.epoch.Load() {
		// In flight from a previous subscription; the state it was
		// meant for is gone.
		slog.Debug("dropping stale task", "epoch", t.epoch)
		return
	}
	if t.backlog {
		s.mu.Lock()
		s.backlogDone = true
		s.mu.Unlock()
		return
	}
	s.ingest(t.ev)
}

// OnEvent feeds one event through the deferred ingestion path. This is the
// manual feed; the live subscription uses the same queue.
func (s *FlowService) OnEvent(ev *event.Event) {
	s.queue.Enqueue(task{ev: ev, epoch: s.epoch.Load()})
}

// Flush blocks until the ingestion queue is fully drained, including tasks
// re-enqueued by orphan adoption. Returns immediately if the service is
// destroyed.
func (s *FlowService) Flush() {
	for {
		barrier := make(chan struct{})
		if !s.queue.Enqueue(task{barrier: barrier}) {
			return
		}
		<-barrier
		if s.queue.Len() == 0 {
			return
		}
	}
}

// SetFilterAuthors replaces the author filter and rebuilds all state from a
// fresh subscription. Every filter change is a hard reset.
func (s *FlowService) SetFilterAuthors(authors []string) {
	s.mu.Lock()
	s.authors = append([]string(nil), authors...)
	s.mu.Unlock()
	s.restartSubscription()
}

// SetFilterKinds replaces the kind filter and rebuilds all state from a
// fresh subscription.
func (s *FlowService) SetFilterKinds(kinds []int) {
	s.mu.Lock()
	s.kinds = append([]int(nil), kinds...)
	s.mu.Unlock()
	s.restartSubscription()
}

// restartSubscription discards the live subscription and every index, bumps
// the epoch so in-flight deliveries from the old subscription are dropped,
// rejects outstanding waiters, and opens a new subscription under the
// current filter.
func (s *FlowService) restartSubscription() {
	epoch := s.epoch.Add(1)

	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return
	}
	if s.sub != nil {
		s.sub.Stop()
		s.sub = nil
	}
	s.resetLocked()
	kinds := append([]int(nil), s.kinds...)
	authors := append([]string(nil), s.authors...)
	s.mu.Unlock()

	if n := s.waiters.rejectAll(ErrServiceDestroyed); n > 0 {
		slog.Debug("rejected waiters on resubscribe", "count", n)
	}

	if s.client == nil {
		return
	}

	sub, err := s.client.Subscribe(relay.Filter{Kinds: kinds, Authors: authors})
	if err != nil {
		slog.Error("subscribe failed", "error", err)
		return
	}

	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		sub.Stop()
		return
	}
	s.sub = sub
	s.mu.Unlock()

	slog.Info("subscription opened", "kinds", len(kinds), "authors", len(authors))
	go s.pump(sub, epoch)
}

// pump forwards one subscription's deliveries into the ingestion queue,
// stamping each with the subscription's epoch.
func (s *FlowService) pump(sub relay.Subscription, epoch uint64) {
	eose := sub.EndOfBacklog()
	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			s.queue.Enqueue(task{ev: ev, epoch: epoch})
		case <-eose:
			s.queue.Enqueue(task{backlog: true, epoch: epoch})
			eose = nil
		}
	}
}

// resetLocked clears every index. Caller holds s.mu.
func (s *FlowService) resetLocked() {
	s.listings = make(map[string]*listingState)
	s.threads = make(map[string]thread)
	s.orphans = make(map[string]*ring)
	s.loading = make(map[string]struct{})
	s.latest = nil
	s.backlogDone = false
}

// Destroy tears the service down: stops the subscription, discards all
// state, rejects every pending waiter, and closes the ingestion queue so Run
// returns. Terminal; the service cannot be restarted.
func (s *FlowService) Destroy() {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return
	}
	s.destroyed = true
	if s.sub != nil {
		s.sub.Stop()
		s.sub = nil
	}
	s.resetLocked()
	s.mu.Unlock()

	s.epoch.Add(1)
	if n := s.waiters.rejectAll(ErrServiceDestroyed); n > 0 {
		slog.Info("rejected waiters on destroy", "count", n)
	}
	s.queue.Close()
	slog.Info("trade flow service destroyed")
}

// GetTradeListingBundle returns a snapshot of one listing's state.
func (s *FlowService) GetTradeListingBundle(listingID string) (ListingBundle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.listings[listingID]
	if !ok {
		return ListingBundle{}, false
	}
	return l.snapshot(), true
}

// GetOrderBundle returns a snapshot of one confirmed order.
func (s *FlowService) GetOrderBundle(listingID, orderID string) (OrderBundle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o := s.orderStateLocked(listingID, orderID)
	if o == nil {
		return OrderBundle{}, false
	}
	return o.snapshot(), true
}

// orderStateLocked returns the confirmed order state, or nil. Caller holds
// s.mu (read or write).
func (s *FlowService) orderStateLocked(listingID, orderID string) *orderState {
	l, ok := s.listings[listingID]
	if !ok {
		return nil
	}
	return l.orders[orderID]
}

// Listings returns a snapshot of every listing bundle, keyed by listing id.
func (s *FlowService) Listings() map[string]ListingBundle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]ListingBundle, len(s.listings))
	for id, l := range s.listings {
		out[id] = l.snapshot()
	}
	return out
}

// IsLoading reports whether a wait is outstanding for the given request
// event id.
func (s *FlowService) IsLoading(eventID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.loading[eventID]
	return ok
}

// GetLatestUpdate returns the most recent result or feedback event observed
// after the stored backlog finished replaying, or nil.
func (s *FlowService) GetLatestUpdate() *event.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest
}

// setLoadingID marks or clears the loading flag for a request event id.
func (s *FlowService) setLoadingID(requestID string, loading bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if loading {
		s.loading[requestID] = struct{}{}
	} else {
		delete(s.loading, requestID)
	}
}

// updateLoadingByRequest flips the loading flag on the bundle the request
// belongs to, wherever it currently lives.
func (s *FlowService) updateLoadingByRequest(requestID string, loading bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	th, ok := s.threads[requestID]
	if !ok {
		return
	}
	l, ok := s.listings[th.listingID]
	if !ok {
		return
	}
	if o, ok := l.pending[requestID]; ok {
		o.loading = loading
		return
	}
	if th.orderID != "" {
		if o, ok := l.orders[th.orderID]; ok {
			o.loading = loading
		}
	}
}
