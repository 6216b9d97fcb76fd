package testutil

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/tradeflow/internal/event"
	"github.com/roach88/tradeflow/internal/relay"
)

// FakeClient is an in-memory relay.Client for engine tests. It records
// published requests and lets the test deliver arbitrary events into the
// active subscription. Published events are NOT delivered back automatically;
// tests that want the echo deliver it themselves.
//
// Thread-safety: all methods are safe for concurrent use.
type FakeClient struct {
	// Now supplies publish timestamps. Defaults to time.Now.
	Now func() time.Time

	// FailPublish makes every Publish call fail.
	FailPublish bool

	mu        sync.Mutex
	sub       *FakeSubscription
	published []*event.Event
}

// FakeSubscription is the subscription half of FakeClient. Deliveries are
// buffered; a stopped subscription drops them.
type FakeSubscription struct {
	mu      sync.Mutex
	events  chan *event.Event
	eose    chan struct{}
	stopped bool

	eoseOnce sync.Once
}

// NewFakeClient creates a client with no active subscription.
func NewFakeClient() *FakeClient {
	return &FakeClient{Now: time.Now}
}

// Subscribe opens a fresh subscription, replacing any previous one.
func (c *FakeClient) Subscribe(_ relay.Filter) (relay.Subscription, error) {
	sub := &FakeSubscription{
		events: make(chan *event.Event, 256),
		eose:   make(chan struct{}),
	}
	c.mu.Lock()
	c.sub = sub
	c.mu.Unlock()
	return sub, nil
}

// Publish stamps the draft into a signed-looking event and records it.
func (c *FakeClient) Publish(_ context.Context, draft *event.Draft) (*event.Event, error) {
	if c.FailPublish {
		return nil, errors.New("fake publish failure")
	}
	now := c.Now
	if now == nil {
		now = time.Now
	}
	ev := &event.Event{
		ID:          uuid.NewString(),
		Kind:        draft.Kind,
		Author:      "fake-self",
		PublishedAt: now(),
		Tags:        draft.Tags,
		Data:        draft.Data,
	}
	c.mu.Lock()
	c.published = append(c.published, ev)
	c.mu.Unlock()
	return ev, nil
}

// Deliver pushes one event into the active subscription. No-op when no
// subscription is open or it has been stopped; drops when the buffer is full.
func (c *FakeClient) Deliver(ev *event.Event) {
	c.mu.Lock()
	sub := c.sub
	c.mu.Unlock()
	if sub == nil {
		return
	}
	sub.deliver(ev)
}

// FinishBacklog signals end of stored history on the active subscription.
func (c *FakeClient) FinishBacklog() {
	c.mu.Lock()
	sub := c.sub
	c.mu.Unlock()
	if sub == nil {
		return
	}
	sub.eoseOnce.Do(func() { close(sub.eose) })
}

// Published returns the requests published so far, in order.
func (c *FakeClient) Published() []*event.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*event.Event, len(c.published))
	copy(out, c.published)
	return out
}

func (s *FakeSubscription) deliver(ev *event.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	select {
	case s.events <- ev:
	default:
	}
}

// Events implements relay.Subscription.
func (s *FakeSubscription) Events() <-chan *event.Event { return s.events }

// EndOfBacklog implements relay.Subscription.
func (s *FakeSubscription) EndOfBacklog() <-chan struct{} { return s.eose }

// Stop implements relay.Subscription. Closing the event channel releases the
// consumer's pump goroutine.
func (s *FakeSubscription) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	close(s.events)
}
