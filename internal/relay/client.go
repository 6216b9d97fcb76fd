// Package relay defines the pub/sub network collaborator the engine consumes:
// subscribe by filter, publish signed events, deliver events asynchronously,
// and signal the end of stored events. The websocket client in this package
// is the production implementation; tests use the in-memory fake in
// internal/testutil.
package relay

import (
	"context"

	"github.com/roach88/tradeflow/internal/event"
)

// Filter selects which events a subscription delivers.
type Filter struct {
	Kinds   []int
	Authors []string
}

// Subscription is one live filtered stream. Events delivers live and stored
// events in arrival order; EndOfBacklog is closed once the network reports no
// more stored events remain. Stop terminates delivery and closes Events.
type Subscription interface {
	Events() <-chan *event.Event
	EndOfBacklog() <-chan struct{}
	Stop()
}

// Client is the engine's view of the network.
//
// Publish signs and submits a draft and returns the signed event, which the
// caller treats as its optimistic local copy. A nil event without error is
// a publish failure.
type Client interface {
	Subscribe(f Filter) (Subscription, error)
	Publish(ctx context.Context, d *event.Draft) (*event.Event, error)
}

// Signer turns a draft into a signed event. Key management and signature
// production live outside this module.
type Signer interface {
	Sign(d *event.Draft) (*event.Event, error)
}
