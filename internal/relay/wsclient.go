package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/roach88/tradeflow/internal/event"
)

// Frame labels of the relay's JSON array protocol.
const (
	frameReq   = "REQ"
	frameClose = "CLOSE"
	frameEvent = "EVENT"
	frameEOSE  = "EOSE"
)

// subscription channel depth. Delivery never blocks the read loop; events
// past this depth are dropped and logged.
const subBuffer = 256

// WSClient is a Client over one websocket connection to a relay.
//
// One goroutine owns all reads (readLoop); writes are serialized by writeMu.
// Each subscription gets a fresh correlation id so EVENT and EOSE frames can
// be routed back to it.
type WSClient struct {
	url    string
	signer Signer
	conn   *websocket.Conn

	writeMu sync.Mutex

	mu     sync.Mutex
	subs   map[string]*wsSubscription
	closed bool
}

// Dial connects to a relay. The signer may be nil for read-only use;
// Publish then fails.
func Dial(url string, signer Signer) (*WSClient, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial relay %s: %w", url, err)
	}
	c := &WSClient{
		url:    url,
		signer: signer,
		conn:   conn,
		subs:   make(map[string]*wsSubscription),
	}
	go c.readLoop()
	return c, nil
}

// Close tears down the connection. All subscriptions stop delivering.
func (c *WSClient) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	subs := make([]*wsSubscription, 0, len(c.subs))
	for _, s := range c.subs {
		subs = append(subs, s)
	}
	c.subs = make(map[string]*wsSubscription)
	c.mu.Unlock()

	for _, s := range subs {
		s.finish()
	}
	return c.conn.Close()
}

// Subscribe opens a filtered stream. The relay replays matching stored
// events first, then signals end-of-backlog, then continues with live events.
func (c *WSClient) Subscribe(f Filter) (Subscription, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, errors.New("relay client closed")
	}
	sub := &wsSubscription{
		id:     uuid.NewString(),
		client: c,
		events: make(chan *event.Event, subBuffer),
		eose:   make(chan struct{}),
	}
	c.subs[sub.id] = sub
	c.mu.Unlock()

	req := []any{frameReq, sub.id, wireFilter{Kinds: f.Kinds, Authors: f.Authors}}
	if err := c.writeFrame(req); err != nil {
		c.dropSub(sub.id)
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	return sub, nil
}

// Publish signs the draft and submits it. The returned event is the signed
// copy; the relay's acceptance is not awaited.
func (c *WSClient) Publish(ctx context.Context, d *event.Draft) (*event.Event, error) {
	if c.signer == nil {
		return nil, errors.New("publish: no signer configured")
	}
	ev, err := c.signer.Sign(d)
	if err != nil {
		return nil, fmt.Errorf("sign draft: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := c.writeFrame([]any{frameEvent, toWire(ev)}); err != nil {
		return nil, fmt.Errorf("publish: %w", err)
	}
	return ev, nil
}

func (c *WSClient) writeFrame(frame []any) error {
	payload, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

func (c *WSClient) dropSub(id string) *wsSubscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	sub := c.subs[id]
	delete(c.subs, id)
	return sub
}

func (c *WSClient) lookupSub(id string) *wsSubscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subs[id]
}

func (c *WSClient) readLoop() {
	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			alreadyClosed := c.closed
			c.mu.Unlock()
			if !alreadyClosed {
				slog.Warn("relay read loop ended", "url", c.url, "error", err)
				_ = c.Close()
			}
			return
		}

		var frame []json.RawMessage
		if err := json.Unmarshal(payload, &frame); err != nil || len(frame) < 2 {
			slog.Debug("relay sent malformed frame", "url", c.url)
			continue
		}
		var label string
		if err := json.Unmarshal(frame[0], &label); err != nil {
			continue
		}
		var subID string
		if err := json.Unmarshal(frame[1], &subID); err != nil {
			continue
		}

		switch label {
		case frameEvent:
			if len(frame) < 3 {
				continue
			}
			var w wireEvent
			if err := json.Unmarshal(frame[2], &w); err != nil {
				slog.Debug("relay sent undecodable event", "sub", subID)
				continue
			}
			if sub := c.lookupSub(subID); sub != nil {
				sub.deliver(fromWire(&w))
			}
		case frameEOSE:
			if sub := c.lookupSub(subID); sub != nil {
				sub.markEOSE()
			}
		}
	}
}

// wsSubscription routes frames for one REQ id to its consumer.
type wsSubscription struct {
	id     string
	client *WSClient

	mu     sync.Mutex
	events chan *event.Event
	done   bool

	eose     chan struct{}
	eoseOnce sync.Once
}

func (s *wsSubscription) Events() <-chan *event.Event {
	return s.events
}

func (s *wsSubscription) EndOfBacklog() <-chan struct{} {
	return s.eose
}

// Stop cancels the subscription on the relay and closes the event channel.
func (s *wsSubscription) Stop() {
	if sub := s.client.dropSub(s.id); sub == nil {
		return
	}
	_ = s.client.writeFrame([]any{frameClose, s.id})
	s.finish()
}

func (s *wsSubscription) deliver(ev *event.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	select {
	case s.events <- ev:
	default:
		slog.Warn("subscription buffer full, dropping event", "sub", s.id, "event", ev.ID)
	}
}

func (s *wsSubscription) markEOSE() {
	s.eoseOnce.Do(func() { close(s.eose) })
}

func (s *wsSubscription) finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	s.done = true
	close(s.events)
}

// wireFilter is the filter object inside a REQ frame.
type wireFilter struct {
	Kinds   []int    `json:"kinds"`
	Authors []string `json:"authors,omitempty"`
}

// wireEvent is the relay's event encoding. The content field carries the
// payload as a JSON document; decoding it is best-effort since payloads are
// validated upstream.
type wireEvent struct {
	ID        string     `json:"id"`
	Kind      int        `json:"kind"`
	Author    string     `json:"pubkey"`
	CreatedAt int64      `json:"created_at"`
	Tags      [][]string `json:"tags"`
	Content   string     `json:"content"`
	Sig       string     `json:"sig,omitempty"`
}

func toWire(ev *event.Event) *wireEvent {
	w := &wireEvent{
		ID:     ev.ID,
		Kind:   ev.Kind,
		Author: ev.Author,
		Tags:   make([][]string, 0, len(ev.Tags)),
	}
	if !ev.PublishedAt.IsZero() {
		w.CreatedAt = ev.PublishedAt.Unix()
	}
	for _, t := range ev.Tags {
		w.Tags = append(w.Tags, []string(t))
	}
	if ev.Data != nil {
		if content, err := json.Marshal(ev.Data); err == nil {
			w.Content = string(content)
		}
	}
	return w
}

func fromWire(w *wireEvent) *event.Event {
	ev := &event.Event{
		ID:     w.ID,
		Kind:   w.Kind,
		Author: w.Author,
	}
	if w.CreatedAt > 0 {
		ev.PublishedAt = time.Unix(w.CreatedAt, 0).UTC()
	}
	for _, t := range w.Tags {
		ev.Tags = append(ev.Tags, event.Tag(t))
	}
	if w.Content != "" {
		var data map[string]any
		if err := json.Unmarshal([]byte(w.Content), &data); err == nil {
			ev.Data = data
		}
	}
	return ev
}
