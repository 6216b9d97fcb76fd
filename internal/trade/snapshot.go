package trade

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/tradeflow/internal/event"
)

// Snapshot returns a plain-data view of the whole engine state, suitable for
// canonical serialization. Stage buckets become stage-name keys mapping to
// event id lists in arrival order, so two engines that ingested the same
// events in any order produce byte-identical snapshots.
func (s *FlowService) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	listings := make(map[string]any, len(s.listings))
	for id, l := range s.listings {
		listings[id] = snapshotListing(l)
	}

	orphans := 0
	for _, b := range s.orphans {
		orphans += b.len()
	}

	return map[string]any{
		"listings":    listings,
		"orphan_refs": orphans,
		"threads":     len(s.threads),
	}
}

func snapshotListing(l *listingState) map[string]any {
	orders := make(map[string]any, len(l.orders))
	for id, o := range l.orders {
		orders[id] = snapshotOrder(o)
	}
	pending := make(map[string]any, len(l.pending))
	for id, o := range l.pending {
		pending[id] = snapshotOrder(o)
	}
	out := map[string]any{
		"orders":  orders,
		"pending": pending,
	}
	if l.listing != nil {
		out["listing_event_id"] = l.listing.ID
	}
	return out
}

func snapshotOrder(o *orderState) map[string]any {
	return map[string]any{
		"order_id":   o.orderID,
		"listing_id": o.listingID,
		"loading":    o.loading,
		"requests":   snapshotIDs(o.requests),
		"results":    snapshotIDs(o.results),
		"feedback":   snapshotIDs(o.feedback),
	}
}

func snapshotIDs(buckets map[event.Stage]*ring) map[string]any {
	out := make(map[string]any, len(buckets))
	for stage, b := range buckets {
		if b.len() == 0 {
			continue
		}
		ids := make([]any, 0, b.len())
		for _, ev := range b.events() {
			ids = append(ids, ev.ID)
		}
		out[stage.String()] = ids
	}
	return out
}

// MarshalCanonical serializes a snapshot value deterministically: object
// keys sorted, strings NFC normalized, no HTML escaping, no floats or nulls.
// Two equal snapshots always serialize to identical bytes.
func MarshalCanonical(v any) ([]byte, error) {
	switch val := v.(type) {
	case string:
		return canonicalString(val)
	case int:
		return []byte(fmt.Sprintf("%d", val)), nil
	case int64:
		return []byte(fmt.Sprintf("%d", val)), nil
	case bool:
		if val {
			return []byte("true"), nil
		}
		return []byte("false"), nil
	case []any:
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			b, err := MarshalCanonical(elem)
			if err != nil {
				return nil, fmt.Errorf("array[%d]: %w", i, err)
			}
			buf.Write(b)
		}
		buf.WriteByte(']')
		return buf.Bytes(), nil
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var buf bytes.Buffer
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := canonicalString(k)
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", k, err)
			}
			buf.Write(kb)
			buf.WriteByte(':')
			vb, err := MarshalCanonical(val[k])
			if err != nil {
				return nil, fmt.Errorf("value for key %q: %w", k, err)
			}
			buf.Write(vb)
		}
		buf.WriteByte('}')
		return buf.Bytes(), nil
	case nil:
		return nil, fmt.Errorf("null is forbidden in canonical snapshots")
	default:
		return nil, fmt.Errorf("unsupported type for canonical snapshot: %T", v)
	}
}

// canonicalString encodes one JSON string with NFC normalization and HTML
// escaping disabled.
func canonicalString(s string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(norm.NFC.String(s)); err != nil {
		return nil, err
	}
	out := buf.Bytes()
	if n := len(out); n > 0 && out[n-1] == '\n' {
		out = out[:n-1]
	}
	return out, nil
}
