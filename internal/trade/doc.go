// Package trade implements the negotiation correlation engine.
//
// The engine consumes a flat stream of trade events (listings, per-stage
// requests and results, feedback) and reconstructs the negotiation state for
// each listing: confirmed orders keyed by their confirming result id, pending
// orders keyed by their originating request id, and bounded per-stage event
// buckets inside each order.
//
// ARCHITECTURE:
//
// Single-Writer Event Loop:
// All index mutation happens on one goroutine driving Run. Every source of
// events (live subscription, manual feed, locally published requests) goes
// through the same FIFO queue, so ingestion of one event runs to completion
// before the next begins and the final state is independent of which source
// raced which.
//
// Correlation:
// Events thread together through reference tags. A thread index maps every
// seen event id to its listing (and order, once confirmed) so a single map
// lookup routes any mid-negotiation event. Events that arrive before the
// event they reference are parked in a bounded orphan buffer and replayed
// through the queue when the parent shows up, which makes ingestion
// order-independent.
//
// Stage transitions:
// Each stage method publishes a request event and blocks until a result
// strictly newer than the moment the wait began arrives, a deadline passes,
// or the engine is torn down. Stages past the entry stage are gated on the newest upstream
// result and fail without publishing when it is absent.
package trade
