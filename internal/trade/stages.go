package trade

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/tradeflow/internal/event"
)

// StageOutcome is the successful result of one stage transition: the request
// that was published and the correlated result that answered it.
type StageOutcome struct {
	Stage   event.Stage
	Request *event.Event
	Result  *event.Event

	// OrderID is the confirmed order id. Set by the entry stage, where the
	// result's own id becomes the order id; echoed from the input on every
	// later stage.
	OrderID string

	// Bundle is the order's state snapshot taken after the result was
	// ingested.
	Bundle *OrderBundle
}

// OrderOptions parameterizes the entry stage.
type OrderOptions struct {
	ListingID string
	Payload   map[string]any
	Timeout   time.Duration
}

// AcceptOptions parameterizes the Accept stage.
type AcceptOptions struct {
	ListingID string
	OrderID   string
	Timeout   time.Duration
}

// ConveyanceOptions parameterizes the Conveyance stage.
type ConveyanceOptions struct {
	ListingID string
	OrderID   string
	Method    string
	Timeout   time.Duration
}

// InvoiceOptions parameterizes the Invoice stage.
type InvoiceOptions struct {
	ListingID string
	OrderID   string
	Timeout   time.Duration
}

// PaymentOptions parameterizes the Payment stage.
type PaymentOptions struct {
	ListingID string
	OrderID   string
	Proof     string
	Timeout   time.Duration
}

// FulfillmentOptions parameterizes the Fulfillment stage.
type FulfillmentOptions struct {
	ListingID string
	OrderID   string
	Timeout   time.Duration
}

// ReceiptOptions parameterizes the Receipt stage. Note is optional.
type ReceiptOptions struct {
	ListingID string
	OrderID   string
	Note      string
	Timeout   time.Duration
}

// publishRequest signs and submits a stage request through the network
// client, then feeds the optimistic copy back through the ingestion queue so
// the engine's own requests are indexed like everyone else's.
func (s *FlowService) publishRequest(ctx context.Context, draft *event.Draft) (*event.Event, error) {
	s.mu.RLock()
	destroyed := s.destroyed
	s.mu.RUnlock()
	if destroyed {
		return nil, ErrServiceDestroyed
	}
	if s.client == nil {
		return nil, fmt.Errorf("%w: no network client", ErrFailedToPublish)
	}

	ev, err := s.client.Publish(ctx, draft)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFailedToPublish, err)
	}
	if ev == nil || ev.ID == "" {
		return nil, fmt.Errorf("%w: client returned no event", ErrFailedToPublish)
	}

	s.queue.Enqueue(task{ev: ev, epoch: s.epoch.Load()})
	slog.Debug("published request", "id", ev.ID, "kind", ev.Kind)
	return ev, nil
}

// awaitResponse blocks until a result strictly newer than since arrives for
// the request, the deadline passes, the context is cancelled, or the service
// is torn down. The request id stays in the loading set for the duration.
func (s *FlowService) awaitResponse(ctx context.Context, requestID string, since time.Time, timeout time.Duration) (*event.Event, error) {
	if timeout <= 0 {
		timeout = s.defaultTimeout
	}

	s.setLoadingID(requestID, true)
	defer s.setLoadingID(requestID, false)

	w := s.waiters.register(requestID, since)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case out := <-w.ch:
		return out.ev, out.err

	case <-timer.C:
		s.waiters.remove(requestID, w)
		// Resolution may have raced the deadline; a delivered outcome
		// wins over the timeout.
		select {
		case out := <-w.ch:
			return out.ev, out.err
		default:
		}
		s.updateLoadingByRequest(requestID, false)
		return nil, fmt.Errorf("%w: request %s after %s", ErrTimeout, requestID, timeout)

	case <-ctx.Done():
		s.waiters.remove(requestID, w)
		select {
		case out := <-w.ch:
			return out.ev, out.err
		default:
		}
		s.updateLoadingByRequest(requestID, false)
		return nil, ctx.Err()
	}
}

// OrderRequest runs the entry stage: publish an order request against a
// listing and wait for the counterparty's confirmation. The confirmed order
// id is the result event's id.
func (s *FlowService) OrderRequest(ctx context.Context, opts OrderOptions) (*StageOutcome, error) {
	draft := event.OrderRequestDraft(opts.ListingID, opts.Payload)

	req, err := s.publishRequest(ctx, draft)
	if err != nil {
		return nil, err
	}

	res, err := s.awaitResponse(ctx, req.ID, s.now(), opts.Timeout)
	if err != nil {
		return nil, err
	}

	out := &StageOutcome{
		Stage:   event.StageOrder,
		Request: req,
		Result:  res,
		OrderID: res.ID,
	}
	if b, ok := s.GetOrderBundle(opts.ListingID, res.ID); ok {
		out.Bundle = &b
	}
	return out, nil
}

// AcceptRequest runs the Accept stage against a confirmed order.
func (s *FlowService) AcceptRequest(ctx context.Context, opts AcceptOptions) (*StageOutcome, error) {
	return s.runStage(ctx, event.StageAccept, opts.ListingID, opts.OrderID, opts.Timeout,
		func(prereqID string) *event.Draft {
			return event.AcceptRequestDraft(opts.ListingID, prereqID)
		})
}

// ConveyanceRequest runs the Conveyance stage on top of the latest Accept
// result.
func (s *FlowService) ConveyanceRequest(ctx context.Context, opts ConveyanceOptions) (*StageOutcome, error) {
	return s.runStage(ctx, event.StageConveyance, opts.ListingID, opts.OrderID, opts.Timeout,
		func(prereqID string) *event.Draft {
			return event.ConveyanceRequestDraft(prereqID, opts.Method)
		})
}

// InvoiceRequest runs the Invoice stage on top of the latest Accept result.
func (s *FlowService) InvoiceRequest(ctx context.Context, opts InvoiceOptions) (*StageOutcome, error) {
	return s.runStage(ctx, event.StageInvoice, opts.ListingID, opts.OrderID, opts.Timeout,
		func(prereqID string) *event.Draft {
			return event.InvoiceRequestDraft(prereqID)
		})
}

// PaymentRequest runs the Payment stage on top of the latest Invoice result.
func (s *FlowService) PaymentRequest(ctx context.Context, opts PaymentOptions) (*StageOutcome, error) {
	return s.runStage(ctx, event.StagePayment, opts.ListingID, opts.OrderID, opts.Timeout,
		func(prereqID string) *event.Draft {
			return event.PaymentRequestDraft(prereqID, opts.Proof)
		})
}

// FulfillmentRequest runs the Fulfillment stage on top of the latest Payment
// result.
func (s *FlowService) FulfillmentRequest(ctx context.Context, opts FulfillmentOptions) (*StageOutcome, error) {
	return s.runStage(ctx, event.StageFulfillment, opts.ListingID, opts.OrderID, opts.Timeout,
		func(prereqID string) *event.Draft {
			return event.FulfillmentRequestDraft(prereqID)
		})
}

// ReceiptRequest runs the Receipt stage on top of the latest Fulfillment
// result.
func (s *FlowService) ReceiptRequest(ctx context.Context, opts ReceiptOptions) (*StageOutcome, error) {
	return s.runStage(ctx, event.StageReceipt, opts.ListingID, opts.OrderID, opts.Timeout,
		func(prereqID string) *event.Draft {
			return event.ReceiptRequestDraft(prereqID, opts.Note)
		})
}

// runStage is the shared path for every post-entry stage: resolve the
// prerequisite result, publish the request referencing it, await the
// correlated result. The prerequisite check happens before any publish, so a
// gated stage produces no network traffic.
func (s *FlowService) runStage(ctx context.Context, stage event.Stage, listingID, orderID string, timeout time.Duration, build func(prereqID string) *event.Draft) (*StageOutcome, error) {
	prereqID, err := s.resolvePrerequisite(stage, listingID, orderID)
	if err != nil {
		return nil, err
	}

	req, err := s.publishRequest(ctx, build(prereqID))
	if err != nil {
		return nil, err
	}

	res, err := s.awaitResponse(ctx, req.ID, s.now(), timeout)
	if err != nil {
		return nil, err
	}

	out := &StageOutcome{
		Stage:   stage,
		Request: req,
		Result:  res,
		OrderID: orderID,
	}
	if b, ok := s.GetOrderBundle(listingID, orderID); ok {
		out.Bundle = &b
	}
	return out, nil
}

// resolvePrerequisite returns the event id a stage request must reference:
// the confirmed order for Accept (and the unimplemented terminal stages), or
// the newest result of the stage immediately upstream for everything else.
func (s *FlowService) resolvePrerequisite(stage event.Stage, listingID, orderID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o := s.orderStateLocked(listingID, orderID)
	if o == nil {
		return "", fmt.Errorf("%w: no confirmed order %s under listing %s", ErrMissingPrerequisite, orderID, listingID)
	}

	var upstream event.Stage
	switch stage {
	case event.StageAccept, event.StageCancel, event.StageRefund:
		return orderID, nil
	case event.StageConveyance, event.StageInvoice:
		upstream = event.StageAccept
	case event.StagePayment:
		upstream = event.StageInvoice
	case event.StageFulfillment:
		upstream = event.StagePayment
	case event.StageReceipt:
		upstream = event.StageFulfillment
	default:
		return "", fmt.Errorf("%w: stage %s has no prerequisite rule", ErrMissingPrerequisite, stage)
	}

	id := o.lastResultID(upstream)
	if id == "" {
		return "", fmt.Errorf("%w: order %s has no %s result", ErrMissingPrerequisite, orderID, upstream)
	}
	return id, nil
}

// StageInput is the dynamic dispatch form of the stage methods: a stage tag
// plus the matching options. Exactly one options field must be set.
type StageInput struct {
	Stage       event.Stage
	Order       *OrderOptions
	Accept      *AcceptOptions
	Conveyance  *ConveyanceOptions
	Invoice     *InvoiceOptions
	Payment     *PaymentOptions
	Fulfillment *FulfillmentOptions
	Receipt     *ReceiptOptions
}

// Post dispatches one stage transition by tag. Cancel and Refund are defined
// in the protocol but not supported here and always fail with
// ErrNotImplemented.
func (s *FlowService) Post(ctx context.Context, in StageInput) (*StageOutcome, error) {
	switch in.Stage {
	case event.StageOrder:
		if in.Order == nil {
			return nil, fmt.Errorf("%w: %s", ErrMissingPayload, in.Stage)
		}
		return s.OrderRequest(ctx, *in.Order)
	case event.StageAccept:
		if in.Accept == nil {
			return nil, fmt.Errorf("%w: %s", ErrMissingPayload, in.Stage)
		}
		return s.AcceptRequest(ctx, *in.Accept)
	case event.StageConveyance:
		if in.Conveyance == nil {
			return nil, fmt.Errorf("%w: %s", ErrMissingPayload, in.Stage)
		}
		return s.ConveyanceRequest(ctx, *in.Conveyance)
	case event.StageInvoice:
		if in.Invoice == nil {
			return nil, fmt.Errorf("%w: %s", ErrMissingPayload, in.Stage)
		}
		return s.InvoiceRequest(ctx, *in.Invoice)
	case event.StagePayment:
		if in.Payment == nil {
			return nil, fmt.Errorf("%w: %s", ErrMissingPayload, in.Stage)
		}
		return s.PaymentRequest(ctx, *in.Payment)
	case event.StageFulfillment:
		if in.Fulfillment == nil {
			return nil, fmt.Errorf("%w: %s", ErrMissingPayload, in.Stage)
		}
		return s.FulfillmentRequest(ctx, *in.Fulfillment)
	case event.StageReceipt:
		if in.Receipt == nil {
			return nil, fmt.Errorf("%w: %s", ErrMissingPayload, in.Stage)
		}
		return s.ReceiptRequest(ctx, *in.Receipt)
	case event.StageCancel, event.StageRefund:
		return nil, fmt.Errorf("%w: %s", ErrNotImplemented, in.Stage)
	default:
		return nil, fmt.Errorf("%w: unknown stage %d", ErrMissingPayload, int(in.Stage))
	}
}
