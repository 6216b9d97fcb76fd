package event

// Draft is an unsigned event under construction. Signing and submission are
// the network client's job; the engine only assembles kind, tags, and payload.
type Draft struct {
	Kind int
	Tags []Tag
	Data map[string]any
}

// OrderRequestDraft builds the distinguished entry-stage request. The listing
// is referenced both as the parent and as a marker-qualified input so the
// thread can be resolved even when the reference tag is stripped in transit.
func OrderRequestDraft(listingID string, payload map[string]any) *Draft {
	return &Draft{
		Kind: RequestKind(StageOrder),
		Tags: []Tag{
			{TagRef, listingID},
			{TagInput, listingID, "event", MarkerListing},
		},
		Data: map[string]any{
			"event":   map[string]any{"id": listingID},
			"payload": payload,
		},
	}
}

// AcceptRequestDraft builds an Accept request referencing the confirmed order.
func AcceptRequestDraft(listingID, orderID string) *Draft {
	return &Draft{
		Kind: RequestKind(StageAccept),
		Tags: []Tag{{TagRef, orderID}},
		Data: map[string]any{
			"order_result_event_id": orderID,
			"listing_event_id":      listingID,
		},
	}
}

// ConveyanceRequestDraft builds a Conveyance request on top of the latest
// Accept result.
func ConveyanceRequestDraft(acceptResultID, method string) *Draft {
	return &Draft{
		Kind: RequestKind(StageConveyance),
		Tags: []Tag{{TagRef, acceptResultID}},
		Data: map[string]any{
			"accept_result_event_id": acceptResultID,
			"method":                 method,
		},
	}
}

// InvoiceRequestDraft builds an Invoice request on top of the latest Accept
// result.
func InvoiceRequestDraft(acceptResultID string) *Draft {
	return &Draft{
		Kind: RequestKind(StageInvoice),
		Tags: []Tag{{TagRef, acceptResultID}},
		Data: map[string]any{
			"accept_result_event_id": acceptResultID,
		},
	}
}

// PaymentRequestDraft builds a Payment request carrying proof against the
// latest Invoice result.
func PaymentRequestDraft(invoiceResultID, proof string) *Draft {
	return &Draft{
		Kind: RequestKind(StagePayment),
		Tags: []Tag{{TagRef, invoiceResultID}},
		Data: map[string]any{
			"invoice_result_event_id": invoiceResultID,
			"proof":                   proof,
		},
	}
}

// FulfillmentRequestDraft builds a Fulfillment request on top of the latest
// Payment result.
func FulfillmentRequestDraft(paymentResultID string) *Draft {
	return &Draft{
		Kind: RequestKind(StageFulfillment),
		Tags: []Tag{{TagRef, paymentResultID}},
		Data: map[string]any{
			"payment_result_event_id": paymentResultID,
		},
	}
}

// ReceiptRequestDraft builds a Receipt request on top of the latest
// Fulfillment result. The note is optional.
func ReceiptRequestDraft(fulfillmentResultID, note string) *Draft {
	data := map[string]any{
		"fulfillment_result_event_id": fulfillmentResultID,
	}
	if note != "" {
		data["note"] = note
	}
	return &Draft{
		Kind: RequestKind(StageReceipt),
		Tags: []Tag{{TagRef, fulfillmentResultID}},
		Data: data,
	}
}
