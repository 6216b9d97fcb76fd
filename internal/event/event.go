package event

import "time"

// Event kind codes. Listings use an addressable kind; stage requests and
// results occupy two parallel ranges offset by stage, and feedback shares a
// single kind across stages.
const (
	KindListing  = 30402
	KindFeedback = 7000

	requestKindBase = 5800
	resultKindBase  = 6800
)

// Stage is one step of the negotiation sequence, in protocol order.
type Stage int

const (
	StageOrder Stage = iota
	StageAccept
	StageConveyance
	StageInvoice
	StagePayment
	StageFulfillment
	StageReceipt
	StageCancel
	StageRefund
)

// Stages lists all stages in protocol order.
var Stages = []Stage{
	StageOrder,
	StageAccept,
	StageConveyance,
	StageInvoice,
	StagePayment,
	StageFulfillment,
	StageReceipt,
	StageCancel,
	StageRefund,
}

var stageNames = map[Stage]string{
	StageOrder:       "Order",
	StageAccept:      "Accept",
	StageConveyance:  "Conveyance",
	StageInvoice:     "Invoice",
	StagePayment:     "Payment",
	StageFulfillment: "Fulfillment",
	StageReceipt:     "Receipt",
	StageCancel:      "Cancel",
	StageRefund:      "Refund",
}

func (s Stage) String() string {
	if name, ok := stageNames[s]; ok {
		return name
	}
	return "Unknown"
}

// RequestKind returns the event kind that initiates the given stage.
func RequestKind(s Stage) int {
	return requestKindBase + int(s)
}

// ResultKind returns the event kind that concludes the given stage.
func ResultKind(s Stage) int {
	return resultKindBase + int(s)
}

// IsRequestKind reports whether kind falls in the stage-request range.
func IsRequestKind(kind int) bool {
	return kind >= requestKindBase && kind < requestKindBase+len(Stages)
}

// IsResultKind reports whether kind falls in the stage-result range.
func IsResultKind(kind int) bool {
	return kind >= resultKindBase && kind < resultKindBase+len(Stages)
}

// StageOfKind maps a request or result kind back to its stage.
// Feedback events carry their stage in a tag instead (see StageOf).
func StageOfKind(kind int) (Stage, bool) {
	switch {
	case IsRequestKind(kind):
		return Stage(kind - requestKindBase), true
	case IsResultKind(kind):
		return Stage(kind - resultKindBase), true
	default:
		return 0, false
	}
}

// DefaultKinds returns the full subscription filter: listing, every stage
// request and result kind, and feedback.
func DefaultKinds() []int {
	kinds := make([]int, 0, 2*len(Stages)+2)
	kinds = append(kinds, KindListing)
	for _, s := range Stages {
		kinds = append(kinds, RequestKind(s))
	}
	for _, s := range Stages {
		kinds = append(kinds, ResultKind(s))
	}
	kinds = append(kinds, KindFeedback)
	return kinds
}

// Tag names used by the engine. TagRef carries the referenced parent event
// id; TagInput carries marker-qualified input references; TagStage names the
// stage on feedback events.
const (
	TagRef   = "e"
	TagInput = "i"
	TagStage = "stage"

	MarkerListing = "listing"
)

// Tag is an ordered list of strings; the first element is the tag name.
type Tag []string

// Name returns the tag name, or "" for an empty tag.
func (t Tag) Name() string {
	if len(t) == 0 {
		return ""
	}
	return t[0]
}

// Value returns the tag's first value, or "" if absent.
func (t Tag) Value() string {
	if len(t) < 2 {
		return ""
	}
	return t[1]
}

// Event is a signed domain event as observed from the network or from a
// locally published optimistic copy. Immutable once observed. PublishedAt is
// the zero time on optimistic copies that have not been stamped yet. Data is
// the decoded payload, opaque to the engine.
type Event struct {
	ID          string
	Kind        int
	Author      string
	PublishedAt time.Time
	Tags        []Tag
	Data        map[string]any
}

// Ref returns the referenced parent event id: the value of the first
// reference tag, or "" when the event references nothing.
func (e *Event) Ref() string {
	for _, t := range e.Tags {
		if t.Name() == TagRef {
			return t.Value()
		}
	}
	return ""
}

// Marker returns the value of the first input tag whose trailing marker
// element matches the given marker, or "" if none does.
func (e *Event) Marker(marker string) string {
	for _, t := range e.Tags {
		if t.Name() == TagInput && len(t) >= 3 && t[len(t)-1] == marker {
			return t.Value()
		}
	}
	return ""
}

// StageOf resolves the stage bucket an event belongs to. Request and result
// kinds map by kind; feedback events name their stage in a stage tag and
// default to the Order stage when the tag is absent.
func StageOf(e *Event) (Stage, bool) {
	if s, ok := StageOfKind(e.Kind); ok {
		return s, true
	}
	if e.Kind == KindFeedback {
		for _, t := range e.Tags {
			if t.Name() == TagStage {
				for s, name := range stageNames {
					if name == t.Value() {
						return s, true
					}
				}
			}
		}
		return StageOrder, true
	}
	return 0, false
}
