package trade

import "errors"

// Error taxonomy. Every failure a stage method can produce is one of these
// sentinels, possibly wrapped; callers branch with errors.Is. Nothing in this
// package panics past its boundary.
var (
	// ErrFailedToPublish means the network client could not produce or
	// submit the request event.
	ErrFailedToPublish = errors.New("failed to publish request")

	// ErrTimeout means no correlated result arrived within the deadline.
	ErrTimeout = errors.New("timed out waiting for result")

	// ErrMissingPrerequisite means the required prior result is absent;
	// no publish was attempted.
	ErrMissingPrerequisite = errors.New("missing prerequisite result")

	// ErrMissingPayload means a stage dispatch was invoked without its
	// options.
	ErrMissingPayload = errors.New("missing stage payload")

	// ErrNotImplemented marks the stages that are defined but
	// intentionally unsupported.
	ErrNotImplemented = errors.New("stage not implemented")

	// ErrServiceDestroyed means the engine was torn down while a wait was
	// outstanding.
	ErrServiceDestroyed = errors.New("service destroyed")
)
