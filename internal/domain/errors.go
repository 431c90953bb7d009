package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedEvent is returned when a raw record is missing required fields
	ErrMalformedEvent = errors.New("malformed event")

	// ErrUnsupportedEventKind is returned when a raw record has an unknown kind
	ErrUnsupportedEventKind = errors.New("unsupported event kind")

	// ErrInsufficientBalance is returned when a transfer or burn would drive a
	// balance or the available supply negative
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrInvariantViolation is returned when the supply conservation invariant
	// is broken; the asset's projection is frozen until re-derivation succeeds
	ErrInvariantViolation = errors.New("invariant violation")

	// ErrNotFound is returned when an asset, wallet, or property is unknown
	ErrNotFound = errors.New("not found")

	// ErrTimeout is returned when a bounded-replay query exceeds the caller's
	// deadline; partial results are returned alongside it
	ErrTimeout = errors.New("deadline exceeded")
)

// RejectionError carries context for an event rejected by the projector.
// Rejected events are recorded and surfaced to operators, never silently dropped.
type RejectionError struct {
	EventID string
	AssetID string
	Reason  error
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("event %s rejected for asset %s: %v", e.EventID, e.AssetID, e.Reason)
}

func (e *RejectionError) Unwrap() error {
	return e.Reason
}
