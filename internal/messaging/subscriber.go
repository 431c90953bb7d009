package messaging

import (
	"context"

	"github.com/brickfolio/estate-indexer/internal/domain"
)

// RecordHandler is called for each raw ledger record received. The stream
// sequence is the broker's delivery position, used for the resume cursor.
// Returning an error triggers redelivery (at-least-once).
type RecordHandler func(record *domain.RawRecord, streamSequence uint64) error

// Subscriber defines the interface for consuming raw ledger records.
// Delivery is at-least-once with no ordering guarantee beyond "usually
// monotonic per asset"; consumers must not assume more.
type Subscriber interface {
	// SubscribeRecords consumes raw ledger records until ctx is canceled
	SubscribeRecords(ctx context.Context, handler RecordHandler) error
	// Close closes the connection and cleans up resources
	Close()
}
