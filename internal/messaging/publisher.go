package messaging

import (
	"context"

	"github.com/brickfolio/estate-indexer/internal/domain"
)

// Publisher defines the interface for publishing raw ledger records to the
// message queue. Used by the ledger-facing edge services; the indexer core
// only consumes.
type Publisher interface {
	// PublishRecord publishes a raw ledger record to the message broker
	PublishRecord(ctx context.Context, record *domain.RawRecord) error
	// Close closes the connection
	Close()
	// CloseChan returns a channel that is closed when the publisher is closed
	CloseChan() <-chan struct{}
}
