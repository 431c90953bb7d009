package store

import (
	"context"

	"github.com/brickfolio/estate-indexer/internal/domain"
)

// Store defines the interface for database operations
type Store interface {
	// GetProperty retrieves property reference data by asset id (nil when unknown)
	GetProperty(ctx context.Context, id string) (*domain.Property, error)
	// ListProperties retrieves all property reference records
	ListProperties(ctx context.Context) ([]domain.Property, error)
	// SaveProperty upserts one property reference record
	SaveProperty(ctx context.Context, property *domain.Property) error
	// InsertLedgerEvent appends one accepted event to the audit trail;
	// reinserting an already-persisted event id is a no-op
	InsertLedgerEvent(ctx context.Context, event *domain.Event) error
	// ListAssetEvents retrieves the full audit trail for one asset, ascending
	// by (occurred_at, sequence)
	ListAssetEvents(ctx context.Context, assetID string) ([]domain.Event, error)
	// ListAllEvents retrieves the complete audit trail, ascending by
	// (occurred_at, sequence). Used for restart replay.
	ListAllEvents(ctx context.Context) ([]domain.Event, error)
	// GetIngestCursor retrieves the last fully-processed stream sequence for a source
	GetIngestCursor(ctx context.Context, source string) (uint64, error)
	// SetIngestCursor stores the last fully-processed stream sequence for a source
	SetIngestCursor(ctx context.Context, source string, sequence uint64) error
}
