package schema

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// LedgerEvent represents the ledger_events table - the persisted audit trail
// of accepted events. Append-only; rows are never updated or deleted. This is
// what restart replay and projection re-derivation read from.
type LedgerEvent struct {
	// ID is the internal database primary key
	ID uint64 `gorm:"column:id;primaryKey;autoIncrement"`
	// EventID is the ledger source's deduplication key
	EventID string `gorm:"column:event_id;not null;type:text;uniqueIndex:idx_ledger_events_event_id"`
	// AssetID identifies the tokenized asset
	AssetID string `gorm:"column:asset_id;not null;type:text;index:idx_ledger_events_asset"`
	// Kind is the event kind (mint, transfer, dividend, fee, burn)
	Kind string `gorm:"column:kind;not null;type:text"`
	// FromAddress is the sending wallet (nil for mint and primary sales)
	FromAddress *string `gorm:"column:from_address;type:text;index:idx_ledger_events_from"`
	// ToAddress is the receiving wallet (nil for burn)
	ToAddress *string `gorm:"column:to_address;type:text;index:idx_ledger_events_to"`
	// TokenAmount is the number of asset units moved
	TokenAmount int64 `gorm:"column:token_amount;not null;default:0"`
	// CashAmount is the cash leg of the event
	CashAmount decimal.Decimal `gorm:"column:cash_amount;type:numeric(20,4)"`
	// Sequence is the per-asset counter from the ledger source
	Sequence *uint64 `gorm:"column:sequence;type:bigint"`
	// OccurredAt is the ledger-reported time of the event
	OccurredAt time.Time `gorm:"column:occurred_at;not null;type:timestamptz;index:idx_ledger_events_occurred_at"`
	// ObservedAt is the local ingestion time
	ObservedAt time.Time `gorm:"column:observed_at;not null;type:timestamptz"`
	// Raw contains the original record payload as JSON for offline replay
	Raw datatypes.JSON `gorm:"column:raw;type:jsonb"`
	// CreatedAt is the timestamp when this row was written
	CreatedAt time.Time `gorm:"column:created_at;not null;default:now();type:timestamptz"`
}

// TableName specifies the table name for the LedgerEvent model
func (LedgerEvent) TableName() string {
	return "ledger_events"
}
