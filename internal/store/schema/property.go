package schema

import (
	"time"

	"github.com/shopspring/decimal"
)

// Property represents the properties table - reference data for tokenized
// real-estate assets. Written by the issuance flow, read-only for the
// indexer and analytics.
type Property struct {
	// ID is the asset identifier shared with the ledger events
	ID string `gorm:"column:id;primaryKey;type:text"`
	// Title is the display name of the property
	Title string `gorm:"column:title;not null;type:text"`
	// Location is the city/region label used for diversification grouping
	Location string `gorm:"column:location;type:text"`
	// PropertyType is the category label (residential, commercial, ...)
	PropertyType string `gorm:"column:property_type;type:text"`
	// TotalValue is the appraised value of the whole property
	TotalValue decimal.Decimal `gorm:"column:total_value;type:numeric(20,4)"`
	// CurrentTokenPrice is the latest per-token valuation
	CurrentTokenPrice decimal.Decimal `gorm:"column:current_token_price;type:numeric(20,4)"`
	// CreatedAt is the timestamp when this record was created
	CreatedAt time.Time `gorm:"column:created_at;not null;default:now();type:timestamptz"`
	// UpdatedAt is the timestamp when this record was last updated
	UpdatedAt time.Time `gorm:"column:updated_at;not null;default:now();type:timestamptz"`
}

// TableName specifies the table name for the Property model
func (Property) TableName() string {
	return "properties"
}
