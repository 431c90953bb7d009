package dto

import (
	"github.com/shopspring/decimal"

	"github.com/brickfolio/estate-indexer/internal/domain"
)

// AssetStateResponse is the derived state of one asset plus computed fields
type AssetStateResponse struct {
	domain.AssetState
	FundingPercent float64 `json:"funding_percent"`
	HolderCount    int     `json:"holder_count"`
}

// OwnershipEntry is one row of the ownership index with its stake percentage
type OwnershipEntry struct {
	Wallet           string  `json:"wallet"`
	TokensOwned      int64   `json:"tokens_owned"`
	OwnershipPercent float64 `json:"ownership_percent"`
}

// OwnershipResponse is the full ownership index of one asset
type OwnershipResponse struct {
	AssetID        string           `json:"asset_id"`
	TotalSupply    int64            `json:"total_supply"`
	FundingPercent float64          `json:"funding_percent"`
	Entries        []OwnershipEntry `json:"entries"`
}

// EventsResponse is one page of the event audit trail
type EventsResponse struct {
	Events []domain.Event `json:"events"`
	// Cursor is the opaque anchor of the last entry; empty when the page
	// exhausted the result set
	Cursor string `json:"cursor,omitempty"`
}

// HoldingsResponse is the holdings view of one wallet
type HoldingsResponse struct {
	Wallet        string           `json:"wallet"`
	Holdings      []domain.Holding `json:"holdings"`
	TotalValue    decimal.Decimal  `json:"total_value"`
	TotalCost     decimal.Decimal  `json:"total_cost"`
	TotalGainLoss decimal.Decimal  `json:"total_gain_loss"`
}

// PerformanceResponse is the value-over-time series of one wallet
type PerformanceResponse struct {
	Wallet string                    `json:"wallet"`
	Range  string                    `json:"range"`
	Points []domain.PerformancePoint `json:"points"`
	// Partial is set when the computation deadline cut the series short
	Partial bool `json:"partial,omitempty"`
}

// SavePropertyRequest is the payload for upserting property reference data
type SavePropertyRequest struct {
	ID                string          `json:"id" binding:"required"`
	Title             string          `json:"title" binding:"required"`
	Location          string          `json:"location"`
	PropertyType      string          `json:"property_type"`
	TotalValue        decimal.Decimal `json:"total_value"`
	CurrentTokenPrice decimal.Decimal `json:"current_token_price"`
}

// HealthResponse reports service liveness and projection counters
type HealthResponse struct {
	Status string `json:"status"`
	Assets int    `json:"assets"`
	Events int    `json:"events"`
}
