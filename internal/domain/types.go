package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// EventKind represents the type of ledger event
type EventKind string

const (
	EventKindMint     EventKind = "mint"
	EventKindTransfer EventKind = "transfer"
	EventKindDividend EventKind = "dividend"
	EventKindFee      EventKind = "fee"
	EventKindBurn     EventKind = "burn"
)

// IsValidEventKind checks if a kind is one of the supported ledger event kinds
func IsValidEventKind(kind EventKind) bool {
	switch kind {
	case EventKindMint, EventKindTransfer, EventKindDividend, EventKindFee, EventKindBurn:
		return true
	}
	return false
}

// RawRecord represents a raw ledger record as received from a ledger source.
// Fields are loosely typed; the normalizer is the only component that reads them.
type RawRecord struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	AssetID     string          `json:"asset_id"`
	FromAddress *string         `json:"from_address,omitempty"`
	ToAddress   *string         `json:"to_address,omitempty"`
	TokenAmount string          `json:"token_amount,omitempty"`
	CashAmount  string          `json:"cash_amount,omitempty"`
	TxHash      string          `json:"tx_hash,omitempty"`
	Sequence    *uint64         `json:"sequence,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// Event represents a normalized ledger event. Events are immutable facts:
// once accepted they are never mutated or deleted, and reprocessing the same
// ID is a no-op.
type Event struct {
	// ID is the deduplication key assigned by the ledger source
	ID string `json:"id"`
	// Kind identifies the type of ledger event
	Kind EventKind `json:"kind"`
	// AssetID identifies the tokenized asset this event belongs to
	AssetID string `json:"asset_id"`
	// From is the sending wallet address (nil for mint and primary sales)
	From *string `json:"from,omitempty"`
	// To is the receiving wallet address (nil for burn)
	To *string `json:"to,omitempty"`
	// TokenAmount is the number of asset units moved (0 for dividend/fee)
	TokenAmount int64 `json:"token_amount"`
	// CashAmount is the cash leg of the event (sale proceeds, dividend, fee)
	CashAmount decimal.Decimal `json:"cash_amount"`
	// OccurredAt is the ledger-reported time of the event
	OccurredAt time.Time `json:"occurred_at"`
	// ObservedAt is the local ingestion time
	ObservedAt time.Time `json:"observed_at"`
	// Sequence is the per-asset monotonic counter from the ledger source (nil when absent)
	Sequence *uint64 `json:"sequence,omitempty"`
	// Raw carries the original record payload for the audit trail
	Raw json.RawMessage `json:"-"`
}

// SequenceOrZero returns the event sequence, or 0 when the source supplied none
func (e *Event) SequenceOrZero() uint64 {
	if e.Sequence == nil {
		return 0
	}
	return *e.Sequence
}

// IsDisposal reports whether the event removes tokens from the given wallet
func (e *Event) IsDisposal(wallet string) bool {
	if e.Kind != EventKindTransfer && e.Kind != EventKindBurn {
		return false
	}
	return e.From != nil && *e.From == wallet
}

// IsAcquisition reports whether the event adds tokens to the given wallet
func (e *Event) IsAcquisition(wallet string) bool {
	if e.Kind != EventKindTransfer && e.Kind != EventKindMint {
		return false
	}
	return e.To != nil && *e.To == wallet
}

// UnitPrice returns the per-token cash amount of the event, zero when the
// event has no cash leg or moves no tokens
func (e *Event) UnitPrice() decimal.Decimal {
	if e.TokenAmount <= 0 || e.CashAmount.IsZero() {
		return decimal.Zero
	}
	return e.CashAmount.Div(decimal.NewFromInt(e.TokenAmount))
}

// AssetState represents the projected state of one tokenized asset.
// It is exclusively owned by the projector; all reads go through snapshots.
//
// Invariant: AvailableSupply + sum(HolderBalances) == TotalSupply, with
// AvailableSupply >= 0 and no zero or negative holder balances.
type AssetState struct {
	AssetID             string           `json:"asset_id"`
	TotalSupply         int64            `json:"total_supply"`
	AvailableSupply     int64            `json:"available_supply"`
	HolderBalances      map[string]int64 `json:"holder_balances"`
	TransactionCount    uint64           `json:"transaction_count"`
	LastAppliedSequence uint64           `json:"last_applied_sequence"`
	LastUpdated         time.Time        `json:"last_updated"`
	// Degraded is set when ordering could not be guaranteed (buffer overflow
	// or timeout waiting for a missing predecessor)
	Degraded bool `json:"degraded"`
	// RejectedCount tallies events rejected with InsufficientBalance
	RejectedCount uint64 `json:"rejected_count"`
}

// FundingPercent returns the percentage of total supply sold to holders.
// This is the single source of the funding-progress formula; every consumer
// (API, exports) calls it instead of recomputing.
func (s *AssetState) FundingPercent() float64 {
	if s.TotalSupply == 0 {
		return 0
	}
	return float64(s.TotalSupply-s.AvailableSupply) / float64(s.TotalSupply) * 100
}

// HolderCount returns the number of wallets holding a positive balance
func (s *AssetState) HolderCount() int {
	return len(s.HolderBalances)
}

// CheckInvariant verifies the supply conservation invariant
func (s *AssetState) CheckInvariant() bool {
	if s.AvailableSupply < 0 {
		return false
	}
	sum := s.AvailableSupply
	for _, balance := range s.HolderBalances {
		if balance <= 0 {
			return false
		}
		sum += balance
	}
	return sum == s.TotalSupply
}

// Clone returns a deep copy of the state for snapshot reads
func (s *AssetState) Clone() AssetState {
	clone := *s
	clone.HolderBalances = make(map[string]int64, len(s.HolderBalances))
	for wallet, balance := range s.HolderBalances {
		clone.HolderBalances[wallet] = balance
	}
	return clone
}

// OwnershipEntry represents one row of the ownership index
type OwnershipEntry struct {
	Wallet      string `json:"wallet"`
	TokensOwned int64  `json:"tokens_owned"`
}

// Property represents the external reference data for a tokenized asset
type Property struct {
	ID                string          `json:"id"`
	Title             string          `json:"title"`
	Location          string          `json:"location"`
	PropertyType      string          `json:"property_type"`
	TotalValue        decimal.Decimal `json:"total_value"`
	CurrentTokenPrice decimal.Decimal `json:"current_token_price"`
}

// Holding represents one investment position in a wallet's portfolio.
// Holdings are derived on read and never persisted; a holding exists only
// while the projected balance for the wallet is positive.
type Holding struct {
	AssetID            string          `json:"asset_id"`
	WalletAddress      string          `json:"wallet_address"`
	PropertyTitle      string          `json:"property_title,omitempty"`
	PropertyType       string          `json:"property_type,omitempty"`
	Location           string          `json:"location,omitempty"`
	TokensOwned        int64           `json:"tokens_owned"`
	CostBasis          decimal.Decimal `json:"cost_basis"`
	CurrentValue       decimal.Decimal `json:"current_value"`
	UnrealizedGainLoss decimal.Decimal `json:"unrealized_gain_loss"`
	LastDividendAmount decimal.Decimal `json:"last_dividend_amount"`
	// Degraded is set when reference data for the asset was missing; the
	// holding is still returned with CurrentValue = CostBasis
	Degraded bool `json:"degraded"`
}

// TaxLot represents one acquisition batch for FIFO gain/loss accounting.
// Lots are rebuilt deterministically from the event history, never persisted.
type TaxLot struct {
	AssetID         string          `json:"asset_id"`
	Wallet          string          `json:"wallet"`
	TokensRemaining int64           `json:"tokens_remaining"`
	UnitCostBasis   decimal.Decimal `json:"unit_cost_basis"`
	AcquiredAt      time.Time       `json:"acquired_at"`
}

// GainTerm classifies a realized gain by holding period
type GainTerm string

const (
	GainTermShort GainTerm = "short_term"
	GainTermLong  GainTerm = "long_term"
)

// TaxTransaction represents one disposal or dividend event annotated for a tax report
type TaxTransaction struct {
	EventID          string          `json:"event_id"`
	AssetID          string          `json:"asset_id"`
	Kind             EventKind       `json:"kind"`
	OccurredAt       time.Time       `json:"occurred_at"`
	TokenAmount      int64           `json:"token_amount,omitempty"`
	CashAmount       decimal.Decimal `json:"cash_amount"`
	RealizedGainLoss decimal.Decimal `json:"realized_gain_loss"`
	ShortTermPortion decimal.Decimal `json:"short_term_portion"`
	LongTermPortion  decimal.Decimal `json:"long_term_portion"`
}

// TaxReport represents the yearly tax summary for one wallet
type TaxReport struct {
	Wallet         string           `json:"wallet"`
	Year           int              `json:"year"`
	TotalDividends decimal.Decimal  `json:"total_dividends"`
	ShortTermGains decimal.Decimal  `json:"short_term_gains"`
	LongTermGains  decimal.Decimal  `json:"long_term_gains"`
	TotalFees      decimal.Decimal  `json:"total_fees"`
	Transactions   []TaxTransaction `json:"transactions"`
}

// PerformancePoint represents one checkpoint of the portfolio value time series
type PerformancePoint struct {
	Date            time.Time       `json:"date"`
	TotalValue      decimal.Decimal `json:"total_value"`
	TotalInvested   decimal.Decimal `json:"total_invested"`
	GainLossPercent decimal.Decimal `json:"gain_loss_percent"`
}

// DiversificationDimension identifies a grouping axis for concentration scoring
type DiversificationDimension string

const (
	DimensionPropertyType DiversificationDimension = "property_type"
	DimensionLocation     DiversificationDimension = "location"
	DimensionSizeRange    DiversificationDimension = "size_range"
)

// DiversificationBucket represents one group of holdings along a dimension
type DiversificationBucket struct {
	Dimension  DiversificationDimension `json:"dimension"`
	Label      string                   `json:"label"`
	Value      decimal.Decimal          `json:"value"`
	Count      int                      `json:"count"`
	Percentage float64                  `json:"percentage"`
}

// DiversificationReport represents the full concentration analysis for a wallet
type DiversificationReport struct {
	Wallet          string                  `json:"wallet"`
	Buckets         []DiversificationBucket `json:"buckets"`
	ByTypeScore     float64                 `json:"by_type_score"`
	ByLocationScore float64                 `json:"by_location_score"`
	OverallScore    int                     `json:"overall_score"`
	// Degraded is set when any underlying holding was degraded
	Degraded bool `json:"degraded"`
}
