package portfolio

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/brickfolio/estate-indexer/internal/domain"
)

// LotPolicy holds the jurisdiction-dependent tax lot parameters
type LotPolicy struct {
	// LongTermThreshold is the holding period above which a realized gain is
	// classified long-term. Configurable per jurisdiction.
	LongTermThreshold time.Duration
}

// DefaultLotPolicy returns the default (US-style) lot policy
func DefaultLotPolicy() LotPolicy {
	return LotPolicy{LongTermThreshold: 365 * 24 * time.Hour}
}

func (p LotPolicy) withDefaults() LotPolicy {
	if p.LongTermThreshold <= 0 {
		p.LongTermThreshold = DefaultLotPolicy().LongTermThreshold
	}
	return p
}

// lotBook tracks open FIFO lots per asset for one wallet
type lotBook struct {
	policy LotPolicy
	wallet string
	open   map[string][]domain.TaxLot
}

func newLotBook(wallet string, policy LotPolicy) *lotBook {
	return &lotBook{
		policy: policy.withDefaults(),
		wallet: wallet,
		open:   make(map[string][]domain.TaxLot),
	}
}

// disposalResult is the realized outcome of matching one disposal event
// against the wallet's open lots
type disposalResult struct {
	realized     decimal.Decimal
	shortPortion decimal.Decimal
	longPortion  decimal.Decimal
}

// acquire opens a new lot from an acquisition event
func (b *lotBook) acquire(event *domain.Event) {
	b.open[event.AssetID] = append(b.open[event.AssetID], domain.TaxLot{
		AssetID:         event.AssetID,
		Wallet:          b.wallet,
		TokensRemaining: event.TokenAmount,
		UnitCostBasis:   event.UnitPrice(),
		AcquiredAt:      event.OccurredAt,
	})
}

// dispose consumes open lots oldest-first to cover the disposal amount.
// A partially consumed lot keeps its acquiredAt and unitCostBasis for the
// remainder. Tokens beyond the open lots (possible after degraded ordering)
// are treated as a zero-cost, short-term basis.
func (b *lotBook) dispose(event *domain.Event) disposalResult {
	result := disposalResult{
		realized:     decimal.Zero,
		shortPortion: decimal.Zero,
		longPortion:  decimal.Zero,
	}
	unitPrice := event.UnitPrice()
	remaining := event.TokenAmount
	lots := b.open[event.AssetID]

	for remaining > 0 && len(lots) > 0 {
		lot := &lots[0]
		consumed := lot.TokensRemaining
		if consumed > remaining {
			consumed = remaining
		}

		gain := unitPrice.Sub(lot.UnitCostBasis).Mul(decimal.NewFromInt(consumed))
		result.realized = result.realized.Add(gain)
		if event.OccurredAt.Sub(lot.AcquiredAt) > b.policy.LongTermThreshold {
			result.longPortion = result.longPortion.Add(gain)
		} else {
			result.shortPortion = result.shortPortion.Add(gain)
		}

		lot.TokensRemaining -= consumed
		remaining -= consumed
		if lot.TokensRemaining == 0 {
			lots = lots[1:]
		}
	}

	if remaining > 0 {
		gain := unitPrice.Mul(decimal.NewFromInt(remaining))
		result.realized = result.realized.Add(gain)
		result.shortPortion = result.shortPortion.Add(gain)
	}

	b.open[event.AssetID] = lots
	return result
}

// replay feeds the wallet's events (ascending by occurredAt) through the
// book, returning the per-event disposal results keyed by event ID
func (b *lotBook) replay(events []domain.Event) map[string]disposalResult {
	disposals := make(map[string]disposalResult)
	for i := range events {
		event := &events[i]
		switch {
		case event.IsAcquisition(b.wallet):
			b.acquire(event)
		case event.IsDisposal(b.wallet):
			disposals[event.ID] = b.dispose(event)
		}
	}
	return disposals
}

// openLots returns the remaining open lots for one asset
func (b *lotBook) openLots(assetID string) []domain.TaxLot {
	return b.open[assetID]
}

// costBasis returns the summed cost basis of the open lots for one asset
func (b *lotBook) costBasis(assetID string) decimal.Decimal {
	total := decimal.Zero
	for _, lot := range b.open[assetID] {
		total = total.Add(lot.UnitCostBasis.Mul(decimal.NewFromInt(lot.TokensRemaining)))
	}
	return total
}
