package portfolio

import (
	"context"
	"errors"
	"sort"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/brickfolio/estate-indexer/internal/adapter"
	"github.com/brickfolio/estate-indexer/internal/domain"
	"github.com/brickfolio/estate-indexer/internal/history"
	"github.com/brickfolio/estate-indexer/internal/logger"
	"github.com/brickfolio/estate-indexer/internal/projector"
)

// ReferenceStore provides property reference data for the analytics joins
type ReferenceStore interface {
	// GetProperty retrieves reference data for one asset; returns
	// domain.ErrNotFound (or nil property) when unknown
	GetProperty(ctx context.Context, id string) (*domain.Property, error)
}

// HoldingsBuilder derives a wallet's investment positions by joining the
// projector's holder ledger with property reference data and FIFO cost basis
// from the event history. Holdings are recomputed on every read.
type HoldingsBuilder struct {
	projector *projector.Projector
	history   *history.History
	store     ReferenceStore
	policy    LotPolicy
	clock     adapter.Clock
}

// NewHoldingsBuilder creates a new holdings builder
func NewHoldingsBuilder(
	proj *projector.Projector,
	hist *history.History,
	store ReferenceStore,
	policy LotPolicy,
	clock adapter.Clock,
) *HoldingsBuilder {
	return &HoldingsBuilder{
		projector: proj,
		history:   hist,
		store:     store,
		policy:    policy.withDefaults(),
		clock:     clock,
	}
}

// Holdings returns the wallet's current positions, one per asset with a
// positive projected balance, sorted by asset id for deterministic output.
// Missing reference data degrades the affected holding instead of failing
// the whole portfolio.
func (b *HoldingsBuilder) Holdings(ctx context.Context, wallet string) ([]domain.Holding, error) {
	balances := b.projector.HoldingsOf(wallet)
	holdings := make([]domain.Holding, 0, len(balances))
	if len(balances) == 0 {
		return holdings, nil
	}

	events := b.history.EventsForWallet(wallet, b.clock.Now().UTC())
	book := newLotBook(wallet, b.policy)
	book.replay(events)

	assetIDs := make([]string, 0, len(balances))
	for assetID := range balances {
		assetIDs = append(assetIDs, assetID)
	}
	sort.Strings(assetIDs)

	for _, assetID := range assetIDs {
		tokensOwned := balances[assetID]
		costBasis := book.costBasis(assetID)

		holding := domain.Holding{
			AssetID:            assetID,
			WalletAddress:      wallet,
			TokensOwned:        tokensOwned,
			CostBasis:          costBasis,
			LastDividendAmount: lastDividend(events, assetID, wallet),
		}

		property, err := b.store.GetProperty(ctx, assetID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			logger.Warn("Reference data lookup failed, degrading holding",
				zap.String("asset_id", assetID),
				zap.String("wallet", wallet),
				zap.Error(err),
			)
		}
		if property == nil {
			holding.CurrentValue = costBasis
			holding.UnrealizedGainLoss = decimal.Zero
			holding.Degraded = true
		} else {
			holding.PropertyTitle = property.Title
			holding.PropertyType = property.PropertyType
			holding.Location = property.Location
			holding.CurrentValue = property.CurrentTokenPrice.Mul(decimal.NewFromInt(tokensOwned))
			holding.UnrealizedGainLoss = holding.CurrentValue.Sub(costBasis)
		}

		holdings = append(holdings, holding)
	}

	return holdings, nil
}

// lastDividend returns the cash amount of the most recent dividend paid to
// the wallet for one asset. Events are ascending, so scan from the tail.
func lastDividend(events []domain.Event, assetID string, wallet string) decimal.Decimal {
	for i := len(events) - 1; i >= 0; i-- {
		event := &events[i]
		if event.Kind == domain.EventKindDividend &&
			event.AssetID == assetID &&
			event.To != nil && *event.To == wallet {
			return event.CashAmount
		}
	}
	return decimal.Zero
}
