package portfolio

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/brickfolio/estate-indexer/internal/domain"
	"github.com/brickfolio/estate-indexer/internal/history"
)

// TaxEngine classifies disposals and dividends into a yearly tax summary
// using FIFO lot matching per (wallet, asset). Lots are rebuilt from the
// event history on every request; nothing is cached between queries.
type TaxEngine struct {
	history *history.History
	policy  LotPolicy
}

// NewTaxEngine creates a new tax engine
func NewTaxEngine(hist *history.History, policy LotPolicy) *TaxEngine {
	return &TaxEngine{
		history: hist,
		policy:  policy.withDefaults(),
	}
}

// Report builds the tax report for one wallet and calendar year.
// The full event history up to the end of the year is replayed so lots
// opened in earlier years carry their original acquisition dates.
func (e *TaxEngine) Report(ctx context.Context, wallet string, year int) (domain.TaxReport, error) {
	report := domain.TaxReport{
		Wallet:         wallet,
		Year:           year,
		TotalDividends: decimal.Zero,
		ShortTermGains: decimal.Zero,
		LongTermGains:  decimal.Zero,
		TotalFees:      decimal.Zero,
		Transactions:   []domain.TaxTransaction{},
	}
	if err := ctx.Err(); err != nil {
		return report, domain.ErrTimeout
	}

	yearStart := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	yearEnd := yearStart.AddDate(1, 0, 0)

	events := e.history.EventsForWallet(wallet, yearEnd.Add(-time.Nanosecond))
	book := newLotBook(wallet, e.policy)
	disposals := book.replay(events)

	for i := range events {
		// Large histories must still honor the caller's deadline mid-replay
		if err := ctx.Err(); err != nil {
			return report, domain.ErrTimeout
		}

		event := &events[i]
		if event.OccurredAt.Before(yearStart) || !event.OccurredAt.Before(yearEnd) {
			continue
		}

		switch {
		case event.Kind == domain.EventKindDividend && event.To != nil && *event.To == wallet:
			// Dividends are always ordinary income; lots are untouched.
			report.TotalDividends = report.TotalDividends.Add(event.CashAmount)
			report.Transactions = append(report.Transactions, domain.TaxTransaction{
				EventID:          event.ID,
				AssetID:          event.AssetID,
				Kind:             event.Kind,
				OccurredAt:       event.OccurredAt,
				CashAmount:       event.CashAmount,
				RealizedGainLoss: decimal.Zero,
				ShortTermPortion: decimal.Zero,
				LongTermPortion:  decimal.Zero,
			})

		case event.Kind == domain.EventKindFee && feePayer(event) == wallet:
			report.TotalFees = report.TotalFees.Add(event.CashAmount)
			report.Transactions = append(report.Transactions, domain.TaxTransaction{
				EventID:          event.ID,
				AssetID:          event.AssetID,
				Kind:             event.Kind,
				OccurredAt:       event.OccurredAt,
				CashAmount:       event.CashAmount,
				RealizedGainLoss: decimal.Zero,
				ShortTermPortion: decimal.Zero,
				LongTermPortion:  decimal.Zero,
			})

		case event.IsDisposal(wallet):
			result := disposals[event.ID]
			report.ShortTermGains = report.ShortTermGains.Add(result.shortPortion)
			report.LongTermGains = report.LongTermGains.Add(result.longPortion)
			report.Transactions = append(report.Transactions, domain.TaxTransaction{
				EventID:          event.ID,
				AssetID:          event.AssetID,
				Kind:             event.Kind,
				OccurredAt:       event.OccurredAt,
				TokenAmount:      event.TokenAmount,
				CashAmount:       event.CashAmount,
				RealizedGainLoss: result.realized,
				ShortTermPortion: result.shortPortion,
				LongTermPortion:  result.longPortion,
			})
		}
	}

	return report, nil
}

// feePayer resolves which wallet a fee event is charged to
func feePayer(event *domain.Event) string {
	if event.From != nil {
		return *event.From
	}
	if event.To != nil {
		return *event.To
	}
	return ""
}
