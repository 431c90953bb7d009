package portfolio

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/shopspring/decimal"

	"github.com/brickfolio/estate-indexer/internal/adapter"
	"github.com/brickfolio/estate-indexer/internal/domain"
	"github.com/brickfolio/estate-indexer/internal/history"
)

// Range selects the lookback window of a performance query
type Range string

const (
	RangeWeek    Range = "7d"
	RangeMonth   Range = "30d"
	RangeQuarter Range = "90d"
	RangeYear    Range = "1y"
	RangeAll     Range = "all"
)

// IsValidRange checks if a range value is supported
func IsValidRange(r Range) bool {
	switch r {
	case RangeWeek, RangeMonth, RangeQuarter, RangeYear, RangeAll:
		return true
	}
	return false
}

// Analytics computes time-series performance and diversification scores for
// one wallet. All computations replay the retained event history against a
// point-in-time snapshot; nothing mutates shared state.
type Analytics struct {
	history  *history.History
	store    ReferenceStore
	holdings *HoldingsBuilder
	policy   LotPolicy
	clock    adapter.Clock
	workers  int
}

// NewAnalytics creates a new analytics engine. workers bounds the pool used
// to compute performance checkpoints in parallel.
func NewAnalytics(
	hist *history.History,
	store ReferenceStore,
	holdings *HoldingsBuilder,
	policy LotPolicy,
	clock adapter.Clock,
	workers int,
) *Analytics {
	if workers <= 0 {
		workers = 8
	}
	return &Analytics{
		history:  hist,
		store:    store,
		holdings: holdings,
		policy:   policy.withDefaults(),
		clock:    clock,
		workers:  workers,
	}
}

// Performance produces the daily portfolio value time series for the range.
// Each point is computed from the state as of that date (events with
// occurredAt on or before it), so the series is reproducible from the log.
// When the caller's deadline expires mid-computation the points finished so
// far are returned together with domain.ErrTimeout.
func (a *Analytics) Performance(ctx context.Context, wallet string, rng Range) ([]domain.PerformancePoint, error) {
	now := a.clock.Now().UTC()
	today := now.Truncate(24 * time.Hour)

	events := a.history.EventsForWallet(wallet, now)
	if len(events) == 0 {
		return []domain.PerformancePoint{}, nil
	}

	start := a.rangeStart(rng, today, events)
	checkpoints := make([]time.Time, 0, int(today.Sub(start).Hours()/24)+1)
	for date := start; !date.After(today); date = date.AddDate(0, 0, 1) {
		checkpoints = append(checkpoints, date)
	}

	prices := a.loadPrices(ctx, events)

	results := make([]*domain.PerformancePoint, len(checkpoints))
	var mu sync.Mutex

	pool := pond.NewPool(a.workers, pond.WithContext(ctx))
	for i, date := range checkpoints {
		i, date := i, date
		pool.Submit(func() {
			if ctx.Err() != nil {
				return
			}
			point := a.computePoint(wallet, events, date, prices)
			mu.Lock()
			results[i] = &point
			mu.Unlock()
		})
	}
	pool.StopAndWait()

	series := make([]domain.PerformancePoint, 0, len(results))
	for _, point := range results {
		if point != nil {
			series = append(series, *point)
		}
	}
	sort.Slice(series, func(i, j int) bool { return series[i].Date.Before(series[j].Date) })

	if err := ctx.Err(); err != nil {
		return series, domain.ErrTimeout
	}
	return series, nil
}

// Diversification groups the wallet's current holdings by property type,
// location, and investment-size bucket, and scores concentration with a
// Herfindahl-Hirschman index per dimension.
func (a *Analytics) Diversification(ctx context.Context, wallet string) (domain.DiversificationReport, error) {
	report := domain.DiversificationReport{
		Wallet:  wallet,
		Buckets: []domain.DiversificationBucket{},
	}

	holdings, err := a.holdings.Holdings(ctx, wallet)
	if err != nil {
		return report, err
	}
	if len(holdings) == 0 {
		return report, nil
	}

	total := decimal.Zero
	for _, holding := range holdings {
		total = total.Add(holding.CurrentValue)
		if holding.Degraded {
			report.Degraded = true
		}
	}

	byType := groupHoldings(holdings, total, domain.DimensionPropertyType, func(h *domain.Holding) string {
		return labelOrUnknown(h.PropertyType)
	})
	byLocation := groupHoldings(holdings, total, domain.DimensionLocation, func(h *domain.Holding) string {
		return labelOrUnknown(h.Location)
	})
	bySize := groupHoldings(holdings, total, domain.DimensionSizeRange, func(h *domain.Holding) string {
		return sizeRangeLabel(h.CurrentValue)
	})

	report.Buckets = append(report.Buckets, byType...)
	report.Buckets = append(report.Buckets, byLocation...)
	report.Buckets = append(report.Buckets, bySize...)

	// Single-asset portfolios land at HHI 10000 and sub-score 0: fully
	// concentrated by construction.
	report.ByTypeScore = hhiSubScore(byType)
	report.ByLocationScore = hhiSubScore(byLocation)
	report.OverallScore = int(math.Round((report.ByTypeScore + report.ByLocationScore) / 2))

	return report, nil
}

func (a *Analytics) rangeStart(rng Range, today time.Time, events []domain.Event) time.Time {
	switch rng {
	case RangeWeek:
		return today.AddDate(0, 0, -7)
	case RangeMonth:
		return today.AddDate(0, 0, -30)
	case RangeQuarter:
		return today.AddDate(0, 0, -90)
	case RangeYear:
		return today.AddDate(-1, 0, 0)
	default:
		return events[0].OccurredAt.UTC().Truncate(24 * time.Hour)
	}
}

// loadPrices resolves the current token price per asset once, before the
// parallel checkpoint phase. Assets with missing reference data fall back to
// cost basis valuation inside computePoint.
func (a *Analytics) loadPrices(ctx context.Context, events []domain.Event) map[string]decimal.Decimal {
	prices := make(map[string]decimal.Decimal)
	for i := range events {
		assetID := events[i].AssetID
		if _, seen := prices[assetID]; seen {
			continue
		}
		property, err := a.store.GetProperty(ctx, assetID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if property != nil {
			prices[assetID] = property.CurrentTokenPrice
		}
	}
	return prices
}

// computePoint replays the wallet's events up to the end of the checkpoint
// day and values the resulting balances
func (a *Analytics) computePoint(wallet string, events []domain.Event, date time.Time, prices map[string]decimal.Decimal) domain.PerformancePoint {
	cutoff := date.AddDate(0, 0, 1).Add(-time.Nanosecond)

	balances := make(map[string]int64)
	book := newLotBook(wallet, a.policy)
	for i := range events {
		event := &events[i]
		if event.OccurredAt.After(cutoff) {
			break
		}
		switch {
		case event.IsAcquisition(wallet):
			balances[event.AssetID] += event.TokenAmount
			book.acquire(event)
		case event.IsDisposal(wallet):
			balances[event.AssetID] -= event.TokenAmount
			book.dispose(event)
		}
	}

	totalValue := decimal.Zero
	totalInvested := decimal.Zero
	for assetID, balance := range balances {
		if balance <= 0 {
			continue
		}
		invested := book.costBasis(assetID)
		totalInvested = totalInvested.Add(invested)
		if price, ok := prices[assetID]; ok {
			totalValue = totalValue.Add(price.Mul(decimal.NewFromInt(balance)))
		} else {
			totalValue = totalValue.Add(invested)
		}
	}

	gainLossPercent := decimal.Zero
	if totalInvested.IsPositive() {
		gainLossPercent = totalValue.Sub(totalInvested).
			Div(totalInvested).
			Mul(decimal.NewFromInt(100)).
			Round(4)
	}

	return domain.PerformancePoint{
		Date:            date,
		TotalValue:      totalValue,
		TotalInvested:   totalInvested,
		GainLossPercent: gainLossPercent,
	}
}

// groupHoldings buckets holdings along one dimension by current value
func groupHoldings(holdings []domain.Holding, total decimal.Decimal, dimension domain.DiversificationDimension, labelFn func(*domain.Holding) string) []domain.DiversificationBucket {
	grouped := make(map[string]*domain.DiversificationBucket)
	for i := range holdings {
		label := labelFn(&holdings[i])
		bucket, ok := grouped[label]
		if !ok {
			bucket = &domain.DiversificationBucket{
				Dimension: dimension,
				Label:     label,
				Value:     decimal.Zero,
			}
			grouped[label] = bucket
		}
		bucket.Value = bucket.Value.Add(holdings[i].CurrentValue)
		bucket.Count++
	}

	buckets := make([]domain.DiversificationBucket, 0, len(grouped))
	for _, bucket := range grouped {
		if total.IsPositive() {
			pct, _ := bucket.Value.Div(total).Mul(decimal.NewFromInt(100)).Float64()
			bucket.Percentage = pct
		}
		buckets = append(buckets, *bucket)
	}
	sort.Slice(buckets, func(i, j int) bool {
		if !buckets[i].Value.Equal(buckets[j].Value) {
			return buckets[i].Value.GreaterThan(buckets[j].Value)
		}
		return buckets[i].Label < buckets[j].Label
	})
	return buckets
}

// hhiSubScore converts one dimension's percentage distribution into a
// 0..100 diversification sub-score: HHI = sum(pct^2), score = 100 - HHI/100
func hhiSubScore(buckets []domain.DiversificationBucket) float64 {
	if len(buckets) == 0 {
		return 0
	}
	hhi := 0.0
	for _, bucket := range buckets {
		hhi += bucket.Percentage * bucket.Percentage
	}
	return math.Max(0, 100-hhi/100)
}

func labelOrUnknown(label string) string {
	if label == "" {
		return "unknown"
	}
	return label
}

// sizeRangeLabel buckets a position by its current value
func sizeRangeLabel(value decimal.Decimal) string {
	switch {
	case value.LessThan(decimal.NewFromInt(5000)):
		return "under_5k"
	case value.LessThan(decimal.NewFromInt(25000)):
		return "5k_to_25k"
	case value.LessThan(decimal.NewFromInt(100000)):
		return "25k_to_100k"
	default:
		return "over_100k"
	}
}
