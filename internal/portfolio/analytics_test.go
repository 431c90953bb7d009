package portfolio_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brickfolio/estate-indexer/internal/domain"
	"github.com/brickfolio/estate-indexer/internal/portfolio"
)

const analyticsWallet = "0xBob"

func newAnalytics(t *testing.T, clock *fakeClock, store *fakeReferenceStore, events ...domain.Event) *portfolio.Analytics {
	t.Helper()
	proj, hist := buildLedger(t, clock, events...)
	holdings := portfolio.NewHoldingsBuilder(proj, hist, store, portfolio.DefaultLotPolicy(), clock)
	return portfolio.NewAnalytics(hist, store, holdings, portfolio.DefaultLotPolicy(), clock, 4)
}

func TestIsValidRange(t *testing.T) {
	assert.True(t, portfolio.IsValidRange(portfolio.RangeWeek))
	assert.True(t, portfolio.IsValidRange(portfolio.RangeAll))
	assert.False(t, portfolio.IsValidRange(portfolio.Range("2d")))
	assert.False(t, portfolio.IsValidRange(portfolio.Range("")))
}

func TestPerformanceDailySeries(t *testing.T) {
	today := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: today}

	store := &fakeReferenceStore{properties: map[string]*domain.Property{
		"prop-1": {ID: "prop-1", CurrentTokenPrice: decimal.RequireFromString("12")},
	}}

	// Acquisition three days ago; points before it are empty
	analytics := newAnalytics(t, clock, store,
		mintEvent("mint-1", "prop-1", 1000, today.AddDate(0, 0, -3), 1),
		buy("buy-1", "prop-1", analyticsWallet, 100, "1000", today.AddDate(0, 0, -3).Add(time.Hour), 2),
	)

	series, err := analytics.Performance(context.Background(), analyticsWallet, portfolio.RangeWeek)
	require.NoError(t, err)
	require.Len(t, series, 8)

	for i := 1; i < len(series); i++ {
		assert.True(t, series[i-1].Date.Before(series[i].Date))
	}

	before := series[3]
	assert.Equal(t, today.AddDate(0, 0, -4), before.Date)
	assert.Equal(t, "0", before.TotalValue.String())
	assert.Equal(t, "0", before.TotalInvested.String())

	after := series[4]
	assert.Equal(t, today.AddDate(0, 0, -3), after.Date)
	assert.Equal(t, "1200", after.TotalValue.String())
	assert.Equal(t, "1000", after.TotalInvested.String())
	assert.Equal(t, "20", after.GainLossPercent.String())

	last := series[7]
	assert.Equal(t, today, last.Date)
	assert.Equal(t, "1200", last.TotalValue.String())
}

func TestPerformanceIsReproducible(t *testing.T) {
	today := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: today}

	store := &fakeReferenceStore{properties: map[string]*domain.Property{
		"prop-1": {ID: "prop-1", CurrentTokenPrice: decimal.RequireFromString("12")},
	}}

	analytics := newAnalytics(t, clock, store,
		mintEvent("mint-1", "prop-1", 1000, today.AddDate(0, 0, -20), 1),
		buy("buy-1", "prop-1", analyticsWallet, 100, "1000", today.AddDate(0, 0, -20).Add(time.Hour), 2),
		sell("sell-1", "prop-1", analyticsWallet, 40, "480", today.AddDate(0, 0, -5), 3),
	)

	first, err := analytics.Performance(context.Background(), analyticsWallet, portfolio.RangeMonth)
	require.NoError(t, err)
	second, err := analytics.Performance(context.Background(), analyticsWallet, portfolio.RangeMonth)
	require.NoError(t, err)

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].Date, second[i].Date)
		assert.True(t, first[i].TotalValue.Equal(second[i].TotalValue))
		assert.True(t, first[i].TotalInvested.Equal(second[i].TotalInvested))
	}
}

func TestPerformanceEmptyWallet(t *testing.T) {
	today := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: today}
	store := &fakeReferenceStore{properties: map[string]*domain.Property{}}

	analytics := newAnalytics(t, clock, store)
	series, err := analytics.Performance(context.Background(), "0xNobody", portfolio.RangeAll)
	require.NoError(t, err)
	assert.Empty(t, series)
}

func TestPerformanceCancelledContext(t *testing.T) {
	today := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: today}
	store := &fakeReferenceStore{properties: map[string]*domain.Property{}}

	analytics := newAnalytics(t, clock, store,
		mintEvent("mint-1", "prop-1", 1000, today.AddDate(0, 0, -3), 1),
		buy("buy-1", "prop-1", analyticsWallet, 100, "1000", today.AddDate(0, 0, -2), 2),
	)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	series, err := analytics.Performance(ctx, analyticsWallet, portfolio.RangeWeek)
	assert.ErrorIs(t, err, domain.ErrTimeout)
	// Whatever finished before the deadline is still returned
	assert.LessOrEqual(t, len(series), 8)
}

func TestDiversificationBalancedPortfolio(t *testing.T) {
	baseTime := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: baseTime.Add(24 * time.Hour)}

	properties := map[string]*domain.Property{
		"prop-a": {ID: "prop-a", PropertyType: "residential", Location: "New York", CurrentTokenPrice: decimal.RequireFromString("10")},
		"prop-b": {ID: "prop-b", PropertyType: "commercial", Location: "Los Angeles", CurrentTokenPrice: decimal.RequireFromString("10")},
		"prop-c": {ID: "prop-c", PropertyType: "industrial", Location: "Chicago", CurrentTokenPrice: decimal.RequireFromString("10")},
		"prop-d": {ID: "prop-d", PropertyType: "retail", Location: "Miami", CurrentTokenPrice: decimal.RequireFromString("10")},
	}
	store := &fakeReferenceStore{properties: properties}

	events := make([]domain.Event, 0, 8)
	for _, assetID := range []string{"prop-a", "prop-b", "prop-c", "prop-d"} {
		events = append(events,
			mintEvent("mint-"+assetID, assetID, 1000, baseTime, 1),
			buy("buy-"+assetID, assetID, analyticsWallet, 100, "1000", baseTime.Add(time.Hour), 2),
		)
	}

	analytics := newAnalytics(t, clock, store, events...)
	report, err := analytics.Diversification(context.Background(), analyticsWallet)
	require.NoError(t, err)

	// Four equal 25% positions per dimension: HHI 2500, sub-score 75
	assert.InDelta(t, 75.0, report.ByTypeScore, 0.001)
	assert.InDelta(t, 75.0, report.ByLocationScore, 0.001)
	assert.Equal(t, 75, report.OverallScore)
	assert.False(t, report.Degraded)

	// 4 type + 4 location + 1 size bucket (each position is under_5k)
	assert.Len(t, report.Buckets, 9)
	for _, bucket := range report.Buckets {
		if bucket.Dimension == domain.DimensionSizeRange {
			assert.Equal(t, "under_5k", bucket.Label)
			assert.Equal(t, 4, bucket.Count)
		} else {
			assert.InDelta(t, 25.0, bucket.Percentage, 0.001)
		}
	}
}

func TestDiversificationSingleAsset(t *testing.T) {
	baseTime := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: baseTime.Add(24 * time.Hour)}

	store := &fakeReferenceStore{properties: map[string]*domain.Property{
		"prop-1": {ID: "prop-1", PropertyType: "residential", Location: "Boston", CurrentTokenPrice: decimal.RequireFromString("10")},
	}}

	analytics := newAnalytics(t, clock, store,
		mintEvent("mint-1", "prop-1", 1000, baseTime, 1),
		buy("buy-1", "prop-1", analyticsWallet, 100, "1000", baseTime.Add(time.Hour), 2),
	)

	report, err := analytics.Diversification(context.Background(), analyticsWallet)
	require.NoError(t, err)

	// Fully concentrated portfolio scores zero on every dimension
	assert.Equal(t, 0.0, report.ByTypeScore)
	assert.Equal(t, 0.0, report.ByLocationScore)
	assert.Equal(t, 0, report.OverallScore)
}

func TestDiversificationMissingReferenceDegrades(t *testing.T) {
	baseTime := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: baseTime.Add(24 * time.Hour)}

	store := &fakeReferenceStore{properties: map[string]*domain.Property{}}

	analytics := newAnalytics(t, clock, store,
		mintEvent("mint-1", "prop-1", 1000, baseTime, 1),
		buy("buy-1", "prop-1", analyticsWallet, 100, "1000", baseTime.Add(time.Hour), 2),
	)

	report, err := analytics.Diversification(context.Background(), analyticsWallet)
	require.NoError(t, err)
	assert.True(t, report.Degraded)

	// Unknown reference data groups under the fallback label
	found := false
	for _, bucket := range report.Buckets {
		if bucket.Dimension == domain.DimensionPropertyType {
			assert.Equal(t, "unknown", bucket.Label)
			found = true
		}
	}
	assert.True(t, found)
}

func TestDiversificationEmptyWallet(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	store := &fakeReferenceStore{properties: map[string]*domain.Property{}}

	analytics := newAnalytics(t, clock, store)
	report, err := analytics.Diversification(context.Background(), "0xNobody")
	require.NoError(t, err)
	assert.Empty(t, report.Buckets)
	assert.Equal(t, 0, report.OverallScore)
}
