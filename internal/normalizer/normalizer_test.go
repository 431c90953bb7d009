package normalizer_test

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brickfolio/estate-indexer/internal/domain"
	"github.com/brickfolio/estate-indexer/internal/logger"
	"github.com/brickfolio/estate-indexer/internal/normalizer"
)

func TestMain(m *testing.M) {
	// Initialize logger for tests
	err := logger.Initialize(logger.Config{
		Debug: false,
	})
	if err != nil {
		panic(err)
	}

	code := m.Run()
	os.Exit(code)
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time                                  { return c.now }
func (c *fakeClock) Since(t time.Time) time.Duration                 { return c.now.Sub(t) }
func (c *fakeClock) Sleep(d time.Duration)                           {}
func (c *fakeClock) Parse(layout, value string) (time.Time, error)   { return time.Parse(layout, value) }
func (c *fakeClock) Unix(sec int64, nsec int64) time.Time            { return time.Unix(sec, nsec) }
func (c *fakeClock) After(d time.Duration) <-chan time.Time          { return time.After(0) }

func stringPtr(s string) *string {
	return &s
}

var testTime = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

func TestNormalizeTransfer(t *testing.T) {
	clock := &fakeClock{now: testTime.Add(time.Minute)}
	n := normalizer.New(clock)

	event, err := n.Normalize(&domain.RawRecord{
		ID:          "evt-1",
		Type:        "transfer",
		AssetID:     "prop-nyc-001",
		FromAddress: stringPtr("0xAlice"),
		ToAddress:   stringPtr("0xBob"),
		TokenAmount: "25",
		CashAmount:  "375.50",
		Timestamp:   testTime,
	})
	require.NoError(t, err)
	require.NotNil(t, event)

	assert.Equal(t, "evt-1", event.ID)
	assert.Equal(t, domain.EventKindTransfer, event.Kind)
	assert.Equal(t, "prop-nyc-001", event.AssetID)
	assert.Equal(t, "0xAlice", *event.From)
	assert.Equal(t, "0xBob", *event.To)
	assert.Equal(t, int64(25), event.TokenAmount)
	assert.Equal(t, "375.5", event.CashAmount.String())
	assert.Equal(t, testTime, event.OccurredAt)
	assert.Equal(t, clock.now, event.ObservedAt)
}

func TestNormalizePrimarySale(t *testing.T) {
	n := normalizer.New(&fakeClock{now: testTime})

	event, err := n.Normalize(&domain.RawRecord{
		ID:          "evt-2",
		Type:        "transfer",
		AssetID:     "prop-nyc-001",
		ToAddress:   stringPtr("0xBob"),
		TokenAmount: "100",
		CashAmount:  "1000",
		Timestamp:   testTime,
	})
	require.NoError(t, err)

	// No from address marks a sale out of the available supply
	assert.Nil(t, event.From)
	assert.Equal(t, "0xBob", *event.To)
}

func TestNormalizeDerivesIDFromTxHash(t *testing.T) {
	n := normalizer.New(&fakeClock{now: testTime})

	event, err := n.Normalize(&domain.RawRecord{
		Type:        "mint",
		AssetID:     "prop-1",
		TxHash:      "0xabc123",
		TokenAmount: "1000",
		Timestamp:   testTime,
	})
	require.NoError(t, err)
	assert.Equal(t, "0xabc123:prop-1:mint", event.ID)
}

func TestNormalizeTrimsAddresses(t *testing.T) {
	n := normalizer.New(&fakeClock{now: testTime})

	event, err := n.Normalize(&domain.RawRecord{
		ID:          "evt-3",
		Type:        "transfer",
		AssetID:     "prop-1",
		FromAddress: stringPtr("  0xAlice  "),
		ToAddress:   stringPtr("0xBob"),
		TokenAmount: "1",
		Timestamp:   testTime,
	})
	require.NoError(t, err)
	assert.Equal(t, "0xAlice", *event.From)
}

func TestNormalizeRejections(t *testing.T) {
	tests := []struct {
		name     string
		record   *domain.RawRecord
		expected error
	}{
		{
			name:     "nil record",
			record:   nil,
			expected: domain.ErrMalformedEvent,
		},
		{
			name: "unsupported kind",
			record: &domain.RawRecord{
				ID: "evt-1", Type: "airdrop", AssetID: "prop-1", Timestamp: testTime,
			},
			expected: domain.ErrUnsupportedEventKind,
		},
		{
			name: "missing asset id",
			record: &domain.RawRecord{
				ID: "evt-1", Type: "mint", TokenAmount: "10", Timestamp: testTime,
			},
			expected: domain.ErrMalformedEvent,
		},
		{
			name: "missing timestamp",
			record: &domain.RawRecord{
				ID: "evt-1", Type: "mint", AssetID: "prop-1", TokenAmount: "10",
			},
			expected: domain.ErrMalformedEvent,
		},
		{
			name: "missing id and tx hash",
			record: &domain.RawRecord{
				Type: "mint", AssetID: "prop-1", TokenAmount: "10", Timestamp: testTime,
			},
			expected: domain.ErrMalformedEvent,
		},
		{
			name: "mint without token amount",
			record: &domain.RawRecord{
				ID: "evt-1", Type: "mint", AssetID: "prop-1", Timestamp: testTime,
			},
			expected: domain.ErrMalformedEvent,
		},
		{
			name: "transfer without recipient",
			record: &domain.RawRecord{
				ID: "evt-1", Type: "transfer", AssetID: "prop-1", TokenAmount: "10", Timestamp: testTime,
			},
			expected: domain.ErrMalformedEvent,
		},
		{
			name: "transfer with whitespace-only recipient",
			record: &domain.RawRecord{
				ID: "evt-1", Type: "transfer", AssetID: "prop-1", ToAddress: stringPtr("   "),
				TokenAmount: "10", Timestamp: testTime,
			},
			expected: domain.ErrMalformedEvent,
		},
		{
			name: "negative token amount",
			record: &domain.RawRecord{
				ID: "evt-1", Type: "mint", AssetID: "prop-1", TokenAmount: "-5", Timestamp: testTime,
			},
			expected: domain.ErrMalformedEvent,
		},
		{
			name: "unparseable cash amount",
			record: &domain.RawRecord{
				ID: "evt-1", Type: "dividend", AssetID: "prop-1", CashAmount: "12,50", Timestamp: testTime,
			},
			expected: domain.ErrMalformedEvent,
		},
		{
			name: "dividend without cash amount",
			record: &domain.RawRecord{
				ID: "evt-1", Type: "dividend", AssetID: "prop-1", ToAddress: stringPtr("0xBob"), Timestamp: testTime,
			},
			expected: domain.ErrMalformedEvent,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := normalizer.New(&fakeClock{now: testTime})
			event, err := n.Normalize(tt.record)
			assert.Nil(t, event)
			assert.ErrorIs(t, err, tt.expected)
		})
	}
}

func TestRejectedCounts(t *testing.T) {
	n := normalizer.New(&fakeClock{now: testTime})

	_, _ = n.Normalize(&domain.RawRecord{ID: "a", Type: "airdrop", AssetID: "p", Timestamp: testTime})
	_, _ = n.Normalize(&domain.RawRecord{ID: "b", Type: "mint", Timestamp: testTime})
	_, _ = n.Normalize(&domain.RawRecord{
		ID: "c", Type: "mint", AssetID: "p", TokenAmount: "10", Timestamp: testTime,
	})

	malformed, unsupported := n.RejectedCounts()
	assert.Equal(t, uint64(1), malformed)
	assert.Equal(t, uint64(1), unsupported)
}
