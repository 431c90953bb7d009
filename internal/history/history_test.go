package history_test

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brickfolio/estate-indexer/internal/domain"
	"github.com/brickfolio/estate-indexer/internal/history"
	"github.com/brickfolio/estate-indexer/internal/logger"
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

func (c *fakeClock) Now() time.Time                                { return c.now }
func (c *fakeClock) Since(t time.Time) time.Duration               { return c.now.Sub(t) }
func (c *fakeClock) Sleep(d time.Duration)                         {}
func (c *fakeClock) Parse(layout, value string) (time.Time, error) { return time.Parse(layout, value) }
func (c *fakeClock) Unix(sec int64, nsec int64) time.Time          { return time.Unix(sec, nsec) }
func (c *fakeClock) After(d time.Duration) <-chan time.Time        { return time.After(0) }

var baseTime = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

func stringPtr(s string) *string { return &s }

func seqPtr(seq uint64) *uint64 { return &seq }

func event(id, assetID string, kind domain.EventKind, seq uint64, at time.Time) domain.Event {
	return domain.Event{
		ID:          id,
		Kind:        kind,
		AssetID:     assetID,
		To:          stringPtr("0xAlice"),
		TokenAmount: 10,
		OccurredAt:  at,
		Sequence:    seqPtr(seq),
	}
}

func TestAppendIsIdempotent(t *testing.T) {
	h := history.New(&fakeClock{now: baseTime})

	first := h.Append(event("evt-1", "prop-1", domain.EventKindMint, 1, baseTime))
	assert.NotEmpty(t, first.Anchor)
	assert.Equal(t, 1, h.Len())

	again := h.Append(event("evt-1", "prop-1", domain.EventKindMint, 1, baseTime))
	assert.Equal(t, first.Anchor, again.Anchor)
	assert.Equal(t, 1, h.Len())
}

func TestQueryOrdersDescending(t *testing.T) {
	h := history.New(&fakeClock{now: baseTime})

	h.Append(event("evt-1", "prop-1", domain.EventKindMint, 1, baseTime))
	h.Append(event("evt-2", "prop-1", domain.EventKindTransfer, 2, baseTime.Add(time.Hour)))
	h.Append(event("evt-3", "prop-1", domain.EventKindTransfer, 3, baseTime.Add(2*time.Hour)))

	entries, cursor := h.Query(history.Filter{})
	require.Len(t, entries, 3)
	assert.Empty(t, cursor)

	assert.Equal(t, "evt-3", entries[0].Event.ID)
	assert.Equal(t, "evt-2", entries[1].Event.ID)
	assert.Equal(t, "evt-1", entries[2].Event.ID)
}

func TestQueryFilters(t *testing.T) {
	h := history.New(&fakeClock{now: baseTime})

	h.Append(event("evt-1", "prop-1", domain.EventKindMint, 1, baseTime))
	h.Append(event("evt-2", "prop-2", domain.EventKindMint, 1, baseTime.Add(time.Hour)))
	h.Append(event("evt-3", "prop-1", domain.EventKindTransfer, 2, baseTime.Add(2*time.Hour)))
	h.Append(event("evt-4", "prop-1", domain.EventKindDividend, 3, baseTime.Add(3*time.Hour)))

	tests := []struct {
		name     string
		filter   history.Filter
		expected []string
	}{
		{
			name:     "by asset",
			filter:   history.Filter{AssetID: "prop-2"},
			expected: []string{"evt-2"},
		},
		{
			name:     "by kind",
			filter:   history.Filter{Kinds: []domain.EventKind{domain.EventKindMint}},
			expected: []string{"evt-2", "evt-1"},
		},
		{
			name: "by kind set",
			filter: history.Filter{
				Kinds: []domain.EventKind{domain.EventKindTransfer, domain.EventKindDividend},
			},
			expected: []string{"evt-4", "evt-3"},
		},
		{
			name:     "by time window",
			filter:   history.Filter{From: baseTime.Add(time.Hour), To: baseTime.Add(2 * time.Hour)},
			expected: []string{"evt-3", "evt-2"},
		},
		{
			name:     "asset and kind",
			filter:   history.Filter{AssetID: "prop-1", Kinds: []domain.EventKind{domain.EventKindMint}},
			expected: []string{"evt-1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries, _ := h.Query(tt.filter)
			ids := make([]string, 0, len(entries))
			for _, entry := range entries {
				ids = append(ids, entry.Event.ID)
			}
			assert.Equal(t, tt.expected, ids)
		})
	}
}

func TestQueryPagination(t *testing.T) {
	h := history.New(&fakeClock{now: baseTime})

	for i := 0; i < 5; i++ {
		h.Append(event(
			"evt-"+string(rune('a'+i)), "prop-1", domain.EventKindTransfer,
			uint64(i+1), baseTime.Add(time.Duration(i)*time.Minute)))
	}

	page1, cursor := h.Query(history.Filter{Limit: 2})
	require.Len(t, page1, 2)
	require.NotEmpty(t, cursor)
	assert.Equal(t, "evt-e", page1[0].Event.ID)
	assert.Equal(t, "evt-d", page1[1].Event.ID)

	page2, cursor := h.Query(history.Filter{Limit: 2, Before: cursor})
	require.Len(t, page2, 2)
	require.NotEmpty(t, cursor)
	assert.Equal(t, "evt-c", page2[0].Event.ID)
	assert.Equal(t, "evt-b", page2[1].Event.ID)

	page3, cursor := h.Query(history.Filter{Limit: 2, Before: cursor})
	require.Len(t, page3, 1)
	assert.Equal(t, "evt-a", page3[0].Event.ID)
	assert.Empty(t, cursor)
}

func TestPaginationStableUnderAppends(t *testing.T) {
	h := history.New(&fakeClock{now: baseTime})

	for i := 0; i < 4; i++ {
		h.Append(event(
			"evt-"+string(rune('a'+i)), "prop-1", domain.EventKindTransfer,
			uint64(i+1), baseTime.Add(time.Duration(i)*time.Minute)))
	}

	page1, cursor := h.Query(history.Filter{Limit: 2})
	require.Len(t, page1, 2)

	// New events arriving between pages must not shift the second page
	h.Append(event("evt-new", "prop-1", domain.EventKindTransfer, 9, baseTime.Add(time.Hour)))

	page2, _ := h.Query(history.Filter{Limit: 2, Before: cursor})
	require.Len(t, page2, 2)
	assert.Equal(t, "evt-b", page2[0].Event.ID)
	assert.Equal(t, "evt-a", page2[1].Event.ID)
}

func TestEventsForWallet(t *testing.T) {
	h := history.New(&fakeClock{now: baseTime})

	sale := event("evt-1", "prop-1", domain.EventKindTransfer, 2, baseTime.Add(time.Hour))
	sale.To = stringPtr("0xBob")

	disposal := event("evt-2", "prop-1", domain.EventKindTransfer, 3, baseTime.Add(2*time.Hour))
	disposal.From = stringPtr("0xBob")
	disposal.To = stringPtr("0xCarol")

	late := event("evt-3", "prop-1", domain.EventKindDividend, 4, baseTime.Add(3*time.Hour))
	late.To = stringPtr("0xBob")

	// Appended out of order; replay must come back ascending
	h.Append(disposal)
	h.Append(sale)
	h.Append(late)
	h.Append(event("evt-4", "prop-1", domain.EventKindMint, 1, baseTime))

	events := h.EventsForWallet("0xBob", baseTime.Add(2*time.Hour))
	require.Len(t, events, 2)
	assert.Equal(t, "evt-1", events[0].ID)
	assert.Equal(t, "evt-2", events[1].ID)

	all := h.EventsForWallet("0xBob", baseTime.Add(24*time.Hour))
	assert.Len(t, all, 3)

	assert.Empty(t, h.EventsForWallet("0xDave", baseTime.Add(24*time.Hour)))
}

func TestEventsForAsset(t *testing.T) {
	h := history.New(&fakeClock{now: baseTime})

	h.Append(event("evt-1", "prop-1", domain.EventKindMint, 1, baseTime))
	h.Append(event("evt-2", "prop-2", domain.EventKindMint, 1, baseTime))
	h.Append(event("evt-3", "prop-1", domain.EventKindTransfer, 2, baseTime.Add(time.Hour)))

	events := h.EventsForAsset("prop-1")
	require.Len(t, events, 2)
	assert.Equal(t, "evt-1", events[0].ID)
	assert.Equal(t, "evt-3", events[1].ID)
}
