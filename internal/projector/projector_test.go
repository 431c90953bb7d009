package projector_test

import (
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brickfolio/estate-indexer/internal/domain"
	"github.com/brickfolio/estate-indexer/internal/logger"
	"github.com/brickfolio/estate-indexer/internal/projector"
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

func mint(id, assetID string, amount int64, seq uint64) *domain.Event {
	return &domain.Event{
		ID:          id,
		Kind:        domain.EventKindMint,
		AssetID:     assetID,
		TokenAmount: amount,
		OccurredAt:  baseTime,
		Sequence:    seqPtr(seq),
	}
}

func transfer(id, assetID string, from, to *string, amount int64, seq uint64) *domain.Event {
	return &domain.Event{
		ID:          id,
		Kind:        domain.EventKindTransfer,
		AssetID:     assetID,
		From:        from,
		To:          to,
		TokenAmount: amount,
		CashAmount:  decimal.NewFromInt(amount * 10),
		OccurredAt:  baseTime.Add(time.Duration(seq) * time.Minute),
		Sequence:    seqPtr(seq),
	}
}

func newProjector(clock *fakeClock) *projector.Projector {
	return projector.New(projector.Config{
		BufferLimit:   4,
		BufferTimeout: 30 * time.Second,
	}, clock)
}

func TestMintAndPrimarySale(t *testing.T) {
	clock := &fakeClock{now: baseTime}
	p := newProjector(clock)

	changed, err := p.Apply(mint("m1", "prop-1", 1000, 1))
	require.NoError(t, err)
	assert.True(t, changed)

	state, err := p.GetState("prop-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), state.TotalSupply)
	assert.Equal(t, int64(1000), state.AvailableSupply)
	assert.Equal(t, 0.0, state.FundingPercent())

	// Primary sale: no from address, tokens leave the available supply
	changed, err = p.Apply(transfer("t1", "prop-1", nil, stringPtr("0xAlice"), 500, 2))
	require.NoError(t, err)
	assert.True(t, changed)

	state, err = p.GetState("prop-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), state.TotalSupply)
	assert.Equal(t, int64(500), state.AvailableSupply)
	assert.Equal(t, int64(500), state.HolderBalances["0xAlice"])
	assert.Equal(t, 50.0, state.FundingPercent())
	assert.Equal(t, 1, state.HolderCount())
	assert.True(t, state.CheckInvariant())
}

func TestMintDirectAllocation(t *testing.T) {
	p := newProjector(&fakeClock{now: baseTime})

	event := mint("m1", "prop-1", 250, 1)
	event.To = stringPtr("0xSponsor")
	_, err := p.Apply(event)
	require.NoError(t, err)

	state, err := p.GetState("prop-1")
	require.NoError(t, err)
	assert.Equal(t, int64(250), state.TotalSupply)
	assert.Equal(t, int64(0), state.AvailableSupply)
	assert.Equal(t, int64(250), state.HolderBalances["0xSponsor"])
}

func TestApplyIsIdempotent(t *testing.T) {
	p := newProjector(&fakeClock{now: baseTime})

	changed, err := p.Apply(mint("m1", "prop-1", 100, 1))
	require.NoError(t, err)
	assert.True(t, changed)

	// Redelivery of the same event ID must not change anything
	changed, err = p.Apply(mint("m1", "prop-1", 100, 1))
	require.NoError(t, err)
	assert.False(t, changed)

	state, err := p.GetState("prop-1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), state.TotalSupply)
	assert.Equal(t, uint64(1), state.TransactionCount)
}

func TestInsufficientBalanceRejected(t *testing.T) {
	p := newProjector(&fakeClock{now: baseTime})

	_, err := p.Apply(mint("m1", "prop-1", 100, 1))
	require.NoError(t, err)

	before, err := p.GetState("prop-1")
	require.NoError(t, err)

	// 0xBob holds nothing, the transfer must be rejected
	_, err = p.Apply(transfer("t1", "prop-1", stringPtr("0xBob"), stringPtr("0xAlice"), 50, 2))
	require.Error(t, err)

	var rejection *domain.RejectionError
	require.ErrorAs(t, err, &rejection)
	assert.Equal(t, "t1", rejection.EventID)
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)

	// Balances are untouched by the rejection
	after, err := p.GetState("prop-1")
	require.NoError(t, err)
	assert.Equal(t, before.TotalSupply, after.TotalSupply)
	assert.Equal(t, before.AvailableSupply, after.AvailableSupply)
	assert.Equal(t, uint64(1), after.RejectedCount)

	rejected := p.RejectedEvents("prop-1")
	require.Len(t, rejected, 1)
	assert.Equal(t, "t1", rejected[0].EventID)
}

func TestOutOfSequenceBuffering(t *testing.T) {
	p := newProjector(&fakeClock{now: baseTime})

	_, err := p.Apply(mint("m1", "prop-1", 1000, 1))
	require.NoError(t, err)

	// Sequence 3 arrives before sequence 2: it must wait
	changed, err := p.Apply(transfer("t3", "prop-1", stringPtr("0xAlice"), stringPtr("0xBob"), 100, 3))
	require.NoError(t, err)
	assert.False(t, changed)

	state, err := p.GetState("prop-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), state.LastAppliedSequence)

	// Sequence 2 fills the gap, then 3 drains from the buffer
	changed, err = p.Apply(transfer("t2", "prop-1", nil, stringPtr("0xAlice"), 400, 2))
	require.NoError(t, err)
	assert.True(t, changed)

	state, err = p.GetState("prop-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), state.LastAppliedSequence)
	assert.Equal(t, int64(300), state.HolderBalances["0xAlice"])
	assert.Equal(t, int64(100), state.HolderBalances["0xBob"])
	assert.False(t, state.Degraded)
}

func TestStaleSequenceDropped(t *testing.T) {
	p := newProjector(&fakeClock{now: baseTime})

	_, err := p.Apply(mint("m1", "prop-1", 1000, 1))
	require.NoError(t, err)
	_, err = p.Apply(transfer("t1", "prop-1", nil, stringPtr("0xAlice"), 100, 2))
	require.NoError(t, err)

	// A new event reusing an already-applied sequence is replay noise
	changed, err := p.Apply(transfer("t-old", "prop-1", nil, stringPtr("0xBob"), 100, 2))
	require.NoError(t, err)
	assert.False(t, changed)

	state, err := p.GetState("prop-1")
	require.NoError(t, err)
	assert.Empty(t, state.HolderBalances["0xBob"])
	assert.Equal(t, uint64(2), state.LastAppliedSequence)
}

func TestGenesisOutOfOrderBuffers(t *testing.T) {
	p := newProjector(&fakeClock{now: baseTime})

	// The asset's very first arrival is sequence 2: it must wait for the
	// genesis event, not apply ahead of it
	changed, err := p.Apply(transfer("t1", "prop-1", nil, stringPtr("0xAlice"), 300, 2))
	require.NoError(t, err)
	assert.False(t, changed)

	changed, err = p.Apply(mint("m1", "prop-1", 1000, 1))
	require.NoError(t, err)
	assert.True(t, changed)

	state, err := p.GetState("prop-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), state.LastAppliedSequence)
	assert.Equal(t, int64(1000), state.TotalSupply)
	assert.Equal(t, int64(300), state.HolderBalances["0xAlice"])
	assert.False(t, state.Degraded)
	assert.Equal(t, uint64(0), state.RejectedCount)
}

func TestRejectedEventFreesSequenceSlot(t *testing.T) {
	p := newProjector(&fakeClock{now: baseTime})

	// Mint with sequence 2 buffers behind the missing genesis slot
	_, err := p.Apply(mint("m1", "prop-1", 1000, 2))
	require.NoError(t, err)

	// Sequence 1 is a sale out of a supply that does not exist yet: it is
	// rejected, but its slot is consumed so the buffered mint drains
	_, err = p.Apply(transfer("t1", "prop-1", nil, stringPtr("0xAlice"), 300, 1))
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)

	state, err := p.GetState("prop-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), state.LastAppliedSequence)
	assert.Equal(t, int64(1000), state.TotalSupply)
	assert.Equal(t, int64(1000), state.AvailableSupply)
	assert.Equal(t, uint64(1), state.RejectedCount)
	assert.False(t, state.Degraded)
}

func TestTransferWithoutRecipientRejected(t *testing.T) {
	p := newProjector(&fakeClock{now: baseTime})

	_, err := p.Apply(mint("m1", "prop-1", 1000, 1))
	require.NoError(t, err)

	// A transfer with no recipient cannot be applied; it is recorded as a
	// rejection instead of corrupting the balances
	_, err = p.Apply(transfer("t1", "prop-1", nil, nil, 100, 2))
	require.Error(t, err)

	var rejection *domain.RejectionError
	require.ErrorAs(t, err, &rejection)
	assert.ErrorIs(t, err, domain.ErrMalformedEvent)

	state, err := p.GetState("prop-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), state.AvailableSupply)
	assert.Equal(t, uint64(1), state.RejectedCount)
}

func TestSweepBuffersAfterTimeout(t *testing.T) {
	clock := &fakeClock{now: baseTime}
	p := newProjector(clock)

	_, err := p.Apply(mint("m1", "prop-1", 1000, 1))
	require.NoError(t, err)

	// Sequence 3 waits for a predecessor that never comes
	_, err = p.Apply(transfer("t3", "prop-1", nil, stringPtr("0xAlice"), 100, 3))
	require.NoError(t, err)

	// Before the timeout the buffer holds
	p.SweepBuffers()
	state, err := p.GetState("prop-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), state.LastAppliedSequence)

	clock.now = baseTime.Add(time.Minute)
	p.SweepBuffers()

	state, err = p.GetState("prop-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(3), state.LastAppliedSequence)
	assert.Equal(t, int64(100), state.HolderBalances["0xAlice"])
	assert.True(t, state.Degraded)
}

func TestBufferOverflowFlushesBestEffort(t *testing.T) {
	p := newProjector(&fakeClock{now: baseTime})

	_, err := p.Apply(mint("m1", "prop-1", 1000, 1))
	require.NoError(t, err)

	// BufferLimit is 4; the fifth gapped event forces a best-effort flush
	for seq := uint64(3); seq <= 7; seq++ {
		_, err = p.Apply(transfer(
			"t"+string(rune('0'+seq)), "prop-1", nil, stringPtr("0xAlice"), 10, seq))
		require.NoError(t, err)
	}

	state, err := p.GetState("prop-1")
	require.NoError(t, err)
	assert.True(t, state.Degraded)
	assert.Equal(t, int64(50), state.HolderBalances["0xAlice"])
	assert.Equal(t, uint64(7), state.LastAppliedSequence)
}

func TestGetOwnershipOrdering(t *testing.T) {
	p := newProjector(&fakeClock{now: baseTime})

	_, err := p.Apply(mint("m1", "prop-1", 1000, 1))
	require.NoError(t, err)
	_, err = p.Apply(transfer("t1", "prop-1", nil, stringPtr("0xCarol"), 300, 2))
	require.NoError(t, err)
	_, err = p.Apply(transfer("t2", "prop-1", nil, stringPtr("0xAlice"), 300, 3))
	require.NoError(t, err)
	_, err = p.Apply(transfer("t3", "prop-1", nil, stringPtr("0xBob"), 400, 4))
	require.NoError(t, err)

	entries, err := p.GetOwnership("prop-1")
	require.NoError(t, err)
	require.Len(t, entries, 3)

	// Tokens descending, ties broken by wallet ascending
	assert.Equal(t, "0xBob", entries[0].Wallet)
	assert.Equal(t, "0xAlice", entries[1].Wallet)
	assert.Equal(t, "0xCarol", entries[2].Wallet)
}

func TestGetStateUnknownAsset(t *testing.T) {
	p := newProjector(&fakeClock{now: baseTime})

	_, err := p.GetState("prop-unknown")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestHoldingsOfSpansAssets(t *testing.T) {
	p := newProjector(&fakeClock{now: baseTime})

	_, err := p.Apply(mint("m1", "prop-1", 1000, 1))
	require.NoError(t, err)
	_, err = p.Apply(mint("m2", "prop-2", 500, 1))
	require.NoError(t, err)
	_, err = p.Apply(transfer("t1", "prop-1", nil, stringPtr("0xAlice"), 100, 2))
	require.NoError(t, err)
	_, err = p.Apply(transfer("t2", "prop-2", nil, stringPtr("0xAlice"), 50, 2))
	require.NoError(t, err)

	holdings := p.HoldingsOf("0xAlice")
	assert.Equal(t, map[string]int64{"prop-1": 100, "prop-2": 50}, holdings)
	assert.Empty(t, p.HoldingsOf("0xBob"))
}

func TestZeroBalancesAreRemoved(t *testing.T) {
	p := newProjector(&fakeClock{now: baseTime})

	_, err := p.Apply(mint("m1", "prop-1", 100, 1))
	require.NoError(t, err)
	_, err = p.Apply(transfer("t1", "prop-1", nil, stringPtr("0xAlice"), 100, 2))
	require.NoError(t, err)
	_, err = p.Apply(transfer("t2", "prop-1", stringPtr("0xAlice"), stringPtr("0xBob"), 100, 3))
	require.NoError(t, err)

	state, err := p.GetState("prop-1")
	require.NoError(t, err)
	_, held := state.HolderBalances["0xAlice"]
	assert.False(t, held)
	assert.Equal(t, 1, state.HolderCount())
}

func TestDisjointWalletTransfersCommute(t *testing.T) {
	// Transfers touching disjoint wallets yield the same balances in any
	// application order. Events carry no sequence so both orders are legal.
	unsequenced := func(id string, to string, amount int64) *domain.Event {
		return &domain.Event{
			ID:          id,
			Kind:        domain.EventKindTransfer,
			AssetID:     "prop-1",
			To:          stringPtr(to),
			TokenAmount: amount,
			OccurredAt:  baseTime,
		}
	}
	genesis := mint("m1", "prop-1", 1000, 0)
	genesis.Sequence = nil

	forward := newProjector(&fakeClock{now: baseTime})
	_, err := forward.Apply(genesis)
	require.NoError(t, err)
	_, err = forward.Apply(unsequenced("t-a", "0xAlice", 300))
	require.NoError(t, err)
	_, err = forward.Apply(unsequenced("t-b", "0xBob", 200))
	require.NoError(t, err)

	reversed := newProjector(&fakeClock{now: baseTime})
	_, err = reversed.Apply(genesis)
	require.NoError(t, err)
	_, err = reversed.Apply(unsequenced("t-b", "0xBob", 200))
	require.NoError(t, err)
	_, err = reversed.Apply(unsequenced("t-a", "0xAlice", 300))
	require.NoError(t, err)

	forwardState, err := forward.GetState("prop-1")
	require.NoError(t, err)
	reversedState, err := reversed.GetState("prop-1")
	require.NoError(t, err)

	assert.Equal(t, forwardState.HolderBalances, reversedState.HolderBalances)
	assert.Equal(t, forwardState.AvailableSupply, reversedState.AvailableSupply)
	assert.Equal(t, forwardState.TotalSupply, reversedState.TotalSupply)
	assert.True(t, forwardState.CheckInvariant())
}

func TestRederiveRebuildsFromShuffledHistory(t *testing.T) {
	p := newProjector(&fakeClock{now: baseTime})

	events := []domain.Event{
		*transfer("t2", "prop-1", stringPtr("0xAlice"), stringPtr("0xBob"), 200, 3),
		*mint("m1", "prop-1", 1000, 1),
		*transfer("t1", "prop-1", nil, stringPtr("0xAlice"), 500, 2),
	}

	require.NoError(t, p.Rederive("prop-1", events))
	assert.False(t, p.Frozen("prop-1"))

	state, err := p.GetState("prop-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), state.TotalSupply)
	assert.Equal(t, int64(500), state.AvailableSupply)
	assert.Equal(t, int64(300), state.HolderBalances["0xAlice"])
	assert.Equal(t, int64(200), state.HolderBalances["0xBob"])
	assert.True(t, state.CheckInvariant())
}
