package projector

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/brickfolio/estate-indexer/internal/adapter"
	"github.com/brickfolio/estate-indexer/internal/domain"
	"github.com/brickfolio/estate-indexer/internal/logger"
)

// Config holds the projector configuration
type Config struct {
	// AppliedIDRetention bounds the per-asset applied-id set used for
	// idempotent replay detection
	AppliedIDRetention int
	// BufferLimit bounds the number of out-of-sequence events held per asset
	BufferLimit int
	// BufferTimeout is how long the projector waits for a missing predecessor
	// before proceeding with best-effort ordering
	BufferTimeout time.Duration
	// RejectedRetention bounds the per-asset list of recent rejections
	RejectedRetention int
}

// DefaultConfig returns the default projector configuration
func DefaultConfig() Config {
	return Config{
		AppliedIDRetention: 4096,
		BufferLimit:        256,
		BufferTimeout:      30 * time.Second,
		RejectedRetention:  64,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.AppliedIDRetention <= 0 {
		c.AppliedIDRetention = d.AppliedIDRetention
	}
	if c.BufferLimit <= 0 {
		c.BufferLimit = d.BufferLimit
	}
	if c.BufferTimeout <= 0 {
		c.BufferTimeout = d.BufferTimeout
	}
	if c.RejectedRetention <= 0 {
		c.RejectedRetention = d.RejectedRetention
	}
	return c
}

// RejectedEvent records one event the projector refused to apply
type RejectedEvent struct {
	EventID    string    `json:"event_id"`
	Reason     string    `json:"reason"`
	RejectedAt time.Time `json:"rejected_at"`
}

// Projector maintains per-asset ownership state from a normalized event
// stream. Application is serialized per asset and fully concurrent across
// assets; queries observe consistent snapshots.
type Projector struct {
	mu     sync.RWMutex
	lanes  map[string]*lane
	config Config
	clock  adapter.Clock
}

// lane is the single-writer application lane for one asset
type lane struct {
	mu       sync.RWMutex
	state    domain.AssetState
	applied  *appliedSet
	buffer   *sequenceBuffer
	frozen   bool
	rejected []RejectedEvent
}

// New creates a new projector
func New(cfg Config, clock adapter.Clock) *Projector {
	return &Projector{
		lanes:  make(map[string]*lane),
		config: cfg.withDefaults(),
		clock:  clock,
	}
}

// Apply applies one normalized event to its asset's projection.
// It returns changed=false for idempotent replays (already-applied IDs),
// stale sequences, and events buffered while waiting for a predecessor.
// Rejections (insufficient balance, malformed mutation) are recorded on the
// lane and returned as a *domain.RejectionError; a rejected event still
// consumes its sequence slot.
func (p *Projector) Apply(event *domain.Event) (bool, error) {
	if event == nil || event.AssetID == "" {
		return false, fmt.Errorf("event without asset id: %w", domain.ErrMalformedEvent)
	}

	ln := p.laneFor(event.AssetID, true)
	ln.mu.Lock()
	defer ln.mu.Unlock()

	if ln.frozen {
		return false, fmt.Errorf("asset %s projection frozen pending re-derivation: %w",
			event.AssetID, domain.ErrInvariantViolation)
	}

	if ln.applied.contains(event.ID) {
		return false, nil
	}

	if event.Sequence != nil && *event.Sequence > 0 {
		seq := *event.Sequence
		switch {
		case seq <= ln.state.LastAppliedSequence:
			// Superseded by an event already applied; replay noise.
			logger.Debug("Dropping stale-sequence event",
				zap.String("asset_id", event.AssetID),
				zap.String("event_id", event.ID),
				zap.Uint64("sequence", seq),
				zap.Uint64("last_applied", ln.state.LastAppliedSequence),
			)
			return false, nil
		case seq > ln.state.LastAppliedSequence+1:
			ln.buffer.add(event, p.clock.Now())
			if ln.buffer.len() > p.config.BufferLimit {
				p.flushBestEffortLocked(ln)
				return true, nil
			}
			return false, nil
		}
	}

	changed, err := p.applyLocked(ln, event)
	if err != nil {
		var rejection *domain.RejectionError
		if errors.As(err, &rejection) && event.Sequence != nil && *event.Sequence > ln.state.LastAppliedSequence {
			// A rejected event still consumes its sequence slot so buffered
			// successors are not stalled behind it
			ln.state.LastAppliedSequence = *event.Sequence
			p.drainBufferLocked(ln)
		}
		return false, err
	}
	p.drainBufferLocked(ln)
	return changed, nil
}

// SweepBuffers releases events that waited longer than the buffer timeout
// for a missing predecessor, applying them in best-effort sequence order and
// flagging the affected assets as degraded. Called periodically by the
// ingestion loop so a permanently missing event cannot stall an asset.
func (p *Projector) SweepBuffers() {
	p.mu.RLock()
	lanes := make([]*lane, 0, len(p.lanes))
	for _, ln := range p.lanes {
		lanes = append(lanes, ln)
	}
	p.mu.RUnlock()

	now := p.clock.Now()
	for _, ln := range lanes {
		ln.mu.Lock()
		if !ln.frozen && ln.buffer.len() > 0 && now.Sub(ln.buffer.oldestAt()) >= p.config.BufferTimeout {
			p.flushBestEffortLocked(ln)
		}
		ln.mu.Unlock()
	}
}

// GetState returns a consistent snapshot of the asset's projected state
func (p *Projector) GetState(assetID string) (domain.AssetState, error) {
	ln := p.laneFor(assetID, false)
	if ln == nil {
		return domain.AssetState{}, fmt.Errorf("asset %s: %w", assetID, domain.ErrNotFound)
	}
	ln.mu.RLock()
	defer ln.mu.RUnlock()
	return ln.state.Clone(), nil
}

// GetOwnership returns the asset's holder ledger ordered by tokens owned
// descending, ties broken by wallet address ascending
func (p *Projector) GetOwnership(assetID string) ([]domain.OwnershipEntry, error) {
	state, err := p.GetState(assetID)
	if err != nil {
		return nil, err
	}
	entries := make([]domain.OwnershipEntry, 0, len(state.HolderBalances))
	for wallet, balance := range state.HolderBalances {
		entries = append(entries, domain.OwnershipEntry{Wallet: wallet, TokensOwned: balance})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].TokensOwned != entries[j].TokensOwned {
			return entries[i].TokensOwned > entries[j].TokensOwned
		}
		return entries[i].Wallet < entries[j].Wallet
	})
	return entries, nil
}

// BalanceOf returns the wallet's projected balance for one asset (0 when none)
func (p *Projector) BalanceOf(assetID string, wallet string) int64 {
	ln := p.laneFor(assetID, false)
	if ln == nil {
		return 0
	}
	ln.mu.RLock()
	defer ln.mu.RUnlock()
	return ln.state.HolderBalances[wallet]
}

// AssetIDs returns the ids of all assets with a projection
func (p *Projector) AssetIDs() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := make([]string, 0, len(p.lanes))
	for id := range p.lanes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// HoldingsOf returns every (assetID, balance) pair where the wallet holds a
// positive balance
func (p *Projector) HoldingsOf(wallet string) map[string]int64 {
	p.mu.RLock()
	lanes := make(map[string]*lane, len(p.lanes))
	for id, ln := range p.lanes {
		lanes[id] = ln
	}
	p.mu.RUnlock()

	holdings := make(map[string]int64)
	for assetID, ln := range lanes {
		ln.mu.RLock()
		if balance := ln.state.HolderBalances[wallet]; balance > 0 {
			holdings[assetID] = balance
		}
		ln.mu.RUnlock()
	}
	return holdings
}

// RejectedEvents returns the recent rejections recorded for an asset
func (p *Projector) RejectedEvents(assetID string) []RejectedEvent {
	ln := p.laneFor(assetID, false)
	if ln == nil {
		return nil
	}
	ln.mu.RLock()
	defer ln.mu.RUnlock()
	out := make([]RejectedEvent, len(ln.rejected))
	copy(out, ln.rejected)
	return out
}

// Frozen reports whether the asset's projection halted on an invariant violation
func (p *Projector) Frozen(assetID string) bool {
	ln := p.laneFor(assetID, false)
	if ln == nil {
		return false
	}
	ln.mu.RLock()
	defer ln.mu.RUnlock()
	return ln.frozen
}

// Rederive rebuilds an asset's projection from its full event history.
// This is the recovery path after an invariant violation; the supplied events
// are applied in deterministic order onto a fresh state.
func (p *Projector) Rederive(assetID string, events []domain.Event) error {
	sorted := make([]domain.Event, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		si, sj := sorted[i].SequenceOrZero(), sorted[j].SequenceOrZero()
		if si != 0 && sj != 0 && si != sj {
			return si < sj
		}
		return sorted[i].OccurredAt.Before(sorted[j].OccurredAt)
	})

	fresh := &lane{
		state:   newAssetState(assetID),
		applied: newAppliedSet(p.config.AppliedIDRetention),
		buffer:  newSequenceBuffer(),
	}
	for i := range sorted {
		event := &sorted[i]
		if event.AssetID != assetID || fresh.applied.contains(event.ID) {
			continue
		}
		if _, err := p.applyLocked(fresh, event); err != nil {
			var rejection *domain.RejectionError
			if errors.As(err, &rejection) {
				// Rejections are re-recorded during replay, not fatal.
				continue
			}
			return fmt.Errorf("re-derivation of asset %s failed: %w", assetID, err)
		}
	}

	p.mu.Lock()
	p.lanes[assetID] = fresh
	p.mu.Unlock()

	logger.Info("Re-derived asset projection from history",
		zap.String("asset_id", assetID),
		zap.Int("events", len(sorted)),
	)
	return nil
}

func (p *Projector) laneFor(assetID string, create bool) *lane {
	p.mu.RLock()
	ln, ok := p.lanes[assetID]
	p.mu.RUnlock()
	if ok || !create {
		return ln
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if ln, ok = p.lanes[assetID]; ok {
		return ln
	}
	ln = &lane{
		state:   newAssetState(assetID),
		applied: newAppliedSet(p.config.AppliedIDRetention),
		buffer:  newSequenceBuffer(),
	}
	p.lanes[assetID] = ln
	return ln
}

// applyLocked mutates the lane state for one event. Caller holds ln.mu.
func (p *Projector) applyLocked(ln *lane, event *domain.Event) (bool, error) {
	if err := p.mutateLocked(ln, event); err != nil {
		return false, err
	}

	if !ln.state.CheckInvariant() {
		ln.frozen = true
		logger.Error(domain.ErrInvariantViolation,
			zap.String("asset_id", event.AssetID),
			zap.String("event_id", event.ID),
			zap.Int64("total_supply", ln.state.TotalSupply),
			zap.Int64("available_supply", ln.state.AvailableSupply),
		)
		return false, fmt.Errorf("asset %s after event %s: %w",
			event.AssetID, event.ID, domain.ErrInvariantViolation)
	}

	ln.applied.add(event.ID)
	ln.state.TransactionCount++
	if event.Sequence != nil {
		ln.state.LastAppliedSequence = *event.Sequence
	}
	ln.state.LastUpdated = p.clock.Now().UTC()
	return true, nil
}

// mutateLocked performs the balance mutation for one event kind, leaving the
// state untouched on rejection
func (p *Projector) mutateLocked(ln *lane, event *domain.Event) error {
	state := &ln.state
	amount := event.TokenAmount

	switch event.Kind {
	case domain.EventKindMint:
		state.TotalSupply += amount
		if event.To != nil {
			state.HolderBalances[*event.To] += amount
		} else {
			state.AvailableSupply += amount
		}

	case domain.EventKindTransfer:
		if event.To == nil {
			return p.rejectLocked(ln, event, domain.ErrMalformedEvent)
		}
		if event.From == nil {
			// Primary sale out of the available supply
			if state.AvailableSupply < amount {
				return p.rejectLocked(ln, event, domain.ErrInsufficientBalance)
			}
			state.AvailableSupply -= amount
		} else {
			if state.HolderBalances[*event.From] < amount {
				return p.rejectLocked(ln, event, domain.ErrInsufficientBalance)
			}
			state.HolderBalances[*event.From] -= amount
			if state.HolderBalances[*event.From] == 0 {
				delete(state.HolderBalances, *event.From)
			}
		}
		state.HolderBalances[*event.To] += amount

	case domain.EventKindBurn:
		if event.From != nil {
			if state.HolderBalances[*event.From] < amount {
				return p.rejectLocked(ln, event, domain.ErrInsufficientBalance)
			}
			state.HolderBalances[*event.From] -= amount
			if state.HolderBalances[*event.From] == 0 {
				delete(state.HolderBalances, *event.From)
			}
		} else {
			if state.AvailableSupply < amount {
				return p.rejectLocked(ln, event, domain.ErrInsufficientBalance)
			}
			state.AvailableSupply -= amount
		}
		state.TotalSupply -= amount

	case domain.EventKindDividend, domain.EventKindFee:
		// Cash-only events; token balances are untouched. They are applied
		// (and deduplicated) so the history and tax engine see them once.

	default:
		return fmt.Errorf("event kind %q: %w", event.Kind, domain.ErrUnsupportedEventKind)
	}

	return nil
}

// rejectLocked records a rejection on the lane and returns the typed error.
// These indicate an upstream data or ordering bug and are surfaced to
// operators rather than silently dropped.
func (p *Projector) rejectLocked(ln *lane, event *domain.Event, reason error) error {
	ln.state.RejectedCount++
	ln.rejected = append(ln.rejected, RejectedEvent{
		EventID:    event.ID,
		Reason:     reason.Error(),
		RejectedAt: p.clock.Now().UTC(),
	})
	if len(ln.rejected) > p.config.RejectedRetention {
		ln.rejected = ln.rejected[len(ln.rejected)-p.config.RejectedRetention:]
	}
	logger.Warn("Rejected event",
		zap.String("asset_id", event.AssetID),
		zap.String("event_id", event.ID),
		zap.String("kind", string(event.Kind)),
		zap.String("reason", reason.Error()),
	)
	return &domain.RejectionError{EventID: event.ID, AssetID: event.AssetID, Reason: reason}
}

// drainBufferLocked applies buffered successors that are now in sequence
func (p *Projector) drainBufferLocked(ln *lane) {
	for {
		next := ln.buffer.take(ln.state.LastAppliedSequence + 1)
		if next == nil {
			return
		}
		if ln.applied.contains(next.ID) {
			continue
		}
		if _, err := p.applyLocked(ln, next); err != nil {
			// Rejections were recorded; an invariant violation froze the lane.
			return
		}
	}
}

// flushBestEffortLocked applies everything in the buffer in sequence order,
// accepting gaps, and flags the asset degraded until a reconciliation event
// (a genesis-style mint snapshot) self-heals it
func (p *Projector) flushBestEffortLocked(ln *lane) {
	pending := ln.buffer.drain()
	if len(pending) == 0 {
		return
	}
	logger.Warn("Flushing out-of-sequence buffer with best-effort ordering",
		zap.String("asset_id", ln.state.AssetID),
		zap.Int("events", len(pending)),
		zap.Uint64("last_applied", ln.state.LastAppliedSequence),
	)
	ln.state.Degraded = true
	for _, event := range pending {
		if ln.applied.contains(event.ID) {
			continue
		}
		if _, err := p.applyLocked(ln, event); err != nil {
			if ln.frozen {
				return
			}
		}
	}
}

func newAssetState(assetID string) domain.AssetState {
	return domain.AssetState{
		AssetID:        assetID,
		HolderBalances: make(map[string]int64),
	}
}
