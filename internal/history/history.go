package history

import (
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/brickfolio/estate-indexer/internal/adapter"
	"github.com/brickfolio/estate-indexer/internal/domain"
)

// Entry is one retained event plus its pagination anchor. Anchors are ULIDs
// assigned at append time, so they are unique and observation-ordered.
type Entry struct {
	Anchor string       `json:"anchor"`
	Event  domain.Event `json:"event"`
}

// Filter selects events from the retained history
type Filter struct {
	AssetID string
	Kinds   []domain.EventKind
	From    time.Time
	To      time.Time
	Limit   int
	// Before is the anchor cursor from a previous page; pagination by anchor
	// stays stable under concurrent appends, unlike an offset
	Before string
}

// History is the append-only retained event log backing the recent-activity
// feeds, portfolio replay, and projector re-derivation. Appends take the
// write lock; any number of readers may query concurrently.
type History struct {
	mu      sync.RWMutex
	entries []Entry
	byID    map[string]struct{}
	clock   adapter.Clock
}

// New creates an empty history
func New(clock adapter.Clock) *History {
	return &History{
		byID:  make(map[string]struct{}),
		clock: clock,
	}
}

// Append retains one accepted event. Appending an already-retained event ID
// is a no-op, mirroring the projector's idempotence.
func (h *History) Append(event domain.Event) Entry {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.byID[event.ID]; ok {
		for i := len(h.entries) - 1; i >= 0; i-- {
			if h.entries[i].Event.ID == event.ID {
				return h.entries[i]
			}
		}
	}

	entry := Entry{
		Anchor: ulid.MustNewDefault(h.clock.Now()).String(),
		Event:  event,
	}
	h.entries = append(h.entries, entry)
	h.byID[event.ID] = struct{}{}
	return entry
}

// Len returns the number of retained events
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.entries)
}

// Query returns the most recent events matching the filter, strictly ordered
// by (occurredAt desc, sequence desc). The returned cursor is the anchor to
// pass as Before for the next page, empty when the history is exhausted.
func (h *History) Query(filter Filter) ([]Entry, string) {
	h.mu.RLock()
	matched := make([]Entry, 0, 64)
	var before *Entry
	for i := range h.entries {
		entry := &h.entries[i]
		if entry.Anchor == filter.Before {
			before = entry
		}
		if h.matches(entry, filter) {
			matched = append(matched, *entry)
		}
	}
	h.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		return entryLess(&matched[j], &matched[i])
	})

	// Skip everything at or above the cursor position in the ordering
	if before != nil {
		cut := 0
		for cut < len(matched) && !entryLess(&matched[cut], before) {
			cut++
		}
		matched = matched[cut:]
	}

	limit := filter.Limit
	if limit <= 0 || limit > len(matched) {
		limit = len(matched)
	}
	page := matched[:limit]

	next := ""
	if limit < len(matched) && limit > 0 {
		next = page[limit-1].Anchor
	}
	return page, next
}

// EventsForAsset returns every retained event for one asset, in retention
// order. Used by projector re-derivation.
func (h *History) EventsForAsset(assetID string) []domain.Event {
	h.mu.RLock()
	defer h.mu.RUnlock()
	events := make([]domain.Event, 0, 64)
	for i := range h.entries {
		if h.entries[i].Event.AssetID == assetID {
			events = append(events, h.entries[i].Event)
		}
	}
	return events
}

// EventsForWallet returns every retained event touching the wallet with
// occurredAt at or before asOf, sorted ascending by (occurredAt, sequence).
// This is the replay input for holdings, performance, and tax queries.
func (h *History) EventsForWallet(wallet string, asOf time.Time) []domain.Event {
	h.mu.RLock()
	events := make([]domain.Event, 0, 64)
	for i := range h.entries {
		event := &h.entries[i].Event
		if event.OccurredAt.After(asOf) {
			continue
		}
		if touchesWallet(event, wallet) {
			events = append(events, *event)
		}
	}
	h.mu.RUnlock()

	sort.SliceStable(events, func(i, j int) bool {
		if !events[i].OccurredAt.Equal(events[j].OccurredAt) {
			return events[i].OccurredAt.Before(events[j].OccurredAt)
		}
		return events[i].SequenceOrZero() < events[j].SequenceOrZero()
	})
	return events
}

func (h *History) matches(entry *Entry, filter Filter) bool {
	event := &entry.Event
	if filter.AssetID != "" && event.AssetID != filter.AssetID {
		return false
	}
	if len(filter.Kinds) > 0 {
		found := false
		for _, kind := range filter.Kinds {
			if event.Kind == kind {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if !filter.From.IsZero() && event.OccurredAt.Before(filter.From) {
		return false
	}
	if !filter.To.IsZero() && event.OccurredAt.After(filter.To) {
		return false
	}
	return true
}

// entryLess orders entries ascending by (occurredAt, sequence, anchor);
// queries read it reversed for the descending feed order
func entryLess(a, b *Entry) bool {
	if !a.Event.OccurredAt.Equal(b.Event.OccurredAt) {
		return a.Event.OccurredAt.Before(b.Event.OccurredAt)
	}
	if a.Event.SequenceOrZero() != b.Event.SequenceOrZero() {
		return a.Event.SequenceOrZero() < b.Event.SequenceOrZero()
	}
	return a.Anchor < b.Anchor
}

func touchesWallet(event *domain.Event, wallet string) bool {
	if event.From != nil && *event.From == wallet {
		return true
	}
	return event.To != nil && *event.To == wallet
}
