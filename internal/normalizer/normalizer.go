package normalizer

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/brickfolio/estate-indexer/internal/adapter"
	"github.com/brickfolio/estate-indexer/internal/domain"
	"github.com/brickfolio/estate-indexer/internal/logger"
)

// Normalizer converts heterogeneous raw ledger records into normalized events.
// It has no side effects beyond pure transformation; rejections are counted
// so operators can spot a misbehaving source.
type Normalizer struct {
	clock adapter.Clock

	rejectedMalformed   uint64
	rejectedUnsupported uint64
}

// New creates a new normalizer
func New(clock adapter.Clock) *Normalizer {
	return &Normalizer{clock: clock}
}

// Normalize converts one raw ledger record into a well-formed event.
// Unknown record kinds are rejected with ErrUnsupportedEventKind and missing
// required fields with ErrMalformedEvent; both are recoverable for the caller.
func (n *Normalizer) Normalize(record *domain.RawRecord) (*domain.Event, error) {
	if record == nil {
		n.rejectedMalformed++
		return nil, fmt.Errorf("nil record: %w", domain.ErrMalformedEvent)
	}

	kind := domain.EventKind(strings.ToLower(strings.TrimSpace(record.Type)))
	if !domain.IsValidEventKind(kind) {
		n.rejectedUnsupported++
		logger.Warn("Rejected record with unsupported kind",
			zap.String("record_id", record.ID),
			zap.String("type", record.Type),
		)
		return nil, fmt.Errorf("record kind %q: %w", record.Type, domain.ErrUnsupportedEventKind)
	}

	if record.AssetID == "" {
		return nil, n.malformed(record, "missing asset_id")
	}
	if record.Timestamp.IsZero() {
		return nil, n.malformed(record, "missing timestamp")
	}

	// The dedup key must be stable across redeliveries. Sources that omit one
	// must at least supply a transaction hash to derive it from.
	id := record.ID
	if id == "" {
		if record.TxHash == "" {
			return nil, n.malformed(record, "missing id and tx_hash")
		}
		id = fmt.Sprintf("%s:%s:%s", record.TxHash, record.AssetID, record.Type)
	}

	event := &domain.Event{
		ID:         id,
		Kind:       kind,
		AssetID:    record.AssetID,
		OccurredAt: record.Timestamp.UTC(),
		ObservedAt: n.clock.Now().UTC(),
		Sequence:   record.Sequence,
		Raw:        record.Payload,
	}

	tokenAmount, err := parseTokenAmount(record.TokenAmount)
	if err != nil {
		return nil, n.malformed(record, err.Error())
	}
	cashAmount, err := parseCashAmount(record.CashAmount)
	if err != nil {
		return nil, n.malformed(record, err.Error())
	}
	event.TokenAmount = tokenAmount
	event.CashAmount = cashAmount

	switch kind {
	case domain.EventKindMint, domain.EventKindBurn:
		if tokenAmount <= 0 {
			return nil, n.malformed(record, "mint/burn requires a positive token_amount")
		}
		// Mint may name a recipient wallet for a direct allocation
		event.To = normalizeAddress(record.ToAddress)
		event.From = normalizeAddress(record.FromAddress)
	case domain.EventKindTransfer:
		if tokenAmount <= 0 {
			return nil, n.malformed(record, "transfer requires a positive token_amount")
		}
		// An empty from marks a primary sale out of the available supply
		event.From = normalizeAddress(record.FromAddress)
		event.To = normalizeAddress(record.ToAddress)
		// Validated after trimming so whitespace-only recipients do not
		// slip through as nil
		if event.To == nil {
			return nil, n.malformed(record, "transfer requires a to_address")
		}
	case domain.EventKindDividend, domain.EventKindFee:
		if cashAmount.LessThanOrEqual(decimal.Zero) {
			return nil, n.malformed(record, "dividend/fee requires a positive cash_amount")
		}
		event.To = normalizeAddress(record.ToAddress)
		event.From = normalizeAddress(record.FromAddress)
	}

	return event, nil
}

// RejectedCounts returns the running tallies of rejected records
func (n *Normalizer) RejectedCounts() (malformed uint64, unsupported uint64) {
	return n.rejectedMalformed, n.rejectedUnsupported
}

func (n *Normalizer) malformed(record *domain.RawRecord, reason string) error {
	n.rejectedMalformed++
	logger.Warn("Rejected malformed record",
		zap.String("record_id", record.ID),
		zap.String("asset_id", record.AssetID),
		zap.String("reason", reason),
	)
	return fmt.Errorf("%s: %w", reason, domain.ErrMalformedEvent)
}

func parseTokenAmount(raw string) (int64, error) {
	if raw == "" {
		return 0, nil
	}
	amount, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid token_amount %q", raw)
	}
	if amount < 0 {
		return 0, fmt.Errorf("negative token_amount %q", raw)
	}
	return amount, nil
}

func parseCashAmount(raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid cash_amount %q", raw)
	}
	if amount.IsNegative() {
		return decimal.Zero, fmt.Errorf("negative cash_amount %q", raw)
	}
	return amount, nil
}

func normalizeAddress(address *string) *string {
	if address == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*address)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
