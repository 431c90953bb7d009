package ingestor

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/brickfolio/estate-indexer/internal/adapter"
	"github.com/brickfolio/estate-indexer/internal/domain"
	"github.com/brickfolio/estate-indexer/internal/history"
	"github.com/brickfolio/estate-indexer/internal/logger"
	"github.com/brickfolio/estate-indexer/internal/messaging"
	"github.com/brickfolio/estate-indexer/internal/normalizer"
	"github.com/brickfolio/estate-indexer/internal/projector"
	"github.com/brickfolio/estate-indexer/internal/store"
)

// Config holds the configuration for the ledger ingestor
type Config struct {
	// Source labels the ingest cursor row, e.g. the JetStream stream name
	Source string
	// Lanes is the number of single-worker pools records are sharded into
	// by asset id. Records for one asset always land in the same lane, so
	// per-asset submission order is preserved while assets run in parallel.
	Lanes int
	// SweepInterval is how often buffered out-of-sequence events are
	// checked against their timeout
	SweepInterval time.Duration
	// CursorFlushInterval is how often the resume cursor is persisted
	CursorFlushInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.Source == "" {
		c.Source = "ledger"
	}
	if c.Lanes <= 0 {
		c.Lanes = 4
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 5 * time.Second
	}
	if c.CursorFlushInterval <= 0 {
		c.CursorFlushInterval = 10 * time.Second
	}
	return c
}

// Ingestor defines the interface for the ledger ingest pipeline
type Ingestor interface {
	// Run replays the persisted audit trail and then consumes live records
	// until ctx is canceled
	Run(ctx context.Context) error
	// Close stops the lane pools and releases resources
	Close()
}

type ingestor struct {
	subscriber messaging.Subscriber
	normalizer *normalizer.Normalizer
	projector  *projector.Projector
	history    *history.History
	store      store.Store
	clock      adapter.Clock
	config     Config

	lanes []pond.Pool

	cursorMu    sync.Mutex
	cursor      uint64
	cursorDirty bool
}

// New creates a new ledger ingestor
func New(
	cfg Config,
	subscriber messaging.Subscriber,
	norm *normalizer.Normalizer,
	proj *projector.Projector,
	hist *history.History,
	st store.Store,
	clock adapter.Clock,
) Ingestor {
	cfg = cfg.withDefaults()

	lanes := make([]pond.Pool, cfg.Lanes)
	for i := range lanes {
		// One worker per lane keeps records for the same asset strictly
		// in submission order
		lanes[i] = pond.NewPool(1)
	}

	return &ingestor{
		subscriber: subscriber,
		normalizer: norm,
		projector:  proj,
		history:    hist,
		store:      st,
		clock:      clock,
		config:     cfg,
		lanes:      lanes,
	}
}

// Run starts the ingest pipeline. The persisted audit trail is replayed
// first so projections survive restarts, then the live subscription is
// held open with exponential backoff on failure.
func (i *ingestor) Run(ctx context.Context) error {
	if err := i.replay(ctx); err != nil {
		return fmt.Errorf("failed to replay audit trail: %w", err)
	}

	cursor, err := i.store.GetIngestCursor(ctx, i.config.Source)
	if err != nil {
		return fmt.Errorf("failed to load ingest cursor: %w", err)
	}
	i.cursor = cursor
	logger.Info("Ingest cursor loaded",
		zap.String("source", i.config.Source),
		zap.Uint64("cursor", cursor),
	)

	go i.sweepLoop(ctx)
	go i.cursorLoop(ctx)

	operation := func() error {
		err := i.subscriber.SubscribeRecords(ctx, i.handleRecord)
		if err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
			return backoff.Permanent(err)
		}
		if err != nil {
			logger.Warn("Subscription dropped, reconnecting", zap.Error(err))
		}
		return err
	}

	err = backoff.Retry(operation, backoff.WithContext(newSubscribeBackOff(), ctx))
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func newSubscribeBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 30 * time.Second
	// Keep retrying for the lifetime of the process
	b.MaxElapsedTime = 0
	return b
}

// replay rebuilds the in-memory history and projections from the
// persisted audit trail. Rows are ordered by occurrence so rejections
// here indicate genuinely bad history, not delivery artifacts.
func (i *ingestor) replay(ctx context.Context) error {
	events, err := i.store.ListAllEvents(ctx)
	if err != nil {
		return err
	}

	var rejected int
	for idx := range events {
		event := events[idx]
		if _, err := i.projector.Apply(&event); err != nil {
			rejected++
			logger.Warn("Replayed event rejected",
				zap.String("event_id", event.ID),
				zap.String("asset_id", event.AssetID),
				zap.Error(err),
			)
			continue
		}
		i.history.Append(event)
	}
	i.projector.SweepBuffers()

	logger.Info("Audit trail replayed",
		zap.Int("events", len(events)),
		zap.Int("rejected", rejected),
	)
	return nil
}

// handleRecord processes one raw record on its asset lane and returns after
// the lane finishes, so the broker only acks records that were persisted and
// applied. Only a persist failure is returned (and redelivered); rejections
// are terminal and acked.
func (i *ingestor) handleRecord(record *domain.RawRecord, streamSequence uint64) error {
	if streamSequence != 0 && streamSequence <= i.currentCursor() {
		// Already processed in a previous run or redelivered by the broker
		logger.Debug("Skipping already-processed record",
			zap.String("record_id", record.ID),
			zap.Uint64("stream_sequence", streamSequence),
		)
		return nil
	}

	event, err := i.normalizer.Normalize(record)
	if err != nil {
		// Malformed and unsupported records never become valid on redelivery
		logger.Warn("Record rejected by normalizer",
			zap.String("record_id", record.ID),
			zap.String("asset_id", record.AssetID),
			zap.Error(err),
		)
		i.advanceCursor(streamSequence)
		return nil
	}

	return i.laneFor(event.AssetID).SubmitErr(func() error {
		return i.processEvent(event, streamSequence)
	}).Wait()
}

func (i *ingestor) processEvent(event *domain.Event, streamSequence uint64) error {
	ctx := context.Background()

	insert := func() error {
		return i.store.InsertLedgerEvent(ctx, event)
	}
	if err := backoff.Retry(insert, backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5)); err != nil {
		// Surfaced to the subscriber without an ack so the broker
		// redelivers once the store recovers
		logger.Error(err, zap.String("message", "Failed to persist ledger event"),
			zap.String("event_id", event.ID))
		return err
	}

	if _, err := i.projector.Apply(event); err != nil {
		if errors.Is(err, domain.ErrInvariantViolation) {
			i.rederive(event.AssetID)
		} else {
			logger.Warn("Event rejected by projector",
				zap.String("event_id", event.ID),
				zap.String("asset_id", event.AssetID),
				zap.Error(err),
			)
		}
	} else {
		// Only accepted events enter the retained history the portfolio
		// engines replay
		i.history.Append(*event)
	}

	i.advanceCursor(streamSequence)
	return nil
}

// rederive rebuilds a frozen asset lane from the full event history
func (i *ingestor) rederive(assetID string) {
	logger.Warn("Invariant violation, rederiving asset state",
		zap.String("asset_id", assetID),
	)
	events := i.history.EventsForAsset(assetID)
	if err := i.projector.Rederive(assetID, events); err != nil {
		logger.Error(err, zap.String("message", "Failed to rederive asset state"),
			zap.String("asset_id", assetID))
	}
}

func (i *ingestor) laneFor(assetID string) pond.Pool {
	h := fnv.New32a()
	_, _ = h.Write([]byte(assetID))
	return i.lanes[int(h.Sum32())%len(i.lanes)]
}

func (i *ingestor) currentCursor() uint64 {
	i.cursorMu.Lock()
	defer i.cursorMu.Unlock()
	return i.cursor
}

func (i *ingestor) advanceCursor(streamSequence uint64) {
	if streamSequence == 0 {
		return
	}
	i.cursorMu.Lock()
	defer i.cursorMu.Unlock()
	if streamSequence > i.cursor {
		i.cursor = streamSequence
		i.cursorDirty = true
	}
}

func (i *ingestor) flushCursor(ctx context.Context) {
	i.cursorMu.Lock()
	cursor, dirty := i.cursor, i.cursorDirty
	i.cursorDirty = false
	i.cursorMu.Unlock()

	if !dirty {
		return
	}
	if err := i.store.SetIngestCursor(ctx, i.config.Source, cursor); err != nil {
		logger.Error(err, zap.String("message", "Failed to persist ingest cursor"))
		i.cursorMu.Lock()
		i.cursorDirty = true
		i.cursorMu.Unlock()
	}
}

func (i *ingestor) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(i.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			i.projector.SweepBuffers()
		}
	}
}

func (i *ingestor) cursorLoop(ctx context.Context) {
	ticker := time.NewTicker(i.config.CursorFlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			i.flushCursor(context.Background())
			return
		case <-ticker.C:
			i.flushCursor(ctx)
		}
	}
}

// Close drains the lane pools and closes the subscription
func (i *ingestor) Close() {
	for _, lane := range i.lanes {
		lane.StopAndWait()
	}
	i.flushCursor(context.Background())
	i.subscriber.Close()
}
