package jetstream

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/brickfolio/estate-indexer/internal/adapter"
	"github.com/brickfolio/estate-indexer/internal/domain"
	"github.com/brickfolio/estate-indexer/internal/logger"
	"github.com/brickfolio/estate-indexer/internal/messaging"
)

// Config holds the configuration for NATS JetStream connection
type Config struct {
	URL            string
	StreamName     string
	ConsumerName   string
	MaxReconnects  int
	ReconnectWait  time.Duration
	ConnectionName string
	AckWait        time.Duration
	MaxDeliver     int
}

func connect(cfg Config, natsJS adapter.NatsJetStream) (adapter.NatsConn, adapter.JetStream, error) {
	opts := []nats.Option{
		nats.Name(cfg.ConnectionName),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logger.Error(err, zap.String("message", "Disconnected from NATS"))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("Reconnected to NATS", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Info("NATS connection closed")
		}),
	}

	return natsJS.Connect(cfg.URL, opts...)
}

type publisher struct {
	nc         adapter.NatsConn
	js         adapter.JetStream
	streamName string
	json       adapter.JSON
	closeChan  chan struct{}
}

// NewPublisher creates a new NATS JetStream publisher for raw ledger records
func NewPublisher(cfg Config, natsJS adapter.NatsJetStream, jsonAdapter adapter.JSON) (messaging.Publisher, error) {
	nc, js, err := connect(cfg, natsJS)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS and create JetStream: %w", err)
	}

	return &publisher{
		nc:         nc,
		js:         js,
		streamName: cfg.StreamName,
		json:       jsonAdapter,
		closeChan:  make(chan struct{}),
	}, nil
}

// PublishRecord publishes a raw ledger record to NATS JetStream
func (p *publisher) PublishRecord(ctx context.Context, record *domain.RawRecord) error {
	logger.Debug("Publishing ledger record", zap.Any("record", record))

	data, err := p.json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	if _, err = p.js.Publish(ctx, p.buildSubject(record), data); err != nil {
		return fmt.Errorf("failed to publish record: %w", err)
	}

	return nil
}

// buildSubject constructs the NATS subject based on the record
// Format: ledger.records.{type}, e.g. ledger.records.transfer
func (p *publisher) buildSubject(record *domain.RawRecord) string {
	kind := strings.ToLower(strings.TrimSpace(record.Type))
	if kind == "" {
		kind = "unknown"
	}
	return fmt.Sprintf("ledger.records.%s", kind)
}

// Close closes the NATS connection
func (p *publisher) Close() {
	if p.nc == nil {
		return
	}
	p.nc.Close()
	close(p.closeChan)
}

// CloseChan returns a channel that is closed when the publisher is closed
func (p *publisher) CloseChan() <-chan struct{} {
	return p.closeChan
}
