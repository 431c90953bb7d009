package jetstream

import (
	"context"
	"fmt"

	natsjetstream "github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/brickfolio/estate-indexer/internal/adapter"
	"github.com/brickfolio/estate-indexer/internal/domain"
	"github.com/brickfolio/estate-indexer/internal/logger"
	"github.com/brickfolio/estate-indexer/internal/messaging"
)

type subscriber struct {
	nc     adapter.NatsConn
	js     adapter.JetStream
	json   adapter.JSON
	config Config
}

// NewSubscriber creates a new NATS JetStream subscriber for raw ledger records
func NewSubscriber(cfg Config, natsJS adapter.NatsJetStream, jsonAdapter adapter.JSON) (messaging.Subscriber, error) {
	nc, js, err := connect(cfg, natsJS)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS and create JetStream: %w", err)
	}

	return &subscriber{
		nc:     nc,
		js:     js,
		json:   jsonAdapter,
		config: cfg,
	}, nil
}

// SubscribeRecords consumes raw ledger records from the durable consumer
// until ctx is canceled. Messages are acked only after the handler succeeds,
// so redelivery covers transient failures (at-least-once).
func (s *subscriber) SubscribeRecords(ctx context.Context, handler messaging.RecordHandler) error {
	consumerConfig := natsjetstream.ConsumerConfig{
		Durable:       s.config.ConsumerName,
		AckPolicy:     natsjetstream.AckExplicitPolicy,
		AckWait:       s.config.AckWait,
		MaxDeliver:    s.config.MaxDeliver,
		FilterSubject: "ledger.records.>",
	}

	consumer, err := s.js.CreateOrUpdateConsumer(ctx, s.config.StreamName, consumerConfig)
	if err != nil {
		return fmt.Errorf("failed to create/update consumer: %w", err)
	}

	consumerInfo, err := consumer.Info(ctx)
	if err != nil {
		return fmt.Errorf("failed to get consumer info: %w", err)
	}
	logger.Info("Consumer created/retrieved", zap.String("consumer", consumerInfo.Name))

	consumeCtx, err := consumer.Consume(func(msg adapter.Message) {
		s.handleMessage(msg, handler)
	})
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}
	defer consumeCtx.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-consumeCtx.Closed():
		return fmt.Errorf("consumer closed unexpectedly")
	}
}

func (s *subscriber) handleMessage(msg adapter.Message, handler messaging.RecordHandler) {
	var record domain.RawRecord
	if err := s.json.Unmarshal(msg.Data(), &record); err != nil {
		logger.Error(err, zap.String("message", "Failed to unmarshal ledger record, terminating delivery"))
		// Redelivery cannot fix an unparseable payload
		_ = msg.Term()
		return
	}

	var streamSequence uint64
	if metadata, err := msg.Metadata(); err == nil {
		streamSequence = metadata.Sequence.Stream
	}

	if err := handler(&record, streamSequence); err != nil {
		logger.Warn("Record handler failed, requesting redelivery",
			zap.String("record_id", record.ID),
			zap.Error(err),
		)
		_ = msg.Nak()
		return
	}

	if err := msg.Ack(); err != nil {
		logger.Error(err, zap.String("message", "Failed to ack message"))
	}
}

// Close closes the NATS connection
func (s *subscriber) Close() {
	if s.nc != nil {
		s.nc.Close()
	}
}
