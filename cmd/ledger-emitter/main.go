package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/brickfolio/estate-indexer/internal/adapter"
	"github.com/brickfolio/estate-indexer/internal/config"
	"github.com/brickfolio/estate-indexer/internal/domain"
	"github.com/brickfolio/estate-indexer/internal/logger"
	"github.com/brickfolio/estate-indexer/internal/providers/jetstream"
)

var (
	configFile = flag.String("config", "", "Path to configuration file")
	envPath    = flag.String("env", "config/", "Path to environment files")
	inputFile  = flag.String("input", "", "Path to a newline-delimited JSON file of raw ledger records")
)

// ledger-emitter publishes raw ledger records onto the stream, one JSON
// record per input line. It is used for backfills and local seeding; the
// normal write path is the upstream ledger publishing directly.
func main() {
	flag.Parse()

	if *inputFile == "" {
		fmt.Fprintln(os.Stderr, "missing required -input flag")
		os.Exit(1)
	}

	// Load configuration
	config.ChdirRepoRoot()
	cfg, err := config.LoadLedgerEmitterConfig(*configFile, *envPath)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// Initialize logger
	err = logger.Initialize(logger.Config{
		Debug:           cfg.Debug,
		SentryDSN:       cfg.SentryDSN,
		BreadcrumbLevel: zapcore.InfoLevel,
		Tags: map[string]string{
			"service": "ledger-emitter",
		},
	})
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Flush(2 * time.Second)

	// Connect the publisher
	publisher, err := jetstream.NewPublisher(jetstream.Config{
		URL:            cfg.NATS.URL,
		StreamName:     cfg.NATS.StreamName,
		MaxReconnects:  cfg.NATS.MaxReconnects,
		ReconnectWait:  cfg.NATS.ReconnectWait,
		ConnectionName: cfg.NATS.ConnectionName,
	}, adapter.NewNatsJetStream(), adapter.NewJSON())
	if err != nil {
		logger.Fatal("Failed to connect to NATS", zap.Error(err))
	}
	defer publisher.Close()

	file, err := os.Open(*inputFile)
	if err != nil {
		logger.Fatal("Failed to open input file", zap.Error(err), zap.String("path", *inputFile))
	}
	defer func() { _ = file.Close() }()

	ctx := context.Background()
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var published, skipped int
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var record domain.RawRecord
		if err := json.Unmarshal(line, &record); err != nil {
			logger.Warn("Skipping unparseable line", zap.Error(err))
			skipped++
			continue
		}

		if err := publisher.PublishRecord(ctx, &record); err != nil {
			logger.Fatal("Failed to publish record",
				zap.Error(err),
				zap.String("record_id", record.ID),
			)
		}
		published++
	}
	if err := scanner.Err(); err != nil {
		logger.Fatal("Failed to read input file", zap.Error(err))
	}

	logger.Info("Backfill complete",
		zap.Int("published", published),
		zap.Int("skipped", skipped),
	)
}
