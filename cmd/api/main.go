package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/brickfolio/estate-indexer/internal/adapter"
	"github.com/brickfolio/estate-indexer/internal/api/middleware"
	"github.com/brickfolio/estate-indexer/internal/api/server"
	"github.com/brickfolio/estate-indexer/internal/api/shared/executor"
	"github.com/brickfolio/estate-indexer/internal/config"
	"github.com/brickfolio/estate-indexer/internal/history"
	"github.com/brickfolio/estate-indexer/internal/ingestor"
	"github.com/brickfolio/estate-indexer/internal/logger"
	"github.com/brickfolio/estate-indexer/internal/normalizer"
	"github.com/brickfolio/estate-indexer/internal/portfolio"
	"github.com/brickfolio/estate-indexer/internal/projector"
	"github.com/brickfolio/estate-indexer/internal/providers/jetstream"
	"github.com/brickfolio/estate-indexer/internal/store"
)

var (
	configFile = flag.String("config", "", "Path to configuration file")
	envPath    = flag.String("env", "config/", "Path to environment files")
)

func main() {
	flag.Parse()

	// Load configuration
	config.ChdirRepoRoot()
	cfg, err := config.LoadAPIConfig(*configFile, *envPath)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize logger with sentry integration
	err = logger.Initialize(logger.Config{
		Debug:           cfg.Debug,
		SentryDSN:       cfg.SentryDSN,
		BreadcrumbLevel: zapcore.InfoLevel,
		Tags: map[string]string{
			"service": "api-server",
		},
	})
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Flush(2 * time.Second)
	logger.InfoCtx(ctx, "Starting Brickfolio Estate Indexer API")

	// Connect to database
	db, err := gorm.Open(postgres.Open(cfg.Database.DSN()), &gorm.Config{})
	if err != nil {
		logger.FatalCtx(ctx, "Failed to connect to database", zap.Error(err))
	}

	// Configure connection pool
	if err := store.ConfigureConnectionPool(db, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, cfg.Database.ConnMaxLifetime, cfg.Database.ConnMaxIdleTime); err != nil {
		logger.FatalCtx(ctx, "Failed to configure connection pool", zap.Error(err))
	}

	// Apply schema migrations
	if err := store.Migrate(db); err != nil {
		logger.FatalCtx(ctx, "Failed to migrate database", zap.Error(err))
	}
	logger.InfoCtx(ctx, "Connected to database",
		zap.Int("max_open_conns", cfg.Database.MaxOpenConns),
		zap.Int("max_idle_conns", cfg.Database.MaxIdleConns),
	)

	// Initialize store
	dataStore := store.NewPGStore(db)

	// Initialize adapters
	clock := adapter.NewClock()
	jsonAdapter := adapter.NewJSON()
	natsJS := adapter.NewNatsJetStream()

	// Build projection components
	hist := history.New(clock)
	proj := projector.New(projector.Config{
		AppliedIDRetention: cfg.Projector.AppliedIDRetention,
		BufferLimit:        cfg.Projector.BufferLimit,
		BufferTimeout:      cfg.Projector.BufferTimeout,
		RejectedRetention:  cfg.Projector.RejectedRetention,
	}, clock)
	norm := normalizer.New(clock)

	// Build portfolio components
	policy := portfolio.LotPolicy{LongTermThreshold: cfg.Portfolio.LongTermThreshold}
	holdings := portfolio.NewHoldingsBuilder(proj, hist, dataStore, policy, clock)
	analytics := portfolio.NewAnalytics(hist, dataStore, holdings, policy, clock, cfg.Portfolio.AnalyticsWorkers)
	tax := portfolio.NewTaxEngine(hist, policy)

	// Connect the ledger record subscription
	subscriber, err := jetstream.NewSubscriber(jetstream.Config{
		URL:            cfg.NATS.URL,
		StreamName:     cfg.NATS.StreamName,
		ConsumerName:   cfg.NATS.ConsumerName,
		MaxReconnects:  cfg.NATS.MaxReconnects,
		ReconnectWait:  cfg.NATS.ReconnectWait,
		ConnectionName: cfg.NATS.ConnectionName,
		AckWait:        cfg.NATS.AckWait,
		MaxDeliver:     cfg.NATS.MaxDeliver,
	}, natsJS, jsonAdapter)
	if err != nil {
		logger.FatalCtx(ctx, "Failed to connect to NATS", zap.Error(err))
	}
	logger.InfoCtx(ctx, "Connected to NATS",
		zap.String("stream", cfg.NATS.StreamName),
		zap.String("consumer", cfg.NATS.ConsumerName),
	)

	// Build the ingest pipeline feeding the projections
	ing := ingestor.New(ingestor.Config{
		Source:              cfg.NATS.StreamName,
		Lanes:               cfg.Ingest.Lanes,
		SweepInterval:       cfg.Ingest.SweepInterval,
		CursorFlushInterval: cfg.Ingest.CursorFlushInterval,
	}, subscriber, norm, proj, hist, dataStore, clock)
	defer ing.Close()

	// Create server config
	serverConfig := server.Config{
		Debug:        cfg.Debug,
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
		Auth: middleware.AuthConfig{
			JWTPublicKey: cfg.Auth.JWTPublicKey,
			APIKeys:      cfg.Auth.APIKeys,
		},
	}

	// Create and start server
	exec := executor.NewExecutor(dataStore, proj, hist, holdings, analytics, tax, cfg.Portfolio.AnalyticsTimeout)
	srv := server.New(serverConfig, exec, clock)

	errCh := make(chan error, 2)
	go func() {
		if err := ing.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- err
		}
	}()
	go func() {
		if err := srv.Start(); err != nil {
			errCh <- err
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.InfoCtx(ctx, "Received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	case err := <-errCh:
		logger.ErrorCtx(ctx, err, zap.String("component", "api"))
		cancel()
	}

	// Create shutdown context with timeout (don't use canceled ctx)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	logger.InfoCtx(shutdownCtx, "Shutting down server...")

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.FatalCtx(shutdownCtx, "Server forced to shutdown", zap.Error(err))
	}

	// Use non-context logger for final message since original ctx is canceled
	logger.Info("API server stopped")
}
