package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/brickfolio/estate-indexer/internal/domain"
	"github.com/brickfolio/estate-indexer/internal/store/schema"
)

type pgStore struct {
	db *gorm.DB
}

// NewPGStore creates a new PostgreSQL store instance
func NewPGStore(db *gorm.DB) Store {
	return &pgStore{db: db}
}

// Migrate applies the schema for all indexer tables
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&schema.Property{},
		&schema.LedgerEvent{},
		&schema.KeyValueStore{},
	)
}

// ConfigureConnectionPool configures the connection pool settings for a GORM
// database connection. Zero values fall back to defaults:
//   - MaxOpenConns: 20
//   - MaxIdleConns: 5
//   - ConnMaxLifetime: 5 minutes
//   - ConnMaxIdleTime: 10 minutes
func ConfigureConnectionPool(db *gorm.DB, maxOpenConns, maxIdleConns int, connMaxLifetime, connMaxIdleTime time.Duration) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	if maxOpenConns == 0 {
		maxOpenConns = 20
	}
	if maxIdleConns == 0 {
		maxIdleConns = 5
	}
	if connMaxLifetime == 0 {
		connMaxLifetime = 5 * time.Minute
	}
	if connMaxIdleTime == 0 {
		connMaxIdleTime = 10 * time.Minute
	}
	// database/sql treats MaxIdleConns above MaxOpenConns as MaxOpenConns,
	// clamp explicitly for clarity
	if maxIdleConns > maxOpenConns {
		maxIdleConns = maxOpenConns
	}

	sqlDB.SetMaxOpenConns(maxOpenConns)
	sqlDB.SetMaxIdleConns(maxIdleConns)
	sqlDB.SetConnMaxLifetime(connMaxLifetime)
	sqlDB.SetConnMaxIdleTime(connMaxIdleTime)

	return nil
}

// GetProperty retrieves property reference data by asset id
func (s *pgStore) GetProperty(ctx context.Context, id string) (*domain.Property, error) {
	var property schema.Property
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&property).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get property: %w", err)
	}
	result := toDomainProperty(&property)
	return &result, nil
}

// ListProperties retrieves all property reference records
func (s *pgStore) ListProperties(ctx context.Context) ([]domain.Property, error) {
	var rows []schema.Property
	if err := s.db.WithContext(ctx).Order("id asc").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list properties: %w", err)
	}
	properties := make([]domain.Property, len(rows))
	for i := range rows {
		properties[i] = toDomainProperty(&rows[i])
	}
	return properties, nil
}

// SaveProperty upserts one property reference record
func (s *pgStore) SaveProperty(ctx context.Context, property *domain.Property) error {
	row := schema.Property{
		ID:                property.ID,
		Title:             property.Title,
		Location:          property.Location,
		PropertyType:      property.PropertyType,
		TotalValue:        property.TotalValue,
		CurrentTokenPrice: property.CurrentTokenPrice,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to save property: %w", err)
	}
	return nil
}

// InsertLedgerEvent appends one accepted event to the audit trail.
// The unique index on event_id makes redelivered events a no-op, matching
// the projector's idempotence.
func (s *pgStore) InsertLedgerEvent(ctx context.Context, event *domain.Event) error {
	row := schema.LedgerEvent{
		EventID:     event.ID,
		AssetID:     event.AssetID,
		Kind:        string(event.Kind),
		FromAddress: event.From,
		ToAddress:   event.To,
		TokenAmount: event.TokenAmount,
		CashAmount:  event.CashAmount,
		Sequence:    event.Sequence,
		OccurredAt:  event.OccurredAt,
		ObservedAt:  event.ObservedAt,
		Raw:         datatypes.JSON(event.Raw),
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "event_id"}},
		DoNothing: true,
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to insert ledger event: %w", err)
	}
	return nil
}

// ListAssetEvents retrieves the full audit trail for one asset
func (s *pgStore) ListAssetEvents(ctx context.Context, assetID string) ([]domain.Event, error) {
	var rows []schema.LedgerEvent
	err := s.db.WithContext(ctx).
		Where("asset_id = ?", assetID).
		Order("occurred_at asc, sequence asc nulls first").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list asset events: %w", err)
	}
	return toDomainEvents(rows), nil
}

// ListAllEvents retrieves the complete audit trail for restart replay
func (s *pgStore) ListAllEvents(ctx context.Context) ([]domain.Event, error) {
	var rows []schema.LedgerEvent
	err := s.db.WithContext(ctx).
		Order("occurred_at asc, sequence asc nulls first").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	return toDomainEvents(rows), nil
}

// GetIngestCursor retrieves the last fully-processed stream sequence for a source
func (s *pgStore) GetIngestCursor(ctx context.Context, source string) (uint64, error) {
	key := fmt.Sprintf("ingest_cursor:%s", source)

	var kv schema.KeyValueStore
	err := s.db.WithContext(ctx).Where("key = ?", key).First(&kv).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get ingest cursor: %w", err)
	}

	sequence, err := strconv.ParseUint(kv.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse ingest cursor: %w", err)
	}
	return sequence, nil
}

// SetIngestCursor stores the last fully-processed stream sequence for a source
func (s *pgStore) SetIngestCursor(ctx context.Context, source string, sequence uint64) error {
	kv := schema.KeyValueStore{
		Key:   fmt.Sprintf("ingest_cursor:%s", source),
		Value: strconv.FormatUint(sequence, 10),
	}
	if err := s.db.WithContext(ctx).Save(&kv).Error; err != nil {
		return fmt.Errorf("failed to set ingest cursor: %w", err)
	}
	return nil
}

func toDomainProperty(row *schema.Property) domain.Property {
	return domain.Property{
		ID:                row.ID,
		Title:             row.Title,
		Location:          row.Location,
		PropertyType:      row.PropertyType,
		TotalValue:        row.TotalValue,
		CurrentTokenPrice: row.CurrentTokenPrice,
	}
}

func toDomainEvents(rows []schema.LedgerEvent) []domain.Event {
	events := make([]domain.Event, len(rows))
	for i := range rows {
		events[i] = domain.Event{
			ID:          rows[i].EventID,
			Kind:        domain.EventKind(rows[i].Kind),
			AssetID:     rows[i].AssetID,
			From:        rows[i].FromAddress,
			To:          rows[i].ToAddress,
			TokenAmount: rows[i].TokenAmount,
			CashAmount:  rows[i].CashAmount,
			OccurredAt:  rows[i].OccurredAt,
			ObservedAt:  rows[i].ObservedAt,
			Sequence:    rows[i].Sequence,
			Raw:         []byte(rows[i].Raw),
		}
	}
	return events
}
