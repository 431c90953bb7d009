package executor

import (
	"context"
	"errors"
	"time"

	"github.com/brickfolio/estate-indexer/internal/api/shared/dto"
	"github.com/brickfolio/estate-indexer/internal/domain"
	"github.com/brickfolio/estate-indexer/internal/history"
	"github.com/brickfolio/estate-indexer/internal/portfolio"
	"github.com/brickfolio/estate-indexer/internal/projector"
	"github.com/brickfolio/estate-indexer/internal/store"
)

// Executor contains the business logic behind the REST handlers
type Executor interface {
	// GetProperty retrieves property reference data, nil when unknown
	GetProperty(ctx context.Context, id string) (*domain.Property, error)
	// ListProperties retrieves all property reference records
	ListProperties(ctx context.Context) ([]domain.Property, error)
	// SaveProperty upserts one property reference record
	SaveProperty(ctx context.Context, property *domain.Property) error

	// GetAssetState returns the derived state of one asset
	GetAssetState(assetID string) (*dto.AssetStateResponse, error)
	// GetOwnership returns the ownership index of one asset
	GetOwnership(assetID string) (*dto.OwnershipResponse, error)
	// QueryEvents returns one page of the event audit trail
	QueryEvents(filter history.Filter) *dto.EventsResponse

	// GetHoldings returns the holdings view of one wallet
	GetHoldings(ctx context.Context, wallet string) (*dto.HoldingsResponse, error)
	// GetPerformance returns the value-over-time series of one wallet
	GetPerformance(ctx context.Context, wallet string, rng portfolio.Range) (*dto.PerformanceResponse, error)
	// GetDiversification returns the concentration report of one wallet
	GetDiversification(ctx context.Context, wallet string) (domain.DiversificationReport, error)
	// GetTaxReport returns the annual tax report of one wallet
	GetTaxReport(ctx context.Context, wallet string, year int) (domain.TaxReport, error)

	// Health reports service liveness and projection counters
	Health() dto.HealthResponse
}

type executor struct {
	store     store.Store
	projector *projector.Projector
	history   *history.History
	holdings  *portfolio.HoldingsBuilder
	analytics *portfolio.Analytics
	tax       *portfolio.TaxEngine
	// analyticsTimeout bounds performance computations; past the deadline
	// the finished checkpoints are served as a partial series
	analyticsTimeout time.Duration
}

// NewExecutor creates a new executor
func NewExecutor(
	st store.Store,
	proj *projector.Projector,
	hist *history.History,
	holdings *portfolio.HoldingsBuilder,
	analytics *portfolio.Analytics,
	tax *portfolio.TaxEngine,
	analyticsTimeout time.Duration,
) Executor {
	if analyticsTimeout <= 0 {
		analyticsTimeout = 10 * time.Second
	}
	return &executor{
		store:            st,
		projector:        proj,
		history:          hist,
		holdings:         holdings,
		analytics:        analytics,
		tax:              tax,
		analyticsTimeout: analyticsTimeout,
	}
}

func (e *executor) GetProperty(ctx context.Context, id string) (*domain.Property, error) {
	return e.store.GetProperty(ctx, id)
}

func (e *executor) ListProperties(ctx context.Context) ([]domain.Property, error) {
	return e.store.ListProperties(ctx)
}

func (e *executor) SaveProperty(ctx context.Context, property *domain.Property) error {
	return e.store.SaveProperty(ctx, property)
}

func (e *executor) GetAssetState(assetID string) (*dto.AssetStateResponse, error) {
	state, err := e.projector.GetState(assetID)
	if err != nil {
		return nil, err
	}
	return &dto.AssetStateResponse{
		AssetState:     state,
		FundingPercent: state.FundingPercent(),
		HolderCount:    state.HolderCount(),
	}, nil
}

func (e *executor) GetOwnership(assetID string) (*dto.OwnershipResponse, error) {
	state, err := e.projector.GetState(assetID)
	if err != nil {
		return nil, err
	}
	entries, err := e.projector.GetOwnership(assetID)
	if err != nil {
		return nil, err
	}

	response := dto.OwnershipResponse{
		AssetID:        assetID,
		TotalSupply:    state.TotalSupply,
		FundingPercent: state.FundingPercent(),
		Entries:        make([]dto.OwnershipEntry, len(entries)),
	}
	for i, entry := range entries {
		var percent float64
		if state.TotalSupply > 0 {
			percent = float64(entry.TokensOwned) / float64(state.TotalSupply) * 100
		}
		response.Entries[i] = dto.OwnershipEntry{
			Wallet:           entry.Wallet,
			TokensOwned:      entry.TokensOwned,
			OwnershipPercent: percent,
		}
	}
	return &response, nil
}

func (e *executor) QueryEvents(filter history.Filter) *dto.EventsResponse {
	entries, cursor := e.history.Query(filter)

	events := make([]domain.Event, len(entries))
	for i := range entries {
		events[i] = entries[i].Event
	}
	return &dto.EventsResponse{
		Events: events,
		Cursor: cursor,
	}
}

func (e *executor) GetHoldings(ctx context.Context, wallet string) (*dto.HoldingsResponse, error) {
	holdings, err := e.holdings.Holdings(ctx, wallet)
	if err != nil {
		return nil, err
	}

	response := dto.HoldingsResponse{
		Wallet:   wallet,
		Holdings: holdings,
	}
	for i := range holdings {
		response.TotalValue = response.TotalValue.Add(holdings[i].CurrentValue)
		response.TotalCost = response.TotalCost.Add(holdings[i].CostBasis)
	}
	response.TotalGainLoss = response.TotalValue.Sub(response.TotalCost)
	return &response, nil
}

func (e *executor) GetPerformance(ctx context.Context, wallet string, rng portfolio.Range) (*dto.PerformanceResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, e.analyticsTimeout)
	defer cancel()

	points, err := e.analytics.Performance(ctx, wallet, rng)
	partial := false
	if err != nil {
		if !errors.Is(err, domain.ErrTimeout) {
			return nil, err
		}
		// Deadline hit mid-computation: serve what was finished
		partial = true
	}
	return &dto.PerformanceResponse{
		Wallet:  wallet,
		Range:   string(rng),
		Points:  points,
		Partial: partial,
	}, nil
}

func (e *executor) GetDiversification(ctx context.Context, wallet string) (domain.DiversificationReport, error) {
	return e.analytics.Diversification(ctx, wallet)
}

func (e *executor) GetTaxReport(ctx context.Context, wallet string, year int) (domain.TaxReport, error) {
	return e.tax.Report(ctx, wallet, year)
}

func (e *executor) Health() dto.HealthResponse {
	return dto.HealthResponse{
		Status: "ok",
		Assets: len(e.projector.AssetIDs()),
		Events: e.history.Len(),
	}
}
