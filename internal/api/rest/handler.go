package rest

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/brickfolio/estate-indexer/internal/adapter"
	"github.com/brickfolio/estate-indexer/internal/api/shared/dto"
	"github.com/brickfolio/estate-indexer/internal/api/shared/executor"
	"github.com/brickfolio/estate-indexer/internal/domain"
)

// Handler defines the interface for REST API handlers
type Handler interface {
	// ListProperties retrieves all property reference records
	// GET /api/v1/properties
	ListProperties(c *gin.Context)

	// GetProperty retrieves property reference data by asset id
	// GET /api/v1/properties/:id
	GetProperty(c *gin.Context)

	// SaveProperty upserts property reference data (requires authentication)
	// PUT /api/v1/properties/:id
	SaveProperty(c *gin.Context)

	// GetAssetState retrieves the derived state of one asset
	// GET /api/v1/assets/:id
	GetAssetState(c *gin.Context)

	// GetOwnership retrieves the ownership index of one asset
	// GET /api/v1/assets/:id/ownership
	GetOwnership(c *gin.Context)

	// GetEvents retrieves events with optional filters
	// GET /api/v1/events?asset_id=<id>&kind=<kind1>&kind=<kind2>&from=<rfc3339>&to=<rfc3339>&limit=<limit>&cursor=<anchor>
	// Returns events newest-first; pagination by anchor cursor stays stable
	// under concurrent appends
	GetEvents(c *gin.Context)

	// GetHoldings retrieves the holdings view of one wallet
	// GET /api/v1/portfolio/:wallet/holdings
	GetHoldings(c *gin.Context)

	// GetPerformance retrieves the value-over-time series of one wallet
	// GET /api/v1/portfolio/:wallet/performance?range=<7d|30d|90d|1y|all>
	GetPerformance(c *gin.Context)

	// GetDiversification retrieves the concentration report of one wallet
	// GET /api/v1/portfolio/:wallet/diversification
	GetDiversification(c *gin.Context)

	// GetTaxReport retrieves the annual tax report of one wallet
	// GET /api/v1/portfolio/:wallet/tax-report?year=<year>
	GetTaxReport(c *gin.Context)

	// HealthCheck returns the health status of the API
	// GET /health
	HealthCheck(c *gin.Context)
}

// handler implements the Handler interface
type handler struct {
	executor executor.Executor
	clock    adapter.Clock
}

// NewHandler creates a new REST API handler using the shared executor
func NewHandler(exec executor.Executor, clock adapter.Clock) Handler {
	return &handler{
		executor: exec,
		clock:    clock,
	}
}

// ListProperties retrieves all property reference records
func (h *handler) ListProperties(c *gin.Context) {
	properties, err := h.executor.ListProperties(c.Request.Context())
	if err != nil {
		respondInternalError(c, err, "Failed to list properties")
		return
	}
	c.JSON(http.StatusOK, gin.H{"properties": properties})
}

// GetProperty retrieves property reference data by asset id
func (h *handler) GetProperty(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		respondBadRequest(c, "Property id is required")
		return
	}

	property, err := h.executor.GetProperty(c.Request.Context(), id)
	if err != nil {
		respondInternalError(c, err, "Failed to get property")
		return
	}
	if property == nil {
		respondNotFound(c, "Property not found")
		return
	}
	c.JSON(http.StatusOK, property)
}

// SaveProperty upserts property reference data
func (h *handler) SaveProperty(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		respondBadRequest(c, "Property id is required")
		return
	}

	var request dto.SavePropertyRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		respondValidationError(c, err.Error())
		return
	}
	if request.ID != id {
		respondValidationError(c, "body id does not match path id")
		return
	}

	property := domain.Property{
		ID:                request.ID,
		Title:             request.Title,
		Location:          request.Location,
		PropertyType:      request.PropertyType,
		TotalValue:        request.TotalValue,
		CurrentTokenPrice: request.CurrentTokenPrice,
	}
	if err := h.executor.SaveProperty(c.Request.Context(), &property); err != nil {
		respondInternalError(c, err, "Failed to save property")
		return
	}
	c.JSON(http.StatusOK, property)
}

// GetAssetState retrieves the derived state of one asset
func (h *handler) GetAssetState(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		respondBadRequest(c, "Asset id is required")
		return
	}

	state, err := h.executor.GetAssetState(id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			respondNotFound(c, "Asset not found")
			return
		}
		respondInternalError(c, err, "Failed to get asset state")
		return
	}
	c.JSON(http.StatusOK, state)
}

// GetOwnership retrieves the ownership index of one asset
func (h *handler) GetOwnership(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		respondBadRequest(c, "Asset id is required")
		return
	}

	ownership, err := h.executor.GetOwnership(id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			respondNotFound(c, "Asset not found")
			return
		}
		respondInternalError(c, err, "Failed to get ownership")
		return
	}
	c.JSON(http.StatusOK, ownership)
}

// GetEvents retrieves events with filtering and pagination
func (h *handler) GetEvents(c *gin.Context) {
	filter, err := ParseGetEventsQuery(c)
	if err != nil {
		respondValidationError(c, err.Error())
		return
	}

	c.JSON(http.StatusOK, h.executor.QueryEvents(filter))
}

// GetHoldings retrieves the holdings view of one wallet
func (h *handler) GetHoldings(c *gin.Context) {
	wallet := c.Param("wallet")
	if wallet == "" {
		respondBadRequest(c, "Wallet address is required")
		return
	}

	holdings, err := h.executor.GetHoldings(c.Request.Context(), wallet)
	if err != nil {
		respondInternalError(c, err, "Failed to get holdings")
		return
	}
	c.JSON(http.StatusOK, holdings)
}

// GetPerformance retrieves the value-over-time series of one wallet
func (h *handler) GetPerformance(c *gin.Context) {
	wallet := c.Param("wallet")
	if wallet == "" {
		respondBadRequest(c, "Wallet address is required")
		return
	}

	rng, err := ParseGetPerformanceQuery(c)
	if err != nil {
		respondValidationError(c, err.Error())
		return
	}

	performance, err := h.executor.GetPerformance(c.Request.Context(), wallet, rng)
	if err != nil {
		respondInternalError(c, err, "Failed to compute performance")
		return
	}
	c.JSON(http.StatusOK, performance)
}

// GetDiversification retrieves the concentration report of one wallet
func (h *handler) GetDiversification(c *gin.Context) {
	wallet := c.Param("wallet")
	if wallet == "" {
		respondBadRequest(c, "Wallet address is required")
		return
	}

	report, err := h.executor.GetDiversification(c.Request.Context(), wallet)
	if err != nil {
		respondInternalError(c, err, "Failed to compute diversification")
		return
	}
	c.JSON(http.StatusOK, report)
}

// GetTaxReport retrieves the annual tax report of one wallet
func (h *handler) GetTaxReport(c *gin.Context) {
	wallet := c.Param("wallet")
	if wallet == "" {
		respondBadRequest(c, "Wallet address is required")
		return
	}

	year, err := ParseGetTaxReportQuery(c, h.clock.Now().UTC().Year())
	if err != nil {
		respondValidationError(c, err.Error())
		return
	}

	report, err := h.executor.GetTaxReport(c.Request.Context(), wallet, year)
	if err != nil {
		respondInternalError(c, err, "Failed to build tax report")
		return
	}
	c.JSON(http.StatusOK, report)
}

// HealthCheck returns the health status of the API
func (h *handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, h.executor.Health())
}
