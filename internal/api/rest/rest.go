package rest

import (
	"github.com/gin-gonic/gin"

	"github.com/brickfolio/estate-indexer/internal/api/middleware"
)

// SetupRoutes configures all REST API routes
func SetupRoutes(router *gin.Engine, handler Handler, authCfg middleware.AuthConfig) {
	// Health check endpoint (no auth, no version prefix)
	router.GET("/health", handler.HealthCheck)

	// API v1 routes
	v1 := router.Group("/api/v1")
	{
		// Property reference data (public read access)
		v1.GET("/properties", handler.ListProperties)
		v1.GET("/properties/:id", handler.GetProperty)

		// Property reference data upsert (requires authentication)
		v1.PUT("/properties/:id", middleware.Auth(authCfg), handler.SaveProperty)

		// Asset state endpoints (public read access)
		v1.GET("/assets/:id", handler.GetAssetState)
		v1.GET("/assets/:id/ownership", handler.GetOwnership)

		// Event audit trail (public read access)
		v1.GET("/events", handler.GetEvents)

		// Portfolio endpoints (public read access)
		v1.GET("/portfolio/:wallet/holdings", handler.GetHoldings)
		v1.GET("/portfolio/:wallet/performance", handler.GetPerformance)
		v1.GET("/portfolio/:wallet/diversification", handler.GetDiversification)
		v1.GET("/portfolio/:wallet/tax-report", handler.GetTaxReport)
	}
}
