package rest

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/brickfolio/estate-indexer/internal/domain"
	"github.com/brickfolio/estate-indexer/internal/history"
	"github.com/brickfolio/estate-indexer/internal/portfolio"
)

const MAX_PAGE_SIZE = 100

// GetEventsQueryParams holds query parameters for GET /events
type GetEventsQueryParams struct {
	AssetID string   `form:"asset_id"`
	Kinds   []string `form:"kind"`
	From    string   `form:"from"`
	To      string   `form:"to"`

	// Pagination
	Limit  int    `form:"limit,default=50"`
	Cursor string `form:"cursor"`
}

// ParseGetEventsQuery parses and validates query parameters for GET /events
// and converts them into a history filter
func ParseGetEventsQuery(c *gin.Context) (history.Filter, error) {
	var params GetEventsQueryParams
	if err := c.ShouldBindQuery(&params); err != nil {
		return history.Filter{}, err
	}

	if params.Limit <= 0 || params.Limit > MAX_PAGE_SIZE {
		params.Limit = MAX_PAGE_SIZE
	}

	filter := history.Filter{
		AssetID: params.AssetID,
		Limit:   params.Limit,
		Before:  params.Cursor,
	}

	for _, kind := range params.Kinds {
		if !domain.IsValidEventKind(domain.EventKind(kind)) {
			return history.Filter{}, fmt.Errorf("unknown event kind: %s", kind)
		}
		filter.Kinds = append(filter.Kinds, domain.EventKind(kind))
	}

	var err error
	if filter.From, err = parseTimestamp(params.From); err != nil {
		return history.Filter{}, fmt.Errorf("invalid from timestamp: %s", params.From)
	}
	if filter.To, err = parseTimestamp(params.To); err != nil {
		return history.Filter{}, fmt.Errorf("invalid to timestamp: %s", params.To)
	}

	return filter, nil
}

// GetPerformanceQueryParams holds query parameters for GET /portfolio/:wallet/performance
type GetPerformanceQueryParams struct {
	Range string `form:"range,default=all"`
}

// ParseGetPerformanceQuery parses and validates the performance range parameter
func ParseGetPerformanceQuery(c *gin.Context) (portfolio.Range, error) {
	var params GetPerformanceQueryParams
	if err := c.ShouldBindQuery(&params); err != nil {
		return "", err
	}

	rng := portfolio.Range(params.Range)
	if !portfolio.IsValidRange(rng) {
		return "", fmt.Errorf("unknown range: %s", params.Range)
	}
	return rng, nil
}

// GetTaxReportQueryParams holds query parameters for GET /portfolio/:wallet/tax-report
type GetTaxReportQueryParams struct {
	Year int `form:"year"`
}

// ParseGetTaxReportQuery parses and validates the tax report year parameter
func ParseGetTaxReportQuery(c *gin.Context, currentYear int) (int, error) {
	var params GetTaxReportQueryParams
	if err := c.ShouldBindQuery(&params); err != nil {
		return 0, err
	}

	if params.Year == 0 {
		params.Year = currentYear
	}
	if params.Year < 2000 || params.Year > currentYear {
		return 0, fmt.Errorf("year out of range: %d", params.Year)
	}
	return params.Year, nil
}

func parseTimestamp(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, value)
}
