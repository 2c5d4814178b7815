package controllers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"investsim_backend/services/marketdata"
	"investsim_backend/services/securities"
)

// MarketDataController exposes the ingestion pipeline over REST.
type MarketDataController struct {
	store    *marketdata.Store
	updater  *marketdata.BulkUpdater
	stats    *marketdata.StatsService
	resolver *securities.Resolver
}

// NewMarketDataController creates the controller.
func NewMarketDataController(store *marketdata.Store, updater *marketdata.BulkUpdater, stats *marketdata.StatsService, resolver *securities.Resolver) *MarketDataController {
	return &MarketDataController{
		store:    store,
		updater:  updater,
		stats:    stats,
		resolver: resolver,
	}
}

// GetLatest handles GET /api/market-data/:symbol/latest
func (mc *MarketDataController) GetLatest(c *gin.Context) {
	symbol := c.Param("symbol")

	rec, err := mc.store.GetLatestMarketData(symbol)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, rec)
}

// GetByDate handles GET /api/market-data/:symbol?date=YYYY-MM-DD
func (mc *MarketDataController) GetByDate(c *gin.Context) {
	symbol := c.Param("symbol")

	dateStr := c.Query("date")
	if dateStr == "" {
		mc.GetLatest(c)
		return
	}

	date, err := time.Parse("2006-01-02", dateStr)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "message": "date must be YYYY-MM-DD"})
		return
	}

	rec, err := mc.store.GetMarketData(symbol, date)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, rec)
}

// RefreshSymbol handles POST /api/market-data/:symbol/refresh
func (mc *MarketDataController) RefreshSymbol(c *gin.Context) {
	symbol := c.Param("symbol")

	rec, outcome, err := mc.store.FetchAndStoreCurrentMarketData(c.Request.Context(), symbol)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   "refresh_failed",
			"outcome": outcome.String(),
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"outcome": outcome.String(),
		"record":  rec,
	})
}

// BulkRefresh handles POST /api/admin/sync/prices. With no body it
// refreshes every active security.
func (mc *MarketDataController) BulkRefresh(c *gin.Context) {
	var req struct {
		Symbols []string `json:"symbols"`
	}
	// Body is optional
	_ = c.ShouldBindJSON(&req)

	symbols := req.Symbols
	if len(symbols) == 0 {
		var err error
		symbols, err = mc.resolver.ListActiveSymbols()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": err.Error()})
			return
		}
	}

	result, err := mc.updater.BulkUpdateCurrentPrices(c.Request.Context(), symbols)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "circuit_open",
			"message": err.Error(),
			"result":  result,
		})
		return
	}
	c.JSON(http.StatusOK, result)
}

// HistoricalBackfill handles POST /api/admin/sync/historical
func (mc *MarketDataController) HistoricalBackfill(c *gin.Context) {
	var req struct {
		Symbol string `json:"symbol" binding:"required"`
		From   string `json:"from" binding:"required"`
		To     string `json:"to" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "message": err.Error()})
		return
	}

	from, err := time.Parse("2006-01-02", req.From)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "message": "from must be YYYY-MM-DD"})
		return
	}
	to, err := time.Parse("2006-01-02", req.To)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "message": "to must be YYYY-MM-DD"})
		return
	}
	if to.Before(from) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_request", "message": "to must not be before from"})
		return
	}

	count, err := mc.store.FetchAndStoreHistoricalMarketData(c.Request.Context(), req.Symbol, from, to)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{
			"error":     "backfill_failed",
			"persisted": count,
			"message":   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"symbol": req.Symbol, "persisted": count})
}

// GetStats handles GET /api/market-data/stats
func (mc *MarketDataController) GetStats(c *gin.Context) {
	snapshot, err := mc.stats.Snapshot()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, snapshot)
}
