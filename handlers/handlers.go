// Package handlers exposes the copy trader's status and trader management
// endpoints over HTTP.
package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"polymarket-copytrader/api"
	"polymarket-copytrader/executor"
	"polymarket-copytrader/middleware"
	"polymarket-copytrader/models"
	"polymarket-copytrader/storage"
	"polymarket-copytrader/strategy"
	"polymarket-copytrader/syncer"
	"polymarket-copytrader/utils"
)

// Handler handles HTTP requests.
type Handler struct {
	tracker  *syncer.OnChainTracker
	engine   *strategy.DecisionEngine
	wallet   *executor.PaperWallet
	store    storage.TraderStore
	blocksWS *api.BlocksWSClient
}

// NewHandler creates a new handler. store may be nil when running without
// persistence, blocksWS when no websocket endpoint is configured.
func NewHandler(tracker *syncer.OnChainTracker, engine *strategy.DecisionEngine, wallet *executor.PaperWallet, store storage.TraderStore, blocksWS *api.BlocksWSClient) *Handler {
	return &Handler{
		tracker:  tracker,
		engine:   engine,
		wallet:   wallet,
		store:    store,
		blocksWS: blocksWS,
	}
}

// Register wires all routes onto the router.
func (h *Handler) Register(r *gin.Engine) {
	r.GET("/health", h.Health)
	api := r.Group("/api")
	{
		api.GET("/portfolio", h.GetPortfolio)
		api.GET("/positions", h.GetPositions)
		api.GET("/trades", h.GetTrades)
		api.GET("/risk", h.GetRisk)
		api.GET("/tracker", h.GetTracker)
		api.GET("/traders", h.GetTraders)
		api.POST("/traders", h.AddTrader)
		api.DELETE("/traders/:address", middleware.ValidateAddress(), h.RemoveTrader)
	}
}

// Health is a liveness probe.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// GetPortfolio returns the paper wallet summary.
func (h *Handler) GetPortfolio(c *gin.Context) {
	c.JSON(http.StatusOK, h.wallet.Summary())
}

// GetPositions returns open simulated positions.
func (h *Handler) GetPositions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"positions": h.wallet.Positions()})
}

// GetTrades returns recent simulated trades, newest last.
func (h *Handler) GetTrades(c *gin.Context) {
	limit := 100
	if l, err := strconv.Atoi(c.Query("limit")); err == nil && l > 0 && l <= 1000 {
		limit = l
	}
	c.JSON(http.StatusOK, gin.H{"trades": h.wallet.History(limit)})
}

// GetRisk returns current risk metrics and decision counters.
func (h *Handler) GetRisk(c *gin.Context) {
	exposure, positions := h.wallet.Exposure()
	c.JSON(http.StatusOK, gin.H{
		"risk":   h.engine.Risk().Metrics(exposure, positions),
		"engine": h.engine.Metrics(),
	})
}

// GetTracker returns scan loop metrics, plus head subscription counters
// when the websocket feed is enabled.
func (h *Handler) GetTracker(c *gin.Context) {
	resp := gin.H{"scanner": h.tracker.Metrics()}
	if h.blocksWS != nil {
		heads, reconnects := h.blocksWS.Stats()
		resp["heads_ws"] = gin.H{"heads_seen": heads, "reconnects": reconnects}
	}
	c.JSON(http.StatusOK, resp)
}

// GetTraders lists followed traders.
func (h *Handler) GetTraders(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"traders": h.tracker.Traders()})
}

type addTraderRequest struct {
	Address       string  `json:"address" binding:"required"`
	Alias         string  `json:"alias"`
	TotalTrades   int     `json:"total_trades"`
	WinningTrades int     `json:"winning_trades"`
	WinRate       float64 `json:"win_rate"`
	TotalPnl      float64 `json:"total_pnl"`
}

// AddTrader starts following a trader and persists it when a store is
// configured.
func (h *Handler) AddTrader(c *gin.Context) {
	var req addTraderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "address is required"})
		return
	}

	addr := utils.NormalizeAddress(req.Address)
	if !middleware.IsValidEthAddress(addr) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid address"})
		return
	}

	trader := models.TraderRecord{
		Address:       addr,
		Alias:         req.Alias,
		TotalTrades:   req.TotalTrades,
		WinningTrades: req.WinningTrades,
		WinRate:       req.WinRate,
		TotalPnl:      req.TotalPnl,
		IsActive:      true,
	}
	h.tracker.AddTrader(trader)

	if h.store != nil {
		if err := h.store.UpsertTrader(c.Request.Context(), trader); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to persist trader"})
			return
		}
	}

	c.JSON(http.StatusCreated, gin.H{"trader": trader})
}

// RemoveTrader stops following a trader and deactivates it in the store.
func (h *Handler) RemoveTrader(c *gin.Context) {
	addr := utils.NormalizeAddress(c.Param("address"))

	if !h.tracker.RemoveTrader(addr) {
		c.JSON(http.StatusNotFound, gin.H{"error": "trader not followed"})
		return
	}

	if h.store != nil {
		if err := h.store.DeactivateTrader(c.Request.Context(), addr); err != nil && err != storage.ErrNotFound {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to deactivate trader"})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{"removed": addr})
}
