package dashhttp

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"vela/internal/logger"
	"vela/internal/pkg/symbol"
	"vela/internal/scheduler"

	"github.com/gin-gonic/gin"
)

type handlers struct {
	cfg ServerConfig
	hub *Hub
}

func (h *handlers) register(router *gin.Engine) {
	api := router.Group("/api")
	api.GET("/strategies", h.handleListStrategies)
	api.POST("/strategies", h.handleStartStrategy)
	api.POST("/strategies/stop", h.handleStopStrategy)
	api.GET("/strategies/history", h.handleStrategyHistory)
	api.GET("/dashboard", h.handleDashboard)
	api.GET("/report", h.handleReport)
	api.POST("/positions/:symbol/protect", h.handleProtect)
	if h.cfg.AuditFn != nil {
		api.GET("/audit/rollup", h.handleAuditRollup)
	}

	router.GET("/ws", h.handleWS)
}

func (h *handlers) handleListStrategies(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"running":   h.cfg.Scheduler.List(),
		"instances": h.cfg.Ledger.Instances(),
	})
}

func (h *handlers) handleStartStrategy(c *gin.Context) {
	var req StartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	spec := scheduler.Spec{
		Symbol:   req.Symbol,
		Mode:     req.Mode,
		Interval: req.Interval,
		IsLive:   req.IsLive,
		Params:   req.Params,
	}
	if err := h.cfg.Scheduler.Start(c.Request.Context(), spec); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, scheduler.ErrAlreadyRunning) {
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"symbol": symbol.Normalize(req.Symbol),
		"status": "running",
		"active": h.cfg.Scheduler.List(),
	})
}

func (h *handlers) handleStopStrategy(c *gin.Context) {
	var req StopRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Symbol == "" {
		stopped := h.cfg.Scheduler.StopAll(c.Request.Context(), "user_requested")
		c.JSON(http.StatusOK, gin.H{"stopped": stopped, "remaining": h.cfg.Scheduler.List()})
		return
	}
	if err := h.cfg.Scheduler.Stop(c.Request.Context(), req.Symbol, "user_requested"); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, scheduler.ErrNotRunning) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"symbol":    symbol.Normalize(req.Symbol),
		"status":    "stopped",
		"remaining": h.cfg.Scheduler.List(),
	})
}

func (h *handlers) handleStrategyHistory(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	uow, err := h.cfg.Store.Begin(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	rows, err := uow.Strategies().ListHistory(c.Request.Context(), limit)
	if err != nil {
		_ = uow.Rollback()
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	_ = uow.Commit()
	c.JSON(http.StatusOK, gin.H{"history": rows})
}

func (h *handlers) handleDashboard(c *gin.Context) {
	isLive, ok := parseMode(c.Query("mode"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "mode must be paper or live"})
		return
	}
	snap := h.hub.snapshot(isLive)
	resp := gin.H{
		"mode":         snap.Mode,
		"generated_at": snap.GeneratedAt,
		"instances":    snap.Instances,
		"positions":    snap.Positions,
		"signals":      snap.Signals,
		"trades":       snap.Trades,
		"stats":        snap.Stats,
	}
	if h.cfg.BalanceFn != nil {
		if bal, err := h.cfg.BalanceFn(c.Request.Context(), isLive); err != nil {
			logger.Warnf("dashboard: balance fetch failed: %v", err)
		} else {
			resp["balance"] = bal
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (h *handlers) handleReport(c *gin.Context) {
	isLive, ok := parseMode(c.Query("mode"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "mode must be paper or live"})
		return
	}
	if h.cfg.ReportFn == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "report rendering not configured"})
		return
	}
	html, err := h.cfg.ReportFn(c.Request.Context(), isLive)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", html)
}

// handleProtect is the operator remediation path for unprotected positions:
// it re-places the missing protective orders and clears the flag when both
// legs exist afterwards.
func (h *handlers) handleProtect(c *gin.Context) {
	sym := symbol.Normalize(c.Param("symbol"))
	if sym == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid symbol"})
		return
	}
	isLive, ok := parseMode(c.Query("mode"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "mode must be paper or live"})
		return
	}
	pos, found := h.cfg.Ledger.Position(sym, isLive)
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "no open position for " + sym})
		return
	}
	if !pos.Unprotected && pos.StopOrderID != "" && pos.TakeOrderID != "" {
		c.JSON(http.StatusOK, gin.H{"symbol": sym, "status": "already_protected"})
		return
	}
	protector := h.cfg.Protectors[isLive]
	if protector == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "no executor for this mode"})
		return
	}

	prot := protector.Protect(c.Request.Context(), pos)
	h.cfg.Ledger.SetProtection(sym, isLive, prot.StopLoss, prot.TakeProfit, prot.StopOrderID, prot.TakeOrderID)
	if prot.ErrDetail != "" {
		h.cfg.Ledger.MarkUnprotected(sym, isLive, prot.ErrDetail)
		c.JSON(http.StatusBadGateway, gin.H{"symbol": sym, "status": "still_unprotected", "error": prot.ErrDetail})
		return
	}

	updated, _ := h.cfg.Ledger.Position(sym, isLive)
	c.JSON(http.StatusOK, gin.H{
		"symbol":        sym,
		"status":        "protected",
		"stop_order_id": updated.StopOrderID,
		"take_order_id": updated.TakeOrderID,
		"completed_at":  time.Now(),
	})
}

func (h *handlers) handleAuditRollup(c *gin.Context) {
	sym := symbol.Normalize(c.Query("symbol"))
	key := c.Query("key")
	if sym == "" || key == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol and key are required"})
		return
	}
	roll, err := h.cfg.AuditFn(c.Request.Context(), sym, key)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, roll)
}

func (h *handlers) handleWS(c *gin.Context) {
	isLive, ok := parseMode(c.Query("mode"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "mode must be paper or live"})
		return
	}
	h.hub.Serve(c.Writer, c.Request, isLive)
}
