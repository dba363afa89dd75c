package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"scalpbot/internal/monitor"
)

func (s *Server) getStatus(c *gin.Context) {
	view := s.Ledger.View()
	c.JSON(http.StatusOK, gin.H{
		"venue":              s.Meta.Venue,
		"pairs":              s.Meta.Pairs,
		"sim_mode":           s.Meta.SimMode,
		"version":            s.Meta.Version,
		"trading_enabled":    view.TradingEnabled,
		"daily_pnl":          view.DailyPnL,
		"consecutive_losses": view.ConsecutiveLosses,
		"pair_exposure":      view.PairExposure,
		"active_pairs":       s.StratEng.ActivePairs(),
		"strategy_phases":    s.StratEng.Phases(),
	})
}

func (s *Server) getPositions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"positions": s.Ledger.Positions()})
}

func (s *Server) getOrders(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"orders": s.Lifecycle.Orders()})
}

func (s *Server) getTrades(c *gin.Context) {
	n := 50
	if raw := c.Query("n"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 && v <= 500 {
			n = v
		}
	}
	c.JSON(http.StatusOK, gin.H{"trades": s.Ledger.RecentTrades(n)})
}

func (s *Server) getBalance(c *gin.Context) {
	balances, err := s.Client.GetBalance(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{
			"code":  "VENUE_ERROR",
			"error": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"balances": balances})
}

func (s *Server) getRiskParams(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"params": s.Params.Params()})
}

// setRiskParam hot-updates one risk limit, e.g.
// PUT /api/risk/params/max_daily_loss {"value": "75"}.
func (s *Server) setRiskParam(c *gin.Context) {
	s.setNamedParam(c, c.Param("name"))
}

// setPositionSize is shorthand for updating the max_position_size limit.
func (s *Server) setPositionSize(c *gin.Context) {
	s.setNamedParam(c, "max_position_size")
}

// setLeverage is shorthand for updating the leverage_cap limit.
func (s *Server) setLeverage(c *gin.Context) {
	s.setNamedParam(c, "leverage_cap")
}

func (s *Server) setNamedParam(c *gin.Context, name string) {
	var req struct {
		Value string `json:"value"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_PAYLOAD",
			"error": "invalid request payload",
		})
		return
	}
	if err := s.Params.SetParameter(c.Request.Context(), name, req.Value); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_PARAM",
			"error": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"params": s.Params.Params()})
}

// setPairs restricts strategy evaluation to the listed pairs. Open positions
// and in-flight orders on excluded pairs keep running to completion.
func (s *Server) setPairs(c *gin.Context) {
	var req struct {
		Pairs []string `json:"pairs"`
	}
	if err := c.BindJSON(&req); err != nil || len(req.Pairs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_PAYLOAD",
			"error": "expected a non-empty pairs list",
		})
		return
	}
	unknown := s.StratEng.SetActivePairs(req.Pairs)
	if len(unknown) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "UNKNOWN_PAIR",
			"error": "no strategies registered for: " + strings.Join(unknown, ", "),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"pairs": s.StratEng.ActivePairs()})
}

func (s *Server) enableTrading(c *gin.Context) {
	s.Ledger.SetTradingEnabled(c.Request.Context(), true)
	monitor.TradingEnabled.Set(1)
	c.JSON(http.StatusOK, gin.H{"trading_enabled": true})
}

func (s *Server) disableTrading(c *gin.Context) {
	s.Ledger.SetTradingEnabled(c.Request.Context(), false)
	monitor.TradingEnabled.Set(0)
	c.JSON(http.StatusOK, gin.H{"trading_enabled": false})
}

func (s *Server) pauseStrategy(c *gin.Context) {
	id := c.Param("id")
	if !s.StratEng.Pause(id, true) {
		c.JSON(http.StatusNotFound, gin.H{
			"code":  "UNKNOWN_STRATEGY",
			"error": "no strategy with id " + id,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "paused": true})
}

func (s *Server) resumeStrategy(c *gin.Context) {
	id := c.Param("id")
	if !s.StratEng.Pause(id, false) {
		c.JSON(http.StatusNotFound, gin.H{
			"code":  "UNKNOWN_STRATEGY",
			"error": "no strategy with id " + id,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "paused": false})
}
