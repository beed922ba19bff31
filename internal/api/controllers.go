package api

import (
	"log"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"ladderbot/internal/ledger"

	"github.com/gin-gonic/gin"
)

type listTradesQuery struct {
	Account string `form:"account"`
	Symbol  string `form:"symbol"`
	Limit   int    `form:"limit"`
}

func (q *listTradesQuery) normalize() {
	if q.Limit <= 0 {
		q.Limit = 100
	}
	if q.Limit > 500 {
		q.Limit = 500
	}
}

func respondError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{
		"code":  code,
		"error": msg,
	})
}

// getPairs returns a snapshot of every pair book.
func (s *Server) getPairs(c *gin.Context) {
	books := s.Ledger.Books()
	snapshots := make([]ledger.Snapshot, 0, len(books))
	for _, b := range books {
		snapshots = append(snapshots, b.Snapshot())
	}
	sort.Slice(snapshots, func(i, j int) bool {
		if snapshots[i].Account != snapshots[j].Account {
			return snapshots[i].Account < snapshots[j].Account
		}
		return snapshots[i].Symbol < snapshots[j].Symbol
	})
	c.JSON(http.StatusOK, snapshots)
}

// getPair returns one pair book snapshot with its trade history.
func (s *Server) getPair(c *gin.Context) {
	account := c.Param("account")
	symbol := strings.TrimPrefix(c.Param("symbol"), "/")

	book, err := s.Ledger.Lookup(account, symbol)
	if err != nil {
		respondError(c, http.StatusNotFound, "PAIR_NOT_FOUND", "no such trading pair")
		return
	}

	dayStart := time.Now().UTC().Truncate(24 * time.Hour)
	dailyLoss, err := s.DB.DailyLossFraction(c.Request.Context(), account, symbol, dayStart)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "DB_ERROR", err.Error())
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"pair":       book.Snapshot(),
		"daily_loss": dailyLoss,
		"trades":     book.Trades(),
	})
}

// getAccounts returns connection state and run status per account.
func (s *Server) getAccounts(c *gin.Context) {
	ids := s.Conns.AccountIDs()
	sort.Strings(ids)

	out := make([]gin.H, 0, len(ids))
	for _, id := range ids {
		out = append(out, gin.H{
			"id":      id,
			"state":   s.Conns.State(id),
			"running": s.Accounts.Running(id),
			"symbols": s.Conns.Symbols(id),
		})
	}
	c.JSON(http.StatusOK, out)
}

// getTrades returns persisted trade records, newest first.
func (s *Server) getTrades(c *gin.Context) {
	var q listTradesQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_QUERY", "invalid query parameters")
		return
	}
	q.normalize()

	rows, err := s.DB.ListTrades(c.Request.Context(), q.Account, q.Symbol, q.Limit)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "DB_ERROR", err.Error())
		return
	}
	c.Header("X-Result-Limit", strconv.Itoa(q.Limit))
	c.JSON(http.StatusOK, rows)
}

// startAccount starts the trading loops for one account.
func (s *Server) startAccount(c *gin.Context) {
	id := c.Param("id")
	if err := s.Accounts.Start(c.Request.Context(), id); err != nil {
		respondError(c, http.StatusBadRequest, "START_FAILED", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "started", "account": id})
}

// stopAccount stops the trading loops for one account.
func (s *Server) stopAccount(c *gin.Context) {
	id := c.Param("id")
	if err := s.Accounts.Stop(c.Request.Context(), id); err != nil {
		respondError(c, http.StatusBadRequest, "STOP_FAILED", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "stopped", "account": id})
}

// getSystemStatus exposes runtime mode for the dashboard.
func (s *Server) getSystemStatus(c *gin.Context) {
	mode := "LIVE"
	if s.Meta.DryRun {
		mode = "DRY_RUN"
	}

	dayStart := time.Now().UTC().Truncate(24 * time.Hour)
	tradesToday, err := s.DB.CountTradesSince(c.Request.Context(), dayStart)
	if err != nil {
		log.Printf("[api] count trades: %v", err)
	}

	c.JSON(http.StatusOK, gin.H{
		"mode":             mode,
		"dry_run":          s.Meta.DryRun,
		"symbols":          s.Meta.Symbols,
		"version":          s.Meta.Version,
		"running_accounts": s.Accounts.RunningAccounts(),
		"trades_today":     tradesToday,
		"server_time":      time.Now().UTC(),
	})
}

// getMetrics returns engine performance metrics.
func (s *Server) getMetrics(c *gin.Context) {
	if s.Metrics == nil {
		respondError(c, http.StatusServiceUnavailable, "METRICS_UNAVAILABLE", "metrics not available")
		return
	}
	c.JSON(http.StatusOK, s.Metrics.GetSnapshot())
}
