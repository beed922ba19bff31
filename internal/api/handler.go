// Package api exposes the engine's state over HTTP for the control panel.
package api

import (
	"net/http"
	"time"

	"ladderbot/internal/account"
	"ladderbot/internal/conn"
	"ladderbot/internal/events"
	"ladderbot/internal/ledger"
	"ladderbot/internal/monitor"
	"ladderbot/pkg/db"

	"github.com/gin-gonic/gin"
)

// Server wires HTTP endpoints around the engine components.
type Server struct {
	Router    *gin.Engine
	Bus       *events.Bus
	DB        *db.Database
	Ledger    *ledger.Ledger
	Conns     *conn.Supervisor
	Accounts  *account.Supervisor
	Metrics   *monitor.Metrics
	JWTSecret string
	Meta      SystemMeta
}

// SystemMeta describes runtime status exposed to the UI.
type SystemMeta struct {
	DryRun  bool
	Symbols []string
	Version string
}

func NewServer(bus *events.Bus, database *db.Database, led *ledger.Ledger, conns *conn.Supervisor, accounts *account.Supervisor, metrics *monitor.Metrics, meta SystemMeta, jwtSecret string) *Server {
	r := gin.New()

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())
	r.Use(requestIDMiddleware())
	r.Use(requestLogger())
	r.Use(newIPRateLimiter(20, 50).middleware())
	r.Use(timeoutMiddleware(30 * time.Second))
	r.Use(corsMiddleware())

	s := &Server{
		Router:    r,
		Bus:       bus,
		DB:        database,
		Ledger:    led,
		Conns:     conns,
		Accounts:  accounts,
		Metrics:   metrics,
		JWTSecret: jwtSecret,
		Meta:      meta,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/ws", s.websocket)

	api := s.Router.Group("/api")
	{
		api.GET("/system/status", s.getSystemStatus)
		api.GET("/metrics", s.getMetrics)

		// Operators are enrolled out of band; login only.
		api.POST("/auth/login", s.loginUser)

		// Protected API
		protected := api.Group("")
		protected.Use(authMiddleware(s.JWTSecret))
		{
			protected.GET("/pairs", s.getPairs)
			// Wildcard because symbols contain a slash (BTC/USDT).
			protected.GET("/pairs/:account/*symbol", s.getPair)
			protected.GET("/accounts", s.getAccounts)
			protected.GET("/trades", s.getTrades)

			// Account actions
			protected.POST("/accounts/:id/start", s.startAccount)
			protected.POST("/accounts/:id/stop", s.stopAccount)
		}
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) Start(addr string) error {
	return s.Router.Run(addr)
}
