package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"scalpbot/internal/account"
	"scalpbot/internal/events"
	"scalpbot/internal/lifecycle"
	"scalpbot/internal/risk"
	"scalpbot/internal/strategy"
	"scalpbot/pkg/exchange"
)

// Server wires the HTTP control surface around the running pipeline.
type Server struct {
	Router    *gin.Engine
	Bus       *events.Bus
	Ledger    *account.Ledger
	Params    *risk.Store
	StratEng  *strategy.Engine
	Lifecycle *lifecycle.Manager
	Client    exchange.Client

	JWTSecret    string
	OperatorHash string
	Meta         SystemMeta
}

// SystemMeta describes runtime facts exposed on the status endpoint.
type SystemMeta struct {
	Venue   string
	Pairs   []string
	SimMode bool
	Version string
}

// NewServer builds the router with the full middleware stack and routes.
func NewServer(bus *events.Bus, ledger *account.Ledger, params *risk.Store,
	stratEng *strategy.Engine, mgr *lifecycle.Manager, client exchange.Client,
	meta SystemMeta, jwtSecret, operatorHash string) *Server {

	r := gin.New()

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger())
	r.Use(RateLimitMiddleware())
	r.Use(TimeoutMiddleware(30 * time.Second))
	r.Use(CORSMiddleware())

	s := &Server{
		Router:       r,
		Bus:          bus,
		Ledger:       ledger,
		Params:       params,
		StratEng:     stratEng,
		Lifecycle:    mgr,
		Client:       client,
		JWTSecret:    jwtSecret,
		OperatorHash: operatorHash,
		Meta:         meta,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.Router.GET("/ws", s.websocket)

	api := s.Router.Group("/api")
	{
		api.POST("/auth/login", s.login)
		api.GET("/status", s.getStatus)

		protected := api.Group("")
		protected.Use(AuthMiddleware(s.JWTSecret))
		{
			protected.GET("/positions", s.getPositions)
			protected.GET("/orders", s.getOrders)
			protected.GET("/trades", s.getTrades)
			protected.GET("/balance", s.getBalance)
			protected.GET("/risk/params", s.getRiskParams)
			protected.PUT("/risk/params/:name", s.setRiskParam)
			protected.PUT("/risk/position-size", s.setPositionSize)
			protected.PUT("/risk/leverage", s.setLeverage)
			protected.PUT("/pairs", s.setPairs)

			protected.POST("/trading/enable", s.enableTrading)
			protected.POST("/trading/disable", s.disableTrading)
			protected.POST("/strategies/:id/pause", s.pauseStrategy)
			protected.POST("/strategies/:id/resume", s.resumeStrategy)
		}
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Start runs the HTTP server on addr, blocking until it exits.
func (s *Server) Start(addr string) error {
	return s.Router.Run(addr)
}
