package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/grandb369/tradebot/internal/events"
	"github.com/grandb369/tradebot/internal/market"
	"github.com/grandb369/tradebot/internal/monitor"
	"github.com/grandb369/tradebot/internal/shutdown"
	"github.com/grandb369/tradebot/internal/state"
	"github.com/grandb369/tradebot/pkg/db"
	"github.com/grandb369/tradebot/pkg/logging"
)

// StateView is the read side of the order tracking store.
type StateView interface {
	Snapshot() state.Snapshot
}

// MarketView is the read side of the market state.
type MarketView interface {
	Snapshot() market.Snapshot
}

// SystemMeta describes the running bot.
type SystemMeta struct {
	Symbol  string `json:"symbol"`
	DryRun  bool   `json:"dry_run"`
	Testnet bool   `json:"testnet"`
	Version string `json:"version"`
}

// Server exposes read-only status and a shutdown trigger over HTTP.
type Server struct {
	Router   *gin.Engine
	Bus      *events.Bus
	DB       *db.Database
	State    StateView
	Market   MarketView
	Metrics  *monitor.Metrics
	Shutdown *shutdown.Coordinator
	Meta     SystemMeta
	Logger   *zap.SugaredLogger

	limiter *ipLimiter
	started time.Time
}

// Options carries the dependencies of NewServer. DB and Bus may be nil.
type Options struct {
	Bus      *events.Bus
	DB       *db.Database
	State    StateView
	Market   MarketView
	Metrics  *monitor.Metrics
	Shutdown *shutdown.Coordinator
	Meta     SystemMeta
	Logger   *zap.SugaredLogger
}

func NewServer(opts Options) *Server {
	logger := logging.OrNop(opts.Logger)
	r := gin.New()
	limiter := newIPLimiter(20, 50)

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger(logger))
	r.Use(RateLimitMiddleware(limiter, logger))
	r.Use(CORSMiddleware())

	s := &Server{
		Router:   r,
		Bus:      opts.Bus,
		DB:       opts.DB,
		State:    opts.State,
		Market:   opts.Market,
		Metrics:  opts.Metrics,
		Shutdown: opts.Shutdown,
		Meta:     opts.Meta,
		Logger:   logger,
		limiter:  limiter,
		started:  time.Now(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/ws", s.websocket)

	api := s.Router.Group("/api")
	{
		api.GET("/status", s.getStatus)
		api.GET("/state", s.getState)
		api.GET("/metrics", s.getMetrics)
		api.GET("/events", s.getEvents)
		api.POST("/shutdown", s.postShutdown)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Run serves on addr until ctx is done, then shuts the listener down.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.Logger.Infow("api_listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	go s.limiter.janitor(ctx, 5*time.Minute)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.Logger.Infow("api_stopped")
	return nil
}
