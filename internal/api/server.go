package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jonhpyo/MyHTS/internal/execution"
	"github.com/jonhpyo/MyHTS/internal/infra"
)

// Config holds the HTTP surface settings.
type Config struct {
	Addr           string
	RateLimitRPS   float64
	RateLimitBurst float64
}

// Server is the REST + websocket front end over the order lifecycle.
type Server struct {
	svc    execution.Lifecycle
	hub    *Hub
	router *gin.Engine
	http   *http.Server
}

// NewServer wires routes. hub may be nil to disable /ws/trades.
func NewServer(svc execution.Lifecycle, hub *Hub, cfg Config) *Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), requestID(), accessLog())
	if cfg.RateLimitRPS > 0 {
		r.Use(rateLimit(infra.NewKeyedLimiter(cfg.RateLimitBurst, cfg.RateLimitRPS)))
	}

	s := &Server{svc: svc, hub: hub, router: r}
	s.routes()
	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	r := s.router
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	orders := r.Group("/orders")
	orders.POST("/limit", s.submitLimit)
	orders.POST("/market", s.submitMarket)
	orders.POST("/cancel", s.cancel)
	orders.GET("/working", s.workingOrders)

	r.GET("/trades", s.trades)
	r.GET("/orderbook/:symbol", s.depth)

	r.POST("/accounts", s.openAccount)
	accounts := r.Group("/accounts/:id")
	accounts.GET("/summary", s.summary)
	accounts.GET("/valuation", s.valuation)
	accounts.GET("/reconcile", s.reconcile)
	accounts.POST("/deposit", s.deposit)

	users := r.Group("/users/:user_id")
	users.GET("/accounts", s.listAccounts)
	users.GET("/accounts/primary", s.primaryAccount)

	if s.hub != nil {
		r.GET("/ws/trades", gin.WrapH(s.hub))
	}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", slog.String("addr", s.http.Addr))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if s.hub != nil {
		s.hub.Close()
	}
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
