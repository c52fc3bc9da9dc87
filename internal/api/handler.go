// Package api serves the operator HTTP interface.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"equity-core/internal/monitor"
	"equity-core/internal/reconciliation"
	"equity-core/internal/repository"
	"equity-core/internal/risk"
	"equity-core/internal/trading"
	"equity-core/pkg/exchanges/common"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

// StatusProvider reports the trading loop state.
type StatusProvider interface {
	Status() trading.Status
}

// OrderCanceller forwards operator cancels to the exchange.
type OrderCanceller interface {
	CancelOrder(ctx context.Context, id string) error
}

// Reconciler runs and reads reconciliation sweeps.
type Reconciler interface {
	Reconcile(ctx context.Context) (*reconciliation.Report, error)
	Latest(ctx context.Context) (*reconciliation.Report, error)
}

// SystemMeta describes runtime status exposed to operators.
type SystemMeta struct {
	DryRun   bool   `json:"dry_run"`
	Venue    string `json:"venue"`
	Database string `json:"database"`
	Version  string `json:"version"`
}

// Deps are the services behind the endpoints. Account, Reconciler, Guard and
// Gatherer may be nil; their endpoints then answer 503 or are not mounted.
type Deps struct {
	Repo       *repository.Repository
	Trading    StatusProvider
	Orders     OrderCanceller
	Account    common.AccountGateway
	Reconciler Reconciler
	Guard      *risk.Guard
	Metrics    *monitor.SystemMetrics
	Gatherer   prometheus.Gatherer

	JWTSecret  string
	APIKey     string
	APIKeyHash string // bcrypt; checked instead of APIKey when set
	TokenTTL   time.Duration
	Meta       SystemMeta
}

// Server wires HTTP endpoints around the trading core.
type Server struct {
	Router *gin.Engine
	deps   Deps
	http   *http.Server
}

func NewServer(deps Deps) *Server {
	if deps.TokenTTL <= 0 {
		deps.TokenTTL = time.Hour
	}
	r := gin.New()

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger(deps.Metrics))
	r.Use(RateLimitMiddleware(20, 50))
	r.Use(TimeoutMiddleware(30 * time.Second))
	r.Use(CORSMiddleware())

	s := &Server{Router: r, deps: deps}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	if s.deps.Gatherer != nil {
		s.Router.GET("/metrics", s.promMetrics())
	}
	s.Router.POST("/auth/token", s.issueToken)

	api := s.Router.Group("/api")
	api.Use(AuthMiddleware(s.deps.JWTSecret))
	{
		api.GET("/status", s.getStatus)
		api.GET("/positions", s.getPositions)
		api.GET("/orders", s.getOrders)
		api.GET("/orders/pending/:ticker", s.getPendingGate)
		api.POST("/orders/:id/cancel", s.cancelOrder)
		api.GET("/balance", s.getBalance)
		api.GET("/holdings", s.getHoldings)
		api.GET("/reconciliation/latest", s.getLatestReconciliation)
		api.POST("/reconciliation/run", s.runReconciliation)
	}
}

// Start serves until Shutdown; it returns nil after a clean shutdown.
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	log.Info().Str("component", "api").Str("addr", addr).Msg("operator API listening")
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}
