// Package server provides the HTTP API for Bucketeer.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/aristath/bucketeer/internal/config"
	"github.com/aristath/bucketeer/internal/database"
	"github.com/aristath/bucketeer/internal/domain"
	"github.com/aristath/bucketeer/internal/events"
	"github.com/aristath/bucketeer/internal/modules/execution"
	"github.com/aristath/bucketeer/internal/modules/orchestrator"
	"github.com/aristath/bucketeer/internal/modules/portfolio"
)

// Cycles is the orchestrator surface the API drives
type Cycles interface {
	RunCycle(ctx context.Context) (*orchestrator.CycleResult, error)
	Preview(ctx context.Context) ([]domain.Candidate, error)
	SubmitManual(ctx context.Context, c domain.Candidate, timeout time.Duration) (execution.Outcome, error)
	LastResult() *orchestrator.CycleResult
}

// OrderLedger reads persisted orders and fills
type OrderLedger interface {
	ListRecent(limit int) ([]domain.Order, error)
	ListFills(limit int) ([]domain.Fill, error)
	RealizedPnLSince(since time.Time) (float64, error)
}

// OrderCanceller cancels working orders
type OrderCanceller interface {
	Cancel(ctx context.Context, orderID string) error
}

// SnapshotSource serves the last refreshed snapshot
type SnapshotSource interface {
	Latest() (domain.Snapshot, bool)
}

// EquityHistory serves recorded daily equity
type EquityHistory interface {
	History(days int, now time.Time) ([]portfolio.EquityPoint, error)
}

// OverrideStore persists live strategy overrides
type OverrideStore interface {
	SetStrategyOverride(key, value string) error
	DeleteStrategyOverride(key string) error
}

// AlertLog lists delivered alerts
type AlertLog interface {
	Recent(limit int) ([]domain.Alert, error)
}

// HealthChecker is a database that can report its health
type HealthChecker interface {
	Name() string
	HealthCheck(ctx context.Context) error
	GetStats() (*database.Stats, error)
}

// Config holds server dependencies
type Config struct {
	Log          zerolog.Logger
	Port         int
	DevMode      bool
	DataDir      string
	TradingMode  string
	Cycles       Cycles
	Orders       OrderLedger
	Canceller    OrderCanceller
	Snapshots    SnapshotSource
	Equity       EquityHistory
	Strategy     *config.StrategyStore
	Overrides    OverrideStore
	Alerts       AlertLog
	EventManager *events.Manager
	Databases    []HealthChecker
}

// Server represents the HTTP server
type Server struct {
	router *chi.Mux
	server *http.Server
	log    zerolog.Logger
	cfg    Config
	system *SystemHandlers
	now    func() time.Time
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	s := &Server{
		router: chi.NewRouter(),
		log:    cfg.Log.With().Str("component", "server").Logger(),
		cfg:    cfg,
		system: NewSystemHandlers(cfg.DataDir, cfg.Databases, cfg.Log),
		now:    time.Now,
	}

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Port),
		Handler:     s.router,
		ReadTimeout: 15 * time.Second,
		// Manual orders may poll for minutes
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the router, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	if !devMode {
		s.router.Use(middleware.Compress(5, "application/json"))
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		// The websocket stream hijacks the connection; keep it off the timeout
		r.Get("/events/ws", NewEventsStreamHandler(s.cfg.EventManager, s.log).ServeHTTP)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(5 * time.Minute))

			r.Get("/snapshot", s.handleSnapshot)
			r.Get("/equity", s.handleEquity)
			r.Get("/candidates", s.handleCandidates)

			r.Route("/orders", func(r chi.Router) {
				r.Get("/", s.handleListOrders)
				r.Post("/", s.handleManualOrder)
				r.Delete("/{id}", s.handleCancelOrder)
			})
			r.Get("/fills", s.handleListFills)

			r.Route("/cycle", func(r chi.Router) {
				r.Post("/", s.handleRunCycle)
				r.Get("/last", s.handleLastCycle)
			})

			r.Route("/settings", func(r chi.Router) {
				r.Get("/", s.handleGetSettings)
				r.Put("/{key}", s.handleSetSetting)
				r.Delete("/{key}", s.handleClearSetting)
			})

			r.Get("/alerts", s.handleListAlerts)

			r.Route("/system", func(r chi.Router) {
				r.Get("/stats", s.system.HandleStats)
				r.Get("/databases", s.system.HandleDatabaseHealth)
			})
		})
	})
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Info().Int("port", s.cfg.Port).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
