package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, deps Deps) *Server {
	handler := NewHandler(deps)
	router := chi.NewRouter()

	router.Use(CORSMiddleware)
	router.Use(RecoverMiddleware)
	router.Use(TracingMiddleware)
	router.Use(LoggingMiddleware)
	router.Use(metrics.Middleware)
	router.Use(middleware.RealIP)
	router.Use(middleware.Compress(5))

	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)
	router.Method(http.MethodGet, "/metrics", metrics.Handler())

	// Evaluation
	router.Post("/evaluate", handler.Evaluate)
	router.Post("/evaluate/dry-run", handler.DryRun)
	router.Get("/analyses/{id}", handler.GetAnalysis)
	router.Post("/activity", handler.RecordActivity)

	// Rule management
	router.Route("/rules", func(r chi.Router) {
		r.Get("/", handler.ListRules)
		r.Post("/", handler.CreateRule)
		r.Post("/reload", handler.ReloadRules)
		r.Get("/loaded", handler.LoadedRules)
		r.Get("/{id}", handler.GetRule)
		r.Delete("/{id}", handler.DeleteRule)
		r.Post("/{id}/activate", handler.ActivateRule)
		r.Post("/{id}/deactivate", handler.DeactivateRule)
		r.Post("/{id}/test-mode", handler.SetRuleTestMode)
	})

	// Blacklist
	router.Route("/blacklist", func(r chi.Router) {
		r.Post("/", handler.AddBlacklist)
		r.Get("/check", handler.CheckBlacklist)
		r.Post("/sweep", handler.SweepBlacklist)
		r.Post("/{id}/invalidate", handler.InvalidateBlacklist)
	})

	// Rule events
	router.Route("/events", func(r chi.Router) {
		r.Get("/", handler.ListEvents)
		r.Post("/{id}/investigate", handler.InvestigateEvent)
		r.Post("/{id}/resolve", handler.ResolveEvent)
	})

	// Fraud alerts
	router.Route("/alerts", func(r chi.Router) {
		r.Get("/", handler.ListAlerts)
		r.Get("/summary", handler.AlertSummary)
		r.Get("/{id}", handler.GetAlert)
		r.Post("/{id}/assign", handler.AssignAlert)
		r.Post("/{id}/resolve", handler.ResolveAlert)
	})

	// Account history
	router.Route("/accounts/{id}", func(r chi.Router) {
		r.Get("/risk-factors", handler.AccountRiskFactors)
		r.Get("/risk-profile", handler.AccountRiskProfile)
	})

	router.Post("/models/auc", handler.ModelAUC)

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}
