// Package web serves the REST API, the Prometheus metrics endpoint and
// the websocket fan-out surface.
package web

import (
	"context"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/skyfeeder/skyfeeder/internal/alerts"
	"github.com/skyfeeder/skyfeeder/internal/auth"
	"github.com/skyfeeder/skyfeeder/internal/fanout"
	"github.com/skyfeeder/skyfeeder/internal/monitoring"
	"github.com/skyfeeder/skyfeeder/internal/safety"
	"github.com/skyfeeder/skyfeeder/pkg/acars"
	"github.com/skyfeeder/skyfeeder/pkg/adsb"
	"github.com/skyfeeder/skyfeeder/pkg/config"
)

// AircraftSource exposes the most recent poll cycle.
type AircraftSource interface {
	Current() []*adsb.Observation
}

// StatsSource exposes persistence statistics. May be nil when the
// daemon runs without a database.
type StatsSource interface {
	GetStats(ctx context.Context) (map[string]interface{}, error)
}

// HistoryStore lists persisted alert history. May be nil.
type HistoryStore interface {
	ListAlertHistory(ctx context.Context, limit int) ([]*alerts.HistoryEntry, error)
}

// Server is the HTTP surface of the daemon.
type Server struct {
	cfg      *config.Config
	tokens   *auth.Service
	hub      *fanout.Hub
	monitor  *safety.Monitor
	engine   *alerts.Engine
	acars    *acars.Service
	aircraft AircraftSource
	stats    StatsSource
	history  HistoryStore
}

// NewServer wires the HTTP surface. acars, stats and history may be nil;
// the corresponding endpoints degrade gracefully.
func NewServer(cfg *config.Config, tokens *auth.Service, hub *fanout.Hub,
	monitor *safety.Monitor, engine *alerts.Engine, acarsSvc *acars.Service,
	aircraft AircraftSource, stats StatsSource, history HistoryStore) *Server {

	return &Server{
		cfg:      cfg,
		tokens:   tokens,
		hub:      hub,
		monitor:  monitor,
		engine:   engine,
		acars:    acarsSvc,
		aircraft: aircraft,
		stats:    stats,
		history:  history,
	}
}

// Router builds the chi router with the full route table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(monitoring.LoggingMiddleware)
	r.Use(monitoring.MetricsMiddleware)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.handleHealth)
	r.Get("/metrics", monitoring.PrometheusHandler().ServeHTTP)

	// The websocket endpoint carries its own timeout handling; the
	// API routes get a request timeout.
	r.Group(func(r chi.Router) {
		r.Use(s.tokens.Middleware)
		r.Get("/ws", s.handleWebSocket)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))
		r.Use(s.tokens.Middleware)

		r.Get("/aircraft", s.handleAircraft)
		r.Get("/aircraft/{icao}", s.handleAircraftByICAO)
		r.Get("/stats", s.handleStats)

		r.Get("/safety/events", s.handleSafetyEvents)
		r.Post("/safety/events/{id}/ack", s.handleSafetyAck)
		r.Post("/safety/events/{id}/unack", s.handleSafetyUnack)
		r.Delete("/safety/events/{id}", s.handleSafetyClear)
		r.With(s.tokens.RequireAdmin).Delete("/safety/events", s.handleSafetyClearAll)

		r.Get("/alerts/rules", s.handleListRules)
		r.Get("/alerts/history", s.handleAlertHistory)
		r.Group(func(r chi.Router) {
			r.Use(s.tokens.RequireAdmin)
			r.Post("/alerts/rules", s.handleCreateRule)
			r.Put("/alerts/rules/{id}", s.handleUpdateRule)
			r.Delete("/alerts/rules/{id}", s.handleDeleteRule)
		})

		r.Get("/acars/recent", s.handleAcarsRecent)
		r.Get("/acars/stats", s.handleAcarsStats)
	})

	return r
}

// Run serves HTTP until the context is cancelled, then drains with a
// bounded shutdown window.
func (s *Server) Run(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Server.Host, s.cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // websocket writes are long-lived
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("✓ HTTP server listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
