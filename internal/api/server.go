// Package api implements the HTTP layer of the assessor. Handlers are methods
// on *Server. Each handler file is responsible for one resource group.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/nyashahama/event-risk-assessor/internal/export"
	"github.com/nyashahama/event-risk-assessor/internal/session"
	"github.com/nyashahama/event-risk-assessor/internal/store"
)

// Config holds values read from the environment at startup.
type Config struct {
	// Env is "production", "staging", or "development".
	Env string

	// RequestTimeout bounds synchronous handlers. Dispatched generation steps
	// are not bound by it.
	RequestTimeout time.Duration
}

// Reports is the read side of the report archive. *store.Store implements it.
type Reports interface {
	GetReport(ctx context.Context, id uuid.UUID) (store.ArchivedReport, error)
	ListReports(ctx context.Context, limit int) ([]store.ArchivedReport, error)
}

// Server holds all shared dependencies. Each handler file attaches methods to
// this type and uses only the fields it needs.
type Server struct {
	sessions *session.Manager
	exporter *export.Exporter

	// reports is nil when no database is configured.
	reports Reports

	cfg    Config
	logger *slog.Logger
}

// NewServer constructs the Server and wires the chi router. reports may be
// nil.
func NewServer(
	sessions *session.Manager,
	exporter *export.Exporter,
	reports Reports,
	cfg Config,
	logger *slog.Logger,
) http.Handler {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 90 * time.Second
	}
	s := &Server{
		sessions: sessions,
		exporter: exporter,
		reports:  reports,
		cfg:      cfg,
		logger:   logger,
	}

	return s.routes()
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	// ── Global middleware ─────────────────────────────────────────────────────
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggerMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(s.corsMiddleware)
	r.Use(middleware.Timeout(s.cfg.RequestTimeout))

	// ── Health ────────────────────────────────────────────────────────────────
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/assessments", s.handleCreateAssessment)

		r.Route("/assessments/{sessionID}", func(r chi.Router) {
			r.Use(s.loadSession)

			r.Get("/", s.handleGetAssessment)
			r.Delete("/", s.handleDeleteAssessment)
			r.Post("/start", s.handleStart)
			r.Post("/back", s.handleBack)

			r.Put("/summary", s.handleEditSummary)
			r.Post("/summary/accept", s.handleAcceptSummary)
			r.Get("/summary/justification", s.handleSummaryJustification)

			r.Post("/risks", s.handleAddRisk)
			r.Post("/risks/generate", s.handleGenerateRisks)
			r.Post("/risks/accept-all", s.handleAcceptAll)
			r.Route("/risks/{riskID}", func(r chi.Router) {
				r.Patch("/", s.handleEditRisk)
				r.Delete("/", s.handleDeleteRisk)
				r.Post("/accept", s.handleAcceptRisk)
				r.Get("/justifications/{field}", s.handleRiskJustification)
			})

			r.Get("/metrics", s.handleMetrics)
			r.Get("/export", s.handleExport)
		})

		r.Get("/reports", s.handleListReports)
		r.Get("/reports/{reportID}", s.handleGetReport)
	})

	return r
}
