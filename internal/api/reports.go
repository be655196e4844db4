package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/nyashahama/event-risk-assessor/internal/export"
)

type archivedReportResponse struct {
	export.Report
	Object string `json:"pdf_object,omitempty"`
}

// ─── GET /api/reports ─────────────────────────────────────────────────────────

// handleListReports lists archived reports, newest first. 503 when no
// archive is configured.
func (s *Server) handleListReports(w http.ResponseWriter, r *http.Request) {
	if s.reports == nil {
		respondErr(w, http.StatusServiceUnavailable, "report archive not configured")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	items, err := s.reports.ListReports(r.Context(), limit)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	out := make([]archivedReportResponse, 0, len(items))
	for _, a := range items {
		out = append(out, archivedReportResponse{Report: a.Report, Object: a.Object})
	}
	respond(w, http.StatusOK, out)
}

// ─── GET /api/reports/{reportID} ──────────────────────────────────────────────

func (s *Server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	if s.reports == nil {
		respondErr(w, http.StatusServiceUnavailable, "report archive not configured")
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "reportID"))
	if err != nil {
		respondErr(w, http.StatusBadRequest, "invalid report id")
		return
	}
	a, err := s.reports.GetReport(r.Context(), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, archivedReportResponse{Report: a.Report, Object: a.Object})
}
