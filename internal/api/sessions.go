package api

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"

	"github.com/nyashahama/event-risk-assessor/internal/metrics"
	"github.com/nyashahama/event-risk-assessor/internal/model"
	"github.com/nyashahama/event-risk-assessor/internal/session"
)

// assessmentResponse is the polled view of a session.
type assessmentResponse struct {
	SessionID   uuid.UUID              `json:"session_id"`
	State       model.ApplicationState `json:"state"`
	Metrics     metrics.Views          `json:"metrics"`
	ExportReady bool                   `json:"export_ready"`
}

func assessmentOf(sess *session.Session) assessmentResponse {
	return assessmentResponse{
		SessionID:   sess.ID,
		State:       sess.Store.Snapshot(),
		Metrics:     sess.Display.Views(),
		ExportReady: sess.Orchestrator.ExportReady(),
	}
}

// ─── POST /api/assessments ────────────────────────────────────────────────────

type createAssessmentResponse struct {
	SessionID string `json:"session_id"`
}

// handleCreateAssessment opens a new session in the setup phase.
func (s *Server) handleCreateAssessment(w http.ResponseWriter, r *http.Request) {
	sess := s.sessions.Create()
	respond(w, http.StatusCreated, createAssessmentResponse{SessionID: sess.ID.String()})
}

// ─── GET /api/assessments/{sessionID} ─────────────────────────────────────────

// handleGetAssessment returns the current snapshot. Clients poll it while a
// generation step runs.
func (s *Server) handleGetAssessment(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, assessmentOf(sessionFrom(r)))
}

// ─── DELETE /api/assessments/{sessionID} ──────────────────────────────────────

func (s *Server) handleDeleteAssessment(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Delete(sessionFrom(r).ID); err != nil {
		s.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ─── POST /api/assessments/{sessionID}/start ──────────────────────────────────

// handleStart stores the event data and dispatches summary generation. The
// response is sent before the backend answers.
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var ev model.EventData
	if !decode(w, r, &ev) {
		return
	}
	sess := sessionFrom(r)

	step, err := sess.Orchestrator.Start(ev)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	sess.Dispatch(r.Context(), step)
	respond(w, http.StatusAccepted, assessmentOf(sess))
}

// ─── PUT /api/assessments/{sessionID}/summary ─────────────────────────────────

type editSummaryRequest struct {
	Paragraphs []string `json:"paragraphs"`
}

// handleEditSummary replaces the summary text before it is accepted.
func (s *Server) handleEditSummary(w http.ResponseWriter, r *http.Request) {
	var req editSummaryRequest
	if !decode(w, r, &req) {
		return
	}
	sess := sessionFrom(r)
	if err := sess.Orchestrator.EditSummary(req.Paragraphs); err != nil {
		s.respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, assessmentOf(sess))
}

// ─── POST /api/assessments/{sessionID}/summary/accept ─────────────────────────

func (s *Server) handleAcceptSummary(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	step, err := sess.Orchestrator.AcceptSummary()
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	sess.Dispatch(r.Context(), step)
	respond(w, http.StatusAccepted, assessmentOf(sess))
}

// ─── GET /api/assessments/{sessionID}/summary/justification ───────────────────

func (s *Server) handleSummaryJustification(w http.ResponseWriter, r *http.Request) {
	j, err := sessionFrom(r).Justifications.Summary(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, j)
}

// ─── POST /api/assessments/{sessionID}/back ───────────────────────────────────

// handleBack abandons the assessment and returns to setup. Late results of
// in-flight steps are dropped.
func (s *Server) handleBack(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	sess.Orchestrator.Back()
	respond(w, http.StatusOK, assessmentOf(sess))
}

// ─── GET /api/assessments/{sessionID}/metrics ─────────────────────────────────

// handleMetrics returns the index views. Risk and compliance are only shown
// once every risk has been accepted.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	if phase := sess.Store.Phase(); phase != model.PhaseComplete {
		s.respondError(w, r, goerr.Wrap(model.ErrPrecondition, "metrics are shown once every risk is accepted",
			goerr.V("phase", phase)))
		return
	}
	respond(w, http.StatusOK, sess.Display.Views())
}

// ─── GET /api/assessments/{sessionID}/export ──────────────────────────────────

// handleExport renders the report PDF and streams it back. Configured sinks
// (upload, archive, email) receive it too.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	a, err := s.exporter.Export(r.Context(), sess.ID, sess.Store.Snapshot(), sess.Display.Views())
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="`+a.FileName+`"`)
	w.Header().Set("X-Report-ID", a.Report.ID.String())
	w.Header().Set("X-RA-Number", a.Report.RANumber)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(a.PDF); err != nil {
		s.logger.Warn("export: write response failed", "error", err, logField(r))
	}
}
