package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/m-mizutani/goerr/v2"

	"github.com/nyashahama/event-risk-assessor/internal/justify"
	"github.com/nyashahama/event-risk-assessor/internal/model"
)

// riskIDParam parses {riskID}. Writes 400 and returns false if it is not a
// positive integer.
func riskIDParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "riskID"))
	if err != nil || id <= 0 {
		respondErr(w, http.StatusBadRequest, "invalid risk id")
		return 0, false
	}
	return id, true
}

// ─── POST /api/assessments/{sessionID}/risks ──────────────────────────────────

// handleAddRisk adds a user-authored risk. It starts unaccepted.
func (s *Server) handleAddRisk(w http.ResponseWriter, r *http.Request) {
	var req model.CustomRisk
	if !decode(w, r, &req) {
		return
	}
	item, err := sessionFrom(r).Lifecycle.AddCustom(r.Context(), req)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respond(w, http.StatusCreated, item)
}

// ─── POST /api/assessments/{sessionID}/risks/generate ─────────────────────────

type generateRisksRequest struct {
	// Count defaults to the configured batch size when zero.
	Count int `json:"count"`
}

func (s *Server) handleGenerateRisks(w http.ResponseWriter, r *http.Request) {
	var req generateRisksRequest
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	if req.Count < 0 {
		s.respondError(w, r, goerr.Wrap(model.ErrValidation, "count must not be negative"))
		return
	}
	sess := sessionFrom(r)
	step, err := sess.Orchestrator.GenerateMore(req.Count)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	sess.Dispatch(r.Context(), step)
	respond(w, http.StatusAccepted, assessmentOf(sess))
}

// ─── POST /api/assessments/{sessionID}/risks/accept-all ───────────────────────

func (s *Server) handleAcceptAll(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	if _, err := sess.Lifecycle.AcceptAll(r.Context()); err != nil {
		s.respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, assessmentOf(sess))
}

// ─── /api/assessments/{sessionID}/risks/{riskID} ──────────────────────────────

func (s *Server) handleEditRisk(w http.ResponseWriter, r *http.Request) {
	id, ok := riskIDParam(w, r)
	if !ok {
		return
	}
	var patch model.RiskPatch
	if !decode(w, r, &patch) {
		return
	}
	item, err := sessionFrom(r).Lifecycle.Edit(r.Context(), id, patch)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, item)
}

type deleteRiskResponse struct {
	Removed bool `json:"removed"`
}

// handleDeleteRisk removes a risk only when ?confirm=true. Without it nothing
// changes and the response says so.
func (s *Server) handleDeleteRisk(w http.ResponseWriter, r *http.Request) {
	id, ok := riskIDParam(w, r)
	if !ok {
		return
	}
	confirmed, _ := strconv.ParseBool(r.URL.Query().Get("confirm"))
	removed, err := sessionFrom(r).Lifecycle.Delete(r.Context(), id, func(model.RiskItem) bool {
		return confirmed
	})
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if removed {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	respond(w, http.StatusOK, deleteRiskResponse{Removed: false})
}

func (s *Server) handleAcceptRisk(w http.ResponseWriter, r *http.Request) {
	id, ok := riskIDParam(w, r)
	if !ok {
		return
	}
	item, err := sessionFrom(r).Lifecycle.Accept(r.Context(), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, item)
}

type justificationResponse struct {
	model.Justification
	Status justify.Status `json:"status"`
}

// handleRiskJustification returns the justification of one field, generating
// it on first view.
func (s *Server) handleRiskJustification(w http.ResponseWriter, r *http.Request) {
	id, ok := riskIDParam(w, r)
	if !ok {
		return
	}
	field := model.Field(chi.URLParam(r, "field"))
	cache := sessionFrom(r).Justifications

	j, err := cache.Risk(r.Context(), id, field)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respond(w, http.StatusOK, justificationResponse{Justification: j, Status: cache.Status(id, field)})
}
