// Package lifecycle manages risk items during review: adding, editing,
// deleting and accepting them, and the acceptance gate that decides when the
// metrics are shown.
//
// The gate is evaluated in the same store transaction as the mutation that
// may flip it. Crossing into "all accepted" moves the phase from review to
// complete and shows the metrics once; leaving it moves the phase back and
// hides them.
package lifecycle

import (
	"context"
	"log/slog"
	"slices"

	"github.com/m-mizutani/goerr/v2"

	"github.com/nyashahama/event-risk-assessor/internal/metrics"
	"github.com/nyashahama/event-risk-assessor/internal/model"
	"github.com/nyashahama/event-risk-assessor/internal/state"
)

// Presenter shows and hides the metrics panels.
type Presenter interface {
	Show(ctx context.Context) (metrics.Views, error)
	Hide()
}

// Manager is safe for concurrent use; all state lives in the store.
type Manager struct {
	store     *state.Store
	presenter Presenter
	logger    *slog.Logger
}

// New returns a Manager over store.
func New(store *state.Store, presenter Presenter, logger *slog.Logger) *Manager {
	return &Manager{store: store, presenter: presenter, logger: logger}
}

type gateResult int

const (
	gateUnchanged gateResult = iota
	gateOpened
	gateClosed
)

// gate moves review → complete when every risk is accepted and complete →
// review when that stops being true. Other phases are left alone.
func gate(tx *state.Tx) gateResult {
	st := tx.State()
	switch {
	case st.Phase == model.PhaseReview && st.AllAccepted():
		tx.SetPhase(model.PhaseComplete)
		return gateOpened
	case st.Phase == model.PhaseComplete && !st.AllAccepted():
		tx.SetPhase(model.PhaseReview)
		return gateClosed
	}
	return gateUnchanged
}

// mutate runs fn and the gate in one transaction at generation gen, provided
// the phase is one of allowed, then drives the presenter. refresh re-shows the
// metrics when the session stays complete, so shown indices match the list.
func (m *Manager) mutate(ctx context.Context, gen uint64, allowed []model.Phase, refresh bool, fn func(tx *state.Tx) error) error {
	var result gateResult
	var complete bool
	err := m.store.Apply(gen, func(tx *state.Tx) error {
		if phase := tx.State().Phase; !slices.Contains(allowed, phase) {
			return goerr.Wrap(model.ErrPrecondition, "operation not allowed in this phase",
				goerr.V("phase", phase))
		}
		if err := fn(tx); err != nil {
			return err
		}
		result = gate(tx)
		complete = tx.State().Phase == model.PhaseComplete
		return nil
	})
	if err != nil {
		return err
	}

	switch {
	case result == gateOpened:
		m.show(ctx)
	case result == gateClosed:
		m.presenter.Hide()
	case refresh && complete:
		m.show(ctx)
	}
	return nil
}

func (m *Manager) show(ctx context.Context) {
	if _, err := m.presenter.Show(ctx); err != nil {
		m.logger.Warn("lifecycle: metrics display failed", "error", err)
	}
}

var reviewPhases = []model.Phase{model.PhaseReview, model.PhaseComplete}

// ─── OPERATIONS ───────────────────────────────────────────────────────────────

// AddCustom validates the form and appends an unaccepted risk. Invalid input
// leaves the store untouched.
func (m *Manager) AddCustom(ctx context.Context, input model.CustomRisk) (model.RiskItem, error) {
	if err := input.Validate(); err != nil {
		return model.RiskItem{}, err
	}
	var added model.RiskItem
	err := m.mutate(ctx, m.store.Generation(), reviewPhases, false, func(tx *state.Tx) error {
		var err error
		added, err = tx.AddRisk(input.Item())
		return err
	})
	return added, err
}

// AddGenerated appends an AI-sourced risk under generation gen. A backend id
// that is already taken is replaced with the next free one.
func (m *Manager) AddGenerated(ctx context.Context, gen uint64, item model.RiskItem) (model.RiskItem, error) {
	allowed := []model.Phase{model.PhaseGenerating, model.PhaseReview, model.PhaseComplete}
	var added model.RiskItem
	err := m.mutate(ctx, gen, allowed, false, func(tx *state.Tx) error {
		item.Accepted = false
		if tx.HasRisk(item.ID) {
			item.ID = 0
		}
		var err error
		added, err = tx.AddRisk(item)
		return err
	})
	return added, err
}

// Edit applies patch to risk id.
func (m *Manager) Edit(ctx context.Context, id int, patch model.RiskPatch) (model.RiskItem, error) {
	if err := patch.Validate(); err != nil {
		return model.RiskItem{}, err
	}
	var updated model.RiskItem
	err := m.mutate(ctx, m.store.Generation(), reviewPhases, true, func(tx *state.Tx) error {
		var err error
		updated, err = tx.UpdateRisk(id, patch)
		return err
	})
	return updated, err
}

// Delete removes risk id if confirm approves it. A nil confirm approves. It
// reports whether the risk was removed.
func (m *Manager) Delete(ctx context.Context, id int, confirm func(model.RiskItem) bool) (bool, error) {
	risk, ok := m.store.Snapshot().Risk(id)
	if !ok {
		return false, goerr.Wrap(model.ErrRiskNotFound, "cannot delete risk", goerr.V("id", id))
	}
	if confirm != nil && !confirm(risk) {
		return false, nil
	}
	err := m.mutate(ctx, m.store.Generation(), reviewPhases, true, func(tx *state.Tx) error {
		return tx.RemoveRisk(id)
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

// Accept marks risk id accepted. Accepting an accepted risk is a no-op.
func (m *Manager) Accept(ctx context.Context, id int) (model.RiskItem, error) {
	var accepted model.RiskItem
	err := m.mutate(ctx, m.store.Generation(), reviewPhases, false, func(tx *state.Tx) error {
		if _, err := tx.Accept(id); err != nil {
			return err
		}
		accepted, _ = tx.State().Risk(id)
		return nil
	})
	return accepted.Clone(), err
}

// AcceptAll accepts every risk and evaluates the gate once. It returns how
// many risks changed.
func (m *Manager) AcceptAll(ctx context.Context) (int, error) {
	var n int
	err := m.mutate(ctx, m.store.Generation(), reviewPhases, false, func(tx *state.Tx) error {
		n = tx.AcceptAll()
		return nil
	})
	return n, err
}

// Check evaluates the gate without mutating any risk. The orchestrator calls
// it after moving a session into review.
func (m *Manager) Check(ctx context.Context, gen uint64) error {
	return m.mutate(ctx, gen, reviewPhases, false, func(*state.Tx) error { return nil })
}
