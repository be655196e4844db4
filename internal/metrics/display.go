// Package metrics turns scoring results into the index panels of an
// assessment: a score, its level name and a few bullet points. The bullets
// come from the AI narrator when it answers and from the canned level text
// when it does not.
package metrics

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/m-mizutani/goerr/v2"

	"github.com/nyashahama/event-risk-assessor/internal/ai"
	"github.com/nyashahama/event-risk-assessor/internal/model"
	"github.com/nyashahama/event-risk-assessor/internal/scoring"
	"github.com/nyashahama/event-risk-assessor/internal/state"
)

// IndexView is one rendered index.
type IndexView struct {
	Score    int      `json:"score"`
	Level    string   `json:"level"`
	Details  []string `json:"details"`
	Narrated bool     `json:"narrated"`
}

// ComplianceView is the rendered compliance status.
type ComplianceView struct {
	Status   scoring.ComplianceStatus `json:"status"`
	Details  []string                 `json:"details"`
	Narrated bool                     `json:"narrated"`
}

// Views is everything the display has shown for the current session. Risk and
// Compliance are nil while metrics are hidden.
type Views struct {
	Context    *IndexView      `json:"context,omitempty"`
	Risk       *IndexView      `json:"risk,omitempty"`
	Compliance *ComplianceView `json:"compliance,omitempty"`
	Tables     string          `json:"tables_version"`
}

// Clone returns a deep copy of v.
func (v Views) Clone() Views {
	out := Views{Tables: v.Tables}
	if v.Context != nil {
		c := *v.Context
		c.Details = slices.Clone(c.Details)
		out.Context = &c
	}
	if v.Risk != nil {
		r := *v.Risk
		r.Details = slices.Clone(r.Details)
		out.Risk = &r
	}
	if v.Compliance != nil {
		c := *v.Compliance
		c.Details = slices.Clone(c.Details)
		out.Compliance = &c
	}
	return out
}

// Display computes and keeps the index views of one session.
type Display struct {
	store    *state.Store
	engine   *scoring.Engine
	narrator ai.Narrator
	logger   *slog.Logger

	computations atomic.Int64

	mu    sync.Mutex
	last  Views
	epoch uint64
}

// NewDisplay returns a Display reading from store.
func NewDisplay(store *state.Store, engine *scoring.Engine, narrator ai.Narrator, logger *slog.Logger) *Display {
	return &Display{
		store:    store,
		engine:   engine,
		narrator: narrator,
		logger:   logger,
		last:     Views{Tables: engine.Version()},
	}
}

// Context computes the context index of the stored event and narrates it.
func (d *Display) Context(ctx context.Context) (IndexView, error) {
	snap := d.store.Snapshot()
	if snap.EventData == nil {
		return IndexView{}, goerr.Wrap(model.ErrPrecondition, "no event data to score")
	}
	v := d.contextView(ctx, *snap.EventData)

	d.mu.Lock()
	d.last.Context = &v
	d.mu.Unlock()
	return v, nil
}

func (d *Display) contextView(ctx context.Context, ev model.EventData) IndexView {
	score := d.engine.ContextIndex(ev)
	lvl := scoring.ContextLevelFor(score)
	v := IndexView{Score: score, Level: lvl.Name, Details: lvl.Details}

	details, err := d.narrator.GenerateContextDetails(ctx, ev, score, lvl.Name)
	if err != nil {
		d.logger.Warn("metrics: context narrative failed, using canned details", "score", score, "error", err)
		return v
	}
	v.Details, v.Narrated = details, true
	return v
}

// Show computes the risk index and compliance over the current risk list and
// narrates both. The canned views are recorded before narration starts, so
// Views never lags the risk list. Narrative failures fall back to canned
// details and are only logged. The context view is computed too if it has
// not been yet.
func (d *Display) Show(ctx context.Context) (Views, error) {
	d.computations.Add(1)

	snap := d.store.Snapshot()
	if snap.EventData == nil {
		return Views{}, goerr.Wrap(model.ErrPrecondition, "no event data to score")
	}
	ev := *snap.EventData

	score := d.engine.RiskIndex(snap.Risks)
	lvl := scoring.RiskLevelFor(score)
	risk := IndexView{Score: score, Level: lvl.Name, Details: lvl.Details}
	c := d.engine.Compliance(snap.Risks)
	compliance := ComplianceView{Status: c.Status, Details: c.Details}

	d.mu.Lock()
	d.epoch++
	epoch := d.epoch
	canned := Views{Risk: &risk, Compliance: &compliance}.Clone()
	d.last.Risk, d.last.Compliance = canned.Risk, canned.Compliance
	hasContext := d.last.Context != nil
	d.mu.Unlock()

	if details, err := d.narrator.GenerateRiskDetails(ctx, ev, snap.Risks, score, lvl.Name); err != nil {
		d.logger.Warn("metrics: risk narrative failed, using canned details", "score", score, "error", err)
	} else {
		risk.Details, risk.Narrated = details, true
	}
	if details, err := d.narrator.GenerateComplianceDetails(ctx, ev, snap.Risks, string(c.Status)); err != nil {
		d.logger.Warn("metrics: compliance narrative failed, using canned details", "status", c.Status, "error", err)
	} else {
		compliance.Details, compliance.Narrated = details, true
	}

	var contextView *IndexView
	if !hasContext {
		v := d.contextView(ctx, ev)
		contextView = &v
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if contextView != nil && d.last.Context == nil {
		d.last.Context = contextView
	}
	// A later Show, Hide or Reset owns the views now.
	if d.epoch != epoch {
		return d.last.Clone(), nil
	}
	d.last.Risk = &risk
	d.last.Compliance = &compliance
	return d.last.Clone(), nil
}

// Hide drops the risk and compliance views. The context view stays.
func (d *Display) Hide() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.epoch++
	d.last.Risk, d.last.Compliance = nil, nil
}

// Reset forgets every view, for a new session.
func (d *Display) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.epoch++
	d.last = Views{Tables: d.engine.Version()}
}

// Views returns a copy of the last computed views.
func (d *Display) Views() Views {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last.Clone()
}

// Computations is the number of Show calls so far.
func (d *Display) Computations() int64 { return d.computations.Load() }
