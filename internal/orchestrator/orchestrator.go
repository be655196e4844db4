// Package orchestrator drives an assessment through its phases:
//
//	setup → generating → review → complete
//
// with Back as the escape from any phase to setup.
//
// Each operation checks its preconditions synchronously and returns a Step
// holding the I/O-bound remainder. The HTTP layer runs steps in the
// background and lets clients poll; the CLI runs them inline. Every write a
// step makes is tagged with the store generation captured when the operation
// was accepted, so a step that outlives Back cannot touch the new session.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/nyashahama/event-risk-assessor/internal/ai"
	"github.com/nyashahama/event-risk-assessor/internal/lifecycle"
	"github.com/nyashahama/event-risk-assessor/internal/metrics"
	"github.com/nyashahama/event-risk-assessor/internal/model"
	"github.com/nyashahama/event-risk-assessor/internal/state"
)

// Step is the asynchronous remainder of an operation.
type Step func(ctx context.Context) error

// Enqueuer schedules background justification work. Enqueue must not block.
type Enqueuer interface {
	EnqueueRisk(gen uint64, riskID int)
	EnqueueSummary(gen uint64)
}

// Config holds the generation knobs.
type Config struct {
	// RiskBatch is how many risks the first pass generates.
	RiskBatch int
	// AdditionalCount is the default size of GenerateMore.
	AdditionalCount int
	// Pacing is the delay between successive risks of the first pass.
	Pacing time.Duration
}

// DefaultConfig returns 8 risks, 3 more per request, 1.5s pacing.
func DefaultConfig() Config {
	return Config{RiskBatch: 8, AdditionalCount: 3, Pacing: 1500 * time.Millisecond}
}

// Orchestrator owns the phase machine of one session.
type Orchestrator struct {
	store     *state.Store
	collab    ai.Collaborator
	lifecycle *lifecycle.Manager
	display   *metrics.Display
	enqueuer  Enqueuer
	logger    *slog.Logger
	cfg       Config

	mu      sync.Mutex
	cancels map[int]context.CancelFunc
	nextRun int
	busy    uint64 // generation with risk generation in flight, 0 if none
}

// New wires an Orchestrator. enqueuer may be nil, in which case
// justifications are only generated when first viewed.
func New(
	store *state.Store,
	collab ai.Collaborator,
	lm *lifecycle.Manager,
	display *metrics.Display,
	enqueuer Enqueuer,
	logger *slog.Logger,
	cfg Config,
) *Orchestrator {
	def := DefaultConfig()
	if cfg.RiskBatch <= 0 {
		cfg.RiskBatch = def.RiskBatch
	}
	if cfg.AdditionalCount <= 0 {
		cfg.AdditionalCount = def.AdditionalCount
	}
	if cfg.Pacing < 0 {
		cfg.Pacing = 0
	}
	return &Orchestrator{
		store:     store,
		collab:    collab,
		lifecycle: lm,
		display:   display,
		enqueuer:  enqueuer,
		logger:    logger,
		cfg:       cfg,
		cancels:   make(map[int]context.CancelFunc),
	}
}

// ─── STEP PLUMBING ────────────────────────────────────────────────────────────

// bind wraps fn so Back can cancel it and so it refuses to run once gen is
// stale.
func (o *Orchestrator) bind(gen uint64, fn func(ctx context.Context) error) Step {
	return func(ctx context.Context) error {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		o.mu.Lock()
		run := o.nextRun
		o.nextRun++
		o.cancels[run] = cancel
		o.mu.Unlock()
		defer func() {
			o.mu.Lock()
			delete(o.cancels, run)
			o.mu.Unlock()
		}()

		if cur := o.store.Generation(); cur != gen {
			return goerr.Wrap(model.ErrStale, "session was reset before step ran",
				goerr.V("generation", gen), goerr.V("current", cur))
		}
		return fn(ctx)
	}
}

func (o *Orchestrator) claim(gen uint64) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.busy == gen {
		return goerr.Wrap(model.ErrPrecondition, "risk generation already running")
	}
	o.busy = gen
	return nil
}

func (o *Orchestrator) release(gen uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.busy == gen {
		o.busy = 0
	}
}

// Advice appended to a failure message.
const (
	adviceGoBack = "Go back and try again."
	adviceRetry  = "Your risks are unchanged; try again."
)

// fail records a hard failure for the user and returns err with context. If
// the session was reset meanwhile the stale error is returned instead.
func (o *Orchestrator) fail(gen uint64, what, advice string, err error) error {
	o.logger.Error("orchestrator: step failed", "step", what, "error", err)
	applyErr := o.store.Apply(gen, func(tx *state.Tx) error {
		tx.SetFailure(fmt.Sprintf("Failed to generate %s. %s", what, advice))
		tx.SetStatus("Generation failed", tx.State().Progress)
		return nil
	})
	if errors.Is(applyErr, model.ErrStale) {
		return applyErr
	}
	return goerr.Wrap(err, "generation step failed", goerr.V("step", what))
}

func (o *Orchestrator) pace(ctx context.Context) error {
	if o.cfg.Pacing <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(o.cfg.Pacing)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (o *Orchestrator) enqueueRisk(gen uint64, id int) {
	if o.enqueuer != nil {
		o.enqueuer.EnqueueRisk(gen, id)
	}
}

// ─── OPERATIONS ───────────────────────────────────────────────────────────────

// Start stores ev and moves setup → generating. The step writes the
// two-paragraph contextual summary.
func (o *Orchestrator) Start(ev model.EventData) (Step, error) {
	gen := o.store.Generation()
	err := o.store.Apply(gen, func(tx *state.Tx) error {
		if phase := tx.State().Phase; phase != model.PhaseSetup {
			return goerr.Wrap(model.ErrPrecondition, "assessment already started", goerr.V("phase", phase))
		}
		if err := tx.SetEventData(ev); err != nil {
			return err
		}
		tx.SetPhase(model.PhaseGenerating)
		tx.SetFailure("")
		tx.SetStatus("Generating contextual summary...", 10)
		return nil
	})
	if err != nil {
		return nil, err
	}
	o.logger.Info("orchestrator: assessment started", "title", ev.Title, "category", ev.Category)

	return o.bind(gen, func(ctx context.Context) error {
		overview, err := o.collab.GenerateOverview(ctx, ev)
		if err != nil {
			return o.fail(gen, "event overview", adviceGoBack, err)
		}
		if err := o.store.Apply(gen, func(tx *state.Tx) error {
			tx.SetStatus("Generating operational considerations...", 30)
			return nil
		}); err != nil {
			return err
		}

		operational, err := o.collab.GenerateOperational(ctx, ev)
		if err != nil {
			return o.fail(gen, "operational considerations", adviceGoBack, err)
		}

		if err := o.store.Apply(gen, func(tx *state.Tx) error {
			tx.SetSummary([]string{overview, operational})
			tx.SetStatus("Summary ready for review", 50)
			return nil
		}); err != nil {
			return err
		}

		if _, err := o.display.Context(ctx); err != nil {
			o.logger.Warn("orchestrator: context index display failed", "error", err)
		}
		if o.enqueuer != nil {
			o.enqueuer.EnqueueSummary(gen)
		}
		return nil
	}), nil
}

// EditSummary replaces the generated summary with the user's paragraphs
// before it is accepted. Blank paragraphs are dropped; at least one must
// remain. The summary justification is cleared and requeued since it explains
// the old text.
func (o *Orchestrator) EditSummary(paragraphs []string) error {
	var kept []string
	for _, p := range paragraphs {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	if len(kept) == 0 {
		return goerr.Wrap(model.ErrValidation, "summary cannot be empty", goerr.V("field", "summary"))
	}

	o.mu.Lock()
	busy := o.busy
	o.mu.Unlock()

	gen := o.store.Generation()
	if busy == gen {
		return goerr.Wrap(model.ErrPrecondition, "summary already accepted")
	}
	err := o.store.Apply(gen, func(tx *state.Tx) error {
		st := tx.State()
		switch {
		case st.Phase != model.PhaseGenerating:
			return goerr.Wrap(model.ErrPrecondition, "summary can only be edited before it is accepted",
				goerr.V("phase", st.Phase))
		case !st.SummaryGenerated:
			return goerr.Wrap(model.ErrPrecondition, "summary not generated yet")
		case st.RisksGenerated:
			return goerr.Wrap(model.ErrPrecondition, "risks already generated")
		}
		if slices.Equal(st.Summary, kept) {
			return nil
		}
		tx.SetSummary(kept)
		tx.ClearSummaryJustification()
		tx.SetStatus("Summary edited", st.Progress)
		return nil
	})
	if err != nil {
		return err
	}
	o.logger.Info("orchestrator: summary edited", "paragraphs", len(kept))
	if o.enqueuer != nil {
		o.enqueuer.EnqueueSummary(gen)
	}
	return nil
}

// AcceptSummary accepts the summary and generates the first batch of risks,
// one at a time, through a backend conversation. If the conversation cannot be
// opened each risk is requested statelessly instead. A risk that fails is
// logged and skipped.
func (o *Orchestrator) AcceptSummary() (Step, error) {
	snap := o.store.Snapshot()
	gen := snap.Generation
	switch {
	case snap.Phase != model.PhaseGenerating:
		return nil, goerr.Wrap(model.ErrPrecondition, "summary can only be accepted while generating",
			goerr.V("phase", snap.Phase))
	case !snap.SummaryGenerated:
		return nil, goerr.Wrap(model.ErrPrecondition, "summary not generated yet")
	case snap.RisksGenerated:
		return nil, goerr.Wrap(model.ErrPrecondition, "risks already generated")
	}
	if err := o.claim(gen); err != nil {
		return nil, err
	}
	if err := o.store.Apply(gen, func(tx *state.Tx) error {
		tx.SetFailure("")
		tx.SetStatus("Generating risks...", 55)
		return nil
	}); err != nil {
		o.release(gen)
		return nil, err
	}
	ev := *snap.EventData

	return o.bind(gen, func(ctx context.Context) error {
		defer o.release(gen)

		convID, err := o.collab.StartRiskConversation(ctx, ev)
		stateless := err != nil
		if stateless {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			o.logger.Warn("orchestrator: conversation unavailable, generating risks statelessly", "error", err)
		} else if err := o.store.Apply(gen, func(tx *state.Tx) error {
			tx.SetConversation(convID)
			return nil
		}); err != nil {
			ai.EndConversation(o.collab, convID)
			return err
		}

		n := o.cfg.RiskBatch
		added := 0
		for i := 1; i <= n; i++ {
			var shape model.RiskShape
			if stateless {
				shape, err = o.collab.GenerateSingleRisk(ctx, ev, i, n)
			} else {
				shape, err = o.collab.GenerateNextRisk(ctx, convID, i)
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err != nil {
				o.logger.Warn("orchestrator: risk generation failed, skipping", "risk_number", i, "error", err)
			} else {
				item, err := o.lifecycle.AddGenerated(ctx, gen, shape.Normalize())
				if err != nil {
					return err
				}
				added++
				o.enqueueRisk(gen, item.ID)
			}

			progress := 55 + 45*i/n
			if err := o.store.Apply(gen, func(tx *state.Tx) error {
				tx.SetStatus(fmt.Sprintf("Generated %d of %d risks...", i, n), progress)
				return nil
			}); err != nil {
				return err
			}
			if i < n {
				if err := o.pace(ctx); err != nil {
					return err
				}
			}
		}

		if err := o.store.Apply(gen, func(tx *state.Tx) error {
			tx.SetRisksGenerated(true)
			tx.SetPhase(model.PhaseReview)
			tx.SetStatus("Risk assessment ready for review", 100)
			if added == 0 {
				tx.SetFailure("No risks could be generated. Add custom risks or go back and try again.")
			}
			return nil
		}); err != nil {
			return err
		}
		o.logger.Info("orchestrator: risk generation finished",
			"generated", added, "requested", n, "stateless", stateless)
		return o.lifecycle.Check(ctx, gen)
	}), nil
}

// GenerateMore asks the open conversation for count more risks that do not
// duplicate the current list. count <= 0 uses the configured default. Without
// a conversation handle it fails with ErrPrecondition and changes nothing.
func (o *Orchestrator) GenerateMore(count int) (Step, error) {
	if count <= 0 {
		count = o.cfg.AdditionalCount
	}
	snap := o.store.Snapshot()
	gen := snap.Generation
	switch {
	case snap.Phase != model.PhaseReview:
		return nil, goerr.Wrap(model.ErrPrecondition, "more risks can only be generated during review",
			goerr.V("phase", snap.Phase))
	case snap.ConversationID == "":
		return nil, goerr.Wrap(model.ErrPrecondition, "no risk conversation is open")
	}
	if err := o.claim(gen); err != nil {
		return nil, err
	}
	ev, convID := *snap.EventData, snap.ConversationID

	return o.bind(gen, func(ctx context.Context) error {
		defer o.release(gen)

		existing := o.store.Snapshot().Risks
		shapes, err := o.collab.GenerateAdditionalRisks(ctx, convID, ev, existing, count)
		if err != nil {
			return o.fail(gen, "additional risks", adviceRetry, err)
		}
		for _, shape := range shapes {
			item, err := o.lifecycle.AddGenerated(ctx, gen, shape.Normalize())
			if err != nil {
				return err
			}
			o.enqueueRisk(gen, item.ID)
		}
		o.logger.Info("orchestrator: additional risks added", "count", len(shapes))
		return o.store.Apply(gen, func(tx *state.Tx) error {
			tx.SetFailure("")
			tx.SetStatus(fmt.Sprintf("Added %d more risks", len(shapes)), 100)
			return nil
		})
	}), nil
}

// Back abandons the session: in-flight steps are cancelled, the store is
// reset to setup under a new generation, the risk conversation is ended and
// the metrics are forgotten. It returns the new generation.
func (o *Orchestrator) Back() uint64 {
	o.mu.Lock()
	for id, cancel := range o.cancels {
		cancel()
		delete(o.cancels, id)
	}
	o.busy = 0
	o.mu.Unlock()

	conv := o.store.Snapshot().ConversationID
	gen := o.store.Reset()
	ai.EndConversation(o.collab, conv)
	o.display.Reset()
	o.logger.Info("orchestrator: session reset", "generation", gen)
	return gen
}

// ExportReady reports whether the report can be exported: the session is
// complete and every risk is accepted.
func (o *Orchestrator) ExportReady() bool {
	snap := o.store.Snapshot()
	return snap.Phase == model.PhaseComplete && snap.AllAccepted()
}
