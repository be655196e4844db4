package orchestrator_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/m-mizutani/gt"

	"github.com/nyashahama/event-risk-assessor/internal/ai/aitest"
	"github.com/nyashahama/event-risk-assessor/internal/lifecycle"
	"github.com/nyashahama/event-risk-assessor/internal/metrics"
	"github.com/nyashahama/event-risk-assessor/internal/model"
	"github.com/nyashahama/event-risk-assessor/internal/orchestrator"
	"github.com/nyashahama/event-risk-assessor/internal/scoring"
	"github.com/nyashahama/event-risk-assessor/internal/state"
)

type recordingEnqueuer struct {
	mu      sync.Mutex
	risks   []int
	summary int
}

func (e *recordingEnqueuer) EnqueueRisk(_ uint64, id int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.risks = append(e.risks, id)
}

func (e *recordingEnqueuer) EnqueueSummary(uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.summary++
}

type fixture struct {
	store   *state.Store
	stub    *aitest.Stub
	display *metrics.Display
	enq     *recordingEnqueuer
	orch    *orchestrator.Orchestrator
}

func newFixture(t *testing.T, stub *aitest.Stub) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := state.New()
	display := metrics.NewDisplay(store, scoring.Default(), stub, logger)
	lm := lifecycle.New(store, display, logger)
	enq := &recordingEnqueuer{}
	orch := orchestrator.New(store, stub, lm, display, enq, logger, orchestrator.Config{RiskBatch: 8, AdditionalCount: 3})
	return &fixture{store: store, stub: stub, display: display, enq: enq, orch: orch}
}

var festival = model.EventData{
	Title:        "Harbour Festival",
	Date:         "2025-07-12",
	Location:     "Cape Town",
	Attendance:   12000,
	Category:     model.CategoryMusic,
	VenueSubtype: "Outdoor Festival",
}

func run(t *testing.T, step orchestrator.Step, err error) error {
	t.Helper()
	gt.NoError(t, err).Required()
	return step(context.Background())
}

func (f *fixture) toReview(t *testing.T) {
	t.Helper()
	step, err := f.orch.Start(festival)
	gt.NoError(t, run(t, step, err)).Required()
	step, err = f.orch.AcceptSummary()
	gt.NoError(t, run(t, step, err)).Required()
}

// ─── Start ────────────────────────────────────────────────────────────────────

func TestStart_GeneratesSummary(t *testing.T) {
	f := newFixture(t, &aitest.Stub{})

	step, err := f.orch.Start(festival)
	gt.NoError(t, err).Required()
	gt.Value(t, f.store.Phase()).Equal(model.PhaseGenerating)
	gt.NoError(t, step(context.Background())).Required()

	snap := f.store.Snapshot()
	gt.Bool(t, snap.SummaryGenerated).True()
	gt.Value(t, snap.Summary).Equal([]string{
		"Overview of Harbour Festival",
		"Operational considerations for Harbour Festival",
	})
	gt.Value(t, f.display.Views().Context).NotNil()
	gt.Value(t, f.enq.summary).Equal(1)
}

func TestStart_InvalidEventLeavesSetup(t *testing.T) {
	f := newFixture(t, &aitest.Stub{})
	bad := festival
	bad.VenueSubtype = "State Funeral"

	_, err := f.orch.Start(bad)
	gt.Error(t, err).Is(model.ErrValidation)
	snap := f.store.Snapshot()
	gt.Value(t, snap.Phase).Equal(model.PhaseSetup)
	gt.Value(t, snap.EventData).Nil()
}

func TestStart_OverviewFailureIsHard(t *testing.T) {
	f := newFixture(t, &aitest.Stub{
		OverviewFn: func(context.Context, model.EventData) (string, error) { return "", aitest.Failure },
	})

	step, err := f.orch.Start(festival)
	err = run(t, step, err)
	gt.Error(t, err).Is(model.ErrCollaborator)

	snap := f.store.Snapshot()
	gt.Value(t, snap.Phase).Equal(model.PhaseGenerating)
	gt.Bool(t, snap.SummaryGenerated).False()
	gt.String(t, snap.Failure).NotEqual("")
	gt.Value(t, f.stub.Calls("GenerateOperational")).Equal(0)
}

func TestStart_TwiceIsPrecondition(t *testing.T) {
	f := newFixture(t, &aitest.Stub{})
	_, err := f.orch.Start(festival)
	gt.NoError(t, err).Required()
	_, err = f.orch.Start(festival)
	gt.Error(t, err).Is(model.ErrPrecondition)
}

// ─── AcceptSummary ────────────────────────────────────────────────────────────

func TestAcceptSummary_RequiresSummary(t *testing.T) {
	f := newFixture(t, &aitest.Stub{})
	_, err := f.orch.AcceptSummary()
	gt.Error(t, err).Is(model.ErrPrecondition)
}

func TestAcceptSummary_ConversationMode(t *testing.T) {
	f := newFixture(t, &aitest.Stub{})
	f.toReview(t)

	snap := f.store.Snapshot()
	gt.Value(t, snap.Phase).Equal(model.PhaseReview)
	gt.Bool(t, snap.RisksGenerated).True()
	gt.Value(t, snap.ConversationID).Equal("conv-1")
	gt.Array(t, snap.Risks).Length(8)
	for i, r := range snap.Risks {
		gt.Value(t, r.ID).Equal(i + 1)
		gt.Bool(t, r.Accepted).False()
	}
	gt.Value(t, f.stub.Calls("GenerateNextRisk")).Equal(8)
	gt.Value(t, f.stub.Calls("GenerateSingleRisk")).Equal(0)
	gt.Array(t, f.enq.risks).Length(8)
}

func TestAcceptSummary_StatelessFallbackKeepsOrder(t *testing.T) {
	f := newFixture(t, &aitest.Stub{
		StartFn: func(context.Context, model.EventData) (string, error) { return "", aitest.Failure },
	})
	f.toReview(t)

	snap := f.store.Snapshot()
	gt.Value(t, snap.ConversationID).Equal("")
	gt.Array(t, snap.Risks).Length(8)
	for i, r := range snap.Risks {
		gt.Value(t, r.Description).Equal("Risk " + string(rune('1'+i)))
	}
	gt.Value(t, f.stub.Calls("GenerateSingleRisk")).Equal(8)
}

func TestAcceptSummary_FailedRiskSkipped(t *testing.T) {
	stub := &aitest.Stub{}
	stub.NextRiskFn = func(_ context.Context, _ string, n int) (model.RiskShape, error) {
		if n == 3 {
			return model.RiskShape{}, aitest.Failure
		}
		return aitest.Risk(n, model.RiskSecurity, 4, 2), nil
	}
	f := newFixture(t, stub)
	f.toReview(t)

	snap := f.store.Snapshot()
	gt.Array(t, snap.Risks).Length(7)
	gt.Value(t, snap.Phase).Equal(model.PhaseReview)
}

func TestAcceptSummary_NormalizesBackendShapes(t *testing.T) {
	stub := &aitest.Stub{}
	stub.NextRiskFn = func(_ context.Context, _ string, n int) (model.RiskShape, error) {
		return model.RiskShape{Category: "Weather", Impact: []byte(`"9"`), Likelihood: []byte(`"2"`)}, nil
	}
	f := newFixture(t, stub)
	f.toReview(t)

	r := f.store.Snapshot().Risks[0]
	gt.Value(t, r.Category).Equal(model.RiskOperational)
	gt.Value(t, r.Impact).Equal(model.DefaultScore)
	gt.Value(t, r.Likelihood).Equal(2)
	gt.String(t, r.Description).NotEqual("")
}

// ─── GenerateMore ─────────────────────────────────────────────────────────────

func TestGenerateMore_AppendsDefaultCount(t *testing.T) {
	f := newFixture(t, &aitest.Stub{})
	f.toReview(t)

	step, err := f.orch.GenerateMore(0)
	gt.NoError(t, run(t, step, err)).Required()

	snap := f.store.Snapshot()
	gt.Array(t, snap.Risks).Length(11)
	gt.Value(t, snap.Risks[10].ID).Equal(11)
}

func TestGenerateMore_WithoutConversationIsPrecondition(t *testing.T) {
	f := newFixture(t, &aitest.Stub{
		StartFn: func(context.Context, model.EventData) (string, error) { return "", aitest.Failure },
	})
	f.toReview(t)
	before := f.store.Snapshot()

	_, err := f.orch.GenerateMore(3)
	gt.Error(t, err).Is(model.ErrPrecondition)

	after := f.store.Snapshot()
	gt.Array(t, after.Risks).Length(len(before.Risks))
	gt.Value(t, after.LastModified).Equal(before.LastModified)
	gt.Value(t, f.stub.Calls("GenerateAdditionalRisks")).Equal(0)
}

func TestGenerateMore_BatchFailure(t *testing.T) {
	stub := &aitest.Stub{}
	stub.AdditionalFn = func(context.Context, string, model.EventData, []model.RiskItem, int) ([]model.RiskShape, error) {
		return nil, aitest.Failure
	}
	f := newFixture(t, stub)
	f.toReview(t)

	step, err := f.orch.GenerateMore(2)
	err = run(t, step, err)
	gt.Error(t, err).Is(model.ErrCollaborator)
	gt.Array(t, f.store.Snapshot().Risks).Length(8)
	gt.Value(t, f.store.Phase()).Equal(model.PhaseReview)

	failure := f.store.Snapshot().Failure
	gt.String(t, failure).Contains("try again")
	gt.String(t, failure).NotContains("Go back")
}

// ─── EditSummary ──────────────────────────────────────────────────────────────

func TestEditSummary_ReplacesTextAndRequeuesJustification(t *testing.T) {
	f := newFixture(t, &aitest.Stub{})
	step, err := f.orch.Start(festival)
	gt.NoError(t, run(t, step, err)).Required()
	gt.NoError(t, f.store.Apply(f.store.Generation(), func(tx *state.Tx) error {
		tx.SetSummaryJustification(model.Justification{Reasoning: "old", Sources: []string{"x"}})
		return nil
	})).Required()

	gt.NoError(t, f.orch.EditSummary([]string{"  New overview. ", "", "New operations."})).Required()

	snap := f.store.Snapshot()
	gt.Value(t, snap.Summary).Equal([]string{"New overview.", "New operations."})
	gt.Value(t, snap.SummaryJustification).Nil()
	gt.Value(t, f.enq.summary).Equal(2)
	gt.Value(t, snap.Phase).Equal(model.PhaseGenerating)

	step, err = f.orch.AcceptSummary()
	gt.NoError(t, run(t, step, err)).Required()
	gt.Value(t, f.store.Snapshot().Summary).Equal([]string{"New overview.", "New operations."})
}

func TestEditSummary_Rejections(t *testing.T) {
	f := newFixture(t, &aitest.Stub{})
	gt.Error(t, f.orch.EditSummary([]string{"text"})).Is(model.ErrPrecondition)

	step, err := f.orch.Start(festival)
	gt.NoError(t, run(t, step, err)).Required()
	gt.Error(t, f.orch.EditSummary([]string{" ", ""})).Is(model.ErrValidation)

	step, err = f.orch.AcceptSummary()
	gt.NoError(t, run(t, step, err)).Required()
	gt.Error(t, f.orch.EditSummary([]string{"text"})).Is(model.ErrPrecondition)
}

// ─── Back ─────────────────────────────────────────────────────────────────────

func TestBack_DropsLateResults(t *testing.T) {
	started, release := make(chan struct{}), make(chan struct{})
	stub := &aitest.Stub{}
	stub.NextRiskFn = func(ctx context.Context, _ string, n int) (model.RiskShape, error) {
		if n == 2 {
			close(started)
			<-release
		}
		return aitest.Risk(n, model.RiskMedical, 1, 1), nil
	}
	f := newFixture(t, stub)

	step, err := f.orch.Start(festival)
	gt.NoError(t, run(t, step, err)).Required()
	step, err = f.orch.AcceptSummary()
	gt.NoError(t, err).Required()

	done := make(chan error, 1)
	go func() { done <- step(context.Background()) }()

	<-started
	f.orch.Back()
	close(release)

	select {
	case err := <-done:
		gt.Value(t, err).NotNil()
	case <-time.After(2 * time.Second):
		t.Fatal("step did not stop after Back")
	}

	snap := f.store.Snapshot()
	gt.Value(t, snap.Phase).Equal(model.PhaseSetup)
	gt.Array(t, snap.Risks).Length(0)
	gt.Value(t, snap.EventData).Nil()
	gt.Value(t, snap.ConversationID).Equal("")
}

type endingStub struct {
	*aitest.Stub
	mu    sync.Mutex
	ended []string
}

func (s *endingStub) EndConversation(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ended = append(s.ended, id)
}

func TestBack_EndsConversation(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	collab := &endingStub{Stub: &aitest.Stub{}}
	store := state.New()
	display := metrics.NewDisplay(store, scoring.Default(), collab, logger)
	orch := orchestrator.New(store, collab, lifecycle.New(store, display, logger), display, nil, logger,
		orchestrator.Config{RiskBatch: 1, AdditionalCount: 1})

	step, err := orch.Start(festival)
	gt.NoError(t, run(t, step, err)).Required()
	step, err = orch.AcceptSummary()
	gt.NoError(t, run(t, step, err)).Required()
	gt.Value(t, store.Snapshot().ConversationID).Equal("conv-1")

	orch.Back()
	gt.Value(t, collab.ended).Equal([]string{"conv-1"})

	orch.Back()
	gt.Array(t, collab.ended).Length(1)
}

func TestBack_StaleStepRefusesToRun(t *testing.T) {
	f := newFixture(t, &aitest.Stub{})
	step, err := f.orch.Start(festival)
	gt.NoError(t, err).Required()

	f.orch.Back()
	gt.Error(t, step(context.Background())).Is(model.ErrStale)
	gt.Value(t, f.stub.Calls("GenerateOverview")).Equal(0)
}

// ─── Full flow ────────────────────────────────────────────────────────────────

func TestFlow_AcceptAllCompletesAndExportReady(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := newFixture(t, &aitest.Stub{})
	f.toReview(t)
	gt.Bool(t, f.orch.ExportReady()).False()

	lm := lifecycle.New(f.store, f.display, logger)
	_, err := lm.AcceptAll(context.Background())
	gt.NoError(t, err).Required()

	gt.Value(t, f.store.Phase()).Equal(model.PhaseComplete)
	gt.Bool(t, f.orch.ExportReady()).True()
	gt.Value(t, f.display.Computations()).Equal(int64(1))
	gt.Value(t, f.display.Views().Risk).NotNil()
}
