package state_test

import (
	"testing"
	"time"

	"github.com/m-mizutani/gt"

	"github.com/nyashahama/event-risk-assessor/internal/model"
	"github.com/nyashahama/event-risk-assessor/internal/state"
)

func fixedClock() func() time.Time {
	t := time.Date(2030, 1, 1, 9, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

func event() model.EventData {
	return model.EventData{
		Title:      "County Show",
		Date:       "2030-08-01",
		Location:   "Showground",
		Attendance: 4000,
		Category:   model.CategoryCommunity,
	}
}

func risk(impact, likelihood int) model.RiskItem {
	return model.RiskItem{
		Description: "Livestock escape",
		Category:    model.RiskOperational,
		Impact:      impact,
		Likelihood:  likelihood,
		Mitigation:  "Double fencing",
	}
}

func justification(text string) model.Justification {
	return model.Justification{Reasoning: text, Sources: []string{"Test"}}
}

func TestStore_SetEventData_ValidationLeavesStateUntouched(t *testing.T) {
	s := state.New(state.WithClock(fixedClock()))
	before := s.Snapshot()

	bad := event()
	bad.Title = ""
	gt.Error(t, s.SetEventData(bad)).Is(model.ErrValidation)

	after := s.Snapshot()
	gt.Value(t, after.EventData).Nil()
	gt.Value(t, after.LastModified).Equal(before.LastModified)

	gt.NoError(t, s.SetEventData(event())).Required()
	gt.Value(t, s.Snapshot().EventData.Title).Equal("County Show")
}

func TestStore_AddRisk_AssignsSequentialIDs(t *testing.T) {
	s := state.New()

	a, err := s.AddRisk(risk(2, 2))
	gt.NoError(t, err).Required()
	b, err := s.AddRisk(risk(3, 3))
	gt.NoError(t, err).Required()
	gt.Value(t, a.ID).Equal(1)
	gt.Value(t, b.ID).Equal(2)

	for _, f := range model.Fields() {
		j, ok := b.Justifications[f]
		gt.Bool(t, ok).True()
		gt.Value(t, j).Nil()
	}

	explicit := risk(1, 1)
	explicit.ID = 2
	_, err = s.AddRisk(explicit)
	gt.Error(t, err).Is(model.ErrValidation)
}

func TestStore_RemoveRisk_LeavesGaps(t *testing.T) {
	s := state.New()
	for range 3 {
		_, err := s.AddRisk(risk(2, 2))
		gt.NoError(t, err).Required()
	}

	gt.NoError(t, s.RemoveRisk(2)).Required()
	snap := s.Snapshot()
	gt.Array(t, snap.Risks).Length(2)
	gt.Value(t, snap.Risks[0].ID).Equal(1)
	gt.Value(t, snap.Risks[1].ID).Equal(3)

	next, err := s.AddRisk(risk(2, 2))
	gt.NoError(t, err).Required()
	gt.Value(t, next.ID).Equal(4)

	gt.Error(t, s.RemoveRisk(2)).Is(model.ErrRiskNotFound)
}

func seedJustified(t *testing.T, s *state.Store, r model.RiskItem) model.RiskItem {
	t.Helper()
	added, err := s.AddRisk(r)
	gt.NoError(t, err).Required()
	gt.NoError(t, s.Apply(s.Generation(), func(tx *state.Tx) error {
		for _, f := range model.Fields() {
			if err := tx.SetJustification(added.ID, f, justification(string(f))); err != nil {
				return err
			}
		}
		return nil
	})).Required()
	return added
}

func TestStore_UpdateRisk_ImpactChangeNullsOverall(t *testing.T) {
	s := state.New()
	r := seedJustified(t, s, risk(3, 4))

	impact := 4
	updated, err := s.UpdateRisk(r.ID, model.RiskPatch{Impact: &impact})
	gt.NoError(t, err).Required()

	gt.Value(t, updated.Justifications[model.FieldImpact]).Nil()
	gt.Value(t, updated.Justifications[model.FieldOverall]).Nil()
	gt.Value(t, updated.Justifications[model.FieldLikelihood]).NotNil()
	gt.Value(t, updated.Justifications[model.FieldMitigation]).NotNil()
	gt.Value(t, updated.Justifications[model.FieldRisk]).NotNil()
}

func TestStore_UpdateRisk_SameProductKeepsOverall(t *testing.T) {
	s := state.New()
	r := seedJustified(t, s, risk(2, 3))

	impact, likelihood := 3, 2
	updated, err := s.UpdateRisk(r.ID, model.RiskPatch{Impact: &impact, Likelihood: &likelihood})
	gt.NoError(t, err).Required()

	gt.Value(t, updated.Justifications[model.FieldImpact]).Nil()
	gt.Value(t, updated.Justifications[model.FieldLikelihood]).Nil()
	gt.Value(t, updated.Justifications[model.FieldOverall]).NotNil()
}

func TestStore_UpdateRisk_MitigationOnly(t *testing.T) {
	s := state.New()
	r := seedJustified(t, s, risk(2, 3))

	mitigation := "Stewards at every gate"
	updated, err := s.UpdateRisk(r.ID, model.RiskPatch{Mitigation: &mitigation})
	gt.NoError(t, err).Required()

	for _, f := range model.Fields() {
		if f == model.FieldMitigation {
			gt.Value(t, updated.Justifications[f]).Nil()
			continue
		}
		gt.Value(t, updated.Justifications[f]).NotNil()
	}
}

func TestStore_UpdateRisk_InvalidPatchRejected(t *testing.T) {
	s := state.New()
	r := seedJustified(t, s, risk(2, 3))

	impact := 9
	_, err := s.UpdateRisk(r.ID, model.RiskPatch{Impact: &impact})
	gt.Error(t, err).Is(model.ErrValidation)

	snap := s.Snapshot()
	gt.Value(t, snap.Risks[0].Impact).Equal(2)
	gt.Value(t, snap.Risks[0].Justifications[model.FieldImpact]).NotNil()
}

func TestStore_SnapshotIsIsolated(t *testing.T) {
	s := state.New()
	seedJustified(t, s, risk(2, 3))

	snap := s.Snapshot()
	snap.Risks[0].Description = "changed"
	snap.Risks[0].Justifications[model.FieldRisk].Reasoning = "changed"

	again := s.Snapshot()
	gt.Value(t, again.Risks[0].Description).Equal("Livestock escape")
	gt.Value(t, again.Risks[0].Justifications[model.FieldRisk].Reasoning).Equal("risk")
}

func TestStore_MutationsUpdateLastModified(t *testing.T) {
	s := state.New(state.WithClock(fixedClock()))
	t0 := s.Snapshot().LastModified

	s.SetPhase(model.PhaseGenerating)
	t1 := s.Snapshot().LastModified
	gt.Bool(t, t1.After(t0)).True()

	_, err := s.AddRisk(risk(1, 1))
	gt.NoError(t, err).Required()
	gt.Bool(t, s.Snapshot().LastModified.After(t1)).True()
}

func TestStore_ApplyAfterResetIsStale(t *testing.T) {
	s := state.New()
	gen := s.Generation()
	gt.NoError(t, s.SetEventData(event())).Required()

	s.Reset()

	called := false
	err := s.Apply(gen, func(tx *state.Tx) error {
		called = true
		_, err := tx.AddRisk(risk(5, 5))
		return err
	})
	gt.Error(t, err).Is(model.ErrStale)
	gt.Bool(t, called).False()

	snap := s.Snapshot()
	gt.Value(t, snap.Phase).Equal(model.PhaseSetup)
	gt.Value(t, snap.EventData).Nil()
	gt.Array(t, snap.Risks).Length(0)
}

func TestStore_ApplyErrorDiscardsPartialChanges(t *testing.T) {
	s := state.New()
	err := s.Apply(s.Generation(), func(tx *state.Tx) error {
		if _, err := tx.AddRisk(risk(1, 1)); err != nil {
			return err
		}
		return tx.RemoveRisk(99)
	})
	gt.Error(t, err).Is(model.ErrRiskNotFound)
	gt.Array(t, s.Snapshot().Risks).Length(0)
}
