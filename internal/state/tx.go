package state

import (
	"slices"

	"github.com/m-mizutani/goerr/v2"

	"github.com/nyashahama/event-risk-assessor/internal/model"
)

// Tx is the mutable view handed to Apply. It is only valid inside the callback.
type Tx struct {
	st    model.ApplicationState
	dirty bool
}

// State returns the state as modified so far. Do not retain it.
func (tx *Tx) State() model.ApplicationState { return tx.st }

func (tx *Tx) touch() { tx.dirty = true }

func (tx *Tx) SetEventData(data model.EventData) error {
	if err := data.Validate(); err != nil {
		return err
	}
	tx.st.EventData = &data
	tx.touch()
	return nil
}

func (tx *Tx) SetPhase(p model.Phase) {
	tx.st.Phase = p
	tx.touch()
}

func (tx *Tx) SetStatus(status string, progress int) {
	tx.st.Status = status
	tx.st.Progress = progress
	tx.touch()
}

// SetFailure records a hard failure, or clears it when msg is empty.
func (tx *Tx) SetFailure(msg string) {
	tx.st.Failure = msg
	tx.touch()
}

func (tx *Tx) SetSummary(paragraphs []string) {
	tx.st.Summary = slices.Clone(paragraphs)
	tx.st.SummaryGenerated = len(paragraphs) > 0
	tx.touch()
}

func (tx *Tx) SetRisksGenerated(v bool) {
	tx.st.RisksGenerated = v
	tx.touch()
}

func (tx *Tx) SetConversation(id string) {
	tx.st.ConversationID = id
	tx.touch()
}

func (tx *Tx) SetSummaryJustification(j model.Justification) {
	tx.st.SummaryJustification = j.Clone()
	tx.touch()
}

func (tx *Tx) ClearSummaryJustification() {
	tx.st.SummaryJustification = nil
	tx.touch()
}

// nextID is one more than the largest id in use.
func (tx *Tx) nextID() int {
	maxID := 0
	for _, r := range tx.st.Risks {
		maxID = max(maxID, r.ID)
	}
	return maxID + 1
}

func (tx *Tx) index(id int) int {
	return slices.IndexFunc(tx.st.Risks, func(r model.RiskItem) bool { return r.ID == id })
}

// AddRisk appends risk with an all-nil justification map. A zero id is
// assigned as max+1; a supplied id already in use is rejected.
func (tx *Tx) AddRisk(risk model.RiskItem) (model.RiskItem, error) {
	switch {
	case risk.ID < 0:
		return model.RiskItem{}, goerr.Wrap(model.ErrValidation, "risk id must be positive",
			goerr.V("id", risk.ID))
	case risk.ID == 0:
		risk.ID = tx.nextID()
	case tx.index(risk.ID) >= 0:
		return model.RiskItem{}, goerr.Wrap(model.ErrValidation, "risk id already in use",
			goerr.V("id", risk.ID))
	}
	risk.Justifications = model.EmptyJustifications()
	tx.st.Risks = append(tx.st.Risks, risk)
	tx.touch()
	return risk.Clone(), nil
}

// HasRisk reports whether id is present.
func (tx *Tx) HasRisk(id int) bool { return tx.index(id) >= 0 }

// UpdateRisk applies patch. Every changed field loses its justification, and
// overall does too when the impact × likelihood product changed.
func (tx *Tx) UpdateRisk(id int, patch model.RiskPatch) (model.RiskItem, error) {
	i := tx.index(id)
	if i < 0 {
		return model.RiskItem{}, goerr.Wrap(model.ErrRiskNotFound, "cannot update risk", goerr.V("id", id))
	}
	if err := patch.Validate(); err != nil {
		return model.RiskItem{}, err
	}

	r := &tx.st.Risks[i]
	before := r.OverallScore()
	changed := patch.Apply(r)
	if len(changed) == 0 {
		return r.Clone(), nil
	}
	for _, f := range changed {
		r.Justifications[f] = nil
	}
	if r.OverallScore() != before {
		r.Justifications[model.FieldOverall] = nil
	}
	tx.touch()
	return r.Clone(), nil
}

func (tx *Tx) RemoveRisk(id int) error {
	i := tx.index(id)
	if i < 0 {
		return goerr.Wrap(model.ErrRiskNotFound, "cannot remove risk", goerr.V("id", id))
	}
	tx.st.Risks = slices.Delete(tx.st.Risks, i, i+1)
	tx.touch()
	return nil
}

// Accept marks the risk accepted. It reports whether the flag changed.
func (tx *Tx) Accept(id int) (bool, error) {
	i := tx.index(id)
	if i < 0 {
		return false, goerr.Wrap(model.ErrRiskNotFound, "cannot accept risk", goerr.V("id", id))
	}
	if tx.st.Risks[i].Accepted {
		return false, nil
	}
	tx.st.Risks[i].Accepted = true
	tx.touch()
	return true, nil
}

// AcceptAll accepts every unaccepted risk and returns how many changed.
func (tx *Tx) AcceptAll() int {
	n := 0
	for i := range tx.st.Risks {
		if !tx.st.Risks[i].Accepted {
			tx.st.Risks[i].Accepted = true
			n++
		}
	}
	if n > 0 {
		tx.touch()
	}
	return n
}

// SetJustification caches j on the risk field. It returns ErrRiskNotFound when
// the risk has been deleted in the meantime.
func (tx *Tx) SetJustification(id int, f model.Field, j model.Justification) error {
	i := tx.index(id)
	if i < 0 {
		return goerr.Wrap(model.ErrRiskNotFound, "cannot cache justification",
			goerr.V("id", id), goerr.V("field", f))
	}
	tx.st.Risks[i].Justifications[f] = j.Clone()
	tx.touch()
	return nil
}
