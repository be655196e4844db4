package model

import (
	"slices"
	"strings"
	"time"
)

// Phase is the orchestration step of an assessment.
type Phase string

const (
	PhaseSetup      Phase = "setup"
	PhaseGenerating Phase = "generating"
	PhaseReview     Phase = "review"
	PhaseComplete   Phase = "complete"
)

// ApplicationState is the full state of one assessment session. Values of this
// type handed out by the state store are deep copies.
type ApplicationState struct {
	Phase     Phase      `json:"phase"`
	EventData *EventData `json:"event_data,omitempty"`
	Risks     []RiskItem `json:"risks"`

	SummaryGenerated bool `json:"summary_generated"`
	RisksGenerated   bool `json:"risks_generated"`

	// Summary holds the overview and operational paragraphs in order.
	Summary              []string       `json:"summary,omitempty"`
	SummaryJustification *Justification `json:"summary_justification,omitempty"`

	// ConversationID is the backend handle for progressive risk generation.
	// Empty when no conversation is open (never started, or stateless mode).
	ConversationID string `json:"conversation_id,omitempty"`

	// Status is the inline progress text; Failure is set when a step failed
	// with no fallback and the user must go back to retry.
	Status   string `json:"status,omitempty"`
	Progress int    `json:"progress"`
	Failure  string `json:"failure,omitempty"`

	Generation   uint64    `json:"generation"`
	LastModified time.Time `json:"last_modified"`
}

// Clone returns a deep copy of s.
func (s ApplicationState) Clone() ApplicationState {
	out := s
	if s.EventData != nil {
		ev := *s.EventData
		out.EventData = &ev
	}
	out.Risks = make([]RiskItem, len(s.Risks))
	for i, r := range s.Risks {
		out.Risks[i] = r.Clone()
	}
	out.Summary = slices.Clone(s.Summary)
	out.SummaryJustification = s.SummaryJustification.Clone()
	return out
}

// Risk returns the item with the given id.
func (s ApplicationState) Risk(id int) (RiskItem, bool) {
	for _, r := range s.Risks {
		if r.ID == id {
			return r, true
		}
	}
	return RiskItem{}, false
}

// AllAccepted reports whether the risk list is non-empty and every item has
// been accepted.
func (s ApplicationState) AllAccepted() bool {
	if len(s.Risks) == 0 {
		return false
	}
	for _, r := range s.Risks {
		if !r.Accepted {
			return false
		}
	}
	return true
}

// SummaryText joins the summary paragraphs with a blank line.
func (s ApplicationState) SummaryText() string {
	return strings.Join(s.Summary, "\n\n")
}
