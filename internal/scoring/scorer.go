// Package scoring computes the composite indices of an assessment: the context
// index from event data, the risk index from the risk list, and the compliance
// status from its security risks. It is pure and deterministic: no I/O, no
// clocks, nothing that needs a network to test.
package scoring

import (
	"slices"

	"github.com/nyashahama/event-risk-assessor/internal/model"
)

// ─── TYPES ────────────────────────────────────────────────────────────────────

// Compliance is a status with its canned description bullets.
type Compliance struct {
	Status  ComplianceStatus `json:"status"`
	Details []string         `json:"details"`

	SecurityRisks   int `json:"security_risks"`
	HighImpactRisks int `json:"high_impact_security_risks"`
}

// Engine evaluates indices against one set of tables. It is safe for
// concurrent use.
type Engine struct {
	tables Tables
}

// NewEngine returns an Engine over t. t should come from ParseTables,
// LoadTables or DefaultTables.
func NewEngine(t Tables) *Engine {
	return &Engine{tables: t}
}

// Default returns an Engine over the embedded canonical tables.
func Default() *Engine {
	return NewEngine(DefaultTables())
}

// Version identifies the tables in use.
func (e *Engine) Version() string { return e.tables.Version }

// ─── CORE FUNCTIONS ───────────────────────────────────────────────────────────

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ContextIndex scores the sensitivity and complexity of an event:
// category base + attendance tier bonus + sensitive venue bonus, clamped to
// the table range. It is non-decreasing in attendance for a fixed category
// and venue.
func (e *Engine) ContextIndex(ev model.EventData) int {
	c := e.tables.Context

	score := c.Base[string(ev.Category)]
	score += e.attendanceBonus(ev.Attendance)
	if slices.Contains(c.SensitiveVenues, ev.VenueSubtype) {
		score += c.SensitiveVenueBonus
	}
	return clamp(score, c.Min, c.Max)
}

func (e *Engine) attendanceBonus(attendance int) int {
	for _, tier := range e.tables.Context.Attendance {
		if attendance > tier.Above {
			return tier.Bonus
		}
	}
	return 0
}

// RiskIndex buckets the maximum overall score across risks (not the average).
// An empty list scores 1.
func (e *Engine) RiskIndex(risks []model.RiskItem) int {
	if len(risks) == 0 {
		return 1
	}
	maxScore := 0
	for _, r := range risks {
		maxScore = max(maxScore, r.OverallScore())
	}

	level := 1
	for _, l := range e.tables.Risk.Levels {
		if maxScore >= l.MinScore {
			level = l.Level
		}
	}
	return level
}

// Compliance judges coverage of security risks. No security risks is
// non-compliant; more than one high-impact security risk exceeds compliance;
// anything in between is compliant.
func (e *Engine) Compliance(risks []model.RiskItem) Compliance {
	var security, high int
	for _, r := range risks {
		if r.Category != model.RiskSecurity {
			continue
		}
		security++
		if r.Impact >= e.tables.Risk.HighImpact {
			high++
		}
	}

	c := Compliance{SecurityRisks: security, HighImpactRisks: high}
	switch {
	case high > 1:
		c.Status, c.Details = ExceedsCompliance, exceedsDetails
	case high > 0:
		c.Status, c.Details = Compliant, compliantHighImpactDetails
	case security > 0:
		c.Status, c.Details = Compliant, compliantDetails
	default:
		c.Status, c.Details = NonCompliant, nonCompliantDetails
	}
	c.Details = slices.Clone(c.Details)
	return c
}
