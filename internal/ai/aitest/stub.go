// Package aitest provides a programmable ai.Collaborator for tests.
package aitest

import (
	"context"
	"fmt"
	"sync"

	"github.com/m-mizutani/goerr/v2"

	"github.com/nyashahama/event-risk-assessor/internal/ai"
	"github.com/nyashahama/event-risk-assessor/internal/model"
)

// Stub implements ai.Collaborator. Each *Fn field, when set, replaces the
// default behaviour of its method. Defaults return plausible canned content.
// Calls are counted per method name and are safe from multiple goroutines.
type Stub struct {
	OverviewFn      func(ctx context.Context, ev model.EventData) (string, error)
	OperationalFn   func(ctx context.Context, ev model.EventData) (string, error)
	StartFn         func(ctx context.Context, ev model.EventData) (string, error)
	NextRiskFn      func(ctx context.Context, convID string, n int) (model.RiskShape, error)
	AdditionalFn    func(ctx context.Context, convID string, ev model.EventData, existing []model.RiskItem, count int) ([]model.RiskShape, error)
	SingleRiskFn    func(ctx context.Context, ev model.EventData, n, total int) (model.RiskShape, error)
	JustificationFn func(ctx context.Context, req ai.JustificationRequest) (model.Justification, error)
	DetailsFn       func(ctx context.Context, kind string) ([]string, error)

	mu    sync.Mutex
	calls map[string]int
}

var _ ai.Collaborator = (*Stub)(nil)

// Failure is the error returned by Fail helpers.
var Failure = goerr.Wrap(model.ErrCollaborator, "stub failure")

// Calls returns how many times method was invoked.
func (s *Stub) Calls(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

func (s *Stub) record(method string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calls == nil {
		s.calls = make(map[string]int)
	}
	s.calls[method]++
}

// Risk builds the backend shape of risk n with fixed scores.
func Risk(n int, category model.RiskCategory, impact, likelihood int) model.RiskShape {
	return model.RiskShape{
		Risk:       fmt.Sprintf("Risk %d", n),
		Category:   string(category),
		Impact:     []byte(fmt.Sprint(impact)),
		Likelihood: []byte(fmt.Sprint(likelihood)),
		Mitigation: fmt.Sprintf("Mitigation %d", n),
	}
}

func (s *Stub) GenerateOverview(ctx context.Context, ev model.EventData) (string, error) {
	s.record("GenerateOverview")
	if s.OverviewFn != nil {
		return s.OverviewFn(ctx, ev)
	}
	return "Overview of " + ev.Title, nil
}

func (s *Stub) GenerateOperational(ctx context.Context, ev model.EventData) (string, error) {
	s.record("GenerateOperational")
	if s.OperationalFn != nil {
		return s.OperationalFn(ctx, ev)
	}
	return "Operational considerations for " + ev.Title, nil
}

func (s *Stub) StartRiskConversation(ctx context.Context, ev model.EventData) (string, error) {
	s.record("StartRiskConversation")
	if s.StartFn != nil {
		return s.StartFn(ctx, ev)
	}
	return "conv-1", nil
}

func (s *Stub) GenerateNextRisk(ctx context.Context, convID string, n int) (model.RiskShape, error) {
	s.record("GenerateNextRisk")
	if s.NextRiskFn != nil {
		return s.NextRiskFn(ctx, convID, n)
	}
	return Risk(n, model.RiskOperational, 3, 3), nil
}

func (s *Stub) GenerateAdditionalRisks(ctx context.Context, convID string, ev model.EventData, existing []model.RiskItem, count int) ([]model.RiskShape, error) {
	s.record("GenerateAdditionalRisks")
	if s.AdditionalFn != nil {
		return s.AdditionalFn(ctx, convID, ev, existing, count)
	}
	out := make([]model.RiskShape, count)
	for i := range out {
		out[i] = Risk(len(existing)+i+1, model.RiskLogistics, 2, 2)
	}
	return out, nil
}

func (s *Stub) GenerateSingleRisk(ctx context.Context, ev model.EventData, n, total int) (model.RiskShape, error) {
	s.record("GenerateSingleRisk")
	if s.SingleRiskFn != nil {
		return s.SingleRiskFn(ctx, ev, n, total)
	}
	return Risk(n, model.RiskMedical, 2, 3), nil
}

func (s *Stub) GenerateJustification(ctx context.Context, req ai.JustificationRequest) (model.Justification, error) {
	s.record("GenerateJustification")
	if s.JustificationFn != nil {
		return s.JustificationFn(ctx, req)
	}
	return model.Justification{
		Reasoning: req.FieldType + " is " + req.FieldValue,
		Sources:   []string{"Stub Source"},
	}, nil
}

func (s *Stub) GenerateContextDetails(ctx context.Context, ev model.EventData, score int, level string) ([]string, error) {
	return s.details(ctx, "context")
}

func (s *Stub) GenerateRiskDetails(ctx context.Context, ev model.EventData, risks []model.RiskItem, score int, level string) ([]string, error) {
	return s.details(ctx, "risk")
}

func (s *Stub) GenerateComplianceDetails(ctx context.Context, ev model.EventData, risks []model.RiskItem, status string) ([]string, error) {
	return s.details(ctx, "compliance")
}

func (s *Stub) details(ctx context.Context, kind string) ([]string, error) {
	s.record("Details:" + kind)
	if s.DetailsFn != nil {
		return s.DetailsFn(ctx, kind)
	}
	return []string{kind + " detail"}, nil
}
