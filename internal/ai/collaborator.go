// Package ai defines the contract of the AI backend that writes summaries,
// risks, justifications and index narratives, and provides an HTTP client for
// it.
//
// Every method makes one logical call. Transient transport failures are
// retried inside the client; anything it gives up on is returned wrapped in
// model.ErrCollaborator.
package ai

import (
	"context"

	"github.com/nyashahama/event-risk-assessor/internal/model"
)

// Summarizer writes the two paragraphs of the contextual summary.
type Summarizer interface {
	GenerateOverview(ctx context.Context, ev model.EventData) (string, error)
	GenerateOperational(ctx context.Context, ev model.EventData) (string, error)
}

// RiskGenerator produces risk items, either through a conversation that
// remembers earlier risks or one at a time without shared state.
type RiskGenerator interface {
	// StartRiskConversation opens a conversation and returns its handle.
	StartRiskConversation(ctx context.Context, ev model.EventData) (string, error)

	// GenerateNextRisk returns risk number n (1-indexed) of the conversation.
	GenerateNextRisk(ctx context.Context, conversationID string, n int) (model.RiskShape, error)

	// GenerateAdditionalRisks returns count risks that do not duplicate
	// existing.
	GenerateAdditionalRisks(ctx context.Context, conversationID string, ev model.EventData, existing []model.RiskItem, count int) ([]model.RiskShape, error)

	// GenerateSingleRisk is the stateless fallback: risk n of total, with no
	// memory of other calls.
	GenerateSingleRisk(ctx context.Context, ev model.EventData, n, total int) (model.RiskShape, error)
}

// JustificationRequest is what the backend needs to explain one value.
type JustificationRequest struct {
	Event model.EventData
	// FieldType is the display name, e.g. "Impact" or "Contextual Summary".
	FieldType  string
	FieldValue string
	// Risk is the owning risk; nil for the summary.
	Risk *model.RiskItem
}

// Justifier explains a displayed value.
type Justifier interface {
	GenerateJustification(ctx context.Context, req JustificationRequest) (model.Justification, error)
}

// Narrator writes the bullet points shown with each composite index.
type Narrator interface {
	GenerateContextDetails(ctx context.Context, ev model.EventData, score int, level string) ([]string, error)
	GenerateRiskDetails(ctx context.Context, ev model.EventData, risks []model.RiskItem, score int, level string) ([]string, error)
	GenerateComplianceDetails(ctx context.Context, ev model.EventData, risks []model.RiskItem, status string) ([]string, error)
}

// Collaborator is the full backend contract. Implementations must be safe to
// call concurrently.
type Collaborator interface {
	Summarizer
	RiskGenerator
	Justifier
	Narrator
}
