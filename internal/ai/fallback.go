package ai

import (
	"context"
	"log/slog"
	"sync"

	"github.com/m-mizutani/goerr/v2"

	"github.com/nyashahama/event-risk-assessor/internal/model"
)

// failover wraps two Collaborators. Each call goes to the primary first; if
// that fails it logs the failure and tries the secondary.
//
// Conversation handles are only meaningful to the backend that issued them,
// so calls that carry a handle are pinned to its owner and never fail over.
type failover struct {
	primary   Collaborator
	secondary Collaborator
	logger    *slog.Logger

	mu     sync.Mutex
	owners map[string]Collaborator
}

// ConversationEnder is implemented by collaborators that keep state per
// conversation handle.
type ConversationEnder interface {
	EndConversation(conversationID string)
}

// EndConversation releases whatever c keeps for conversationID. It is a no-op
// for collaborators that keep nothing.
func EndConversation(c Collaborator, conversationID string) {
	if e, ok := c.(ConversationEnder); ok && conversationID != "" {
		e.EndConversation(conversationID)
	}
}

// NewFailover returns a Collaborator that calls primary and, on failure,
// falls back to secondary. If secondary is nil, primary is returned as is.
func NewFailover(primary, secondary Collaborator, logger *slog.Logger) Collaborator {
	if secondary == nil {
		return primary
	}
	return &failover{
		primary:   primary,
		secondary: secondary,
		logger:    logger,
		owners:    make(map[string]Collaborator),
	}
}

// try runs fn against primary, then secondary on error.
func try[T any](f *failover, ctx context.Context, op string, fn func(Collaborator) (T, error)) (T, Collaborator, error) {
	out, err := fn(f.primary)
	if err == nil {
		return out, f.primary, nil
	}
	if ctx.Err() != nil {
		return out, nil, err
	}
	f.logger.Warn("ai: primary backend failed, trying secondary", "op", op, "error", err)
	out, err = fn(f.secondary)
	return out, f.secondary, err
}

func (f *failover) owner(conversationID string) (Collaborator, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.owners[conversationID]
	if !ok {
		return nil, goerr.Wrap(model.ErrCollaborator, "unknown conversation",
			goerr.V("conversation_id", conversationID))
	}
	return c, nil
}

// EndConversation forgets the owner of conversationID.
func (f *failover) EndConversation(conversationID string) {
	f.mu.Lock()
	delete(f.owners, conversationID)
	f.mu.Unlock()
}

func (f *failover) GenerateOverview(ctx context.Context, ev model.EventData) (string, error) {
	s, _, err := try(f, ctx, "overview", func(c Collaborator) (string, error) {
		return c.GenerateOverview(ctx, ev)
	})
	return s, err
}

func (f *failover) GenerateOperational(ctx context.Context, ev model.EventData) (string, error) {
	s, _, err := try(f, ctx, "operational", func(c Collaborator) (string, error) {
		return c.GenerateOperational(ctx, ev)
	})
	return s, err
}

func (f *failover) StartRiskConversation(ctx context.Context, ev model.EventData) (string, error) {
	id, c, err := try(f, ctx, "start-risk-conversation", func(c Collaborator) (string, error) {
		return c.StartRiskConversation(ctx, ev)
	})
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	f.owners[id] = c
	f.mu.Unlock()
	return id, nil
}

func (f *failover) GenerateNextRisk(ctx context.Context, conversationID string, n int) (model.RiskShape, error) {
	c, err := f.owner(conversationID)
	if err != nil {
		return model.RiskShape{}, err
	}
	return c.GenerateNextRisk(ctx, conversationID, n)
}

func (f *failover) GenerateAdditionalRisks(ctx context.Context, conversationID string, ev model.EventData, existing []model.RiskItem, count int) ([]model.RiskShape, error) {
	c, err := f.owner(conversationID)
	if err != nil {
		return nil, err
	}
	return c.GenerateAdditionalRisks(ctx, conversationID, ev, existing, count)
}

func (f *failover) GenerateSingleRisk(ctx context.Context, ev model.EventData, n, total int) (model.RiskShape, error) {
	r, _, err := try(f, ctx, "single-risk", func(c Collaborator) (model.RiskShape, error) {
		return c.GenerateSingleRisk(ctx, ev, n, total)
	})
	return r, err
}

func (f *failover) GenerateJustification(ctx context.Context, req JustificationRequest) (model.Justification, error) {
	j, _, err := try(f, ctx, "justification", func(c Collaborator) (model.Justification, error) {
		return c.GenerateJustification(ctx, req)
	})
	return j, err
}

func (f *failover) GenerateContextDetails(ctx context.Context, ev model.EventData, score int, level string) ([]string, error) {
	d, _, err := try(f, ctx, "rekon-context", func(c Collaborator) ([]string, error) {
		return c.GenerateContextDetails(ctx, ev, score, level)
	})
	return d, err
}

func (f *failover) GenerateRiskDetails(ctx context.Context, ev model.EventData, risks []model.RiskItem, score int, level string) ([]string, error) {
	d, _, err := try(f, ctx, "rekon-risk", func(c Collaborator) ([]string, error) {
		return c.GenerateRiskDetails(ctx, ev, risks, score, level)
	})
	return d, err
}

func (f *failover) GenerateComplianceDetails(ctx context.Context, ev model.EventData, risks []model.RiskItem, status string) ([]string, error) {
	d, _, err := try(f, ctx, "rekon-compliance", func(c Collaborator) ([]string, error) {
		return c.GenerateComplianceDetails(ctx, ev, risks, status)
	})
	return d, err
}
