package worker

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"

	"github.com/nyashahama/event-risk-assessor/internal/model"
)

// Justifications is the part of a session's justification cache a Job needs.
type Justifications interface {
	Precompute(ctx context.Context, riskID int) error
	Summary(ctx context.Context) (model.Justification, error)
}

// Resolver finds the live justification cache of a session. It reports false
// when the session no longer exists or has moved past gen.
type Resolver interface {
	Justifications(sessionID uuid.UUID, gen uint64) (Justifications, bool)
}

// Job runs one Task against its session.
type Job struct {
	sessions Resolver
	logger   *slog.Logger
}

// NewJob constructs a Job.
func NewJob(sessions Resolver, logger *slog.Logger) *Job {
	return &Job{sessions: sessions, logger: logger}
}

// Run precomputes the justifications named by t. Work for a session that was
// closed or reset, or for a risk deleted meanwhile, is dropped without error.
func (j *Job) Run(ctx context.Context, t Task) error {
	log := j.logger.With("session_id", t.SessionID, "risk_id", t.RiskID)

	cache, ok := j.sessions.Justifications(t.SessionID, t.Generation)
	if !ok {
		log.Debug("job: session gone, dropping task")
		return nil
	}

	var err error
	if t.RiskID == 0 {
		_, err = cache.Summary(ctx)
	} else {
		err = cache.Precompute(ctx, t.RiskID)
	}

	switch {
	case err == nil:
		return nil
	case errors.Is(err, model.ErrRiskNotFound),
		errors.Is(err, model.ErrStale),
		errors.Is(err, context.Canceled):
		log.Debug("job: task outdated, dropping", "reason", err)
		return nil
	}
	return goerr.Wrap(err, "precompute justifications",
		goerr.V("session_id", t.SessionID), goerr.V("risk_id", t.RiskID))
}
