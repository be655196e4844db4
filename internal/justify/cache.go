// Package justify produces and caches the explanation shown next to each risk
// field and the contextual summary.
//
// Justifications are cached in the state store on the item they explain.
// A cached entry is returned without a backend call. The overall score is
// explained locally. Everything else costs one collaborator call, with a
// fixed fallback when that call fails.
package justify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"golang.org/x/sync/singleflight"

	"github.com/nyashahama/event-risk-assessor/internal/ai"
	"github.com/nyashahama/event-risk-assessor/internal/model"
	"github.com/nyashahama/event-risk-assessor/internal/state"
)

// SummaryFieldType is the field type sent to the backend for the summary.
const SummaryFieldType = "Contextual Summary"

// Fallbacks used when the backend cannot produce a justification.
var (
	RiskFallback = model.Justification{
		Reasoning: "This assessment was determined through AI analysis considering the event type, scale, venue characteristics, and industry best practices.",
		Sources:   []string{"AI Risk Analysis", "Industry Standards"},
	}
	SummaryFallback = model.Justification{
		Reasoning: "The summary was generated using AI analysis based on the event details provided, considering event type, scale, location, and industry best practices.",
		Sources:   []string{"AI Analysis", "Event Details", "Industry Best Practices"},
	}
)

// Status of one justification slot.
type Status string

const (
	StatusMissing Status = "missing"
	StatusLoading Status = "loading"
	StatusCached  Status = "cached"
)

// DefaultCallTimeout bounds one shared backend call, retries included.
const DefaultCallTimeout = 3 * time.Minute

// errValueChanged marks a result computed for a value the user has since edited.
var errValueChanged = errors.New("field value changed")

// Cache is safe for concurrent use. It holds no justification state of its
// own beyond the in-flight set; the store is the cache.
type Cache struct {
	store     *state.Store
	justifier ai.Justifier
	logger    *slog.Logger

	// CacheFailures keeps fallback results in the store. When false a failed
	// justification is retried on the next view.
	CacheFailures bool
	// CallTimeout bounds a shared backend call. Callers stop waiting when
	// their own context ends; the call itself runs on until CallTimeout.
	CallTimeout   time.Duration

	group singleflight.Group

	mu       sync.Mutex
	inflight map[string]int
}

// New returns a Cache writing into store. CacheFailures defaults to true.
func New(store *state.Store, justifier ai.Justifier, logger *slog.Logger) *Cache {
	return &Cache{
		store:         store,
		justifier:     justifier,
		logger:        logger,
		CacheFailures: true,
		CallTimeout:   DefaultCallTimeout,
		inflight:      make(map[string]int),
	}
}

// Explain returns the locally computed justification of the overall score.
func Explain(r model.RiskItem) model.Justification {
	return model.Justification{
		Reasoning: fmt.Sprintf("The Overall Score (%d) is calculated by multiplying Impact (%d) by Likelihood (%d).",
			r.OverallScore(), r.Impact, r.Likelihood),
		Sources: []string{"Risk Scoring Matrix", "Internal Calculation Logic"},
	}
}

// ─── RISK FIELDS ──────────────────────────────────────────────────────────────

// Risk returns the justification of field on risk id, generating and caching
// it when absent. A backend failure is not an error: the fallback is returned.
// Only the caller's own cancellation is.
func (c *Cache) Risk(ctx context.Context, id int, field model.Field) (model.Justification, error) {
	if field.DisplayName() == "" {
		return model.Justification{}, goerr.Wrap(model.ErrValidation, "unknown justification field",
			goerr.V("field", field))
	}

	snap := c.store.Snapshot()
	risk, ok := snap.Risk(id)
	if !ok {
		return model.Justification{}, goerr.Wrap(model.ErrRiskNotFound, "cannot justify risk",
			goerr.V("id", id), goerr.V("field", field))
	}
	if j := risk.Justifications[field]; j != nil {
		return *j.Clone(), nil
	}

	gen := snap.Generation
	value := risk.FieldValue(field)

	if field == model.FieldOverall {
		j := Explain(risk)
		c.storeRisk(gen, id, field, value, j)
		return j, nil
	}

	return c.shared(ctx, key(gen, id, field), func(ctx context.Context) model.Justification {
		var ev model.EventData
		if snap.EventData != nil {
			ev = *snap.EventData
		}
		j, err := c.justifier.GenerateJustification(ctx, ai.JustificationRequest{
			Event:      ev,
			FieldType:  field.DisplayName(),
			FieldValue: value,
			Risk:       &risk,
		})
		if err != nil {
			c.logger.Warn("justify: backend failed, using fallback",
				"risk_id", id, "field", field, "error", err)
			if !c.keepFallback(err) {
				return RiskFallback
			}
			j = RiskFallback
		}
		c.storeRisk(gen, id, field, value, j)
		return j
	})
}

// storeRisk writes j unless the session was reset, the risk was deleted, or
// the field no longer holds value. Dropped writes are logged at debug.
func (c *Cache) storeRisk(gen uint64, id int, field model.Field, value string, j model.Justification) {
	err := c.store.Apply(gen, func(tx *state.Tx) error {
		cur, ok := tx.State().Risk(id)
		if !ok {
			return goerr.Wrap(model.ErrRiskNotFound, "risk deleted", goerr.V("id", id))
		}
		if cur.FieldValue(field) != value {
			return errValueChanged
		}
		return tx.SetJustification(id, field, j)
	})
	if err != nil {
		c.logger.Debug("justify: result dropped", "risk_id", id, "field", field, "reason", err)
	}
}

// Precompute fills the justifications a reviewer looks at first: description,
// impact, likelihood and overall. It stops early when the risk disappears or
// ctx is done.
func (c *Cache) Precompute(ctx context.Context, id int) error {
	for _, f := range []model.Field{model.FieldRisk, model.FieldImpact, model.FieldLikelihood, model.FieldOverall} {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := c.Risk(ctx, id, f); err != nil {
			return err
		}
	}
	return nil
}

// ─── SUMMARY ──────────────────────────────────────────────────────────────────

// Summary returns the justification of the contextual summary.
func (c *Cache) Summary(ctx context.Context) (model.Justification, error) {
	snap := c.store.Snapshot()
	if !snap.SummaryGenerated {
		return model.Justification{}, goerr.Wrap(model.ErrPrecondition, "summary not generated yet")
	}
	if snap.SummaryJustification != nil {
		return *snap.SummaryJustification.Clone(), nil
	}

	gen := snap.Generation
	text := snap.SummaryText()

	return c.shared(ctx, key(gen, 0, SummaryFieldType), func(ctx context.Context) model.Justification {
		var ev model.EventData
		if snap.EventData != nil {
			ev = *snap.EventData
		}
		j, err := c.justifier.GenerateJustification(ctx, ai.JustificationRequest{
			Event:      ev,
			FieldType:  SummaryFieldType,
			FieldValue: text,
		})
		if err != nil {
			c.logger.Warn("justify: summary backend failed, using fallback", "error", err)
			if !c.keepFallback(err) {
				return SummaryFallback
			}
			j = SummaryFallback
		}

		err = c.store.Apply(gen, func(tx *state.Tx) error {
			if tx.State().SummaryText() != text {
				return errValueChanged
			}
			tx.SetSummaryJustification(j)
			return nil
		})
		if err != nil {
			c.logger.Debug("justify: summary result dropped", "reason", err)
		}
		return j
	})
}

// ─── SHARED CALLS ─────────────────────────────────────────────────────────────

// shared runs generate once per key for all concurrent callers. The call is
// detached from ctx and bounded by CallTimeout instead, so a caller that goes
// away neither aborts it for the others nor leaves a fallback in the store.
// A caller whose ctx ends first gets ctx.Err().
func (c *Cache) shared(ctx context.Context, k string, generate func(context.Context) model.Justification) (model.Justification, error) {
	if err := ctx.Err(); err != nil {
		return model.Justification{}, err
	}

	detached := context.WithoutCancel(ctx)
	ch := c.group.DoChan(k, func() (any, error) {
		c.begin(k)
		defer c.end(k)

		callCtx, cancel := context.WithTimeout(detached, c.CallTimeout)
		defer cancel()
		return generate(callCtx), nil
	})

	select {
	case <-ctx.Done():
		return model.Justification{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return model.Justification{}, res.Err
		}
		j := res.Val.(model.Justification)
		return *j.Clone(), nil
	}
}

// keepFallback reports whether a fallback for err goes into the store. A call
// cut short by a timeout or cancellation is always retried on the next view.
func (c *Cache) keepFallback(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return c.CacheFailures
}

// ─── STATUS ───────────────────────────────────────────────────────────────────

// Status reports whether the justification of field on risk id is cached,
// being generated, or neither. Risk id 0 addresses the summary, with field
// ignored.
func (c *Cache) Status(id int, field model.Field) Status {
	snap := c.store.Snapshot()
	if id == 0 {
		if snap.SummaryJustification != nil {
			return StatusCached
		}
		return c.loadingOr(key(snap.Generation, 0, SummaryFieldType))
	}
	risk, ok := snap.Risk(id)
	if !ok {
		return StatusMissing
	}
	if risk.Justifications[field] != nil {
		return StatusCached
	}
	return c.loadingOr(key(snap.Generation, id, field))
}

func (c *Cache) loadingOr(k string) Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inflight[k] > 0 {
		return StatusLoading
	}
	return StatusMissing
}

func (c *Cache) begin(k string) {
	c.mu.Lock()
	c.inflight[k]++
	c.mu.Unlock()
}

func (c *Cache) end(k string) {
	c.mu.Lock()
	if c.inflight[k]--; c.inflight[k] <= 0 {
		delete(c.inflight, k)
	}
	c.mu.Unlock()
}

func key[F ~string](gen uint64, id int, field F) string {
	return strconv.FormatUint(gen, 10) + "/" + strconv.Itoa(id) + "/" + string(field)
}
