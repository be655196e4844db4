// Package session keeps one assessment composition per client: a state
// store with the justification cache, metrics display, lifecycle manager and
// orchestrator wired around it. Sessions live in memory only and are evicted
// after a period of inactivity.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"

	"github.com/nyashahama/event-risk-assessor/internal/ai"
	"github.com/nyashahama/event-risk-assessor/internal/errutil"
	"github.com/nyashahama/event-risk-assessor/internal/justify"
	"github.com/nyashahama/event-risk-assessor/internal/lifecycle"
	"github.com/nyashahama/event-risk-assessor/internal/metrics"
	"github.com/nyashahama/event-risk-assessor/internal/model"
	"github.com/nyashahama/event-risk-assessor/internal/orchestrator"
	"github.com/nyashahama/event-risk-assessor/internal/scoring"
	"github.com/nyashahama/event-risk-assessor/internal/state"
	"github.com/nyashahama/event-risk-assessor/internal/worker"
)

// ErrNotFound is returned for unknown or evicted session ids.
var ErrNotFound = goerr.New("session not found")

// ─── SESSION ──────────────────────────────────────────────────────────────────

// Session is one assessment and everything operating on it.
type Session struct {
	ID        uuid.UUID
	CreatedAt time.Time

	Store          *state.Store
	Justifications *justify.Cache
	Display        *metrics.Display
	Lifecycle      *lifecycle.Manager
	Orchestrator   *orchestrator.Orchestrator

	logger *slog.Logger
	steps  sync.WaitGroup

	mu       sync.Mutex
	lastUsed time.Time
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastUsed = now
	s.mu.Unlock()
}

// LastUsed is the time of the last lookup.
func (s *Session) LastUsed() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsed
}

// Dispatch runs step in a new goroutine, detached from ctx's cancellation but
// keeping its values. Back cancels it. Failures are already recorded in the
// store by the orchestrator, so they are only logged here.
func (s *Session) Dispatch(ctx context.Context, step orchestrator.Step) {
	bg := context.WithoutCancel(ctx)
	s.steps.Add(1)
	go func() {
		defer s.steps.Done()
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("session: panic in step", "session_id", s.ID, "panic", r)
			}
		}()

		err := step(bg)
		switch {
		case err == nil:
		case errors.Is(err, model.ErrStale), errors.Is(err, context.Canceled):
			s.logger.Debug("session: step abandoned", "session_id", s.ID, "reason", err)
		case errors.Is(err, model.ErrCollaborator):
			s.logger.Warn("session: step failed", "session_id", s.ID, "error", err)
		default:
			errutil.Handle(bg, s.logger, err, "session: step failed")
		}
	}()
}

// Wait blocks until every dispatched step has returned.
func (s *Session) Wait() { s.steps.Wait() }

// ─── MANAGER ──────────────────────────────────────────────────────────────────

// Deps are shared by every session.
type Deps struct {
	Collaborator  ai.Collaborator
	Engine        *scoring.Engine
	Orchestration orchestrator.Config
	// CacheFailures is copied onto each justification cache.
	CacheFailures bool
	Logger        *slog.Logger
	// Now replaces time.Now, for tests.
	Now func() time.Time
}

// Manager owns the live sessions. It implements worker.Resolver.
type Manager struct {
	deps  Deps
	ttl   time.Duration
	now   func() time.Time
	queue *worker.Runner

	mu       sync.RWMutex
	sessions map[uuid.UUID]*Session
}

// NewManager returns a Manager evicting sessions idle for ttl. A zero ttl
// never evicts.
func NewManager(deps Deps, ttl time.Duration) *Manager {
	if deps.Engine == nil {
		deps.Engine = scoring.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Manager{
		deps:     deps,
		ttl:      ttl,
		now:      deps.Now,
		sessions: make(map[uuid.UUID]*Session),
	}
}

// UseRunner routes background justification work of sessions created from
// now on to r.
func (m *Manager) UseRunner(r *worker.Runner) { m.queue = r }

// Create builds and registers a new session.
func (m *Manager) Create() *Session {
	id := uuid.New()
	logger := m.deps.Logger.With("session_id", id)

	store := state.New()
	cache := justify.New(store, m.deps.Collaborator, logger)
	cache.CacheFailures = m.deps.CacheFailures
	display := metrics.NewDisplay(store, m.deps.Engine, m.deps.Collaborator, logger)
	lm := lifecycle.New(store, display, logger)

	var enq orchestrator.Enqueuer
	if m.queue != nil {
		enq = m.queue.For(id)
	}
	orch := orchestrator.New(store, m.deps.Collaborator, lm, display, enq, logger, m.deps.Orchestration)

	now := m.now()
	s := &Session{
		ID:             id,
		CreatedAt:      now,
		Store:          store,
		Justifications: cache,
		Display:        display,
		Lifecycle:      lm,
		Orchestrator:   orch,
		logger:         logger,
		lastUsed:       now,
	}

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()
	m.deps.Logger.Info("session: created", "session_id", id)
	return s
}

// Get returns the session and marks it used.
func (m *Manager) Get(id uuid.UUID) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, goerr.Wrap(ErrNotFound, "lookup session", goerr.V("session_id", id))
	}
	s.touch(m.now())
	return s, nil
}

// Delete cancels the session's in-flight work and forgets it.
func (m *Manager) Delete(id uuid.UUID) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return goerr.Wrap(ErrNotFound, "delete session", goerr.V("session_id", id))
	}
	s.Orchestrator.Back()
	return nil
}

// Len is the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Justifications implements worker.Resolver.
func (m *Manager) Justifications(id uuid.UUID, gen uint64) (worker.Justifications, bool) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok || s.Store.Generation() != gen {
		return nil, false
	}
	return s.Justifications, true
}

// ─── JANITOR ──────────────────────────────────────────────────────────────────

// Evict drops sessions idle since before now-ttl and returns how many.
func (m *Manager) Evict(now time.Time) int {
	if m.ttl <= 0 {
		return 0
	}
	var idle []*Session
	m.mu.Lock()
	for id, s := range m.sessions {
		if now.Sub(s.LastUsed()) > m.ttl {
			idle = append(idle, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range idle {
		s.Orchestrator.Back()
		m.deps.Logger.Info("session: evicted", "session_id", s.ID, "idle", now.Sub(s.LastUsed()))
	}
	return len(idle)
}

// Run evicts idle sessions periodically until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	if m.ttl <= 0 {
		return
	}
	interval := max(m.ttl/4, time.Second)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Evict(m.now())
		}
	}
}
