// Package state is the single source of truth for one assessment session:
// event data, the risk list, the phase, cached justifications and the
// conversation handle.
//
// Every other component reads snapshots and requests mutations through the
// Store. Background goroutines write through Apply with the generation they
// were started under, so work belonging to an abandoned session is dropped
// instead of landing in a reset store.
//
// Dependency rule: state imports model only.
package state

import (
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/nyashahama/event-risk-assessor/internal/model"
)

// Store holds one ApplicationState behind a mutex.
type Store struct {
	mu  sync.RWMutex
	st  model.ApplicationState
	now func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New returns a Store in the setup phase.
func New(opts ...Option) *Store {
	s := &Store{now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	s.st = model.ApplicationState{
		Phase:        model.PhaseSetup,
		Risks:        []model.RiskItem{},
		Generation:   1,
		LastModified: s.now(),
	}
	return s
}

// Snapshot returns a deep copy of the current state. Mutating it has no effect
// on the store.
func (s *Store) Snapshot() model.ApplicationState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.Clone()
}

// Generation returns the current session generation. It changes on Reset.
func (s *Store) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.Generation
}

// Phase returns the current phase without copying the whole state.
func (s *Store) Phase() model.Phase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.Phase
}

// Apply runs fn against a transactional view of the state if gen is still the
// current generation. Changes made by fn are kept only when fn returns nil.
// A stale generation returns model.ErrStale without calling fn.
func (s *Store) Apply(gen uint64, fn func(tx *Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.st.Generation {
		return goerr.Wrap(model.ErrStale, "session was reset",
			goerr.V("generation", gen), goerr.V("current", s.st.Generation))
	}

	tx := &Tx{st: s.st.Clone()}
	if err := fn(tx); err != nil {
		return err
	}
	if tx.dirty {
		tx.st.LastModified = s.now()
		s.st = tx.st
	}
	return nil
}

// update is Apply at the current generation, for foreground callers.
func (s *Store) update(fn func(tx *Tx) error) error {
	s.mu.RLock()
	gen := s.st.Generation
	s.mu.RUnlock()
	return s.Apply(gen, fn)
}

// Reset discards the event data, risks, summary and conversation, returns the
// phase to setup and starts a new generation.
func (s *Store) Reset() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st = model.ApplicationState{
		Phase:        model.PhaseSetup,
		Risks:        []model.RiskItem{},
		Generation:   s.st.Generation + 1,
		LastModified: s.now(),
	}
	return s.st.Generation
}

// ─── FOREGROUND MUTATIONS ─────────────────────────────────────────────────────

// SetEventData validates and stores data. Invalid data leaves the store
// untouched.
func (s *Store) SetEventData(data model.EventData) error {
	return s.update(func(tx *Tx) error { return tx.SetEventData(data) })
}

// AddRisk appends risk and returns it with its assigned id.
func (s *Store) AddRisk(risk model.RiskItem) (model.RiskItem, error) {
	var added model.RiskItem
	err := s.update(func(tx *Tx) error {
		var err error
		added, err = tx.AddRisk(risk)
		return err
	})
	return added, err
}

// UpdateRisk applies patch to the risk with the given id and nulls the
// justifications of every field it changed.
func (s *Store) UpdateRisk(id int, patch model.RiskPatch) (model.RiskItem, error) {
	var updated model.RiskItem
	err := s.update(func(tx *Tx) error {
		var err error
		updated, err = tx.UpdateRisk(id, patch)
		return err
	})
	return updated, err
}

// RemoveRisk deletes the risk with the given id. Remaining ids are kept.
func (s *Store) RemoveRisk(id int) error {
	return s.update(func(tx *Tx) error { return tx.RemoveRisk(id) })
}

// SetPhase changes the phase. Transition legality is the caller's concern.
func (s *Store) SetPhase(p model.Phase) {
	_ = s.update(func(tx *Tx) error { tx.SetPhase(p); return nil })
}

// SetStatus records the inline progress text.
func (s *Store) SetStatus(status string, progress int) {
	_ = s.update(func(tx *Tx) error { tx.SetStatus(status, progress); return nil })
}
