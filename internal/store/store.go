// Package store is the Postgres archive of exported assessment reports.
//
// Dependency rule: store imports export for the Report type only. It never
// imports api, session, orchestrator or ai.
package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

// Store holds a *sql.DB for starting transactions and the Queries used for
// single statements outside of them.
type Store struct {
	// pool is the raw connection pool, used only to begin transactions.
	pool *sql.DB
	q    *Queries
}

// New creates a Store from a live connection pool. The pool must already be
// open and verified before calling New.
func New(pool *sql.DB) *Store {
	return &Store{pool: pool, q: newQueries(pool)}
}

// Open connects to dsn, pings it and applies the schema.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	if err := pool.PingContext(ctx); err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	s := New(pool)
	if err := s.EnsureSchema(ctx); err != nil {
		_ = pool.Close()
		return nil, err
	}
	return s, nil
}

// Q exposes the Queries for single-statement reads.
func (s *Store) Q() *Queries {
	return s.q
}

// Close closes the pool.
func (s *Store) Close() error { return s.pool.Close() }

// EnsureSchema creates the archive table and its indexes if they are missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("store: ensure schema: %w", err)
	}
	return nil
}

// txQuerier receives Queries scoped to a transaction. Returning a non-nil
// error causes withTx to roll back.
type txQuerier func(ctx context.Context, q *Queries) error

// withTx begins a serializable transaction, passes transactional Queries to fn
// and commits on success or rolls back on any error, panics included.
func (s *Store) withTx(ctx context.Context, fn txQuerier) error {
	tx, err := s.pool.BeginTx(ctx, &sql.TxOptions{
		Isolation: sql.LevelSerializable,
	})
	if err != nil {
		return fmt.Errorf("store: begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(ctx, s.q.WithTx(tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("store: fn error: %w; rollback error: %v", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit transaction: %w", err)
	}
	return nil
}
