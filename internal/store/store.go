// Package store is the Metadata Store (module B): typed Postgres queries
// for every entity in the data model. Callers never see raw SQL; they see
// Go methods returning typed results or a wrapped error. Generalized from
// the teacher's pkg/metadata/service.go, which already shows the
// uuid-keyed, ON CONFLICT-upsert query style this package keeps.
package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

// Store wraps the connection pool and exposes entity-scoped query methods.
type Store struct {
	db *sql.DB
}

// Open dials Postgres and sizes the pool per §5 (min 5, max 100 typical).
func Open(databaseURL string, minConns, maxConns int) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	if maxConns <= 0 {
		maxConns = 100
	}
	if minConns <= 0 {
		minConns = 5
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(minConns)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying pool for ambient collaborators (audit logging)
// that need to share it without going through Store's typed methods.
func (s *Store) DB() *sql.DB { return s.db }

// withTx runs fn inside a transaction, rolling back on any error and on
// panic, committing otherwise. Mutating sequences spanning more than one row
// use this (org creation with founder membership, repository creation with
// admin grant), per §4.B.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
		if err != nil {
			tx.Rollback()
			return
		}
		err = tx.Commit()
	}()
	return fn(tx)
}

// ErrNotFound is returned by lookups that find nothing, distinguishing
// absence from a genuine storage fault.
var ErrNotFound = fmt.Errorf("store: not found")

// Ping checks DB reachability for readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
