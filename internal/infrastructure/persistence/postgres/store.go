// Package postgres holds every SQL statement the coordination engine issues.
// All mutations are short single-statement transactions; conditional updates
// with an affected-row count are the concurrency mechanism, no advisory locks
// or SELECT FOR UPDATE.
package postgres

import (
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rezkam/exportd/internal/application/export"
	"github.com/rezkam/exportd/internal/application/worker"
)

// Store is the PostgreSQL implementation of the coordination state machine.
type Store struct {
	pool *pgxpool.Pool
}

var (
	_ worker.Coordinator = (*Store)(nil)
	_ export.Repository  = (*Store)(nil)
)

// NewStore creates a store over an existing pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Pool returns the underlying connection pool.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// Close closes the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}
