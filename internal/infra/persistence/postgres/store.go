// Package postgres provides a Postgres-backed persistent store. Builds for
// the same (country, start year) are serialised with a transaction-scoped
// advisory lock, so any number of processes may share one database.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"hash/fnv"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"startpop/internal/infra/persistence/sqlstore"
	"startpop/internal/schema"
	"startpop/pkg/domain"
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.PersistentStore = (*Store)(nil)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/startpop?sslmode=disable"

	tableExistsSQL = `SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = $1`
	lockSQL        = `SELECT pg_advisory_xact_lock($1)`
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Store is a sqlstore.Store speaking the postgres dialect.
type Store struct {
	*sqlstore.Store
}

// NewStore opens a Postgres-backed store using the provided DSN (falls back
// to defaultDSN) and ensures the registry tables exist.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	inner, err := sqlstore.New(ctx, db, "postgres", sqlstore.Dialect{
		Name:           schema.Postgres,
		TableExistsSQL: tableExistsSQL,
		Guard:          advisoryLock,
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{Store: inner}, nil
}

// LockID returns the advisory lock id guarding the tables of key.
func LockID(key domain.PopulationKey) int64 {
	h := fnv.New64a()
	_, _ = fmt.Fprintf(h, "%s/%d", key.Country, key.StartYear)
	return int64(h.Sum64())
}

func advisoryLock(ctx context.Context, tx *sql.Tx, key domain.PopulationKey) error {
	if _, err := tx.ExecContext(ctx, lockSQL, LockID(key)); err != nil {
		return fmt.Errorf("advisory lock %s: %w", key, err)
	}
	return nil
}

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
