// Package sqlite provides the file-backed SQLite persistent store.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"startpop/internal/infra/persistence/sqlstore"
	"startpop/internal/schema"
	"startpop/pkg/domain"
)

const tableExistsSQL = `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`

var _ domain.PersistentStore = (*Store)(nil)

// Store persists populations in a single SQLite file. Write transactions
// begin IMMEDIATE, which serialises writers across processes sharing the
// file; the busy timeout makes a second writer wait instead of failing.
type Store struct {
	*sqlstore.Store
	// mu serialises writers within this process so they queue on the mutex
	// rather than spinning on SQLITE_BUSY.
	mu   sync.Mutex
	path string
}

// NewStore opens (creating if needed) the database at path.
func NewStore(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		path = "startpop.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	inner, err := sqlstore.New(ctx, db, "sqlite", sqlstore.Dialect{
		Name:           schema.SQLite,
		TableExistsSQL: tableExistsSQL,
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{Store: inner, path: path}, nil
}

func dsn(path string) string {
	q := url.Values{}
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", "busy_timeout(30000)")
	q.Set("_txlock", "immediate")
	return path + "?" + q.Encode()
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// RunInTransaction serialises writers and delegates to the shared SQL store.
func (s *Store) RunInTransaction(ctx context.Context, key domain.PopulationKey, fn func(domain.Transaction) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Store.RunInTransaction(ctx, key, fn)
}
