// Package memory provides the in-process backing store used by tests and
// ephemeral runs. Transactions work on a cloned state that replaces the
// committed state only when the transaction function succeeds.
package memory

import (
	"context"
	"fmt"
	"sync"

	"startpop/pkg/domain"
)

type scope struct {
	country domain.Country
	year    int
}

type memoryState struct {
	staging  map[scope]domain.StagingRelation
	tables   map[scope]domain.Tables
	registry map[domain.PopulationKey]domain.RegistryRecord
}

func newMemoryState() memoryState {
	return memoryState{
		staging:  make(map[scope]domain.StagingRelation),
		tables:   make(map[scope]domain.Tables),
		registry: make(map[domain.PopulationKey]domain.RegistryRecord),
	}
}

// clone copies the maps. Stored values are never mutated in place, so the
// values themselves are shared until replaced.
func (s memoryState) clone() memoryState {
	out := newMemoryState()
	for k, v := range s.staging {
		out.staging[k] = v
	}
	for k, v := range s.tables {
		out.tables[k] = v
	}
	for k, v := range s.registry {
		out.registry[k] = v
	}
	return out
}

// Store is an in-memory domain.PersistentStore. One transaction runs at a
// time, which trivially satisfies the per-key guard.
type Store struct {
	mu    sync.RWMutex
	state memoryState
	txs   int
}

var _ domain.PersistentStore = (*Store)(nil)

// NewStore returns an empty store.
func NewStore() *Store { return &Store{state: newMemoryState()} }

type transaction struct {
	state *memoryState
}

type view struct {
	state *memoryState
}

// RunInTransaction applies fn to a clone of the state and commits it on success.
func (s *Store) RunInTransaction(ctx context.Context, key domain.PopulationKey, fn func(domain.Transaction) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return &domain.CacheError{Key: key, Op: string(domain.StageGuard), Err: err}
	}
	next := s.state.clone()
	if err := fn(&transaction{state: &next}); err != nil {
		return err
	}
	s.state = next
	s.txs++
	return nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(_ context.Context, fn func(domain.TransactionView) error) error {
	s.mu.RLock()
	snapshot := s.state.clone()
	s.mu.RUnlock()
	return fn(view{state: &snapshot})
}

// Commits returns how many transactions have committed.
func (s *Store) Commits() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.txs
}

// Driver returns the storage driver identifier.
func (s *Store) Driver() string { return "memory" }

// Close is a no-op.
func (s *Store) Close() error { return nil }

func findRegistry(st *memoryState, key domain.PopulationKey) (domain.RegistryRecord, bool, error) {
	rec, ok := st.registry[key]
	if !ok {
		return domain.RegistryRecord{}, false, nil
	}
	rec.Households = append([]domain.EntityKey(nil), rec.Households...)
	return rec, true, nil
}

func loadTables(st *memoryState, country domain.Country, year int) (domain.Tables, error) {
	t, ok := st.tables[scope{country, year}]
	if !ok {
		return domain.Tables{}, fmt.Errorf("tables %s %d: %w", country, year, domain.ErrNotFound)
	}
	return t.Clone(), nil
}

func (v view) FindRegistry(key domain.PopulationKey) (domain.RegistryRecord, bool, error) {
	return findRegistry(v.state, key)
}

func (v view) LoadTables(country domain.Country, year int) (domain.Tables, error) {
	return loadTables(v.state, country, year)
}

func (tx *transaction) FindRegistry(key domain.PopulationKey) (domain.RegistryRecord, bool, error) {
	return findRegistry(tx.state, key)
}

func (tx *transaction) LoadTables(country domain.Country, year int) (domain.Tables, error) {
	return loadTables(tx.state, country, year)
}

// Staging returns the committed staging relation for (country, year).
func (s *Store) Staging(country domain.Country, year int) (domain.StagingRelation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rel, ok := s.state.staging[scope{country, year}]
	return rel, ok
}

func (tx *transaction) ReplaceStaging(rel domain.StagingRelation) error {
	rows := make([][]string, len(rel.Rows))
	for i, r := range rel.Rows {
		rows[i] = append([]string(nil), r...)
	}
	copied, err := domain.NewStagingRelation(rel.Country, rel.Year, rel.Source, append([]string(nil), rel.Columns...), rows)
	if err != nil {
		return err
	}
	tx.state.staging[scope{rel.Country, rel.Year}] = copied
	return nil
}

func (tx *transaction) ReplaceTables(t domain.Tables) error {
	if t.Country == "" || t.Year <= 0 {
		return fmt.Errorf("replace tables: country and year required")
	}
	tx.state.tables[scope{t.Country, t.Year}] = t.Clone()
	return nil
}

func (tx *transaction) InsertRegistry(rec domain.RegistryRecord) error {
	if _, exists := tx.state.registry[rec.Key]; exists {
		return &domain.CacheError{Key: rec.Key, Op: string(domain.StageCommit), Err: domain.ErrRegistered}
	}
	if _, ok := tx.state.tables[scope{rec.Key.Country, rec.Key.StartYear}]; !ok {
		return &domain.CacheError{Key: rec.Key, Op: string(domain.StageCommit), Err: fmt.Errorf("tables %s %d: %w", rec.Key.Country, rec.Key.StartYear, domain.ErrNotFound)}
	}
	rec.Households = append([]domain.EntityKey(nil), rec.Households...)
	tx.state.registry[rec.Key] = rec
	return nil
}
