package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// RegistryRecord is the committed registry row of one processed population
// together with the households it owns.
type RegistryRecord struct {
	ID         uuid.UUID     `json:"id"`
	Key        PopulationKey `json:"key"`
	Households []EntityKey   `json:"households"`
	CreatedAt  time.Time     `json:"created_at"`
}

// Transaction exposes the writes a population build performs within one
// atomic scope. Nothing written through it is visible to other readers until
// the enclosing RunInTransaction returns nil.
type Transaction interface {
	TransactionView
	// ReplaceStaging drops and recreates the staging relation for its (country, year).
	ReplaceStaging(StagingRelation) error
	// ReplaceTables drops and recreates the three entity tables for the
	// tables' (country, year), declaring keys and foreign keys.
	ReplaceTables(Tables) error
	// InsertRegistry records a processed population. A second record for the
	// same PopulationKey is rejected.
	InsertRegistry(RegistryRecord) error
}

// TransactionView provides read-only access to committed state.
type TransactionView interface {
	FindRegistry(PopulationKey) (RegistryRecord, bool, error)
	// LoadTables returns the entity tables for (country, year) in primary
	// key order, or an error wrapping ErrNotFound when none were built.
	LoadTables(country Country, year int) (Tables, error)
}

// PersistentStore is the backing store shared by every registry caller.
//
// RunInTransaction holds a store-level guard covering key for the duration
// of fn: a second transaction for the same key, from this or another process
// sharing the store, blocks until the first commits or rolls back. Keys that
// share (country, start year) share tables and therefore the guard. Any error
// from fn rolls back every write made through the Transaction.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, key PopulationKey, fn func(Transaction) error) error
	View(ctx context.Context, fn func(TransactionView) error) error
	Driver() string
	Close() error
}

// BuildLock is an optional cross-process guard taken before the store
// transaction, for deployments whose store cannot block per key.
type BuildLock interface {
	Acquire(ctx context.Context, key PopulationKey) (release func(context.Context) error, err error)
}
