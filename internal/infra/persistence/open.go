// Package persistence selects the backing store named by configuration.
package persistence

import (
	"context"
	"fmt"

	"startpop/internal/config"
	"startpop/internal/infra/persistence/memory"
	"startpop/internal/infra/persistence/postgres"
	"startpop/internal/infra/persistence/sqlite"
	"startpop/pkg/domain"
)

// Driver identifies a concrete persistent storage implementation.
type Driver string

const (
	DriverMemory   Driver = "memory"   // in-memory only (tests / ephemeral)
	DriverSQLite   Driver = "sqlite"   // embedded sqlite file
	DriverPostgres Driver = "postgres" // PostgreSQL server
)

// Open returns the store selected by cfg.Driver. Defaults to sqlite when unset.
func Open(ctx context.Context, cfg config.Storage) (domain.PersistentStore, error) {
	driver := Driver(cfg.Driver)
	if driver == "" {
		driver = DriverSQLite
	}
	switch driver {
	case DriverMemory:
		return memory.NewStore(), nil
	case DriverSQLite:
		return sqlite.NewStore(ctx, cfg.SQLitePath)
	case DriverPostgres:
		return postgres.NewStore(ctx, cfg.PostgresDSN)
	default:
		return nil, fmt.Errorf("unknown storage driver %s", driver)
	}
}
