package persistence

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"startpop/internal/config"
	"startpop/internal/infra/persistence/postgres"
)

func TestOpenDrivers(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, config.Storage{Driver: "memory"})
	require.NoError(t, err)
	assert.Equal(t, "memory", s.Driver())

	s, err = Open(ctx, config.Storage{SQLitePath: filepath.Join(t.TempDir(), "pop.db")})
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	assert.Equal(t, "sqlite", s.Driver())
	require.NoError(t, s.Close())
}

func TestOpenPostgresUsesDSN(t *testing.T) {
	var gotDSN string
	restore := postgres.OverrideSQLOpen(func(_, dsn string) (*sql.DB, error) {
		gotDSN = dsn
		return nil, errors.New("offline")
	})
	defer restore()
	_, err := Open(context.Background(), config.Storage{Driver: "postgres", PostgresDSN: "postgres://db/startpop"})
	require.Error(t, err)
	assert.Equal(t, "postgres://db/startpop", gotDSN)
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), config.Storage{Driver: "mongo"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown storage driver mongo")
}
