package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"startpop/internal/infra/persistence/storetest"
	"startpop/internal/schema"
	"startpop/pkg/domain"
)

func open(t *testing.T, path string) *Store {
	t.Helper()
	store, err := NewStore(context.Background(), path)
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	return store
}

func TestStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) domain.PersistentStore {
		return open(t, filepath.Join(t.TempDir(), "state.db"))
	})
}

func TestStoreCreatesRegistryTables(t *testing.T) {
	store := open(t, filepath.Join(t.TempDir(), "nested", "state.db"))
	t.Cleanup(func() { _ = store.Close() })
	for _, name := range []string{schema.RegistryTableName, schema.MembershipTableName} {
		var got string
		require.NoError(t, store.DB().QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name = ?", name).Scan(&got))
		assert.Equal(t, name, got)
	}
}

func TestStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	store := open(t, path)
	key := domain.PopulationKey{Country: domain.CountryUK, StartYear: 2017, PopulationSize: 3}
	require.NoError(t, store.RunInTransaction(context.Background(), key, func(tx domain.Transaction) error {
		if err := tx.ReplaceStaging(storetest.SampleStaging(t)); err != nil {
			return err
		}
		return tx.ReplaceTables(storetest.SampleTables(t))
	}))
	require.NoError(t, store.Close())

	reopened := open(t, path)
	t.Cleanup(func() { _ = reopened.Close() })
	require.NoError(t, reopened.View(context.Background(), func(v domain.TransactionView) error {
		tables, err := v.LoadTables(domain.CountryUK, 2017)
		require.NoError(t, err)
		assert.Len(t, tables.Households, 3)
		return nil
	}))

	var rows int
	staging := schema.StagingTableName(domain.CountryUK, 2017)
	require.NoError(t, reopened.DB().QueryRow("SELECT COUNT(*) FROM "+schema.Quote(staging)).Scan(&rows))
	assert.Equal(t, 7, rows)
}

func TestDSNEnablesForeignKeysAndImmediateLocking(t *testing.T) {
	got := dsn("/tmp/x.db")
	assert.Contains(t, got, "_pragma=foreign_keys%281%29")
	assert.Contains(t, got, "_pragma=busy_timeout%2830000%29")
	assert.Contains(t, got, "_txlock=immediate")
}
