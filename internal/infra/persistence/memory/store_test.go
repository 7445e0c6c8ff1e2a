package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"startpop/internal/infra/persistence/storetest"
	"startpop/pkg/domain"
)

func TestStoreContract(t *testing.T) {
	storetest.Run(t, func(*testing.T) domain.PersistentStore { return NewStore() })
}

func TestStagingIsCopied(t *testing.T) {
	s := NewStore()
	rel := storetest.SampleStaging(t)
	key := domain.PopulationKey{Country: domain.CountryUK, StartYear: 2017}
	require.NoError(t, s.RunInTransaction(context.Background(), key, func(tx domain.Transaction) error {
		return tx.ReplaceStaging(rel)
	}))
	rel.Rows[0][0] = "mutated"
	got, ok := s.Staging(domain.CountryUK, 2017)
	require.True(t, ok)
	assert.NotEqual(t, "mutated", got.Rows[0][0])
	assert.Equal(t, 1, s.Commits())
}

func TestCancelledContextIsGuardError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := NewStore().RunInTransaction(ctx, domain.PopulationKey{Country: domain.CountryUK, StartYear: 2017}, func(domain.Transaction) error {
		t.Fatal("fn must not run")
		return nil
	})
	var ce *domain.CacheError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, domain.StageGuard, domain.StageOf(err, domain.StageLoad))
}

func TestReplaceTablesRequiresScope(t *testing.T) {
	err := NewStore().RunInTransaction(context.Background(), domain.PopulationKey{Country: domain.CountryUK, StartYear: 2017}, func(tx domain.Transaction) error {
		return tx.ReplaceTables(domain.Tables{})
	})
	assert.Error(t, err)
}
