// Package storetest is the behavioural suite every domain.PersistentStore
// implementation runs from its own tests.
package storetest

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"startpop/internal/builder"
	"startpop/internal/config"
	"startpop/internal/dedupe"
	"startpop/internal/extract"
	"startpop/internal/recode"
	"startpop/pkg/domain"
	"startpop/testutil"
)

// Opener returns a fresh, empty store. The suite closes it.
type Opener func(t *testing.T) domain.PersistentStore

// SampleStaging parses the shared sample extract for UK 2017.
func SampleStaging(t *testing.T) domain.StagingRelation {
	t.Helper()
	rel, err := extract.Parse(strings.NewReader(testutil.SampleCSV()), domain.CountryUK, 2017, "sample.csv")
	require.NoError(t, err)
	return rel
}

// SampleTables runs the sample extract through the build pipeline.
func SampleTables(t *testing.T) domain.Tables {
	t.Helper()
	rec, err := recode.New(config.Default(), domain.CountryUK)
	require.NoError(t, err)
	tables, err := builder.New(rec).Build(SampleStaging(t))
	require.NoError(t, err)
	tables, _ = dedupe.Tables(tables)
	require.NoError(t, builder.CheckIntegrity(tables))
	return tables
}

func record(size int, households ...int64) domain.RegistryRecord {
	rec := domain.RegistryRecord{
		ID:        uuid.New(),
		Key:       domain.PopulationKey{Country: domain.CountryUK, StartYear: 2017, PopulationSize: size},
		CreatedAt: time.Date(2024, 3, 1, 12, 30, 0, 123000000, time.UTC),
	}
	for _, id := range households {
		rec.Households = append(rec.Households, domain.NewKey(id, 2017))
	}
	return rec
}

func commitSample(t *testing.T, s domain.PersistentStore, rec domain.RegistryRecord) {
	t.Helper()
	err := s.RunInTransaction(context.Background(), rec.Key, func(tx domain.Transaction) error {
		if err := tx.ReplaceStaging(SampleStaging(t)); err != nil {
			return err
		}
		if err := tx.ReplaceTables(SampleTables(t)); err != nil {
			return err
		}
		return tx.InsertRegistry(rec)
	})
	require.NoError(t, err)
}

// Run executes the suite against stores produced by open.
func Run(t *testing.T, open Opener) {
	ctx := context.Background()
	fresh := func(t *testing.T) domain.PersistentStore {
		s := open(t)
		t.Cleanup(func() { _ = s.Close() })
		return s
	}

	t.Run("empty", func(t *testing.T) {
		s := fresh(t)
		assert.NotEmpty(t, s.Driver())
		require.NoError(t, s.View(ctx, func(v domain.TransactionView) error {
			_, ok, err := v.FindRegistry(record(3).Key)
			require.NoError(t, err)
			assert.False(t, ok)
			_, err = v.LoadTables(domain.CountryUK, 2017)
			assert.ErrorIs(t, err, domain.ErrNotFound)
			return nil
		}))
	})

	t.Run("commit round trip", func(t *testing.T) {
		s := fresh(t)
		rec := record(3, 1)
		commitSample(t, s, rec)
		want := SampleTables(t)
		require.NoError(t, s.View(ctx, func(v domain.TransactionView) error {
			got, ok, err := v.FindRegistry(rec.Key)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, rec.ID, got.ID)
			assert.Equal(t, rec.Households, got.Households)
			assert.True(t, rec.CreatedAt.Equal(got.CreatedAt))
			tables, err := v.LoadTables(domain.CountryUK, 2017)
			require.NoError(t, err)
			assert.Equal(t, want, tables)
			return nil
		}))
	})

	t.Run("rollback on error", func(t *testing.T) {
		s := fresh(t)
		boom := errors.New("boom")
		rec := record(3, 1)
		err := s.RunInTransaction(ctx, rec.Key, func(tx domain.Transaction) error {
			require.NoError(t, tx.ReplaceTables(SampleTables(t)))
			require.NoError(t, tx.InsertRegistry(rec))
			return boom
		})
		require.ErrorIs(t, err, boom)
		require.NoError(t, s.View(ctx, func(v domain.TransactionView) error {
			_, ok, err := v.FindRegistry(rec.Key)
			require.NoError(t, err)
			assert.False(t, ok)
			_, err = v.LoadTables(domain.CountryUK, 2017)
			assert.ErrorIs(t, err, domain.ErrNotFound)
			return nil
		}))
	})

	t.Run("writes visible inside transaction", func(t *testing.T) {
		s := fresh(t)
		rec := record(0, 1, 2, 3)
		require.NoError(t, s.RunInTransaction(ctx, rec.Key, func(tx domain.Transaction) error {
			require.NoError(t, tx.ReplaceTables(SampleTables(t)))
			tables, err := tx.LoadTables(domain.CountryUK, 2017)
			require.NoError(t, err)
			assert.Len(t, tables.Persons, 7)
			require.NoError(t, tx.InsertRegistry(rec))
			_, ok, err := tx.FindRegistry(rec.Key)
			require.NoError(t, err)
			assert.True(t, ok)
			return nil
		}))
	})

	t.Run("duplicate registry rejected", func(t *testing.T) {
		s := fresh(t)
		commitSample(t, s, record(3, 1))
		err := s.RunInTransaction(ctx, record(3).Key, func(tx domain.Transaction) error {
			return tx.InsertRegistry(record(3, 1))
		})
		require.ErrorIs(t, err, domain.ErrRegistered)
		var ce *domain.CacheError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, string(domain.StageCommit), ce.Op)
	})

	t.Run("registry requires tables", func(t *testing.T) {
		s := fresh(t)
		err := s.RunInTransaction(ctx, record(3).Key, func(tx domain.Transaction) error {
			return tx.InsertRegistry(record(3, 1))
		})
		require.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("sizes share tables", func(t *testing.T) {
		s := fresh(t)
		commitSample(t, s, record(3, 1))
		small := record(1, 1)
		big := record(0, 1, 2, 3)
		for _, rec := range []domain.RegistryRecord{small, big} {
			require.NoError(t, s.RunInTransaction(ctx, rec.Key, func(tx domain.Transaction) error {
				_, err := tx.LoadTables(domain.CountryUK, 2017)
				require.NoError(t, err)
				return tx.InsertRegistry(rec)
			}))
		}
		require.NoError(t, s.View(ctx, func(v domain.TransactionView) error {
			got, ok, err := v.FindRegistry(big.Key)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Len(t, got.Households, 3)
			return nil
		}))
	})

	t.Run("replace tables", func(t *testing.T) {
		s := fresh(t)
		commitSample(t, s, record(3, 1))
		smaller := SampleTables(t)
		smaller.Households = smaller.Households[:1]
		smaller.BenefitUnits = smaller.BenefitUnits[:2]
		smaller.Persons = smaller.Persons[:3]
		require.NoError(t, s.RunInTransaction(ctx, record(3).Key, func(tx domain.Transaction) error {
			return tx.ReplaceTables(smaller)
		}))
		require.NoError(t, s.View(ctx, func(v domain.TransactionView) error {
			tables, err := v.LoadTables(domain.CountryUK, 2017)
			require.NoError(t, err)
			assert.Equal(t, smaller, tables)
			return nil
		}))
	})

	t.Run("guard serialises same scope", func(t *testing.T) {
		s := fresh(t)
		entered := make(chan struct{})
		release := make(chan struct{})
		firstDone := make(chan error, 1)
		go func() {
			firstDone <- s.RunInTransaction(ctx, record(3).Key, func(domain.Transaction) error {
				close(entered)
				<-release
				return nil
			})
		}()
		<-entered

		var secondIn atomic.Bool
		secondDone := make(chan error, 1)
		go func() {
			secondDone <- s.RunInTransaction(ctx, record(5).Key, func(domain.Transaction) error {
				secondIn.Store(true)
				return nil
			})
		}()
		time.Sleep(100 * time.Millisecond)
		assert.False(t, secondIn.Load(), "second transaction entered while first held the guard")
		close(release)
		require.NoError(t, <-firstDone)
		select {
		case err := <-secondDone:
			require.NoError(t, err)
		case <-time.After(10 * time.Second):
			t.Fatal("second transaction never ran")
		}
		assert.True(t, secondIn.Load())
	})
}
