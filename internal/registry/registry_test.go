package registry

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"startpop/internal/config"
	blobmemory "startpop/internal/infra/blob/memory"
	"startpop/internal/infra/persistence/memory"
	"startpop/internal/infra/persistence/sqlite"
	"startpop/internal/metrics"
	"startpop/internal/population"
	"startpop/pkg/domain"
	fixtures "startpop/testutil"
)

var ukKey = domain.PopulationKey{Country: domain.CountryUK, StartYear: 2017, PopulationSize: 3}

// countingPipeline counts stage invocations and can hold Extract until
// released.
type countingPipeline struct {
	Pipeline
	extracts atomic.Int32
	builds   atomic.Int32
	gate     chan struct{}
}

func (c *countingPipeline) Extract(ctx context.Context, country domain.Country, year int) (domain.StagingRelation, error) {
	c.extracts.Add(1)
	if c.gate != nil {
		<-c.gate
	}
	return c.Pipeline.Extract(ctx, country, year)
}

func (c *countingPipeline) Build(ctx context.Context, rel domain.StagingRelation) (domain.Tables, error) {
	c.builds.Add(1)
	return c.Pipeline.Build(ctx, rel)
}

type fixture struct {
	cfg      config.Config
	src      *blobmemory.Store
	store    domain.PersistentStore
	pipeline *countingPipeline
	metrics  *metrics.Metrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := config.Default()
	src := blobmemory.New()
	require.NoError(t, src.PutString(context.Background(), cfg.ExtractKey(domain.CountryUK, 2017), fixtures.SampleCSV()))
	return &fixture{
		cfg:      cfg,
		src:      src,
		store:    memory.NewStore(),
		pipeline: &countingPipeline{Pipeline: NewPipeline(cfg, src, nil)},
		metrics:  metrics.New(prometheus.NewRegistry()),
	}
}

func (f *fixture) registry(opts ...Option) *Registry {
	return New(f.store, f.pipeline, append([]Option{WithMetrics(f.metrics)}, opts...)...)
}

func requireStage(t *testing.T, err error, stage domain.Stage) *domain.BuildError {
	t.Helper()
	var be *domain.BuildError
	require.True(t, errors.As(err, &be), "expected BuildError, got %v", err)
	assert.Equal(t, stage, be.Stage)
	return be
}

func TestGetBuildsOnceAndCaches(t *testing.T) {
	f := newFixture(t)
	r := f.registry()
	assert.Equal(t, StateAbsent, r.State(ukKey))

	p1, err := r.Get(context.Background(), ukKey)
	require.NoError(t, err)
	p2, err := r.Get(context.Background(), ukKey)
	require.NoError(t, err)

	assert.Same(t, p1, p2)
	assert.Equal(t, StatePresent, r.State(ukKey))
	assert.Equal(t, int32(1), f.pipeline.extracts.Load())
	assert.Equal(t, int32(1), f.pipeline.builds.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Hits))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Builds.WithLabelValues("UK", metrics.OutcomeBuilt)))

	assert.Equal(t, []domain.EntityKey{domain.NewKey(1, 2017)}, p1.HouseholdKeys())
	assert.Len(t, p1.BenefitUnits(), 2)
	assert.Len(t, p1.Persons(), 3)
}

func TestConcurrentGetBuildsOnce(t *testing.T) {
	f := newFixture(t)
	f.pipeline.gate = make(chan struct{})
	r := f.registry()

	const callers = 16
	var wg sync.WaitGroup
	got := make([]*population.ProcessedPopulation, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got[i], errs[i] = r.Get(context.Background(), ukKey)
		}(i)
	}
	require.Eventually(t, func() bool { return r.State(ukKey) == StateBuilding }, 5*time.Second, time.Millisecond)
	close(f.pipeline.gate)
	wg.Wait()

	for i := range got {
		require.NoError(t, errs[i])
		assert.Same(t, got[0], got[i])
	}
	assert.Equal(t, int32(1), f.pipeline.extracts.Load())
	assert.Equal(t, 1, f.store.(*memory.Store).Commits())
}

func TestFailedBuildLeavesKeyAbsentAndRetries(t *testing.T) {
	f := newFixture(t)
	r := f.registry()
	key := domain.PopulationKey{Country: domain.CountryUK, StartYear: 2018, PopulationSize: 3}

	_, err := r.Get(context.Background(), key)
	be := requireStage(t, err, domain.StageExtract)
	assert.Equal(t, key, be.Key)
	assert.ErrorIs(t, err, domain.ErrMissingInput)
	assert.Equal(t, StateAbsent, r.State(key))
	require.NoError(t, f.store.View(context.Background(), func(v domain.TransactionView) error {
		_, ok, err := v.FindRegistry(key)
		require.NoError(t, err)
		assert.False(t, ok)
		_, err = v.LoadTables(domain.CountryUK, 2018)
		assert.ErrorIs(t, err, domain.ErrNotFound)
		return nil
	}))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Builds.WithLabelValues("UK", metrics.OutcomeFailed)))

	require.NoError(t, f.src.PutString(context.Background(), f.cfg.ExtractKey(domain.CountryUK, 2018), fixtures.SampleCSV()))
	p, err := r.Get(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, 2018, p.Tables().Year)
	assert.Equal(t, StatePresent, r.State(key))
}

func TestRecodeFailureReportsFieldAndValue(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.src.PutString(context.Background(), f.cfg.ExtractKey(domain.CountryIT, 2017), fixtures.SampleCSV()))
	r := f.registry()

	_, err := r.Get(context.Background(), domain.PopulationKey{Country: domain.CountryIT, StartYear: 2017})
	requireStage(t, err, domain.StageRecode)
	var re *domain.RecodeError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, "drgn1", re.Field)
	assert.Equal(t, "8", re.RawValue)
}

func TestIntegrityFailureStage(t *testing.T) {
	f := newFixture(t)
	rows := []fixtures.Row{
		fixtures.Person(1, 10, 100),
		fixtures.Person(1, 10, 101).With("ydses_c5", "4"),
	}
	require.NoError(t, f.src.PutString(context.Background(), f.cfg.ExtractKey(domain.CountryUK, 2019), fixtures.CSV(rows...)))
	_, err := f.registry().Get(context.Background(), domain.PopulationKey{Country: domain.CountryUK, StartYear: 2019})
	requireStage(t, err, domain.StageIntegrity)
}

func TestRehydratesFromStore(t *testing.T) {
	f := newFixture(t)
	first, err := f.registry().Get(context.Background(), ukKey)
	require.NoError(t, err)

	second := &countingPipeline{Pipeline: f.pipeline.Pipeline}
	m := metrics.New(prometheus.NewRegistry())
	p, err := New(f.store, second, WithMetrics(m)).Get(context.Background(), ukKey)
	require.NoError(t, err)

	assert.Equal(t, first.ID(), p.ID())
	assert.True(t, first.CreatedAt().Equal(p.CreatedAt()))
	assert.Equal(t, first.HouseholdKeys(), p.HouseholdKeys())
	assert.Equal(t, first.Persons(), p.Persons())
	assert.Equal(t, int32(0), second.extracts.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Builds.WithLabelValues("UK", metrics.OutcomeRehydrated)))
}

func TestSizesShareTables(t *testing.T) {
	f := newFixture(t)
	r := f.registry()
	small, err := r.Get(context.Background(), ukKey)
	require.NoError(t, err)
	all := ukKey
	all.PopulationSize = 0
	full, err := r.Get(context.Background(), all)
	require.NoError(t, err)

	assert.NotEqual(t, small.ID(), full.ID())
	assert.Same(t, small.Arena(), full.Arena())
	assert.Len(t, full.Persons(), 7)
	assert.Equal(t, int32(1), f.pipeline.extracts.Load())

	// A fresh process reuses the committed tables for an unseen size.
	other := &countingPipeline{Pipeline: f.pipeline.Pipeline}
	four := ukKey
	four.PopulationSize = 4
	p, err := New(f.store, other).Get(context.Background(), four)
	require.NoError(t, err)
	assert.Len(t, p.HouseholdKeys(), 2)
	assert.Equal(t, int32(0), other.extracts.Load())
}

func TestRecordUsesClockAndIDs(t *testing.T) {
	f := newFixture(t)
	id := uuid.MustParse("5b0a4a40-7f7c-4d38-9a49-5d1b1bb1e0a3")
	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	p, err := f.registry(WithClock(func() time.Time { return at }), WithIDs(func() uuid.UUID { return id })).Get(context.Background(), ukKey)
	require.NoError(t, err)
	assert.Equal(t, id, p.ID())
	assert.Equal(t, at, p.CreatedAt())
}

func TestInvalidKey(t *testing.T) {
	_, err := newFixture(t).registry().Get(context.Background(), domain.PopulationKey{Country: domain.CountryUK})
	require.Error(t, err)
	var be *domain.BuildError
	assert.False(t, errors.As(err, &be))
}

func TestCancelledLeaderDoesNotFailWaiters(t *testing.T) {
	f := newFixture(t)
	f.pipeline.gate = make(chan struct{})
	r := f.registry()

	leaderCtx, cancel := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, err := r.Get(leaderCtx, ukKey)
		leaderErr <- err
	}()
	require.Eventually(t, func() bool { return f.pipeline.extracts.Load() == 1 }, 5*time.Second, time.Millisecond)

	type result struct {
		p   *population.ProcessedPopulation
		err error
	}
	waiter := make(chan result, 1)
	go func() {
		p, err := r.Get(context.Background(), ukKey)
		waiter <- result{p, err}
	}()
	time.Sleep(50 * time.Millisecond)

	cancel()
	close(f.pipeline.gate)

	err := <-leaderErr
	requireStage(t, err, domain.StageExtract)
	assert.ErrorIs(t, err, context.Canceled)

	select {
	case res := <-waiter:
		require.NoError(t, res.err)
		assert.Len(t, res.p.Persons(), 3)
	case <-time.After(10 * time.Second):
		t.Fatal("waiter never returned")
	}
	assert.Equal(t, StatePresent, r.State(ukKey))
	assert.Equal(t, int32(2), f.pipeline.extracts.Load())
	assert.Equal(t, 1, f.store.(*memory.Store).Commits())
}

func TestCancelledContextIsGuardFailure(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.registry().Get(ctx, ukKey)
	requireStage(t, err, domain.StageGuard)
	assert.Equal(t, int32(0), f.pipeline.extracts.Load())
}

type fakeLock struct {
	acquired, released atomic.Int32
	err                error
}

func (l *fakeLock) Acquire(context.Context, domain.PopulationKey) (func(context.Context) error, error) {
	if l.err != nil {
		return nil, l.err
	}
	l.acquired.Add(1)
	return func(context.Context) error {
		l.released.Add(1)
		return nil
	}, nil
}

func TestBuildLockWrapsResolution(t *testing.T) {
	f := newFixture(t)
	lock := &fakeLock{}
	_, err := f.registry(WithBuildLock(lock)).Get(context.Background(), ukKey)
	require.NoError(t, err)
	assert.Equal(t, int32(1), lock.acquired.Load())
	assert.Equal(t, int32(1), lock.released.Load())

	held := &fakeLock{err: domain.ErrLockHeld}
	other := ukKey
	other.PopulationSize = 1
	_, err = f.registry(WithBuildLock(held)).Get(context.Background(), other)
	requireStage(t, err, domain.StageGuard)
	assert.ErrorIs(t, err, domain.ErrLockHeld)
}

func TestBatchIsolatesFailures(t *testing.T) {
	f := newFixture(t)
	r := f.registry(WithParallelism(2))
	results := r.Batch(context.Background(), Years(domain.CountryUK, 3, 2017, 2018, 2017))
	require.Len(t, results, 3)

	require.NoError(t, results[0].Err)
	requireStage(t, results[1].Err, domain.StageExtract)
	assert.Nil(t, results[1].Population)
	require.NoError(t, results[2].Err)
	assert.Same(t, results[0].Population, results[2].Population)
	assert.Equal(t, 2018, results[1].Key.StartYear)
}

func TestSQLiteEndToEnd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "startpop.db")
	store, err := sqlite.NewStore(context.Background(), path)
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	f := newFixture(t)
	built, err := New(store, f.pipeline).Get(context.Background(), ukKey)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := sqlite.NewStore(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })
	again := &countingPipeline{Pipeline: f.pipeline.Pipeline}
	p, err := New(reopened, again).Get(context.Background(), ukKey)
	require.NoError(t, err)

	assert.Equal(t, built.ID(), p.ID())
	assert.Equal(t, built.Persons(), p.Persons())
	assert.Equal(t, built.BenefitUnits(), p.BenefitUnits())
	assert.Equal(t, int32(0), again.extracts.Load())
}
