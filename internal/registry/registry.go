// Package registry resolves PopulationKeys to processed populations. Each
// key moves Absent -> Building -> Present at most once per process; builds
// are guarded in-process by singleflight and across processes by the
// store's per-key guard and an optional BuildLock.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"startpop/internal/metrics"
	"startpop/internal/population"
	"startpop/pkg/domain"
)

// State is the lifecycle state of a PopulationKey within this process.
type State string

const (
	StateAbsent   State = "absent"
	StateBuilding State = "building"
	StatePresent  State = "present"
)

type scope struct {
	country domain.Country
	year    int
}

// Registry is safe for concurrent use.
type Registry struct {
	store    domain.PersistentStore
	pipeline Pipeline
	lock     domain.BuildLock
	logger   *zap.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
	newID    func() uuid.UUID
	parallel int

	group singleflight.Group

	mu       sync.RWMutex
	present  map[domain.PopulationKey]*population.ProcessedPopulation
	building map[domain.PopulationKey]struct{}
	arenas   map[scope]*population.Arena
}

// Option configures a Registry.
type Option func(*Registry)

// WithBuildLock adds a cross-process lock taken before the store transaction.
func WithBuildLock(l domain.BuildLock) Option { return func(r *Registry) { r.lock = l } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithMetrics sets the collectors.
func WithMetrics(m *metrics.Metrics) Option { return func(r *Registry) { r.metrics = m } }

// WithClock overrides the clock used for registry timestamps.
func WithClock(now func() time.Time) Option { return func(r *Registry) { r.now = now } }

// WithIDs overrides processed-population id generation.
func WithIDs(newID func() uuid.UUID) Option { return func(r *Registry) { r.newID = newID } }

// WithParallelism bounds how many keys Batch resolves at once.
func WithParallelism(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.parallel = n
		}
	}
}

// New returns a registry over store that builds missing populations with p.
func New(store domain.PersistentStore, p Pipeline, opts ...Option) *Registry {
	r := &Registry{
		store:    store,
		pipeline: p,
		logger:   zap.NewNop(),
		now:      time.Now,
		newID:    uuid.New,
		parallel: 4,
		present:  make(map[domain.PopulationKey]*population.ProcessedPopulation),
		building: make(map[domain.PopulationKey]struct{}),
		arenas:   make(map[scope]*population.Arena),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// State reports the in-process state of key.
func (r *Registry) State(key domain.PopulationKey) State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.present[key]; ok {
		return StatePresent
	}
	if _, ok := r.building[key]; ok {
		return StateBuilding
	}
	return StateAbsent
}

func (r *Registry) cached(key domain.PopulationKey) (*population.ProcessedPopulation, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.present[key]
	return p, ok
}

// Get returns the population for key, building it on first use. Concurrent
// callers for the same key share one build; when the caller running it is
// cancelled, waiting callers retry under their own context. A failed build
// leaves the key Absent and returns a *domain.BuildError naming the failing
// stage.
func (r *Registry) Get(ctx context.Context, key domain.PopulationKey) (*population.ProcessedPopulation, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	if p, ok := r.cached(key); ok {
		r.metrics.Hit()
		return p, nil
	}
	r.metrics.Miss()
	for {
		leader := false
		v, err, _ := r.group.Do(key.String(), func() (any, error) {
			leader = true
			return r.resolve(ctx, key)
		})
		if !leader {
			r.metrics.Join()
		}
		if err != nil {
			// A build abandoned by its caller says nothing about this key; a
			// follower whose own context is live takes over.
			if !leader && ctx.Err() == nil && cancelled(err) {
				r.logger.Debug("joined build was cancelled, retrying", zap.String("key", key.String()))
				continue
			}
			return nil, err
		}
		return v.(*population.ProcessedPopulation), nil
	}
}

func cancelled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (r *Registry) resolve(ctx context.Context, key domain.PopulationKey) (*population.ProcessedPopulation, error) {
	if p, ok := r.cached(key); ok {
		return p, nil
	}
	r.mu.Lock()
	r.building[key] = struct{}{}
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.building, key)
		r.mu.Unlock()
	}()

	log := r.logger.With(
		zap.String("country", string(key.Country)),
		zap.Int("start_year", key.StartYear),
		zap.Int("population_size", key.PopulationSize),
	)
	began := r.now()
	done := r.metrics.Start(string(key.Country))
	log.Info("population resolve started")

	p, outcome, err := r.resolveGuarded(ctx, key)
	if err != nil {
		be := asBuildError(key, domain.StageCommit, err)
		done(metrics.OutcomeFailed)
		log.Error("population build failed",
			zap.String("stage", string(be.Stage)),
			zap.Duration("duration", r.now().Sub(began)),
			zap.Error(be.Err),
		)
		return nil, be
	}
	done(outcome)

	r.mu.Lock()
	r.present[key] = p
	r.arenas[scope{key.Country, key.StartYear}] = p.Arena()
	r.mu.Unlock()
	log.Info("population resolved",
		zap.String("outcome", outcome),
		zap.String("id", p.ID().String()),
		zap.Int("households", len(p.HouseholdKeys())),
		zap.Duration("duration", r.now().Sub(began)),
	)
	return p, nil
}

func (r *Registry) resolveGuarded(ctx context.Context, key domain.PopulationKey) (*population.ProcessedPopulation, string, error) {
	if r.lock != nil {
		release, err := r.lock.Acquire(ctx, key)
		if err != nil {
			return nil, "", &domain.BuildError{Key: key, Stage: domain.StageGuard, Err: err}
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				r.logger.Warn("build lock release failed", zap.String("key", key.String()), zap.Error(err))
			}
		}()
	}

	var (
		pop     *population.ProcessedPopulation
		outcome string
	)
	err := r.store.RunInTransaction(ctx, key, func(tx domain.Transaction) error {
		var err error
		pop, outcome, err = r.resolveTx(ctx, tx, key)
		return err
	})
	if err != nil {
		return nil, "", err
	}
	return pop, outcome, nil
}

// resolveTx runs inside the store transaction holding the guard for key.
func (r *Registry) resolveTx(ctx context.Context, tx domain.Transaction, key domain.PopulationKey) (*population.ProcessedPopulation, string, error) {
	rec, found, err := tx.FindRegistry(key)
	if err != nil {
		return nil, "", asBuildError(key, domain.StageLoad, err)
	}
	if found {
		arena, err := r.arena(ctx, tx, key, false)
		if err != nil {
			return nil, "", err
		}
		p, err := population.New(rec.ID, key, rec.CreatedAt, arena, rec.Households)
		if err != nil {
			return nil, "", asBuildError(key, domain.StageIntegrity, err)
		}
		return p, metrics.OutcomeRehydrated, nil
	}

	arena, err := r.arena(ctx, tx, key, true)
	if err != nil {
		return nil, "", err
	}
	rec = domain.RegistryRecord{
		ID:         r.newID(),
		Key:        key,
		Households: arena.SelectHouseholds(key.PopulationSize),
		CreatedAt:  r.now().UTC(),
	}
	if err := tx.InsertRegistry(rec); err != nil {
		return nil, "", asBuildError(key, domain.StageCommit, err)
	}
	p, err := population.New(rec.ID, key, rec.CreatedAt, arena, rec.Households)
	if err != nil {
		return nil, "", asBuildError(key, domain.StageIntegrity, err)
	}
	return p, metrics.OutcomeBuilt, nil
}

// arena returns the entity arena for the key's (country, year): the one
// already indexed by this process, the committed tables, or, when build is
// set and no tables exist, freshly built tables written through tx.
func (r *Registry) arena(ctx context.Context, tx domain.Transaction, key domain.PopulationKey, build bool) (*population.Arena, error) {
	sc := scope{key.Country, key.StartYear}
	r.mu.RLock()
	a, ok := r.arenas[sc]
	r.mu.RUnlock()
	if ok {
		return a, nil
	}

	tables, err := tx.LoadTables(key.Country, key.StartYear)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrNotFound) && build:
		if tables, err = r.build(ctx, tx, key); err != nil {
			return nil, err
		}
	case errors.Is(err, domain.ErrNotFound):
		return nil, &domain.BuildError{Key: key, Stage: domain.StageLoad, Err: fmt.Errorf("registry row without tables: %w", err)}
	default:
		return nil, asBuildError(key, domain.StageLoad, err)
	}
	a, err = population.NewArena(tables)
	if err != nil {
		return nil, asBuildError(key, domain.StageIntegrity, err)
	}
	return a, nil
}

func (r *Registry) build(ctx context.Context, tx domain.Transaction, key domain.PopulationKey) (domain.Tables, error) {
	rel, err := r.pipeline.Extract(ctx, key.Country, key.StartYear)
	if err != nil {
		return domain.Tables{}, asBuildError(key, domain.StageExtract, err)
	}
	if err := tx.ReplaceStaging(rel); err != nil {
		return domain.Tables{}, asBuildError(key, domain.StageExtract, err)
	}
	tables, err := r.pipeline.Build(ctx, rel)
	if err != nil {
		return domain.Tables{}, asBuildError(key, domain.StageBuild, err)
	}
	if err := tx.ReplaceTables(tables); err != nil {
		return domain.Tables{}, asBuildError(key, domain.StageCommit, err)
	}
	r.logger.Debug("entity tables built",
		zap.String("country", string(key.Country)),
		zap.Int("start_year", key.StartYear),
		zap.Int("households", len(tables.Households)),
		zap.Int("benefit_units", len(tables.BenefitUnits)),
		zap.Int("persons", len(tables.Persons)),
	)
	return tables, nil
}

// asBuildError tags err with key and its stage. Errors already tagged keep
// their stage; others are classified, falling back to fallback.
func asBuildError(key domain.PopulationKey, fallback domain.Stage, err error) *domain.BuildError {
	var be *domain.BuildError
	if errors.As(err, &be) {
		return &domain.BuildError{Key: key, Stage: be.Stage, Err: be.Err}
	}
	return &domain.BuildError{Key: key, Stage: domain.StageOf(err, fallback), Err: err}
}
