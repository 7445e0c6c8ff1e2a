package registry

import (
	"context"

	"golang.org/x/sync/errgroup"

	"startpop/internal/population"
	"startpop/pkg/domain"
)

// Result is the outcome of resolving one key in a batch.
type Result struct {
	Key        domain.PopulationKey
	Population *population.ProcessedPopulation
	Err        error
}

// Batch resolves keys concurrently, at most WithParallelism at a time, and
// returns one result per key in input order. A failing key never cancels
// the others.
func (r *Registry) Batch(ctx context.Context, keys []domain.PopulationKey) []Result {
	results := make([]Result, len(keys))
	var g errgroup.Group
	g.SetLimit(r.parallel)
	for i, key := range keys {
		g.Go(func() error {
			p, err := r.Get(ctx, key)
			results[i] = Result{Key: key, Population: p, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Years returns the keys for country and size over years.
func Years(country domain.Country, size int, years ...int) []domain.PopulationKey {
	keys := make([]domain.PopulationKey, len(years))
	for i, y := range years {
		keys[i] = domain.PopulationKey{Country: country, StartYear: y, PopulationSize: size}
	}
	return keys
}
