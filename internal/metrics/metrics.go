// Package metrics holds the Prometheus collectors of the population registry.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Build outcomes recorded on startpop_builds_total.
const (
	OutcomeBuilt      = "built"
	OutcomeRehydrated = "rehydrated"
	OutcomeFailed     = "failed"
)

// Metrics holds all registry collectors. A nil *Metrics records nothing.
type Metrics struct {
	Hits          prometheus.Counter
	Misses        prometheus.Counter
	Joins         prometheus.Counter
	Builds        *prometheus.CounterVec
	BuildDuration *prometheus.HistogramVec
	InFlight      prometheus.Gauge
}

// New creates the collectors and registers them on reg. A nil reg leaves
// them unregistered.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Hits: f.NewCounter(prometheus.CounterOpts{
			Name: "startpop_cache_hits_total",
			Help: "Population lookups served from the in-process cache",
		}),
		Misses: f.NewCounter(prometheus.CounterOpts{
			Name: "startpop_cache_misses_total",
			Help: "Population lookups that had to consult the backing store",
		}),
		Joins: f.NewCounter(prometheus.CounterOpts{
			Name: "startpop_build_joins_total",
			Help: "Lookups that waited on a build already in flight",
		}),
		Builds: f.NewCounterVec(prometheus.CounterOpts{
			Name: "startpop_builds_total",
			Help: "Population resolutions by outcome",
		}, []string{"country", "outcome"}),
		BuildDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "startpop_build_duration_seconds",
			Help:    "Duration of population resolutions that reached the backing store",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
		}, []string{"country"}),
		InFlight: f.NewGauge(prometheus.GaugeOpts{
			Name: "startpop_builds_in_flight",
			Help: "Population resolutions currently running",
		}),
	}
}

func (m *Metrics) Hit() {
	if m != nil {
		m.Hits.Inc()
	}
}

func (m *Metrics) Miss() {
	if m != nil {
		m.Misses.Inc()
	}
}

func (m *Metrics) Join() {
	if m != nil {
		m.Joins.Inc()
	}
}

// Start marks a resolution in flight and returns the function that records
// its outcome.
func (m *Metrics) Start(country string) func(outcome string) {
	if m == nil {
		return func(string) {}
	}
	m.InFlight.Inc()
	began := time.Now()
	return func(outcome string) {
		m.InFlight.Dec()
		m.Builds.WithLabelValues(country, outcome).Inc()
		m.BuildDuration.WithLabelValues(country).Observe(time.Since(began).Seconds())
	}
}
