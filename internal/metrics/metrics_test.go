package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Hit()
	m.Hit()
	m.Miss()
	m.Join()
	done := m.Start("UK")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.InFlight))
	done(OutcomeBuilt)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Hits))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Misses))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Joins))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.InFlight))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Builds.WithLabelValues("UK", OutcomeBuilt)))
	assert.Equal(t, 1, testutil.CollectAndCount(m.BuildDuration))

	n, err := testutil.GatherAndCount(reg, "startpop_builds_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestNilMetricsIsSilent(t *testing.T) {
	var m *Metrics
	m.Hit()
	m.Miss()
	m.Join()
	m.Start("UK")(OutcomeFailed)
}

func TestUnregistered(t *testing.T) {
	m := New(nil)
	m.Hit()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Hits))
}
