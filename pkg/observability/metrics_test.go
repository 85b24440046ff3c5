package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.AddQueries(3)
	m.MasterCached()
	m.AddMastersProbed(2)
	m.Conflict(OutcomeRetried)
	m.Conflict(OutcomeRetried)
	m.Conflict(OutcomeExhausted)
	m.Retry()
	m.Synthetic(4)
	m.Step(true)
	m.Step(false)
	m.Step(false)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.Queries))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MastersCached))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.MastersProbed))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Conflicts.WithLabelValues(OutcomeRetried)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Conflicts.WithLabelValues(OutcomeExhausted)))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.SyntheticRecords))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SUTSteps))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.BypassedSteps))

	m.StoreOp("increment", 0.001, false)
	m.StoreOp("increment", 0.002, true)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StoreErrors.WithLabelValues("increment")))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.AddQueries(1)
		m.MasterCached()
		m.AddMastersProbed(1)
		m.Conflict(OutcomeResolved)
		m.Retry()
		m.Synthetic(1)
		m.Step(true)
		m.ObserveProbe(0.5)
		m.StoreOp("list", 0.1, true)
	})
}
