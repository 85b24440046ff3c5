package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "mealycache"

// Conflict outcomes.
const (
	OutcomeRetried     = "retried"
	OutcomeInvalidated = "invalidated"
	OutcomeExhausted   = "exhausted"
	OutcomeResolved    = "resolved"
)

// Metrics groups the collectors of one cache stack.
type Metrics struct {
	Queries          prometheus.Counter
	MastersCached    prometheus.Counter
	MastersProbed    prometheus.Counter
	Conflicts        *prometheus.CounterVec
	Retries          prometheus.Counter
	SyntheticRecords prometheus.Counter
	SUTSteps         prometheus.Counter
	BypassedSteps    prometheus.Counter
	ProbeDuration    prometheus.Histogram
	StoreDuration    *prometheus.HistogramVec
	StoreErrors      *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on reg.
// A nil reg skips registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Queries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "Membership queries received from the learner.",
		}),
		MastersCached: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "masters_cached_total",
			Help:      "Master queries answered by the automaton cache.",
		}),
		MastersProbed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "masters_dispatched_total",
			Help:      "Master queries dispatched to the delegate oracle.",
		}),
		Conflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conflicts_total",
			Help:      "Cache conflicts by resolution outcome.",
		}, []string{"outcome"}),
		Retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conflict_retries_total",
			Help:      "Probes re-issued to the delegate while resolving conflicts.",
		}),
		SyntheticRecords: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "synthetic_records_total",
			Help:      "Synthetic observations written by the bypass classifier.",
		}),
		SUTSteps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sut_steps_total",
			Help:      "Input symbols forwarded to the system under test.",
		}),
		BypassedSteps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bypassed_steps_total",
			Help:      "Input symbols answered with the disabled marker instead of the SUT.",
		}),
		ProbeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "probe_duration_seconds",
			Help:      "Duration of single SUT probes.",
			Buckets:   prometheus.DefBuckets,
		}),
		StoreDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_operation_duration_seconds",
			Help:      "Latency of observation store calls by operation.",
			Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1},
		}, []string{"op"}),
		StoreErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_errors_total",
			Help:      "Failed observation store calls by operation.",
		}, []string{"op"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.Queries, m.MastersCached, m.MastersProbed, m.Conflicts, m.Retries,
			m.SyntheticRecords, m.SUTSteps, m.BypassedSteps, m.ProbeDuration,
			m.StoreDuration, m.StoreErrors,
		)
	}
	return m
}

// AddQueries counts n learner queries.
func (m *Metrics) AddQueries(n int) {
	if m == nil {
		return
	}
	m.Queries.Add(float64(n))
}

// MasterCached counts a master answered without dispatch.
func (m *Metrics) MasterCached() {
	if m == nil {
		return
	}
	m.MastersCached.Inc()
}

// AddMastersProbed counts n dispatched masters.
func (m *Metrics) AddMastersProbed(n int) {
	if m == nil {
		return
	}
	m.MastersProbed.Add(float64(n))
}

// Conflict counts a conflict resolved with outcome.
func (m *Metrics) Conflict(outcome string) {
	if m == nil {
		return
	}
	m.Conflicts.WithLabelValues(outcome).Inc()
}

// Retry counts a re-issued probe.
func (m *Metrics) Retry() {
	if m == nil {
		return
	}
	m.Retries.Inc()
}

// Synthetic counts n synthetic records.
func (m *Metrics) Synthetic(n int) {
	if m == nil {
		return
	}
	m.SyntheticRecords.Add(float64(n))
}

// Step counts one forwarded or bypassed input.
func (m *Metrics) Step(forwarded bool) {
	if m == nil {
		return
	}
	if forwarded {
		m.SUTSteps.Inc()
		return
	}
	m.BypassedSteps.Inc()
}

// ObserveProbe records the duration of one probe in seconds.
func (m *Metrics) ObserveProbe(seconds float64) {
	if m == nil {
		return
	}
	m.ProbeDuration.Observe(seconds)
}

// StoreOp records one store call.
func (m *Metrics) StoreOp(op string, seconds float64, failed bool) {
	if m == nil {
		return
	}
	m.StoreDuration.WithLabelValues(op).Observe(seconds)
	if failed {
		m.StoreErrors.WithLabelValues(op).Inc()
	}
}
