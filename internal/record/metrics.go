package record

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors that report recorder activity.
type Metrics struct {
	eventsRecorded    *prometheus.CounterVec
	capturesFinalized prometheus.Counter
	captureFailures   prometheus.Counter
}

var (
	defaultMetricsOnce sync.Once
	sharedMetrics      *Metrics
)

// defaultMetrics returns the package-level metrics instance registered with
// the global Prometheus registry. The collectors are created only once to
// avoid duplicate registration panics when multiple recorders exist.
func defaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		sharedMetrics = MustNewMetrics(prometheus.DefaultRegisterer)
	})
	return sharedMetrics
}

// MustNewMetrics constructs a Metrics instance using the provided registerer.
// Callers needing unique metric names (tests) should supply a fresh registry.
// Registration errors panic, mirroring promauto semantics.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	eventsRecorded := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "retrace",
			Subsystem: "recorder",
			Name:      "events_recorded_total",
			Help:      "Events appended to sessions, by event type.",
		},
		[]string{"type"},
	)
	capturesFinalized := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "retrace",
			Subsystem: "recorder",
			Name:      "captures_finalized_total",
			Help:      "Scoped captures that reached finalization.",
		},
	)
	captureFailures := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "retrace",
			Subsystem: "recorder",
			Name:      "capture_failures_total",
			Help:      "Scoped captures that exited with a propagated failure.",
		},
	)
	reg.MustRegister(eventsRecorded, capturesFinalized, captureFailures)
	return &Metrics{
		eventsRecorded:    eventsRecorded,
		capturesFinalized: capturesFinalized,
		captureFailures:   captureFailures,
	}
}

func (m *Metrics) observeEvent(eventType string) {
	if m == nil {
		return
	}
	m.eventsRecorded.WithLabelValues(eventType).Inc()
}

func (m *Metrics) observeFinalize(failed bool) {
	if m == nil {
		return
	}
	m.capturesFinalized.Inc()
	if failed {
		m.captureFailures.Inc()
	}
}
