package pool

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics captures prometheus counters for spawn and return traffic.
type Metrics struct {
	spawnTotal           *prometheus.CounterVec
	returnTotal          *prometheus.CounterVec
	exhaustedTotal       *prometheus.CounterVec
	redundantReturnTotal *prometheus.CounterVec
	unknownReturnTotal   prometheus.Counter
	buildDuration        *prometheus.HistogramVec
}

// NewMetrics constructs the instruments and registers them with reg, or with
// the default registerer when reg is nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		spawnTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{ //nolint:exhaustruct
				Namespace: "spawnpool",
				Subsystem: "pool",
				Name:      "spawns_total",
				Help:      "Total number of instances issued, labeled by pool.",
			},
			[]string{"pool"},
		),
		returnTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{ //nolint:exhaustruct
				Namespace: "spawnpool",
				Subsystem: "pool",
				Name:      "returns_total",
				Help:      "Total number of active instances returned, labeled by pool.",
			},
			[]string{"pool"},
		),
		exhaustedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{ //nolint:exhaustruct
				Namespace: "spawnpool",
				Subsystem: "pool",
				Name:      "exhausted_total",
				Help:      "Total number of spawn requests refused because every instance was active.",
			},
			[]string{"pool"},
		),
		redundantReturnTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{ //nolint:exhaustruct
				Namespace: "spawnpool",
				Subsystem: "pool",
				Name:      "redundant_returns_total",
				Help:      "Total number of returns for instances that were already inactive.",
			},
			[]string{"pool"},
		),
		unknownReturnTotal: prometheus.NewCounter(
			prometheus.CounterOpts{ //nolint:exhaustruct
				Namespace: "spawnpool",
				Subsystem: "pool",
				Name:      "unknown_returns_total",
				Help:      "Total number of returns whose owning pool could not be found.",
			},
		),
		buildDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{ //nolint:exhaustruct
				Namespace: "spawnpool",
				Subsystem: "pool",
				Name:      "build_duration_seconds",
				Help:      "Time spent instantiating a pool's clones.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"pool"},
		),
	}
	reg.MustRegister(
		m.spawnTotal,
		m.returnTotal,
		m.exhaustedTotal,
		m.redundantReturnTotal,
		m.unknownReturnTotal,
		m.buildDuration,
	)
	return m
}

func (m *Metrics) incSpawn(pool string) {
	if m == nil {
		return
	}
	m.spawnTotal.WithLabelValues(pool).Inc()
}

func (m *Metrics) incReturn(pool string) {
	if m == nil {
		return
	}
	m.returnTotal.WithLabelValues(pool).Inc()
}

func (m *Metrics) incExhausted(pool string) {
	if m == nil {
		return
	}
	m.exhaustedTotal.WithLabelValues(pool).Inc()
}

func (m *Metrics) incRedundantReturn(pool string) {
	if m == nil {
		return
	}
	m.redundantReturnTotal.WithLabelValues(pool).Inc()
}

func (m *Metrics) incUnknownReturn() {
	if m == nil {
		return
	}
	m.unknownReturnTotal.Inc()
}

func (m *Metrics) observeBuild(pool string, started time.Time) {
	if m == nil {
		return
	}
	m.buildDuration.WithLabelValues(pool).Observe(time.Since(started).Seconds())
}
