package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	iterations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "emberctl",
			Subsystem: "sim",
			Name:      "iterations_total",
			Help:      "Outer simulation iterations completed.",
		},
	)
	subSteps = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "emberctl",
			Subsystem: "sim",
			Name:      "substeps_total",
			Help:      "Diffusion sub-steps completed across all iterations.",
		},
	)
	haloRows = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "emberctl",
			Subsystem: "comm",
			Name:      "halo_rows_total",
			Help:      "Boundary rows exchanged with neighbors.",
		},
		[]string{"rank"},
	)
	globalResidual = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "emberctl",
			Subsystem: "sim",
			Name:      "global_residual",
			Help:      "Most recent globally reduced residual.",
		},
	)
	activeSources = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "emberctl",
			Subsystem: "sim",
			Name:      "active_sources",
			Help:      "Heat sources currently active.",
		},
	)
	suppressedSources = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "emberctl",
			Subsystem: "sim",
			Name:      "suppressed_sources",
			Help:      "Heat sources suppressed by a team.",
		},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "emberctl",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Status surface requests by node, method, path and status.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "emberctl",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Status surface request latency.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			iterations, subSteps, haloRows,
			globalResidual, activeSources, suppressedSources,
			httpRequests, httpDuration,
		)
	})
}

func RecordIteration() {
	RegisterMetrics()
	iterations.Inc()
}

func RecordSubStep() {
	RegisterMetrics()
	subSteps.Inc()
}

func RecordHaloRow(rank string) {
	RegisterMetrics()
	haloRows.WithLabelValues(rank).Inc()
}

func RecordResidual(residual float64) {
	RegisterMetrics()
	globalResidual.Set(residual)
}

func RecordSourceStates(active, suppressed int) {
	RegisterMetrics()
	activeSources.Set(float64(active))
	suppressedSources.Set(float64(suppressed))
}

func RecordHTTPRequest(node, method, path string, status int, dur time.Duration) {
	RegisterMetrics()
	httpRequests.WithLabelValues(node, method, path, strconv.Itoa(status)).Inc()
	httpDuration.WithLabelValues(node, method, path).Observe(dur.Seconds())
}
