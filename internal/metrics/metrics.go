// Package metrics defines the Prometheus collectors for synthesis, jobs and assembly.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "dialogcast"

var (
	// segmentsTotal counts finished segments by the engine that produced them.
	segmentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segments_total",
			Help:      "Total number of segments synthesized",
		},
		[]string{"engine", "status"}, // status: success, error
	)

	// backendAttemptsTotal counts individual backend calls.
	backendAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_attempts_total",
			Help:      "Total number of synthesis backend calls",
		},
		[]string{"engine", "outcome"}, // outcome: success, transient, permanent
	)

	synthesisDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "synthesis_duration_seconds",
			Help:      "Duration of successful backend synthesis calls in seconds",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"engine"},
	)

	jobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Total number of jobs by terminal state",
		},
		[]string{"state"}, // completed, error, cancelled
	)

	jobsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_active",
			Help:      "Number of jobs currently processing",
		},
	)

	assemblyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "assembly_duration_seconds",
			Help:      "Duration of audio assembly in seconds",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)

	poolBusyWorkers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_busy_workers",
			Help:      "Number of worker pool slots currently held",
		},
	)

	engineAvailable = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "engine_available",
			Help:      "Whether the engine passed its last readiness probe (1) or not (0)",
		},
		[]string{"engine"},
	)

	// allMetrics is a list of all metrics for registration.
	allMetrics = []prometheus.Collector{
		segmentsTotal,
		backendAttemptsTotal,
		synthesisDuration,
		jobsTotal,
		jobsActive,
		assemblyDuration,
		poolBusyWorkers,
		engineAvailable,
	}
)

// NewRegistry returns a registry holding every dialogcast collector plus
// the Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	for _, c := range allMetrics {
		reg.MustRegister(c)
	}
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// Handler serves the registry in the Prometheus exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// RecordSegment records a finished segment.
func RecordSegment(engine, status string) {
	segmentsTotal.WithLabelValues(engine, status).Inc()
}

// RecordAttempt records one backend call and, on success, its duration.
func RecordAttempt(engine, outcome string, durationSeconds float64) {
	backendAttemptsTotal.WithLabelValues(engine, outcome).Inc()
	if outcome == "success" {
		synthesisDuration.WithLabelValues(engine).Observe(durationSeconds)
	}
}

// RecordJobStart marks a job as processing.
func RecordJobStart() {
	jobsActive.Inc()
}

// RecordJobEnd records a job's terminal state. wasActive tells whether
// RecordJobStart was called for it.
func RecordJobEnd(state string, wasActive bool) {
	if wasActive {
		jobsActive.Dec()
	}
	jobsTotal.WithLabelValues(state).Inc()
}

// RecordAssembly records the duration of one assembly.
func RecordAssembly(durationSeconds float64) {
	assemblyDuration.Observe(durationSeconds)
}

// WorkerAcquired and WorkerReleased track pool occupancy.
func WorkerAcquired() { poolBusyWorkers.Inc() }

// WorkerReleased undoes WorkerAcquired.
func WorkerReleased() { poolBusyWorkers.Dec() }

// SetEngineAvailable records a probe outcome.
func SetEngineAvailable(engine string, ok bool) {
	v := 0.0
	if ok {
		v = 1
	}
	engineAvailable.WithLabelValues(engine).Set(v)
}
