// Package metrics exposes prometheus instrumentation for the pipeline
// and the HTTP surface.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	runsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "paperflow",
		Name:      "runs_started_total",
		Help:      "Number of pipeline runs started.",
	})

	runsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "paperflow",
		Name:      "runs_finished_total",
		Help:      "Number of pipeline runs reaching a terminal phase.",
	}, []string{"outcome"})

	runsResumed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "paperflow",
		Name:      "runs_resumed_total",
		Help:      "Number of runs resumed from the suspend point.",
	})

	triggersSuppressed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "paperflow",
		Name:      "triggers_suppressed_total",
		Help:      "Number of duplicate external triggers absorbed by the deduper.",
	})

	stepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "paperflow",
		Name:      "step_duration_seconds",
		Help:      "Wall-clock duration of pipeline steps.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"step"})

	stepFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "paperflow",
		Name:      "step_failures_total",
		Help:      "Number of step executions normalized into a failed run.",
	}, []string{"step"})

	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "paperflow",
		Name:      "http_requests_total",
		Help:      "HTTP requests by method, route pattern and status class.",
	}, []string{"method", "route", "status"})
)

// RunStarted records a newly started run.
func RunStarted() { runsStarted.Inc() }

// RunFinished records a run reaching a terminal phase.
func RunFinished(outcome string) { runsFinished.WithLabelValues(outcome).Inc() }

// RunResumed records a resumption from the suspend point.
func RunResumed() { runsResumed.Inc() }

// TriggerSuppressed records a duplicate trigger absorbed at ingestion.
func TriggerSuppressed() { triggersSuppressed.Inc() }

// ObserveStep records a step execution.
func ObserveStep(step string, d time.Duration, ok bool) {
	stepDuration.WithLabelValues(step).Observe(d.Seconds())
	if !ok {
		stepFailures.WithLabelValues(step).Inc()
	}
}

// ObserveHTTP records an HTTP request.
func ObserveHTTP(method, route string, status int) {
	httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
}
