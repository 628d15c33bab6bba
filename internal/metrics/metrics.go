// Package metrics exposes prometheus collectors for the outgoing-message
// pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pipelineOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outpost_pipeline_outcomes_total",
			Help: "Terminal pipeline outcomes by result (done, retry, or failure reason)",
		},
		[]string{"result"},
	)

	pipelineStepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "outpost_pipeline_step_duration_seconds",
			Help:    "Duration of each pipeline step",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"step"},
	)

	pipelineInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "outpost_pipeline_in_flight",
			Help: "Pipeline executions currently running",
		},
	)

	messagesEnqueued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "outpost_messages_enqueued_total",
			Help: "Messages handed to the work runtime for sending",
		},
	)

	packagesBuilt = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outpost_packages_built_total",
			Help: "Send packages built, by scheme",
		},
		[]string{"scheme"},
	)
)

// RecordOutcome counts one terminal pipeline outcome.
func RecordOutcome(result string) {
	pipelineOutcomes.WithLabelValues(result).Inc()
}

// ObserveStep records the duration of one pipeline step.
func ObserveStep(step string, d time.Duration) {
	pipelineStepDuration.WithLabelValues(step).Observe(d.Seconds())
}

// ExecutionStarted marks one pipeline execution in flight. The returned
// function marks it finished.
func ExecutionStarted() func() {
	pipelineInFlight.Inc()
	return pipelineInFlight.Dec
}

// RecordEnqueued counts one message handed to the work runtime.
func RecordEnqueued() {
	messagesEnqueued.Inc()
}

// RecordPackageBuilt counts one built send package.
func RecordPackageBuilt(scheme string) {
	packagesBuilt.WithLabelValues(scheme).Inc()
}
