package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels successful model calls and tool executions.
	OutcomeSuccess = "success"
	// OutcomeError labels failed model calls and tool executions.
	OutcomeError = "error"
	// OutcomeRateLimited labels model calls rejected on quota.
	OutcomeRateLimited = "rate_limited"
)

var (
	investigationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "datasleuth",
			Name:      "investigations_total",
			Help:      "Total number of investigations run, partitioned by terminal outcome.",
		},
		[]string{"outcome"},
	)

	investigationDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "datasleuth",
			Name:      "investigation_seconds",
			Help:      "End-to-end investigation latency in seconds.",
			Buckets:   []float64{1, 2, 5, 10, 30, 60, 120, 240, 480},
		},
	)

	toolExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "datasleuth",
			Name:      "tool_executions_total",
			Help:      "Total tool executions, partitioned by tool name and outcome.",
		},
		[]string{"tool", "outcome"},
	)

	modelCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "datasleuth",
			Name:      "model_calls_total",
			Help:      "Total language-model calls, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	modelRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "datasleuth",
			Name:      "model_retries_total",
			Help:      "Total rate-limit retries against the language model.",
		},
	)
)

// Register attaches datasleuth collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		investigationsTotal,
		investigationDurationSeconds,
		toolExecutionsTotal,
		modelCallsTotal,
		modelRetriesTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveInvestigation records an investigation duration and terminal outcome.
func ObserveInvestigation(duration time.Duration, outcome string) {
	investigationsTotal.WithLabelValues(outcome).Inc()
	if duration < 0 {
		duration = 0
	}
	investigationDurationSeconds.Observe(duration.Seconds())
}

// ObserveToolExecution records one registry execution.
func ObserveToolExecution(tool string, success bool) {
	label := OutcomeSuccess
	if !success {
		label = OutcomeError
	}
	toolExecutionsTotal.WithLabelValues(tool, label).Inc()
}

// ObserveModelCall records one model call outcome label.
func ObserveModelCall(outcome string) {
	modelCallsTotal.WithLabelValues(outcome).Inc()
}

// IncModelRetry counts a rate-limit backoff retry.
func IncModelRetry() {
	modelRetriesTotal.Inc()
}
