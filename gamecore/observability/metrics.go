// Package observability provides Prometheus metrics instrumentation for the
// engine core.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// MESSAGE METRICS
// =============================================================================

var (
	messagesSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gamecore_messages_sent_total",
			Help: "Total number of messages accepted by Send",
		},
		[]string{"dispatcher", "status"}, // status: ok, rejected
	)

	messagesDispatchedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gamecore_messages_dispatched_total",
			Help: "Total number of endpoint deliveries",
		},
		[]string{"dispatcher"},
	)

	handlerDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gamecore_handler_duration_seconds",
			Help:    "Message handler execution duration in seconds",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"endpoint"},
	)
)

// =============================================================================
// STATE MACHINE METRICS
// =============================================================================

var (
	stateTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gamecore_state_transitions_total",
			Help: "Total number of state machine transition requests",
		},
		[]string{"status"}, // status: requested, completed, aborted, rejected
	)

	stateUpdateDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gamecore_state_update_duration_seconds",
			Help:    "State machine update duration in seconds",
			Buckets: []float64{0.0001, 0.001, 0.005, 0.016, 0.033, 0.1, 0.5, 1},
		},
		[]string{"machine"},
	)
)

// =============================================================================
// CONTEXT METRICS
// =============================================================================

var (
	contextValidationErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gamecore_context_validation_errors_total",
			Help: "Total number of validated-context errors (construction, completion, access)",
		},
	)
)

// =============================================================================
// RESOURCE METRICS
// =============================================================================

var (
	resourcesLoadedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gamecore_resources_loaded_total",
			Help: "Total number of resource loads",
		},
		[]string{"type", "status"}, // status: cached, loaded, failed
	)

	resourcesReleasedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gamecore_resources_released_total",
			Help: "Total number of auto-release handler invocations",
		},
		[]string{"type"},
	)
)

// =============================================================================
// PUBLIC API
// =============================================================================

// RecordMessageSent records the outcome of a Send call.
func RecordMessageSent(dispatcher string, ok bool) {
	status := "ok"
	if !ok {
		status = "rejected"
	}
	messagesSentTotal.WithLabelValues(dispatcher, status).Inc()
}

// RecordMessageDispatched records one endpoint delivery.
func RecordMessageDispatched(dispatcher string) {
	messagesDispatchedTotal.WithLabelValues(dispatcher).Inc()
}

// RecordHandlerDuration records a message handler execution.
func RecordHandlerDuration(endpoint string, seconds float64) {
	handlerDurationSeconds.WithLabelValues(endpoint).Observe(seconds)
}

// RecordStateTransition records a state transition outcome.
// Status is one of: requested, completed, aborted, rejected.
func RecordStateTransition(status string) {
	stateTransitionsTotal.WithLabelValues(status).Inc()
}

// RecordStateUpdateDuration records a state machine update pass.
func RecordStateUpdateDuration(machine string, seconds float64) {
	stateUpdateDurationSeconds.WithLabelValues(machine).Observe(seconds)
}

// RecordContextValidationError records one validated-context error.
func RecordContextValidationError() {
	contextValidationErrorsTotal.Inc()
}

// RecordResourceLoad records a resource load outcome.
// Status is one of: cached, loaded, failed.
func RecordResourceLoad(resourceType string, status string) {
	resourcesLoadedTotal.WithLabelValues(resourceType, status).Inc()
}

// RecordResourceRelease records an auto-release handler invocation.
func RecordResourceRelease(resourceType string) {
	resourcesReleasedTotal.WithLabelValues(resourceType).Inc()
}
