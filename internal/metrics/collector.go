// Package metrics exposes Prometheus metrics for the relay: inbound routing
// decisions, backend calls, reply deliveries and transcript size.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Route labels for InboundMessages.
const (
	RouteCommand  = "command"
	RouteModel    = "model"
	RouteEmpty    = "empty"
	RouteNotFound = "not_found"
)

// Outcome labels for BackendCalls and Deliveries.
const (
	OutcomeOK      = "ok"
	OutcomeError   = "error"
	OutcomeTimeout = "timeout"
)

// ─── Inbound ────────────────────────────────────────────────────────────────

// InboundMessages counts inbound messages by the route they took.
var InboundMessages = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "textrelay",
	Name:      "inbound_messages_total",
	Help:      "Inbound messages by routing decision.",
}, []string{"route"})

// QueueDepth tracks messages waiting on the inbound bus.
var QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "textrelay",
	Name:      "inbound_queue_depth",
	Help:      "Inbound messages waiting for a relay worker.",
})

// ─── Backends ───────────────────────────────────────────────────────────────

// BackendCalls counts generation calls by backend and outcome.
var BackendCalls = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "textrelay",
	Name:      "backend_calls_total",
	Help:      "Generation calls by backend and outcome.",
}, []string{"backend", "outcome"})

// BackendLatency tracks generation call duration in seconds.
var BackendLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "textrelay",
	Name:      "backend_latency_seconds",
	Help:      "Generation call duration in seconds.",
	Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
}, []string{"backend", "model"})

// Installs counts model installs on the local backend by outcome.
var Installs = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "textrelay",
	Name:      "model_installs_total",
	Help:      "Model installs on the local backend by outcome.",
}, []string{"outcome"})

// ─── Delivery & transcript ──────────────────────────────────────────────────

// Deliveries counts replies handed to the messaging gateway by outcome.
var Deliveries = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "textrelay",
	Name:      "deliveries_total",
	Help:      "Replies sent to the messaging gateway by outcome.",
}, []string{"outcome"})

// DeliveryCallbacks counts status callbacks by reported status.
var DeliveryCallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "textrelay",
	Name:      "delivery_callbacks_total",
	Help:      "Delivery status callbacks by status.",
}, []string{"status"})

// TranscriptTurns tracks the number of stored transcript turns.
var TranscriptTurns = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "textrelay",
	Name:      "transcript_turns",
	Help:      "Turns currently kept in the conversation transcript.",
})

// ObserveBackend records one generation call.
func ObserveBackend(backend, model, outcome string, took time.Duration) {
	BackendCalls.WithLabelValues(backend, outcome).Inc()
	BackendLatency.WithLabelValues(backend, model).Observe(took.Seconds())
}

// Handler serves the default registry in Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}
