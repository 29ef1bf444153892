// Package observability provides the gateway's Prometheus metrics. All
// collectors register against the default registry and surface on /metrics.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the gateway's collector set. Create once at startup.
type Metrics struct {
	// RequestCounter counts completed /v1/messages requests.
	// Labels: route (clientPin|subagent|longContext|background|webSearch|think|default), status (success|error)
	RequestCounter *prometheus.CounterVec

	// RequestDuration measures end-to-end request latency in seconds.
	// Labels: route, streaming (true|false)
	RequestDuration *prometheus.HistogramVec

	// RoutingDecisions counts routing outcomes by rule and target.
	// Labels: route, provider
	RoutingDecisions *prometheus.CounterVec

	// TokensCounted tracks token counts flowing through the gateway.
	// Labels: direction (input|output)
	TokensCounted *prometheus.CounterVec

	// ToolDispatches counts agent tool-call handler invocations.
	// Labels: tool, status (success|error)
	ToolDispatches *prometheus.CounterVec

	// MemoryOps counts memory store operations.
	// Labels: op (remember|recall|forget|cleanup), status (success|error)
	MemoryOps *prometheus.CounterVec

	// HookDispatches counts hook firings.
	// Labels: event, outcome (continue|veto)
	HookDispatches *prometheus.CounterVec

	// UpstreamRetries counts extra upstream attempts beyond the first.
	UpstreamRetries prometheus.Counter
}

// New creates and registers all collectors. Call once per process.
func New() *Metrics {
	return &Metrics{
		RequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_requests_total",
				Help: "Completed chat requests by route and status",
			},
			[]string{"route", "status"},
		),

		RequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "relay_request_duration_seconds",
				Help:    "End-to-end request latency in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"route", "streaming"},
		),

		RoutingDecisions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_routing_decisions_total",
				Help: "Routing outcomes by matched rule and provider",
			},
			[]string{"route", "provider"},
		),

		TokensCounted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_tokens_total",
				Help: "Tokens counted by direction",
			},
			[]string{"direction"},
		),

		ToolDispatches: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_tool_dispatches_total",
				Help: "Agent tool handler invocations by tool and status",
			},
			[]string{"tool", "status"},
		),

		MemoryOps: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_memory_operations_total",
				Help: "Memory store operations by kind and status",
			},
			[]string{"op", "status"},
		),

		HookDispatches: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_hook_dispatches_total",
				Help: "Hook event firings by event and outcome",
			},
			[]string{"event", "outcome"},
		),

		UpstreamRetries: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "relay_upstream_retries_total",
				Help: "Upstream attempts beyond the first",
			},
		),
	}
}

// statusLabel renders an error presence as a metric label.
func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// ObserveRequest records one finished request.
func (m *Metrics) ObserveRequest(route string, streaming bool, seconds float64, err error) {
	m.RequestCounter.WithLabelValues(route, statusLabel(err)).Inc()
	s := "false"
	if streaming {
		s = "true"
	}
	m.RequestDuration.WithLabelValues(route, s).Observe(seconds)
}

// ObserveToolDispatch records one agent tool invocation.
func (m *Metrics) ObserveToolDispatch(tool string, err error) {
	m.ToolDispatches.WithLabelValues(tool, statusLabel(err)).Inc()
}

// ObserveMemoryOp records one memory operation.
func (m *Metrics) ObserveMemoryOp(op string, err error) {
	m.MemoryOps.WithLabelValues(op, statusLabel(err)).Inc()
}
