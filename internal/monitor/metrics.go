package monitor

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mExOms/venueprobe/pkg/events"
	"github.com/mExOms/venueprobe/pkg/types"
)

// Metrics is an events.Sink that exports probe outcomes to Prometheus on its
// own registry.
type Metrics struct {
	registry *prometheus.Registry

	latency   *prometheus.HistogramVec
	failures  *prometheus.CounterVec
	attempts  *prometheus.CounterVec
	state     *prometheus.GaugeVec
	reconcile *prometheus.CounterVec
	stranded  *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "venueprobe_probe_latency_seconds",
			Help:    "Latency of probe operations that completed successfully",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"venue", "operation"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "venueprobe_probe_failures_total",
			Help: "Failed probe operations by error class",
		}, []string{"venue", "operation", "class"}),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "venueprobe_probe_attempts_total",
			Help: "Probe operations attempted",
		}, []string{"venue", "operation"}),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "venueprobe_connection_state",
			Help: "Persistent connection state: 0 disconnected, 1 connecting, 2 connected, 3 recovering",
		}, []string{"venue"}),
		reconcile: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "venueprobe_reconcile_actions_total",
			Help: "Orphan reconciliation actions by outcome",
		}, []string{"venue", "outcome"}),
		stranded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "venueprobe_stranded_orders_total",
			Help: "Probe orders left open after cleanup",
		}, []string{"venue"}),
	}

	m.registry.MustRegister(
		m.latency, m.failures, m.attempts, m.state, m.reconcile, m.stranded,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Publish implements events.Sink.
func (m *Metrics) Publish(e events.Event) {
	switch e.Kind {
	case events.KindProbe:
		op := string(e.Operation)
		m.attempts.WithLabelValues(e.Venue, op).Inc()
		switch e.Outcome {
		case events.OutcomeSuccess, events.OutcomeNotFound:
			m.latency.WithLabelValues(e.Venue, op).Observe(e.Latency.Seconds())
		case events.OutcomeFailure:
			class, _ := e.Fields["class"].(string)
			if class == "" {
				class = types.ClassUnclassified.String()
			}
			m.failures.WithLabelValues(e.Venue, op, class).Inc()
		}
	case events.KindConnection:
		if st, ok := parseState(e.Outcome); ok {
			m.state.WithLabelValues(e.Venue).Set(float64(st))
		}
	case events.KindReconcile:
		m.reconcile.WithLabelValues(e.Venue, e.Outcome).Inc()
	case events.KindCleanup:
		if e.Outcome == events.OutcomeStranded {
			m.stranded.WithLabelValues(e.Venue).Inc()
		}
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func parseState(s string) (types.ConnectionState, bool) {
	for _, st := range []types.ConnectionState{
		types.StateDisconnected, types.StateConnecting, types.StateConnected, types.StateRecoveryInProgress,
	} {
		if st.String() == s {
			return st, true
		}
	}
	return 0, false
}
