// Package metrics holds the optional Prometheus instrumentation for the
// fault proxy (C9 of SPEC_FULL.md).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics exposed by the control surface.
type Metrics struct {
	SimulationsTotal  *prometheus.CounterVec // label: fault name
	SimulationsActive prometheus.Gauge
	FaultsEnabled     *prometheus.CounterVec // label: fault name
	FaultsResolved    *prometheus.CounterVec // label: fault name
	FramesIntercepted *prometheus.CounterVec // labels: fault name, direction
	FramesDropped     *prometheus.CounterVec // labels: fault name, direction
	FramesFabricated  *prometheus.CounterVec // labels: fault name, direction
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		SimulationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "faultproxy_simulations_total",
			Help: "Total fault simulations created, by fault name",
		}, []string{"fault"}),
		SimulationsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "faultproxy_simulations_active",
			Help: "Current number of live fault simulations",
		}),
		FaultsEnabled: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "faultproxy_faults_enabled_total",
			Help: "Total enable() calls, by fault name",
		}, []string{"fault"}),
		FaultsResolved: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "faultproxy_faults_resolved_total",
			Help: "Total resolve() calls, by fault name",
		}, []string{"fault"}),
		FramesIntercepted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "faultproxy_frames_intercepted_total",
			Help: "Total frames observed by an interceptor, by fault name and direction",
		}, []string{"fault", "direction"}),
		FramesDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "faultproxy_frames_dropped_total",
			Help: "Total frames suppressed by an interceptor, by fault name and direction",
		}, []string{"fault", "direction"}),
		FramesFabricated: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "faultproxy_frames_fabricated_total",
			Help: "Total frames fabricated (e.g. synthetic NACKs), by fault name and direction",
		}, []string{"fault", "direction"}),
	}
}

// IncFaultsEnabled records an enable() call for fault name. Safe to call
// on a nil *Metrics (metrics disabled).
func (m *Metrics) IncFaultsEnabled(name string) {
	if m == nil {
		return
	}
	m.FaultsEnabled.WithLabelValues(name).Inc()
}

// IncFaultsResolved records a resolve() call for fault name. Safe to call
// on a nil *Metrics (metrics disabled).
func (m *Metrics) IncFaultsResolved(name string) {
	if m == nil {
		return
	}
	m.FaultsResolved.WithLabelValues(name).Inc()
}
