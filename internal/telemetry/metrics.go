// Package telemetry exposes the toolchain's Prometheus metrics and OpenTelemetry spans.
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace prefixes every metric name.
const Namespace = "bootz"

// Metrics holds the collectors for one toolchain invocation.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	pipelineRuns     *prometheus.CounterVec
	pipelineDuration *prometheus.HistogramVec
	hotUpdates       *prometheus.CounterVec
	moduleLoads      *prometheus.CounterVec
	moduleVersion    prometheus.Gauge
	bridgeResponses  *prometheus.CounterVec
}

// NewMetrics registers the toolchain collectors on reg, or on a fresh
// registry when reg is nil.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		pipelineRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "pipeline_runs_total",
			Help:      "Completed compiler pipeline runs by target and result",
		}, []string{"target", "result"}),

		pipelineDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "pipeline_run_duration_seconds",
			Help:      "Compiler pipeline run duration in seconds",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"target"}),

		hotUpdates: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "hot_update_cycles_total",
			Help:      "Hot-update cycles by outcome",
		}, []string{"outcome"}),

		moduleLoads: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "server_module_loads_total",
			Help:      "Server module imports by result",
		}, []string{"result"}),

		moduleVersion: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "server_module_version",
			Help:      "Version of the currently active server module (0 when absent)",
		}),

		bridgeResponses: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "bridge_responses_total",
			Help:      "Responses written by the request bridge by status code",
		}, []string{"code"}),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObservePipelineRun records one finished pipeline run.
func (m *Metrics) ObservePipelineRun(target string, failed bool, d time.Duration) {
	if m == nil {
		return
	}
	result := "success"
	if failed {
		result = "failure"
	}
	m.pipelineRuns.WithLabelValues(target, result).Inc()
	m.pipelineDuration.WithLabelValues(target).Observe(d.Seconds())
}

// ObserveHotUpdate records the outcome of a hot-update cycle.
func (m *Metrics) ObserveHotUpdate(outcome string) {
	if m == nil {
		return
	}
	m.hotUpdates.WithLabelValues(outcome).Inc()
}

// ObserveModuleLoad records a server module import attempt.
func (m *Metrics) ObserveModuleLoad(ok bool) {
	if m == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failure"
	}
	m.moduleLoads.WithLabelValues(result).Inc()
}

// SetModuleVersion publishes the active module version.
func (m *Metrics) SetModuleVersion(v uint64) {
	if m == nil {
		return
	}
	m.moduleVersion.Set(float64(v))
}

// ObserveBridgeResponse records a status code written by the request bridge.
func (m *Metrics) ObserveBridgeResponse(code int) {
	if m == nil {
		return
	}
	m.bridgeResponses.WithLabelValues(strconv.Itoa(code)).Inc()
}
