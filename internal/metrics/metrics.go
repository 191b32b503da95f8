// Package metrics exposes the engine's prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	filterDecisions *prometheus.CounterVec
	verifyAttempts  *prometheus.CounterVec
	proxyState      *prometheus.GaugeVec
	interceptTotal  *prometheus.CounterVec
	relayUpdates    *prometheus.CounterVec
}

var proxyStates = []string{"disabled", "applying", "active", "verifying", "failed"}

// New builds a registry with runtime collectors and the engine's own.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: reg,
		filterDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shroud_filter_decisions_total",
			Help: "Request filter decisions by stage and action",
		}, []string{"stage", "action"}),
		verifyAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shroud_proxy_verify_attempts_total",
			Help: "Proxy verification attempts by result",
		}, []string{"result"}),
		proxyState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "shroud_proxy_state",
			Help: "1 for the current proxy lifecycle state",
		}, []string{"state"}),
		interceptTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shroud_intercept_requests_total",
			Help: "Requests handled by the intercepting listener by method and outcome",
		}, []string{"method", "outcome"}),
		relayUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shroud_relay_updates_total",
			Help: "State updates published to the control surface by kind",
		}, []string{"kind"}),
	}
	reg.MustRegister(m.filterDecisions, m.verifyAttempts, m.proxyState, m.interceptTotal, m.relayUpdates)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) FilterDecision(stage, action string) {
	if stage == "" {
		stage = "none"
	}
	m.filterDecisions.WithLabelValues(stage, action).Inc()
}

func (m *Metrics) VerifyAttempt(ok bool) {
	result := "failure"
	if ok {
		result = "success"
	}
	m.verifyAttempts.WithLabelValues(result).Inc()
}

// ProxyState sets the gauge for state to 1 and every other state to 0.
func (m *Metrics) ProxyState(state string) {
	for _, s := range proxyStates {
		v := 0.0
		if s == state {
			v = 1
		}
		m.proxyState.WithLabelValues(s).Set(v)
	}
}

func (m *Metrics) Intercepted(method, outcome string) {
	m.interceptTotal.WithLabelValues(method, outcome).Inc()
}

func (m *Metrics) RelayUpdate(kind string) {
	m.relayUpdates.WithLabelValues(kind).Inc()
}
