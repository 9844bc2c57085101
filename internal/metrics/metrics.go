// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package metrics exposes the firewall core's health as Prometheus series:
// which backend is active, how switches are going, and whether the user is
// currently left without a firewall.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"grimm.is/netfence/internal/model"
)

// Metrics holds the Prometheus collectors this core exports.
type Metrics struct {
	registry *prometheus.Registry

	ActiveBackend *prometheus.GaugeVec
	BackendSwitch *prometheus.CounterVec
	FirewallDown  prometheus.Gauge
	ApplyLatency  prometheus.Histogram
}

// NewMetrics constructs a fresh registry and collector set. Each call gets
// its own Registry (never prometheus.DefaultRegisterer), so repeated
// construction in tests never collides.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ActiveBackend: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "netfence_active_backend",
			Help: "1 for the currently active backend type, 0 for all others.",
		}, []string{"backend"}),
		BackendSwitch: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "netfence_backend_switch_total",
			Help: "Count of backend switch attempts, labeled by source/target type and outcome.",
		}, []string{"from", "to", "result"}),
		FirewallDown: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "netfence_firewall_down",
			Help: "1 if the user currently has no working firewall backend, 0 otherwise.",
		}),
		ApplyLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "netfence_apply_rules_seconds",
			Help:    "Latency of ApplyRules calls against the active backend.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	m.registry.MustRegister(m.ActiveBackend, m.BackendSwitch, m.FirewallDown, m.ApplyLatency)
	return m
}

// Registry returns the collector registry, for wiring into an HTTP
// /metrics handler via promhttp.HandlerFor.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// allBackendTypes lists every label value ActiveBackend ever takes, so
// SetActiveBackend can zero out the ones that are no longer current.
var allBackendTypes = []model.BackendType{
	model.BackendPacketFilter,
	model.BackendPolicyChain,
	model.BackendNetPolicy,
	model.BackendVirtualDevice,
}

// SetActiveBackend marks bt as the one active backend, zeroing every other
// backend's gauge. Pass nil when no backend is active (Stopped/Error).
func (m *Metrics) SetActiveBackend(bt *model.BackendType) {
	for _, candidate := range allBackendTypes {
		value := 0.0
		if bt != nil && *bt == candidate {
			value = 1.0
		}
		m.ActiveBackend.WithLabelValues(candidate.String()).Set(value)
	}
}

// RecordSwitch records the outcome of a backend-switch attempt (§4.2).
// from may be empty for the very first start from Stopped.
func (m *Metrics) RecordSwitch(from, to model.BackendType, ok bool, hadFrom bool) {
	fromLabel := ""
	if hadFrom {
		fromLabel = from.String()
	}
	result := "success"
	if !ok {
		result = "failure"
	}
	m.BackendSwitch.WithLabelValues(fromLabel, to.String(), result).Inc()
}

// SetFirewallDown reflects isFirewallDown (§4.2/§6).
func (m *Metrics) SetFirewallDown(down bool) {
	if down {
		m.FirewallDown.Set(1)
	} else {
		m.FirewallDown.Set(0)
	}
}

// ObserveApplyLatency records how long an ApplyRules call took.
func (m *Metrics) ObserveApplyLatency(d time.Duration) {
	m.ApplyLatency.Observe(d.Seconds())
}
