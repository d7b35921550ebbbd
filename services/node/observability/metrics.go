// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides the node adapter's own Prometheus metrics.
//
// # Description
//
// These metrics describe the adapter, not the tunnel server it controls:
//   - Reconcile attempts by outcome, with a duration histogram
//   - Whether the adapter believes the tunnel is online
//   - Number of users in the local registry
//   - Outbound wrapper calls by operation and status
//
// # Integration
//
// Metrics are registered on the registry passed to NewNodeMetrics and
// exposed via the /metrics endpoint.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
// Every Record helper is a no-op on a nil *NodeMetrics so components can
// run without metrics in tests.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

// Namespace for all metrics
const metricsNamespace = "ttnode"

const (
	reconcileSubsystem = "reconcile"
	wrapperSubsystem   = "wrapper"
)

// NodeMetrics holds all Prometheus metrics for the node adapter.
//
// # Fields
//
//   - ReconcileTotal: Counter of reconcile attempts by outcome
//   - ReconcileDurationSeconds: Histogram of reconcile duration by outcome
//   - TunnelOnline: 1 when the adapter believes the tunnel is online
//   - UsersTracked: Users currently in the local registry
//   - WrapperRequestsTotal: Outbound wrapper calls by operation and status
//   - WrapperRequestDurationSeconds: Outbound wrapper call latency
//
// # Thread Safety
//
// All operations are thread-safe.
type NodeMetrics struct {
	// ReconcileTotal counts reconcile attempts.
	// Labels: outcome (applied, unchanged, busy, restart_failed, verify_failed, internal)
	ReconcileTotal *prometheus.CounterVec

	// ReconcileDurationSeconds measures reconcile wall time.
	// Labels: outcome
	ReconcileDurationSeconds *prometheus.HistogramVec

	// TunnelOnline is 1 while the adapter's run state is online.
	TunnelOnline prometheus.Gauge

	// UsersTracked is the size of the local user registry.
	UsersTracked prometheus.Gauge

	// WrapperRequestsTotal counts outbound wrapper calls.
	// Labels: operation (status, restart, list_users, ...), status (success, error)
	WrapperRequestsTotal *prometheus.CounterVec

	// WrapperRequestDurationSeconds measures outbound wrapper latency.
	// Labels: operation
	WrapperRequestDurationSeconds *prometheus.HistogramVec
}

// NewNodeMetrics creates and registers all node metrics on reg.
//
// # Description
//
// Uses promauto.With so the caller decides which registry owns the
// collectors. Tests pass a fresh prometheus.NewRegistry(); the service
// passes its own registry which backs /metrics.
//
// # Inputs
//
//   - reg: Registerer to attach collectors to. Must not be nil.
//
// # Outputs
//
//   - *NodeMetrics: The initialized metrics instance.
//
// # Limitations
//
//   - Panics if called twice with the same registry (duplicate registration).
func NewNodeMetrics(reg prometheus.Registerer) *NodeMetrics {
	factory := promauto.With(reg)

	return &NodeMetrics{
		ReconcileTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: reconcileSubsystem,
				Name:      "total",
				Help:      "Total reconcile attempts by outcome",
			},
			[]string{"outcome"},
		),

		ReconcileDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: reconcileSubsystem,
				Name:      "duration_seconds",
				Help:      "Reconcile duration in seconds by outcome",
				Buckets:   []float64{0.05, 0.25, 1, 2.5, 5, 10, 20, 30, 60},
			},
			[]string{"outcome"},
		),

		TunnelOnline: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "tunnel_online",
				Help:      "1 if the adapter believes the tunnel process is online",
			},
		),

		UsersTracked: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "users_tracked",
				Help:      "Number of users in the local registry",
			},
		),

		WrapperRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: wrapperSubsystem,
				Name:      "requests_total",
				Help:      "Total wrapper API calls by operation and status",
			},
			[]string{"operation", "status"},
		),

		WrapperRequestDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: wrapperSubsystem,
				Name:      "request_duration_seconds",
				Help:      "Wrapper API call latency in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"operation"},
		),
	}
}

// =============================================================================
// Helper Methods
// =============================================================================

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// RecordReconcile records a finished reconcile attempt.
//
// # Inputs
//
//   - outcome: Outcome label, e.g. "applied" or "verify_failed".
//   - seconds: Wall time of the attempt.
func (m *NodeMetrics) RecordReconcile(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.ReconcileTotal.WithLabelValues(outcome).Inc()
	m.ReconcileDurationSeconds.WithLabelValues(outcome).Observe(seconds)
}

// SetOnline mirrors the run state into the tunnel_online gauge.
func (m *NodeMetrics) SetOnline(online bool) {
	if m == nil {
		return
	}
	if online {
		m.TunnelOnline.Set(1)
		return
	}
	m.TunnelOnline.Set(0)
}

// SetUsersTracked sets the registry size gauge.
func (m *NodeMetrics) SetUsersTracked(n int) {
	if m == nil {
		return
	}
	m.UsersTracked.Set(float64(n))
}

// RecordWrapperRequest records one outbound wrapper call.
//
// # Inputs
//
//   - operation: Wrapper operation name.
//   - success: Whether the call produced a successful result.
//   - seconds: Call latency, including pacing wait.
func (m *NodeMetrics) RecordWrapperRequest(operation string, success bool, seconds float64) {
	if m == nil {
		return
	}
	m.WrapperRequestsTotal.WithLabelValues(operation, statusLabel(success)).Inc()
	m.WrapperRequestDurationSeconds.WithLabelValues(operation).Observe(seconds)
}
