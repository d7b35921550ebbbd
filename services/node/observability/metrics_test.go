// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

// ============================================================================
// Test Helper: isolated registry per test
// ============================================================================

func newTestMetrics(t *testing.T) (*NodeMetrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewNodeMetrics(reg), reg
}

func TestRecordReconcile(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordReconcile("applied", 1.2)
	m.RecordReconcile("applied", 0.8)
	m.RecordReconcile("busy", 0)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.ReconcileTotal.WithLabelValues("applied")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ReconcileTotal.WithLabelValues("busy")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.ReconcileDurationSeconds))
}

func TestSetOnline(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.SetOnline(true)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.TunnelOnline))

	m.SetOnline(false)
	assert.Equal(t, float64(0), testutil.ToFloat64(m.TunnelOnline))
}

func TestSetUsersTracked(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.SetUsersTracked(42)

	assert.Equal(t, float64(42), testutil.ToFloat64(m.UsersTracked))
}

func TestRecordWrapperRequest(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordWrapperRequest("status", true, 0.01)
	m.RecordWrapperRequest("status", false, 0.02)
	m.RecordWrapperRequest("restart", true, 0.5)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.WrapperRequestsTotal.WithLabelValues("status", "success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.WrapperRequestsTotal.WithLabelValues("status", "error")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.WrapperRequestsTotal.WithLabelValues("restart", "success")))
}

func TestNilMetrics_NoPanic(t *testing.T) {
	var m *NodeMetrics

	assert.NotPanics(t, func() {
		m.RecordReconcile("applied", 1)
		m.SetOnline(true)
		m.SetUsersTracked(3)
		m.RecordWrapperRequest("status", true, 0.1)
	})
}

func TestNewNodeMetrics_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewNodeMetrics(reg)

	assert.Panics(t, func() { NewNodeMetrics(reg) })
}
