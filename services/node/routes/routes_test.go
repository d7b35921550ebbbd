// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/AleutianAI/TunnelNode/pkg/extensions"
	"github.com/AleutianAI/TunnelNode/services/node/observability"
	"github.com/AleutianAI/TunnelNode/services/node/registry"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Test Setup
// ============================================================================

func init() {
	gin.SetMode(gin.TestMode)
}

type rejectAll struct{}

func (rejectAll) Validate(_ context.Context, _ string) (*extensions.AuthInfo, error) {
	return nil, extensions.ErrUnauthorized
}

func testDeps(t *testing.T) (Deps, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	metrics := observability.NewNodeMetrics(reg)
	metrics.SetOnline(true)

	users := registry.New(nil)
	users.AddUser("alice", "s1")
	users.AddUser("bob", "s2")

	return Deps{Counter: users, Gatherer: reg}, reg
}

// ============================================================================
// SetupRoutes Tests
// ============================================================================

func TestSetupRoutes_RegistersAllRoutes(t *testing.T) {
	router := gin.New()
	deps, _ := testDeps(t)

	SetupRoutes(router, deps, extensions.DefaultOptions())

	expectedRoutes := []struct {
		method string
		path   string
	}{
		{"GET", "/health"},
		{"GET", "/metrics"},
		{"GET", "/internal/get-config"},
		{"POST", "/node/tt/start"},
		{"GET", "/node/tt/stop"},
		{"GET", "/node/tt/status"},
		{"GET", "/node/tt/healthcheck"},
		{"POST", "/node/handler/add-user"},
		{"POST", "/node/handler/add-users"},
		{"POST", "/node/handler/remove-user"},
		{"POST", "/node/handler/remove-users"},
		{"POST", "/node/handler/get-inbound-users-count"},
		{"POST", "/node/handler/get-inbound-users"},
		{"POST", "/node/stats/get-user-online-status"},
		{"POST", "/node/stats/get-users-stats"},
		{"GET", "/node/stats/get-system-stats"},
		{"POST", "/node/stats/get-inbound-stats"},
		{"POST", "/node/stats/get-outbound-stats"},
		{"POST", "/node/stats/get-all-inbounds-stats"},
		{"POST", "/node/stats/get-all-outbounds-stats"},
		{"POST", "/node/stats/get-combined-stats"},
		{"POST", "/vision/block-ip"},
		{"POST", "/vision/unblock-ip"},
	}

	routes := router.Routes()
	for _, expected := range expectedRoutes {
		found := false
		for _, r := range routes {
			if r.Method == expected.method && r.Path == expected.path {
				found = true
				break
			}
		}
		assert.True(t, found, "route %s %s not registered", expected.method, expected.path)
	}
	assert.Len(t, routes, len(expectedRoutes))
}

func TestSetupRoutes_NoGathererSkipsMetrics(t *testing.T) {
	router := gin.New()
	deps, _ := testDeps(t)
	deps.Gatherer = nil

	SetupRoutes(router, deps, extensions.DefaultOptions())

	for _, r := range router.Routes() {
		assert.NotEqual(t, "/metrics", r.Path)
	}
}

func TestSetupRoutes_PanelRoutesRequireAuth(t *testing.T) {
	router := gin.New()
	deps, _ := testDeps(t)
	SetupRoutes(router, deps, extensions.DefaultOptions().WithAuth(rejectAll{}))

	protected := []struct {
		method string
		path   string
	}{
		{"POST", "/node/tt/start"},
		{"GET", "/node/tt/stop"},
		{"POST", "/node/handler/add-user"},
		{"GET", "/node/stats/get-system-stats"},
		{"POST", "/vision/block-ip"},
	}
	for _, p := range protected {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(p.method, p.path, strings.NewReader(`{}`)))
		assert.Equal(t, http.StatusUnauthorized, w.Code, "%s %s", p.method, p.path)
		assert.Contains(t, w.Body.String(), `"errorCode":"A003"`)
	}

	open := []string{"/health", "/internal/get-config", "/metrics"}
	for _, path := range open {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("GET", path, nil))
		assert.Equal(t, http.StatusOK, w.Code, path)
	}
}

func TestSetupRoutes_HandlersLogThroughDepsLogger(t *testing.T) {
	var buf bytes.Buffer
	router := gin.New()
	deps, _ := testDeps(t)
	deps.Logger = slog.New(slog.NewJSONHandler(&buf, nil)).With("node_id", "n1")
	SetupRoutes(router, deps, extensions.DefaultOptions().WithAuth(rejectAll{}))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/node/tt/stop", nil))

	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, buf.String(), `"msg":"Rejected panel request"`)
	assert.Contains(t, buf.String(), `"node_id":"n1"`)
}

func TestSetupRoutes_InternalConfig(t *testing.T) {
	router := gin.New()
	deps, _ := testDeps(t)
	SetupRoutes(router, deps, extensions.ServiceOptions{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/internal/get-config", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"engine":"trusttunnel","users":2}`, w.Body.String())
}

func TestSetupRoutes_MetricsExposition(t *testing.T) {
	router := gin.New()
	deps, _ := testDeps(t)
	SetupRoutes(router, deps, extensions.DefaultOptions())

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ttnode_tunnel_online 1")
}
