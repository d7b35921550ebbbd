// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"

	"github.com/AleutianAI/TunnelNode/pkg/extensions"
	"github.com/AleutianAI/TunnelNode/services/node/datatypes"
	"github.com/AleutianAI/TunnelNode/services/node/middleware"
	"github.com/AleutianAI/TunnelNode/services/node/reconcile"
	"github.com/AleutianAI/TunnelNode/services/node/registry"
	"github.com/gin-gonic/gin"
)

// Tunnel is the part of the reconcile engine the tunnel routes use.
type Tunnel interface {
	Reconcile(ctx context.Context, req reconcile.Request) reconcile.Result
	Stop(ctx context.Context) bool
	HealthCheck() reconcile.RunState
	StatusAndVersion(ctx context.Context) (bool, string)
	StartResponse(res reconcile.Result) datatypes.StartResponse
}

var _ Tunnel = (*reconcile.Engine)(nil)

// HandleStart applies a configuration snapshot pushed by the panel.
//
// # Description
//
// Binds the snapshot, runs one reconcile attempt, and answers with the
// start contract. Reconcile failures are reported inside the payload
// (isStarted=false, error=message) with HTTP 200; only an unreadable body
// answers 400.
//
// # Limitations
//
//   - A concurrent push answers isStarted=false with "Request already in
//     progress"; the panel is expected to retry.
func HandleStart(tunnel Tunnel, auditor extensions.AuditLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.StartRequest
		if !bindJSON(c, &req) {
			return
		}

		res := tunnel.Reconcile(c.Request.Context(), reconcile.Request{
			Snapshot: registry.Snapshot{
				Hashes: req.Internals.Hashes,
				Config: req.XrayConfig,
			},
			ForceRestart: req.Internals.ForceRestart,
			SourceIP:     c.ClientIP(),
		})

		audit(c, auditor, extensions.AuditEvent{
			EventType:    "node.start",
			Action:       "reconcile",
			ResourceType: "tunnel",
			ResourceID:   res.AttemptID,
			Outcome:      string(res.Outcome),
			Metadata: map[string]any{
				"force_restart": req.Internals.ForceRestart,
				"users_synced":  res.UsersSynced,
			},
		})

		respondOK(c, tunnel.StartResponse(res))
	}
}

// HandleStop stops the tunnel and clears the applied configuration.
func HandleStop(tunnel Tunnel, auditor extensions.AuditLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		middleware.LoggerFrom(c).Info("Panel requested to stop the tunnel")
		stopped := tunnel.Stop(c.Request.Context())

		audit(c, auditor, extensions.AuditEvent{
			EventType:    "node.stop",
			Action:       "stop",
			ResourceType: "tunnel",
			Outcome:      outcome(stopped),
		})

		respondOK(c, datatypes.StopResponse{IsStopped: stopped})
	}
}

// HandleStatus asks the wrapper whether the tunnel process is running.
func HandleStatus(tunnel Tunnel) gin.HandlerFunc {
	return func(c *gin.Context) {
		running, version := tunnel.StatusAndVersion(c.Request.Context())
		respondOK(c, datatypes.StatusResponse{
			IsRunning: running,
			Version:   datatypes.StringPtr(version),
		})
	}
}

// HandleHealthCheck reports the cached run state without calling the wrapper.
func HandleHealthCheck(tunnel Tunnel) gin.HandlerFunc {
	return func(c *gin.Context) {
		state := tunnel.HealthCheck()
		respondOK(c, datatypes.HealthCheckResponse{
			IsAlive:                true,
			TTInternalStatusCached: state.Online,
			TTVersion:              datatypes.StringPtr(state.VersionLabel),
			NodeVersion:            state.NodeVersion,
		})
	}
}
