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
	"net/http"

	"github.com/AleutianAI/TunnelNode/pkg/extensions"
	"github.com/AleutianAI/TunnelNode/services/node/datatypes"
	"github.com/AleutianAI/TunnelNode/services/node/middleware"
	"github.com/gin-gonic/gin"
)

// UserCounter reports the number of tracked users.
type UserCounter interface {
	UserCount() int
}

// HealthCheck is the unauthenticated liveness probe.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// HandleInternalConfig serves the loopback-only engine summary.
func HandleInternalConfig(counter UserCounter) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, datatypes.InternalConfigResponse{
			Engine: "trusttunnel",
			Users:  counter.UserCount(),
		})
	}
}

// HandleBlockIP acknowledges a block request. The tunnel cannot block
// addresses at runtime, so the request is only logged.
func HandleBlockIP(auditor extensions.AuditLogger) gin.HandlerFunc {
	return visionStub("block", auditor)
}

// HandleUnblockIP acknowledges an unblock request. See HandleBlockIP.
func HandleUnblockIP(auditor extensions.AuditLogger) gin.HandlerFunc {
	return visionStub("unblock", auditor)
}

func visionStub(action string, auditor extensions.AuditLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.IPRequest
		if !bindJSON(c, &req) {
			return
		}

		middleware.LoggerFrom(c).Warn("IP blocking is not supported by the tunnel, ignoring request",
			"action", action,
			"ip", req.IP,
		)
		audit(c, auditor, extensions.AuditEvent{
			EventType:    "ip." + action,
			Action:       action,
			ResourceType: "ip",
			ResourceID:   req.IP,
			Outcome:      "ignored",
		})

		respondOK(c, datatypes.MutationResponse{Success: true})
	}
}
