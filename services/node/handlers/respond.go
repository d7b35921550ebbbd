// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers provides the panel-facing HTTP handlers of the node.
//
// Every handler is a factory returning a gin.HandlerFunc bound to its
// dependencies. Successful calls answer 200 with {"response": payload};
// failures that carry an error code answer {"message", "errorCode"} with
// the code's HTTP status.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/AleutianAI/TunnelNode/pkg/extensions"
	"github.com/AleutianAI/TunnelNode/services/node/datatypes"
	"github.com/AleutianAI/TunnelNode/services/node/middleware"
	"github.com/gin-gonic/gin"
)

func respondOK[T any](c *gin.Context, payload T) {
	c.JSON(http.StatusOK, datatypes.Envelope[T]{Response: payload})
}

func respondError(c *gin.Context, code datatypes.ErrorCode) {
	c.AbortWithStatusJSON(code.HTTPStatus, code)
}

// bindJSON decodes the body into req. A body that fails binding answers
// 400 A001 and returns false.
func bindJSON(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		middleware.LoggerFrom(c).Warn("Rejected panel request body",
			"path", c.FullPath(),
			"error", err,
		)
		respondError(c, datatypes.ErrValidation)
		return false
	}
	return true
}

// bindOptionalJSON is bindJSON for endpoints whose body may be empty.
func bindOptionalJSON(c *gin.Context, req any) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	return bindJSON(c, req)
}

// audit records a control-plane mutation. Audit failures are logged and
// never fail the request.
func audit(c *gin.Context, logger extensions.AuditLogger, event extensions.AuditEvent) {
	if logger == nil {
		return
	}
	event.Subject = middleware.Subject(c)
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Metadata == nil {
		event.Metadata = map[string]any{}
	}
	event.Metadata["client_ip"] = c.ClientIP()

	ctx := context.WithoutCancel(c.Request.Context())
	if err := logger.Log(ctx, event); err != nil {
		middleware.LoggerFrom(c).Warn("Failed to record audit event", "event_type", event.EventType, "error", err)
	}
}

func outcome(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
