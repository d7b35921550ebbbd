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
	"github.com/AleutianAI/TunnelNode/pkg/extensions"
	"github.com/AleutianAI/TunnelNode/services/node/datatypes"
	"github.com/AleutianAI/TunnelNode/services/node/users"
	"github.com/gin-gonic/gin"
)

// HandleAddUser adds or replaces one user on the tunnel.
func HandleAddUser(svc users.Service, auditor extensions.AuditLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.AddUserRequest
		if !bindJSON(c, &req) {
			return
		}

		res := svc.AddUser(c.Request.Context(), req)

		username := ""
		if len(req.Data) > 0 {
			username = req.Data[0].Username
		}
		audit(c, auditor, extensions.AuditEvent{
			EventType:    "user.add",
			Action:       "add",
			ResourceType: "user",
			ResourceID:   username,
			Outcome:      outcome(res.Success),
		})

		respondOK(c, res)
	}
}

// HandleAddUsers adds or replaces users in bulk.
func HandleAddUsers(svc users.Service, auditor extensions.AuditLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.AddUsersRequest
		if !bindJSON(c, &req) {
			return
		}

		res := svc.AddUsers(c.Request.Context(), req)

		audit(c, auditor, extensions.AuditEvent{
			EventType:    "user.add_batch",
			Action:       "add",
			ResourceType: "user",
			Outcome:      outcome(res.Success),
			Metadata:     map[string]any{"count": len(req.Users)},
		})

		respondOK(c, res)
	}
}

// HandleRemoveUser removes one user.
func HandleRemoveUser(svc users.Service, auditor extensions.AuditLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.RemoveUserRequest
		if !bindJSON(c, &req) {
			return
		}

		res := svc.RemoveUser(c.Request.Context(), req)

		audit(c, auditor, extensions.AuditEvent{
			EventType:    "user.remove",
			Action:       "remove",
			ResourceType: "user",
			ResourceID:   req.Username,
			Outcome:      outcome(res.Success),
		})

		respondOK(c, res)
	}
}

// HandleRemoveUsers removes users in bulk.
func HandleRemoveUsers(svc users.Service, auditor extensions.AuditLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.RemoveUsersRequest
		if !bindJSON(c, &req) {
			return
		}

		res := svc.RemoveUsers(c.Request.Context(), req)

		audit(c, auditor, extensions.AuditEvent{
			EventType:    "user.remove_batch",
			Action:       "remove",
			ResourceType: "user",
			Outcome:      outcome(res.Success),
			Metadata:     map[string]any{"count": len(req.Users)},
		})

		respondOK(c, res)
	}
}

// HandleInboundUsersCount reports how many users the adapter tracks.
func HandleInboundUsersCount(svc users.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.InboundTagRequest
		if !bindOptionalJSON(c, &req) {
			return
		}
		respondOK(c, svc.InboundUsersCount(c.Request.Context(), req.Tag))
	}
}

// HandleInboundUsers lists the users configured on the tunnel.
func HandleInboundUsers(svc users.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.InboundTagRequest
		if !bindOptionalJSON(c, &req) {
			return
		}
		respondOK(c, svc.InboundUsers(c.Request.Context(), req.Tag))
	}
}
