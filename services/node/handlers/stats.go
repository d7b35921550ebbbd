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

	"github.com/AleutianAI/TunnelNode/services/node/datatypes"
	"github.com/AleutianAI/TunnelNode/services/node/middleware"
	"github.com/AleutianAI/TunnelNode/services/node/stats"
	"github.com/gin-gonic/gin"
)

// Stats is the panel-facing view of the stats aggregator.
type Stats interface {
	UserOnline(ctx context.Context, username string) datatypes.UserOnlineResponse
	SystemStats(ctx context.Context) (datatypes.SystemStatsResponse, error)
	UsersStats(ctx context.Context, reset bool) datatypes.UsersStatsResponse
	InboundStats(ctx context.Context, tag string, reset bool) (datatypes.InboundStats, error)
	OutboundStats(ctx context.Context, tag string, reset bool) (datatypes.OutboundStats, error)
	AllInbounds(ctx context.Context, reset bool) (datatypes.AllInboundsStatsResponse, error)
	AllOutbounds(ctx context.Context, reset bool) (datatypes.AllOutboundsStatsResponse, error)
	Combined(ctx context.Context, reset bool) (datatypes.CombinedStatsResponse, error)
}

var _ Stats = (*stats.Aggregator)(nil)

// respondStats answers payload, or code when the metrics read failed.
func respondStats[T any](c *gin.Context, payload T, err error, code datatypes.ErrorCode) {
	if err != nil {
		middleware.LoggerFrom(c).Warn("Stats query failed",
			"path", c.FullPath(),
			"error_code", code.Code,
			"error", err,
		)
		respondError(c, code)
		return
	}
	respondOK(c, payload)
}

// HandleUserOnlineStatus reports whether any client session is active.
func HandleUserOnlineStatus(s Stats) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.UserOnlineRequest
		if !bindOptionalJSON(c, &req) {
			return
		}
		respondOK(c, s.UserOnline(c.Request.Context(), req.Username))
	}
}

// HandleUsersStats always answers an empty list.
func HandleUsersStats(s Stats) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.ResetRequest
		if !bindOptionalJSON(c, &req) {
			return
		}
		respondOK(c, s.UsersStats(c.Request.Context(), req.Reset))
	}
}

func HandleSystemStats(s Stats) gin.HandlerFunc {
	return func(c *gin.Context) {
		payload, err := s.SystemStats(c.Request.Context())
		respondStats(c, payload, err, datatypes.ErrFailedToGetSystemStats)
	}
}

func HandleInboundStats(s Stats) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.TaggedStatsRequest
		if !bindOptionalJSON(c, &req) {
			return
		}
		payload, err := s.InboundStats(c.Request.Context(), req.Tag, req.Reset)
		respondStats(c, payload, err, datatypes.ErrFailedToGetInboundStats)
	}
}

func HandleOutboundStats(s Stats) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.TaggedStatsRequest
		if !bindOptionalJSON(c, &req) {
			return
		}
		payload, err := s.OutboundStats(c.Request.Context(), req.Tag, req.Reset)
		respondStats(c, payload, err, datatypes.ErrFailedToGetOutboundStats)
	}
}

func HandleAllInboundsStats(s Stats) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.ResetRequest
		if !bindOptionalJSON(c, &req) {
			return
		}
		payload, err := s.AllInbounds(c.Request.Context(), req.Reset)
		respondStats(c, payload, err, datatypes.ErrFailedToGetInboundsStats)
	}
}

func HandleAllOutboundsStats(s Stats) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.ResetRequest
		if !bindOptionalJSON(c, &req) {
			return
		}
		payload, err := s.AllOutbounds(c.Request.Context(), req.Reset)
		respondStats(c, payload, err, datatypes.ErrFailedToGetOutboundsStats)
	}
}

func HandleCombinedStats(s Stats) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.ResetRequest
		if !bindOptionalJSON(c, &req) {
			return
		}
		payload, err := s.Combined(c.Request.Context(), req.Reset)
		respondStats(c, payload, err, datatypes.ErrFailedToGetCombinedStats)
	}
}
