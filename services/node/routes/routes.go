// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"log/slog"

	"github.com/AleutianAI/TunnelNode/pkg/extensions"
	"github.com/AleutianAI/TunnelNode/services/node/handlers"
	"github.com/AleutianAI/TunnelNode/services/node/middleware"
	"github.com/AleutianAI/TunnelNode/services/node/users"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Deps are the components the routes dispatch to.
type Deps struct {
	Tunnel  handlers.Tunnel
	Users   users.Service
	Stats   handlers.Stats
	Counter handlers.UserCounter

	// Gatherer backs /metrics. Nil skips the route.
	Gatherer prometheus.Gatherer

	// Logger is handed to every handler through the request context.
	// Nil means slog.Default().
	Logger *slog.Logger
}

// SetupRoutes registers every node route on router.
//
// /node and /vision are panel routes behind AuthMiddleware. /health,
// /metrics and /internal are unauthenticated and meant for local probes.
func SetupRoutes(router *gin.Engine, deps Deps, opts extensions.ServiceOptions) {
	opts = opts.Normalize()
	router.Use(middleware.RequestLogger(deps.Logger))

	router.GET("/health", handlers.HealthCheck)
	if deps.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}
	router.GET("/internal/get-config", handlers.HandleInternalConfig(deps.Counter))

	auth := middleware.AuthMiddleware(opts.AuthProvider)

	node := router.Group("/node", auth)
	{
		tt := node.Group("/tt")
		{
			tt.POST("/start", handlers.HandleStart(deps.Tunnel, opts.AuditLogger))
			tt.GET("/stop", handlers.HandleStop(deps.Tunnel, opts.AuditLogger))
			tt.GET("/status", handlers.HandleStatus(deps.Tunnel))
			tt.GET("/healthcheck", handlers.HandleHealthCheck(deps.Tunnel))
		}

		handler := node.Group("/handler")
		{
			handler.POST("/add-user", handlers.HandleAddUser(deps.Users, opts.AuditLogger))
			handler.POST("/add-users", handlers.HandleAddUsers(deps.Users, opts.AuditLogger))
			handler.POST("/remove-user", handlers.HandleRemoveUser(deps.Users, opts.AuditLogger))
			handler.POST("/remove-users", handlers.HandleRemoveUsers(deps.Users, opts.AuditLogger))
			handler.POST("/get-inbound-users-count", handlers.HandleInboundUsersCount(deps.Users))
			handler.POST("/get-inbound-users", handlers.HandleInboundUsers(deps.Users))
		}

		stats := node.Group("/stats")
		{
			stats.POST("/get-user-online-status", handlers.HandleUserOnlineStatus(deps.Stats))
			stats.POST("/get-users-stats", handlers.HandleUsersStats(deps.Stats))
			stats.GET("/get-system-stats", handlers.HandleSystemStats(deps.Stats))
			stats.POST("/get-inbound-stats", handlers.HandleInboundStats(deps.Stats))
			stats.POST("/get-outbound-stats", handlers.HandleOutboundStats(deps.Stats))
			stats.POST("/get-all-inbounds-stats", handlers.HandleAllInboundsStats(deps.Stats))
			stats.POST("/get-all-outbounds-stats", handlers.HandleAllOutboundsStats(deps.Stats))
			stats.POST("/get-combined-stats", handlers.HandleCombinedStats(deps.Stats))
		}
	}

	vision := router.Group("/vision", auth)
	{
		vision.POST("/block-ip", handlers.HandleBlockIP(opts.AuditLogger))
		vision.POST("/unblock-ip", handlers.HandleUnblockIP(opts.AuditLogger))
	}
}
