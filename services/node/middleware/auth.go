// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware provides HTTP middleware for the node service.
//
// # Authentication Flow
//
// The auth middleware extracts a bearer token from the Authorization header,
// validates it with the configured AuthProvider, and stores the resulting
// AuthInfo in the Gin context for downstream handlers.
//
//	Panel request
//	   │
//	   ▼
//	AuthMiddleware
//	   │
//	   ├─► Extract token from "Authorization: Bearer <token>"
//	   │
//	   ├─► provider.Validate(ctx, token)
//	   │
//	   └─► Store AuthInfo in context
//	           │
//	           ▼
//	       Handler (retrieves via GetAuthInfo)
//
// # Default Behavior
//
// With NopAuthProvider every request is accepted as subject "panel". This
// is only appropriate when the node listens on a private network.
package middleware

import (
	"errors"
	"strings"

	"github.com/AleutianAI/TunnelNode/pkg/extensions"
	"github.com/AleutianAI/TunnelNode/services/node/datatypes"
	"github.com/gin-gonic/gin"
)

// =============================================================================
// Context Keys
// =============================================================================

const authInfoKey = "ttnode_auth_info"

// =============================================================================
// Context Helpers
// =============================================================================

// SetAuthInfo stores the authenticated caller in the Gin context.
func SetAuthInfo(c *gin.Context, info *extensions.AuthInfo) {
	c.Set(authInfoKey, info)
}

// GetAuthInfo returns the caller stored by AuthMiddleware, or nil.
func GetAuthInfo(c *gin.Context) *extensions.AuthInfo {
	info, _ := c.Value(authInfoKey).(*extensions.AuthInfo)
	return info
}

// Subject returns the authenticated subject, or "anonymous".
func Subject(c *gin.Context) string {
	if info := GetAuthInfo(c); info != nil && info.Subject != "" {
		return info.Subject
	}
	return "anonymous"
}

// =============================================================================
// Auth Middleware
// =============================================================================

// AuthMiddleware creates a Gin middleware that authenticates panel requests.
//
// # Description
//
// Extracts the bearer token, validates it with the provider, and stores
// the resulting AuthInfo in the context. Failures abort with 401 and the
// panel error envelope {"message", "errorCode":"A003"}.
//
// # Inputs
//
//   - provider: AuthProvider to validate tokens. Nil means NopAuthProvider.
//
// # Outputs
//
//   - gin.HandlerFunc: Middleware ready for use with Gin
//
// # Examples
//
//	node := router.Group("/node")
//	node.Use(middleware.AuthMiddleware(opts.AuthProvider))
//
// # Limitations
//
//   - Only Bearer tokens are supported
//   - Validation results are not cached
//
// # Thread Safety
//
// Thread-safe. The returned middleware can be used concurrently.
func AuthMiddleware(provider extensions.AuthProvider) gin.HandlerFunc {
	if provider == nil {
		provider = &extensions.NopAuthProvider{}
	}
	return func(c *gin.Context) {
		token := extractBearerToken(c)

		authInfo, err := provider.Validate(c.Request.Context(), token)
		if err != nil {
			reason := "authentication failed"
			if errors.Is(err, extensions.ErrUnauthorized) {
				reason = "unauthorized"
			}
			LoggerFrom(c).Warn("Rejected panel request",
				"path", c.FullPath(),
				"client_ip", c.ClientIP(),
				"token_present", token != "",
				"reason", reason,
			)
			c.AbortWithStatusJSON(datatypes.ErrUnauthorized.HTTPStatus, datatypes.ErrUnauthorized)
			return
		}

		SetAuthInfo(c, authInfo)
		c.Next()
	}
}

// =============================================================================
// Helper Functions
// =============================================================================

// extractBearerToken returns the token from "Authorization: Bearer <token>",
// or "" when the header is missing or uses another scheme. The scheme is
// matched case-insensitively per RFC 7235.
func extractBearerToken(c *gin.Context) string {
	scheme, token, ok := strings.Cut(c.GetHeader("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
