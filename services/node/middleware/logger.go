// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package middleware

import (
	"log/slog"

	"github.com/gin-gonic/gin"
)

const loggerKey = "ttnode_logger"

// RequestLogger stores logger in every request context so handlers log
// through the service logger instead of the process default.
//
// Register it before any route that calls LoggerFrom. A nil logger stores
// slog.Default().
func RequestLogger(logger *slog.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(c *gin.Context) {
		c.Set(loggerKey, logger)
		c.Next()
	}
}

// LoggerFrom returns the logger stored by RequestLogger, or slog.Default()
// when none is set.
func LoggerFrom(c *gin.Context) *slog.Logger {
	if logger, ok := c.Value(loggerKey).(*slog.Logger); ok && logger != nil {
		return logger
	}
	return slog.Default()
}
