// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package extensions

import (
	"context"
	"log/slog"
	"time"
)

// AuditEvent records one control-plane mutation.
//
// Example:
//
//	event := AuditEvent{
//	    EventType:    "node.start",
//	    Timestamp:    time.Now(),
//	    Subject:      authInfo.Subject,
//	    Action:       "reconcile",
//	    ResourceType: "tunnel",
//	    Outcome:      "applied",
//	    Metadata:     map[string]any{"source_ip": "10.0.0.1"},
//	}
type AuditEvent struct {
	// EventType names the event, e.g. "node.start", "user.add".
	EventType string

	// Timestamp is when the event occurred. Zero means now.
	Timestamp time.Time

	// Subject is the authenticated caller.
	Subject string

	// Action is the operation attempted.
	Action string

	// ResourceType is the kind of resource touched: "tunnel", "user", "ip".
	ResourceType string

	// ResourceID identifies the resource, if any.
	ResourceID string

	// Outcome is "success", "failure" or an engine outcome.
	Outcome string

	// Metadata holds event-specific fields.
	Metadata map[string]any
}

// AuditLogger records control-plane events.
//
// Implementations must be safe for concurrent use and must not block the
// request path for long.
type AuditLogger interface {
	// Log records an event. Errors are reported but never fail the request.
	Log(ctx context.Context, event AuditEvent) error

	// Flush writes any buffered events.
	Flush(ctx context.Context) error
}

// NopAuditLogger discards every event.
type NopAuditLogger struct{}

func (l *NopAuditLogger) Log(_ context.Context, _ AuditEvent) error { return nil }

func (l *NopAuditLogger) Flush(_ context.Context) error { return nil }

// SlogAuditLogger writes events as structured log records.
type SlogAuditLogger struct {
	logger *slog.Logger
}

// NewSlogAuditLogger creates an audit logger on top of logger.
func NewSlogAuditLogger(logger *slog.Logger) *SlogAuditLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogAuditLogger{logger: logger.With("audit", true)}
}

// Log emits the event at Info level.
func (l *SlogAuditLogger) Log(ctx context.Context, event AuditEvent) error {
	ts := event.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	attrs := []any{
		"event_type", event.EventType,
		"event_time", ts.UTC().Format(time.RFC3339Nano),
		"subject", event.Subject,
		"action", event.Action,
		"resource_type", event.ResourceType,
		"outcome", event.Outcome,
	}
	if event.ResourceID != "" {
		attrs = append(attrs, "resource_id", event.ResourceID)
	}
	for k, v := range event.Metadata {
		attrs = append(attrs, k, v)
	}
	l.logger.InfoContext(ctx, "Audit event", attrs...)
	return nil
}

// Flush is a no-op; slog handlers write synchronously.
func (l *SlogAuditLogger) Flush(_ context.Context) error { return nil }

var (
	_ AuditLogger = (*NopAuditLogger)(nil)
	_ AuditLogger = (*SlogAuditLogger)(nil)
)
