// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package extensions

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"
)

// ============================================================================
// ServiceOptions Tests
// ============================================================================

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()

	if _, ok := opts.AuthProvider.(*NopAuthProvider); !ok {
		t.Error("DefaultOptions().AuthProvider should be *NopAuthProvider")
	}
	if _, ok := opts.AuditLogger.(*NopAuditLogger); !ok {
		t.Error("DefaultOptions().AuditLogger should be *NopAuditLogger")
	}
}

func TestServiceOptions_WithAuth(t *testing.T) {
	original := DefaultOptions()
	custom := &NopAuthProvider{}

	modified := original.WithAuth(custom)

	if modified.AuthProvider != custom {
		t.Error("WithAuth should set the provided AuthProvider")
	}
	if original.AuthProvider == AuthProvider(custom) {
		t.Error("WithAuth should not modify the original options")
	}
}

func TestServiceOptions_WithAudit(t *testing.T) {
	logger := NewSlogAuditLogger(nil)

	opts := DefaultOptions().WithAudit(logger)

	if opts.AuditLogger != logger {
		t.Error("WithAudit should set the provided AuditLogger")
	}
}

func TestServiceOptions_Normalize(t *testing.T) {
	opts := ServiceOptions{}.Normalize()

	if opts.AuthProvider == nil || opts.AuditLogger == nil {
		t.Fatal("Normalize should fill nil fields")
	}

	custom := &NopAuthProvider{}
	opts = ServiceOptions{AuthProvider: custom}.Normalize()
	if opts.AuthProvider != custom {
		t.Error("Normalize should keep configured fields")
	}
}

// ============================================================================
// NopAuthProvider Tests
// ============================================================================

func TestNopAuthProvider_Validate(t *testing.T) {
	provider := &NopAuthProvider{}

	for _, token := range []string{"", "anything", "Bearer x"} {
		info, err := provider.Validate(context.Background(), token)
		if err != nil {
			t.Fatalf("Validate(%q) returned error: %v", token, err)
		}
		if info == nil || info.Subject != "panel" {
			t.Errorf("Validate(%q) = %+v, want subject panel", token, info)
		}
	}
}

func TestErrUnauthorized(t *testing.T) {
	wrapped := fmt.Errorf("token expired: %w", ErrUnauthorized)

	if !errors.Is(wrapped, ErrUnauthorized) {
		t.Error("wrapped error should match ErrUnauthorized")
	}
}

// ============================================================================
// Audit Logger Tests
// ============================================================================

func TestNopAuditLogger(t *testing.T) {
	logger := &NopAuditLogger{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := logger.Log(ctx, AuditEvent{}); err != nil {
		t.Errorf("Log returned error: %v", err)
	}
	if err := logger.Flush(ctx); err != nil {
		t.Errorf("Flush returned error: %v", err)
	}
}

func TestSlogAuditLogger_Log(t *testing.T) {
	var buf bytes.Buffer
	logger := NewSlogAuditLogger(slog.New(slog.NewJSONHandler(&buf, nil)))

	err := logger.Log(context.Background(), AuditEvent{
		EventType:    "user.add",
		Timestamp:    time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
		Subject:      "panel-1",
		Action:       "add",
		ResourceType: "user",
		ResourceID:   "alice",
		Outcome:      "success",
		Metadata:     map[string]any{"source_ip": "10.0.0.1"},
	})
	if err != nil {
		t.Fatalf("Log returned error: %v", err)
	}

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("audit record is not JSON: %v (%s)", err, buf.String())
	}
	want := map[string]any{
		"msg":           "Audit event",
		"audit":         true,
		"event_type":    "user.add",
		"event_time":    "2025-01-02T03:04:05Z",
		"subject":       "panel-1",
		"resource_type": "user",
		"resource_id":   "alice",
		"outcome":       "success",
		"source_ip":     "10.0.0.1",
	}
	for k, v := range want {
		if record[k] != v {
			t.Errorf("record[%q] = %v, want %v", k, record[k], v)
		}
	}
}

func TestSlogAuditLogger_DefaultsTimestamp(t *testing.T) {
	var buf bytes.Buffer
	logger := NewSlogAuditLogger(slog.New(slog.NewJSONHandler(&buf, nil)))

	_ = logger.Log(context.Background(), AuditEvent{EventType: "node.stop"})

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("audit record is not JSON: %v", err)
	}
	if ts, _ := record["event_time"].(string); ts == "" || ts == "0001-01-01T00:00:00Z" {
		t.Errorf("event_time = %q, want current time", ts)
	}
	if _, ok := record["resource_id"]; ok {
		t.Error("empty resource_id should be omitted")
	}
}
