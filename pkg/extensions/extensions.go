// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package extensions defines the pluggable seams of the node service.
//
// The node runs with no-op defaults: every panel request is accepted and
// no audit trail is kept. Deployments that expose the node on a public
// address inject a JWTAuthProvider and an audit logger via ServiceOptions.
//
// # Extension Categories
//
//   - auth.go: Caller authentication (AuthProvider)
//   - jwt.go: Panel-signed JWT verification (JWTAuthProvider)
//   - audit.go: Control-plane audit events (AuditLogger)
//
// # Usage
//
//	opts := extensions.DefaultOptions()
//	if key := cfg.Auth.PublicKey; key != "" {
//	    provider, err := extensions.NewJWTAuthProvider(extensions.JWTConfig{PublicKey: key})
//	    if err != nil {
//	        return err
//	    }
//	    opts = opts.WithAuth(provider)
//	}
//	svc, err := node.New(cfg, &opts)
//
// # Thread Safety
//
// All implementations must be safe for concurrent use.
package extensions

// ServiceOptions groups the extension points passed to service constructors.
//
// Nil fields are replaced with no-op defaults by the services that read
// them.
type ServiceOptions struct {
	// AuthProvider validates panel tokens.
	// Default: NopAuthProvider (accepts every request)
	AuthProvider AuthProvider

	// AuditLogger records control-plane mutations.
	// Default: NopAuditLogger (discards all events)
	AuditLogger AuditLogger
}

// DefaultOptions returns ServiceOptions with no-op defaults.
func DefaultOptions() ServiceOptions {
	return ServiceOptions{
		AuthProvider: &NopAuthProvider{},
		AuditLogger:  &NopAuditLogger{},
	}
}

// WithAuth returns a copy of opts with the given AuthProvider.
func (opts ServiceOptions) WithAuth(provider AuthProvider) ServiceOptions {
	opts.AuthProvider = provider
	return opts
}

// WithAudit returns a copy of opts with the given AuditLogger.
func (opts ServiceOptions) WithAudit(logger AuditLogger) ServiceOptions {
	opts.AuditLogger = logger
	return opts
}

// Normalize fills nil fields with their no-op defaults.
func (opts ServiceOptions) Normalize() ServiceOptions {
	if opts.AuthProvider == nil {
		opts.AuthProvider = &NopAuthProvider{}
	}
	if opts.AuditLogger == nil {
		opts.AuditLogger = &NopAuditLogger{}
	}
	return opts
}
