// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package extensions

import (
	"context"
	"errors"
)

// ErrUnauthorized is returned when a caller could not be authenticated.
// Providers wrap it with the specific cause:
//
//	return nil, fmt.Errorf("token expired: %w", extensions.ErrUnauthorized)
var ErrUnauthorized = errors.New("unauthorized")

// AuthInfo identifies an authenticated caller.
//
// Subject is always populated. Issuer and Claims are filled by token-based
// providers and empty for NopAuthProvider.
type AuthInfo struct {
	// Subject is the caller's identity, typically the panel's node id.
	Subject string

	// Issuer is the token issuer, if any.
	Issuer string

	// Claims holds additional token claims.
	Claims map[string]any
}

// AuthProvider validates a bearer token and returns the caller identity.
//
// Implementations must be safe for concurrent use.
//
// # Open Source Behavior
//
// NopAuthProvider accepts every request. It is the default when no panel
// public key is configured, for nodes reachable only over a private link.
//
// # Token Behavior
//
// JWTAuthProvider verifies panel-signed JWTs against a configured public
// key.
type AuthProvider interface {
	// Validate checks the token and returns the caller identity.
	//
	// Returns ErrUnauthorized (possibly wrapped) for rejected tokens and
	// other errors for provider failures.
	Validate(ctx context.Context, token string) (*AuthInfo, error)
}

// NopAuthProvider accepts every token, including an empty one.
type NopAuthProvider struct{}

// Validate always returns the anonymous panel identity.
func (p *NopAuthProvider) Validate(_ context.Context, _ string) (*AuthInfo, error) {
	return &AuthInfo{Subject: "panel"}, nil
}

var _ AuthProvider = (*NopAuthProvider)(nil)
