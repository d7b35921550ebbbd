// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package wrapper

// =============================================================================
// Result Envelope
// =============================================================================

// Result is the uniform outcome of a wrapper call.
//
// # Description
//
// The wrapper answers every JSON endpoint with {success, message?, data?}.
// The client also uses this shape for its own failures (timeouts, non-2xx,
// undecodable bodies) so callers only ever branch on Success.
//
// # Examples
//
//	res := client.Status(ctx)
//	if res.Success && res.Data != nil && res.Data.Running {
//	    // tunnel is up
//	}
type Result[T any] struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    *T     `json:"data,omitempty"`
}

// Empty is the payload type for operations that carry no data.
type Empty struct{}

func failure[T any](message string) Result[T] {
	return Result[T]{Success: false, Message: message}
}

// =============================================================================
// Payloads
// =============================================================================

// ProcessStatus is the wrapper's view of the tunnel process.
type ProcessStatus struct {
	Running    bool   `json:"running"`
	PID        *int   `json:"pid,omitempty"`
	UptimeSecs *int64 `json:"uptime_secs,omitempty"`
}

// RemoteUser is one entry of the wrapper's user list.
type RemoteUser struct {
	Username string `json:"username"`
}

// UserCredential is a username/password pair sent to the wrapper.
type UserCredential struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// ConfigBundle carries the tunnel server's TOML configuration files.
type ConfigBundle struct {
	VPNToml         string `json:"vpn_toml"`
	HostsToml       string `json:"hosts_toml"`
	CredentialsToml string `json:"credentials_toml,omitempty"`
}

type batchAddRequest struct {
	Users []UserCredential `json:"users"`
}

type batchRemoveRequest struct {
	Usernames []string `json:"usernames"`
}

// errorBody is the wrapper's error payload on non-2xx responses.
type errorBody struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}
