// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package registry keeps the adapter's in-memory mirror of the applied
// configuration: the user set and the content hashes it was built from.
//
// # Description
//
// The registry answers one question cheaply: does an incoming snapshot
// differ from what was last applied? It does so by comparing the panel's
// content hashes (one baseline hash plus one hash per inbound) instead of
// diffing configuration bodies.
//
// Extraction is split in two so a failed reconcile never records state:
//
//	plan := BuildPlan(snapshot)   // pure, no registry access
//	...remote sync, restart, verify...
//	reg.Apply(plan)               // atomic commit of users and hashes
//
// ExtractUsers performs both steps at once for callers that do not need
// the split.
//
// # Thread Safety
//
// Registry is safe for concurrent use. Reads observe either the state
// before or after an Apply, never a mix.
package registry

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/AleutianAI/TunnelNode/services/node/datatypes"
)

// =============================================================================
// Types
// =============================================================================

// UserRecord is one tunnel user. Username is the natural key.
type UserRecord struct {
	Username string `json:"username"`
	Secret   string `json:"password"`
}

// Snapshot is a configuration push from the panel, reduced to what the
// registry needs.
type Snapshot struct {
	Hashes datatypes.ConfigHashes
	Config json.RawMessage
}

// Plan is the registry state a snapshot would produce once applied.
type Plan struct {
	// Users in first-seen order, deduplicated by username.
	Users []UserRecord

	// Baseline is the snapshot's emptyConfig hash.
	Baseline string

	// Groups maps inbound tag to content hash.
	Groups map[string]string

	// Skipped counts client entries dropped as malformed or incomplete.
	Skipped int
}

// Registry is the in-memory mirror of applied state.
type Registry struct {
	mu       sync.RWMutex
	users    map[string]string
	baseline string
	groups   map[string]string
	logger   *slog.Logger
}

// New creates an empty registry in the "never configured" state.
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		users:  make(map[string]string),
		groups: make(map[string]string),
		logger: logger.With("component", "registry"),
	}
}

// =============================================================================
// Extraction
// =============================================================================

// BuildPlan extracts the desired user set and hashes from a snapshot.
//
// # Description
//
// Walks inbounds[].settings.clients[] of the snapshot's config. For each
// client the username is the email, falling back to the id; the secret is
// the id, falling back to the password. Clients missing either value are
// skipped. A username seen twice keeps its first secret.
//
// Any shape deviation (config not an object, inbounds not an array, a
// client field of the wrong type) skips the offending unit only.
//
// # Inputs
//
//   - snap: Snapshot received from the panel.
//
// # Outputs
//
//   - Plan: Users and hashes to record once the snapshot is applied.
//
// # Examples
//
//	plan := registry.BuildPlan(registry.Snapshot{Hashes: h, Config: raw})
//	fmt.Println(len(plan.Users), plan.Skipped)
//
// # Limitations
//
//   - Inbounds with duplicate tags collapse to one group hash, which makes
//     every later NeedsReconciliation call report a count mismatch.
func BuildPlan(snap Snapshot) Plan {
	plan := Plan{
		Baseline: snap.Hashes.EmptyConfig,
		Groups:   make(map[string]string, len(snap.Hashes.Inbounds)),
	}
	for _, in := range snap.Hashes.Inbounds {
		plan.Groups[in.Tag] = in.Hash
	}

	var doc struct {
		Inbounds []json.RawMessage `json:"inbounds"`
	}
	if len(snap.Config) == 0 || json.Unmarshal(snap.Config, &doc) != nil {
		return plan
	}

	seen := make(map[string]struct{})
	for _, rawInbound := range doc.Inbounds {
		var inbound struct {
			Settings struct {
				Clients []json.RawMessage `json:"clients"`
			} `json:"settings"`
		}
		if json.Unmarshal(rawInbound, &inbound) != nil {
			plan.Skipped++
			continue
		}

		for _, rawClient := range inbound.Settings.Clients {
			var client struct {
				Email    string `json:"email"`
				ID       string `json:"id"`
				Password string `json:"password"`
			}
			if json.Unmarshal(rawClient, &client) != nil {
				plan.Skipped++
				continue
			}

			username := firstNonEmpty(client.Email, client.ID)
			secret := firstNonEmpty(client.ID, client.Password)
			if username == "" || secret == "" {
				plan.Skipped++
				continue
			}
			if _, dup := seen[username]; dup {
				continue
			}
			seen[username] = struct{}{}
			plan.Users = append(plan.Users, UserRecord{Username: username, Secret: secret})
		}
	}
	return plan
}

// Apply replaces users, baseline and group hashes with the plan's contents
// in one step.
func (r *Registry) Apply(plan Plan) {
	users := make(map[string]string, len(plan.Users))
	for _, u := range plan.Users {
		users[u.Username] = u.Secret
	}
	groups := make(map[string]string, len(plan.Groups))
	for tag, hash := range plan.Groups {
		groups[tag] = hash
	}

	r.mu.Lock()
	r.users = users
	r.baseline = plan.Baseline
	r.groups = groups
	r.mu.Unlock()

	r.logger.Info("Applied configuration",
		"users", len(users),
		"inbounds", len(groups),
		"skipped_clients", plan.Skipped,
	)
}

// ExtractUsers builds a plan from snap and applies it immediately.
//
// # Description
//
// Replace semantics: the registry afterwards holds exactly the snapshot's
// users and hashes. Calling it twice with the same snapshot yields the same
// user set.
//
// # Outputs
//
//   - []UserRecord: Extracted users in first-seen order.
func (r *Registry) ExtractUsers(snap Snapshot) []UserRecord {
	plan := BuildPlan(snap)
	r.Apply(plan)
	return plan.Users
}

// =============================================================================
// Change Detection
// =============================================================================

// NeedsReconciliation reports whether incoming differs from the applied
// hashes. Each positive branch logs its reason.
func (r *Registry) NeedsReconciliation(incoming datatypes.ConfigHashes) bool {
	needed, reason := r.ReconcileReason(incoming)
	if needed {
		r.logger.Warn("Reconciliation required", "reason", reason)
	} else {
		r.logger.Info("Configuration is up-to-date, no restart required")
	}
	return needed
}

// ReconcileReason is the predicate behind NeedsReconciliation.
//
// # Description
//
// Checks, in order: a baseline exists; the baseline matches; the number
// of inbounds matches; every incoming inbound hash matches the recorded
// one. The first failing check decides.
//
// # Outputs
//
//   - bool: True if reconciliation is required.
//   - string: Human-readable reason, empty when up to date.
func (r *Registry) ReconcileReason(incoming datatypes.ConfigHashes) (bool, string) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.baseline == "" {
		return true, "no configuration applied yet"
	}
	if incoming.EmptyConfig != r.baseline {
		return true, "base configuration changed"
	}
	if len(incoming.Inbounds) != len(r.groups) {
		return true, fmt.Sprintf("number of inbounds changed from %d to %d", len(r.groups), len(incoming.Inbounds))
	}
	for _, in := range incoming.Inbounds {
		current, ok := r.groups[in.Tag]
		if !ok {
			return true, fmt.Sprintf("inbound %s is new", in.Tag)
		}
		if current != in.Hash {
			return true, fmt.Sprintf("user configuration changed for inbound %s", in.Tag)
		}
	}
	return false, ""
}

// HasBaseline reports whether any configuration has been applied.
func (r *Registry) HasBaseline() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.baseline != ""
}

// =============================================================================
// Direct Mutators
// =============================================================================

// AddUser records or replaces a single user.
func (r *Registry) AddUser(username, secret string) {
	r.mu.Lock()
	r.users[username] = secret
	r.mu.Unlock()
}

// RemoveUser forgets a user. Unknown names are ignored.
func (r *Registry) RemoveUser(username string) {
	r.mu.Lock()
	delete(r.users, username)
	r.mu.Unlock()
}

// UserCount returns the number of tracked users.
func (r *Registry) UserCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}

// Users returns a copy of the tracked users.
func (r *Registry) Users() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.users))
	for k, v := range r.users {
		out[k] = v
	}
	return out
}

// Cleanup returns the registry to the "never configured" state.
func (r *Registry) Cleanup() {
	r.mu.Lock()
	r.users = make(map[string]string)
	r.baseline = ""
	r.groups = make(map[string]string)
	r.mu.Unlock()

	r.logger.Info("Registry cleared")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
