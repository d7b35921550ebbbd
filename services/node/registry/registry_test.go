// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package registry

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/AleutianAI/TunnelNode/services/node/datatypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Fixtures
// =============================================================================

func testHashes(baseline string, inbounds ...string) datatypes.ConfigHashes {
	h := datatypes.ConfigHashes{EmptyConfig: baseline}
	for i := 0; i+1 < len(inbounds); i += 2 {
		h.Inbounds = append(h.Inbounds, datatypes.InboundHash{Tag: inbounds[i], Hash: inbounds[i+1]})
	}
	return h
}

const twoInboundConfig = `{
  "inbounds": [
    {"tag": "tt-main", "settings": {"clients": [
      {"email": "alice", "id": "uuid-a"},
      {"id": "uuid-b"},
      {"email": "carol", "password": "pw-c"},
      {"email": "", "id": ""},
      {"email": "alice", "id": "uuid-dup"}
    ]}},
    {"tag": "tt-alt", "settings": {"clients": [
      {"email": "dave", "id": "uuid-d"},
      {"email": 42, "id": "uuid-bad"}
    ]}},
    {"tag": "no-settings"},
    "not an object"
  ]
}`

func testSnapshot() Snapshot {
	return Snapshot{
		Hashes: testHashes("base-1", "tt-main", "h1", "tt-alt", "h2"),
		Config: json.RawMessage(twoInboundConfig),
	}
}

// =============================================================================
// BuildPlan
// =============================================================================

func TestBuildPlan_ExtractsUsers(t *testing.T) {
	plan := BuildPlan(testSnapshot())

	assert.Equal(t, []UserRecord{
		{Username: "alice", Secret: "uuid-a"},
		{Username: "uuid-b", Secret: "uuid-b"},
		{Username: "carol", Secret: "pw-c"},
		{Username: "dave", Secret: "uuid-d"},
	}, plan.Users)
	assert.Equal(t, "base-1", plan.Baseline)
	assert.Equal(t, map[string]string{"tt-main": "h1", "tt-alt": "h2"}, plan.Groups)
	// empty client, numeric email, non-object inbound
	assert.Equal(t, 3, plan.Skipped)
}

func TestBuildPlan_FirstOccurrenceWins(t *testing.T) {
	plan := BuildPlan(testSnapshot())

	for _, u := range plan.Users {
		if u.Username == "alice" {
			assert.Equal(t, "uuid-a", u.Secret)
		}
	}
}

func TestBuildPlan_MalformedConfig(t *testing.T) {
	tests := []struct {
		name   string
		config string
	}{
		{"empty", ""},
		{"not json", "{{{"},
		{"array root", `[1,2,3]`},
		{"inbounds not array", `{"inbounds": {"a": 1}}`},
		{"clients not array", `{"inbounds": [{"settings": {"clients": "x"}}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap := Snapshot{Hashes: testHashes("b", "t", "h"), Config: json.RawMessage(tt.config)}

			var plan Plan
			assert.NotPanics(t, func() { plan = BuildPlan(snap) })
			assert.Empty(t, plan.Users)
			assert.Equal(t, "b", plan.Baseline)
			assert.Equal(t, map[string]string{"t": "h"}, plan.Groups)
		})
	}
}

// =============================================================================
// ExtractUsers / Apply
// =============================================================================

func TestExtractUsers_RecordsUsersAndHashes(t *testing.T) {
	reg := New(nil)

	users := reg.ExtractUsers(testSnapshot())

	assert.Len(t, users, 4)
	assert.Equal(t, 4, reg.UserCount())
	assert.True(t, reg.HasBaseline())
	assert.False(t, reg.NeedsReconciliation(testHashes("base-1", "tt-main", "h1", "tt-alt", "h2")))
}

func TestExtractUsers_Idempotent(t *testing.T) {
	reg := New(nil)

	first := reg.ExtractUsers(testSnapshot())
	second := reg.ExtractUsers(testSnapshot())

	assert.Equal(t, first, second)
	assert.Equal(t, len(first), reg.UserCount())
}

func TestExtractUsers_ReplacesPreviousState(t *testing.T) {
	reg := New(nil)
	reg.ExtractUsers(testSnapshot())
	reg.AddUser("manual", "pw")

	reg.ExtractUsers(Snapshot{
		Hashes: testHashes("base-2", "solo", "x"),
		Config: json.RawMessage(`{"inbounds":[{"settings":{"clients":[{"email":"zed","id":"z"}]}}]}`),
	})

	assert.Equal(t, map[string]string{"zed": "z"}, reg.Users())
	ok, _ := reg.ReconcileReason(testHashes("base-2", "solo", "x"))
	assert.False(t, ok)
}

func TestBuildPlan_DoesNotTouchRegistry(t *testing.T) {
	reg := New(nil)

	BuildPlan(testSnapshot())

	assert.Equal(t, 0, reg.UserCount())
	assert.False(t, reg.HasBaseline())
}

// =============================================================================
// NeedsReconciliation
// =============================================================================

func TestReconcileReason(t *testing.T) {
	reg := New(nil)
	reg.ExtractUsers(testSnapshot())

	tests := []struct {
		name     string
		incoming datatypes.ConfigHashes
		needed   bool
		reason   string
	}{
		{"unchanged", testHashes("base-1", "tt-main", "h1", "tt-alt", "h2"), false, ""},
		{"unchanged reordered", testHashes("base-1", "tt-alt", "h2", "tt-main", "h1"), false, ""},
		{"baseline changed", testHashes("base-9", "tt-main", "h1", "tt-alt", "h2"), true, "base configuration changed"},
		{"inbound removed", testHashes("base-1", "tt-main", "h1"), true, "number of inbounds changed from 2 to 1"},
		{"inbound renamed", testHashes("base-1", "tt-main", "h1", "tt-new", "h2"), true, "inbound tt-new is new"},
		{"hash changed", testHashes("base-1", "tt-main", "h1", "tt-alt", "h3"), true, "user configuration changed for inbound tt-alt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			needed, reason := reg.ReconcileReason(tt.incoming)

			assert.Equal(t, tt.needed, needed)
			assert.Equal(t, tt.reason, reason)
			assert.Equal(t, tt.needed, reg.NeedsReconciliation(tt.incoming))
		})
	}
}

func TestNeedsReconciliation_NoBaseline(t *testing.T) {
	reg := New(nil)

	needed, reason := reg.ReconcileReason(testHashes("base-1"))

	assert.True(t, needed)
	assert.Equal(t, "no configuration applied yet", reason)
}

func TestNeedsReconciliation_SingleGroupChangeFlips(t *testing.T) {
	reg := New(nil)
	s1 := testSnapshot()
	reg.ExtractUsers(s1)
	require.False(t, reg.NeedsReconciliation(s1.Hashes))

	s2 := testHashes("base-1", "tt-main", "h1", "tt-alt", "h2-changed")

	assert.True(t, reg.NeedsReconciliation(s2))
}

// =============================================================================
// Mutators
// =============================================================================

func TestAddRemoveUser(t *testing.T) {
	reg := New(nil)

	reg.AddUser("a", "1")
	reg.AddUser("b", "2")
	reg.AddUser("a", "3")
	reg.RemoveUser("b")
	reg.RemoveUser("missing")

	assert.Equal(t, map[string]string{"a": "3"}, reg.Users())
	assert.Equal(t, 1, reg.UserCount())
}

func TestUsers_ReturnsCopy(t *testing.T) {
	reg := New(nil)
	reg.AddUser("a", "1")

	users := reg.Users()
	users["b"] = "2"

	assert.Equal(t, 1, reg.UserCount())
}

func TestCleanup(t *testing.T) {
	reg := New(nil)
	reg.ExtractUsers(testSnapshot())

	reg.Cleanup()

	assert.Equal(t, 0, reg.UserCount())
	assert.False(t, reg.HasBaseline())
	assert.True(t, reg.NeedsReconciliation(testSnapshot().Hashes))
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	reg := New(nil)
	snap := testSnapshot()
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(3)
		go func() {
			defer wg.Done()
			reg.ExtractUsers(snap)
		}()
		go func() {
			defer wg.Done()
			reg.NeedsReconciliation(snap.Hashes)
		}()
		go func() {
			defer wg.Done()
			_ = reg.UserCount()
			_ = reg.Users()
		}()
	}
	wg.Wait()

	assert.Equal(t, 4, reg.UserCount())
}
