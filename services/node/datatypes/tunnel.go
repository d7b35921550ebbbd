// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import "encoding/json"

// VersionLabel is reported to the panel in place of an engine version.
const VersionLabel = "TrustTunnel"

// StartRequest is the configuration snapshot pushed by the panel.
type StartRequest struct {
	Internals  Internals       `json:"internals"`
	XrayConfig json.RawMessage `json:"xrayConfig" binding:"required"`
}

type Internals struct {
	ForceRestart bool         `json:"forceRestart"`
	Hashes       ConfigHashes `json:"hashes"`
}

// ConfigHashes carries the panel's content hashes for change detection.
// EmptyConfig covers everything except inbounds; each inbound has its own hash.
type ConfigHashes struct {
	EmptyConfig string        `json:"emptyConfig"`
	Inbounds    []InboundHash `json:"inbounds" binding:"dive"`
}

type InboundHash struct {
	Tag        string `json:"tag" binding:"required"`
	Hash       string `json:"hash"`
	UsersCount int    `json:"usersCount,omitempty"`
}

type NodeInformation struct {
	Version string `json:"version"`
}

// SystemInformation describes the host the adapter runs on.
type SystemInformation struct {
	CPUCores    int    `json:"cpuCores"`
	CPUModel    string `json:"cpuModel"`
	MemoryTotal string `json:"memoryTotal"`
}

type StartResponse struct {
	IsStarted         bool               `json:"isStarted"`
	Version           *string            `json:"version"`
	Error             *string            `json:"error"`
	SystemInformation *SystemInformation `json:"systemInformation"`
	NodeInformation   NodeInformation    `json:"nodeInformation"`
}

type StopResponse struct {
	IsStopped bool `json:"isStopped"`
}

type StatusResponse struct {
	IsRunning bool    `json:"isRunning"`
	Version   *string `json:"version"`
}

type HealthCheckResponse struct {
	IsAlive                bool    `json:"isAlive"`
	TTInternalStatusCached bool    `json:"ttInternalStatusCached"`
	TTVersion              *string `json:"ttVersion"`
	NodeVersion            string  `json:"nodeVersion"`
}

// StringPtr returns nil for an empty string.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
