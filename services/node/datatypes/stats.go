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

const (
	// DefaultInboundTag names the single synthetic inbound.
	DefaultInboundTag = "trusttunnel-inbound"

	// DefaultOutboundTag names the single synthetic outbound.
	DefaultOutboundTag = "trusttunnel-outbound"
)

type ResetRequest struct {
	Reset bool `json:"reset"`
}

type TaggedStatsRequest struct {
	Tag   string `json:"tag"`
	Reset bool   `json:"reset"`
}

type UserOnlineRequest struct {
	Username string `json:"username"`
}

type UserOnlineResponse struct {
	IsOnline bool `json:"isOnline"`
}

// UserTraffic is one per-user traffic entry. The tunnel server does not
// report per-user traffic so this list is always empty.
type UserTraffic struct {
	Username string  `json:"username"`
	Downlink float64 `json:"downlink"`
	Uplink   float64 `json:"uplink"`
}

type UsersStatsResponse struct {
	Users []UserTraffic `json:"users"`
}

// SystemStatsResponse keeps the runtime-stats shape the panel expects.
// Values are synthesized from tunnel metrics.
type SystemStatsResponse struct {
	NumGoroutine float64 `json:"numGoroutine"`
	NumGC        float64 `json:"numGC"`
	Alloc        float64 `json:"alloc"`
	TotalAlloc   float64 `json:"totalAlloc"`
	Sys          float64 `json:"sys"`
	Mallocs      float64 `json:"mallocs"`
	Frees        float64 `json:"frees"`
	LiveObjects  float64 `json:"liveObjects"`
	PauseTotalNs float64 `json:"pauseTotalNs"`
	Uptime       float64 `json:"uptime"`
}

type InboundStats struct {
	Inbound  string  `json:"inbound"`
	Downlink float64 `json:"downlink"`
	Uplink   float64 `json:"uplink"`
}

type OutboundStats struct {
	Outbound string  `json:"outbound"`
	Downlink float64 `json:"downlink"`
	Uplink   float64 `json:"uplink"`
}

type AllInboundsStatsResponse struct {
	Inbounds []InboundStats `json:"inbounds"`
}

type AllOutboundsStatsResponse struct {
	Outbounds []OutboundStats `json:"outbounds"`
}

type CombinedStatsResponse struct {
	Inbounds  []InboundStats  `json:"inbounds"`
	Outbounds []OutboundStats `json:"outbounds"`
}
