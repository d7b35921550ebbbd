// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package stats answers the panel's traffic and system statistics queries
// from the tunnel's Prometheus exposition.
//
// # Description
//
// The tunnel only exposes aggregate counters: client sessions, inbound and
// outbound byte totals, and outbound socket gauges. There is no per-user
// traffic and no runtime profile, so those queries return empty or zeroed
// payloads in the shape the panel expects.
//
// Byte counters support delta-since-reset reads. The first reset read
// records a baseline and returns absolute values; each later reset read
// returns current minus baseline and moves the baseline forward. A negative
// delta means the tunnel's counters restarted and is reported unchanged.
//
// # Thread Safety
//
// Aggregator is safe for concurrent use. Concurrent reset reads are
// serialized so each observes a distinct baseline.
package stats

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/AleutianAI/TunnelNode/services/node/datatypes"
	"github.com/AleutianAI/TunnelNode/services/node/exposition"
)

// ErrMetricsUnavailable is returned when the wrapper's metrics endpoint
// could not be read.
var ErrMetricsUnavailable = errors.New("tunnel metrics unavailable")

// Source fetches the raw exposition text. *wrapper.Client satisfies it.
type Source interface {
	Metrics(ctx context.Context) (string, bool)
}

// Aggregator computes panel statistics from tunnel metrics.
type Aggregator struct {
	source Source
	logger *slog.Logger

	mu       sync.Mutex
	previous *exposition.Snapshot
}

// NewAggregator creates an aggregator with no baseline.
func NewAggregator(source Source, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{
		source: source,
		logger: logger.With("component", "stats"),
	}
}

// =============================================================================
// Snapshots
// =============================================================================

// Current fetches and decodes metrics without touching the baseline.
func (a *Aggregator) Current(ctx context.Context) (exposition.Snapshot, error) {
	raw, ok := a.source.Metrics(ctx)
	if !ok {
		a.logger.Warn("Failed to fetch tunnel metrics")
		return exposition.Snapshot{}, ErrMetricsUnavailable
	}
	return exposition.Decode(raw), nil
}

// Snapshot returns current metrics, or the byte-counter delta since the
// previous reset read when reset is true.
//
// # Description
//
// With reset and an existing baseline, inbound and outbound byte counters
// are returned as current minus baseline. Session and socket gauges are
// always instantaneous. Any reset read makes the current snapshot the new
// baseline. A read without reset never touches the baseline.
//
// # Inputs
//
//   - ctx: Bounds the metrics fetch.
//   - reset: Request delta semantics.
//
// # Outputs
//
//   - exposition.Snapshot: Absolute or delta values.
//   - error: ErrMetricsUnavailable if the fetch failed. The baseline is
//     left unchanged in that case.
//
// # Examples
//
//	first, _ := agg.Snapshot(ctx, true)  // absolute, baseline recorded
//	delta, _ := agg.Snapshot(ctx, true)  // bytes since first
func (a *Aggregator) Snapshot(ctx context.Context, reset bool) (exposition.Snapshot, error) {
	if !reset {
		return a.Current(ctx)
	}

	// Held across the fetch so concurrent reset reads cannot share a baseline.
	a.mu.Lock()
	defer a.mu.Unlock()

	raw, ok := a.source.Metrics(ctx)
	if !ok {
		a.logger.Warn("Failed to fetch tunnel metrics")
		return exposition.Snapshot{}, ErrMetricsUnavailable
	}
	current := exposition.Decode(raw)

	out := current
	if a.previous != nil {
		out.InboundTrafficBytes = current.InboundTrafficBytes - a.previous.InboundTrafficBytes
		out.OutboundTrafficBytes = current.OutboundTrafficBytes - a.previous.OutboundTrafficBytes
		if out.InboundTrafficBytes < 0 || out.OutboundTrafficBytes < 0 {
			a.logger.Warn("Negative traffic delta, tunnel counters were reset",
				"inbound_delta", out.InboundTrafficBytes,
				"outbound_delta", out.OutboundTrafficBytes,
			)
		}
	}
	baseline := current
	a.previous = &baseline
	return out, nil
}

// =============================================================================
// Panel Queries
// =============================================================================

// UserOnline reports whether any client session is active. The tunnel
// does not track sessions per user, and a failed fetch reports offline.
func (a *Aggregator) UserOnline(ctx context.Context, username string) datatypes.UserOnlineResponse {
	snap, err := a.Current(ctx)
	if err != nil {
		return datatypes.UserOnlineResponse{IsOnline: false}
	}
	return datatypes.UserOnlineResponse{IsOnline: snap.ClientSessions > 0}
}

// SystemStats maps tunnel gauges onto the panel's runtime-stats shape.
func (a *Aggregator) SystemStats(ctx context.Context) (datatypes.SystemStatsResponse, error) {
	snap, err := a.Current(ctx)
	if err != nil {
		return datatypes.SystemStatsResponse{}, err
	}
	return datatypes.SystemStatsResponse{
		NumGoroutine: snap.OutboundTCPSockets + snap.OutboundUDPSockets,
		TotalAlloc:   snap.InboundTrafficBytes + snap.OutboundTrafficBytes,
		LiveObjects:  snap.ClientSessions,
	}, nil
}

// UsersStats is always empty.
func (a *Aggregator) UsersStats(ctx context.Context, reset bool) datatypes.UsersStatsResponse {
	return datatypes.UsersStatsResponse{Users: []datatypes.UserTraffic{}}
}

// InboundStats reports tunnel traffic under tag, or the default inbound tag.
func (a *Aggregator) InboundStats(ctx context.Context, tag string, reset bool) (datatypes.InboundStats, error) {
	snap, err := a.Snapshot(ctx, reset)
	if err != nil {
		return datatypes.InboundStats{}, err
	}
	if tag == "" {
		tag = datatypes.DefaultInboundTag
	}
	return inbound(tag, snap), nil
}

// OutboundStats reports tunnel traffic under tag, or the default outbound tag.
func (a *Aggregator) OutboundStats(ctx context.Context, tag string, reset bool) (datatypes.OutboundStats, error) {
	snap, err := a.Snapshot(ctx, reset)
	if err != nil {
		return datatypes.OutboundStats{}, err
	}
	if tag == "" {
		tag = datatypes.DefaultOutboundTag
	}
	return outbound(tag, snap), nil
}

// AllInbounds reports the single synthetic inbound.
func (a *Aggregator) AllInbounds(ctx context.Context, reset bool) (datatypes.AllInboundsStatsResponse, error) {
	snap, err := a.Snapshot(ctx, reset)
	if err != nil {
		return datatypes.AllInboundsStatsResponse{}, err
	}
	return datatypes.AllInboundsStatsResponse{
		Inbounds: []datatypes.InboundStats{inbound(datatypes.DefaultInboundTag, snap)},
	}, nil
}

// AllOutbounds reports the single synthetic outbound.
func (a *Aggregator) AllOutbounds(ctx context.Context, reset bool) (datatypes.AllOutboundsStatsResponse, error) {
	snap, err := a.Snapshot(ctx, reset)
	if err != nil {
		return datatypes.AllOutboundsStatsResponse{}, err
	}
	return datatypes.AllOutboundsStatsResponse{
		Outbounds: []datatypes.OutboundStats{outbound(datatypes.DefaultOutboundTag, snap)},
	}, nil
}

// Combined reports both synthetic entries from a single read.
func (a *Aggregator) Combined(ctx context.Context, reset bool) (datatypes.CombinedStatsResponse, error) {
	snap, err := a.Snapshot(ctx, reset)
	if err != nil {
		return datatypes.CombinedStatsResponse{}, err
	}
	return datatypes.CombinedStatsResponse{
		Inbounds:  []datatypes.InboundStats{inbound(datatypes.DefaultInboundTag, snap)},
		Outbounds: []datatypes.OutboundStats{outbound(datatypes.DefaultOutboundTag, snap)},
	}, nil
}

// inbound reports tunnel inbound bytes as downlink. outbound swaps them.
func inbound(tag string, s exposition.Snapshot) datatypes.InboundStats {
	return datatypes.InboundStats{
		Inbound:  tag,
		Downlink: s.InboundTrafficBytes,
		Uplink:   s.OutboundTrafficBytes,
	}
}

func outbound(tag string, s exposition.Snapshot) datatypes.OutboundStats {
	return datatypes.OutboundStats{
		Outbound: tag,
		Downlink: s.OutboundTrafficBytes,
		Uplink:   s.InboundTrafficBytes,
	}
}
