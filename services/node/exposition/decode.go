// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package exposition decodes the tunnel server's Prometheus text payload
// into a fixed five-value snapshot.
//
// # Description
//
// The tunnel server exposes a handful of single-dimension counters and
// gauges. Decode reduces the scrape to a Snapshot, summing repeated samples
// of the same metric and ignoring every name it does not know.
//
// Decoding runs in two passes:
//
//  1. Strict: the payload is parsed with the Prometheus text parser
//     (prometheus/common/expfmt). Well-formed scrapes take this path.
//  2. Tolerant: if the strict parser rejects the payload (a corrupt or
//     truncated scrape), a line scanner extracts whatever samples it can,
//     skipping lines it cannot read.
//
// # Thread Safety
//
// Decode is a pure function and safe for concurrent use.
package exposition

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"github.com/prometheus/common/model"
)

// =============================================================================
// Metric Names
// =============================================================================

const (
	// MetricClientSessions is the active client session gauge.
	MetricClientSessions = "client_sessions"

	// MetricInboundTrafficBytes is the monotonic inbound byte counter.
	MetricInboundTrafficBytes = "inbound_traffic_bytes"

	// MetricOutboundTrafficBytes is the monotonic outbound byte counter.
	MetricOutboundTrafficBytes = "outbound_traffic_bytes"

	// MetricOutboundTCPSockets is the open outbound TCP socket gauge.
	MetricOutboundTCPSockets = "outbound_tcp_sockets"

	// MetricOutboundUDPSockets is the open outbound UDP socket gauge.
	MetricOutboundUDPSockets = "outbound_udp_sockets"
)

// =============================================================================
// Snapshot
// =============================================================================

// Snapshot is one decoded scrape of the tunnel server.
//
// Byte counters are monotonic upstream; session and socket values are
// instantaneous gauges.
type Snapshot struct {
	ClientSessions       float64 `json:"clientSessions"`
	InboundTrafficBytes  float64 `json:"inboundTrafficBytes"`
	OutboundTrafficBytes float64 `json:"outboundTrafficBytes"`
	OutboundTCPSockets   float64 `json:"outboundTcpSockets"`
	OutboundUDPSockets   float64 `json:"outboundUdpSockets"`
}

// add accumulates value into the field named by metric. Unknown names and
// non-finite values are dropped. Returns false when nothing was added.
func (s *Snapshot) add(metric string, value float64) bool {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return false
	}
	switch metric {
	case MetricClientSessions:
		s.ClientSessions += value
	case MetricInboundTrafficBytes:
		s.InboundTrafficBytes += value
	case MetricOutboundTrafficBytes:
		s.OutboundTrafficBytes += value
	case MetricOutboundTCPSockets:
		s.OutboundTCPSockets += value
	case MetricOutboundUDPSockets:
		s.OutboundUDPSockets += value
	default:
		return false
	}
	return true
}

// =============================================================================
// Decode
// =============================================================================

// Decode converts a text exposition payload into a Snapshot.
//
// # Description
//
// Tries the strict Prometheus parser first and falls back to a tolerant
// line scanner when the payload is not valid exposition text. Decode
// never fails: an empty or unreadable payload yields a zero Snapshot.
//
// # Inputs
//
//   - raw: Exposition text as returned by the wrapper's /api/metrics.
//
// # Outputs
//
//   - Snapshot: Summed values of the five recognized metrics.
//
// # Examples
//
//	snap := exposition.Decode("client_sessions 3\ninbound_traffic_bytes 100\n")
//	// snap.ClientSessions == 3, snap.InboundTrafficBytes == 100
//
// # Limitations
//
//   - Labels are ignored; samples of the same name are summed.
//   - Histogram and summary families are not recognized.
func Decode(raw string) Snapshot {
	if strings.TrimSpace(raw) == "" {
		return Snapshot{}
	}
	if snap, ok := decodeStrict(raw); ok {
		return snap
	}
	return decodeTolerant(raw)
}

// decodeStrict parses raw with expfmt. Returns false if the parser rejects
// the document so the caller can fall back to the tolerant scanner.
func decodeStrict(raw string) (Snapshot, bool) {
	parser := expfmt.NewTextParser(model.UTF8Validation)
	families, err := parser.TextToMetricFamilies(strings.NewReader(raw))
	if err != nil {
		return Snapshot{}, false
	}

	var snap Snapshot
	for name, family := range families {
		for _, m := range family.GetMetric() {
			if v, ok := sampleValue(family.GetType(), m); ok {
				snap.add(name, v)
			}
		}
	}
	return snap, true
}

func sampleValue(kind dto.MetricType, m *dto.Metric) (float64, bool) {
	switch kind {
	case dto.MetricType_COUNTER:
		return m.GetCounter().GetValue(), true
	case dto.MetricType_GAUGE:
		return m.GetGauge().GetValue(), true
	case dto.MetricType_UNTYPED:
		return m.GetUntyped().GetValue(), true
	default:
		return 0, false
	}
}

// sampleLine matches "name{labels} value [timestamp]".
var sampleLine = regexp.MustCompile(`^([a-zA-Z_:][a-zA-Z0-9_:]*)(?:\{[^}]*\})?\s+(\S+)(?:\s+-?\d+)?$`)

// decodeTolerant scans raw line by line, keeping every sample it can read.
func decodeTolerant(raw string) Snapshot {
	var snap Snapshot

	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		match := sampleLine.FindStringSubmatch(line)
		if match == nil {
			continue
		}
		value, err := strconv.ParseFloat(match[2], 64)
		if err != nil {
			continue
		}
		snap.add(match[1], value)
	}
	return snap
}
