// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package sysinfo collects the host description reported to the panel on
// every start response.
package sysinfo

import (
	"log/slog"
	"runtime"
	"strings"

	"github.com/AleutianAI/TunnelNode/services/node/datatypes"
	"github.com/dustin/go-humanize"
	"github.com/prometheus/procfs"
)

const unknown = "unknown"

// Detector reads host hardware details.
//
// # Description
//
// Core count comes from the Go runtime. CPU model and total memory come
// from procfs when it is mounted; on other platforms they are reported as
// "unknown".
//
// # Thread Safety
//
// Detector is stateless and safe for concurrent use.
type Detector struct {
	mountPoint string
	logger     *slog.Logger
}

// NewDetector creates a detector over the default /proc mount.
func NewDetector(logger *slog.Logger) *Detector {
	return NewDetectorAt(procfs.DefaultMountPoint, logger)
}

// NewDetectorAt creates a detector over an alternate procfs mount.
func NewDetectorAt(mountPoint string, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{mountPoint: mountPoint, logger: logger.With("component", "sysinfo")}
}

// Detect returns the host description. It never fails.
//
// # Outputs
//
//   - *datatypes.SystemInformation: Always non-nil.
//
// # Examples
//
//	info := sysinfo.NewDetector(logger).Detect()
//	// {CPUCores: 8, CPUModel: "AMD EPYC 7763 64-Core Processor", MemoryTotal: "16 GiB"}
func (d *Detector) Detect() *datatypes.SystemInformation {
	info := &datatypes.SystemInformation{
		CPUCores:    runtime.NumCPU(),
		CPUModel:    unknown,
		MemoryTotal: unknown,
	}

	fs, err := procfs.NewFS(d.mountPoint)
	if err != nil {
		d.logger.Debug("procfs unavailable", "mount", d.mountPoint, "error", err)
		return info
	}

	if cpus, err := fs.CPUInfo(); err == nil {
		for _, cpu := range cpus {
			if model := strings.TrimSpace(cpu.ModelName); model != "" {
				info.CPUModel = model
				break
			}
		}
	} else {
		d.logger.Debug("Failed to read cpuinfo", "error", err)
	}

	if mem, err := fs.Meminfo(); err == nil && mem.MemTotal != nil {
		info.MemoryTotal = humanize.IBytes(*mem.MemTotal * 1024)
	} else if err != nil {
		d.logger.Debug("Failed to read meminfo", "error", err)
	}

	return info
}
