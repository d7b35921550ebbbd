// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sysinfo

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const meminfoFixture = `MemTotal:       16777216 kB
MemFree:         1048576 kB
MemAvailable:    8388608 kB
`

const cpuinfoFixture = `processor	: 0
vendor_id	: GenuineIntel
cpu family	: 6
model		: 85
model name	: Intel(R) Xeon(R) Platinum 8259CL CPU @ 2.50GHz
flags		: fpu vme

`

func TestDetect_FromFixture(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "meminfo"), []byte(meminfoFixture), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cpuinfo"), []byte(cpuinfoFixture), 0o644))

	info := NewDetectorAt(dir, nil).Detect()

	require.NotNil(t, info)
	assert.Equal(t, runtime.NumCPU(), info.CPUCores)
	assert.Equal(t, "16 GiB", info.MemoryTotal)
	if runtime.GOARCH == "amd64" || runtime.GOARCH == "386" {
		assert.Equal(t, "Intel(R) Xeon(R) Platinum 8259CL CPU @ 2.50GHz", info.CPUModel)
	}
}

func TestDetect_MissingProcfs(t *testing.T) {
	info := NewDetectorAt(filepath.Join(t.TempDir(), "absent"), nil).Detect()

	require.NotNil(t, info)
	assert.Equal(t, runtime.NumCPU(), info.CPUCores)
	assert.Equal(t, unknown, info.CPUModel)
	assert.Equal(t, unknown, info.MemoryTotal)
}
