// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command ttnode runs the TrustTunnel node adapter.
//
// The adapter receives configuration snapshots from the panel, reconciles
// the local tunnel through the wrapper admin API, and reports status and
// traffic statistics back.
//
// # Usage
//
//	# Serve with environment configuration only
//	TT_WRAPPER_URL=http://127.0.0.1:7070 TT_WRAPPER_SECRET=... ttnode
//
//	# Serve with a config file, stopping any stale tunnel first
//	ttnode serve --config /etc/ttnode/node.yaml --kill-on-start
//
//	# Check that the wrapper is reachable and exit
//	ttnode check --config /etc/ttnode/node.yaml
//
// See services/node/config for the environment variables.
package main

import (
	"os"

	"github.com/awnumar/memguard"
)

func main() {
	code := 0
	if err := newRootCmd().Execute(); err != nil {
		code = 1
	}
	memguard.Purge()
	os.Exit(code)
}
