// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/AleutianAI/TunnelNode/services/node/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func fakeWrapper(t *testing.T, healthy, running bool) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/health":
			_ = json.NewEncoder(w).Encode(map[string]any{"success": healthy})
		case "/api/status":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"success": true,
				"data":    map[string]any{"running": running},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")

	require.NoError(t, err)
	assert.Equal(t, "ttnode dev (TrustTunnel)\n", out)
}

func TestCheckCommand_Healthy(t *testing.T) {
	t.Setenv("TT_WRAPPER_URL", fakeWrapper(t, true, true))
	t.Setenv("TT_WRAPPER_SECRET", "s3cret")

	out, err := execute(t, "check")

	require.NoError(t, err)
	assert.Contains(t, out, "healthy=true")
	assert.Contains(t, out, "tunnel running=true")
}

func TestCheckCommand_Unhealthy(t *testing.T) {
	t.Setenv("TT_WRAPPER_URL", fakeWrapper(t, false, false))
	t.Setenv("TT_WRAPPER_SECRET", "s3cret")

	out, err := execute(t, "check")

	assert.True(t, errors.Is(err, errCheckFailed))
	assert.Contains(t, out, "healthy=false")
}

func TestCheckCommand_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.yaml")
	content := "wrapper:\n  url: " + fakeWrapper(t, true, false) + "\n  secret: from-file\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	out, err := execute(t, "check", "--config", path)

	require.NoError(t, err)
	assert.Contains(t, out, "tunnel running=false")
}

func TestCheckCommand_InvalidConfig(t *testing.T) {
	t.Setenv("TT_WRAPPER_URL", "")
	t.Setenv("TT_WRAPPER_SECRET", "")

	_, err := execute(t, "check")

	require.Error(t, err)
	assert.True(t, errors.Is(err, config.ErrInvalidConfig))
}

func TestRootCommand_Subcommands(t *testing.T) {
	cmd := newRootCmd()

	names := make([]string, 0)
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}

	assert.Subset(t, names, []string{"serve", "check", "version"})
	assert.NotNil(t, cmd.PersistentFlags().Lookup("config"))
	assert.NotNil(t, cmd.Flags().Lookup("kill-on-start"))
}
