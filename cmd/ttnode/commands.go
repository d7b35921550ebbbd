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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/AleutianAI/TunnelNode/pkg/logging"
	"github.com/AleutianAI/TunnelNode/services/node"
	"github.com/AleutianAI/TunnelNode/services/node/config"
	"github.com/AleutianAI/TunnelNode/services/node/datatypes"
	"github.com/AleutianAI/TunnelNode/services/node/wrapper"
	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// errCheckFailed is returned by check when the wrapper is not usable.
var errCheckFailed = errors.New("wrapper check failed")

// cliOptions holds the persistent flags.
type cliOptions struct {
	configPath  string
	killOnStart bool
}

func newRootCmd() *cobra.Command {
	opts := &cliOptions{}

	rootCmd := &cobra.Command{
		Use:   "ttnode",
		Short: "TrustTunnel node adapter for the panel control plane",
		Long: `ttnode accepts configuration pushes from the panel, applies them to the
local TrustTunnel server through its wrapper, and reports status and stats.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}
	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to a YAML config file")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the panel API (default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}
	for _, c := range []*cobra.Command{rootCmd, serveCmd} {
		c.Flags().BoolVar(&opts.killOnStart, "kill-on-start", false, "stop a tunnel left running by a previous adapter")
	}

	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Load the config, probe the wrapper and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd, opts)
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the adapter version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "ttnode %s (%s)\n", version, datatypes.VersionLabel)
		},
	}

	rootCmd.AddCommand(serveCmd, checkCmd, versionCmd)
	return rootCmd
}

// loadConfig reads the config and installs the configured logger as the
// slog default. The caller must Close the returned logger.
func loadConfig(cmd *cobra.Command, opts *cliOptions) (config.Config, *logging.Logger, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return config.Config{}, nil, err
	}
	if cmd.Flags().Changed("kill-on-start") {
		cfg.KillOnStart = opts.killOnStart
	}
	if cfg.NodeVersion == config.Default().NodeVersion && version != "dev" {
		cfg.NodeVersion = version
	}

	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return config.Config{}, nil, err
	}
	logger := logging.New(logging.Config{
		Level:   level,
		Service: "ttnode",
		Format:  logging.Format(cfg.Logging.Format),
		LogDir:  cfg.Logging.Dir,
		Output:  cmd.ErrOrStderr(),
	})
	slog.SetDefault(logger.Slog())
	return cfg, logger, nil
}

func runServe(cmd *cobra.Command, opts *cliOptions) error {
	cfg, logger, err := loadConfig(cmd, opts)
	if err != nil {
		return err
	}
	defer logger.Close()

	extOpts, err := node.OptionsFromConfig(cfg, logger.Slog())
	if err != nil {
		return err
	}

	svc, err := node.New(cfg, &extOpts)
	if err != nil {
		return fmt.Errorf("failed to create node: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("Starting ttnode", "version", version, "port", cfg.Port)
	if err := svc.Run(ctx); err != nil {
		slog.Error("Node stopped with error", "error", err)
		return err
	}
	slog.Info("Node stopped")
	return nil
}

func runCheck(cmd *cobra.Command, opts *cliOptions) error {
	cfg, logger, err := loadConfig(cmd, opts)
	if err != nil {
		return err
	}
	defer logger.Close()

	client, err := wrapper.New(wrapper.Config{
		BaseURL: cfg.Wrapper.URL,
		Secret:  cfg.Wrapper.Secret,
		Timeout: cfg.Wrapper.Timeout,
		Logger:  logger.Slog(),
	})
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	out := cmd.OutOrStdout()
	healthy := client.Health(ctx)
	fmt.Fprintf(out, "wrapper %s healthy=%t\n", client.BaseURL(), healthy)
	if !healthy {
		return errCheckFailed
	}

	status := client.Status(ctx)
	if !status.Success || status.Data == nil {
		fmt.Fprintf(out, "status unavailable: %s\n", status.Message)
		return errCheckFailed
	}
	fmt.Fprintf(out, "tunnel running=%t\n", status.Data.Running)
	return nil
}
