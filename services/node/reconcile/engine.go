// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package reconcile drives the tunnel process toward the panel's desired
// configuration.
//
// # Description
//
// Engine is the adapter's state machine. A configuration push either
// short-circuits (tunnel running, hashes unchanged) or runs a full
// reconcile:
//
//	Offline ──push──► Reconciling ──verified──► Online
//	   ▲                   │
//	   └───restart/verify failure───┘
//
// Full reconcile replaces the remote user set wholesale (list, batch
// remove, batch add), restarts the tunnel, then polls status with a
// fixed-delay bounded retry. The local registry is only committed after
// the restart is verified.
//
// # Single Flight
//
// At most one reconcile runs at a time. A concurrent push is rejected
// immediately with OutcomeBusy; it is never queued.
//
// # Thread Safety
//
// Engine is safe for concurrent use. HealthCheck and Phase never block on
// a running reconcile.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AleutianAI/TunnelNode/services/node/datatypes"
	"github.com/AleutianAI/TunnelNode/services/node/observability"
	"github.com/AleutianAI/TunnelNode/services/node/registry"
	"github.com/AleutianAI/TunnelNode/services/node/wrapper"
	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/semaphore"
)

var tracer = otel.Tracer("ttnode.reconcile")

// =============================================================================
// Interface Definition
// =============================================================================

// Remote is the subset of the wrapper client the engine drives.
//
// *wrapper.Client satisfies it. Implementations must be fail-soft: every
// failure is reported through Result.Success, never a panic.
type Remote interface {
	Status(ctx context.Context) wrapper.Result[wrapper.ProcessStatus]
	Stop(ctx context.Context) wrapper.Result[wrapper.Empty]
	Restart(ctx context.Context) wrapper.Result[wrapper.Empty]
	ListUsers(ctx context.Context) wrapper.Result[[]wrapper.RemoteUser]
	AddUsersBatch(ctx context.Context, users []wrapper.UserCredential) wrapper.Result[wrapper.Empty]
	RemoveUsersBatch(ctx context.Context, usernames []string) wrapper.Result[wrapper.Empty]
}

var _ Remote = (*wrapper.Client)(nil)

// =============================================================================
// Types
// =============================================================================

// Phase is the engine's externally visible state.
type Phase int

const (
	PhaseOffline Phase = iota
	PhaseReconciling
	PhaseOnline
)

func (p Phase) String() string {
	switch p {
	case PhaseOffline:
		return "offline"
	case PhaseReconciling:
		return "reconciling"
	case PhaseOnline:
		return "online"
	default:
		return "unknown"
	}
}

// Outcome classifies how a reconcile attempt ended.
type Outcome string

const (
	// OutcomeApplied means a full reconcile completed and was verified.
	OutcomeApplied Outcome = "applied"

	// OutcomeUnchanged means the tunnel was running with matching hashes.
	OutcomeUnchanged Outcome = "unchanged"

	// OutcomeBusy means another reconcile was already running.
	OutcomeBusy Outcome = "busy"

	// OutcomeRestartFailed means the remote refused or failed the restart.
	OutcomeRestartFailed Outcome = "restart_failed"

	// OutcomeVerifyFailed means the process never reported running.
	OutcomeVerifyFailed Outcome = "verify_failed"

	// OutcomeInternal means an unexpected fault was recovered.
	OutcomeInternal Outcome = "internal"
)

const (
	MsgBusy          = "Request already in progress"
	MsgRestartFailed = "Failed to restart TrustTunnel"
	MsgVerifyFailed  = "TrustTunnel process not running after restart"
)

// Request is one configuration push.
type Request struct {
	Snapshot     registry.Snapshot
	ForceRestart bool
	SourceIP     string
}

// Result is the outcome of Reconcile.
type Result struct {
	Outcome     Outcome
	Success     bool
	Message     string
	AttemptID   string
	UsersSynced int
}

// RunState is what the adapter believes about the tunnel.
type RunState struct {
	Online       bool
	Reconciling  bool
	VersionLabel string
	NodeVersion  string
}

// =============================================================================
// Configuration
// =============================================================================

// Config holds engine options.
//
// # Examples
//
//	cfg := reconcile.Config{NodeVersion: "1.4.0"}
//	engine := reconcile.New(client, reg, cfg)
type Config struct {
	// VerifyAttempts is the total number of status polls after a restart,
	// including the first. Default: 11
	VerifyAttempts int

	// VerifyInterval is the fixed delay between polls. Default: 2s
	VerifyInterval time.Duration

	// NodeVersion is reported to the panel. Default: "0.0.0"
	NodeVersion string

	// SystemInfo describes the host, attached to start responses. May be nil.
	SystemInfo *datatypes.SystemInformation

	// Logger receives engine logs. Default: slog.Default()
	Logger *slog.Logger

	// Metrics records reconcile outcomes. May be nil.
	Metrics *observability.NodeMetrics
}

func applyConfigDefaults(cfg Config) Config {
	if cfg.VerifyAttempts <= 0 {
		cfg.VerifyAttempts = 11
	}
	if cfg.VerifyInterval <= 0 {
		cfg.VerifyInterval = 2 * time.Second
	}
	if cfg.NodeVersion == "" {
		cfg.NodeVersion = "0.0.0"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return cfg
}

// =============================================================================
// Engine
// =============================================================================

// Engine is the reconciliation state machine.
type Engine struct {
	cfg      Config
	remote   Remote
	registry *registry.Registry
	logger   *slog.Logger
	metrics  *observability.NodeMetrics

	guard       *semaphore.Weighted
	reconciling atomic.Bool

	mu     sync.RWMutex
	online bool
}

// New creates an engine in the Offline phase.
//
// # Inputs
//
//   - remote: Wrapper client (or a fake in tests). Must not be nil.
//   - reg: Registry owned by this engine. Must not be nil.
//   - cfg: Options. Zero values use defaults.
//
// # Outputs
//
//   - *Engine: Ready engine.
//
// # Assumptions
//
//   - reg is not mutated by anything outside the engine and the user
//     handler service.
func New(remote Remote, reg *registry.Registry, cfg Config) *Engine {
	cfg = applyConfigDefaults(cfg)
	return &Engine{
		cfg:      cfg,
		remote:   remote,
		registry: reg,
		logger:   cfg.Logger.With("component", "reconcile_engine"),
		metrics:  cfg.Metrics,
		guard:    semaphore.NewWeighted(1),
	}
}

// Registry returns the registry the engine commits to.
func (e *Engine) Registry() *registry.Registry {
	return e.registry
}

// Phase reports Reconciling while a reconcile holds the guard, otherwise
// Online or Offline.
func (e *Engine) Phase() Phase {
	if e.reconciling.Load() {
		return PhaseReconciling
	}
	if e.Online() {
		return PhaseOnline
	}
	return PhaseOffline
}

// Online reports the cached run state.
func (e *Engine) Online() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.online
}

func (e *Engine) setOnline(online bool) {
	e.mu.Lock()
	e.online = online
	e.mu.Unlock()
	e.metrics.SetOnline(online)
}

// =============================================================================
// Reconcile
// =============================================================================

// Reconcile applies a configuration push.
//
// # Description
//
// Rejects immediately with OutcomeBusy if another reconcile is running.
// Otherwise:
//  1. If Online and not forced, asks the remote for status. Running with
//     unchanged hashes returns OutcomeUnchanged without any mutation. Not
//     running drops to Offline and continues.
//  2. Replaces the remote user set with the snapshot's users. Sync
//     failures are logged; the restart still runs.
//  3. Restarts the tunnel and polls status until running or attempts
//     run out.
//  4. Commits the snapshot to the registry and goes Online.
//
// Any failure in 2-3 goes Offline and leaves the registry untouched.
//
// # Inputs
//
//   - ctx: Carries trace context. Cancellation is ignored once the
//     attempt has started; the attempt always reaches a terminal outcome.
//   - req: Snapshot, force flag and the panel's source address.
//
// # Outputs
//
//   - Result: Always populated; never panics.
//
// # Examples
//
//	res := engine.Reconcile(ctx, reconcile.Request{Snapshot: snap})
//	if res.Outcome == reconcile.OutcomeBusy {
//	    // panel retries later
//	}
//
// # Limitations
//
//   - Total wait is bounded by VerifyAttempts x VerifyInterval plus the
//     wrapper's per-call timeout on each remote call.
func (e *Engine) Reconcile(ctx context.Context, req Request) (res Result) {
	if !e.guard.TryAcquire(1) {
		e.logger.Warn(MsgBusy, "source_ip", req.SourceIP)
		e.metrics.RecordReconcile(string(OutcomeBusy), 0)
		return Result{Outcome: OutcomeBusy, Message: MsgBusy}
	}

	attemptID := uuid.NewString()
	logger := e.logger.With("attempt_id", attemptID)
	ctx, span := tracer.Start(context.WithoutCancel(ctx), "Engine.Reconcile")
	span.SetAttributes(
		attribute.String("reconcile.attempt_id", attemptID),
		attribute.Bool("reconcile.force_restart", req.ForceRestart),
		attribute.String("reconcile.source_ip", req.SourceIP),
	)
	e.reconciling.Store(true)
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			e.setOnline(false)
			res = Result{Outcome: OutcomeInternal, Message: fmt.Sprintf("internal error: %v", r)}
			logger.Error("Reconcile panicked", "panic", r)
		}
		res.AttemptID = attemptID

		elapsed := time.Since(start)
		e.metrics.RecordReconcile(string(res.Outcome), elapsed.Seconds())
		span.SetAttributes(attribute.String("reconcile.outcome", string(res.Outcome)))
		if !res.Success {
			span.SetStatus(codes.Error, res.Message)
		}
		span.End()

		logger.Info("Reconcile attempt finished",
			"outcome", res.Outcome,
			"duration", elapsed.String(),
		)
		e.reconciling.Store(false)
		e.guard.Release(1)
	}()

	return e.reconcile(ctx, logger, req)
}

func (e *Engine) reconcile(ctx context.Context, logger *slog.Logger, req Request) Result {
	if e.Online() && !req.ForceRestart {
		status := e.remote.Status(ctx)
		if isRunning(status) {
			if !e.registry.NeedsReconciliation(req.Snapshot.Hashes) {
				return Result{Outcome: OutcomeUnchanged, Success: true}
			}
		} else {
			logger.Warn("Tunnel status check failed, reconciling", "message", status.Message)
			e.setOnline(false)
		}
	}

	if req.ForceRestart {
		logger.Warn("Force restart requested")
	}

	plan := registry.BuildPlan(req.Snapshot)
	logger.Info("Extracted users from panel config",
		"users", len(plan.Users),
		"skipped_clients", plan.Skipped,
	)

	e.syncUsers(ctx, logger, plan.Users)

	restart := e.remote.Restart(ctx)
	if !restart.Success {
		e.setOnline(false)
		msg := restart.Message
		if msg == "" {
			msg = MsgRestartFailed
		}
		logger.Error("Failed to restart tunnel", "message", msg)
		return Result{Outcome: OutcomeRestartFailed, Message: msg}
	}

	if err := e.verifyRunning(ctx, logger); err != nil {
		e.setOnline(false)
		logger.Error("Tunnel failed to start",
			"version", datatypes.VersionLabel,
			"master_ip", req.SourceIP,
			"error", err,
		)
		return Result{Outcome: OutcomeVerifyFailed, Message: MsgVerifyFailed}
	}

	e.registry.Apply(plan)
	e.metrics.SetUsersTracked(e.registry.UserCount())
	e.setOnline(true)

	logger.Info("Tunnel started",
		"version", datatypes.VersionLabel,
		"master_ip", req.SourceIP,
		"users_synced", len(plan.Users),
	)
	return Result{Outcome: OutcomeApplied, Success: true, UsersSynced: len(plan.Users)}
}

// syncUsers replaces the remote user set. Every step is best effort: a
// failed listing is treated as an empty remote and failed batches are only
// logged, leaving restart verification to decide the outcome.
func (e *Engine) syncUsers(ctx context.Context, logger *slog.Logger, users []registry.UserRecord) {
	listed := e.remote.ListUsers(ctx)
	var current []string
	if listed.Success && listed.Data != nil {
		for _, u := range *listed.Data {
			current = append(current, u.Username)
		}
	} else {
		logger.Warn("Could not list remote users, skipping removal", "message", listed.Message)
	}

	if len(current) > 0 {
		if res := e.remote.RemoveUsersBatch(ctx, current); !res.Success {
			logger.Warn("Batch remove reported failure", "count", len(current), "message", res.Message)
		}
	}

	if len(users) == 0 {
		return
	}

	creds := make([]wrapper.UserCredential, 0, len(users))
	for _, u := range users {
		creds = append(creds, wrapper.UserCredential{Username: u.Username, Password: u.Secret})
	}
	if res := e.remote.AddUsersBatch(ctx, creds); !res.Success {
		logger.Error("Batch add failed, continuing with restart", "count", len(creds), "message", res.Message)
		return
	}
	logger.Debug("Synced users to wrapper", "removed", len(current), "added", len(creds))
}

var errNotRunning = errors.New("tunnel not running")

// verifyRunning polls status with a constant delay until it reports running.
func (e *Engine) verifyRunning(ctx context.Context, logger *slog.Logger) error {
	attempt := 0
	_, err := backoff.Retry(ctx,
		func() (struct{}, error) {
			attempt++
			if isRunning(e.remote.Status(ctx)) {
				return struct{}{}, nil
			}
			return struct{}{}, errNotRunning
		},
		backoff.WithBackOff(backoff.NewConstantBackOff(e.cfg.VerifyInterval)),
		backoff.WithMaxTries(uint(e.cfg.VerifyAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.Debug("Status check failed",
				"attempt", attempt,
				"attempts_left", e.cfg.VerifyAttempts-attempt,
				"next_in", next.String(),
			)
		}),
	)
	if err != nil {
		return fmt.Errorf("after %d attempts: %w", attempt, err)
	}
	return nil
}

func isRunning(status wrapper.Result[wrapper.ProcessStatus]) bool {
	return status.Success && status.Data != nil && status.Data.Running
}

// =============================================================================
// Stop / Health / Status
// =============================================================================

// Stop asks the remote to stop, goes Offline and clears the registry.
//
// The registry is cleared even when the remote stop fails: a stopped (or
// unknown) process has no applied configuration.
func (e *Engine) Stop(ctx context.Context) bool {
	if res := e.remote.Stop(ctx); !res.Success {
		e.logger.Warn("Remote stop reported failure", "message", res.Message)
	}
	e.setOnline(false)
	e.registry.Cleanup()
	e.metrics.SetUsersTracked(0)
	return true
}

// KillStale stops a tunnel left running by a previous adapter process.
func (e *Engine) KillStale(ctx context.Context) {
	if res := e.remote.Stop(ctx); res.Success {
		e.logger.Info("Stopped existing tunnel process")
	} else {
		e.logger.Info("No existing tunnel process stopped", "message", res.Message)
	}
}

// HealthCheck returns the cached run state. It makes no remote call.
func (e *Engine) HealthCheck() RunState {
	return RunState{
		Online:       e.Online(),
		Reconciling:  e.reconciling.Load(),
		VersionLabel: datatypes.VersionLabel,
		NodeVersion:  e.cfg.NodeVersion,
	}
}

// StatusAndVersion asks the remote whether the tunnel is running.
func (e *Engine) StatusAndVersion(ctx context.Context) (bool, string) {
	return isRunning(e.remote.Status(ctx)), datatypes.VersionLabel
}

// StartResponse renders a Result in the panel's start contract.
func (e *Engine) StartResponse(res Result) datatypes.StartResponse {
	out := datatypes.StartResponse{
		IsStarted:       res.Success,
		Version:         datatypes.StringPtr(datatypes.VersionLabel),
		Error:           datatypes.StringPtr(res.Message),
		NodeInformation: datatypes.NodeInformation{Version: e.cfg.NodeVersion},
	}
	switch res.Outcome {
	case OutcomeApplied, OutcomeUnchanged, OutcomeVerifyFailed:
		out.SystemInformation = e.cfg.SystemInfo
	case OutcomeInternal:
		out.Version = nil
	}
	if res.Success {
		out.Error = nil
	}
	return out
}
