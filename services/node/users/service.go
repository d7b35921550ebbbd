// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package users applies the panel's incremental user changes between full
// configuration pushes.
//
// The tunnel server has a flat user model (username and password) with no
// inbound tags or protocol variants, so per-inbound requests collapse onto
// the single user set. Every mutation is mirrored into the registry once
// the wrapper accepts it.
package users

import (
	"context"
	"log/slog"
	"time"

	"github.com/AleutianAI/TunnelNode/services/node/datatypes"
	"github.com/AleutianAI/TunnelNode/services/node/observability"
	"github.com/AleutianAI/TunnelNode/services/node/registry"
	"github.com/AleutianAI/TunnelNode/services/node/wrapper"
)

const msgNoUserData = "No user data provided"

// Remote is the subset of the wrapper client used for user mutations.
type Remote interface {
	AddUser(ctx context.Context, username, password string) wrapper.Result[wrapper.Empty]
	RemoveUser(ctx context.Context, username string) wrapper.Result[wrapper.Empty]
	AddUsersBatch(ctx context.Context, users []wrapper.UserCredential) wrapper.Result[wrapper.Empty]
	RemoveUsersBatch(ctx context.Context, usernames []string) wrapper.Result[wrapper.Empty]
	ListUsers(ctx context.Context) wrapper.Result[[]wrapper.RemoteUser]
}

var _ Remote = (*wrapper.Client)(nil)

// Service handles the panel's user endpoints.
type Service interface {
	AddUser(ctx context.Context, req datatypes.AddUserRequest) datatypes.MutationResponse
	AddUsers(ctx context.Context, req datatypes.AddUsersRequest) datatypes.MutationResponse
	RemoveUser(ctx context.Context, req datatypes.RemoveUserRequest) datatypes.MutationResponse
	RemoveUsers(ctx context.Context, req datatypes.RemoveUsersRequest) datatypes.MutationResponse
	InboundUsersCount(ctx context.Context, tag string) datatypes.InboundUsersCountResponse
	InboundUsers(ctx context.Context, tag string) datatypes.InboundUsersResponse
}

type service struct {
	remote   Remote
	registry *registry.Registry
	metrics  *observability.NodeMetrics
	logger   *slog.Logger
}

var _ Service = (*service)(nil)

// NewService creates the user handler service. metrics may be nil.
func NewService(remote Remote, reg *registry.Registry, metrics *observability.NodeMetrics, logger *slog.Logger) Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &service{
		remote:   remote,
		registry: reg,
		metrics:  metrics,
		logger:   logger.With("component", "users"),
	}
}

func ok() datatypes.MutationResponse {
	return datatypes.MutationResponse{Success: true}
}

func failed(message string) datatypes.MutationResponse {
	return datatypes.MutationResponse{Success: false, Error: datatypes.StringPtr(message)}
}

// AddUser adds one user, replacing any existing user of the same name.
//
// # Description
//
// Uses the first data entry's username. The password is the panel's
// per-user UUID, falling back to the entry's own password when the UUID
// is absent. The user is removed first so a re-add with a new secret
// takes effect.
func (s *service) AddUser(ctx context.Context, req datatypes.AddUserRequest) datatypes.MutationResponse {
	if len(req.Data) == 0 {
		return failed(msgNoUserData)
	}
	entry := req.Data[0]
	password := firstNonEmpty(req.HashData.VlessUUID, entry.Password)
	if entry.Username == "" || password == "" {
		return failed(msgNoUserData)
	}

	s.logger.Debug("Adding user", "username", entry.Username)
	if res := s.remote.RemoveUser(ctx, entry.Username); !res.Success {
		s.logger.Debug("Pre-add remove reported failure", "username", entry.Username, "message", res.Message)
	}

	res := s.remote.AddUser(ctx, entry.Username, password)
	if !res.Success {
		s.logger.Error("Error adding user", "username", entry.Username, "message", res.Message)
		return failed(res.Message)
	}

	s.registry.AddUser(entry.Username, password)
	s.metrics.SetUsersTracked(s.registry.UserCount())
	return ok()
}

// AddUsers adds users in one batch. Entries without a name or secret are
// skipped.
func (s *service) AddUsers(ctx context.Context, req datatypes.AddUsersRequest) datatypes.MutationResponse {
	start := time.Now()
	defer func() {
		s.logger.Info("Batch add users completed", "duration", time.Since(start).String())
	}()

	creds := make([]wrapper.UserCredential, 0, len(req.Users))
	names := make([]string, 0, len(req.Users))
	for _, u := range req.Users {
		username := firstNonEmpty(u.UserData.UserID, u.UserData.Username)
		password := firstNonEmpty(u.UserData.VlessUUID, u.UserData.Password)
		if username == "" || password == "" {
			s.logger.Warn("Skipping user without name or secret")
			continue
		}
		creds = append(creds, wrapper.UserCredential{Username: username, Password: password})
		names = append(names, username)
	}
	s.logger.Info("Adding users", "count", len(creds), "requested", len(req.Users))

	if len(names) > 0 {
		if res := s.remote.RemoveUsersBatch(ctx, names); !res.Success {
			s.logger.Debug("Pre-add batch remove reported failure", "message", res.Message)
		}
	}

	res := s.remote.AddUsersBatch(ctx, creds)
	if !res.Success {
		s.logger.Error("Batch add failed", "message", res.Message)
		return failed(res.Message)
	}

	for _, c := range creds {
		s.registry.AddUser(c.Username, c.Password)
	}
	s.metrics.SetUsersTracked(s.registry.UserCount())
	return ok()
}

// RemoveUser always succeeds: a user the wrapper does not know is already
// removed.
func (s *service) RemoveUser(ctx context.Context, req datatypes.RemoveUserRequest) datatypes.MutationResponse {
	s.logger.Debug("Removing user", "username", req.Username)

	res := s.remote.RemoveUser(ctx, req.Username)
	s.registry.RemoveUser(req.Username)
	s.metrics.SetUsersTracked(s.registry.UserCount())

	if !res.Success {
		s.logger.Warn("Remove user reported failure", "username", req.Username, "message", res.Message)
	}
	return ok()
}

// RemoveUsers removes users by id in one batch.
func (s *service) RemoveUsers(ctx context.Context, req datatypes.RemoveUsersRequest) datatypes.MutationResponse {
	start := time.Now()
	defer func() {
		s.logger.Info("Batch remove users completed", "duration", time.Since(start).String())
	}()

	names := make([]string, 0, len(req.Users))
	for _, u := range req.Users {
		names = append(names, u.UserID)
	}
	s.logger.Info("Removing users", "count", len(names))

	if len(names) > 0 {
		if res := s.remote.RemoveUsersBatch(ctx, names); !res.Success {
			s.logger.Warn("Batch remove reported failure", "message", res.Message)
		}
	}
	for _, name := range names {
		s.registry.RemoveUser(name)
	}
	s.metrics.SetUsersTracked(s.registry.UserCount())
	return ok()
}

// InboundUsersCount returns the total tracked user count; tag is ignored.
func (s *service) InboundUsersCount(ctx context.Context, tag string) datatypes.InboundUsersCountResponse {
	return datatypes.InboundUsersCountResponse{Count: s.registry.UserCount()}
}

// InboundUsers lists the wrapper's users; tag is ignored. A failed
// listing returns an empty list.
func (s *service) InboundUsers(ctx context.Context, tag string) datatypes.InboundUsersResponse {
	out := datatypes.InboundUsersResponse{Users: []datatypes.InboundUser{}}
	res := s.remote.ListUsers(ctx)
	if !res.Success || res.Data == nil {
		s.logger.Warn("Failed to list users", "message", res.Message)
		return out
	}
	for _, u := range *res.Data {
		out.Users = append(out.Users, datatypes.InboundUser{Username: u.Username})
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
