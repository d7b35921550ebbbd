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

// AddUserRequest adds one user. Only the first data entry is used since the
// tunnel server has no per-inbound users.
type AddUserRequest struct {
	Data     []AddUserEntry `json:"data" binding:"dive"`
	HashData UserHashData   `json:"hashData"`
}

type AddUserEntry struct {
	Type     string `json:"type"`
	Tag      string `json:"tag"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// UserHashData holds the per-user secret the panel derives for every user.
type UserHashData struct {
	VlessUUID string `json:"vlessUuid"`
}

// AddUsersRequest adds users in bulk.
type AddUsersRequest struct {
	AffectedInboundTags []string        `json:"affectedInboundTags"`
	Users               []AddUsersEntry `json:"users" binding:"dive"`
}

type AddUsersEntry struct {
	InboundData []InboundRef `json:"inboundData"`
	UserData    UserData     `json:"userData"`
}

type InboundRef struct {
	Type string `json:"type"`
	Tag  string `json:"tag"`
}

type UserData struct {
	UserID    string `json:"userId"`
	Username  string `json:"username"`
	Password  string `json:"password"`
	VlessUUID string `json:"vlessUuid"`
}

type RemoveUserRequest struct {
	Username string `json:"username" binding:"required"`
	Tag      string `json:"tag"`
}

type RemoveUsersRequest struct {
	Users []RemoveUsersEntry `json:"users" binding:"dive"`
}

type RemoveUsersEntry struct {
	UserID string `json:"userId" binding:"required"`
}

// InboundTagRequest is used by the per-inbound user queries.
type InboundTagRequest struct {
	Tag string `json:"tag"`
}

// MutationResponse is returned by every user mutation.
type MutationResponse struct {
	Success bool    `json:"success"`
	Error   *string `json:"error"`
}

type InboundUsersCountResponse struct {
	Count int `json:"count"`
}

type InboundUser struct {
	Username string `json:"username"`
}

type InboundUsersResponse struct {
	Users []InboundUser `json:"users"`
}

// IPRequest is the body of the vision block/unblock endpoints.
type IPRequest struct {
	IP string `json:"ip" binding:"required"`
}

// InternalConfigResponse is served on the loopback-only internal endpoint.
type InternalConfigResponse struct {
	Engine string `json:"engine"`
	Users  int    `json:"users"`
}
