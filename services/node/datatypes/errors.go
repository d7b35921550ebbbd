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

import "net/http"

// ErrorCode is a panel-facing failure with its HTTP status.
type ErrorCode struct {
	Code       string `json:"errorCode"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
}

var (
	ErrValidation   = ErrorCode{Code: "A001", Message: "Validation error", HTTPStatus: http.StatusBadRequest}
	ErrUnauthorized = ErrorCode{Code: "A003", Message: "Unauthorized", HTTPStatus: http.StatusUnauthorized}
	ErrInternal     = ErrorCode{Code: "A010", Message: "Internal server error", HTTPStatus: http.StatusInternalServerError}

	ErrFailedToGetSystemStats    = ErrorCode{Code: "A011", Message: "Failed to get system stats", HTTPStatus: http.StatusInternalServerError}
	ErrFailedToGetUsersStats     = ErrorCode{Code: "A012", Message: "Failed to get users stats", HTTPStatus: http.StatusInternalServerError}
	ErrFailedToGetInboundStats   = ErrorCode{Code: "A013", Message: "Failed to get inbound stats", HTTPStatus: http.StatusInternalServerError}
	ErrFailedToGetOutboundStats  = ErrorCode{Code: "A014", Message: "Failed to get outbound stats", HTTPStatus: http.StatusInternalServerError}
	ErrFailedToGetInboundsStats  = ErrorCode{Code: "A015", Message: "Failed to get inbounds stats", HTTPStatus: http.StatusInternalServerError}
	ErrFailedToGetOutboundsStats = ErrorCode{Code: "A016", Message: "Failed to get outbounds stats", HTTPStatus: http.StatusInternalServerError}
	ErrFailedToGetCombinedStats  = ErrorCode{Code: "A017", Message: "Failed to get combined stats", HTTPStatus: http.StatusInternalServerError}
)

// Envelope wraps every successful panel response.
type Envelope[T any] struct {
	Response T `json:"response"`
}
