// Killfeed - Killmail Ingestion Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/killfeed

package models

import (
	"time"
)

// APIResponse is the envelope for every admin API response.
//
//	{
//	  "status": "success",
//	  "data": {"is_running": true, "is_connected": true},
//	  "metadata": {"timestamp": "2026-10-18T12:00:00Z"}
//	}
//
// Status is "success" or "error". Error is only set for "error".
type APIResponse struct {
	Status   string      `json:"status"`
	Data     interface{} `json:"data"`
	Metadata Metadata    `json:"metadata"`
	Error    *APIError   `json:"error,omitempty"`
}

// Metadata accompanies every response.
type Metadata struct {
	Timestamp   time.Time `json:"timestamp"`
	QueryTimeMS int64     `json:"query_time_ms,omitempty"`
}

// APIError carries a machine-readable code and a human message.
//
// Codes in use: VALIDATION_ERROR, NOT_FOUND, SERVICE_UNAVAILABLE,
// DATABASE_ERROR, INTERNAL_ERROR.
type APIError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// UpdateSubscriptionsRequest is the body of POST /api/v1/subscriptions.
type UpdateSubscriptionsRequest struct {
	Add    []int64 `json:"add" validate:"omitempty,max=10000,dive,gt=0"`
	Remove []int64 `json:"remove" validate:"omitempty,max=10000,dive,gt=0"`
}

// SubscribeLocationsRequest is the body of POST /api/v1/subscriptions/locations.
type SubscribeLocationsRequest struct {
	LocationIDs []int64 `json:"location_ids" validate:"required,min=1,max=10000,dive,gt=0"`
}

// TrackCharactersRequest is the body of POST /api/v1/characters.
type TrackCharactersRequest struct {
	CharacterIDs []int64 `json:"character_ids" validate:"required,min=1,max=10000,dive,gt=0"`
}
