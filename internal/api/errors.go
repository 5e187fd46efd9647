// Killfeed - Killmail Ingestion Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/killfeed

package api

// Error codes carried in models.APIError.Code.
const (
	codeValidation  = "VALIDATION_ERROR"
	codeNotFound    = "NOT_FOUND"
	codeUnavailable = "SERVICE_UNAVAILABLE"
	codeDatabase    = "DATABASE_ERROR"
	codeInternal    = "INTERNAL_ERROR"
)

// maxRequestBodyBytes caps JSON request bodies. Ten thousand ids fit easily.
const maxRequestBodyBytes = 1 << 20
