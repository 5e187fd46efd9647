// Killfeed - Killmail Ingestion Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/killfeed

package api

import (
	"net/http"
	"time"

	"github.com/tomtom215/killfeed/internal/models"
)

// HealthLive handles liveness probe requests.
// Returns 200 OK if the process is alive, regardless of dependencies.
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	respondSuccess(w, http.StatusOK, map[string]interface{}{
		"alive":  true,
		"uptime": time.Since(h.startTime).Seconds(),
	}, time.Now())
}

// HealthReady handles readiness probe requests.
// Returns 200 OK only while the ingestion service is running and joined to
// the feed. Database reachability is reported but does not gate readiness;
// storage failures are absorbed per record.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := h.ingest.GetStatus()
	dbConnected := h.store != nil && h.store.Ping(r.Context()) == nil

	ready := status.IsRunning && status.IsConnected
	data := map[string]interface{}{
		"ready":              ready,
		"state":              status.State,
		"feed_connected":     status.IsConnected,
		"database_connected": dbConnected,
	}

	if !ready {
		respondJSON(w, http.StatusServiceUnavailable, &models.APIResponse{
			Status: "error",
			Data:   data,
			Metadata: models.Metadata{
				Timestamp: time.Now(),
			},
			Error: &models.APIError{
				Code:    codeUnavailable,
				Message: "Ingestion service is not running or not connected to the feed",
			},
		})
		return
	}

	respondSuccess(w, http.StatusOK, data, start)
}
