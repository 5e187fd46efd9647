// Killfeed - Killmail Ingestion Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/killfeed

package api

import (
	"net/http"
	"time"

	"github.com/tomtom215/killfeed/internal/logging"
)

// ingestStatusResponse adds storage totals to the service status.
type ingestStatusResponse struct {
	Service        interface{} `json:"service"`
	KillmailsTotal *int64      `json:"killmails_total,omitempty"`
}

// IngestStatus returns the live ingestion status.
func (h *Handler) IngestStatus(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	resp := ingestStatusResponse{Service: h.ingest.GetStatus()}

	if h.store != nil {
		if n, err := h.store.CountKillmails(r.Context()); err == nil {
			resp.KillmailsTotal = &n
		} else {
			logging.Ctx(r.Context()).Warn().Err(err).Msg("Failed to count killmails for status")
		}
	}

	respondSuccess(w, http.StatusOK, resp, start)
}

// IngestStart starts the ingestion service. A no-op when already running.
func (h *Handler) IngestStart(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if err := h.ingest.Start(r.Context()); err != nil {
		respondError(w, http.StatusServiceUnavailable, codeUnavailable, "Failed to start ingestion: "+err.Error(), err)
		return
	}
	logging.Ctx(r.Context()).Info().Msg("Ingestion started via API")
	respondSuccess(w, http.StatusOK, h.ingest.GetStatus(), start)
}

// IngestStop stops the ingestion service. A no-op when not running.
func (h *Handler) IngestStop(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if err := h.ingest.Stop(r.Context()); err != nil {
		respondError(w, http.StatusInternalServerError, codeInternal, "Failed to stop ingestion", err)
		return
	}
	logging.Ctx(r.Context()).Info().Msg("Ingestion stopped via API")
	respondSuccess(w, http.StatusOK, h.ingest.GetStatus(), start)
}
