// Killfeed - Killmail Ingestion Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/killfeed

package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/tomtom215/killfeed/internal/database"
	"github.com/tomtom215/killfeed/internal/models"
)

// involvementsQuery holds the validated query of the involvements read-back.
type involvementsQuery struct {
	CharacterID int64 `json:"id" validate:"gt=0"`
	Limit       int   `json:"limit" validate:"min=1,max=1000"`
}

// GetKillmail returns one stored killmail with its participants.
func (h *Handler) GetKillmail(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	km, err := h.store.GetKillmail(r.Context(), id)
	if errors.Is(err, database.ErrNotFound) {
		respondError(w, http.StatusNotFound, codeNotFound, "Killmail not found", nil)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, codeDatabase, "Failed to load killmail", err)
		return
	}

	respondSuccess(w, http.StatusOK, km, start)
}

// CharacterInvolvements lists the newest involvements of a tracked character.
func (h *Handler) CharacterInvolvements(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	q := involvementsQuery{CharacterID: id, Limit: getIntParam(r, "limit", 100)}
	if apiErr := validateRequest(&q); apiErr != nil {
		respondAPIError(w, http.StatusBadRequest, apiErr)
		return
	}

	involvements, err := h.store.ListInvolvements(r.Context(), q.CharacterID, q.Limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, codeDatabase, "Failed to list involvements", err)
		return
	}
	if involvements == nil {
		involvements = []models.InvolvementRecord{}
	}

	respondSuccess(w, http.StatusOK, involvements, start)
}
