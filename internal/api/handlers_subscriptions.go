// Killfeed - Killmail Ingestion Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/killfeed

package api

import (
	"net/http"
	"time"

	"github.com/tomtom215/killfeed/internal/logging"
	"github.com/tomtom215/killfeed/internal/models"
)

// subscriptionResult reports whether the feed confirmed a subscription change.
// An unconfirmed change stays in the registry and is replayed on rejoin.
type subscriptionResult struct {
	Confirmed                bool   `json:"confirmed"`
	Reason                   string `json:"reason,omitempty"`
	Added                    *int   `json:"added,omitempty"`
	SubscribedCharacterCount int    `json:"subscribed_character_count"`
	SubscribedLocationCount  int    `json:"subscribed_location_count"`
}

func (h *Handler) subscriptionResult(err error) (int, subscriptionResult) {
	status := h.ingest.GetStatus()
	res := subscriptionResult{
		Confirmed:                err == nil,
		SubscribedCharacterCount: status.SubscribedCharacterCount,
		SubscribedLocationCount:  status.SubscribedLocationCount,
	}
	if err != nil {
		res.Reason = err.Error()
		return http.StatusAccepted, res
	}
	return http.StatusOK, res
}

// UpdateSubscriptions applies {add, remove} to the character subscriptions.
func (h *Handler) UpdateSubscriptions(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req models.UpdateSubscriptionsRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	err := h.ingest.UpdateSubscriptions(r.Context(), req.Add, req.Remove)
	code, res := h.subscriptionResult(err)
	respondSuccess(w, code, res, start)
}

// SubscribeLocations adds solar-system subscriptions.
func (h *Handler) SubscribeLocations(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req models.SubscribeLocationsRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	err := h.ingest.SubscribeToLocations(r.Context(), req.LocationIDs)
	code, res := h.subscriptionResult(err)
	respondSuccess(w, code, res, start)
}

// ResyncSubscriptions reloads tracked characters from storage and replays the
// full set to the feed.
func (h *Handler) ResyncSubscriptions(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if err := h.ingest.Resync(r.Context()); err != nil {
		respondError(w, http.StatusServiceUnavailable, codeUnavailable, "Resync failed: "+err.Error(), err)
		return
	}
	_, res := h.subscriptionResult(nil)
	respondSuccess(w, http.StatusOK, res, start)
}

// TrackCharacters persists tracked characters, then subscribes to them.
func (h *Handler) TrackCharacters(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req models.TrackCharactersRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	added, err := h.store.TrackCharacters(r.Context(), req.CharacterIDs)
	if err != nil {
		respondError(w, http.StatusInternalServerError, codeDatabase, "Failed to track characters", err)
		return
	}

	subErr := h.ingest.UpdateSubscriptions(r.Context(), req.CharacterIDs, nil)
	if subErr != nil {
		logging.Ctx(r.Context()).Warn().Err(subErr).Int("added", added).Msg("Tracked characters stored but subscription not confirmed")
	}
	code, res := h.subscriptionResult(subErr)
	res.Added = &added
	respondSuccess(w, code, res, start)
}

// UntrackCharacter removes a tracked character, then unsubscribes from it.
// Existing involvements are kept.
func (h *Handler) UntrackCharacter(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	removed, err := h.store.UntrackCharacter(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, codeDatabase, "Failed to untrack character", err)
		return
	}
	if !removed {
		respondError(w, http.StatusNotFound, codeNotFound, "Character is not tracked", nil)
		return
	}

	code, res := h.subscriptionResult(h.ingest.UpdateSubscriptions(r.Context(), nil, []int64{id}))
	respondSuccess(w, code, res, start)
}
