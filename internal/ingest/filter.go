// Killfeed - Killmail Ingestion Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/killfeed

package ingest

import "github.com/tomtom215/killfeed/internal/models"

// IsRelevant reports whether rec involves a subscribed character (victim or
// any attacker) or happened in a subscribed location.
func IsRelevant(rec *models.KillmailRecord, subs models.SubscriptionSet) bool {
	if rec == nil {
		return false
	}
	if subs.HasLocation(int64(rec.LocationID)) {
		return true
	}
	if id := rec.Victim.CharacterID; id != nil && subs.HasCharacter(*id) {
		return true
	}
	for i := range rec.Attackers {
		if id := rec.Attackers[i].CharacterID; id != nil && subs.HasCharacter(*id) {
			return true
		}
	}
	return false
}
