// Killfeed - Killmail Ingestion Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/killfeed

/*
Package models defines the data structures shared across Killfeed.

Canonical records (KillmailRecord, ParticipantRecord, InvolvementRecord) are
what the ingestion pipeline filters and persists. Wire records (KillmailUpdate,
RawKillmail and friends) mirror the upstream feed payloads and are only
consumed by the event mapper. API request and response envelopes live in
api_responses.go.
*/
package models

import (
	"sort"
	"time"
)

// KillmailRecord is the canonical, storage-ready form of a killmail.
// KillmailID is the natural key: re-ingesting the same id overwrites.
type KillmailRecord struct {
	KillmailID int64               `json:"killmail_id"`
	OccurredAt time.Time           `json:"occurred_at"`
	LocationID int32               `json:"location_id"`
	Victim     ParticipantRecord   `json:"victim"`
	Attackers  []ParticipantRecord `json:"attackers"`
	TotalValue uint64              `json:"total_value"`
	IsSolo     bool                `json:"is_solo"`
	IsNPC      bool                `json:"is_npc"`
}

// ParticipantRecord is a victim or attacker. A nil CharacterID marks a
// non-player entity.
type ParticipantRecord struct {
	CharacterID   *int64 `json:"character_id,omitempty"`
	CorporationID *int64 `json:"corporation_id,omitempty"`
	AllianceID    *int64 `json:"alliance_id,omitempty"`
	ShipTypeID    int32  `json:"ship_type_id"`
	Damage        int32  `json:"damage"`
	IsFinalBlow   bool   `json:"is_final_blow"`
}

// HasCharacter reports whether the participant is a player character.
func (p ParticipantRecord) HasCharacter() bool {
	return p.CharacterID != nil
}

// Role distinguishes how a tracked character took part in a killmail.
type Role string

const (
	RoleVictim   Role = "victim"
	RoleAttacker Role = "attacker"
)

// InvolvementRecord links a tracked character to a killmail.
type InvolvementRecord struct {
	KillmailID  int64 `json:"killmail_id"`
	CharacterID int64 `json:"character_id"`
	Role        Role  `json:"role"`
}

// SubscriptionSet is the set of character and location ids the feed should
// deliver. The zero value is not usable; use NewSubscriptionSet.
type SubscriptionSet struct {
	CharacterIDs map[int64]struct{}
	LocationIDs  map[int64]struct{}
}

// NewSubscriptionSet returns an empty set.
func NewSubscriptionSet() SubscriptionSet {
	return SubscriptionSet{
		CharacterIDs: make(map[int64]struct{}),
		LocationIDs:  make(map[int64]struct{}),
	}
}

// HasCharacter reports whether id is subscribed.
func (s SubscriptionSet) HasCharacter(id int64) bool {
	_, ok := s.CharacterIDs[id]
	return ok
}

// HasLocation reports whether id is subscribed.
func (s SubscriptionSet) HasLocation(id int64) bool {
	_, ok := s.LocationIDs[id]
	return ok
}

// Clone returns a deep copy.
func (s SubscriptionSet) Clone() SubscriptionSet {
	c := SubscriptionSet{
		CharacterIDs: make(map[int64]struct{}, len(s.CharacterIDs)),
		LocationIDs:  make(map[int64]struct{}, len(s.LocationIDs)),
	}
	for id := range s.CharacterIDs {
		c.CharacterIDs[id] = struct{}{}
	}
	for id := range s.LocationIDs {
		c.LocationIDs[id] = struct{}{}
	}
	return c
}

// SortedCharacterIDs returns the character ids in ascending order.
func (s SubscriptionSet) SortedCharacterIDs() []int64 {
	return sortedKeys(s.CharacterIDs)
}

// SortedLocationIDs returns the location ids in ascending order.
func (s SubscriptionSet) SortedLocationIDs() []int64 {
	return sortedKeys(s.LocationIDs)
}

func sortedKeys(m map[int64]struct{}) []int64 {
	out := make([]int64, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
