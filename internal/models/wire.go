// Killfeed - Killmail Ingestion Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/killfeed

package models

import (
	"github.com/goccy/go-json"
)

// Feed event names.
const (
	EventKillmailUpdate        = "killmail_update"
	EventKillCountUpdate       = "kill_count_update"
	EventSubscribeCharacters   = "subscribe_characters"
	EventUnsubscribeCharacters = "unsubscribe_characters"
	EventSubscribeSystems      = "subscribe_systems"
)

// KillmailUpdate is the payload of a killmail_update event. Killmails are
// kept raw so one malformed record cannot fail the whole batch decode.
type KillmailUpdate struct {
	SystemID  FlexInt64         `json:"system_id"`
	Killmails []json.RawMessage `json:"killmails"`
	Preload   bool              `json:"preload"`
	Timestamp FlexTime          `json:"timestamp"`
}

// KillCountUpdate is the payload of a kill_count_update event.
type KillCountUpdate struct {
	SystemID FlexInt64 `json:"system_id"`
	Count    FlexInt64 `json:"count"`
}

// RawKillmail is one killmail as delivered by the feed. The feed has used
// two naming schemes over time, so both spellings are accepted.
type RawKillmail struct {
	KillmailID    FlexInt64      `json:"killmail_id"`
	KillTime      FlexTime       `json:"kill_time"`
	KillmailTime  FlexTime       `json:"killmail_time"`
	SystemID      FlexInt64      `json:"system_id"`
	SolarSystemID FlexInt64      `json:"solar_system_id"`
	Victim        *RawVictim     `json:"victim"`
	Attackers     []RawAttacker  `json:"attackers"`
	ZKB           *RawZKBSummary `json:"zkb"`
}

// RawVictim is the victim block of a RawKillmail.
type RawVictim struct {
	CharacterID   FlexInt64 `json:"character_id"`
	CorporationID FlexInt64 `json:"corporation_id"`
	AllianceID    FlexInt64 `json:"alliance_id"`
	ShipTypeID    FlexInt64 `json:"ship_type_id"`
	DamageTaken   FlexInt64 `json:"damage_taken"`
}

// RawAttacker is one entry of the attackers list.
type RawAttacker struct {
	CharacterID   FlexInt64 `json:"character_id"`
	CorporationID FlexInt64 `json:"corporation_id"`
	AllianceID    FlexInt64 `json:"alliance_id"`
	ShipTypeID    FlexInt64 `json:"ship_type_id"`
	DamageDone    FlexInt64 `json:"damage_done"`
	FinalBlow     bool      `json:"final_blow"`
}

// RawZKBSummary carries the valuation and classification flags.
type RawZKBSummary struct {
	TotalValue      FlexFloat64 `json:"totalValue"`
	TotalValueSnake FlexFloat64 `json:"total_value"`
	NPC             bool        `json:"npc"`
	Solo            bool        `json:"solo"`
}

// PreloadConfig asks the feed to backfill recent killmails for newly
// subscribed entities.
type PreloadConfig struct {
	Enabled            bool `json:"enabled"`
	LimitPerSystem     int  `json:"limit_per_system"`
	SinceHours         int  `json:"since_hours"`
	DeliveryBatchSize  int  `json:"delivery_batch_size"`
	DeliveryIntervalMs int  `json:"delivery_interval_ms"`
}

// SubscribeCharactersPayload is sent with subscribe_characters.
type SubscribeCharactersPayload struct {
	CharacterIDs []int64        `json:"character_ids"`
	Preload      *PreloadConfig `json:"preload,omitempty"`
}

// UnsubscribeCharactersPayload is sent with unsubscribe_characters.
type UnsubscribeCharactersPayload struct {
	CharacterIDs []int64 `json:"character_ids"`
}

// SubscribeSystemsPayload is sent with subscribe_systems.
type SubscribeSystemsPayload struct {
	Systems []int64        `json:"systems"`
	Preload *PreloadConfig `json:"preload,omitempty"`
}
