// Killfeed - Killmail Ingestion Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/killfeed

package ingest

import (
	"errors"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/killfeed/internal/models"
)

func TestMapKillmailFullRecord(t *testing.T) {
	raw := json.RawMessage(`{
		"killmail_id": "123456789",
		"kill_time": "2026-03-14T15:09:26Z",
		"system_id": "30000142",
		"victim": {"character_id": 999, "corporation_id": "98000001", "alliance_id": null, "ship_type_id": 587, "damage_taken": "1,200"},
		"attackers": [
			{"character_id": 100, "corporation_id": 98000002, "alliance_id": 99000001, "ship_type_id": 11198, "damage_done": 1000, "final_blow": true},
			{"character_id": 0, "ship_type_id": 23913, "damage_done": 200}
		],
		"zkb": {"totalValue": "5000000.4", "npc": false, "solo": false}
	}`)

	rec, id, err := MapKillmail(raw, models.FlexInt64{})
	if err != nil {
		t.Fatalf("MapKillmail() error = %v", err)
	}
	if id != 123456789 || rec.KillmailID != 123456789 {
		t.Errorf("KillmailID = %d/%d, want 123456789", id, rec.KillmailID)
	}
	if !rec.OccurredAt.Equal(time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)) {
		t.Errorf("OccurredAt = %v", rec.OccurredAt)
	}
	if rec.LocationID != 30000142 {
		t.Errorf("LocationID = %d", rec.LocationID)
	}
	if rec.Victim.CharacterID == nil || *rec.Victim.CharacterID != 999 {
		t.Errorf("victim character = %v", rec.Victim.CharacterID)
	}
	if rec.Victim.AllianceID != nil {
		t.Errorf("victim alliance should be nil")
	}
	if rec.Victim.Damage != 1200 {
		t.Errorf("victim damage = %d, want 1200", rec.Victim.Damage)
	}
	if len(rec.Attackers) != 2 {
		t.Fatalf("attackers = %d, want 2", len(rec.Attackers))
	}
	if !rec.Attackers[0].IsFinalBlow || *rec.Attackers[0].AllianceID != 99000001 {
		t.Errorf("first attacker = %+v", rec.Attackers[0])
	}
	if rec.Attackers[1].CharacterID != nil {
		t.Errorf("character_id 0 should map to nil")
	}
	if rec.TotalValue != 5_000_000 {
		t.Errorf("TotalValue = %d, want 5000000", rec.TotalValue)
	}
}

func TestMapKillmailFallbacks(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		batchSys models.FlexInt64
		check    func(t *testing.T, rec models.KillmailRecord)
	}{
		{
			name: "killmail_time and solar_system_id",
			raw:  `{"killmail_id":1,"killmail_time":"2026-01-02 03:04:05","solar_system_id":30002187,"victim":{}}`,
			check: func(t *testing.T, rec models.KillmailRecord) {
				if rec.LocationID != 30002187 {
					t.Errorf("LocationID = %d", rec.LocationID)
				}
				if rec.OccurredAt.Hour() != 3 {
					t.Errorf("OccurredAt = %v", rec.OccurredAt)
				}
			},
		},
		{
			name:     "batch system id",
			raw:      `{"killmail_id":2,"kill_time":1767225600,"victim":{}}`,
			batchSys: models.FlexInt64{Value: 30000144, Valid: true},
			check: func(t *testing.T, rec models.KillmailRecord) {
				if rec.LocationID != 30000144 {
					t.Errorf("LocationID = %d", rec.LocationID)
				}
			},
		},
		{
			name: "snake case value",
			raw:  `{"killmail_id":3,"kill_time":"2026-01-01T00:00:00Z","system_id":1,"victim":{},"zkb":{"total_value":"1_500.6","npc":true}}`,
			check: func(t *testing.T, rec models.KillmailRecord) {
				if rec.TotalValue != 1501 || !rec.IsNPC {
					t.Errorf("TotalValue = %d, IsNPC = %v", rec.TotalValue, rec.IsNPC)
				}
			},
		},
		{
			name: "negative value clamps",
			raw:  `{"killmail_id":4,"kill_time":"2026-01-01T00:00:00Z","system_id":1,"victim":{},"zkb":{"totalValue":-5}}`,
			check: func(t *testing.T, rec models.KillmailRecord) {
				if rec.TotalValue != 0 {
					t.Errorf("TotalValue = %d, want 0", rec.TotalValue)
				}
			},
		},
		{
			name: "no attackers and no zkb",
			raw:  `{"killmail_id":5,"kill_time":"2026-01-01T00:00:00Z","system_id":1,"victim":{"character_id":7}}`,
			check: func(t *testing.T, rec models.KillmailRecord) {
				if len(rec.Attackers) != 0 || rec.TotalValue != 0 {
					t.Errorf("unexpected record %+v", rec)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, _, err := MapKillmail(json.RawMessage(tt.raw), tt.batchSys)
			if err != nil {
				t.Fatalf("MapKillmail() error = %v", err)
			}
			tt.check(t, rec)
		})
	}
}

func TestMapKillmailMalformed(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr error
		wantID  int64
	}{
		{name: "missing id", raw: `{"kill_time":"2026-01-01T00:00:00Z","system_id":1,"victim":{}}`, wantErr: ErrMissingKillmailID},
		{name: "zero id", raw: `{"killmail_id":0,"kill_time":"2026-01-01T00:00:00Z","system_id":1,"victim":{}}`, wantErr: ErrMissingKillmailID},
		{name: "missing time", raw: `{"killmail_id":9,"system_id":1,"victim":{}}`, wantErr: ErrMissingKillTime, wantID: 9},
		{name: "missing location", raw: `{"killmail_id":9,"kill_time":"2026-01-01T00:00:00Z","victim":{}}`, wantErr: ErrInvalidLocation, wantID: 9},
		{name: "location out of range", raw: `{"killmail_id":9,"kill_time":"2026-01-01T00:00:00Z","system_id":9999999999,"victim":{}}`, wantErr: ErrInvalidLocation, wantID: 9},
		{name: "missing victim", raw: `{"killmail_id":9,"kill_time":"2026-01-01T00:00:00Z","system_id":1}`, wantErr: ErrMissingVictim, wantID: 9},
		{name: "garbage id", raw: `{"killmail_id":"abc"}`},
		{name: "not an object", raw: `[1,2,3]`},
		{name: "attacker damage overflow", raw: `{"killmail_id":9,"kill_time":"2026-01-01T00:00:00Z","system_id":1,"victim":{},"attackers":[{"damage_done":99999999999}]}`, wantID: 9},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, id, err := MapKillmail(json.RawMessage(tt.raw), models.FlexInt64{})
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
			if id != tt.wantID {
				t.Errorf("id = %d, want %d", id, tt.wantID)
			}
		})
	}
}

func TestMapBatchSkipsMalformedRecords(t *testing.T) {
	update := decodeBatch(t, batchJSON(true,
		killmailJSON(1),
		`{"kill_time":"2026-01-01T00:00:00Z"}`,
		killmailJSON(3),
	))

	records, mapErrs := MapBatch(update)
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2", len(records))
	}
	if records[0].KillmailID != 1 || records[1].KillmailID != 3 {
		t.Errorf("delivery order not kept: %d, %d", records[0].KillmailID, records[1].KillmailID)
	}
	if len(mapErrs) != 1 {
		t.Fatalf("mapping errors = %d, want 1", len(mapErrs))
	}
	if mapErrs[0].Index != 1 || !errors.Is(mapErrs[0], ErrMissingKillmailID) {
		t.Errorf("mapping error = %+v", mapErrs[0])
	}
}

func TestMapBatchEmpty(t *testing.T) {
	records, mapErrs := MapBatch(nil)
	if records != nil || mapErrs != nil {
		t.Errorf("MapBatch(nil) = %v, %v", records, mapErrs)
	}
	records, mapErrs = MapBatch(&models.KillmailUpdate{})
	if len(records) != 0 || len(mapErrs) != 0 {
		t.Errorf("MapBatch(empty) = %v, %v", records, mapErrs)
	}
}
