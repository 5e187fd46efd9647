// Killfeed - Killmail Ingestion Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/killfeed

package ingest

import (
	"errors"
	"fmt"
	"math"

	"github.com/goccy/go-json"

	"github.com/tomtom215/killfeed/internal/models"
)

// Mapping errors. A record failing any of these is skipped.
var (
	ErrMissingKillmailID = errors.New("killmail id missing or not positive")
	ErrMissingKillTime   = errors.New("kill time missing")
	ErrInvalidLocation   = errors.New("location id missing or out of range")
	ErrMissingVictim     = errors.New("victim missing")
)

// MappingError reports one skipped record of a batch.
type MappingError struct {
	Index      int
	KillmailID int64 // 0 when the id itself could not be read
	Err        error
}

func (e MappingError) Error() string {
	if e.KillmailID != 0 {
		return fmt.Sprintf("killmail %d (index %d): %v", e.KillmailID, e.Index, e.Err)
	}
	return fmt.Sprintf("killmail at index %d: %v", e.Index, e.Err)
}

func (e MappingError) Unwrap() error {
	return e.Err
}

// MapBatch converts every record of update into a KillmailRecord. Records
// that cannot be mapped are reported and skipped; the rest keep their
// delivery order.
func MapBatch(update *models.KillmailUpdate) ([]models.KillmailRecord, []MappingError) {
	if update == nil || len(update.Killmails) == 0 {
		return nil, nil
	}

	records := make([]models.KillmailRecord, 0, len(update.Killmails))
	var mapErrs []MappingError

	for i, raw := range update.Killmails {
		rec, id, err := MapKillmail(raw, update.SystemID)
		if err != nil {
			mapErrs = append(mapErrs, MappingError{Index: i, KillmailID: id, Err: err})
			continue
		}
		records = append(records, rec)
	}
	return records, mapErrs
}

// MapKillmail maps one raw record. batchSystemID is used when the record
// carries no system of its own. The returned id is set whenever it could be
// read, even on error.
func MapKillmail(raw json.RawMessage, batchSystemID models.FlexInt64) (models.KillmailRecord, int64, error) {
	var km models.RawKillmail
	if err := json.Unmarshal(raw, &km); err != nil {
		return models.KillmailRecord{}, 0, fmt.Errorf("decode: %w", err)
	}

	if !km.KillmailID.Valid || km.KillmailID.Value <= 0 {
		return models.KillmailRecord{}, 0, ErrMissingKillmailID
	}
	id := km.KillmailID.Value

	occurredAt := km.KillTime
	if !occurredAt.Valid {
		occurredAt = km.KillmailTime
	}
	if !occurredAt.Valid {
		return models.KillmailRecord{}, id, ErrMissingKillTime
	}

	location, ok := firstValid(km.SystemID, km.SolarSystemID, batchSystemID)
	if !ok || location <= 0 || location > math.MaxInt32 {
		return models.KillmailRecord{}, id, ErrInvalidLocation
	}

	if km.Victim == nil {
		return models.KillmailRecord{}, id, ErrMissingVictim
	}

	victim, err := mapVictim(km.Victim)
	if err != nil {
		return models.KillmailRecord{}, id, fmt.Errorf("victim: %w", err)
	}

	attackers := make([]models.ParticipantRecord, 0, len(km.Attackers))
	for i := range km.Attackers {
		a, err := mapAttacker(&km.Attackers[i])
		if err != nil {
			return models.KillmailRecord{}, id, fmt.Errorf("attacker %d: %w", i, err)
		}
		attackers = append(attackers, a)
	}

	rec := models.KillmailRecord{
		KillmailID: id,
		OccurredAt: occurredAt.Value.UTC(),
		LocationID: int32(location),
		Victim:     victim,
		Attackers:  attackers,
	}
	if km.ZKB != nil {
		rec.TotalValue = totalValue(km.ZKB)
		rec.IsSolo = km.ZKB.Solo
		rec.IsNPC = km.ZKB.NPC
	}
	return rec, id, nil
}

func mapVictim(v *models.RawVictim) (models.ParticipantRecord, error) {
	ship, err := toInt32(v.ShipTypeID)
	if err != nil {
		return models.ParticipantRecord{}, fmt.Errorf("ship_type_id: %w", err)
	}
	damage, err := toInt32(v.DamageTaken)
	if err != nil {
		return models.ParticipantRecord{}, fmt.Errorf("damage_taken: %w", err)
	}
	return models.ParticipantRecord{
		CharacterID:   entityID(v.CharacterID),
		CorporationID: entityID(v.CorporationID),
		AllianceID:    entityID(v.AllianceID),
		ShipTypeID:    ship,
		Damage:        damage,
	}, nil
}

func mapAttacker(a *models.RawAttacker) (models.ParticipantRecord, error) {
	ship, err := toInt32(a.ShipTypeID)
	if err != nil {
		return models.ParticipantRecord{}, fmt.Errorf("ship_type_id: %w", err)
	}
	damage, err := toInt32(a.DamageDone)
	if err != nil {
		return models.ParticipantRecord{}, fmt.Errorf("damage_done: %w", err)
	}
	return models.ParticipantRecord{
		CharacterID:   entityID(a.CharacterID),
		CorporationID: entityID(a.CorporationID),
		AllianceID:    entityID(a.AllianceID),
		ShipTypeID:    ship,
		Damage:        damage,
		IsFinalBlow:   a.FinalBlow,
	}, nil
}

// entityID treats absent and non-positive ids as "no entity".
func entityID(f models.FlexInt64) *int64 {
	if !f.Valid || f.Value <= 0 {
		return nil
	}
	return f.Ptr()
}

func toInt32(f models.FlexInt64) (int32, error) {
	if !f.Valid {
		return 0, nil
	}
	if f.Value < math.MinInt32 || f.Value > math.MaxInt32 {
		return 0, fmt.Errorf("value %d out of range", f.Value)
	}
	return int32(f.Value), nil
}

func firstValid(candidates ...models.FlexInt64) (int64, bool) {
	for _, c := range candidates {
		if c.Valid {
			return c.Value, true
		}
	}
	return 0, false
}

// totalValue rounds the ISK value to whole units. Negative values clamp to 0.
func totalValue(z *models.RawZKBSummary) uint64 {
	v := z.TotalValue
	if !v.Valid {
		v = z.TotalValueSnake
	}
	if !v.Valid || v.Value <= 0 {
		return 0
	}
	if v.Value >= math.MaxUint64 {
		return math.MaxUint64
	}
	return uint64(math.Round(v.Value))
}
