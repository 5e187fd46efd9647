// Killfeed - Killmail Ingestion Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/killfeed

package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/tomtom215/killfeed/internal/models"
)

// PersistenceGateway derives involvements for a record and writes the
// record through the store in one transaction.
type PersistenceGateway struct {
	store KillmailStore
}

// NewPersistenceGateway creates a gateway over store.
func NewPersistenceGateway(store KillmailStore) *PersistenceGateway {
	return &PersistenceGateway{store: store}
}

// Ingest upserts rec. Involvements are computed against the tracked set as
// it is at this moment; they are not recomputed if tracking changes later.
func (g *PersistenceGateway) Ingest(ctx context.Context, rec *models.KillmailRecord) error {
	if rec == nil {
		return errors.New("nil killmail record")
	}

	involvements, err := g.involvements(ctx, rec)
	if err != nil {
		return fmt.Errorf("killmail %d: %w", rec.KillmailID, err)
	}
	if err := g.store.UpsertKillmail(ctx, rec, involvements); err != nil {
		return fmt.Errorf("killmail %d: %w", rec.KillmailID, err)
	}
	return nil
}

type involvementKey struct {
	characterID int64
	role        models.Role
}

// involvements looks up every participant character in storage.
func (g *PersistenceGateway) involvements(ctx context.Context, rec *models.KillmailRecord) ([]models.InvolvementRecord, error) {
	tracked := make(map[int64]bool)
	seen := make(map[involvementKey]struct{})
	var out []models.InvolvementRecord

	add := func(p *models.ParticipantRecord, role models.Role) error {
		if !p.HasCharacter() {
			return nil
		}
		id := *p.CharacterID

		isTracked, looked := tracked[id]
		if !looked {
			var err error
			isTracked, err = g.store.IsCharacterTracked(ctx, id)
			if err != nil {
				return fmt.Errorf("tracked lookup for character %d: %w", id, err)
			}
			tracked[id] = isTracked
		}
		if !isTracked {
			return nil
		}

		key := involvementKey{characterID: id, role: role}
		if _, dup := seen[key]; dup {
			return nil
		}
		seen[key] = struct{}{}
		out = append(out, models.InvolvementRecord{KillmailID: rec.KillmailID, CharacterID: id, Role: role})
		return nil
	}

	if err := add(&rec.Victim, models.RoleVictim); err != nil {
		return nil, err
	}
	for i := range rec.Attackers {
		if err := add(&rec.Attackers[i], models.RoleAttacker); err != nil {
			return nil, err
		}
	}
	return out, nil
}
