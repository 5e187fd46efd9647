// Killfeed - Killmail Ingestion Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/killfeed

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/killfeed/internal/logging"
	"github.com/tomtom215/killfeed/internal/models"
)

const upsertKillmailQuery = `INSERT INTO killmails (
		killmail_id, occurred_at, location_id, total_value, is_solo, is_npc, attacker_count, ingested_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (killmail_id) DO UPDATE SET
		occurred_at = EXCLUDED.occurred_at,
		location_id = EXCLUDED.location_id,
		total_value = EXCLUDED.total_value,
		is_solo = EXCLUDED.is_solo,
		is_npc = EXCLUDED.is_npc,
		attacker_count = EXCLUDED.attacker_count,
		ingested_at = EXCLUDED.ingested_at`

const insertParticipantQuery = `INSERT INTO killmail_participants (
		killmail_id, position, role, character_id, corporation_id, alliance_id, ship_type_id, damage, is_final_blow
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

const insertInvolvementQuery = `INSERT INTO killmail_involvements (killmail_id, character_id, role) VALUES (?, ?, ?)`

// UpsertKillmail writes a killmail, its participants and the given
// involvements in one transaction. Existing participant and involvement
// rows for the killmail are replaced, so repeated calls with the same
// record leave exactly one copy of every row.
func (db *DB) UpsertKillmail(ctx context.Context, rec *models.KillmailRecord, involvements []models.InvolvementRecord) error {
	if rec == nil {
		return fmt.Errorf("killmail record is nil")
	}
	for _, inv := range involvements {
		if inv.KillmailID != rec.KillmailID {
			return fmt.Errorf("involvement for killmail %d does not belong to killmail %d", inv.KillmailID, rec.KillmailID)
		}
	}

	ctx, cancel := ensureContext(ctx)
	defer cancel()

	return db.withConflictRetry(ctx, "upsert_killmail", func() error {
		return db.upsertKillmailTx(ctx, rec, involvements)
	})
}

func (db *DB) upsertKillmailTx(ctx context.Context, rec *models.KillmailRecord, involvements []models.InvolvementRecord) (err error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				logging.Error().
					Err(rbErr).
					AnErr("original_error", err).
					Int64("killmail_id", rec.KillmailID).
					Msg("Transaction rollback failed")
			}
		}
	}()

	if _, err = tx.ExecContext(ctx, upsertKillmailQuery,
		rec.KillmailID,
		rec.OccurredAt.UTC(),
		rec.LocationID,
		rec.TotalValue,
		rec.IsSolo,
		rec.IsNPC,
		len(rec.Attackers),
		time.Now().UTC(),
	); err != nil {
		return fmt.Errorf("failed to upsert killmail %d: %w", rec.KillmailID, err)
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM killmail_participants WHERE killmail_id = ?`, rec.KillmailID); err != nil {
		return fmt.Errorf("failed to clear participants of killmail %d: %w", rec.KillmailID, err)
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM killmail_involvements WHERE killmail_id = ?`, rec.KillmailID); err != nil {
		return fmt.Errorf("failed to clear involvements of killmail %d: %w", rec.KillmailID, err)
	}

	if err = insertParticipant(ctx, tx, rec.KillmailID, 0, models.RoleVictim, &rec.Victim); err != nil {
		return err
	}
	for i := range rec.Attackers {
		if err = insertParticipant(ctx, tx, rec.KillmailID, i+1, models.RoleAttacker, &rec.Attackers[i]); err != nil {
			return err
		}
	}

	for _, inv := range involvements {
		if _, err = tx.ExecContext(ctx, insertInvolvementQuery, inv.KillmailID, inv.CharacterID, string(inv.Role)); err != nil {
			return fmt.Errorf("failed to insert involvement %d/%d: %w", inv.KillmailID, inv.CharacterID, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit killmail %d: %w", rec.KillmailID, err)
	}
	return nil
}

func insertParticipant(ctx context.Context, tx *sql.Tx, killmailID int64, position int, role models.Role, p *models.ParticipantRecord) error {
	_, err := tx.ExecContext(ctx, insertParticipantQuery,
		killmailID,
		position,
		string(role),
		nullableInt64(p.CharacterID),
		nullableInt64(p.CorporationID),
		nullableInt64(p.AllianceID),
		p.ShipTypeID,
		p.Damage,
		p.IsFinalBlow,
	)
	if err != nil {
		return fmt.Errorf("failed to insert %s at position %d of killmail %d: %w", role, position, killmailID, err)
	}
	return nil
}

// GetKillmail loads a killmail with its participants.
func (db *DB) GetKillmail(ctx context.Context, killmailID int64) (*models.KillmailRecord, error) {
	ctx, cancel := ensureContext(ctx)
	defer cancel()

	rec := &models.KillmailRecord{KillmailID: killmailID}
	err := db.conn.QueryRowContext(ctx, `
		SELECT occurred_at, location_id, total_value, is_solo, is_npc
		FROM killmails WHERE killmail_id = ?`, killmailID,
	).Scan(&rec.OccurredAt, &rec.LocationID, &rec.TotalValue, &rec.IsSolo, &rec.IsNPC)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query killmail %d: %w", killmailID, err)
	}
	rec.OccurredAt = rec.OccurredAt.UTC()

	rows, err := db.conn.QueryContext(ctx, `
		SELECT position, character_id, corporation_id, alliance_id, ship_type_id, damage, is_final_blow
		FROM killmail_participants
		WHERE killmail_id = ?
		ORDER BY position`, killmailID)
	if err != nil {
		return nil, fmt.Errorf("failed to query participants of killmail %d: %w", killmailID, err)
	}
	defer closeWithLog(rows, "killmail participant rows")

	for rows.Next() {
		var (
			position              int
			character, corp, ally sql.NullInt64
			p                     models.ParticipantRecord
		)
		if err := rows.Scan(&position, &character, &corp, &ally, &p.ShipTypeID, &p.Damage, &p.IsFinalBlow); err != nil {
			return nil, fmt.Errorf("failed to scan participant: %w", err)
		}
		p.CharacterID = int64Ptr(character)
		p.CorporationID = int64Ptr(corp)
		p.AllianceID = int64Ptr(ally)
		if position == 0 {
			rec.Victim = p
		} else {
			rec.Attackers = append(rec.Attackers, p)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate participants: %w", err)
	}
	return rec, nil
}

// ListInvolvements returns the involvements of a character, newest
// killmail first.
func (db *DB) ListInvolvements(ctx context.Context, characterID int64, limit int) ([]models.InvolvementRecord, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	ctx, cancel := ensureContext(ctx)
	defer cancel()

	rows, err := db.conn.QueryContext(ctx, `
		SELECT i.killmail_id, i.character_id, i.role
		FROM killmail_involvements i
		JOIN killmails k ON k.killmail_id = i.killmail_id
		WHERE i.character_id = ?
		ORDER BY k.occurred_at DESC, i.killmail_id DESC
		LIMIT ?`, characterID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query involvements: %w", err)
	}
	defer closeWithLog(rows, "involvement rows")

	var out []models.InvolvementRecord
	for rows.Next() {
		var (
			inv  models.InvolvementRecord
			role string
		)
		if err := rows.Scan(&inv.KillmailID, &inv.CharacterID, &role); err != nil {
			return nil, fmt.Errorf("failed to scan involvement: %w", err)
		}
		inv.Role = models.Role(role)
		out = append(out, inv)
	}
	return out, rows.Err()
}

// CountKillmails returns the number of stored killmails.
func (db *DB) CountKillmails(ctx context.Context) (int64, error) {
	ctx, cancel := ensureContext(ctx)
	defer cancel()

	var n int64
	if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM killmails`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count killmails: %w", err)
	}
	return n, nil
}

func nullableInt64(p *int64) interface{} {
	if p == nil {
		return nil
	}
	return *p
}

func int64Ptr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}
