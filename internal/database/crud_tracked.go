// Killfeed - Killmail Ingestion Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/killfeed

package database

import (
	"context"
	"fmt"
	"time"

	"github.com/tomtom215/killfeed/internal/logging"
)

// ListTrackedCharacterIDs returns every tracked character id in ascending order.
func (db *DB) ListTrackedCharacterIDs(ctx context.Context) ([]int64, error) {
	ctx, cancel := ensureContext(ctx)
	defer cancel()

	rows, err := db.conn.QueryContext(ctx, `SELECT character_id FROM tracked_characters ORDER BY character_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query tracked characters: %w", err)
	}
	defer closeWithLog(rows, "tracked character rows")

	ids := make([]int64, 0, 64)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan tracked character: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tracked characters: %w", err)
	}
	return ids, nil
}

// IsCharacterTracked reports whether characterID is tracked right now.
func (db *DB) IsCharacterTracked(ctx context.Context, characterID int64) (bool, error) {
	ctx, cancel := ensureContext(ctx)
	defer cancel()

	var n int
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tracked_characters WHERE character_id = ?`, characterID,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to look up tracked character %d: %w", characterID, err)
	}
	return n > 0, nil
}

// TrackCharacters adds ids to the tracked set and returns how many were new.
func (db *DB) TrackCharacters(ctx context.Context, ids []int64) (added int, err error) {
	if len(ids) == 0 {
		return 0, nil
	}
	ctx, cancel := ensureContext(ctx)
	defer cancel()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				logging.Error().Err(rbErr).AnErr("original_error", err).Msg("Transaction rollback failed")
			}
		}
	}()

	now := time.Now().UTC()
	for _, id := range ids {
		res, execErr := tx.ExecContext(ctx,
			`INSERT INTO tracked_characters (character_id, added_at) VALUES (?, ?) ON CONFLICT DO NOTHING`, id, now)
		if execErr != nil {
			err = fmt.Errorf("failed to track character %d: %w", id, execErr)
			return 0, err
		}
		if n, raErr := res.RowsAffected(); raErr == nil {
			added += int(n)
		}
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit tracked characters: %w", err)
	}
	return added, nil
}

// UntrackCharacter removes characterID. It reports whether a row was removed.
// Existing involvement rows are left in place.
func (db *DB) UntrackCharacter(ctx context.Context, characterID int64) (bool, error) {
	ctx, cancel := ensureContext(ctx)
	defer cancel()

	res, err := db.conn.ExecContext(ctx, `DELETE FROM tracked_characters WHERE character_id = ?`, characterID)
	if err != nil {
		return false, fmt.Errorf("failed to untrack character %d: %w", characterID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n > 0, nil
}
