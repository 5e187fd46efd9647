// Killfeed - Killmail Ingestion Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/killfeed

package database

import (
	"context"
	"fmt"
	"time"
)

// Participant and involvement rows are replaced wholesale on every upsert,
// so those tables carry no unique constraints. DuckDB checks unique
// indexes eagerly and would reject a delete plus reinsert of the same key
// inside one transaction.
var tableCreationQueries = []string{
	`CREATE TABLE IF NOT EXISTS killmails (
		killmail_id    BIGINT PRIMARY KEY,
		occurred_at    TIMESTAMP NOT NULL,
		location_id    INTEGER NOT NULL,
		total_value    UBIGINT NOT NULL,
		is_solo        BOOLEAN NOT NULL,
		is_npc         BOOLEAN NOT NULL,
		attacker_count INTEGER NOT NULL,
		ingested_at    TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS killmail_participants (
		killmail_id    BIGINT NOT NULL,
		position       INTEGER NOT NULL,
		role           VARCHAR NOT NULL,
		character_id   BIGINT,
		corporation_id BIGINT,
		alliance_id    BIGINT,
		ship_type_id   INTEGER NOT NULL,
		damage         INTEGER NOT NULL,
		is_final_blow  BOOLEAN NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS killmail_involvements (
		killmail_id  BIGINT NOT NULL,
		character_id BIGINT NOT NULL,
		role         VARCHAR NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS tracked_characters (
		character_id BIGINT PRIMARY KEY,
		added_at     TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_killmails_occurred_at ON killmails(occurred_at)`,
}

// createTables creates the schema if it does not exist.
func (db *DB) createTables() error {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	for _, q := range tableCreationQueries {
		if _, err := db.conn.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}
