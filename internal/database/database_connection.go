// Killfeed - Killmail Ingestion Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/killfeed

package database

import (
	"context"
	"runtime"
	"strings"
	"time"

	"github.com/tomtom215/killfeed/internal/logging"
)

// configureConnectionPool sets connection pool parameters.
func (db *DB) configureConnectionPool() {
	db.conn.SetMaxOpenConns(runtime.NumCPU())
	db.conn.SetMaxIdleConns(2)
	db.conn.SetConnMaxLifetime(time.Hour)
	db.conn.SetConnMaxIdleTime(5 * time.Minute)
}

// isTransactionConflict reports a DuckDB optimistic-concurrency failure.
// These happen when two transactions touch the same killmail row; the
// loser can simply retry.
func isTransactionConflict(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "Transaction conflict") ||
		strings.Contains(msg, "Conflict on update") ||
		strings.Contains(msg, "Conflict on tuple deletion")
}

// withConflictRetry runs fn, retrying with linear backoff while it fails
// with a transaction conflict.
func (db *DB) withConflictRetry(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 0; attempt <= db.conflictRetries; attempt++ {
		if attempt > 0 {
			logging.Ctx(ctx).Debug().Str("operation", op).Int("attempt", attempt).Msg("Retrying after transaction conflict")
			select {
			case <-time.After(time.Duration(attempt) * db.conflictBackoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err = fn(); !isTransactionConflict(err) {
			return err
		}
	}
	return err
}
