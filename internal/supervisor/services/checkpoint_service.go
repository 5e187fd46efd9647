// Killfeed - Killmail Ingestion Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/killfeed

package services

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/killfeed/internal/logging"
)

// Checkpointer is satisfied by *database.DB.
type Checkpointer interface {
	Checkpoint(ctx context.Context) error
}

// CheckpointService periodically flushes the DuckDB WAL into the database
// file so a crash replays less log on restart.
//
// Checkpoint failures are logged and retried on the next tick; they never
// end Serve.
type CheckpointService struct {
	db       Checkpointer
	interval time.Duration
	name     string
	log      zerolog.Logger
}

// NewCheckpointService creates a checkpoint service. interval must be positive.
func NewCheckpointService(db Checkpointer, interval time.Duration) *CheckpointService {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &CheckpointService{
		db:       db,
		interval: interval,
		name:     "duckdb-checkpoint",
		log:      logging.WithComponent("checkpoint"),
	}
}

// Serve implements suture.Service.
func (s *CheckpointService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			start := time.Now()
			if err := s.db.Checkpoint(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				s.log.Warn().Err(err).Msg("Periodic checkpoint failed")
				continue
			}
			s.log.Debug().Dur("duration", time.Since(start)).Msg("Database checkpoint complete")
		}
	}
}

// String implements fmt.Stringer for logging.
func (s *CheckpointService) String() string {
	return s.name
}
