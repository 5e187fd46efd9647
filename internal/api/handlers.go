// Killfeed - Killmail Ingestion Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/killfeed

package api

import (
	"context"
	"time"

	"github.com/tomtom215/killfeed/internal/ingest"
	"github.com/tomtom215/killfeed/internal/models"
)

// IngestController is the orchestrator surface the API drives.
// *ingest.Service satisfies it.
type IngestController interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	UpdateSubscriptions(ctx context.Context, add, remove []int64) error
	SubscribeToLocations(ctx context.Context, locationIDs []int64) error
	Resync(ctx context.Context) error
	GetStatus() ingest.Status
}

// Store is the storage surface the API reads and writes.
// *database.DB satisfies it.
type Store interface {
	Ping(ctx context.Context) error
	GetKillmail(ctx context.Context, killmailID int64) (*models.KillmailRecord, error)
	ListInvolvements(ctx context.Context, characterID int64, limit int) ([]models.InvolvementRecord, error)
	CountKillmails(ctx context.Context) (int64, error)
	TrackCharacters(ctx context.Context, ids []int64) (int, error)
	UntrackCharacter(ctx context.Context, characterID int64) (bool, error)
}

// Handler contains dependencies for API handlers.
//
// Handler methods are split across files:
//   - handlers_health.go: liveness and readiness
//   - handlers_ingest.go: service lifecycle and status
//   - handlers_subscriptions.go: subscription and tracked-character changes
//   - handlers_killmails.go: killmail and involvement read-backs
type Handler struct {
	ingest    IngestController
	store     Store
	startTime time.Time
}

// NewHandler creates a new API handler.
//
// Example:
//
//	handler := api.NewHandler(svc, db)
//	router := api.NewRouter(handler, api.NewChiMiddleware(cfg))
//	srv := &http.Server{Addr: ":8080", Handler: router.SetupChi()}
func NewHandler(svc IngestController, store Store) *Handler {
	return &Handler{
		ingest:    svc,
		store:     store,
		startTime: time.Now(),
	}
}
