// Killfeed - Killmail Ingestion Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/killfeed

/*
Package ingest is the live ingestion core.

A killmail_update batch flows through:

	feed.Client (OnEvent) -> bounded queue -> worker
	    -> MapBatch -> IsRelevant -> Gateway.Ingest -> database

The Registry holds the SubscriptionSet (tracked characters and locations).
It is the only source used to replay subscriptions after a reconnect, so
the feed converges on the set even when individual pushes fail.

Every collaborator is injected as an interface so the Service can be tested
with fakes and no network.
*/
package ingest

import (
	"context"

	"github.com/goccy/go-json"

	"github.com/tomtom215/killfeed/internal/feed"
	"github.com/tomtom215/killfeed/internal/models"
)

// FeedConnection is the connection lifecycle the Service drives.
// *feed.Client implements it.
type FeedConnection interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	IsConnected() bool
	OnRejoin(handler feed.RejoinHandler)
	OnEvent(handler feed.EventHandler)
}

// Publisher sends one push to the feed and waits for its reply.
// *feed.Client implements it.
type Publisher interface {
	Push(ctx context.Context, event string, payload interface{}) (json.RawMessage, error)
}

// TrackedSource lists the durably tracked characters.
type TrackedSource interface {
	ListTrackedCharacterIDs(ctx context.Context) ([]int64, error)
}

// KillmailStore is the storage the Persistence Gateway writes through.
// *database.DB implements it.
type KillmailStore interface {
	IsCharacterTracked(ctx context.Context, characterID int64) (bool, error)
	UpsertKillmail(ctx context.Context, rec *models.KillmailRecord, involvements []models.InvolvementRecord) error
}

// Gateway persists one relevant killmail.
type Gateway interface {
	Ingest(ctx context.Context, rec *models.KillmailRecord) error
}
