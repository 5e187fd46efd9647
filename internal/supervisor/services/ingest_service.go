// Killfeed - Killmail Ingestion Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/killfeed

package services

import (
	"context"
	"fmt"
)

// StartStopper matches the ingest.Service lifecycle.
type StartStopper interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// IngestService wraps the ingestion service as a supervised service.
//
// It adapts the Start/Stop lifecycle pattern to suture's Serve pattern:
//  1. Calls Start(ctx) to connect, join and replay subscriptions
//  2. Waits for context cancellation
//  3. Calls Stop for graceful shutdown (unsubscribe, leave, drain)
//
// A Start error is returned so suture restarts the service with backoff.
// Stop and Start issued through the admin API do not end Serve; the
// service stays under supervision and is stopped again (a no-op) on
// shutdown.
type IngestService struct {
	service StartStopper
	name    string
}

// NewIngestService creates a new ingestion service wrapper.
func NewIngestService(service StartStopper) *IngestService {
	return &IngestService{
		service: service,
		name:    "killmail-ingest",
	}
}

// Serve implements suture.Service.
func (s *IngestService) Serve(ctx context.Context) error {
	if err := s.service.Start(ctx); err != nil {
		return fmt.Errorf("ingest service start failed: %w", err)
	}

	<-ctx.Done()

	// ctx is already canceled; Stop bounds itself with its own timeout.
	if err := s.service.Stop(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("ingest service stop failed: %w", err)
	}
	return ctx.Err()
}

// String implements fmt.Stringer for logging.
func (s *IngestService) String() string {
	return s.name
}
