// Killfeed - Killmail Ingestion Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/killfeed

/*
Package services provides suture.Service wrappers for Killfeed components.

Each wrapper translates a component lifecycle (Start/Stop, ListenAndServe,
a periodic task) into suture's context-aware Serve and implements
fmt.Stringer so supervisor logs name the service.

Available services:

  - IngestService: ingest.Service Start on Serve, Stop on cancellation
  - HTTPServerService: *http.Server with graceful Shutdown
  - CheckpointService: periodic DuckDB CHECKPOINT
*/
package services
