// Killfeed - Killmail Ingestion Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/killfeed

// Package main is the entry point for the Killfeed server.
//
// Killfeed joins an upstream killmail feed over Phoenix Channels, keeps the
// feed subscribed to the characters tracked in DuckDB, filters each batch
// client-side and persists relevant killmails with their tracked-character
// involvements.
//
// # Startup order
//
//  1. Configuration (koanf: defaults, optional YAML, environment)
//  2. Logging (zerolog)
//  3. DuckDB
//  4. Feed client, subscription registry, persistence gateway with circuit
//     breaker, ingestion service
//  5. Admin API (chi)
//  6. Supervisor tree (suture): data, ingest and api layers
//
// # Configuration
//
// The most common environment variables:
//
//	FEED_URL=wss://feed.example.com/socket/websocket
//	FEED_CONNECT_TIMEOUT_MS=10000
//	PRELOAD_ENABLED=true
//	DUCKDB_PATH=/data/killfeed.duckdb
//	HTTP_PORT=4010
//	LOG_LEVEL=info
//	LOG_FORMAT=json
//
// CONFIG_PATH points at an optional YAML file with the same keys.
//
// # Signal handling
//
// SIGINT and SIGTERM cancel the supervisor tree. The ingestion service
// unsubscribes, leaves the topic, drains queued batches within
// INGEST_SHUTDOWN_TIMEOUT and the database is checkpointed on close.
package main
