// Killfeed - Killmail Ingestion Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/killfeed

/*
Package supervisor provides process supervision for Killfeed using suture v4.

Services are organized into three layers for failure isolation:

	RootSupervisor ("killfeed")
	├── DataSupervisor ("data-layer")
	│   └── CheckpointService (if database.checkpoint_interval > 0)
	├── IngestSupervisor ("ingest-layer")
	│   └── IngestService
	└── APISupervisor ("api-layer")
	    └── HTTPServerService

If the feed is unreachable at startup, IngestService returns the connect
error and suture restarts it with backoff while the API keeps serving.
Supervisor events are logged through sutureslog into the zerolog logger
(see logging.NewSlogLogger).

Usage:

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.TreeConfig{})
	tree.AddIngestService(services.NewIngestService(svc))
	tree.AddAPIService(services.NewHTTPServerService(server, 10*time.Second))
	err = tree.Serve(ctx)
*/
package supervisor
