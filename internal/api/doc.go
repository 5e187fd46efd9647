// Killfeed - Killmail Ingestion Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/killfeed

/*
Package api provides the admin HTTP API for Killfeed.

The API lets operators and the bot layer drive the ingestion service and
read back stored killmails. Every response uses the models.APIResponse
envelope.

Routes:

	GET    /api/v1/health/live
	GET    /api/v1/health/ready              503 unless running and connected
	GET    /api/v1/ingest/status
	POST   /api/v1/ingest/start
	POST   /api/v1/ingest/stop
	POST   /api/v1/subscriptions             {"add": [...], "remove": [...]}
	POST   /api/v1/subscriptions/locations   {"location_ids": [...]}
	POST   /api/v1/subscriptions/resync
	POST   /api/v1/characters                {"character_ids": [...]}
	DELETE /api/v1/characters/{id}
	GET    /api/v1/characters/{id}/involvements?limit=100
	GET    /api/v1/killmails/{id}
	GET    /metrics

Subscription changes that the feed did not confirm are still kept by the
registry and replayed on the next rejoin, so those handlers answer 202
Accepted with "confirmed": false rather than failing the request.

Middleware (in order): request ID with logging context, real IP, panic
recovery, CORS (go-chi/cors), rate limiting (go-chi/httprate) and
Prometheus request metrics.
*/
package api
