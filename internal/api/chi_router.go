// Killfeed - Killmail Ingestion Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/killfeed

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Router binds handlers to routes.
type Router struct {
	handler       *Handler
	chiMiddleware *ChiMiddleware
}

// NewRouter creates a router. A nil middleware factory uses the defaults.
func NewRouter(handler *Handler, mw *ChiMiddleware) *Router {
	if mw == nil {
		mw = NewChiMiddleware(nil)
	}
	return &Router{handler: handler, chiMiddleware: mw}
}

// SetupChi configures all HTTP routes using Chi router.
func (router *Router) SetupChi() http.Handler {
	r := chi.NewRouter()

	// Global middleware, applied to all routes in order
	r.Use(RequestIDWithLogging())
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(router.chiMiddleware.CORS()) // must be global to handle OPTIONS preflight

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(PrometheusMetrics)

		// Probes are exempt from rate limiting.
		r.Get("/health/live", router.handler.HealthLive)
		r.Get("/health/ready", router.handler.HealthReady)

		r.Group(func(r chi.Router) {
			r.Use(router.chiMiddleware.RateLimit())

			r.Route("/ingest", func(r chi.Router) {
				r.Get("/status", router.handler.IngestStatus)
				r.Post("/start", router.handler.IngestStart)
				r.Post("/stop", router.handler.IngestStop)
			})

			r.Route("/subscriptions", func(r chi.Router) {
				r.Post("/", router.handler.UpdateSubscriptions)
				r.Post("/locations", router.handler.SubscribeLocations)
				r.Post("/resync", router.handler.ResyncSubscriptions)
			})

			r.Route("/characters", func(r chi.Router) {
				r.Post("/", router.handler.TrackCharacters)
				r.Delete("/{id}", router.handler.UntrackCharacter)
				r.Get("/{id}/involvements", router.handler.CharacterInvolvements)
			})

			r.Get("/killmails/{id}", router.handler.GetKillmail)
		})
	})

	return r
}
