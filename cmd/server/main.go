// Killfeed - Killmail Ingestion Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/killfeed

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tomtom215/killfeed/internal/api"
	"github.com/tomtom215/killfeed/internal/config"
	"github.com/tomtom215/killfeed/internal/database"
	"github.com/tomtom215/killfeed/internal/feed"
	"github.com/tomtom215/killfeed/internal/ingest"
	"github.com/tomtom215/killfeed/internal/logging"
	"github.com/tomtom215/killfeed/internal/models"
	"github.com/tomtom215/killfeed/internal/supervisor"
	"github.com/tomtom215/killfeed/internal/supervisor/services"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("feed_url", cfg.Feed.URL).
		Str("db_path", cfg.Database.Path).
		Bool("preload", cfg.Feed.Preload.Enabled).
		Msg("Configuration loaded")

	db, err := database.New(&cfg.Database)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing database")
		}
	}()
	logging.Info().Msg("Database initialized successfully")

	svc := newIngestService(cfg, db)

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		FailureThreshold: cfg.Supervisor.FailureThreshold,
		FailureDecay:     cfg.Supervisor.FailureDecay,
		FailureBackoff:   cfg.Supervisor.FailureBackoff,
		ShutdownTimeout:  cfg.Supervisor.ShutdownTimeout,
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create supervisor tree")
	}

	if cfg.Database.CheckpointInterval > 0 {
		tree.AddDataService(services.NewCheckpointService(db, cfg.Database.CheckpointInterval))
	}
	tree.AddIngestService(services.NewIngestService(svc))

	router := api.NewRouter(
		api.NewHandler(svc, db),
		api.NewChiMiddlewareFromServer(cfg.Server.CORSOrigins, cfg.Server.RateLimitReqs, cfg.Server.RateLimitWindow),
	)
	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router.SetupChi(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.Timeout,
		WriteTimeout:      cfg.Server.Timeout,
		IdleTimeout:       60 * time.Second,
	}
	tree.AddAPIService(services.NewHTTPServerService(server, 10*time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("Starting supervisor tree...")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish...")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, s := range unstopped {
		logging.Warn().Str("service", s.Name).Msg("Service failed to stop within timeout")
	}

	logging.Info().Msg("Killfeed stopped")
}

// newIngestService wires feed client, registry, gateway and service. The
// registry pushes through the same client the service connects.
func newIngestService(cfg *config.Config, db *database.DB) *ingest.Service {
	client := feed.NewClient(feed.Options{
		URL:               cfg.Feed.URL,
		Topic:             feed.TopicKillmails,
		ConnectTimeout:    cfg.Feed.ConnectTimeout(),
		HeartbeatInterval: cfg.Feed.HeartbeatInterval,
		PushTimeout:       cfg.Feed.PushTimeout,
		LeaveTimeout:      cfg.Feed.LeaveTimeout,
		ReconnectMaxDelay: cfg.Feed.ReconnectMaxDelay,
	})

	var preload *models.PreloadConfig
	if p := cfg.Feed.Preload; p.Enabled {
		preload = &models.PreloadConfig{
			Enabled:            true,
			LimitPerSystem:     p.LimitPerSystem,
			SinceHours:         p.SinceHours,
			DeliveryBatchSize:  p.DeliveryBatchSize,
			DeliveryIntervalMs: p.DeliveryIntervalMs,
		}
	}

	registry := ingest.NewRegistry(db, client, ingest.RegistryConfig{
		ChunkSize: cfg.Feed.SubscribeChunkSize,
		Rate:      cfg.Feed.SubscribeRate,
		Preload:   preload,
	})

	gateway := ingest.NewCircuitBreakerGateway(
		ingest.NewPersistenceGateway(db),
		cfg.Ingest.BreakerFailureThreshold,
		cfg.Ingest.BreakerOpenTimeout,
	)

	return ingest.NewService(client, registry, gateway, ingest.Config{
		QueueSize:       cfg.Ingest.QueueSize,
		ShutdownTimeout: cfg.Ingest.ShutdownTimeout,
	})
}
