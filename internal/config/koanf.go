// Killfeed - Killmail Ingestion Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/killfeed

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths are searched in order; the first existing file wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/killfeed/config.yaml",
	"/etc/killfeed/config.yml",
}

// ConfigPathEnvVar overrides the config file location.
const ConfigPathEnvVar = "CONFIG_PATH"

func defaultConfig() *Config {
	return &Config{
		Feed: FeedConfig{
			URL:                "ws://localhost:4004/socket/websocket",
			ConnectTimeoutMs:   10000,
			HeartbeatInterval:  30 * time.Second,
			PushTimeout:        10 * time.Second,
			LeaveTimeout:       5 * time.Second,
			ReconnectMaxDelay:  32 * time.Second,
			SubscribeChunkSize: 500,
			SubscribeRate:      5,
			Preload: PreloadConfig{
				Enabled:            true,
				LimitPerSystem:     5,
				SinceHours:         24,
				DeliveryBatchSize:  10,
				DeliveryIntervalMs: 1000,
			},
		},
		Ingest: IngestConfig{
			QueueSize:               256,
			ShutdownTimeout:         15 * time.Second,
			BreakerFailureThreshold: 5,
			BreakerOpenTimeout:      30 * time.Second,
		},
		Database: DatabaseConfig{
			Path:               "/data/killfeed.duckdb",
			MaxMemory:          "1GB",
			Threads:            0,
			CheckpointInterval: 5 * time.Minute,
		},
		Server: ServerConfig{
			Port:            4010,
			Host:            "0.0.0.0",
			Timeout:         30 * time.Second,
			RateLimitReqs:   100,
			RateLimitWindow: time.Minute,
			CORSOrigins:     []string{"*"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Supervisor: SupervisorConfig{
			FailureThreshold: 5,
			FailureDecay:     30,
			FailureBackoff:   15 * time.Second,
			ShutdownTimeout:  20 * time.Second,
		},
	}
}

// Load builds the configuration from three layers:
//  1. Defaults
//  2. Config file (optional YAML)
//  3. Environment variables
//
// and validates the result.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

var sliceConfigPaths = []string{
	"server.cors_origins",
}

// processSliceFields splits comma-separated env values for slice fields.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok || strVal == "" {
			continue
		}
		var parts []string
		for _, p := range strings.Split(strVal, ",") {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, p)
			}
		}
		if len(parts) == 0 {
			continue
		}
		if err := k.Set(path, parts); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

var envMappings = map[string]string{
	"feed_url":                "feed.url",
	"feed_connect_timeout_ms": "feed.connect_timeout_ms",
	"feed_heartbeat_interval": "feed.heartbeat_interval",
	"feed_push_timeout":       "feed.push_timeout",
	"feed_leave_timeout":      "feed.leave_timeout",
	"feed_reconnect_max":      "feed.reconnect_max_delay",
	"feed_subscribe_chunk":    "feed.subscribe_chunk_size",
	"feed_subscribe_rate":     "feed.subscribe_rate",

	"preload_enabled":              "feed.preload.enabled",
	"preload_limit_per_system":     "feed.preload.limit_per_system",
	"preload_since_hours":          "feed.preload.since_hours",
	"preload_delivery_batch_size":  "feed.preload.delivery_batch_size",
	"preload_delivery_interval_ms": "feed.preload.delivery_interval_ms",

	"ingest_queue_size":        "ingest.queue_size",
	"ingest_shutdown_timeout":  "ingest.shutdown_timeout",
	"ingest_breaker_threshold": "ingest.breaker_failure_threshold",
	"ingest_breaker_timeout":   "ingest.breaker_open_timeout",

	"duckdb_path":       "database.path",
	"duckdb_max_memory": "database.max_memory",
	"duckdb_threads":    "database.threads",

	"duckdb_checkpoint_interval": "database.checkpoint_interval",

	"http_port":           "server.port",
	"http_host":           "server.host",
	"http_timeout":        "server.timeout",
	"rate_limit_requests": "server.rate_limit_reqs",
	"rate_limit_window":   "server.rate_limit_window",
	"cors_origins":        "server.cors_origins",

	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",

	"supervisor_failure_threshold": "supervisor.failure_threshold",
	"supervisor_failure_backoff":   "supervisor.failure_backoff",
	"supervisor_shutdown_timeout":  "supervisor.shutdown_timeout",
}

// envTransformFunc maps FEED_URL style names to koanf paths. Unmapped
// variables are dropped so the environment cannot inject arbitrary keys.
func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}
