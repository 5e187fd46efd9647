// Killfeed - Killmail Ingestion Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/killfeed

// Package config loads Killfeed configuration from defaults, an optional
// YAML file and environment variables, in that order of precedence.
package config

import (
	"time"
)

// Config is the complete process configuration.
type Config struct {
	Feed       FeedConfig       `koanf:"feed"`
	Ingest     IngestConfig     `koanf:"ingest"`
	Database   DatabaseConfig   `koanf:"database"`
	Server     ServerConfig     `koanf:"server"`
	Logging    LoggingConfig    `koanf:"logging"`
	Supervisor SupervisorConfig `koanf:"supervisor"`
}

// FeedConfig describes the upstream killmail feed connection.
type FeedConfig struct {
	// URL is the Phoenix socket endpoint, e.g. ws://host:4004/socket/websocket.
	URL string `koanf:"url"`

	// ConnectTimeoutMs bounds dial plus topic join. Default: 10000
	ConnectTimeoutMs int `koanf:"connect_timeout_ms"`

	HeartbeatInterval time.Duration `koanf:"heartbeat_interval"`
	PushTimeout       time.Duration `koanf:"push_timeout"`

	// LeaveTimeout is how long Disconnect waits for the leave reply before
	// tearing the socket down regardless.
	LeaveTimeout time.Duration `koanf:"leave_timeout"`

	ReconnectMaxDelay time.Duration `koanf:"reconnect_max_delay"`

	// SubscribeChunkSize caps the number of ids per subscribe push.
	SubscribeChunkSize int `koanf:"subscribe_chunk_size"`

	// SubscribeRate is the maximum number of subscribe pushes per second.
	SubscribeRate float64 `koanf:"subscribe_rate"`

	Preload PreloadConfig `koanf:"preload"`
}

// ConnectTimeout returns ConnectTimeoutMs as a duration.
func (f FeedConfig) ConnectTimeout() time.Duration {
	return time.Duration(f.ConnectTimeoutMs) * time.Millisecond
}

// PreloadConfig asks the feed to backfill recent history for newly
// subscribed characters and systems.
type PreloadConfig struct {
	Enabled            bool `koanf:"enabled"`
	LimitPerSystem     int  `koanf:"limit_per_system"`
	SinceHours         int  `koanf:"since_hours"`
	DeliveryBatchSize  int  `koanf:"delivery_batch_size"`
	DeliveryIntervalMs int  `koanf:"delivery_interval_ms"`
}

// IngestConfig tunes the batch worker.
type IngestConfig struct {
	// QueueSize is the number of feed batches buffered between the socket
	// reader and the worker.
	QueueSize int `koanf:"queue_size"`

	// ShutdownTimeout bounds Stop.
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`

	// BreakerFailureThreshold is the number of consecutive storage failures
	// that opens the persistence circuit breaker.
	BreakerFailureThreshold uint32        `koanf:"breaker_failure_threshold"`
	BreakerOpenTimeout      time.Duration `koanf:"breaker_open_timeout"`
}

// DatabaseConfig holds DuckDB settings.
type DatabaseConfig struct {
	Path      string `koanf:"path"`
	MaxMemory string `koanf:"max_memory"`
	Threads   int    `koanf:"threads"` // 0 = runtime.NumCPU()

	// CheckpointInterval is how often the WAL is flushed into the database
	// file while running. 0 disables periodic checkpoints.
	CheckpointInterval time.Duration `koanf:"checkpoint_interval"`
}

// ServerConfig holds admin HTTP API settings.
type ServerConfig struct {
	Port            int           `koanf:"port"`
	Host            string        `koanf:"host"`
	Timeout         time.Duration `koanf:"timeout"`
	RateLimitReqs   int           `koanf:"rate_limit_reqs"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
	CORSOrigins     []string      `koanf:"cors_origins"`
}

// LoggingConfig mirrors logging.Config.
type LoggingConfig struct {
	// Level is one of trace, debug, info, warn, error. Default: info
	Level string `koanf:"level"`

	// Format is json or console. Default: json
	Format string `koanf:"format"`

	Caller bool `koanf:"caller"`
}

// SupervisorConfig tunes the suture tree.
type SupervisorConfig struct {
	FailureThreshold float64       `koanf:"failure_threshold"`
	FailureDecay     float64       `koanf:"failure_decay"`
	FailureBackoff   time.Duration `koanf:"failure_backoff"`
	ShutdownTimeout  time.Duration `koanf:"shutdown_timeout"`
}
