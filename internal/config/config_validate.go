// Killfeed - Killmail Ingestion Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/killfeed

package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateFeed(); err != nil {
		return err
	}
	if err := c.validateIngest(); err != nil {
		return err
	}
	if err := c.validateServer(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateFeed() error {
	if c.Feed.URL == "" {
		return fmt.Errorf("FEED_URL is required")
	}
	if err := validateSocketURL(c.Feed.URL); err != nil {
		return fmt.Errorf("FEED_URL is invalid: %w", err)
	}
	if c.Feed.ConnectTimeoutMs <= 0 {
		return fmt.Errorf("FEED_CONNECT_TIMEOUT_MS must be positive, got %d", c.Feed.ConnectTimeoutMs)
	}
	if c.Feed.HeartbeatInterval <= 0 {
		return fmt.Errorf("FEED_HEARTBEAT_INTERVAL must be positive")
	}
	if c.Feed.PushTimeout <= 0 || c.Feed.LeaveTimeout <= 0 {
		return fmt.Errorf("FEED_PUSH_TIMEOUT and FEED_LEAVE_TIMEOUT must be positive")
	}
	if c.Feed.SubscribeChunkSize <= 0 {
		return fmt.Errorf("FEED_SUBSCRIBE_CHUNK must be positive, got %d", c.Feed.SubscribeChunkSize)
	}
	if c.Feed.SubscribeRate <= 0 {
		return fmt.Errorf("FEED_SUBSCRIBE_RATE must be positive")
	}

	p := c.Feed.Preload
	if p.Enabled && (p.LimitPerSystem <= 0 || p.SinceHours <= 0 || p.DeliveryBatchSize <= 0 || p.DeliveryIntervalMs < 0) {
		return fmt.Errorf("preload settings must be positive when PRELOAD_ENABLED=true")
	}
	return nil
}

// validateSocketURL accepts ws:// and wss:// URLs with a host. Unlike HTTP
// base URLs a path is expected here.
func validateSocketURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("failed to parse URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("scheme must be ws or wss, got: %s", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("host is required")
	}
	return nil
}

func (c *Config) validateIngest() error {
	if c.Ingest.QueueSize <= 0 {
		return fmt.Errorf("INGEST_QUEUE_SIZE must be positive, got %d", c.Ingest.QueueSize)
	}
	if c.Ingest.ShutdownTimeout <= 0 {
		return fmt.Errorf("INGEST_SHUTDOWN_TIMEOUT must be positive")
	}
	if c.Ingest.BreakerFailureThreshold == 0 {
		return fmt.Errorf("INGEST_BREAKER_THRESHOLD must be at least 1")
	}
	return nil
}

func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("HTTP_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.RateLimitReqs <= 0 || c.Server.RateLimitWindow <= 0 {
		return fmt.Errorf("rate limit requests and window must be positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch strings.ToLower(c.Logging.Level) {
	case "trace", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("LOG_LEVEL must be one of trace, debug, info, warn, error, got %q", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "console":
	default:
		return fmt.Errorf("LOG_FORMAT must be json or console, got %q", c.Logging.Format)
	}
	return nil
}
