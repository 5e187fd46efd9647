// Killfeed - Killmail Ingestion Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/killfeed

package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/killfeed/internal/logging"
	"github.com/tomtom215/killfeed/internal/metrics"
	"github.com/tomtom215/killfeed/internal/models"
)

// ErrCircuitOpen is returned while storage is considered unavailable.
var ErrCircuitOpen = errors.New("persistence circuit open")

const breakerName = "killmail-store"

// CircuitBreakerGateway wraps a Gateway so a failing store is not hammered
// once per record of every batch. Rejected calls are ordinary per-record
// errors for the caller.
type CircuitBreakerGateway struct {
	next Gateway
	cb   *gobreaker.CircuitBreaker[interface{}]
	name string
}

// NewCircuitBreakerGateway opens after failureThreshold consecutive failures
// and probes again after openTimeout.
func NewCircuitBreakerGateway(next Gateway, failureThreshold uint32, openTimeout time.Duration) *CircuitBreakerGateway {
	if failureThreshold == 0 {
		failureThreshold = 5
	}
	if openTimeout <= 0 {
		openTimeout = 30 * time.Second
	}

	metrics.CircuitBreakerState.WithLabelValues(breakerName).Set(0)

	cb := gobreaker.NewCircuitBreaker[interface{}](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Timeout:     openTimeout,

		ReadyToTrip: func(counts gobreaker.Counts) bool {
			trip := counts.ConsecutiveFailures >= failureThreshold
			if trip {
				logging.Warn().Uint32("consecutive_failures", counts.ConsecutiveFailures).Msg("[CIRCUIT BREAKER] Opening circuit")
			}
			return trip
		},

		OnStateChange: func(name string, from, to gobreaker.State) {
			fromStr := stateToString(from)
			toStr := stateToString(to)
			logging.Info().Str("breaker", name).Str("from", fromStr).Str("to", toStr).Msg("[CIRCUIT BREAKER] State transition")

			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, fromStr, toStr).Inc()
		},
	})

	return &CircuitBreakerGateway{next: next, cb: cb, name: breakerName}
}

// Ingest forwards to the wrapped gateway unless the circuit is open.
func (g *CircuitBreakerGateway) Ingest(ctx context.Context, rec *models.KillmailRecord) error {
	_, err := g.cb.Execute(func() (interface{}, error) {
		return nil, g.next.Ingest(ctx, rec)
	})
	if err == nil {
		metrics.CircuitBreakerRequests.WithLabelValues(g.name, "success").Inc()
		return nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		metrics.CircuitBreakerRequests.WithLabelValues(g.name, "rejected").Inc()
		return fmt.Errorf("%w: %v", ErrCircuitOpen, err)
	}
	metrics.CircuitBreakerRequests.WithLabelValues(g.name, "failure").Inc()
	return err
}

// State returns the breaker state as "closed", "half-open" or "open".
func (g *CircuitBreakerGateway) State() string {
	return stateToString(g.cb.State())
}

// stateToFloat converts circuit breaker state to numeric value for metrics
func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

// stateToString converts circuit breaker state to string for logging
func stateToString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}
