// Killfeed - Killmail Ingestion Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/killfeed

package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
)

var errScriptedFailure = errors.New("scripted failure")

// MockService counts Serve calls and fails the first failures of them.
// After that it runs until the supervisor cancels it.
type MockService struct {
	name     string
	failures atomic.Int32
	starts   atomic.Int32
	stops    atomic.Int32
}

func NewMockService(name string) *MockService {
	return &MockService{name: name}
}

func (m *MockService) Serve(ctx context.Context) error {
	n := m.starts.Add(1)
	defer m.stops.Add(1)

	if n <= m.failures.Load() {
		return errScriptedFailure
	}
	<-ctx.Done()
	return ctx.Err()
}

// SetFailCount must be called before the service is added to a tree.
func (m *MockService) SetFailCount(n int) {
	m.failures.Store(int32(n))
}

func (m *MockService) StartCount() int32 { return m.starts.Load() }

func (m *MockService) StopCount() int32 { return m.stops.Load() }

func (m *MockService) String() string { return m.name }
