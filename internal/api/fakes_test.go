// Killfeed - Killmail Ingestion Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/killfeed

package api

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/goccy/go-json"

	"github.com/tomtom215/killfeed/internal/database"
	"github.com/tomtom215/killfeed/internal/ingest"
	"github.com/tomtom215/killfeed/internal/models"
)

var errFake = errors.New("fake failure")

type updateCall struct {
	add, remove []int64
}

// fakeIngest records calls and reports a configurable status.
type fakeIngest struct {
	mu        sync.Mutex
	status    ingest.Status
	startErr  error
	updateErr error
	resyncErr error
	starts    int
	stops     int
	resyncs   int
	updates   []updateCall
	locations [][]int64
}

func (f *fakeIngest) Start(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	if f.startErr != nil {
		return f.startErr
	}
	f.status.IsRunning = true
	f.status.IsConnected = true
	f.status.State = "running"
	return nil
}

func (f *fakeIngest) Stop(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	f.status.IsRunning = false
	f.status.IsConnected = false
	f.status.State = "stopped"
	return nil
}

func (f *fakeIngest) UpdateSubscriptions(_ context.Context, add, remove []int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, updateCall{add: add, remove: remove})
	f.status.SubscribedCharacterCount += len(add) - len(remove)
	return f.updateErr
}

func (f *fakeIngest) SubscribeToLocations(_ context.Context, ids []int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.locations = append(f.locations, ids)
	f.status.SubscribedLocationCount += len(ids)
	return f.updateErr
}

func (f *fakeIngest) Resync(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resyncs++
	return f.resyncErr
}

func (f *fakeIngest) GetStatus() ingest.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

// fakeStore is an in-memory Store.
type fakeStore struct {
	mu        sync.Mutex
	pingErr   error
	err       error
	tracked   map[int64]bool
	killmails map[int64]*models.KillmailRecord
	involved  map[int64][]models.InvolvementRecord
	lastLimit int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		tracked:   make(map[int64]bool),
		killmails: make(map[int64]*models.KillmailRecord),
		involved:  make(map[int64][]models.InvolvementRecord),
	}
}

func (s *fakeStore) Ping(_ context.Context) error { return s.pingErr }

func (s *fakeStore) GetKillmail(_ context.Context, id int64) (*models.KillmailRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	km, ok := s.killmails[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	return km, nil
}

func (s *fakeStore) ListInvolvements(_ context.Context, characterID int64, limit int) ([]models.InvolvementRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastLimit = limit
	if s.err != nil {
		return nil, s.err
	}
	return s.involved[characterID], nil
}

func (s *fakeStore) CountKillmails(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	return int64(len(s.killmails)), nil
}

func (s *fakeStore) TrackCharacters(_ context.Context, ids []int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	added := 0
	for _, id := range ids {
		if !s.tracked[id] {
			s.tracked[id] = true
			added++
		}
	}
	return added, nil
}

func (s *fakeStore) UntrackCharacter(_ context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}
	if !s.tracked[id] {
		return false, nil
	}
	delete(s.tracked, id)
	return true, nil
}

// apiFixture is a full router over fakes.
type apiFixture struct {
	ingest  *fakeIngest
	store   *fakeStore
	handler http.Handler
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	fi := &fakeIngest{status: ingest.Status{State: "stopped"}}
	fs := newFakeStore()
	mw := NewChiMiddleware(&ChiMiddlewareConfig{RateLimitDisabled: true})
	return &apiFixture{
		ingest:  fi,
		store:   fs,
		handler: NewRouter(NewHandler(fi, fs), mw).SetupChi(),
	}
}

// envelope decodes the response with a typed data payload.
type envelope struct {
	Status string           `json:"status"`
	Data   json.RawMessage  `json:"data"`
	Error  *models.APIError `json:"error"`
}

func (fx *apiFixture) do(t *testing.T, method, path string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	t.Helper()

	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	fx.handler.ServeHTTP(rec, req)

	var env envelope
	if rec.Header().Get("Content-Type") == "application/json" {
		if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
			t.Fatalf("decode envelope: %v (body %s)", err, rec.Body.String())
		}
	}
	return rec, env
}

func decodeData(t *testing.T, env envelope, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(env.Data, v); err != nil {
		t.Fatalf("decode data: %v (%s)", err, env.Data)
	}
}

func checkStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, want, rec.Body.String())
	}
}

func checkErrorCode(t *testing.T, env envelope, want string) {
	t.Helper()
	if env.Error == nil {
		t.Fatalf("error = nil, want code %s", want)
	}
	if env.Error.Code != want {
		t.Errorf("error code = %s, want %s", env.Error.Code, want)
	}
}
