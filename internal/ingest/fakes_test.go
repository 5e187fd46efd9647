// Killfeed - Killmail Ingestion Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/killfeed

package ingest

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/killfeed/internal/feed"
	"github.com/tomtom215/killfeed/internal/models"
)

// pushRecord is one push captured by fakeFeed.
type pushRecord struct {
	Event   string
	Payload json.RawMessage
}

// ids decodes character_ids or systems from the payload.
func (p pushRecord) ids() []int64 {
	var body struct {
		CharacterIDs []int64 `json:"character_ids"`
		Systems      []int64 `json:"systems"`
	}
	_ = json.Unmarshal(p.Payload, &body)
	if body.CharacterIDs != nil {
		return body.CharacterIDs
	}
	return body.Systems
}

// fakeFeed implements FeedConnection and Publisher without a network.
type fakeFeed struct {
	mu       sync.Mutex
	pushes   []pushRecord
	onEvent  feed.EventHandler
	onRejoin feed.RejoinHandler

	// failPush, when set, decides per push whether it fails.
	failPush func(event string) error

	connectErr  error
	connects    atomic.Int32
	disconnects atomic.Int32
	connected   atomic.Bool
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{}
}

func (f *fakeFeed) Connect(ctx context.Context) error {
	if f.connected.Load() {
		return nil
	}
	f.connects.Add(1)
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected.Store(true)

	f.mu.Lock()
	rejoin := f.onRejoin
	f.mu.Unlock()
	if rejoin != nil {
		_ = rejoin(ctx)
	}
	return nil
}

func (f *fakeFeed) Disconnect(_ context.Context) error {
	if !f.connected.Load() {
		return nil
	}
	f.disconnects.Add(1)
	f.connected.Store(false)
	return nil
}

func (f *fakeFeed) IsConnected() bool {
	return f.connected.Load()
}

func (f *fakeFeed) OnRejoin(handler feed.RejoinHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onRejoin = handler
}

func (f *fakeFeed) OnEvent(handler feed.EventHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onEvent = handler
}

func (f *fakeFeed) Push(_ context.Context, event string, payload interface{}) (json.RawMessage, error) {
	if !f.connected.Load() {
		return nil, feed.ErrNotConnected
	}
	f.mu.Lock()
	failPush := f.failPush
	f.mu.Unlock()
	if failPush != nil {
		if err := failPush(event); err != nil {
			return nil, err
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.pushes = append(f.pushes, pushRecord{Event: event, Payload: body})
	f.mu.Unlock()
	return json.RawMessage(`{}`), nil
}

func (f *fakeFeed) setFailPush(fn func(event string) error) {
	f.mu.Lock()
	f.failPush = fn
	f.mu.Unlock()
}

// reconnect simulates a socket drop followed by a successful rejoin and
// returns the rejoin callback's error.
func (f *fakeFeed) reconnect(ctx context.Context) error {
	f.connected.Store(false)
	f.connected.Store(true)
	f.mu.Lock()
	rejoin := f.onRejoin
	f.mu.Unlock()
	if rejoin == nil {
		return nil
	}
	return rejoin(ctx)
}

// deliver hands an inbound event to the registered handler.
func (f *fakeFeed) deliver(event string, payload string) {
	f.mu.Lock()
	handler := f.onEvent
	f.mu.Unlock()
	if handler != nil {
		handler(event, json.RawMessage(payload))
	}
}

func (f *fakeFeed) pushesFor(event string) []pushRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []pushRecord
	for _, p := range f.pushes {
		if p.Event == event {
			out = append(out, p)
		}
	}
	return out
}

func (f *fakeFeed) resetPushes() {
	f.mu.Lock()
	f.pushes = nil
	f.mu.Unlock()
}

type storedKillmail struct {
	rec          models.KillmailRecord
	involvements []models.InvolvementRecord
}

// fakeStore implements TrackedSource and KillmailStore in memory with
// upsert semantics keyed by killmail id.
type fakeStore struct {
	mu        sync.Mutex
	tracked   map[int64]struct{}
	killmails map[int64]storedKillmail
	failIDs   map[int64]error
	listErr   error
	lookupErr error
	upserts   int
	lookups   int
}

func newFakeStore(tracked ...int64) *fakeStore {
	s := &fakeStore{
		tracked:   make(map[int64]struct{}),
		killmails: make(map[int64]storedKillmail),
		failIDs:   make(map[int64]error),
	}
	for _, id := range tracked {
		s.tracked[id] = struct{}{}
	}
	return s
}

func (s *fakeStore) ListTrackedCharacterIDs(_ context.Context) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	ids := make([]int64, 0, len(s.tracked))
	for id := range s.tracked {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *fakeStore) IsCharacterTracked(_ context.Context, characterID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookups++
	if s.lookupErr != nil {
		return false, s.lookupErr
	}
	_, ok := s.tracked[characterID]
	return ok, nil
}

func (s *fakeStore) UpsertKillmail(_ context.Context, rec *models.KillmailRecord, involvements []models.InvolvementRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts++
	if err, ok := s.failIDs[rec.KillmailID]; ok {
		return err
	}
	s.killmails[rec.KillmailID] = storedKillmail{
		rec:          *rec,
		involvements: append([]models.InvolvementRecord(nil), involvements...),
	}
	return nil
}

func (s *fakeStore) track(ids ...int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		s.tracked[id] = struct{}{}
	}
}

func (s *fakeStore) untrack(ids ...int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.tracked, id)
	}
}

func (s *fakeStore) stored(id int64) (storedKillmail, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	km, ok := s.killmails[id]
	return km, ok
}

func (s *fakeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.killmails)
}

// killmailJSON builds a raw feed record with victim 999 and attacker 100.
func killmailJSON(id int64) string {
	b, _ := json.Marshal(map[string]interface{}{
		"killmail_id": id,
		"kill_time":   "2026-03-14T15:09:26Z",
		"system_id":   30000142,
		"victim": map[string]interface{}{
			"character_id":   999,
			"corporation_id": 98000001,
			"ship_type_id":   587,
			"damage_taken":   1200,
		},
		"attackers": []map[string]interface{}{
			{"character_id": 100, "corporation_id": 98000002, "ship_type_id": 11198, "damage_done": 1200, "final_blow": true},
		},
		"zkb": map[string]interface{}{"totalValue": 5_000_000, "npc": false, "solo": true},
	})
	return string(b)
}

// batchJSON wraps raw records into a killmail_update payload.
func batchJSON(preload bool, records ...string) string {
	raws := make([]json.RawMessage, 0, len(records))
	for _, r := range records {
		raws = append(raws, json.RawMessage(r))
	}
	b, _ := json.Marshal(map[string]interface{}{
		"system_id": 30000142,
		"killmails": raws,
		"preload":   preload,
		"timestamp": "2026-03-14T15:10:00Z",
	})
	return string(b)
}

func decodeBatch(t *testing.T, payload string) *models.KillmailUpdate {
	t.Helper()
	var update models.KillmailUpdate
	if err := json.Unmarshal([]byte(payload), &update); err != nil {
		t.Fatalf("decode batch: %v", err)
	}
	return &update
}

var errStorage = errors.New("storage unavailable")

// waitFor polls cond until it holds or timeout elapses.
func waitFor(t *testing.T, what string, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func sortedIDs(ids []int64) []int64 {
	out := append([]int64(nil), ids...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func equalIDs(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
