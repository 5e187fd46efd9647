// Killfeed - Killmail Ingestion Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/killfeed

package ingest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/killfeed/internal/models"
)

type serviceFixture struct {
	svc   *Service
	feed  *fakeFeed
	store *fakeStore
	reg   *Registry
}

func newServiceFixture(t *testing.T, tracked ...int64) *serviceFixture {
	t.Helper()
	ff := newFakeFeed()
	store := newFakeStore(tracked...)
	reg := NewRegistry(store, ff, RegistryConfig{ChunkSize: 100})
	svc := NewService(ff, reg, NewPersistenceGateway(store), Config{QueueSize: 8, ShutdownTimeout: 2 * time.Second})
	t.Cleanup(func() {
		_ = svc.Stop(context.Background())
	})
	return &serviceFixture{svc: svc, feed: ff, store: store, reg: reg}
}

func TestServiceStartIsIdempotent(t *testing.T) {
	fx := newServiceFixture(t, 100)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := fx.svc.Start(ctx); err != nil {
			t.Fatalf("Start() #%d error = %v", i+1, err)
		}
	}

	if n := fx.feed.connects.Load(); n != 1 {
		t.Errorf("connect attempts = %d, want 1", n)
	}
	st := fx.svc.GetStatus()
	if !st.IsRunning || !st.IsConnected || st.State != "running" {
		t.Errorf("status = %+v", st)
	}
	if st.SubscribedCharacterCount != 1 {
		t.Errorf("SubscribedCharacterCount = %d, want 1", st.SubscribedCharacterCount)
	}

	replays := fx.feed.pushesFor(models.EventSubscribeCharacters)
	if len(replays) != 1 || !equalIDs(replays[0].ids(), []int64{100}) {
		t.Errorf("first join should replay the loaded set, got %+v", replays)
	}
}

func TestServiceStopWhenStoppedIsNoop(t *testing.T) {
	fx := newServiceFixture(t)

	if err := fx.svc.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if fx.feed.disconnects.Load() != 0 {
		t.Error("Stop() on a never-started service must not disconnect")
	}
	if fx.svc.State() != StateStopped {
		t.Errorf("State() = %v", fx.svc.State())
	}
}

func TestServiceStartConnectFailure(t *testing.T) {
	fx := newServiceFixture(t)
	fx.feed.connectErr = errors.New("connection refused")

	err := fx.svc.Start(context.Background())
	if err == nil {
		t.Fatal("Start() should propagate connect errors")
	}
	if fx.svc.State() != StateStopped {
		t.Errorf("State() = %v, want stopped", fx.svc.State())
	}

	fx.feed.connectErr = nil
	if err := fx.svc.Start(context.Background()); err != nil {
		t.Fatalf("retry Start() error = %v", err)
	}
	if fx.feed.connects.Load() != 2 {
		t.Errorf("connects = %d, want 2", fx.feed.connects.Load())
	}
}

func TestServiceStartLoadFailure(t *testing.T) {
	fx := newServiceFixture(t)
	fx.store.listErr = errStorage

	if err := fx.svc.Start(context.Background()); !errors.Is(err, errStorage) {
		t.Fatalf("Start() error = %v, want storage error", err)
	}
	if fx.feed.connects.Load() != 0 {
		t.Error("connect must not be attempted when loading subscriptions fails")
	}
}

func TestServiceStopUnsubscribesAndDisconnects(t *testing.T) {
	fx := newServiceFixture(t, 100, 200)
	ctx := context.Background()

	if err := fx.svc.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := fx.svc.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	unsubs := fx.feed.pushesFor(models.EventUnsubscribeCharacters)
	if len(unsubs) != 1 || !equalIDs(unsubs[0].ids(), []int64{100, 200}) {
		t.Errorf("unsubscribe pushes = %+v", unsubs)
	}
	if fx.feed.disconnects.Load() != 1 {
		t.Errorf("disconnects = %d, want 1", fx.feed.disconnects.Load())
	}
	st := fx.svc.GetStatus()
	if st.IsRunning || st.IsConnected || st.State != "stopped" {
		t.Errorf("status after stop = %+v", st)
	}

	if err := fx.svc.Stop(ctx); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}
	if fx.feed.disconnects.Load() != 1 {
		t.Error("second Stop() must not tear down again")
	}
}

func TestServiceConcurrentStopTearsDownOnce(t *testing.T) {
	fx := newServiceFixture(t, 100)
	ctx := context.Background()
	if err := fx.svc.Start(ctx); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = fx.svc.Stop(ctx)
		}()
	}
	wg.Wait()

	if fx.feed.disconnects.Load() != 1 {
		t.Errorf("disconnects = %d, want 1", fx.feed.disconnects.Load())
	}
}

// Subscribe 100; victim 999 untracked; attacker 100 final blow.
func TestServiceIngestsRelevantKillmail(t *testing.T) {
	fx := newServiceFixture(t, 100)
	ctx := context.Background()
	if err := fx.svc.Start(ctx); err != nil {
		t.Fatal(err)
	}

	fx.feed.deliver(models.EventKillmailUpdate, batchJSON(false, killmailJSON(42)))

	waitFor(t, "killmail ingested", 2*time.Second, func() bool { return fx.store.count() == 1 })

	km, _ := fx.store.stored(42)
	if km.rec.TotalValue != 5_000_000 {
		t.Errorf("TotalValue = %d", km.rec.TotalValue)
	}
	if len(km.involvements) != 1 {
		t.Fatalf("involvements = %+v", km.involvements)
	}
	inv := km.involvements[0]
	if inv.CharacterID != 100 || inv.Role != models.RoleAttacker || inv.KillmailID != 42 {
		t.Errorf("involvement = %+v", inv)
	}
	for _, i := range km.involvements {
		if i.CharacterID == 999 {
			t.Error("untracked victim 999 must not get an involvement")
		}
	}

	waitFor(t, "stats", time.Second, func() bool { return fx.svc.GetStatus().Stats.Ingested == 1 })
	st := fx.svc.GetStatus()
	if st.Stats.BatchesReceived != 1 || st.Stats.LastBatchPreload {
		t.Errorf("stats = %+v", st.Stats)
	}
}

func TestServiceRedeliveryStoresOnce(t *testing.T) {
	fx := newServiceFixture(t, 100)
	ctx := context.Background()
	if _, err := fx.reg.LoadAll(ctx); err != nil {
		t.Fatal(err)
	}

	for _, preload := range []bool{true, false} {
		res := fx.svc.ProcessBatch(ctx, decodeBatch(t, batchJSON(preload, killmailJSON(77))))
		if res.Ingested != 1 {
			t.Fatalf("preload=%v: result = %+v", preload, res)
		}
	}

	if fx.store.count() != 1 {
		t.Errorf("stored killmails = %d, want 1", fx.store.count())
	}
}

func TestServiceFiltersIrrelevantKillmails(t *testing.T) {
	fx := newServiceFixture(t)
	ctx := context.Background()
	if _, err := fx.reg.LoadAll(ctx); err != nil {
		t.Fatal(err)
	}

	res := fx.svc.ProcessBatch(ctx, decodeBatch(t, batchJSON(false, killmailJSON(1), killmailJSON(2))))
	if res.Filtered != 2 || res.Ingested != 0 {
		t.Errorf("result = %+v, want both filtered", res)
	}
	if fx.store.upserts != 0 {
		t.Error("filtered records must not reach the store")
	}
}

func TestServicePartialBatchResilience(t *testing.T) {
	fx := newServiceFixture(t, 100)
	ctx := context.Background()
	if _, err := fx.reg.LoadAll(ctx); err != nil {
		t.Fatal(err)
	}
	fx.store.failIDs[3] = errStorage

	batch := batchJSON(false,
		killmailJSON(1),
		`{"killmail_id":"not-a-number"}`,
		killmailJSON(3),
		killmailJSON(4),
	)
	res := fx.svc.ProcessBatch(ctx, decodeBatch(t, batch))

	want := BatchResult{Received: 4, Malformed: 1, Ingested: 2, Failed: 1}
	if res != want {
		t.Errorf("result = %+v, want %+v", res, want)
	}
	for _, id := range []int64{1, 4} {
		if _, ok := fx.store.stored(id); !ok {
			t.Errorf("killmail %d should be stored", id)
		}
	}
}

// add 200 / remove 100 while running, then a forced reconnect.
func TestServiceReplayAfterReconnectReflectsUpdates(t *testing.T) {
	fx := newServiceFixture(t, 100)
	ctx := context.Background()
	if err := fx.svc.Start(ctx); err != nil {
		t.Fatal(err)
	}

	if err := fx.svc.UpdateSubscriptions(ctx, []int64{200}, []int64{100}); err != nil {
		t.Fatalf("UpdateSubscriptions() error = %v", err)
	}

	fx.feed.resetPushes()
	if err := fx.feed.reconnect(ctx); err != nil {
		t.Fatalf("rejoin replay error = %v", err)
	}

	replays := fx.feed.pushesFor(models.EventSubscribeCharacters)
	if len(replays) != 1 {
		t.Fatalf("replay pushes = %d, want 1", len(replays))
	}
	if !equalIDs(replays[0].ids(), []int64{200}) {
		t.Errorf("replayed ids = %v, want [200]", replays[0].ids())
	}
}

func TestServiceUpdateSubscriptionsFailureKeepsChange(t *testing.T) {
	fx := newServiceFixture(t, 100)
	ctx := context.Background()
	if err := fx.svc.Start(ctx); err != nil {
		t.Fatal(err)
	}

	fx.feed.setFailPush(func(string) error { return errors.New("rejected") })
	if err := fx.svc.UpdateSubscriptions(ctx, []int64{300}, nil); err == nil {
		t.Fatal("UpdateSubscriptions() should report the failed push")
	}
	if err := fx.svc.SubscribeToLocations(ctx, []int64{30000142}); err == nil {
		t.Fatal("SubscribeToLocations() should report the failed push")
	}

	st := fx.svc.GetStatus()
	if st.SubscribedCharacterCount != 2 || st.SubscribedLocationCount != 1 {
		t.Errorf("status = %+v, change must be kept for replay", st)
	}

	fx.feed.setFailPush(nil)
	fx.feed.resetPushes()
	if err := fx.feed.reconnect(ctx); err != nil {
		t.Fatal(err)
	}
	replays := fx.feed.pushesFor(models.EventSubscribeCharacters)
	if len(replays) != 1 || !equalIDs(replays[0].ids(), []int64{100, 300}) {
		t.Errorf("replay = %+v", replays)
	}
	if len(fx.feed.pushesFor(models.EventSubscribeSystems)) != 1 {
		t.Error("locations should be replayed")
	}
}

func TestServiceResync(t *testing.T) {
	fx := newServiceFixture(t, 100)
	ctx := context.Background()
	if err := fx.svc.Start(ctx); err != nil {
		t.Fatal(err)
	}

	fx.store.track(500)
	fx.feed.resetPushes()
	if err := fx.svc.Resync(ctx); err != nil {
		t.Fatalf("Resync() error = %v", err)
	}

	replays := fx.feed.pushesFor(models.EventSubscribeCharacters)
	if len(replays) != 1 || !equalIDs(replays[0].ids(), []int64{100, 500}) {
		t.Errorf("resync replay = %+v", replays)
	}
}

func TestServiceResyncUnsubscribesUntracked(t *testing.T) {
	fx := newServiceFixture(t, 100, 200)
	ctx := context.Background()
	if err := fx.svc.Start(ctx); err != nil {
		t.Fatal(err)
	}

	fx.store.untrack(200)
	fx.feed.resetPushes()
	if err := fx.svc.Resync(ctx); err != nil {
		t.Fatalf("Resync() error = %v", err)
	}

	unsubs := fx.feed.pushesFor(models.EventUnsubscribeCharacters)
	if len(unsubs) != 1 || !equalIDs(unsubs[0].ids(), []int64{200}) {
		t.Errorf("unsubscribe pushes = %+v, want [200]", unsubs)
	}
	replays := fx.feed.pushesFor(models.EventSubscribeCharacters)
	if len(replays) != 1 || !equalIDs(replays[0].ids(), []int64{100}) {
		t.Errorf("resync replay = %+v, want [100]", replays)
	}
	if n := fx.svc.GetStatus().SubscribedCharacterCount; n != 1 {
		t.Errorf("SubscribedCharacterCount = %d, want 1", n)
	}
}

func TestServiceStatusReflectsDisconnect(t *testing.T) {
	fx := newServiceFixture(t, 100)
	if err := fx.svc.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	fx.feed.connected.Store(false)
	st := fx.svc.GetStatus()
	if !st.IsRunning || st.IsConnected {
		t.Errorf("status = %+v, want running but disconnected", st)
	}
}

func TestServiceRecordsKillCounts(t *testing.T) {
	fx := newServiceFixture(t)
	if err := fx.svc.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	fx.feed.deliver(models.EventKillCountUpdate, `{"system_id":"30000142","count":12}`)
	fx.feed.deliver(models.EventKillCountUpdate, `{"system_id":30000142,"count":13}`)
	fx.feed.deliver(models.EventKillCountUpdate, `not json`)

	counts := fx.svc.GetStatus().KillCounts
	if counts[30000142] != 13 || len(counts) != 1 {
		t.Errorf("kill counts = %v", counts)
	}
}

func TestServiceDropsBatchesWhenQueueFull(t *testing.T) {
	fx := newServiceFixture(t)
	fx.svc.queue = make(chan json.RawMessage, 1)

	fx.svc.enqueue(json.RawMessage(`{}`))
	fx.svc.enqueue(json.RawMessage(`{}`))

	if got := fx.svc.GetStatus().Stats.BatchesDropped; got != 1 {
		t.Errorf("BatchesDropped = %d, want 1", got)
	}
	fx.svc.queue = nil
}

func TestServiceStopDrainsQueue(t *testing.T) {
	fx := newServiceFixture(t, 100)
	ctx := context.Background()
	if err := fx.svc.Start(ctx); err != nil {
		t.Fatal(err)
	}

	for id := int64(1); id <= 5; id++ {
		fx.feed.deliver(models.EventKillmailUpdate, batchJSON(false, killmailJSON(id)))
	}
	if err := fx.svc.Stop(ctx); err != nil {
		t.Fatal(err)
	}

	if fx.store.count() != 5 {
		t.Errorf("stored = %d, queued batches should be drained on stop", fx.store.count())
	}
}

// slowGateway sleeps per record and records whether it saw a canceled
// context.
type slowGateway struct {
	delay    time.Duration
	calls    atomic.Int32
	canceled atomic.Int32
}

func (g *slowGateway) Ingest(ctx context.Context, _ *models.KillmailRecord) error {
	g.calls.Add(1)
	time.Sleep(g.delay)
	if ctx.Err() != nil {
		g.canceled.Add(1)
	}
	return nil
}

func TestServiceStopBoundedBySlowBatch(t *testing.T) {
	ff := newFakeFeed()
	store := newFakeStore(100)
	reg := NewRegistry(store, ff, RegistryConfig{})
	gw := &slowGateway{delay: 50 * time.Millisecond}
	const shutdownTimeout = 100 * time.Millisecond
	svc := NewService(ff, reg, gw, Config{QueueSize: 4, ShutdownTimeout: shutdownTimeout})

	ctx := context.Background()
	if err := svc.Start(ctx); err != nil {
		t.Fatal(err)
	}

	records := make([]string, 60)
	for i := range records {
		records[i] = killmailJSON(int64(i + 1))
	}
	ff.deliver(models.EventKillmailUpdate, batchJSON(true, records...))
	waitFor(t, "first ingest", time.Second, func() bool { return gw.calls.Load() > 0 })

	start := time.Now()
	if err := svc.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	elapsed := time.Since(start)

	if limit := shutdownTimeout + 2*gw.delay + 100*time.Millisecond; elapsed > limit {
		t.Errorf("Stop took %v, want under %v", elapsed, limit)
	}
	if n := gw.calls.Load(); n >= 60 {
		t.Errorf("gateway calls = %d, remaining records should be abandoned", n)
	}
	if n := gw.canceled.Load(); n != 0 {
		t.Errorf("%d ingests saw a canceled context", n)
	}

	stats := svc.GetStatus().Stats
	if stats.Abandoned == 0 || stats.Ingested+stats.Abandoned != 60 {
		t.Errorf("stats = %+v, want ingested + abandoned = 60", stats)
	}
}

func TestProcessBatchCanceledContextAbandonsAll(t *testing.T) {
	fx := newServiceFixture(t, 100)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	update := decodeBatch(t, batchJSON(false, killmailJSON(1), killmailJSON(2)))
	result := fx.svc.ProcessBatch(ctx, update)
	if result.Abandoned != 2 || result.Ingested != 0 {
		t.Errorf("result = %+v, want 2 abandoned", result)
	}
	if fx.store.count() != 0 {
		t.Errorf("stored = %d, want 0", fx.store.count())
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateStopped, "stopped"},
		{StateStarting, "starting"},
		{StateRunning, "running"},
		{StateStopping, "stopping"},
		{State(9), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
