// Killfeed - Killmail Ingestion Service
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/killfeed

package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/killfeed/internal/logging"
	"github.com/tomtom215/killfeed/internal/metrics"
	"github.com/tomtom215/killfeed/internal/models"
)

// State is the lifecycle state of the Service.
type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Config tunes the Service.
type Config struct {
	// QueueSize bounds the batches waiting for the worker. When full, new
	// batches are dropped and counted.
	QueueSize int

	// ShutdownTimeout bounds Stop.
	ShutdownTimeout time.Duration
}

// Stats are cumulative batch counters since process start.
type Stats struct {
	BatchesReceived   int64      `json:"batches_received"`
	PreloadBatches    int64      `json:"preload_batches"`
	BatchesDropped    int64      `json:"batches_dropped"`
	KillmailsReceived int64      `json:"killmails_received"`
	Malformed         int64      `json:"malformed"`
	Filtered          int64      `json:"filtered"`
	Ingested          int64      `json:"ingested"`
	Failed            int64      `json:"failed"`
	Abandoned         int64      `json:"abandoned"`
	LastBatchAt       *time.Time `json:"last_batch_at,omitempty"`
	LastBatchPreload  bool       `json:"last_batch_preload"`
}

// Status is the externally visible state of the Service.
type Status struct {
	IsRunning                bool            `json:"is_running"`
	IsConnected              bool            `json:"is_connected"`
	SubscribedCharacterCount int             `json:"subscribed_character_count"`
	SubscribedLocationCount  int             `json:"subscribed_location_count"`
	State                    string          `json:"state"`
	Stats                    Stats           `json:"stats"`
	KillCounts               map[int64]int64 `json:"kill_counts,omitempty"`
}

// BatchResult is the per-record tally of one processed batch.
type BatchResult struct {
	Received  int
	Malformed int
	Filtered  int
	Ingested  int
	Failed    int
	Abandoned int
}

type recordOutcome int

const (
	outcomeIngested recordOutcome = iota
	outcomeFiltered
	outcomeFailed
)

// Service is the ingestion orchestrator.
type Service struct {
	feed     FeedConnection
	registry *Registry
	gateway  Gateway
	cfg      Config

	// lifecycleMu serializes Start and Stop; state is readable without it.
	lifecycleMu sync.Mutex
	state       atomic.Int32

	queueMu      sync.RWMutex
	queue        chan json.RawMessage
	workerCancel context.CancelFunc
	workerDone   chan struct{}

	statsMu sync.Mutex
	stats   Stats

	killCountsMu sync.RWMutex
	killCounts   map[int64]int64
}

// NewService wires the orchestrator. registry must push through the same
// connection as feed.
func NewService(feed FeedConnection, registry *Registry, gateway Gateway, cfg Config) *Service {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 15 * time.Second
	}
	return &Service{
		feed:       feed,
		registry:   registry,
		gateway:    gateway,
		cfg:        cfg,
		killCounts: make(map[int64]int64),
	}
}

// State returns the current lifecycle state.
func (s *Service) State() State {
	return State(s.state.Load())
}

// Start loads the subscription set, connects and joins the feed. It returns
// once the first join succeeded. Calling Start while starting or running is
// a no-op.
func (s *Service) Start(ctx context.Context) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if st := s.State(); st != StateStopped {
		logging.Info().Str("state", st.String()).Msg("Ingestion service already started")
		return nil
	}
	s.state.Store(int32(StateStarting))
	logging.Info().Msg("Starting ingestion service")

	if _, err := s.registry.LoadAll(ctx); err != nil {
		s.state.Store(int32(StateStopped))
		return fmt.Errorf("failed to load subscriptions: %w", err)
	}

	s.feed.OnRejoin(s.registry.Replay)
	s.feed.OnEvent(s.handleEvent)
	s.startWorker()

	if err := s.feed.Connect(ctx); err != nil {
		s.stopWorker(ctx)
		s.state.Store(int32(StateStopped))
		return fmt.Errorf("failed to connect to feed: %w", err)
	}

	s.state.Store(int32(StateRunning))
	chars, locs := s.registry.Counts()
	logging.Info().Int("characters", chars).Int("locations", locs).Msg("Ingestion service running")
	return nil
}

// Stop unsubscribes, disconnects and drains queued batches, bounded by
// ShutdownTimeout. Calling Stop when not running is a no-op.
func (s *Service) Stop(ctx context.Context) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if s.State() != StateRunning {
		return nil
	}
	s.state.Store(int32(StateStopping))
	logging.Info().Msg("Stopping ingestion service")

	stopCtx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()

	if s.feed.IsConnected() {
		if err := s.registry.UnsubscribeAll(stopCtx); err != nil {
			logging.Warn().Err(err).Msg("Unsubscribe on shutdown failed")
		}
	}

	var stopErr error
	if err := s.feed.Disconnect(stopCtx); err != nil {
		stopErr = fmt.Errorf("failed to disconnect from feed: %w", err)
	}

	s.stopWorker(stopCtx)
	s.state.Store(int32(StateStopped))
	logging.Info().Msg("Ingestion service stopped")
	return stopErr
}

// UpdateSubscriptions adds and then removes character subscriptions. The set
// keeps the change even when the feed push fails; the returned error only
// reports the failed push.
func (s *Service) UpdateSubscriptions(ctx context.Context, add, remove []int64) error {
	var errs []error
	if err := s.registry.Add(ctx, add); err != nil {
		errs = append(errs, err)
	}
	if err := s.registry.Remove(ctx, remove); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		logging.Warn().Err(err).Ints64("add", add).Ints64("remove", remove).Msg("Subscription update not confirmed by feed")
		return err
	}
	return nil
}

// SubscribeToLocations adds solar-system subscriptions.
func (s *Service) SubscribeToLocations(ctx context.Context, locationIDs []int64) error {
	if err := s.registry.AddLocations(ctx, locationIDs); err != nil {
		logging.Warn().Err(err).Ints64("locations", locationIDs).Msg("Location subscription not confirmed by feed")
		return err
	}
	return nil
}

// Resync reloads tracked characters from storage and, when connected,
// unsubscribes characters no longer tracked and replays the set.
func (s *Service) Resync(ctx context.Context) error {
	before := s.registry.Current()
	after, err := s.registry.LoadAll(ctx)
	if err != nil {
		return err
	}
	if !s.feed.IsConnected() {
		return nil
	}

	var dropped []int64
	for _, id := range before.SortedCharacterIDs() {
		if _, ok := after.CharacterIDs[id]; !ok {
			dropped = append(dropped, id)
		}
	}

	var errs []error
	if len(dropped) > 0 {
		logging.Info().Ints64("characters", dropped).Msg("Unsubscribing characters no longer tracked")
		if err := s.registry.Remove(ctx, dropped); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.registry.Replay(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// GetStatus reports the live state. It never blocks on Start or Stop.
func (s *Service) GetStatus() Status {
	chars, locs := s.registry.Counts()
	st := s.State()

	s.statsMu.Lock()
	stats := s.stats
	s.statsMu.Unlock()

	s.killCountsMu.RLock()
	counts := make(map[int64]int64, len(s.killCounts))
	for k, v := range s.killCounts {
		counts[k] = v
	}
	s.killCountsMu.RUnlock()

	return Status{
		IsRunning:                st == StateRunning,
		IsConnected:              s.feed.IsConnected(),
		SubscribedCharacterCount: chars,
		SubscribedLocationCount:  locs,
		State:                    st.String(),
		Stats:                    stats,
		KillCounts:               counts,
	}
}

// handleEvent runs on the feed read loop and must not block.
func (s *Service) handleEvent(event string, payload json.RawMessage) {
	switch event {
	case models.EventKillmailUpdate:
		s.enqueue(payload)
	case models.EventKillCountUpdate:
		s.recordKillCount(payload)
	default:
		logging.Debug().Str("event", event).Msg("Ignoring feed event")
	}
}

func (s *Service) enqueue(payload json.RawMessage) {
	s.queueMu.RLock()
	defer s.queueMu.RUnlock()

	if s.queue == nil {
		return
	}
	select {
	case s.queue <- payload:
		metrics.BatchQueueDepth.Set(float64(len(s.queue)))
	default:
		metrics.BatchesDropped.Inc()
		s.statsMu.Lock()
		s.stats.BatchesDropped++
		s.statsMu.Unlock()
		logging.Warn().Int("queue_size", cap(s.queue)).Msg("Batch queue full, dropping killmail batch")
	}
}

func (s *Service) recordKillCount(payload json.RawMessage) {
	var update models.KillCountUpdate
	if err := json.Unmarshal(payload, &update); err != nil || !update.SystemID.Valid {
		logging.Debug().Err(err).Msg("Ignoring malformed kill_count_update")
		return
	}
	s.killCountsMu.Lock()
	s.killCounts[update.SystemID.Value] = update.Count.Value
	s.killCountsMu.Unlock()
}

func (s *Service) startWorker() {
	queue := make(chan json.RawMessage, s.cfg.QueueSize)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	s.queueMu.Lock()
	s.queue = queue
	s.workerCancel = cancel
	s.workerDone = done
	s.queueMu.Unlock()

	go s.runWorker(ctx, queue, done)
}

// stopWorker closes the queue, lets the worker drain it and gives up when
// ctx expires. On expiry the worker finishes only the record already in the
// gateway.
func (s *Service) stopWorker(ctx context.Context) {
	s.queueMu.Lock()
	queue, cancel, done := s.queue, s.workerCancel, s.workerDone
	s.queue, s.workerCancel, s.workerDone = nil, nil, nil
	s.queueMu.Unlock()

	if queue == nil {
		return
	}
	close(queue)

	select {
	case <-done:
	case <-ctx.Done():
		logging.Warn().Int("pending_batches", len(queue)).Msg("Shutdown timeout, abandoning queued batches")
		cancel()
		<-done
	}
	cancel()
	metrics.BatchQueueDepth.Set(0)
}

func (s *Service) runWorker(ctx context.Context, queue <-chan json.RawMessage, done chan<- struct{}) {
	defer close(done)

	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-queue:
			if !ok {
				return
			}
			metrics.BatchQueueDepth.Set(float64(len(queue)))
			s.processPayload(ctx, payload)
		}
	}
}

// processPayload decodes one killmail_update and processes it.
func (s *Service) processPayload(ctx context.Context, payload json.RawMessage) {
	ctx = logging.ContextWithNewCorrelationID(ctx)

	var update models.KillmailUpdate
	if err := json.Unmarshal(payload, &update); err != nil {
		metrics.KillmailsMalformed.Inc()
		s.statsMu.Lock()
		s.stats.Malformed++
		s.statsMu.Unlock()
		logging.Ctx(ctx).Warn().Err(err).Msg("Failed to decode killmail_update batch")
		return
	}

	s.ProcessBatch(ctx, &update)
}

// ProcessBatch maps, filters and ingests every record of update. A failure
// on one record never stops the others. Once ctx is done the remaining
// records are abandoned; the record already handed to the gateway is not
// cancelled.
func (s *Service) ProcessBatch(ctx context.Context, update *models.KillmailUpdate) BatchResult {
	log := logging.Ctx(ctx)
	result := BatchResult{Received: len(update.Killmails)}
	metrics.RecordBatchReceived(update.Preload, result.Received)

	records, mapErrs := MapBatch(update)
	for _, me := range mapErrs {
		metrics.KillmailsMalformed.Inc()
		log.Warn().Err(me.Err).Int("index", me.Index).Int64("killmail_id", me.KillmailID).Msg("Skipping malformed killmail")
	}
	result.Malformed = len(mapErrs)

	subs := s.registry.Current()
	for i := range records {
		if ctx.Err() != nil {
			result.Abandoned = len(records) - i
			metrics.RecordAbandoned(result.Abandoned)
			log.Warn().Int("abandoned", result.Abandoned).Msg("Shutdown interrupted killmail batch")
			break
		}
		switch s.processRecord(ctx, &records[i], subs, update.Preload) {
		case outcomeIngested:
			result.Ingested++
		case outcomeFiltered:
			result.Filtered++
		case outcomeFailed:
			result.Failed++
		}
	}

	s.recordBatch(update.Preload, result)
	log.Debug().
		Bool("preload", update.Preload).
		Int64("system_id", update.SystemID.Value).
		Int("received", result.Received).
		Int("malformed", result.Malformed).
		Int("filtered", result.Filtered).
		Int("ingested", result.Ingested).
		Int("failed", result.Failed).
		Int("abandoned", result.Abandoned).
		Msg("Processed killmail batch")
	return result
}

func (s *Service) processRecord(ctx context.Context, rec *models.KillmailRecord, subs models.SubscriptionSet, preload bool) recordOutcome {
	if !IsRelevant(rec, subs) {
		metrics.KillmailsFiltered.Inc()
		return outcomeFiltered
	}

	start := time.Now()
	if err := s.gateway.Ingest(context.WithoutCancel(ctx), rec); err != nil {
		reason := "storage"
		if errors.Is(err, ErrCircuitOpen) {
			reason = "circuit_open"
		}
		metrics.RecordIngestError(reason)
		logging.Ctx(ctx).Error().Err(err).Int64("killmail_id", rec.KillmailID).Msg("Failed to ingest killmail")
		return outcomeFailed
	}
	metrics.RecordKillmailIngested(preload, time.Since(start))
	return outcomeIngested
}

func (s *Service) recordBatch(preload bool, r BatchResult) {
	now := time.Now().UTC()

	s.statsMu.Lock()
	defer s.statsMu.Unlock()

	s.stats.BatchesReceived++
	if preload {
		s.stats.PreloadBatches++
	}
	s.stats.KillmailsReceived += int64(r.Received)
	s.stats.Malformed += int64(r.Malformed)
	s.stats.Filtered += int64(r.Filtered)
	s.stats.Ingested += int64(r.Ingested)
	s.stats.Failed += int64(r.Failed)
	s.stats.Abandoned += int64(r.Abandoned)
	s.stats.LastBatchAt = &now
	s.stats.LastBatchPreload = preload
}
