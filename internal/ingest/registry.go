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

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/tomtom215/killfeed/internal/logging"
	"github.com/tomtom215/killfeed/internal/metrics"
	"github.com/tomtom215/killfeed/internal/models"
)

// RegistryConfig controls how subscription pushes are sent.
type RegistryConfig struct {
	// ChunkSize caps the ids per push. 0 sends everything in one push.
	ChunkSize int

	// Rate is the maximum pushes per second. 0 disables pacing.
	Rate float64

	// Preload is attached to subscribe pushes when non-nil.
	Preload *models.PreloadConfig
}

// Registry owns the SubscriptionSet.
//
// mu guards the set. sendMu serializes whole send sequences (add, remove,
// add-locations, replay) so a replay always sends a snapshot taken after
// every earlier mutation and never interleaves with another sequence.
type Registry struct {
	source    TrackedSource
	publisher Publisher
	cfg       RegistryConfig
	limiter   *rate.Limiter

	mu   sync.RWMutex
	subs models.SubscriptionSet

	sendMu sync.Mutex

	log zerolog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(source TrackedSource, publisher Publisher, cfg RegistryConfig) *Registry {
	limit := rate.Inf
	if cfg.Rate > 0 {
		limit = rate.Limit(cfg.Rate)
	}
	return &Registry{
		source:    source,
		publisher: publisher,
		cfg:       cfg,
		limiter:   rate.NewLimiter(limit, 1),
		subs:      models.NewSubscriptionSet(),
		log:       logging.WithComponent("subscriptions"),
	}
}

// LoadAll replaces the character set with the durably tracked characters.
// Locations are kept.
func (r *Registry) LoadAll(ctx context.Context) (models.SubscriptionSet, error) {
	ids, err := r.source.ListTrackedCharacterIDs(ctx)
	if err != nil {
		return models.SubscriptionSet{}, fmt.Errorf("failed to load tracked characters: %w", err)
	}

	characters := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		characters[id] = struct{}{}
	}

	r.mu.Lock()
	r.subs.CharacterIDs = characters
	snapshot := r.subs.Clone()
	r.mu.Unlock()

	r.publishCounts(snapshot)
	r.log.Info().Int("characters", len(snapshot.CharacterIDs)).Int("locations", len(snapshot.LocationIDs)).Msg("Subscription set loaded")
	return snapshot, nil
}

// Current returns a snapshot of the set.
func (r *Registry) Current() models.SubscriptionSet {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.subs.Clone()
}

// Counts returns the number of subscribed characters and locations.
func (r *Registry) Counts() (characters, locations int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs.CharacterIDs), len(r.subs.LocationIDs)
}

// Add subscribes characters. The set keeps the ids even if the push fails.
func (r *Registry) Add(ctx context.Context, characterIDs []int64) error {
	ids := normalizeIDs(characterIDs)
	if len(ids) == 0 {
		return nil
	}

	r.sendMu.Lock()
	defer r.sendMu.Unlock()

	r.mutate(func(s *models.SubscriptionSet) {
		for _, id := range ids {
			s.CharacterIDs[id] = struct{}{}
		}
	})

	return r.sendChunks(ctx, models.EventSubscribeCharacters, ids, func(chunk []int64) interface{} {
		return models.SubscribeCharactersPayload{CharacterIDs: chunk, Preload: r.cfg.Preload}
	})
}

// Remove unsubscribes characters. The set drops the ids even if the push fails.
func (r *Registry) Remove(ctx context.Context, characterIDs []int64) error {
	ids := normalizeIDs(characterIDs)
	if len(ids) == 0 {
		return nil
	}

	r.sendMu.Lock()
	defer r.sendMu.Unlock()

	r.mutate(func(s *models.SubscriptionSet) {
		for _, id := range ids {
			delete(s.CharacterIDs, id)
		}
	})

	return r.sendChunks(ctx, models.EventUnsubscribeCharacters, ids, func(chunk []int64) interface{} {
		return models.UnsubscribeCharactersPayload{CharacterIDs: chunk}
	})
}

// AddLocations subscribes solar systems.
func (r *Registry) AddLocations(ctx context.Context, locationIDs []int64) error {
	ids := normalizeIDs(locationIDs)
	if len(ids) == 0 {
		return nil
	}

	r.sendMu.Lock()
	defer r.sendMu.Unlock()

	r.mutate(func(s *models.SubscriptionSet) {
		for _, id := range ids {
			s.LocationIDs[id] = struct{}{}
		}
	})

	return r.sendChunks(ctx, models.EventSubscribeSystems, ids, func(chunk []int64) interface{} {
		return models.SubscribeSystemsPayload{Systems: chunk, Preload: r.cfg.Preload}
	})
}

// Replay resends the whole set. It is the rejoin callback, so it must not
// depend on what was sent before the reconnect.
func (r *Registry) Replay(ctx context.Context) error {
	r.sendMu.Lock()
	defer r.sendMu.Unlock()

	snapshot := r.Current()
	characters := snapshot.SortedCharacterIDs()
	locations := snapshot.SortedLocationIDs()

	metrics.SubscriptionReplays.Inc()
	r.log.Info().Int("characters", len(characters)).Int("locations", len(locations)).Msg("Replaying subscriptions")

	var errs []error
	if len(characters) > 0 {
		err := r.sendChunks(ctx, models.EventSubscribeCharacters, characters, func(chunk []int64) interface{} {
			return models.SubscribeCharactersPayload{CharacterIDs: chunk, Preload: r.cfg.Preload}
		})
		if err != nil {
			errs = append(errs, err)
		}
	}
	if len(locations) > 0 {
		err := r.sendChunks(ctx, models.EventSubscribeSystems, locations, func(chunk []int64) interface{} {
			return models.SubscribeSystemsPayload{Systems: chunk, Preload: r.cfg.Preload}
		})
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// UnsubscribeAll tells the feed to stop delivering every subscribed
// character without changing the set. Used on shutdown.
func (r *Registry) UnsubscribeAll(ctx context.Context) error {
	r.sendMu.Lock()
	defer r.sendMu.Unlock()

	characters := r.Current().SortedCharacterIDs()
	if len(characters) == 0 {
		return nil
	}
	return r.sendChunks(ctx, models.EventUnsubscribeCharacters, characters, func(chunk []int64) interface{} {
		return models.UnsubscribeCharactersPayload{CharacterIDs: chunk}
	})
}

func (r *Registry) mutate(fn func(s *models.SubscriptionSet)) {
	r.mu.Lock()
	fn(&r.subs)
	characters, locations := len(r.subs.CharacterIDs), len(r.subs.LocationIDs)
	r.mu.Unlock()
	metrics.SetSubscriptionCounts(characters, locations)
}

func (r *Registry) publishCounts(s models.SubscriptionSet) {
	metrics.SetSubscriptionCounts(len(s.CharacterIDs), len(s.LocationIDs))
}

// sendChunks pushes ids in ChunkSize pieces, paced by the limiter. It stops
// at the first failed push.
func (r *Registry) sendChunks(ctx context.Context, event string, ids []int64, build func([]int64) interface{}) error {
	size := r.cfg.ChunkSize
	if size <= 0 {
		size = len(ids)
	}

	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}

		if err := r.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%s paced out: %w", event, err)
		}
		if _, err := r.publisher.Push(ctx, event, build(ids[start:end])); err != nil {
			r.log.Warn().Err(err).Str("event", event).Int("ids", end-start).Msg("Subscription push failed, set will be replayed on reconnect")
			return fmt.Errorf("failed to push %s: %w", event, err)
		}
	}
	return nil
}

// normalizeIDs drops non-positive ids and duplicates, keeping first-seen order.
func normalizeIDs(ids []int64) []int64 {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id <= 0 {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
