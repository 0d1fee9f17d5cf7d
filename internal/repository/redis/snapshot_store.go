package redis

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/concertlabs/concert/internal/model"
	"github.com/concertlabs/concert/internal/session"
)

// CachingStore layers the Redis cache over a durable snapshot store. Writes
// go to both; reads prefer the cache and fall back to the inner store. Cache
// failures are logged and never fail the operation, the durable store is the
// source of truth.
type CachingStore struct {
	inner session.SnapshotStore
	cache *Cache
}

// NewCachingStore wraps a durable store with the cache.
func NewCachingStore(inner session.SnapshotStore, cache *Cache) *CachingStore {
	return &CachingStore{inner: inner, cache: cache}
}

// Save persists the snapshot and refreshes the cache. Active phases get
// their deadline mirrored; anything else clears it.
func (s *CachingStore) Save(ctx context.Context, snap *session.Snapshot) error {
	if err := s.inner.Save(ctx, snap); err != nil {
		return err
	}
	if err := s.cache.StoreSnapshot(ctx, snap); err != nil {
		log.Warn().Err(err).Str("gameId", snap.GameID).Msg("Snapshot cache write failed")
	}
	if snap.Status == model.StatusActive && snap.PhaseStatus != nil {
		if err := s.cache.MirrorDeadline(ctx, snap.GameID, snap.PhaseStatus.Deadline); err != nil {
			log.Warn().Err(err).Str("gameId", snap.GameID).Msg("Deadline mirror failed")
		}
	} else if err := s.cache.ClearDeadline(ctx, snap.GameID); err != nil {
		log.Warn().Err(err).Str("gameId", snap.GameID).Msg("Deadline clear failed")
	}
	return nil
}

// Load tries the cache first and backfills it from the durable store on a
// miss.
func (s *CachingStore) Load(ctx context.Context, gameID string) (*session.Snapshot, error) {
	if snap, err := s.cache.LoadSnapshot(ctx, gameID); err == nil && snap != nil {
		return snap, nil
	} else if err != nil {
		log.Warn().Err(err).Str("gameId", gameID).Msg("Snapshot cache read failed")
	}
	snap, err := s.inner.Load(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if cerr := s.cache.StoreSnapshot(ctx, snap); cerr != nil {
		log.Warn().Err(cerr).Str("gameId", gameID).Msg("Snapshot cache backfill failed")
	}
	return snap, nil
}

// List delegates to the durable store.
func (s *CachingStore) List(ctx context.Context) ([]string, error) {
	return s.inner.List(ctx)
}

// Delete removes the snapshot from both layers.
func (s *CachingStore) Delete(ctx context.Context, gameID string) error {
	if err := s.inner.Delete(ctx, gameID); err != nil {
		return err
	}
	if err := s.cache.DropGame(ctx, gameID); err != nil {
		log.Warn().Err(err).Str("gameId", gameID).Msg("Cache eviction failed")
	}
	return nil
}
