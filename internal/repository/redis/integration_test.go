//go:build integration

package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/concertlabs/concert/internal/engine/enginetest"
	"github.com/concertlabs/concert/internal/model"
	"github.com/concertlabs/concert/internal/session"
	"github.com/concertlabs/concert/internal/testutil"
)

var testRDB *goredis.Client

func setup(t *testing.T) *Cache {
	t.Helper()
	if testRDB == nil {
		testRDB = testutil.SetupRedis(t)
	}
	testutil.CleanupRedis(t, testRDB)
	return NewCacheFromClient(testRDB)
}

func cachedSnapshot(gameID string) *session.Snapshot {
	eng := enginetest.New()
	return &session.Snapshot{
		GameID:    gameID,
		Name:      "cached match",
		Status:    model.StatusActive,
		Config:    model.DefaultOrchestratorConfig(),
		GameState: eng.InitialState(),
		CreatedAt: time.Now().UTC(),
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	c := setup(t)
	ctx := context.Background()

	snap := cachedSnapshot("game-1")
	if err := c.StoreSnapshot(ctx, snap); err != nil {
		t.Fatalf("store snapshot: %v", err)
	}

	got, err := c.LoadSnapshot(ctx, "game-1")
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	if got == nil {
		t.Fatal("expected cached snapshot")
	}
	if got.Name != snap.Name || len(got.GameState.Units) != 22 {
		t.Fatalf("snapshot round-trip failed: %+v", got)
	}

	ids, err := c.GameIDs(ctx)
	if err != nil {
		t.Fatalf("game ids: %v", err)
	}
	if len(ids) != 1 || ids[0] != "game-1" {
		t.Fatalf("index = %v, want [game-1]", ids)
	}
}

func TestSnapshotMiss(t *testing.T) {
	c := setup(t)

	got, err := c.LoadSnapshot(context.Background(), "nonexistent")
	if err != nil {
		t.Fatalf("load missing snapshot: %v", err)
	}
	if got != nil {
		t.Fatal("expected nil on cache miss")
	}
}

func TestDeadlineMirrorTTL(t *testing.T) {
	c := setup(t)
	ctx := context.Background()
	gameID := "game-2"

	deadline := time.Now().Add(10 * time.Second)
	if err := c.MirrorDeadline(ctx, gameID, deadline); err != nil {
		t.Fatalf("mirror deadline: %v", err)
	}

	ttl := testRDB.TTL(ctx, deadlineKey(gameID)).Val()
	if ttl <= 0 || ttl > 16*time.Second {
		t.Fatalf("expected TTL ~15s, got %v", ttl)
	}

	if err := c.ClearDeadline(ctx, gameID); err != nil {
		t.Fatalf("clear deadline: %v", err)
	}
	if testRDB.Exists(ctx, deadlineKey(gameID)).Val() != 0 {
		t.Fatal("expected deadline key deleted")
	}
}

func TestDeadlineMirrorPastDeadline(t *testing.T) {
	c := setup(t)
	ctx := context.Background()
	gameID := "game-2b"

	// Past deadline should set the minimum 1s TTL.
	if err := c.MirrorDeadline(ctx, gameID, time.Now().Add(-5*time.Second)); err != nil {
		t.Fatalf("mirror past deadline: %v", err)
	}

	ttl := testRDB.TTL(ctx, deadlineKey(gameID)).Val()
	if ttl <= 0 || ttl > 2*time.Second {
		t.Fatalf("expected TTL ~1s, got %v", ttl)
	}
}

func TestDropGame(t *testing.T) {
	c := setup(t)
	ctx := context.Background()
	gameID := "game-3"

	c.StoreSnapshot(ctx, cachedSnapshot(gameID))
	c.MirrorDeadline(ctx, gameID, time.Now().Add(10*time.Second))

	if err := c.DropGame(ctx, gameID); err != nil {
		t.Fatalf("drop game: %v", err)
	}

	snap, _ := c.LoadSnapshot(ctx, gameID)
	if snap != nil {
		t.Fatal("expected snapshot evicted")
	}
	if testRDB.Exists(ctx, deadlineKey(gameID)).Val() != 0 {
		t.Fatal("expected deadline key evicted")
	}
	ids, _ := c.GameIDs(ctx)
	if len(ids) != 0 {
		t.Fatalf("index = %v, want empty", ids)
	}
}

func TestCachingStoreWriteThrough(t *testing.T) {
	c := setup(t)
	ctx := context.Background()

	inner := &mapStore{snaps: map[string]*session.Snapshot{}}
	store := NewCachingStore(inner, c)

	snap := cachedSnapshot("game-4")
	if err := store.Save(ctx, snap); err != nil {
		t.Fatalf("save: %v", err)
	}
	if inner.snaps["game-4"] == nil {
		t.Fatal("durable store missed the write")
	}
	cached, _ := c.LoadSnapshot(ctx, "game-4")
	if cached == nil {
		t.Fatal("cache missed the write")
	}

	// Evict from the cache; load must fall back and backfill.
	testRDB.Del(ctx, snapshotKey("game-4"))
	got, err := store.Load(ctx, "game-4")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Name != snap.Name {
		t.Fatalf("loaded %q, want %q", got.Name, snap.Name)
	}
	if refilled, _ := c.LoadSnapshot(ctx, "game-4"); refilled == nil {
		t.Fatal("expected cache backfill")
	}

	if err := store.Delete(ctx, "game-4"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if inner.snaps["game-4"] != nil {
		t.Fatal("durable store kept deleted snapshot")
	}
}

// mapStore is a minimal in-memory SnapshotStore for the write-through tests.
type mapStore struct {
	snaps map[string]*session.Snapshot
}

func (m *mapStore) Save(_ context.Context, snap *session.Snapshot) error {
	m.snaps[snap.GameID] = snap
	return nil
}

func (m *mapStore) Load(_ context.Context, gameID string) (*session.Snapshot, error) {
	snap, ok := m.snaps[gameID]
	if !ok {
		return nil, errors.New("not found")
	}
	return snap, nil
}

func (m *mapStore) List(_ context.Context) ([]string, error) {
	var ids []string
	for id := range m.snaps {
		ids = append(ids, id)
	}
	return ids, nil
}

func (m *mapStore) Delete(_ context.Context, gameID string) error {
	delete(m.snaps, gameID)
	return nil
}
