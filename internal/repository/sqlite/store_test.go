package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/concertlabs/concert/internal/engine/enginetest"
	"github.com/concertlabs/concert/internal/model"
	"github.com/concertlabs/concert/internal/session"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "games", "concert.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func testSnapshot(gameID string) *session.Snapshot {
	eng := enginetest.New()
	return &session.Snapshot{
		GameID:    gameID,
		Name:      "persisted match",
		Status:    model.StatusActive,
		Config:    model.DefaultOrchestratorConfig(),
		GameState: eng.InitialState(),
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
}

func TestSaveAndLoad(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	snap := testSnapshot("game-1")
	if err := store.Save(ctx, snap); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := store.Load(ctx, "game-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Name != snap.Name || got.Status != snap.Status {
		t.Errorf("loaded %q/%s, want %q/%s", got.Name, got.Status, snap.Name, snap.Status)
	}
	if got.GameState == nil || len(got.GameState.Units) != 22 {
		t.Errorf("game state did not survive the round trip")
	}
	if !got.CreatedAt.Equal(snap.CreatedAt) {
		t.Errorf("created_at = %v, want %v", got.CreatedAt, snap.CreatedAt)
	}
}

func TestSaveUpserts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	snap := testSnapshot("game-1")
	if err := store.Save(ctx, snap); err != nil {
		t.Fatalf("save: %v", err)
	}
	snap.Status = model.StatusCompleted
	if err := store.Save(ctx, snap); err != nil {
		t.Fatalf("second save: %v", err)
	}

	got, err := store.Load(ctx, "game-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Status != model.StatusCompleted {
		t.Errorf("status = %s, want COMPLETED", got.Status)
	}
	ids, err := store.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ids) != 1 {
		t.Errorf("list = %v, want one entry", ids)
	}
}

func TestLoadMissing(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.Load(context.Background(), "nope"); !errors.Is(err, ErrSnapshotNotFound) {
		t.Errorf("err = %v, want ErrSnapshotNotFound", err)
	}
}

func TestListAndDelete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		if err := store.Save(ctx, testSnapshot(id)); err != nil {
			t.Fatalf("save %s: %v", id, err)
		}
	}
	ids, err := store.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ids) != 3 {
		t.Fatalf("list = %v, want 3 entries", ids)
	}

	if err := store.Delete(ctx, "b"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := store.Delete(ctx, "b"); err != nil {
		t.Errorf("repeat delete errored: %v", err)
	}
	ids, _ = store.List(ctx)
	if len(ids) != 2 {
		t.Errorf("list after delete = %v, want 2 entries", ids)
	}
	if _, err := store.Load(ctx, "b"); !errors.Is(err, ErrSnapshotNotFound) {
		t.Errorf("deleted snapshot still loads: %v", err)
	}
}
