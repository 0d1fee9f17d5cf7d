package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/concertlabs/concert/internal/engine/enginetest"
	"github.com/concertlabs/concert/internal/model"
)

// memoryStore is an in-memory SnapshotStore.
type memoryStore struct {
	mu    sync.Mutex
	snaps map[string]*Snapshot
}

func newMemoryStore() *memoryStore {
	return &memoryStore{snaps: make(map[string]*Snapshot)}
}

func (m *memoryStore) Save(_ context.Context, snap *Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps[snap.GameID] = snap
	return nil
}

func (m *memoryStore) Load(_ context.Context, gameID string) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.snaps[gameID]
	if !ok {
		return nil, ErrInvalidState
	}
	return snap, nil
}

func (m *memoryStore) List(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for id := range m.snaps {
		ids = append(ids, id)
	}
	return ids, nil
}

func (m *memoryStore) Delete(_ context.Context, gameID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.snaps, gameID)
	return nil
}

func TestRegistryLifecycle(t *testing.T) {
	store := newMemoryStore()
	reg := NewRegistry(enginetest.New(), store)

	s := reg.Create("registry match", testConfig())
	defer s.Abandon("test cleanup")

	if _, ok := reg.Get(s.ID()); !ok {
		t.Fatal("created session not registered")
	}
	if len(reg.List()) != 1 {
		t.Errorf("list = %d, want 1", len(reg.List()))
	}

	// Creation persists an initial snapshot.
	if _, err := store.Load(context.Background(), s.ID()); err != nil {
		t.Fatalf("initial snapshot missing: %v", err)
	}

	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, time.Second, "started snapshot", func() bool {
		snap, err := store.Load(context.Background(), s.ID())
		return err == nil && snap.Status == model.StatusActive
	})

	if err := reg.Remove(context.Background(), s.ID()); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, ok := reg.Get(s.ID()); ok {
		t.Error("removed session still registered")
	}
	if _, err := store.Load(context.Background(), s.ID()); err == nil {
		t.Error("snapshot survived removal")
	}
}

func TestRegistryRecoverSessions(t *testing.T) {
	store := newMemoryStore()
	eng := enginetest.New()

	first := NewRegistry(eng, store)
	s := first.Create("to recover", testConfig())
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, time.Second, "active snapshot", func() bool {
		snap, err := store.Load(context.Background(), s.ID())
		return err == nil && snap.Status == model.StatusActive
	})
	// Simulate process death: timers vanish with the registry.
	s.Pause("shutdown")
	snap := s.Snapshot()
	snap.Status = model.StatusActive
	store.Save(context.Background(), snap)

	second := NewRegistry(eng, store)
	n, err := second.RecoverSessions(context.Background())
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if n != 1 {
		t.Fatalf("recovered = %d, want 1", n)
	}

	restored, ok := second.Get(s.ID())
	if !ok {
		t.Fatal("recovered session not registered")
	}
	defer restored.Abandon("test cleanup")
	if restored.Status() != model.StatusActive {
		t.Errorf("status = %s, want ACTIVE", restored.Status())
	}
	if restored.PhaseStatus() == nil {
		t.Error("phase bookkeeping lost in recovery")
	}
}
