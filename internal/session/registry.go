package session

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/concertlabs/concert/internal/engine"
	"github.com/concertlabs/concert/internal/event"
	"github.com/concertlabs/concert/internal/model"
)

// SnapshotStore persists session snapshots. Implementations live in the
// repository packages.
type SnapshotStore interface {
	Save(ctx context.Context, snap *Snapshot) error
	Load(ctx context.Context, gameID string) (*Snapshot, error)
	List(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, gameID string) error
}

// Registry holds the live sessions of one process and persists them through
// a snapshot store. The store may be nil for ephemeral games.
type Registry struct {
	eng   engine.Engine
	store SnapshotStore

	mu         sync.Mutex
	sessions   map[string]*Session
	onRegister func(s *Session, recovered bool)
}

// NewRegistry creates an empty registry.
func NewRegistry(eng engine.Engine, store SnapshotStore) *Registry {
	return &Registry{
		eng:      eng,
		store:    store,
		sessions: make(map[string]*Session),
	}
}

// SetOnRegister installs a hook invoked for every session entering the
// registry, both freshly created and recovered. Used to attach cross-cutting
// listeners such as webhook dispatch.
func (r *Registry) SetOnRegister(fn func(s *Session, recovered bool)) {
	r.onRegister = fn
}

// Create builds a new session, registers it, and persists snapshots on every
// lifecycle boundary and resolution.
func (r *Registry) Create(name string, cfg model.OrchestratorConfig) *Session {
	s := New(name, r.eng, cfg)
	r.mu.Lock()
	r.sessions[s.ID()] = s
	r.mu.Unlock()
	if r.onRegister != nil {
		r.onRegister(s, false)
	}

	if r.store != nil {
		s.OnEvent(func(e event.Event) {
			switch e.Type {
			case event.TypeGameStarted, event.TypeGamePaused, event.TypeGameResumed,
				event.TypeGameCompleted, event.TypeGameAbandoned, event.TypeOrdersResolved:
				r.persist(s)
			}
		})
		r.persist(s)
	}
	return s
}

func (r *Registry) persist(s *Session) {
	if err := r.store.Save(context.Background(), s.Snapshot()); err != nil {
		log.Error().Err(err).Str("gameId", s.ID()).Msg("Snapshot persist failed")
	}
}

// Get returns a registered session.
func (r *Registry) Get(gameID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[gameID]
	return s, ok
}

// List returns all registered sessions sorted by creation time.
func (r *Registry) List() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt().Before(out[j].CreatedAt())
	})
	return out
}

// Remove drops a session from the registry and deletes its snapshot.
func (r *Registry) Remove(ctx context.Context, gameID string) error {
	r.mu.Lock()
	delete(r.sessions, gameID)
	r.mu.Unlock()
	if r.store == nil {
		return nil
	}
	return r.store.Delete(ctx, gameID)
}

// RecoverSessions restores every persisted session after a restart. Games
// that were ACTIVE get their timers rearmed; a deadline that passed while
// the process was down fires immediately.
func (r *Registry) RecoverSessions(ctx context.Context) (int, error) {
	if r.store == nil {
		return 0, nil
	}
	ids, err := r.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list snapshots: %w", err)
	}

	recovered := 0
	for _, id := range ids {
		snap, err := r.store.Load(ctx, id)
		if err != nil {
			log.Error().Err(err).Str("gameId", id).Msg("Snapshot load failed, skipping")
			continue
		}
		s, err := FromSnapshot(snap, r.eng)
		if err != nil {
			log.Error().Err(err).Str("gameId", id).Msg("Snapshot restore failed, skipping")
			continue
		}

		r.mu.Lock()
		r.sessions[s.ID()] = s
		r.mu.Unlock()
		if r.onRegister != nil {
			r.onRegister(s, true)
		}

		if s.Status() == model.StatusActive {
			s.RearmTimers()
		}
		recovered++
		log.Info().Str("gameId", s.ID()).Str("status", string(s.Status())).
			Msg("Session recovered")
	}
	return recovered, nil
}
