package session

import (
	"errors"
	"time"

	"github.com/concertlabs/concert/internal/engine"
	"github.com/concertlabs/concert/internal/event"
	"github.com/concertlabs/concert/internal/model"
	"github.com/concertlabs/concert/internal/orchestrator"
)

// Snapshot is a self-contained, JSON-encodable copy of a session. It carries
// no secrets and no live timers.
type Snapshot struct {
	GameID      string                   `json:"game_id"`
	Name        string                   `json:"name"`
	Status      model.GameStatus         `json:"status"`
	Config      model.OrchestratorConfig `json:"config"`
	GameState   *engine.State            `json:"game_state,omitempty"`
	PhaseStatus *model.PhaseStatus       `json:"phase_status,omitempty"`
	Agents      []model.AgentHandle      `json:"agents,omitempty"`
	History     []event.Event            `json:"event_history"`
	Messages    []model.Message          `json:"messages,omitempty"`
	CreatedAt   time.Time                `json:"created_at"`
	StartedAt   *time.Time               `json:"started_at,omitempty"`
	CompletedAt *time.Time               `json:"completed_at,omitempty"`
}

// Snapshot produces a deep copy of the session suitable for persistence.
func (s *Session) Snapshot() *Snapshot {
	s.mu.Lock()
	snap := &Snapshot{
		GameID:      s.id,
		Name:        s.name,
		Status:      s.status,
		Config:      s.orch.Config(),
		CreatedAt:   s.createdAt,
		StartedAt:   s.startedAt,
		CompletedAt: s.completedAt,
	}
	if s.state != nil {
		snap.GameState = s.eng.Clone(s.state)
	}
	s.mu.Unlock()

	snap.PhaseStatus = s.orch.PhaseStatus()
	snap.Agents = s.orch.Agents()

	s.histMu.Lock()
	snap.History = append([]event.Event(nil), s.history...)
	snap.Messages = append([]model.Message(nil), s.messages...)
	s.histMu.Unlock()
	return snap
}

// FromSnapshot rebuilds a session around an engine. The restored session has
// the snapshot's status but NO live timers; if it was ACTIVE the caller must
// call RearmTimers to pick the deadline back up.
func FromSnapshot(snap *Snapshot, eng engine.Engine) (*Session, error) {
	if snap == nil || snap.GameID == "" {
		return nil, errors.New("snapshot is empty")
	}
	bus := event.NewBus()
	s := &Session{
		id:          snap.GameID,
		name:        snap.Name,
		eng:         eng,
		bus:         bus,
		status:      snap.Status,
		state:       snap.GameState,
		createdAt:   snap.CreatedAt,
		startedAt:   snap.StartedAt,
		completedAt: snap.CompletedAt,
		history:     append([]event.Event(nil), snap.History...),
		messages:    append([]model.Message(nil), snap.Messages...),
	}
	s.orch = orchestrator.New(snap.GameID, snap.Config, eng, bus)
	s.orch.SetAutoResolve(s.autoResolve)
	bus.Subscribe(s.record)

	for _, h := range snap.Agents {
		s.orch.RegisterAgent(h)
	}
	if snap.PhaseStatus != nil && snap.GameState != nil {
		s.orch.RestorePhase(snap.PhaseStatus, snap.GameState)
	}
	return s, nil
}

// RearmTimers restarts the deadline and nudge timers of a restored ACTIVE
// session. A deadline that passed while the process was down fires
// immediately.
func (s *Session) RearmTimers() {
	s.mu.Lock()
	active := s.status == model.StatusActive
	st := s.state
	s.mu.Unlock()
	if !active || st == nil {
		return
	}
	s.orch.Resume(st)
}
