// Package session binds a rules-engine state, an orchestrator, and an event
// bus into one game lifecycle: status transitions, order submission, phase
// resolution, message routing, and snapshot production.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/concertlabs/concert/internal/engine"
	"github.com/concertlabs/concert/internal/event"
	"github.com/concertlabs/concert/internal/model"
	"github.com/concertlabs/concert/internal/orchestrator"
)

var (
	ErrInvalidState = errors.New("operation not legal in current game state")
	ErrWrongPhase   = errors.New("submission does not match the current phase")
)

// VictorySupplyCenters is the solo-victory threshold on the standard map.
const VictorySupplyCenters = 18

// Session is one hosted game. Status transitions and state access are
// guarded by mu; the bus and orchestrator are never called while mu is held,
// so listeners may call back into the session.
type Session struct {
	id   string
	name string
	eng  engine.Engine
	bus  *event.Bus
	orch *orchestrator.Orchestrator

	mu          sync.Mutex
	status      model.GameStatus
	state       *engine.State
	createdAt   time.Time
	startedAt   *time.Time
	completedAt *time.Time

	histMu   sync.Mutex
	history  []event.Event
	messages []model.Message
}

// New creates a PENDING session and emits GAME_CREATED.
func New(name string, eng engine.Engine, cfg model.OrchestratorConfig) *Session {
	id := uuid.NewString()
	bus := event.NewBus()
	s := &Session{
		id:        id,
		name:      name,
		eng:       eng,
		bus:       bus,
		status:    model.StatusPending,
		createdAt: time.Now(),
	}
	s.orch = orchestrator.New(id, cfg, eng, bus)
	s.orch.SetAutoResolve(s.autoResolve)
	bus.Subscribe(s.record)

	s.publish(event.TypeGameCreated, event.GameCreated{Name: name})
	log.Info().Str("gameId", id).Str("name", name).Msg("Game created")
	return s
}

// record is the session's own bus listener: it appends to the history and
// reacts to engine failures by pausing the game.
func (s *Session) record(e event.Event) {
	s.histMu.Lock()
	s.history = append(s.history, e)
	s.histMu.Unlock()

	if e.Type != event.TypeError {
		return
	}
	p, ok := e.Payload.(event.Error)
	if !ok || p.Kind != "engine_failure" {
		return
	}
	s.mu.Lock()
	paused := s.status == model.StatusActive
	if paused {
		s.status = model.StatusPaused
	}
	s.mu.Unlock()
	if paused {
		s.orch.Pause()
		log.Error().Str("gameId", s.id).Str("error", p.Message).
			Msg("Engine failure, game paused")
	}
}

func (s *Session) publish(t event.Type, payload any) {
	s.bus.Publish(event.Event{
		Type:      t,
		GameID:    s.id,
		Timestamp: time.Now(),
		Payload:   payload,
	})
}

// Start moves PENDING to ACTIVE, initializes the board, and opens the first
// phase.
func (s *Session) Start() error {
	s.mu.Lock()
	if s.status != model.StatusPending {
		s.mu.Unlock()
		return fmt.Errorf("%w: start requires PENDING, got %s", ErrInvalidState, s.status)
	}
	st := s.eng.InitialState()
	s.state = st
	s.status = model.StatusActive
	now := time.Now()
	s.startedAt = &now
	s.mu.Unlock()

	s.publish(event.TypeGameStarted, event.GameStarted{
		Year:   st.Year,
		Season: st.Season,
		Phase:  st.Phase,
	})
	log.Info().Str("gameId", s.id).Msg("Game started")
	return s.orch.StartPhase(st)
}

// Pause moves ACTIVE to PAUSED and cancels all timers.
func (s *Session) Pause(reason string) error {
	s.mu.Lock()
	if s.status != model.StatusActive {
		s.mu.Unlock()
		return fmt.Errorf("%w: pause requires ACTIVE, got %s", ErrInvalidState, s.status)
	}
	s.status = model.StatusPaused
	s.mu.Unlock()

	s.orch.Pause()
	s.publish(event.TypeGamePaused, event.GamePaused{Reason: reason})
	log.Info().Str("gameId", s.id).Str("reason", reason).Msg("Game paused")
	return nil
}

// Resume moves PAUSED back to ACTIVE and rearms timers from the preserved
// deadline.
func (s *Session) Resume() error {
	s.mu.Lock()
	if s.status != model.StatusPaused {
		s.mu.Unlock()
		return fmt.Errorf("%w: resume requires PAUSED, got %s", ErrInvalidState, s.status)
	}
	s.status = model.StatusActive
	st := s.state
	s.mu.Unlock()

	s.publish(event.TypeGameResumed, nil)
	log.Info().Str("gameId", s.id).Msg("Game resumed")
	s.orch.Resume(st)
	return nil
}

// Abandon terminates a non-ended game.
func (s *Session) Abandon(reason string) error {
	s.mu.Lock()
	if s.status.Ended() {
		s.mu.Unlock()
		return fmt.Errorf("%w: game already %s", ErrInvalidState, s.status)
	}
	s.status = model.StatusAbandoned
	now := time.Now()
	s.completedAt = &now
	s.mu.Unlock()

	s.orch.ClearPhase()
	s.publish(event.TypeGameAbandoned, event.GameAbandoned{Reason: reason})
	log.Info().Str("gameId", s.id).Str("reason", reason).Msg("Game abandoned")
	return nil
}

// checkSubmittable verifies status and phase and returns the live state.
func (s *Session) checkSubmittable(want ...model.PhaseType) (*engine.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != model.StatusActive {
		return nil, fmt.Errorf("%w: submissions require ACTIVE, got %s", ErrInvalidState, s.status)
	}
	for _, p := range want {
		if s.state.Phase == p {
			return s.state, nil
		}
	}
	return nil, fmt.Errorf("%w: current phase is %s", ErrWrongPhase, s.state.Phase)
}

// SubmitMovementOrders validates and records one power's movement orders.
// Accepted during the DIPLOMACY (order-writing) and MOVEMENT phases.
func (s *Session) SubmitMovementOrders(power model.Power, orders []engine.MovementOrder) error {
	st, err := s.checkSubmittable(model.PhaseDiplomacy, model.PhaseMovement)
	if err != nil {
		return err
	}
	if err := s.eng.SubmitMovement(st, power, orders); err != nil {
		s.publish(event.TypeError, event.Error{Kind: "invalid_orders", Message: err.Error()})
		return fmt.Errorf("submit movement for %s: %w", power, err)
	}
	return s.orch.RecordSubmission(st, power, len(orders))
}

// SubmitRetreatOrders validates and records one power's retreat orders.
func (s *Session) SubmitRetreatOrders(power model.Power, orders []engine.RetreatOrder) error {
	st, err := s.checkSubmittable(model.PhaseRetreat)
	if err != nil {
		return err
	}
	if err := s.eng.SubmitRetreat(st, power, orders); err != nil {
		s.publish(event.TypeError, event.Error{Kind: "invalid_orders", Message: err.Error()})
		return fmt.Errorf("submit retreats for %s: %w", power, err)
	}
	return s.orch.RecordSubmission(st, power, len(orders))
}

// SubmitBuildOrders validates and records one power's build orders.
func (s *Session) SubmitBuildOrders(power model.Power, orders []engine.BuildOrder) error {
	st, err := s.checkSubmittable(model.PhaseBuild)
	if err != nil {
		return err
	}
	if err := s.eng.SubmitBuild(st, power, orders); err != nil {
		s.publish(event.TypeError, event.Error{Kind: "invalid_orders", Message: err.Error()})
		return fmt.Errorf("submit builds for %s: %w", power, err)
	}
	return s.orch.RecordSubmission(st, power, len(orders))
}

// SubmitDefaultOrders submits the canonical safe orders for a power in the
// current phase: holds, disbands, or a waive. Used by agent runners after
// LLM exhaustion.
func (s *Session) SubmitDefaultOrders(power model.Power) error {
	st, err := s.checkSubmittable(model.PhaseDiplomacy, model.PhaseMovement, model.PhaseRetreat, model.PhaseBuild)
	if err != nil {
		return err
	}
	switch st.Phase {
	case model.PhaseRetreat:
		var orders []engine.RetreatOrder
		for _, d := range st.DislodgedOf(power) {
			orders = append(orders, engine.RetreatOrder{Location: d.DislodgedFrom})
		}
		return s.SubmitRetreatOrders(power, orders)
	case model.PhaseBuild:
		n := st.PendingBuilds[power]
		if n >= 0 {
			return s.SubmitBuildOrders(power, nil)
		}
		units := st.UnitsOf(power)
		count := -n
		if count > len(units) {
			count = len(units)
		}
		var orders []engine.BuildOrder
		for _, u := range units[:count] {
			orders = append(orders, engine.BuildOrder{
				Type: "disband", UnitType: u.Type, Location: u.Province, Coast: u.Coast,
			})
		}
		return s.SubmitBuildOrders(power, orders)
	default:
		var orders []engine.MovementOrder
		for _, u := range st.UnitsOf(power) {
			orders = append(orders, engine.MovementOrder{
				UnitType: u.Type, Location: u.Province, Coast: u.Coast, Type: "hold",
			})
		}
		return s.SubmitMovementOrders(power, orders)
	}
}

// autoResolve is the orchestrator's callback. A lost race with a manual
// resolve is not an error.
func (s *Session) autoResolve() {
	if err := s.ResolvePhase(); err != nil && !errors.Is(err, orchestrator.ErrNoActivePhase) {
		log.Error().Err(err).Str("gameId", s.id).Msg("Auto-resolve failed")
	}
}

// ResolvePhase resolves the current phase and either completes the game or
// opens the next phase.
func (s *Session) ResolvePhase() error {
	s.mu.Lock()
	if s.status != model.StatusActive {
		s.mu.Unlock()
		return fmt.Errorf("%w: resolve requires ACTIVE, got %s", ErrInvalidState, s.status)
	}
	st := s.state
	s.mu.Unlock()

	if _, err := s.orch.ResolvePhase(st); err != nil {
		return err
	}
	return s.afterResolve(st)
}

// afterResolve checks the victory condition on the post-resolution state and
// opens the next phase when the game goes on.
func (s *Session) afterResolve(st *engine.State) error {
	winner, won := victor(st)

	s.mu.Lock()
	if s.status != model.StatusActive {
		// Paused or abandoned while resolving; the next phase will open on
		// resume.
		s.mu.Unlock()
		return nil
	}
	if won {
		s.status = model.StatusCompleted
		now := time.Now()
		s.completedAt = &now
	}
	s.mu.Unlock()

	if won {
		s.publish(event.TypeGameCompleted, event.GameCompleted{
			Winner:    winner,
			FinalYear: st.Year,
		})
		log.Info().Str("gameId", s.id).Str("winner", string(winner)).
			Int("year", st.Year).Msg("Game completed")
		return nil
	}
	return s.orch.StartPhase(st)
}

// victor returns the power holding the solo-victory supply-center count.
func victor(st *engine.State) (model.Power, bool) {
	for _, p := range model.AllPowers {
		if st.SupplyCount(p) >= VictorySupplyCenters {
			return p, true
		}
	}
	return "", false
}

// ForceDeadline runs deadline handling immediately.
func (s *Session) ForceDeadline() error {
	s.mu.Lock()
	if s.status != model.StatusActive {
		s.mu.Unlock()
		return fmt.Errorf("%w: force deadline requires ACTIVE, got %s", ErrInvalidState, s.status)
	}
	s.mu.Unlock()
	return s.orch.ForceDeadline()
}

// ID returns the game id.
func (s *Session) ID() string { return s.id }

// Name returns the display name.
func (s *Session) Name() string { return s.name }

// Status returns the lifecycle status.
func (s *Session) Status() model.GameStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// State returns a deep copy of the board state, or nil before start.
func (s *Session) State() *engine.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return nil
	}
	return s.eng.Clone(s.state)
}

// PhaseStatus returns a copy of the live phase bookkeeping, or nil.
func (s *Session) PhaseStatus() *model.PhaseStatus {
	return s.orch.PhaseStatus()
}

// Events returns a copy of the append-only event history.
func (s *Session) Events() []event.Event {
	s.histMu.Lock()
	defer s.histMu.Unlock()
	return append([]event.Event(nil), s.history...)
}

// OnEvent subscribes a listener; the returned func unsubscribes and is safe
// to call twice.
func (s *Session) OnEvent(fn func(event.Event)) func() {
	return s.bus.Subscribe(fn)
}

// RegisterAgent binds an agent handle to a power.
func (s *Session) RegisterAgent(h model.AgentHandle) {
	s.orch.RegisterAgent(h)
}

// Agent returns the handle registered for a power.
func (s *Session) Agent(p model.Power) (model.AgentHandle, bool) {
	return s.orch.Agent(p)
}

// Agents returns all registered handles.
func (s *Session) Agents() []model.AgentHandle {
	return s.orch.Agents()
}

// MarkAgentActive records explicit agent activity.
func (s *Session) MarkAgentActive(p model.Power) {
	s.orch.MarkAgentActive(p)
}

// Config returns a copy of the orchestrator configuration.
func (s *Session) Config() model.OrchestratorConfig {
	return s.orch.Config()
}

// UpdateConfig applies a partial configuration update.
func (s *Session) UpdateConfig(patch model.ConfigPatch) {
	s.orch.UpdateConfig(patch)
}

// CreatedAt returns the creation time.
func (s *Session) CreatedAt() time.Time { return s.createdAt }
