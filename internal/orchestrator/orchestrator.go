// Package orchestrator enforces phase progression and deadlines for one game:
// it tracks per-power submission completeness, nudges laggards, substitutes
// default orders on timeout, and requests auto-resolution when every active
// power has submitted and the minimum phase floor has elapsed.
package orchestrator

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/concertlabs/concert/internal/engine"
	"github.com/concertlabs/concert/internal/event"
	"github.com/concertlabs/concert/internal/model"
)

var (
	ErrPhaseInProgress = errors.New("a phase is already in progress")
	ErrNoActivePhase   = errors.New("no active phase")
	ErrUnknownPower    = errors.New("power is not active this phase")
)

// timeoutActionAutoHold and timeoutActionNone label the AGENT_TIMEOUT event.
const (
	timeoutActionAutoHold = "auto-hold"
	timeoutActionNone     = "none"
)

// Orchestrator runs the phase/deadline state machine for a single game.
// All mutations are serialized by one mutex; timer callbacks take the same
// lock, so the owning session is single-writer with respect to its state.
// Events are collected under the lock and published after it is released so
// listeners may call back into the orchestrator.
type Orchestrator struct {
	gameID string
	eng    engine.Engine
	bus    *event.Bus

	mu      sync.Mutex
	cfg     model.OrchestratorConfig
	phase   *model.PhaseStatus
	agents  map[model.Power]*model.AgentHandle
	state   *engine.State
	pending []event.Event

	// phaseSeq guards against stale timer fires: every phase start and
	// every timer clear bumps it, and handlers abort on mismatch.
	phaseSeq      int
	deadlineTimer *time.Timer
	nudgeTimer    *time.Timer
	resolveTimer  *time.Timer

	allReceivedSent bool
	autoResolve     func()

	now func() time.Time
}

// Option configures an Orchestrator at construction.
type Option func(*Orchestrator)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// New creates an orchestrator for one game. Events are published on bus.
func New(gameID string, cfg model.OrchestratorConfig, eng engine.Engine, bus *event.Bus, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		gameID: gameID,
		eng:    eng,
		bus:    bus,
		cfg:    cfg,
		agents: make(map[model.Power]*model.AgentHandle),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// ActivePowers returns the powers that must act in the state's current phase:
// unit owners for DIPLOMACY/MOVEMENT, owners of dislodged units for RETREAT,
// and powers with a non-zero build adjustment for BUILD.
func (o *Orchestrator) ActivePowers(st *engine.State) []model.Power {
	var active []model.Power
	switch st.Phase {
	case model.PhaseRetreat:
		seen := make(map[model.Power]bool)
		for _, d := range st.Dislodged {
			if !seen[d.Unit.Power] {
				seen[d.Unit.Power] = true
				active = append(active, d.Unit.Power)
			}
		}
	case model.PhaseBuild:
		for _, p := range model.AllPowers {
			if st.PendingBuilds[p] != 0 {
				active = append(active, p)
			}
		}
	default:
		for _, p := range model.AllPowers {
			if len(st.UnitsOf(p)) > 0 {
				active = append(active, p)
			}
		}
	}
	return active
}

// StartPhase begins the state's current phase: it initializes submission
// bookkeeping, arms the deadline and nudge timers, and emits PHASE_STARTED.
// Fails if a phase is already running.
func (o *Orchestrator) StartPhase(st *engine.State) error {
	o.mu.Lock()
	if o.phase != nil {
		o.mu.Unlock()
		return ErrPhaseInProgress
	}

	o.clearTimersLocked()
	o.state = st
	o.allReceivedSent = false

	now := o.now()
	dur := o.cfg.PhaseDuration(st.Phase)
	deadline := now.Add(dur)

	active := o.ActivePowers(st)
	subs := make([]model.SubmissionStatus, 0, len(active))
	for _, p := range active {
		subs = append(subs, model.SubmissionStatus{Power: p})
	}
	o.phase = &model.PhaseStatus{
		Year:        st.Year,
		Season:      st.Season,
		Phase:       st.Phase,
		Deadline:    deadline,
		StartedAt:   now,
		Submissions: subs,
	}

	o.armTimersLocked(dur, o.cfg.NudgeBeforeDeadline)

	o.emitLocked(event.TypePhaseStarted, event.PhaseStarted{
		Year:         st.Year,
		Season:       st.Season,
		Phase:        st.Phase,
		Deadline:     deadline,
		ActivePowers: active,
	})
	log.Debug().Str("gameId", o.gameID).
		Int("year", st.Year).Str("season", string(st.Season)).
		Str("phase", string(st.Phase)).Time("deadline", deadline).
		Int("activePowers", len(active)).
		Msg("Phase started")

	o.mu.Unlock()
	o.flush()
	return nil
}

// armTimersLocked starts the deadline timer and, when the nudge lead fits
// inside the phase duration, the nudge timer.
func (o *Orchestrator) armTimersLocked(remaining, nudgeBefore time.Duration) {
	o.phaseSeq++
	seq := o.phaseSeq

	o.deadlineTimer = time.AfterFunc(remaining, func() { o.onDeadline(seq) })
	if nudgeBefore > 0 && nudgeBefore < o.cfg.PhaseDuration(o.phase.Phase) && !o.phase.NudgeSent {
		lead := remaining - nudgeBefore
		if lead < 0 {
			lead = 0
		}
		o.nudgeTimer = time.AfterFunc(lead, func() { o.onNudge(seq) })
	}
}

// RecordSubmission marks a power's orders as received. When the last active
// power submits it emits ALL_ORDERS_RECEIVED and, if configured, triggers
// auto-resolution immediately or after the minimum phase floor.
func (o *Orchestrator) RecordSubmission(st *engine.State, power model.Power, orderCount int) error {
	o.mu.Lock()
	if o.phase == nil {
		o.mu.Unlock()
		return ErrNoActivePhase
	}
	sub := o.phase.Submission(power)
	if sub == nil {
		o.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownPower, power)
	}

	now := o.now()
	sub.Submitted = true
	sub.SubmittedAt = &now
	sub.OrderCount = orderCount

	if h, ok := o.agents[power]; ok {
		h.MissedDeadlines = 0
		h.IsResponsive = true
		h.LastActivity = now
	}

	o.emitLocked(event.TypeOrdersSubmitted, event.OrdersSubmitted{
		Power:      power,
		OrderCount: orderCount,
	})

	var resolveNow bool
	if o.phase.AllSubmitted() && !o.allReceivedSent {
		o.allReceivedSent = true
		o.emitLocked(event.TypeAllOrdersReceived, event.AllOrdersReceived{
			Year:   o.phase.Year,
			Season: o.phase.Season,
			Phase:  o.phase.Phase,
		})

		if o.cfg.AutoResolveOnComplete && o.autoResolve != nil {
			elapsed := now.Sub(o.phase.StartedAt)
			if elapsed >= o.cfg.MinPhaseDuration {
				resolveNow = true
			} else {
				seq := o.phaseSeq
				o.resolveTimer = time.AfterFunc(o.cfg.MinPhaseDuration-elapsed, func() {
					o.onResolveFloor(seq)
				})
			}
		}
	}

	cb := o.autoResolve
	o.mu.Unlock()
	o.flush()
	if resolveNow && cb != nil {
		cb()
	}
	return nil
}

// onResolveFloor fires when the minimum phase floor elapses after all powers
// submitted early.
func (o *Orchestrator) onResolveFloor(seq int) {
	o.mu.Lock()
	stale := seq != o.phaseSeq || o.phase == nil
	cb := o.autoResolve
	o.mu.Unlock()
	if stale || cb == nil {
		return
	}
	cb()
}

// onNudge fires at deadline minus the nudge lead.
func (o *Orchestrator) onNudge(seq int) {
	o.mu.Lock()
	if seq != o.phaseSeq || o.phase == nil || o.phase.AllSubmitted() {
		o.mu.Unlock()
		return
	}
	o.nudgeLocked()
	o.mu.Unlock()
	o.flush()
}

// nudgeLocked emits PHASE_ENDING_SOON plus one AGENT_NUDGED per pending power.
func (o *Orchestrator) nudgeLocked() {
	if o.phase.NudgeSent {
		return
	}
	o.phase.NudgeSent = true

	pending := o.phase.PendingPowers()
	remaining := o.phase.Deadline.Sub(o.now())
	if remaining < 0 {
		remaining = 0
	}
	o.emitLocked(event.TypePhaseEndingSoon, event.PhaseEndingSoon{
		Year:          o.phase.Year,
		Season:        o.phase.Season,
		Phase:         o.phase.Phase,
		Deadline:      o.phase.Deadline,
		TimeRemaining: remaining,
		PendingPowers: pending,
	})
	for _, p := range pending {
		o.emitLocked(event.TypeAgentNudged, event.AgentNudged{
			Power:         p,
			Deadline:      o.phase.Deadline,
			TimeRemaining: remaining,
		})
	}
	log.Debug().Str("gameId", o.gameID).Int("pending", len(pending)).Msg("Nudge sent")
}

// onDeadline fires when the phase deadline passes.
func (o *Orchestrator) onDeadline(seq int) {
	o.mu.Lock()
	if seq != o.phaseSeq || o.phase == nil || o.phase.DeadlineHandled {
		o.mu.Unlock()
		return
	}
	resolveNow := o.handleDeadlineLocked()
	cb := o.autoResolve
	o.mu.Unlock()
	o.flush()
	if resolveNow && cb != nil {
		cb()
	}
}

// handleDeadlineLocked processes every unsubmitted power: timeout event,
// agent bookkeeping, and (when configured) default-order substitution.
// Latches DeadlineHandled so a resume or forced deadline cannot replay it.
// Returns whether auto-resolution should follow.
func (o *Orchestrator) handleDeadlineLocked() bool {
	o.phase.DeadlineHandled = true
	timeout := o.phase.PendingPowers()

	action := timeoutActionNone
	if o.cfg.AutoHoldOnTimeout {
		action = timeoutActionAutoHold
	}

	for _, p := range timeout {
		o.emitLocked(event.TypeAgentTimeout, event.AgentTimeout{
			Power:  p,
			Phase:  o.phase.Phase,
			Action: action,
		})
		if h, ok := o.agents[p]; ok {
			h.MissedDeadlines++
			h.IsResponsive = false
			if h.MissedDeadlines >= o.cfg.MaxMissedDeadlines {
				o.emitLocked(event.TypeAgentInactive, event.AgentInactive{
					Power:           p,
					MissedDeadlines: h.MissedDeadlines,
				})
			}
		}

		if o.cfg.AutoHoldOnTimeout {
			n, err := o.submitDefaultsLocked(p)
			if err != nil {
				o.emitLocked(event.TypeError, event.Error{
					Kind:    "engine_failure",
					Message: err.Error(),
				})
				log.Error().Err(err).Str("gameId", o.gameID).Str("power", string(p)).
					Msg("Default order submission failed")
				continue
			}
			sub := o.phase.Submission(p)
			sub.Submitted = true
			now := o.now()
			sub.SubmittedAt = &now
			sub.OrderCount = n
		}
	}

	o.emitLocked(event.TypePhaseEnded, event.PhaseEnded{
		Year:          o.phase.Year,
		Season:        o.phase.Season,
		Phase:         o.phase.Phase,
		TimeoutPowers: timeout,
	})
	log.Info().Str("gameId", o.gameID).Int("timeouts", len(timeout)).
		Str("phase", string(o.phase.Phase)).Msg("Phase deadline passed")

	return o.cfg.AutoHoldOnTimeout && o.cfg.AutoResolveOnComplete && o.phase.AllSubmitted()
}

// submitDefaultsLocked submits the canonical safe orders for a timed-out
// power and returns the order count.
func (o *Orchestrator) submitDefaultsLocked(p model.Power) (int, error) {
	st := o.state
	switch o.phase.Phase {
	case model.PhaseRetreat:
		var orders []engine.RetreatOrder
		for _, d := range st.DislodgedOf(p) {
			orders = append(orders, engine.RetreatOrder{Location: d.DislodgedFrom})
		}
		return len(orders), o.eng.SubmitRetreat(st, p, orders)
	case model.PhaseBuild:
		n := st.PendingBuilds[p]
		if n >= 0 {
			// Waive all builds.
			return 0, o.eng.SubmitBuild(st, p, nil)
		}
		units := st.UnitsOf(p)
		count := -n
		if count > len(units) {
			count = len(units)
		}
		var orders []engine.BuildOrder
		for _, u := range units[:count] {
			orders = append(orders, engine.BuildOrder{
				Type:     "disband",
				UnitType: u.Type,
				Location: u.Province,
				Coast:    u.Coast,
			})
		}
		return len(orders), o.eng.SubmitBuild(st, p, orders)
	default:
		var orders []engine.MovementOrder
		for _, u := range st.UnitsOf(p) {
			orders = append(orders, engine.MovementOrder{
				UnitType: u.Type,
				Location: u.Province,
				Coast:    u.Coast,
				Type:     "hold",
			})
		}
		return len(orders), o.eng.SubmitMovement(st, p, orders)
	}
}

// DefaultOrderCount returns how many default orders a power would receive in
// the state's current phase. Used by agent runners that fall back to defaults
// after LLM exhaustion.
func DefaultOrderCount(st *engine.State, p model.Power) int {
	switch st.Phase {
	case model.PhaseRetreat:
		return len(st.DislodgedOf(p))
	case model.PhaseBuild:
		if n := st.PendingBuilds[p]; n < 0 {
			if -n > len(st.UnitsOf(p)) {
				return len(st.UnitsOf(p))
			}
			return -n
		}
		return 0
	default:
		return len(st.UnitsOf(p))
	}
}

// ResolvePhase invokes the rules-engine resolver for the current phase,
// diffs supply-center ownership, emits ORDERS_RESOLVED, and clears the phase.
// The caller is responsible for starting the next phase.
func (o *Orchestrator) ResolvePhase(st *engine.State) (*model.ResolutionSummary, error) {
	o.mu.Lock()
	if o.phase == nil {
		o.mu.Unlock()
		return nil, ErrNoActivePhase
	}
	ps := o.phase

	before := make(map[string]model.Power, len(st.SupplyCenters))
	for prov, owner := range st.SupplyCenters {
		before[prov] = owner
	}

	var (
		res *engine.Resolution
		err error
	)
	switch ps.Phase {
	case model.PhaseRetreat:
		res, err = o.eng.ResolveRetreats(st)
	case model.PhaseBuild:
		res, err = o.eng.ResolveBuilds(st)
	default:
		res, err = o.eng.ResolveMovement(st)
	}
	if err != nil {
		o.emitLocked(event.TypeError, event.Error{
			Kind:    "engine_failure",
			Message: err.Error(),
		})
		o.mu.Unlock()
		o.flush()
		return nil, fmt.Errorf("resolve %s: %w", ps.Phase, err)
	}

	summary := &model.ResolutionSummary{
		SuccessfulMoves: res.SuccessfulMoves,
		FailedMoves:     res.FailedMoves,
		DislodgedUnits:  res.DislodgedUnits,
		UnitsBuilt:      res.UnitsBuilt,
		UnitsDisbanded:  res.UnitsDisbanded,
		SupplyChanges:   supplyDiff(before, st.SupplyCenters),
	}

	o.clearTimersLocked()
	o.phase = nil

	o.emitLocked(event.TypeOrdersResolved, event.OrdersResolved{
		Year:    ps.Year,
		Season:  ps.Season,
		Phase:   ps.Phase,
		Summary: *summary,
	})
	log.Info().Str("gameId", o.gameID).
		Int("year", ps.Year).Str("season", string(ps.Season)).
		Str("phase", string(ps.Phase)).
		Int("succeeded", summary.SuccessfulMoves).
		Int("failed", summary.FailedMoves).
		Msg("Phase resolved")

	o.mu.Unlock()
	o.flush()
	return summary, nil
}

// supplyDiff lists centers whose owner changed between two snapshots.
func supplyDiff(before, after map[string]model.Power) []model.SupplyChange {
	var changes []model.SupplyChange
	for prov, owner := range after {
		if prev := before[prov]; prev != owner {
			changes = append(changes, model.SupplyChange{Province: prov, From: prev, To: owner})
		}
	}
	for prov, prev := range before {
		if _, still := after[prov]; !still {
			changes = append(changes, model.SupplyChange{Province: prov, From: prev})
		}
	}
	return changes
}

// ForceDeadline runs deadline handling immediately, as if the timer fired.
// A no-op when the phase's deadline was already handled.
func (o *Orchestrator) ForceDeadline() error {
	o.mu.Lock()
	if o.phase == nil {
		o.mu.Unlock()
		return ErrNoActivePhase
	}
	if o.phase.DeadlineHandled {
		o.mu.Unlock()
		return nil
	}
	o.clearTimersLocked()
	resolveNow := o.handleDeadlineLocked()
	cb := o.autoResolve
	o.mu.Unlock()
	o.flush()
	if resolveNow && cb != nil {
		cb()
	}
	return nil
}

// Pause cancels all timers but preserves the phase status, including the
// nudge flag, so Resume can pick up where the phase left off.
func (o *Orchestrator) Pause() {
	o.mu.Lock()
	o.clearTimersLocked()
	o.mu.Unlock()
}

// Resume rearms timers from the preserved deadline. If the deadline already
// passed while paused, deadline handling runs immediately unless it was
// handled before the pause.
func (o *Orchestrator) Resume(st *engine.State) {
	o.mu.Lock()
	if o.phase == nil {
		o.mu.Unlock()
		return
	}
	o.state = st
	remaining := o.phase.Deadline.Sub(o.now())
	if remaining <= 0 {
		if o.phase.DeadlineHandled {
			o.mu.Unlock()
			return
		}
		resolveNow := o.handleDeadlineLocked()
		cb := o.autoResolve
		o.mu.Unlock()
		o.flush()
		if resolveNow && cb != nil {
			cb()
		}
		return
	}

	o.phaseSeq++
	seq := o.phaseSeq
	o.deadlineTimer = time.AfterFunc(remaining, func() { o.onDeadline(seq) })
	if !o.phase.NudgeSent && o.cfg.NudgeBeforeDeadline > 0 && o.cfg.NudgeBeforeDeadline < o.cfg.PhaseDuration(o.phase.Phase) {
		lead := remaining - o.cfg.NudgeBeforeDeadline
		if lead < 0 {
			lead = 0
		}
		o.nudgeTimer = time.AfterFunc(lead, func() { o.onNudge(seq) })
	}
	o.mu.Unlock()
}

// ClearTimers cancels all timers. Safe to call repeatedly.
func (o *Orchestrator) ClearTimers() {
	o.mu.Lock()
	o.clearTimersLocked()
	o.mu.Unlock()
}

func (o *Orchestrator) clearTimersLocked() {
	o.phaseSeq++
	if o.deadlineTimer != nil {
		o.deadlineTimer.Stop()
		o.deadlineTimer = nil
	}
	if o.nudgeTimer != nil {
		o.nudgeTimer.Stop()
		o.nudgeTimer = nil
	}
	if o.resolveTimer != nil {
		o.resolveTimer.Stop()
		o.resolveTimer = nil
	}
}

// ClearPhase drops the live phase bookkeeping, for session teardown.
func (o *Orchestrator) ClearPhase() {
	o.mu.Lock()
	o.clearTimersLocked()
	o.phase = nil
	o.mu.Unlock()
}

// PhaseStatus returns a copy of the live phase bookkeeping, or nil.
func (o *Orchestrator) PhaseStatus() *model.PhaseStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.phase.Clone()
}

// RestorePhase installs phase bookkeeping from a snapshot without arming any
// timers. The caller must Resume to rearm them.
func (o *Orchestrator) RestorePhase(ps *model.PhaseStatus, st *engine.State) {
	o.mu.Lock()
	o.phase = ps.Clone()
	o.state = st
	o.allReceivedSent = ps.AllSubmitted()
	o.mu.Unlock()
}

// RegisterAgent binds an agent handle to a power, replacing any previous one.
func (o *Orchestrator) RegisterAgent(h model.AgentHandle) {
	o.mu.Lock()
	cp := h
	o.agents[h.Power] = &cp
	o.mu.Unlock()
}

// Agent returns a copy of the handle registered for a power.
func (o *Orchestrator) Agent(p model.Power) (model.AgentHandle, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	h, ok := o.agents[p]
	if !ok {
		return model.AgentHandle{}, false
	}
	return *h, true
}

// Agents returns copies of all registered handles in canonical power order.
func (o *Orchestrator) Agents() []model.AgentHandle {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []model.AgentHandle
	for _, p := range model.AllPowers {
		if h, ok := o.agents[p]; ok {
			out = append(out, *h)
		}
	}
	return out
}

// MarkAgentActive records explicit agent activity.
func (o *Orchestrator) MarkAgentActive(p model.Power) {
	o.mu.Lock()
	if h, ok := o.agents[p]; ok {
		h.IsResponsive = true
		h.LastActivity = o.now()
	}
	o.mu.Unlock()
}

// Config returns a copy of the live configuration.
func (o *Orchestrator) Config() model.OrchestratorConfig {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cfg
}

// UpdateConfig applies a partial configuration update. Running timers are
// not rearmed; the new values take effect from the next phase.
func (o *Orchestrator) UpdateConfig(patch model.ConfigPatch) {
	o.mu.Lock()
	o.cfg = patch.Apply(o.cfg)
	o.mu.Unlock()
}

// SetAutoResolve installs the callback invoked when a completed phase is
// ready to resolve. Typically the owning session's ResolvePhase.
func (o *Orchestrator) SetAutoResolve(cb func()) {
	o.mu.Lock()
	o.autoResolve = cb
	o.mu.Unlock()
}

// ShouldAutoResolve reports whether the current phase is complete and past
// the minimum floor.
func (o *Orchestrator) ShouldAutoResolve() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cfg.AutoResolveOnComplete &&
		o.phase != nil &&
		o.phase.AllSubmitted() &&
		o.now().Sub(o.phase.StartedAt) >= o.cfg.MinPhaseDuration
}

// emitLocked queues an event for publication once the lock is released.
func (o *Orchestrator) emitLocked(t event.Type, payload any) {
	o.pending = append(o.pending, event.Event{
		Type:      t,
		GameID:    o.gameID,
		Timestamp: o.now(),
		Payload:   payload,
	})
}

// flush publishes queued events in emission order.
func (o *Orchestrator) flush() {
	o.mu.Lock()
	queued := o.pending
	o.pending = nil
	o.mu.Unlock()
	for _, e := range queued {
		o.bus.Publish(e)
	}
}
